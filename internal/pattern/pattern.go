package pattern

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

const (
	MaxVelocity     = 127
	MinLength       = 1
	MaxLength       = 64
	DefaultLength   = 8
	DefaultDivision = 8
	MaxSwing        = 100
	MaxChoke        = 16
)

// Divisions lists the allowed step subdivisions, whole notes through 32nds.
var Divisions = []int{1, 2, 3, 4, 6, 8, 12, 16, 24, 32}

var (
	ErrUnknownPattern = errors.New("unknown pattern")
	ErrUnknownTrack   = errors.New("unknown track")
	ErrUnknownSlot    = errors.New("unknown slot")
	ErrLastPattern    = errors.New("cannot remove the last pattern")
	ErrPatternPlaying = errors.New("cannot remove the playing pattern")
	ErrInvalid        = errors.New("invalid pattern")
)

// ValidDivision reports whether d is one of Divisions.
func ValidDivision(d int) bool {
	return slices.Contains(Divisions, d)
}

// Track is one looping lane of velocity slots bound to a sample.
type Track struct {
	Name   string
	Slots  []uint8
	Idx    int
	Sample string
	Choke  int // 0 = no choke group
}

// NewTrack creates a silent track of the given length.
func NewTrack(name, sample string, length int) *Track {
	if name == "" {
		name = NameFromSample(sample)
	}
	return &Track{
		Name:   name,
		Slots:  make([]uint8, length),
		Sample: sample,
	}
}

// NameFromSample derives a display name from a sample path: the file name
// without its extension.
func NameFromSample(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return "track"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Len returns the track's own loop length.
func (t *Track) Len() int {
	return len(t.Slots)
}

// Current returns the velocity at the playhead.
func (t *Track) Current() uint8 {
	return t.Slots[t.Idx]
}

// Advance moves the playhead one slot, wrapping at the track length.
func (t *Track) Advance() {
	t.Idx = (t.Idx + 1) % len(t.Slots)
}

// Resize truncates or zero-pads the slots to n entries. Values below
// min(old, n) are kept and the playhead is wrapped into range.
func (t *Track) Resize(n int) {
	if n == len(t.Slots) {
		return
	}
	slots := make([]uint8, n)
	copy(slots, t.Slots)
	t.Slots = slots
	t.Idx %= n
}

// Clear zeroes every slot.
func (t *Track) Clear() {
	clear(t.Slots)
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	c := *t
	c.Slots = slices.Clone(t.Slots)
	return &c
}

// Pattern is a named set of tracks played together as one loop.
type Pattern struct {
	ID       int
	Name     string
	Length   int
	Division int
	Swing    int
	Tracks   []*Track
}

// New creates an empty pattern.
func New(id int, name string, length, division int) *Pattern {
	return &Pattern{
		ID:       id,
		Name:     name,
		Length:   length,
		Division: division,
	}
}

// DefaultName returns the display name given to the pattern with this id.
func DefaultName(id int) string {
	return fmt.Sprintf("Pattern %d", id+1)
}

// MasterLength is the longest track length, or the nominal length when the
// pattern has no tracks. A pattern boundary falls every MasterLength steps.
func (p *Pattern) MasterLength() int {
	n := 0
	for _, t := range p.Tracks {
		n = max(n, t.Len())
	}
	if n == 0 {
		return p.Length
	}
	return n
}

// Track returns the track at index i.
func (p *Pattern) Track(i int) (*Track, error) {
	if i < 0 || i >= len(p.Tracks) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTrack, i)
	}
	return p.Tracks[i], nil
}

// AddTrack appends a silent track at the nominal length.
func (p *Pattern) AddTrack(sample string) *Track {
	t := NewTrack("", sample, p.Length)
	p.Tracks = append(p.Tracks, t)
	return t
}

// SetLength sets the nominal length and resizes every track to it.
func (p *Pattern) SetLength(n int) {
	p.Length = n
	for _, t := range p.Tracks {
		t.Resize(n)
	}
}

// Rewind moves every playhead to slot 0.
func (p *Pattern) Rewind() {
	for _, t := range p.Tracks {
		t.Idx = 0
	}
}

// Clone returns a deep copy of the pattern.
func (p *Pattern) Clone() *Pattern {
	c := *p
	c.Tracks = make([]*Track, len(p.Tracks))
	for i, t := range p.Tracks {
		c.Tracks[i] = t.Clone()
	}
	return &c
}

// ValidSample reports whether path can name a sample: empty, or a local
// path that stays inside the samples directory.
func ValidSample(path string) bool {
	return path == "" || filepath.IsLocal(path)
}

// Validate checks every field is in range. Loaded patterns must pass this
// before they replace live state.
func (p *Pattern) Validate() error {
	if p.Length < MinLength || p.Length > MaxLength {
		return fmt.Errorf("%w: length %d out of range %d-%d", ErrInvalid, p.Length, MinLength, MaxLength)
	}
	if !ValidDivision(p.Division) {
		return fmt.Errorf("%w: division %d", ErrInvalid, p.Division)
	}
	if p.Swing < 0 || p.Swing > MaxSwing {
		return fmt.Errorf("%w: swing %d out of range 0-%d", ErrInvalid, p.Swing, MaxSwing)
	}
	for i, t := range p.Tracks {
		if t == nil {
			return fmt.Errorf("%w: track %d is empty", ErrInvalid, i)
		}
		if t.Len() < MinLength || t.Len() > MaxLength {
			return fmt.Errorf("%w: track %d length %d out of range %d-%d", ErrInvalid, i, t.Len(), MinLength, MaxLength)
		}
		for j, v := range t.Slots {
			if v > MaxVelocity {
				return fmt.Errorf("%w: track %d slot %d velocity %d", ErrInvalid, i, j, v)
			}
		}
		if t.Choke < 0 || t.Choke > MaxChoke {
			return fmt.Errorf("%w: track %d choke group %d out of range 0-%d", ErrInvalid, i, t.Choke, MaxChoke)
		}
		if !ValidSample(t.Sample) {
			return fmt.Errorf("%w: track %d sample %q outside the samples directory", ErrInvalid, i, t.Sample)
		}
	}
	return nil
}
