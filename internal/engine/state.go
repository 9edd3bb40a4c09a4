package engine

import (
	"slices"
	"time"
)

// Phase is where the tick handler is within one step.
type Phase int

const (
	WaitingTick Phase = iota
	StepFired
	PatternBoundary
)

func (p Phase) String() string {
	switch p {
	case WaitingTick:
		return "waiting_tick"
	case StepFired:
		return "step_fired"
	case PatternBoundary:
		return "pattern_boundary"
	}
	return "unknown"
}

// TrackState is a copy of one track at snapshot time.
type TrackState struct {
	Name       string
	Slots      []uint8
	Idx        int
	Len        int
	SamplePath string
	Choke      int
}

// PatternInfo names a pattern.
type PatternInfo struct {
	ID   int
	Name string
}

// State is an immutable snapshot of the sequencer. Nothing in it aliases
// engine-owned memory.
type State struct {
	Tempo              int
	Tracks             []TrackState
	Division           int
	DefaultTrackLength int
	Latency            time.Duration
	Overruns           uint64
	Playing            bool
	Step               int // step fired last, -1 while stopped
	PatternID          int
	PatternLen         int
	PatternName        string
	PatternCount       int
	Patterns           []PatternInfo
	QueuedPatternID    int
	Swing              int
	LastCommand        string
}

// Clone returns a deep copy of s. Every reader gets its own copy, so no
// two readers share slot or pattern slices.
func (s State) Clone() State {
	c := s
	c.Tracks = make([]TrackState, len(s.Tracks))
	for i, t := range s.Tracks {
		t.Slots = slices.Clone(t.Slots)
		c.Tracks[i] = t
	}
	c.Patterns = slices.Clone(s.Patterns)
	return c
}

// FileType tells which listing a FileState carries.
type FileType string

const (
	FilePattern FileType = "PATTERN"
	FileSample  FileType = "SAMPLE"
)

// FileState is a pattern or sample listing.
type FileState struct {
	Type  FileType
	Files []string
}

func (e *Engine) snapshot() State {
	cur := e.set.Current()
	s := State{
		Tempo:              e.tempo,
		Tracks:             make([]TrackState, len(cur.Tracks)),
		Division:           cur.Division,
		DefaultTrackLength: cur.Length,
		Latency:            e.latency,
		Overruns:           e.overruns,
		Playing:            e.playing,
		Step:               e.step,
		PatternID:          cur.ID,
		PatternLen:         cur.MasterLength(),
		PatternName:        cur.Name,
		PatternCount:       e.set.Len(),
		QueuedPatternID:    e.set.QueuedID(),
		Swing:              cur.Swing,
		LastCommand:        e.lastCmd,
	}
	for i, t := range cur.Tracks {
		s.Tracks[i] = TrackState{
			Name:       t.Name,
			Slots:      slices.Clone(t.Slots),
			Idx:        t.Idx,
			Len:        t.Len(),
			SamplePath: t.Sample,
			Choke:      t.Choke,
		}
	}
	for _, id := range e.set.IDs() {
		p, _ := e.set.Get(id)
		s.Patterns = append(s.Patterns, PatternInfo{ID: id, Name: p.Name})
	}
	return s
}

// consistent reports whether every track in s satisfies the slot and
// playhead invariants.
func (s State) consistent() bool {
	for _, t := range s.Tracks {
		if t.Len < 1 || t.Len != len(t.Slots) || t.Idx < 0 || t.Idx >= t.Len {
			return false
		}
	}
	return true
}
