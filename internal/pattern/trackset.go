package pattern

import (
	"fmt"
	"maps"
	"slices"
)

// TrackSet owns every pattern and the current/queued selection. It is not
// safe for concurrent use; the engine is its only owner.
type TrackSet struct {
	patterns map[int]*Pattern
	current  int
	queued   int
	pos      int // steps fired since the last pattern boundary
}

// NewTrackSet creates a set holding first as the current pattern.
func NewTrackSet(first *Pattern) *TrackSet {
	return &TrackSet{
		patterns: map[int]*Pattern{first.ID: first},
		current:  first.ID,
		queued:   first.ID,
	}
}

func (s *TrackSet) Current() *Pattern { return s.patterns[s.current] }
func (s *TrackSet) CurrentID() int    { return s.current }
func (s *TrackSet) QueuedID() int     { return s.queued }
func (s *TrackSet) Len() int          { return len(s.patterns) }

// Position returns how many steps into the current loop the playhead is.
func (s *TrackSet) Position() int { return s.pos }

// IDs returns pattern ids in ascending order.
func (s *TrackSet) IDs() []int {
	return slices.Sorted(maps.Keys(s.patterns))
}

// Get returns the pattern with the given id.
func (s *TrackSet) Get(id int) (*Pattern, error) {
	p, ok := s.patterns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPattern, id)
	}
	return p, nil
}

// AddPattern creates a pattern with the current pattern's tracks and all
// slots cleared. While playing the new pattern is queued, otherwise it
// becomes current immediately.
func (s *TrackSet) AddPattern(playing bool) *Pattern {
	id := slices.Max(s.IDs()) + 1
	p := s.Current().Clone()
	p.ID = id
	p.Name = DefaultName(id)
	for _, t := range p.Tracks {
		t.Clear()
		t.Idx = 0
	}
	s.patterns[id] = p
	if playing {
		s.queued = id
	} else {
		s.switchTo(id)
	}
	return p
}

// RemovePattern deletes a pattern. The last remaining pattern and the
// playing pattern cannot be removed. Removing the current pattern while
// stopped selects the lowest remaining id.
func (s *TrackSet) RemovePattern(id int, playing bool) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	if len(s.patterns) == 1 {
		return ErrLastPattern
	}
	if id == s.current {
		if playing {
			return ErrPatternPlaying
		}
		for _, other := range s.IDs() {
			if other != id {
				s.switchTo(other)
				break
			}
		}
	}
	delete(s.patterns, id)
	if s.queued == id {
		s.queued = s.current
	}
	return nil
}

// Select queues id while playing and switches to it immediately otherwise.
func (s *TrackSet) Select(id int, playing bool) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	if playing {
		s.queued = id
		return nil
	}
	s.switchTo(id)
	return nil
}

// Jump switches to id immediately, between steps, regardless of transport.
func (s *TrackSet) Jump(id int) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	s.switchTo(id)
	return nil
}

// Replace swaps the current pattern's content for p, keeping the current id.
func (s *TrackSet) Replace(p *Pattern) {
	p.ID = s.current
	p.Rewind()
	s.patterns[s.current] = p
	s.queued = s.current
	s.pos = 0
}

// Step fires the slot under every playhead with a non-zero velocity, then
// advances each playhead by one.
func (s *TrackSet) Step(fire func(track int, t *Track, velocity uint8)) {
	cur := s.Current()
	for i, t := range cur.Tracks {
		if v := t.Current(); v > 0 {
			fire(i, t, v)
		}
		t.Advance()
	}
	s.pos++
	if s.pos >= cur.MasterLength() {
		s.pos = 0
	}
}

// AtBoundary reports whether the next step starts a new loop of the current
// pattern.
func (s *TrackSet) AtBoundary() bool {
	return s.pos == 0
}

// CommitQueued makes the queued pattern current. It reports whether a switch
// happened. Callers must only commit at a boundary.
func (s *TrackSet) CommitQueued() bool {
	if s.queued == s.current {
		return false
	}
	if _, ok := s.patterns[s.queued]; !ok {
		s.queued = s.current
		return false
	}
	s.switchTo(s.queued)
	return true
}

// Rewind moves the current pattern back to its first step.
func (s *TrackSet) Rewind() {
	s.pos = 0
	s.Current().Rewind()
}

// Reclamp keeps the loop position valid after a length change.
func (s *TrackSet) Reclamp() {
	if n := s.Current().MasterLength(); s.pos >= n {
		s.pos %= n
	}
}

func (s *TrackSet) switchTo(id int) {
	s.current = id
	s.queued = id
	s.Rewind()
}
