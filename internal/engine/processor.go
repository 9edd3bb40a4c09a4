package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/ftag"

	"github.com/satindergrewal/drumseq/internal/audio"
	"github.com/satindergrewal/drumseq/internal/clock"
	"github.com/satindergrewal/drumseq/internal/pattern"
)

// Command bounds.
const (
	MinTempo  = clock.MinTempo
	MaxTempo  = clock.MaxTempo
	MaxChoke  = pattern.MaxChoke
	MinLength = pattern.MinLength
)

// apply validates cmd against the current state and mutates it. A non-nil
// error means nothing changed.
func (e *Engine) apply(ctx context.Context, cmd Command) error {
	cur := e.set.Current()

	switch c := cmd.(type) {
	case Play:
		if e.playing {
			return nil
		}
		e.playing = true
		e.set.CommitQueued()
		e.set.Rewind()
		e.syncClock()
		e.clock.Start(time.Now())
		e.follower.Start()

	case Stop:
		if !e.playing {
			return nil
		}
		e.playing = false
		e.step = -1
		e.clock.Stop()
		e.follower.Stop()

	case SetTempo:
		if err := inRange("tempo", c.BPM, MinTempo, MaxTempo); err != nil {
			return err
		}
		e.tempo = c.BPM
		e.clock.SetTempo(c.BPM)

	case SetPattern:
		if err := e.set.Jump(c.ID); err != nil {
			return rejected(err)
		}
		e.syncClock()

	case SetDivision:
		if !pattern.ValidDivision(c.Value) {
			return invalid("division %d not one of %v", c.Value, pattern.Divisions)
		}
		cur.Division = c.Value
		e.clock.SetDivision(c.Value)

	case PlaySound:
		t, err := cur.Track(c.Track)
		if err != nil {
			return rejected(err)
		}
		if err := inRange("velocity", c.Velocity, 0, pattern.MaxVelocity); err != nil {
			return err
		}
		e.trigger(c.Track, t, uint8(c.Velocity))

	case SetSlotVelocity:
		t, err := cur.Track(c.Track)
		if err != nil {
			return rejected(err)
		}
		if c.Slot < 0 || c.Slot >= t.Len() {
			return rejected(fmt.Errorf("%w: %d on track %d", pattern.ErrUnknownSlot, c.Slot, c.Track))
		}
		if err := inRange("velocity", c.Velocity, 0, pattern.MaxVelocity); err != nil {
			return err
		}
		t.Slots[c.Slot] = uint8(c.Velocity)

	case AddPattern:
		p := e.set.AddPattern(e.playing)
		e.log.Info("pattern added", "id", p.ID, "queued", e.playing)
		e.syncClock()

	case RemovePattern:
		if err := e.set.RemovePattern(c.ID, e.playing); err != nil {
			return rejected(err)
		}
		e.syncClock()

	case SelectPattern:
		if err := e.set.Select(c.ID, e.playing); err != nil {
			return rejected(err)
		}
		e.syncClock()

	case SetPatternLength:
		if err := inRange("length", c.Length, MinLength, pattern.MaxLength); err != nil {
			return err
		}
		cur.SetLength(c.Length)
		e.set.Reclamp()
		e.clock.Align(e.set.Position())

	case SetTrackLength:
		t, err := cur.Track(c.Track)
		if err != nil {
			return rejected(err)
		}
		if err := inRange("length", c.Length, MinLength, pattern.MaxLength); err != nil {
			return err
		}
		t.Resize(c.Length)
		e.set.Reclamp()
		e.clock.Align(e.set.Position())

	case SetSwing:
		if err := inRange("swing", c.Value, 0, pattern.MaxSwing); err != nil {
			return err
		}
		cur.Swing = c.Value
		e.clock.SetSwing(c.Value)

	case SavePattern:
		name, err := e.store.Save(cur.Clone())
		if err != nil {
			return storageFailed(err, "save pattern")
		}
		e.log.Info("pattern saved", "file", name)
		if err := e.sendFiles(FilePattern); err != nil {
			e.log.Warn("pattern list not refreshed", "err", err)
		}

	case LoadPattern:
		p, err := e.store.Load(c.File)
		if err != nil {
			return storageFailed(err, "load pattern "+c.File)
		}
		for _, t := range p.Tracks {
			if t.Sample == "" {
				continue
			}
			if err := e.loadSample(ctx, t.Sample); err != nil {
				return err
			}
		}
		p.Name = cur.Name
		e.set.Replace(p)
		e.syncClock()
		if e.playing {
			e.follower.Start()
		}
		e.log.Info("pattern loaded", "file", c.File, "tracks", len(p.Tracks))

	case ListPatterns:
		return e.sendFiles(FilePattern)

	case ListSamples:
		return e.sendFiles(FileSample)

	case AddTrack:
		if c.Sample != "" {
			if err := e.loadSample(ctx, c.Sample); err != nil {
				return err
			}
		}
		t := cur.AddTrack(c.Sample)
		if c.Sample == "" {
			t.Name = fmt.Sprintf("Track %d", len(cur.Tracks))
		}

	case SetTrackSample:
		t, err := cur.Track(c.Track)
		if err != nil {
			return rejected(err)
		}
		if c.Path == "" {
			return invalid("sample path is empty")
		}
		if err := e.loadSample(ctx, c.Path); err != nil {
			return err
		}
		t.Sample = c.Path
		t.Name = pattern.NameFromSample(c.Path)

	case SetTrackChoke:
		t, err := cur.Track(c.Track)
		if err != nil {
			return rejected(err)
		}
		if err := inRange("choke group", c.Group, 0, MaxChoke); err != nil {
			return err
		}
		t.Choke = c.Group

	default:
		return fault.Wrap(fmt.Errorf("%w: unhandled command %T", ErrInvariant, cmd), ftag.With(ftag.Internal))
	}
	return nil
}

// syncClock points the clock at the current pattern's timing and loop
// position.
func (e *Engine) syncClock() {
	cur := e.set.Current()
	e.clock.SetTempo(e.tempo)
	e.clock.SetDivision(cur.Division)
	e.clock.SetSwing(cur.Swing)
	e.clock.Align(e.set.Position())
}

// loadSample makes path resident in the bank.
func (e *Engine) loadSample(ctx context.Context, path string) error {
	if !pattern.ValidSample(path) {
		return invalid("sample %q is outside the samples directory", path)
	}
	s, err := e.bank.Load(ctx, path)
	if err != nil {
		return sampleFailed(err, path)
	}
	e.log.Debug("sample ready", "path", path, "duration", s.Duration())
	return nil
}

func (e *Engine) trigger(track int, t *pattern.Track, velocity uint8) {
	if velocity == 0 || t.Sample == "" {
		return
	}
	s, ok := e.bank.Get(t.Sample)
	if !ok {
		return
	}
	if !e.voices.Trigger(audio.Trigger{
		Sample: s,
		Gain:   audio.Gain(velocity),
		Track:  track,
		Choke:  t.Choke,
	}) {
		e.log.Debug("trigger dropped", "track", track)
	}
}

func (e *Engine) sendFiles(ft FileType) error {
	var (
		files []string
		err   error
	)
	switch ft {
	case FilePattern:
		files, err = e.store.ListPatterns()
	case FileSample:
		files, err = e.store.ListSamples()
	}
	if err != nil {
		return storageFailed(err, "list files")
	}
	e.pub.SendFileState(FileState{Type: ft, Files: files})
	return nil
}
