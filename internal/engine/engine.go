// Package engine runs the sequencer: one goroutine owns every pattern and
// all transport state, and applies clock ticks and commands in turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/satindergrewal/drumseq/internal/audio"
	"github.com/satindergrewal/drumseq/internal/clock"
	"github.com/satindergrewal/drumseq/internal/pattern"
)

// Storage persists patterns and lists files.
type Storage interface {
	ListPatterns() ([]string, error)
	ListSamples() ([]string, error)
	Save(p *pattern.Pattern) (string, error)
	Load(name string) (*pattern.Pattern, error)
}

// SampleBank resolves sample paths to decoded audio.
type SampleBank interface {
	Load(ctx context.Context, path string) (*audio.Sample, error)
	Get(path string) (*audio.Sample, bool)
}

// Voices starts sample playback. Trigger must not block.
type Voices interface {
	Trigger(t audio.Trigger) bool
}

// Publisher delivers snapshots to listeners. Both methods must return
// without waiting on any listener.
type Publisher interface {
	SendState(s State)
	SendFileState(f FileState)
}

// Follower is told about transport changes, e.g. to drive an external
// clock. Step is called once per fired step with the step's duration and
// the current division.
type Follower interface {
	Start()
	Stop()
	Step(interval time.Duration, division int)
}

// Handler processes one command. Controllers are given the engine's Do.
type Handler func(ctx context.Context, cmd Command) error

// Options configures an Engine.
type Options struct {
	Tempo         int
	Division      int
	Swing         int
	DefaultLength int
	TickBudget    time.Duration // ticks slower than this count as overruns

	Storage   Storage
	Bank      SampleBank
	Voices    Voices
	Publisher Publisher
	Follower  Follower
	Logger    *log.Logger
}

type request struct {
	ctx  context.Context
	cmd  Command
	done chan error
}

// Engine is the sequencer actor. Create it with New and start it with Run;
// every other method is safe for concurrent use.
type Engine struct {
	clock    *clock.Clock
	set      *pattern.TrackSet
	store    Storage
	bank     SampleBank
	voices   Voices
	pub      Publisher
	follower Follower
	log      *log.Logger
	budget   time.Duration

	// owned by the Run goroutine
	tempo    int
	playing  bool
	step     int
	latency  time.Duration
	overruns uint64
	lastCmd  string
	phase    Phase
	onPhase  func(Phase, *pattern.TrackSet)

	cmds  chan request
	ticks chan clock.Tick
	state atomic.Pointer[State]
}

// New creates a stopped engine holding one empty pattern. The start-up
// tempo and pattern settings must pass the same bounds as the commands that
// change them.
func New(opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Follower == nil {
		opts.Follower = nopFollower{}
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.TickBudget <= 0 {
		opts.TickBudget = time.Millisecond
	}

	first := pattern.New(0, pattern.DefaultName(0), opts.DefaultLength, opts.Division)
	first.Swing = opts.Swing

	e := &Engine{
		clock:    clock.New(opts.Tempo, opts.Division, opts.Swing),
		set:      pattern.NewTrackSet(first),
		store:    opts.Storage,
		bank:     opts.Bank,
		voices:   opts.Voices,
		pub:      opts.Publisher,
		follower: opts.Follower,
		log:      opts.Logger.With("component", "engine"),
		budget:   opts.TickBudget,
		tempo:    opts.Tempo,
		step:     -1,
		cmds:     make(chan request, 64),
		ticks:    make(chan clock.Tick),
	}
	s := e.snapshot()
	e.state.Store(&s)
	return e, nil
}

func (o Options) validate() error {
	if err := inRange("tempo", o.Tempo, MinTempo, MaxTempo); err != nil {
		return err
	}
	if !pattern.ValidDivision(o.Division) {
		return invalid("division %d not one of %v", o.Division, pattern.Divisions)
	}
	if err := inRange("swing", o.Swing, 0, pattern.MaxSwing); err != nil {
		return err
	}
	if err := inRange("length", o.DefaultLength, MinLength, pattern.MaxLength); err != nil {
		return err
	}
	if o.Storage == nil || o.Bank == nil || o.Voices == nil {
		return invalid("engine needs storage, a sample bank and voices")
	}
	return nil
}

// State returns a copy of the last published snapshot.
func (e *Engine) State() State {
	return e.state.Load().Clone()
}

// Do applies cmd and returns its result. The new state is visible through
// State by the time Do returns.
func (e *Engine) Do(ctx context.Context, cmd Command) error {
	done := make(chan error, 1)
	select {
	case e.cmds <- request{ctx: ctx, cmd: cmd, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run owns the sequencer until ctx is cancelled. It returns nil on
// cancellation and an ErrInvariant error if state was ever found corrupt.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go e.clockLoop(ctx)
	e.log.Info("engine running", "tempo", e.tempo, "division", e.set.Current().Division)

	for {
		select {
		case <-ctx.Done():
			e.clock.Stop()
			if e.playing {
				e.follower.Stop()
			}
			return nil

		case r := <-e.cmds:
			err := e.apply(r.ctx, r.cmd)
			if err != nil {
				if errors.Is(err, ErrInvariant) {
					e.log.Error("command broke an invariant", "cmd", r.cmd.Name(), "err", err)
				} else {
					e.log.Warn("command rejected", "cmd", r.cmd.Name(), "err", err)
				}
			} else {
				e.lastCmd = r.cmd.Name()
				e.log.Debug("command applied", "cmd", e.lastCmd)
			}
			perr := e.publish()
			if perr != nil && err == nil {
				err = perr
			}
			if r.done != nil {
				r.done <- err
			}
			if perr != nil {
				return perr
			}

		case t := <-e.ticks:
			if err := e.tick(t); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) clockLoop(ctx context.Context) {
	for {
		t, err := e.clock.Advance(ctx)
		if err != nil {
			return
		}
		select {
		case e.ticks <- t:
		case <-ctx.Done():
			return
		}
	}
}

// tick fires one step. A queued pattern commits only after the last step
// of the current loop has fired.
func (e *Engine) tick(t clock.Tick) error {
	if !e.playing || t.Epoch != e.clock.Epoch() {
		return nil
	}

	e.setPhase(StepFired)
	e.step = e.set.Position()
	e.set.Step(e.trigger)
	e.follower.Step(e.clock.Interval(), e.set.Current().Division)

	if e.set.AtBoundary() {
		e.setPhase(PatternBoundary)
		if e.set.CommitQueued() {
			e.syncClock()
			e.log.Debug("pattern switched", "id", e.set.CurrentID())
		}
	}
	e.clock.Align(e.set.Position())
	e.setPhase(WaitingTick)

	e.latency = time.Since(t.Deadline)
	if e.latency > e.budget {
		e.overruns++
		e.log.Debug("tick overrun", "step", t.Step, "latency", e.latency)
	}
	return e.publish()
}

func (e *Engine) setPhase(p Phase) {
	e.phase = p
	if e.onPhase != nil {
		e.onPhase(p, e.set)
	}
}

func (e *Engine) publish() error {
	s := e.snapshot()
	if !s.consistent() {
		return fmt.Errorf("%w: pattern %d", ErrInvariant, s.PatternID)
	}
	e.state.Store(&s)
	e.pub.SendState(s.Clone())
	return nil
}

type nopFollower struct{}

func (nopFollower) Start()                  {}
func (nopFollower) Stop()                   {}
func (nopFollower) Step(time.Duration, int) {}

type nopPublisher struct{}

func (nopPublisher) SendState(State)         {}
func (nopPublisher) SendFileState(FileState) {}
