// Package midiclock sends MIDI beat clock that follows the sequencer
// transport: Start on play, Stop on stop and 24 timing pulses per quarter
// note spread evenly across each step.
package midiclock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
)

// PPQN is the MIDI clock resolution in pulses per quarter note.
const PPQN = 24

// PulsesPerStep returns the timing pulses that make up one step of the
// given division (steps per whole note).
func PulsesPerStep(division int) int {
	if division <= 0 {
		return 0
	}
	return max(1, PPQN*4/division)
}

type kind int

const (
	evStart kind = iota
	evStop
	evStep
)

type event struct {
	kind     kind
	at       time.Time
	interval time.Duration
	pulses   int
}

// Clock is an engine.Follower. Its methods never block; Run does the
// sending.
type Clock struct {
	send    func(midi.Message) error
	log     *log.Logger
	events  chan event
	dropped atomic.Uint64
}

// New creates a clock writing through send.
func New(send func(midi.Message) error, logger *log.Logger) *Clock {
	return &Clock{
		send:   send,
		log:    logger.With("component", "midiclock"),
		events: make(chan event, 16),
	}
}

// Open finds the named MIDI output port and returns a clock sending to it.
// A MIDI driver must already be registered.
func Open(port string, logger *log.Logger) (*Clock, error) {
	out, err := midi.FindOutPort(port)
	if err != nil {
		return nil, fmt.Errorf("find MIDI port %q: %w", port, err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("open MIDI port %q: %w", port, err)
	}
	logger.Info("MIDI clock output", "port", out.String())
	return New(send, logger), nil
}

func (c *Clock) Start() { c.post(event{kind: evStart}) }
func (c *Clock) Stop()  { c.post(event{kind: evStop}) }

// Step schedules the pulses for one step starting now.
func (c *Clock) Step(interval time.Duration, division int) {
	c.post(event{kind: evStep, at: time.Now(), interval: interval, pulses: PulsesPerStep(division)})
}

// Dropped returns how many events were discarded because Run fell behind.
func (c *Clock) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Clock) post(ev event) {
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Run sends MIDI messages until ctx is cancelled. Pulses left over from a
// step are flushed when the next step arrives so the pulse count per step
// stays exact.
func (c *Clock) Run(ctx context.Context) error {
	var (
		pending int
		next    time.Time
		gap     time.Duration
	)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-c.events:
			switch ev.kind {
			case evStart:
				pending = 0
				timer.Stop()
				c.emit(midi.Start())
			case evStop:
				pending = 0
				timer.Stop()
				c.emit(midi.Stop())
			case evStep:
				for ; pending > 0; pending-- {
					c.emit(midi.TimingClock())
				}
				if ev.pulses == 0 {
					continue
				}
				c.emit(midi.TimingClock())
				pending = ev.pulses - 1
				if pending > 0 {
					gap = ev.interval / time.Duration(ev.pulses)
					next = ev.at.Add(gap)
					timer.Reset(time.Until(next))
				}
			}

		case <-timer.C:
			if pending == 0 {
				continue
			}
			c.emit(midi.TimingClock())
			pending--
			if pending > 0 {
				next = next.Add(gap)
				timer.Reset(time.Until(next))
			}
		}
	}
}

func (c *Clock) emit(msg midi.Message) {
	if err := c.send(msg); err != nil {
		c.log.Debug("send failed", "msg", msg.String(), "err", err)
	}
}
