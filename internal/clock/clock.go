// Package clock schedules sequencer steps from tempo, division and swing.
package clock

import (
	"context"
	"sync"
	"time"
)

// Tempo bounds in BPM.
const (
	MinTempo = 20
	MaxTempo = 300
)

// Tick is one fired step.
type Tick struct {
	Step     int
	Deadline time.Time
	Epoch    uint64
}

// Interval returns the on-grid duration of one step: (60/tempo)/(division/4)
// seconds.
func Interval(tempo, division int) time.Duration {
	return 4 * time.Minute / time.Duration(tempo*division)
}

// SwingOffset returns how far an odd step is pushed behind the grid. The
// curve is linear in swing and always lands strictly before the next step.
func SwingOffset(interval time.Duration, swing int) time.Duration {
	off := interval * time.Duration(swing) / 100
	if off >= interval {
		off = interval - 1
	}
	return max(off, 0)
}

// Clock produces step ticks on wall-clock deadlines. Parameter changes only
// affect deadlines computed after the change; the in-flight deadline is
// never moved.
type Clock struct {
	mu       sync.Mutex
	tempo    int
	division int
	swing    int
	running  bool
	epoch    uint64
	step     int
	grid     time.Time // on-grid onset of step
	next     time.Time // deadline of step including swing
	wake     chan struct{}
}

// New creates a stopped clock.
func New(tempo, division, swing int) *Clock {
	return &Clock{
		tempo:    tempo,
		division: division,
		swing:    swing,
		wake:     make(chan struct{}, 1),
	}
}

// Start anchors step 0 at now and returns the new epoch.
func (c *Clock) Start(now time.Time) uint64 {
	c.mu.Lock()
	c.running = true
	c.epoch++
	c.step = 0
	c.grid = now
	c.next = now
	epoch := c.epoch
	c.mu.Unlock()
	c.signal()
	return epoch
}

// Stop halts the clock. Any pending Advance goes back to waiting for Start.
// Stopping a stopped clock does nothing.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.epoch++
	c.mu.Unlock()
	c.signal()
}

func (c *Clock) SetTempo(bpm int) {
	c.mu.Lock()
	c.tempo = bpm
	c.mu.Unlock()
}

func (c *Clock) SetDivision(d int) {
	c.mu.Lock()
	c.division = d
	c.mu.Unlock()
}

func (c *Clock) SetSwing(s int) {
	c.mu.Lock()
	c.swing = s
	c.mu.Unlock()
}

// Align sets the loop position of the pending step. Swing delays odd loop
// positions, so after a jump or an odd-length wrap the pending deadline
// moves between its on-grid and swung onset. The grid itself is kept.
func (c *Clock) Align(pos int) {
	c.mu.Lock()
	changed := c.step%2 != pos%2
	c.step = pos
	if !changed || !c.running {
		c.mu.Unlock()
		return
	}
	c.next = c.grid
	if pos%2 == 1 {
		c.next = c.grid.Add(SwingOffset(Interval(c.tempo, c.division), c.swing))
	}
	c.mu.Unlock()
	c.signal()
}

// Interval returns the current on-grid step duration.
func (c *Clock) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Interval(c.tempo, c.division)
}

func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Epoch identifies the current start/stop generation. Ticks carrying an
// older epoch belong to a previous run.
func (c *Clock) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Advance blocks until the next step's deadline and returns it. While the
// clock is stopped it waits for Start. It returns only ctx errors.
func (c *Clock) Advance(ctx context.Context) (Tick, error) {
	for {
		c.mu.Lock()
		running, epoch, step, deadline := c.running, c.epoch, c.step, c.next
		c.mu.Unlock()

		if !running {
			select {
			case <-ctx.Done():
				return Tick{}, ctx.Err()
			case <-c.wake:
				continue
			}
		}

		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Tick{}, ctx.Err()
		case <-c.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			continue
		}
		c.schedule(time.Now())
		c.mu.Unlock()
		return Tick{Step: step, Deadline: deadline, Epoch: epoch}, nil
	}
}

// schedule computes the deadline of the step after the one just fired.
// If the loop fell behind by more than a whole step the grid is re-anchored
// at now so missed steps are not fired in a burst.
func (c *Clock) schedule(now time.Time) {
	d := Interval(c.tempo, c.division)
	c.step++
	c.grid = c.grid.Add(d)
	if now.Sub(c.grid) > d {
		c.grid = now
	}
	c.next = c.grid
	if c.step%2 == 1 {
		c.next = c.grid.Add(SwingOffset(d, c.swing))
	}
}

func (c *Clock) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
