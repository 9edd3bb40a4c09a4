// Package panel connects a hardware control panel over a serial line.
//
// The panel sends one command per line: the command name followed by its
// arguments separated by spaces, e.g. "SET_SLOT_VELOCITY 0 3 127". It
// receives state and file listings as JSON lines, and "ERR <message>" for
// rejected commands.
package panel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/charmbracelet/log"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/drumseq/internal/engine"
	"github.com/satindergrewal/drumseq/internal/stream"
)

// StateInterval limits how often state lines are written.
const StateInterval = time.Second / 30

// ErrDisconnected reports that the panel's port went away.
var ErrDisconnected = errors.New("panel disconnected")

// retryDelay is how long Serve waits before reopening the port.
var retryDelay = 2 * time.Second

// Panel bridges a serial device to the engine.
type Panel struct {
	port io.ReadWriteCloser
	do   engine.Handler
	hub  *stream.Hub
	log  *log.Logger
}

// Opener opens the port a panel is attached to.
type Opener func() (io.ReadWriteCloser, error)

// SerialOpener opens the serial port name at baud.
func SerialOpener(name string, baud int) Opener {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", name, err)
		}
		return port, nil
	}
}

// Serve keeps a panel attached until ctx is cancelled. When the port cannot
// be opened or the device goes away it retries after a short delay, so an
// unplugged panel never stops the sequencer.
func Serve(ctx context.Context, open Opener, do engine.Handler, hub *stream.Hub, logger *log.Logger) error {
	plog := logger.With("component", "panel")
	for {
		port, err := open()
		if err != nil {
			plog.Warn("panel unavailable", "err", err, "retry", retryDelay)
		} else {
			plog.Info("panel connected")
			if err := New(port, do, hub, logger).Run(ctx); err != nil {
				plog.Error("panel stopped", "err", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryDelay):
		}
	}
}

// New creates a panel on an already open port.
func New(port io.ReadWriteCloser, do engine.Handler, hub *stream.Hub, logger *log.Logger) *Panel {
	return &Panel{port: port, do: do, hub: hub, log: logger.With("component", "panel")}
}

// Run serves the panel until ctx is cancelled or the device goes away, and
// returns nil in both cases. The port is closed on return.
func (p *Panel) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	out := make(chan string, 8)

	g.Go(func() error {
		<-ctx.Done()
		if err := p.port.Close(); err != nil {
			p.log.Debug("close port", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		return p.read(ctx, out)
	})
	g.Go(func() error {
		return p.write(ctx, out)
	})

	err := g.Wait()
	switch {
	case errors.Is(err, ErrDisconnected):
		p.log.Warn("panel disconnected", "err", err)
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

func (p *Panel) read(ctx context.Context, replies chan<- string) error {
	sc := bufio.NewScanner(p.port)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, err := ParseLine(line)
		if err == nil {
			err = p.do(ctx, cmd)
		}
		if err == nil {
			continue
		}
		p.log.Debug("panel command failed", "line", line, "err", err)
		select {
		case replies <- "ERR " + engine.Describe(err):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: read: %w", ErrDisconnected, err)
	}
	return fmt.Errorf("%w: %w", ErrDisconnected, io.EOF)
}

// write sends file listings and replies as they come and coalesces state
// updates to at most one per StateInterval.
func (p *Panel) write(ctx context.Context, replies <-chan string) error {
	l := p.hub.Subscribe()
	defer func() { p.hub.Unsubscribe(l) }()

	ticker := time.NewTicker(StateInterval)
	defer ticker.Stop()

	var latest []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-replies:
			if err := p.writeLine([]byte(line)); err != nil {
				return err
			}
		case ev, ok := <-l.C:
			if !ok {
				l = p.hub.Subscribe()
				continue
			}
			if ev.IsState() {
				latest = ev.JSON
				continue
			}
			if err := p.writeLine(ev.JSON); err != nil {
				return err
			}
		case <-ticker.C:
			if latest == nil {
				continue
			}
			if err := p.writeLine(latest); err != nil {
				return err
			}
			latest = nil
		}
	}
}

func (p *Panel) writeLine(b []byte) error {
	line := make([]byte, 0, len(b)+1)
	line = append(append(line, b...), '\n')
	if _, err := p.port.Write(line); err != nil {
		return fmt.Errorf("%w: write: %w", ErrDisconnected, err)
	}
	return nil
}

// ParseLine parses one panel command.
func ParseLine(line string) (engine.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, badLine(line, "empty line")
	}
	name, args := strings.ToUpper(fields[0]), fields[1:]

	ints := func(n int) ([]int, error) {
		if len(args) != n {
			return nil, badLine(line, fmt.Sprintf("%s takes %d arguments", name, n))
		}
		out := make([]int, n)
		for i, a := range args {
			v, err := strconv.Atoi(a)
			if err != nil {
				return nil, badLine(line, fmt.Sprintf("argument %d is not a number", i+1))
			}
			out[i] = v
		}
		return out, nil
	}

	switch name {
	case engine.NamePlay:
		return engine.Play{}, nil
	case engine.NameStop:
		return engine.Stop{}, nil
	case engine.NameAddPattern:
		return engine.AddPattern{}, nil
	case engine.NameSavePattern:
		return engine.SavePattern{}, nil
	case engine.NameListPatterns:
		return engine.ListPatterns{}, nil
	case engine.NameListSamples:
		return engine.ListSamples{}, nil
	case engine.NameLoadPattern:
		if len(args) != 1 {
			return nil, badLine(line, "LOAD_PATTERN takes a file name")
		}
		return engine.LoadPattern{File: args[0]}, nil
	case engine.NameAddTrack:
		return engine.AddTrack{Sample: strings.Join(args, " ")}, nil
	case engine.NameSetTrackSample:
		if len(args) < 2 {
			return nil, badLine(line, "SET_TRACK_SAMPLE takes a track and a path")
		}
		t, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, badLine(line, "track is not a number")
		}
		return engine.SetTrackSample{Track: t, Path: strings.Join(args[1:], " ")}, nil
	}

	arity := map[string]int{
		engine.NameSetTempo:         1,
		engine.NameSetPattern:       1,
		engine.NameSetDivision:      1,
		engine.NameRemovePattern:    1,
		engine.NameSelectPattern:    1,
		engine.NameSetPatternLength: 1,
		engine.NameSetSwing:         1,
		engine.NamePlaySound:        2,
		engine.NameSetTrackLength:   2,
		engine.NameSetTrackChoke:    2,
		engine.NameSetSlotVelocity:  3,
	}
	n, ok := arity[name]
	if !ok {
		return nil, badLine(line, "unknown command "+name)
	}
	v, err := ints(n)
	if err != nil {
		return nil, err
	}

	switch name {
	case engine.NameSetTempo:
		return engine.SetTempo{BPM: v[0]}, nil
	case engine.NameSetPattern:
		return engine.SetPattern{ID: v[0]}, nil
	case engine.NameSetDivision:
		return engine.SetDivision{Value: v[0]}, nil
	case engine.NameRemovePattern:
		return engine.RemovePattern{ID: v[0]}, nil
	case engine.NameSelectPattern:
		return engine.SelectPattern{ID: v[0]}, nil
	case engine.NameSetPatternLength:
		return engine.SetPatternLength{Length: v[0]}, nil
	case engine.NameSetSwing:
		return engine.SetSwing{Value: v[0]}, nil
	case engine.NamePlaySound:
		return engine.PlaySound{Track: v[0], Velocity: v[1]}, nil
	case engine.NameSetTrackLength:
		return engine.SetTrackLength{Track: v[0], Length: v[1]}, nil
	case engine.NameSetTrackChoke:
		return engine.SetTrackChoke{Track: v[0], Group: v[1]}, nil
	}
	return engine.SetSlotVelocity{Track: v[0], Slot: v[1], Velocity: v[2]}, nil
}

func badLine(line, issue string) error {
	return fault.New("bad panel line: "+line, fmsg.WithDesc(issue, issue), ftag.With(ftag.InvalidArgument))
}
