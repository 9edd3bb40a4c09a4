package panel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Southclaws/fault/ftag"
	"github.com/charmbracelet/log"

	"github.com/satindergrewal/drumseq/internal/engine"
	"github.com/satindergrewal/drumseq/internal/stream"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want engine.Command
	}{
		{"PLAY", engine.Play{}},
		{"stop", engine.Stop{}},
		{"SET_TEMPO 128", engine.SetTempo{BPM: 128}},
		{"SET_SLOT_VELOCITY 1 7 90", engine.SetSlotVelocity{Track: 1, Slot: 7, Velocity: 90}},
		{"PLAY_SOUND 2 127", engine.PlaySound{Track: 2, Velocity: 127}},
		{"SELECT_PATTERN 3", engine.SelectPattern{ID: 3}},
		{"SET_PATTERN 0", engine.SetPattern{ID: 0}},
		{"REMOVE_PATTERN 1", engine.RemovePattern{ID: 1}},
		{"SET_DIVISION 16", engine.SetDivision{Value: 16}},
		{"SET_SWING 40", engine.SetSwing{Value: 40}},
		{"SET_PATTERN_LENGTH 12", engine.SetPatternLength{Length: 12}},
		{"SET_TRACK_LENGTH 0 5", engine.SetTrackLength{Track: 0, Length: 5}},
		{"SET_TRACK_CHOKE 2 1", engine.SetTrackChoke{Track: 2, Group: 1}},
		{"SET_TRACK_SAMPLE 1 hats/open hat.wav", engine.SetTrackSample{Track: 1, Path: "hats/open hat.wav"}},
		{"ADD_TRACK", engine.AddTrack{}},
		{"ADD_TRACK kick.wav", engine.AddTrack{Sample: "kick.wav"}},
		{"LOAD_PATTERN groove-01234567.json", engine.LoadPattern{File: "groove-01234567.json"}},
		{"ADD_PATTERN", engine.AddPattern{}},
		{"SAVE_PATTERN", engine.SavePattern{}},
		{"LIST_PATTERNS", engine.ListPatterns{}},
		{"LIST_SAMPLES", engine.ListSamples{}},
	}
	for _, tt := range tests {
		got, err := ParseLine(tt.line)
		if err != nil {
			t.Errorf("ParseLine(%q): %v", tt.line, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLine(%q) = %#v, want %#v", tt.line, got, tt.want)
		}
	}
}

func TestParseLineRejects(t *testing.T) {
	for _, line := range []string{
		"",
		"JUMP",
		"SET_TEMPO",
		"SET_TEMPO fast",
		"SET_TEMPO 120 130",
		"SET_SLOT_VELOCITY 1 2",
		"LOAD_PATTERN",
		"SET_TRACK_SAMPLE x kick.wav",
	} {
		_, err := ParseLine(line)
		if err == nil {
			t.Errorf("ParseLine(%q) succeeded", line)
			continue
		}
		if ftag.Get(err) != ftag.InvalidArgument {
			t.Errorf("ParseLine(%q) tag = %q", line, ftag.Get(err))
		}
	}
}

type fakeEngine struct {
	mu   sync.Mutex
	cmds []engine.Command
}

func (f *fakeEngine) do(_ context.Context, cmd engine.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := cmd.(engine.SetTempo); ok && c.BPM > 300 {
		return fmt.Errorf("tempo %d too fast", c.BPM)
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cmds)
}

func TestPanelRoundTrip(t *testing.T) {
	device, host := net.Pipe()
	logger := log.New(io.Discard)
	hub := stream.NewHub(8, logger)
	eng := &fakeEngine{}
	p := New(host, eng.do, hub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(device)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	if _, err := io.WriteString(device, "PLAY\nSET_TEMPO 999\n"); err != nil {
		t.Fatal(err)
	}

	select {
	case line := <-lines:
		if !strings.HasPrefix(line, "ERR ") {
			t.Errorf("reply = %q, want ERR", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error reply")
	}
	if eng.count() != 1 {
		t.Errorf("applied %d commands, want 1", eng.count())
	}

	hub.SendState(engine.State{Tempo: 101})
	hub.SendState(engine.State{Tempo: 102})
	deadline := time.After(2 * time.Second)
	for seen := false; !seen; {
		select {
		case line := <-lines:
			if !strings.Contains(line, `"type":"state_update"`) {
				t.Errorf("unexpected line %s", line)
			}
			seen = strings.Contains(line, `"tempo":102`)
		case <-deadline:
			t.Fatal("latest state never written")
		}
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunReturnsNilWhenDeviceGoesAway(t *testing.T) {
	device, host := net.Pipe()
	logger := log.New(io.Discard)
	hub := stream.NewHub(8, logger)
	eng := &fakeEngine{}
	p := New(host, eng.do, hub, logger)

	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background()) }()

	device.Close()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run returned %v after the device went away, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after disconnect")
	}
	if n := hub.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount = %d after disconnect, want 0", n)
	}
}

func TestServeReopensAfterDisconnect(t *testing.T) {
	old := retryDelay
	retryDelay = 10 * time.Millisecond
	t.Cleanup(func() { retryDelay = old })

	logger := log.New(io.Discard)
	hub := stream.NewHub(8, logger)
	eng := &fakeEngine{}

	devices := make(chan net.Conn, 4)
	var (
		mu    sync.Mutex
		opens int
	)
	open := func() (io.ReadWriteCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 2 {
			return nil, fmt.Errorf("port busy")
		}
		device, host := net.Pipe()
		devices <- device
		return host, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, open, eng.do, hub, logger) }()

	nextDevice := func() net.Conn {
		t.Helper()
		select {
		case d := <-devices:
			return d
		case <-time.After(2 * time.Second):
			t.Fatal("panel port never opened")
			return nil
		}
	}

	first := nextDevice()
	first.Close()

	second := nextDevice()
	if _, err := io.WriteString(second, "PLAY\n"); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for eng.count() < 1 {
		select {
		case <-deadline:
			t.Fatal("command on the reopened port was not applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if opens != 3 {
		t.Errorf("opened %d times, want 3 (connect, failed retry, reconnect)", opens)
	}
}
