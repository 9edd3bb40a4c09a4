package stream

import (
	"slices"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/satindergrewal/drumseq/internal/engine"
	"github.com/satindergrewal/drumseq/internal/wire"
)

// Event is one update for controllers: a state snapshot or a file listing.
// The same Event goes to every listener, so JSON must not be modified and
// State and Files hand out copies.
type Event struct {
	state *engine.State
	files *engine.FileState
	JSON  []byte
}

// State returns a copy of the event's snapshot.
func (e Event) State() (engine.State, bool) {
	if e.state == nil {
		return engine.State{}, false
	}
	return e.state.Clone(), true
}

// Files returns a copy of the event's file listing.
func (e Event) Files() (engine.FileState, bool) {
	if e.files == nil {
		return engine.FileState{}, false
	}
	f := *e.files
	f.Files = slices.Clone(f.Files)
	return f, true
}

// IsState reports whether the event carries a snapshot.
func (e Event) IsState() bool {
	return e.state != nil
}

// Hub fans engine snapshots out to controllers. Listeners that fall behind
// are dropped.
type Hub struct {
	b      *Broadcaster[Event]
	log    *log.Logger
	latest atomic.Pointer[Event]
}

// NewHub creates a hub whose listeners buffer up to buffer events.
func NewHub(buffer int, logger *log.Logger) *Hub {
	return &Hub{
		b:   NewBroadcaster[Event](buffer, DropListener),
		log: logger.With("component", "hub"),
	}
}

// SendState implements engine.Publisher. The hub keeps its own copy of s.
func (h *Hub) SendState(s engine.State) {
	s = s.Clone()
	data, err := wire.EncodeState(s)
	if err != nil {
		h.log.Error("encode state", "err", err)
		return
	}
	ev := &Event{state: &s, JSON: data}
	h.latest.Store(ev)
	h.publish(*ev)
}

// SendFileState implements engine.Publisher.
func (h *Hub) SendFileState(f engine.FileState) {
	f.Files = slices.Clone(f.Files)
	data, err := wire.EncodeFileState(f)
	if err != nil {
		h.log.Error("encode file state", "err", err)
		return
	}
	h.publish(Event{files: &f, JSON: data})
}

func (h *Hub) publish(ev Event) {
	if n := h.b.Publish(ev); n > 0 {
		h.log.Warn("dropped slow listeners", "count", n, "remaining", h.b.ListenerCount())
	}
}

// Subscribe registers a listener. The latest state, if any, is already
// waiting in its channel.
func (h *Hub) Subscribe() *Listener[Event] {
	var l *Listener[Event]
	if ev := h.latest.Load(); ev != nil {
		l = h.b.Subscribe(*ev)
	} else {
		l = h.b.Subscribe()
	}
	h.log.Debug("listener subscribed", "id", l.ID, "total", h.b.ListenerCount())
	return l
}

// Unsubscribe removes l.
func (h *Hub) Unsubscribe(l *Listener[Event]) {
	h.b.Unsubscribe(l)
	h.log.Debug("listener unsubscribed", "id", l.ID)
}

// ListenerCount returns the number of connected listeners.
func (h *Hub) ListenerCount() int {
	return h.b.ListenerCount()
}
