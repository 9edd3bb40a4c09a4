package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Southclaws/fault/ftag"
	"github.com/charmbracelet/log"

	"github.com/satindergrewal/drumseq/internal/engine"
	"github.com/satindergrewal/drumseq/internal/wire"
)

// CommandTimeout bounds how long a controller waits for a command result.
const CommandTimeout = 5 * time.Second

const maxCommandBytes = 64 << 10

// API serves the JSON control surface: commands in, state out.
type API struct {
	do    engine.Handler
	state func() engine.State
	hub   *Hub
	log   *log.Logger
}

// NewAPI creates the control API. state returns the latest snapshot.
func NewAPI(do engine.Handler, state func() engine.State, hub *Hub, logger *log.Logger) *API {
	return &API{do: do, state: state, hub: hub, log: logger.With("component", "api")}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /command", a.handleCommand)
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("GET /events", a.handleEvents)
}

func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	cmd, err := wire.DecodeCommand(body)
	if err != nil {
		a.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), CommandTimeout)
	defer cancel()
	if err := a.do(ctx, cmd); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeState(w)
}

func (a *API) handleState(w http.ResponseWriter, _ *http.Request) {
	a.writeState(w)
}

// handleEvents streams hub events as server-sent events.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	l := a.hub.Subscribe()
	defer a.hub.Unsubscribe(l)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-l.C:
			if !ok {
				a.log.Debug("events listener dropped", "id", l.ID)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.JSON); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (a *API) writeState(w http.ResponseWriter) {
	data, err := wire.EncodeState(a.state())
	if err != nil {
		http.Error(w, "encode state", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(data)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("command failed", "err", err)
	}
	data, eerr := wire.EncodeError(err)
	if eerr != nil {
		http.Error(w, engine.Describe(err), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// StatusFor maps a command error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case ftag.Get(err) == ftag.InvalidArgument:
		return http.StatusBadRequest
	case ftag.Get(err) == ftag.NotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
