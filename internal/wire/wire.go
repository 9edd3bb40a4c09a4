// Package wire encodes sequencer commands and snapshots as JSON messages of
// the form {"type": ..., "payload": ...}.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"github.com/satindergrewal/drumseq/internal/engine"
)

// Outgoing message types.
const (
	TypeState     = "state_update"
	TypeFileState = "file_state"
	TypeError     = "error"
)

// ErrMalformed is returned for messages that are not valid commands.
var ErrMalformed = errors.New("malformed command")

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Track struct {
	Slots      []int  `json:"slots"`
	Name       string `json:"name"`
	Idx        int    `json:"idx"`
	Len        int    `json:"len"`
	SamplePath string `json:"sample_path"`
	Choke      int    `json:"choke"`
}

type PatternInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// State is the wire form of engine.State. Latency is in nanoseconds.
type State struct {
	Tempo              int           `json:"tempo"`
	Tracks             []Track       `json:"tracks"`
	Division           int           `json:"division"`
	DefaultTrackLength int           `json:"default_track_length"`
	Latency            int64         `json:"latency"`
	Overruns           uint64        `json:"overruns"`
	Playing            bool          `json:"playing"`
	Step               int           `json:"step"`
	PatternID          int           `json:"pattern_id"`
	PatternLen         int           `json:"pattern_len"`
	PatternName        string        `json:"pattern_name"`
	PatternCount       int           `json:"pattern_count"`
	Patterns           []PatternInfo `json:"patterns"`
	QueuedPatternID    int           `json:"queued_pattern_id"`
	Swing              int           `json:"swing"`
	LastCommand        string        `json:"last_command,omitempty"`
}

type FileState struct {
	FileType string   `json:"file_type"`
	Files    []string `json:"files"`
}

type Error struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// FromState converts an engine snapshot to its wire form.
func FromState(s engine.State) State {
	out := State{
		Tempo:              s.Tempo,
		Tracks:             make([]Track, len(s.Tracks)),
		Division:           s.Division,
		DefaultTrackLength: s.DefaultTrackLength,
		Latency:            s.Latency.Nanoseconds(),
		Overruns:           s.Overruns,
		Playing:            s.Playing,
		Step:               s.Step,
		PatternID:          s.PatternID,
		PatternLen:         s.PatternLen,
		PatternName:        s.PatternName,
		PatternCount:       s.PatternCount,
		Patterns:           make([]PatternInfo, len(s.Patterns)),
		QueuedPatternID:    s.QueuedPatternID,
		Swing:              s.Swing,
		LastCommand:        s.LastCommand,
	}
	for i, t := range s.Tracks {
		slots := make([]int, len(t.Slots))
		for j, v := range t.Slots {
			slots[j] = int(v)
		}
		out.Tracks[i] = Track{
			Slots:      slots,
			Name:       t.Name,
			Idx:        t.Idx,
			Len:        t.Len,
			SamplePath: t.SamplePath,
			Choke:      t.Choke,
		}
	}
	for i, p := range s.Patterns {
		out.Patterns[i] = PatternInfo{ID: p.ID, Name: p.Name}
	}
	return out
}

// EncodeState returns a state_update message.
func EncodeState(s engine.State) ([]byte, error) {
	return encode(TypeState, FromState(s))
}

// EncodeFileState returns a file_state message.
func EncodeFileState(f engine.FileState) ([]byte, error) {
	files := f.Files
	if files == nil {
		files = []string{}
	}
	return encode(TypeFileState, FileState{FileType: string(f.Type), Files: files})
}

// EncodeError returns an error message describing a rejected command.
func EncodeError(err error) ([]byte, error) {
	return encode(TypeError, Error{Message: engine.Describe(err), Kind: string(ftag.Get(err))})
}

func encode(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return json.Marshal(envelope{Type: typ, Payload: raw})
}

// Payload shapes. Pointers mark required fields.
type bpmPayload struct {
	BPM *int `json:"bpm"`
}

type idPayload struct {
	ID *int `json:"id"`
}

type valuePayload struct {
	Value *int `json:"value"`
}

type lengthPayload struct {
	Length *int `json:"length"`
}

type namePayload struct {
	Name *string `json:"name"`
}

type samplePayload struct {
	Sample string `json:"sample"`
}

type (
	soundPayload struct {
		Track    *int `json:"track"`
		Velocity *int `json:"velocity"`
	}
	slotPayload struct {
		Track    *int `json:"track"`
		Slot     *int `json:"slot"`
		Velocity *int `json:"velocity"`
	}
	trackSamplePayload struct {
		Track *int    `json:"track"`
		Path  *string `json:"path"`
	}
	trackLengthPayload struct {
		Track  *int `json:"track"`
		Length *int `json:"length"`
	}
	trackChokePayload struct {
		Track *int `json:"track"`
		Group *int `json:"group"`
	}
)

// DecodeCommand parses one command message. Unknown types, unknown payload
// fields and missing required fields are rejected.
func DecodeCommand(data []byte) (engine.Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformed(err)
	}

	switch env.Type {
	case engine.NamePlay, engine.NameStop, engine.NameAddPattern, engine.NameSavePattern,
		engine.NameListPatterns, engine.NameListSamples:
		if err := decode(env, &struct{}{}, func() bool { return false }); err != nil {
			return nil, err
		}
		switch env.Type {
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
		default:
			return engine.ListSamples{}, nil
		}

	case engine.NameSetTempo:
		var p bpmPayload
		if err := decode(env, &p, func() bool { return p.BPM == nil }); err != nil {
			return nil, err
		}
		return engine.SetTempo{BPM: *p.BPM}, nil
	case engine.NameSetPattern, engine.NameRemovePattern, engine.NameSelectPattern:
		var p idPayload
		if err := decode(env, &p, func() bool { return p.ID == nil }); err != nil {
			return nil, err
		}
		switch env.Type {
		case engine.NameSetPattern:
			return engine.SetPattern{ID: *p.ID}, nil
		case engine.NameRemovePattern:
			return engine.RemovePattern{ID: *p.ID}, nil
		}
		return engine.SelectPattern{ID: *p.ID}, nil
	case engine.NameSetDivision, engine.NameSetSwing:
		var p valuePayload
		if err := decode(env, &p, func() bool { return p.Value == nil }); err != nil {
			return nil, err
		}
		if env.Type == engine.NameSetDivision {
			return engine.SetDivision{Value: *p.Value}, nil
		}
		return engine.SetSwing{Value: *p.Value}, nil
	case engine.NamePlaySound:
		var p soundPayload
		if err := decode(env, &p, func() bool { return p.Track == nil || p.Velocity == nil }); err != nil {
			return nil, err
		}
		return engine.PlaySound{Track: *p.Track, Velocity: *p.Velocity}, nil
	case engine.NameSetSlotVelocity:
		var p slotPayload
		if err := decode(env, &p, func() bool { return p.Track == nil || p.Slot == nil || p.Velocity == nil }); err != nil {
			return nil, err
		}
		return engine.SetSlotVelocity{Track: *p.Track, Slot: *p.Slot, Velocity: *p.Velocity}, nil
	case engine.NameSetPatternLength:
		var p lengthPayload
		if err := decode(env, &p, func() bool { return p.Length == nil }); err != nil {
			return nil, err
		}
		return engine.SetPatternLength{Length: *p.Length}, nil
	case engine.NameLoadPattern:
		var p namePayload
		if err := decode(env, &p, func() bool { return p.Name == nil }); err != nil {
			return nil, err
		}
		return engine.LoadPattern{File: *p.Name}, nil
	case engine.NameAddTrack:
		var p samplePayload
		if err := decode(env, &p, func() bool { return false }); err != nil {
			return nil, err
		}
		return engine.AddTrack{Sample: p.Sample}, nil
	case engine.NameSetTrackSample:
		var p trackSamplePayload
		if err := decode(env, &p, func() bool { return p.Track == nil || p.Path == nil }); err != nil {
			return nil, err
		}
		return engine.SetTrackSample{Track: *p.Track, Path: *p.Path}, nil
	case engine.NameSetTrackLength:
		var p trackLengthPayload
		if err := decode(env, &p, func() bool { return p.Track == nil || p.Length == nil }); err != nil {
			return nil, err
		}
		return engine.SetTrackLength{Track: *p.Track, Length: *p.Length}, nil
	case engine.NameSetTrackChoke:
		var p trackChokePayload
		if err := decode(env, &p, func() bool { return p.Track == nil || p.Group == nil }); err != nil {
			return nil, err
		}
		return engine.SetTrackChoke{Track: *p.Track, Group: *p.Group}, nil
	}
	return nil, malformed(fmt.Errorf("unknown command type %q", env.Type))
}

func decode(env envelope, v any, missing func() bool) error {
	if len(env.Payload) == 0 {
		if missing() {
			return malformed(fmt.Errorf("%s: missing payload", env.Type))
		}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return malformed(fmt.Errorf("%s: %w", env.Type, err))
	}
	if missing() {
		return malformed(fmt.Errorf("%s: missing field", env.Type))
	}
	return nil
}

func malformed(err error) error {
	return fault.Wrap(fmt.Errorf("%w: %w", ErrMalformed, err), fmsg.WithDesc("decode command", err.Error()), ftag.With(ftag.InvalidArgument))
}

// EncodeCommand is the inverse of DecodeCommand.
func EncodeCommand(cmd engine.Command) ([]byte, error) {
	var payload any
	switch c := cmd.(type) {
	case engine.SetTempo:
		payload = map[string]int{"bpm": c.BPM}
	case engine.SetPattern:
		payload = map[string]int{"id": c.ID}
	case engine.RemovePattern:
		payload = map[string]int{"id": c.ID}
	case engine.SelectPattern:
		payload = map[string]int{"id": c.ID}
	case engine.SetDivision:
		payload = map[string]int{"value": c.Value}
	case engine.SetSwing:
		payload = map[string]int{"value": c.Value}
	case engine.PlaySound:
		payload = map[string]int{"track": c.Track, "velocity": c.Velocity}
	case engine.SetSlotVelocity:
		payload = map[string]int{"track": c.Track, "slot": c.Slot, "velocity": c.Velocity}
	case engine.SetPatternLength:
		payload = map[string]int{"length": c.Length}
	case engine.LoadPattern:
		payload = map[string]string{"name": c.File}
	case engine.AddTrack:
		payload = map[string]string{"sample": c.Sample}
	case engine.SetTrackSample:
		payload = map[string]any{"track": c.Track, "path": c.Path}
	case engine.SetTrackLength:
		payload = map[string]int{"track": c.Track, "length": c.Length}
	case engine.SetTrackChoke:
		payload = map[string]int{"track": c.Track, "group": c.Group}
	}
	if payload == nil {
		return json.Marshal(envelope{Type: cmd.Name()})
	}
	return encode(cmd.Name(), payload)
}
