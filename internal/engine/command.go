package engine

// Command is one of the sequencer's control messages. The set is closed:
// only types in this file implement it.
type Command interface {
	Name() string
	isCommand()
}

// Command names, as they appear on the wire.
const (
	NamePlay             = "PLAY"
	NameStop             = "STOP"
	NameSetTempo         = "SET_TEMPO"
	NameSetPattern       = "SET_PATTERN"
	NameSetDivision      = "SET_DIVISION"
	NamePlaySound        = "PLAY_SOUND"
	NameSetSlotVelocity  = "SET_SLOT_VELOCITY"
	NameAddPattern       = "ADD_PATTERN"
	NameRemovePattern    = "REMOVE_PATTERN"
	NameSelectPattern    = "SELECT_PATTERN"
	NameSetPatternLength = "SET_PATTERN_LENGTH"
	NameSavePattern      = "SAVE_PATTERN"
	NameLoadPattern      = "LOAD_PATTERN"
	NameListPatterns     = "LIST_PATTERNS"
	NameListSamples      = "LIST_SAMPLES"
	NameSetSwing         = "SET_SWING"
	NameAddTrack         = "ADD_TRACK"
	NameSetTrackSample   = "SET_TRACK_SAMPLE"
	NameSetTrackLength   = "SET_TRACK_LENGTH"
	NameSetTrackChoke    = "SET_TRACK_CHOKE"
)

// Play starts the transport from the first step. Ignored while playing.
type Play struct{}

// Stop halts the transport. Sounding voices ring out.
type Stop struct{}

type SetTempo struct{ BPM int }

// SetPattern switches to a pattern immediately, between steps.
type SetPattern struct{ ID int }

// SetDivision sets the current pattern's step subdivision.
type SetDivision struct{ Value int }

// PlaySound auditions a track's sample now, bypassing the clock.
type PlaySound struct {
	Track    int
	Velocity int
}

type SetSlotVelocity struct {
	Track    int
	Slot     int
	Velocity int
}

// AddPattern copies the current pattern's tracks into a new, empty pattern.
type AddPattern struct{}

type RemovePattern struct{ ID int }

// SelectPattern queues a pattern for the next boundary while playing and
// switches immediately while stopped.
type SelectPattern struct{ ID int }

// SetPatternLength resizes every track of the current pattern.
type SetPatternLength struct{ Length int }

type SavePattern struct{}

// LoadPattern replaces the current pattern's contents with a saved file.
type LoadPattern struct{ File string }

type ListPatterns struct{}

type ListSamples struct{}

type SetSwing struct{ Value int }

// AddTrack appends a silent track, optionally bound to a sample.
type AddTrack struct{ Sample string }

type SetTrackSample struct {
	Track int
	Path  string
}

type SetTrackLength struct {
	Track  int
	Length int
}

// SetTrackChoke puts a track in a choke group; 0 removes it from any group.
type SetTrackChoke struct {
	Track int
	Group int
}

func (Play) Name() string             { return NamePlay }
func (Stop) Name() string             { return NameStop }
func (SetTempo) Name() string         { return NameSetTempo }
func (SetPattern) Name() string       { return NameSetPattern }
func (SetDivision) Name() string      { return NameSetDivision }
func (PlaySound) Name() string        { return NamePlaySound }
func (SetSlotVelocity) Name() string  { return NameSetSlotVelocity }
func (AddPattern) Name() string       { return NameAddPattern }
func (RemovePattern) Name() string    { return NameRemovePattern }
func (SelectPattern) Name() string    { return NameSelectPattern }
func (SetPatternLength) Name() string { return NameSetPatternLength }
func (SavePattern) Name() string      { return NameSavePattern }
func (LoadPattern) Name() string      { return NameLoadPattern }
func (ListPatterns) Name() string     { return NameListPatterns }
func (ListSamples) Name() string      { return NameListSamples }
func (SetSwing) Name() string         { return NameSetSwing }
func (AddTrack) Name() string         { return NameAddTrack }
func (SetTrackSample) Name() string   { return NameSetTrackSample }
func (SetTrackLength) Name() string   { return NameSetTrackLength }
func (SetTrackChoke) Name() string    { return NameSetTrackChoke }

func (Play) isCommand()             {}
func (Stop) isCommand()             {}
func (SetTempo) isCommand()         {}
func (SetPattern) isCommand()       {}
func (SetDivision) isCommand()      {}
func (PlaySound) isCommand()        {}
func (SetSlotVelocity) isCommand()  {}
func (AddPattern) isCommand()       {}
func (RemovePattern) isCommand()    {}
func (SelectPattern) isCommand()    {}
func (SetPatternLength) isCommand() {}
func (SavePattern) isCommand()      {}
func (LoadPattern) isCommand()      {}
func (ListPatterns) isCommand()     {}
func (ListSamples) isCommand()      {}
func (SetSwing) isCommand()         {}
func (AddTrack) isCommand()         {}
func (SetTrackSample) isCommand()   {}
func (SetTrackLength) isCommand()   {}
func (SetTrackChoke) isCommand()    {}
