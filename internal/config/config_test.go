package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

var envVars = []string{
	"DRUMSEQ_CONFIG", "DRUMSEQ_PORT", "DRUMSEQ_SAMPLES_DIR", "DRUMSEQ_PATTERNS_DIR",
	"DRUMSEQ_TEMPO", "DRUMSEQ_DIVISION", "DRUMSEQ_SWING", "DRUMSEQ_TRACK_LENGTH",
	"DRUMSEQ_TRACKS", "DRUMSEQ_TICK_BUDGET", "DRUMSEQ_MAX_VOICES",
	"DRUMSEQ_AUDIO_OUTPUT", "DRUMSEQ_DEVICE_BUFFER", "DRUMSEQ_MIDI_PORT",
	"DRUMSEQ_SERIAL_PORT", "DRUMSEQ_SERIAL_BAUD", "DRUMSEQ_LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	for _, k := range envVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.SamplesDir != "samples" {
		t.Errorf("SamplesDir = %q, want default", cfg.SamplesDir)
	}
	if cfg.PatternsDir != "patterns" {
		t.Errorf("PatternsDir = %q, want default", cfg.PatternsDir)
	}
	if cfg.Tempo != 120 {
		t.Errorf("Tempo = %d, want 120", cfg.Tempo)
	}
	if cfg.Division != 8 {
		t.Errorf("Division = %d, want 8", cfg.Division)
	}
	if cfg.Swing != 0 {
		t.Errorf("Swing = %d, want 0", cfg.Swing)
	}
	if cfg.DefaultTrackLength != 8 {
		t.Errorf("DefaultTrackLength = %d, want 8", cfg.DefaultTrackLength)
	}
	if cfg.TickBudget != 2*time.Millisecond {
		t.Errorf("TickBudget = %v, want 2ms", cfg.TickBudget)
	}
	if cfg.MaxVoices != 32 {
		t.Errorf("MaxVoices = %d, want 32", cfg.MaxVoices)
	}
	if cfg.AudioOutput != OutputDevice {
		t.Errorf("AudioOutput = %q, want %q", cfg.AudioOutput, OutputDevice)
	}
	if cfg.MIDIPort != "" || cfg.SerialPort != "" {
		t.Errorf("MIDIPort/SerialPort = %q/%q, want disabled", cfg.MIDIPort, cfg.SerialPort)
	}
	if cfg.SerialBaud != 115200 {
		t.Errorf("SerialBaud = %d, want 115200", cfg.SerialBaud)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want 'info'", cfg.LogLevel)
	}
	if len(cfg.InitialTracks) != 0 {
		t.Errorf("InitialTracks = %v, want none", cfg.InitialTracks)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRUMSEQ_PORT", "3000")
	t.Setenv("DRUMSEQ_SAMPLES_DIR", "/srv/samples")
	t.Setenv("DRUMSEQ_TEMPO", "174")
	t.Setenv("DRUMSEQ_DIVISION", "16")
	t.Setenv("DRUMSEQ_SWING", "30")
	t.Setenv("DRUMSEQ_TRACK_LENGTH", "16")
	t.Setenv("DRUMSEQ_TRACKS", "kick.wav, snare.wav,,hats/closed.wav")
	t.Setenv("DRUMSEQ_TICK_BUDGET", "500us")
	t.Setenv("DRUMSEQ_AUDIO_OUTPUT", "stream")
	t.Setenv("DRUMSEQ_MIDI_PORT", "IAC Bus 1")
	t.Setenv("DRUMSEQ_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.SamplesDir != "/srv/samples" {
		t.Errorf("SamplesDir = %q, want env override", cfg.SamplesDir)
	}
	if cfg.Tempo != 174 || cfg.Division != 16 || cfg.Swing != 30 || cfg.DefaultTrackLength != 16 {
		t.Errorf("sequencer = %d/%d/%d/%d, want env overrides", cfg.Tempo, cfg.Division, cfg.Swing, cfg.DefaultTrackLength)
	}
	if want := []string{"kick.wav", "snare.wav", "hats/closed.wav"}; !slices.Equal(cfg.InitialTracks, want) {
		t.Errorf("InitialTracks = %q, want %q", cfg.InitialTracks, want)
	}
	if cfg.TickBudget != 500*time.Microsecond {
		t.Errorf("TickBudget = %v, want 500µs", cfg.TickBudget)
	}
	if cfg.AudioOutput != OutputStream {
		t.Errorf("AudioOutput = %q, want 'stream'", cfg.AudioOutput)
	}
	if cfg.MIDIPort != "IAC Bus 1" {
		t.Errorf("MIDIPort = %q, want env override", cfg.MIDIPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want 'debug'", cfg.LogLevel)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "drumseq.yaml")
	data := `
port: 9000
tempo: 90
swing: 55
tick_budget: 3ms
initial_tracks:
  - kick.wav
  - snare.wav
serial_port: /dev/ttyACM0
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DRUMSEQ_CONFIG", path)
	t.Setenv("DRUMSEQ_TEMPO", "100")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want file value 9000", cfg.Port)
	}
	if cfg.Tempo != 100 {
		t.Errorf("Tempo = %d, env should win over file", cfg.Tempo)
	}
	if cfg.Swing != 55 {
		t.Errorf("Swing = %d, want 55", cfg.Swing)
	}
	if cfg.TickBudget != 3*time.Millisecond {
		t.Errorf("TickBudget = %v, want 3ms", cfg.TickBudget)
	}
	if !slices.Equal(cfg.InitialTracks, []string{"kick.wav", "snare.wav"}) {
		t.Errorf("InitialTracks = %q", cfg.InitialTracks)
	}
	if cfg.SerialPort != "/dev/ttyACM0" {
		t.Errorf("SerialPort = %q", cfg.SerialPort)
	}
	if cfg.Division != 8 {
		t.Errorf("Division = %d, unset file keys should keep defaults", cfg.Division)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRUMSEQ_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("missing config file should fail")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("tempo: [fast"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DRUMSEQ_CONFIG", bad)
	if _, err := Load(); err == nil {
		t.Error("malformed config file should fail")
	}

	clearEnv(t)
	t.Setenv("DRUMSEQ_AUDIO_OUTPUT", "speakers")
	if _, err := Load(); err == nil {
		t.Error("unknown audio output should fail")
	}
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DRUMSEQ_TEMPO", "0"},
		{"DRUMSEQ_TEMPO", "301"},
		{"DRUMSEQ_DIVISION", "0"},
		{"DRUMSEQ_DIVISION", "5"},
		{"DRUMSEQ_SWING", "-1"},
		{"DRUMSEQ_SWING", "101"},
		{"DRUMSEQ_TRACK_LENGTH", "0"},
		{"DRUMSEQ_TRACK_LENGTH", "65"},
		{"DRUMSEQ_MAX_VOICES", "0"},
	}
	for _, tt := range tests {
		clearEnv(t)
		t.Setenv(tt.key, tt.value)
		if _, err := Load(); err == nil {
			t.Errorf("%s=%s loaded without error", tt.key, tt.value)
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRUMSEQ_PORT", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Invalid int env should fallback to default: got %d, want 8080", cfg.Port)
	}
}

func TestEnvDurationInvalidFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRUMSEQ_TICK_BUDGET", "soon")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TickBudget != 2*time.Millisecond {
		t.Errorf("Invalid duration env should fallback to default: got %v", cfg.TickBudget)
	}
}
