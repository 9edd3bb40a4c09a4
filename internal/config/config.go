package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/drumseq/internal/clock"
	"github.com/satindergrewal/drumseq/internal/pattern"
)

// Audio outputs.
const (
	OutputDevice = "oto"    // local sound card
	OutputStream = "stream" // HTTP/WebRTC monitor only
	OutputNone   = "none"
)

// Config holds all runtime configuration. Defaults are overridden by an
// optional YAML file named by DRUMSEQ_CONFIG, then by environment variables.
type Config struct {
	// Server
	Port int `yaml:"port"`

	// Files
	SamplesDir  string `yaml:"samples_dir"`
	PatternsDir string `yaml:"patterns_dir"`

	// Sequencer start-up state
	Tempo              int      `yaml:"tempo"`
	Division           int      `yaml:"division"`
	Swing              int      `yaml:"swing"`
	DefaultTrackLength int      `yaml:"default_track_length"`
	InitialTracks      []string `yaml:"initial_tracks"` // sample paths, one track each

	// Timing
	TickBudget time.Duration `yaml:"tick_budget"` // ticks handled later than this count as overruns

	// Audio
	MaxVoices    int           `yaml:"max_voices"`
	AudioOutput  string        `yaml:"audio_output"`
	DeviceBuffer time.Duration `yaml:"device_buffer"`

	// External control
	MIDIPort   string `yaml:"midi_port"`   // MIDI clock output, empty disables
	SerialPort string `yaml:"serial_port"` // hardware panel, empty disables
	SerialBaud int    `yaml:"serial_baud"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:               8080,
		SamplesDir:         "samples",
		PatternsDir:        "patterns",
		Tempo:              120,
		Division:           8,
		Swing:              0,
		DefaultTrackLength: 8,
		TickBudget:         2 * time.Millisecond,
		MaxVoices:          32,
		AudioOutput:        OutputDevice,
		DeviceBuffer:       20 * time.Millisecond,
		SerialBaud:         115200,
		LogLevel:           "info",
	}
}

// Load reads configuration with sane defaults.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("DRUMSEQ_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = envInt("DRUMSEQ_PORT", cfg.Port)
	cfg.SamplesDir = envStr("DRUMSEQ_SAMPLES_DIR", cfg.SamplesDir)
	cfg.PatternsDir = envStr("DRUMSEQ_PATTERNS_DIR", cfg.PatternsDir)
	cfg.Tempo = envInt("DRUMSEQ_TEMPO", cfg.Tempo)
	cfg.Division = envInt("DRUMSEQ_DIVISION", cfg.Division)
	cfg.Swing = envInt("DRUMSEQ_SWING", cfg.Swing)
	cfg.DefaultTrackLength = envInt("DRUMSEQ_TRACK_LENGTH", cfg.DefaultTrackLength)
	cfg.InitialTracks = envList("DRUMSEQ_TRACKS", cfg.InitialTracks)
	cfg.TickBudget = envDuration("DRUMSEQ_TICK_BUDGET", cfg.TickBudget)
	cfg.MaxVoices = envInt("DRUMSEQ_MAX_VOICES", cfg.MaxVoices)
	cfg.AudioOutput = envStr("DRUMSEQ_AUDIO_OUTPUT", cfg.AudioOutput)
	cfg.DeviceBuffer = envDuration("DRUMSEQ_DEVICE_BUFFER", cfg.DeviceBuffer)
	cfg.MIDIPort = envStr("DRUMSEQ_MIDI_PORT", cfg.MIDIPort)
	cfg.SerialPort = envStr("DRUMSEQ_SERIAL_PORT", cfg.SerialPort)
	cfg.SerialBaud = envInt("DRUMSEQ_SERIAL_BAUD", cfg.SerialBaud)
	cfg.LogLevel = envStr("DRUMSEQ_LOG_LEVEL", cfg.LogLevel)

	return cfg, cfg.Validate()
}

// Validate checks start-up values against the bounds the sequencer
// enforces on the matching commands.
func (c Config) Validate() error {
	switch c.AudioOutput {
	case OutputDevice, OutputStream, OutputNone:
	default:
		return fmt.Errorf("unknown audio output %q", c.AudioOutput)
	}
	if c.Tempo < clock.MinTempo || c.Tempo > clock.MaxTempo {
		return fmt.Errorf("tempo %d out of range %d-%d", c.Tempo, clock.MinTempo, clock.MaxTempo)
	}
	if !pattern.ValidDivision(c.Division) {
		return fmt.Errorf("division %d not one of %v", c.Division, pattern.Divisions)
	}
	if c.Swing < 0 || c.Swing > pattern.MaxSwing {
		return fmt.Errorf("swing %d out of range 0-%d", c.Swing, pattern.MaxSwing)
	}
	if c.DefaultTrackLength < pattern.MinLength || c.DefaultTrackLength > pattern.MaxLength {
		return fmt.Errorf("track length %d out of range %d-%d", c.DefaultTrackLength, pattern.MinLength, pattern.MaxLength)
	}
	if c.MaxVoices < 1 {
		return fmt.Errorf("max voices %d must be at least 1", c.MaxVoices)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList reads a comma separated list.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
