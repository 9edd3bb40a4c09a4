package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/drumseq/internal/audio"
	"github.com/satindergrewal/drumseq/internal/config"
	"github.com/satindergrewal/drumseq/internal/engine"
	"github.com/satindergrewal/drumseq/internal/midiclock"
	"github.com/satindergrewal/drumseq/internal/panel"
	"github.com/satindergrewal/drumseq/internal/storage"
	"github.com/satindergrewal/drumseq/internal/stream"
	"github.com/satindergrewal/drumseq/internal/tui"
)

func main() {
	useTUI := flag.Bool("tui", false, "control the sequencer from the terminal")
	logFile := flag.String("log", "drumseq.log", "log file used while the terminal UI is running")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", "err", err)
	}

	var out io.Writer = os.Stderr
	if *useTUI {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatal("cannot open log file", "err", err)
		}
		defer f.Close()
		out = f
	}
	logger := newLogger(out, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *useTUI); err != nil {
		logger.Fatal("drumseq stopped", "err", err)
	}
}

func newLogger(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "drumseq",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger, useTUI bool) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	store := storage.New(cfg.PatternsDir, cfg.SamplesDir)
	bank := audio.NewBank(cfg.SamplesDir, audio.FFmpeg)
	pool := audio.NewPool(cfg.MaxVoices)
	hub := stream.NewHub(64, logger)

	var (
		follower  engine.Follower
		midiClock *midiclock.Clock
	)
	if cfg.MIDIPort != "" {
		defer midi.CloseDriver()
		c, err := midiclock.Open(cfg.MIDIPort, logger)
		if err != nil {
			return err
		}
		midiClock, follower = c, c
	}

	eng, err := engine.New(engine.Options{
		Tempo:         cfg.Tempo,
		Division:      cfg.Division,
		Swing:         cfg.Swing,
		DefaultLength: cfg.DefaultTrackLength,
		TickBudget:    cfg.TickBudget,
		Storage:       store,
		Bank:          bank,
		Voices:        pool,
		Publisher:     hub,
		Follower:      follower,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		addInitialTracks(ctx, eng, cfg.InitialTracks, logger)
		return nil
	})

	var (
		frames   *stream.Broadcaster[[]int16]
		pipeline *audio.Pipeline
	)
	switch cfg.AudioOutput {
	case config.OutputDevice:
		dev, err := audio.OpenDevice(pool, cfg.DeviceBuffer)
		if err != nil {
			return err
		}
		defer dev.Close()
		logger.Info("audio device open", "buffer", cfg.DeviceBuffer)
	case config.OutputStream:
		pipeline = audio.NewPipeline(pool)
		frames = stream.NewBroadcaster[[]int16](150, stream.DropMessage)
		g.Go(func() error {
			pipeline.Run(ctx)
			return nil
		})
		g.Go(func() error {
			frames.Run(ctx, pipeline.Frames())
			return nil
		})
	default:
		logger.Warn("audio output disabled")
	}

	if midiClock != nil {
		g.Go(func() error {
			return midiClock.Run(ctx)
		})
	}

	if cfg.SerialPort != "" {
		open := panel.SerialOpener(cfg.SerialPort, cfg.SerialBaud)
		g.Go(func() error {
			return panel.Serve(ctx, open, eng.Do, hub, logger)
		})
	}

	rtc := stream.NewWebRTCHandler(eng.Do, hub, frames, logger)

	mux := http.NewServeMux()
	stream.NewAPI(eng.Do, eng.State, hub, logger).Register(mux)
	mux.Handle("/offer", rtc)
	if frames != nil {
		mux.Handle("/stream", stream.NewMonitorHandler(frames, logger))
	}

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		s := eng.State()
		status := map[string]any{
			"playing":          s.Playing,
			"overruns":         s.Overruns,
			"latency_us":       s.Latency.Microseconds(),
			"voices":           pool.Active(),
			"voices_culled":    pool.Culled(),
			"triggers_dropped": pool.Dropped(),
			"listeners":        hub.ListenerCount(),
			"webrtc_peers":     rtc.PeerCount(),
			"audio_output":     cfg.AudioOutput,
		}
		if pipeline != nil {
			rendered, peak := pipeline.Status()
			status["rendered_seconds"] = rendered.Seconds()
			status["peak"] = peak
			status["monitor_listeners"] = frames.ListenerCount()
		}
		if midiClock != nil {
			status["midi_dropped"] = midiClock.Dropped()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(status)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		rtc.Close()
		return server.Close()
	})
	g.Go(func() error {
		logger.Info("drumseq live", "addr", addr, "samples", cfg.SamplesDir, "patterns", cfg.PatternsDir)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if useTUI {
		g.Go(func() error {
			defer stop()
			return tui.Run(ctx, eng.Do, hub, eng.State())
		})
	}

	return g.Wait()
}

// addInitialTracks creates one track per configured sample. Samples that
// fail to load are skipped.
func addInitialTracks(ctx context.Context, eng *engine.Engine, samples []string, logger *log.Logger) {
	for _, path := range samples {
		if err := eng.Do(ctx, engine.AddTrack{Sample: path}); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("skipping initial track", "sample", path, "err", engine.Describe(err))
		}
	}
}
