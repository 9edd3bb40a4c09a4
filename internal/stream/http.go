package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/satindergrewal/drumseq/internal/audio"
)

// MonitorHandler serves the rendered drum bus as a chunked MP3 stream.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type MonitorHandler struct {
	frames *Broadcaster[[]int16]
	log    *log.Logger
}

// NewMonitorHandler creates an HTTP monitor handler fed by frames.
func NewMonitorHandler(frames *Broadcaster[[]int16], logger *log.Logger) *MonitorHandler {
	return &MonitorHandler{frames: frames, log: logger.With("component", "monitor")}
}

func (h *MonitorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "drumseq monitor")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error("stdin pipe", "err", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error("stdout pipe", "err", err)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Error("ffmpeg start", "err", err)
		return
	}

	listener := h.frames.Subscribe()
	defer h.frames.Unsubscribe(listener)

	h.log.Info("monitor connected", "id", listener.ID, "total", h.frames.ListenerCount())
	defer h.log.Info("monitor disconnected", "id", listener.ID)

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-listener.C:
				if !ok {
					return
				}
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Warn("ffmpeg read", "err", err)
			}
			break
		}
	}

	cancel()
	_ = cmd.Wait()
}
