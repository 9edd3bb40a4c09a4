package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
)

// Decoder turns a sample file into interleaved float32 stereo at SampleRate.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]float32, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, path string) ([]float32, error)

func (f DecoderFunc) Decode(ctx context.Context, path string) ([]float32, error) {
	return f(ctx, path)
}

// FFmpeg decodes through the ffmpeg binary on PATH.
var FFmpeg = DecoderFunc(DecodeFile)

// DecodeFile runs FFmpeg to decode an audio file to raw float32 samples.
// Returns interleaved stereo samples at 48kHz.
func DecodeFile(ctx context.Context, path string) ([]float32, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	samples := bytesToFloats(out)
	// keep whole stereo frames only
	return samples[:len(samples)-len(samples)%Channels], nil
}

// ErrOutsideRoot rejects sample paths that leave the bank root.
var ErrOutsideRoot = errors.New("sample path outside the samples directory")

// Bank keeps decoded samples resident so triggering never touches disk.
// Paths are relative to the bank root and must stay inside it.
type Bank struct {
	root string
	dec  Decoder

	mu      sync.RWMutex
	samples map[string]*Sample
}

// NewBank creates an empty bank rooted at dir.
func NewBank(dir string, dec Decoder) *Bank {
	return &Bank{
		root:    dir,
		dec:     dec,
		samples: make(map[string]*Sample),
	}
}

// Load decodes path unless it is already resident.
func (b *Bank) Load(ctx context.Context, path string) (*Sample, error) {
	if !filepath.IsLocal(path) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	if s, ok := b.Get(path); ok {
		return s, nil
	}

	data, err := b.dec.Decode(ctx, filepath.Join(b.root, path))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("decode %s: no audio", path)
	}
	s := &Sample{Path: path, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.samples[path]; ok {
		return cur, nil
	}
	b.samples[path] = s
	return s, nil
}

// Get returns a resident sample.
func (b *Bank) Get(path string) (*Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.samples[path]
	return s, ok
}

// Len returns the number of resident samples.
func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}
