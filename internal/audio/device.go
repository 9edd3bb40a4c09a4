package audio

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Renderer fills an interleaved stereo buffer.
type Renderer interface {
	Render(out []float32)
}

// Device plays a Renderer on the default sound card.
type Device struct {
	ctx    *oto.Context
	player *oto.Player
}

// OpenDevice starts playback of r. The oto context pulls audio from r on its
// own goroutine.
func OpenDevice(r Renderer, buffer time.Duration) (*Device, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready

	player := ctx.NewPlayer(&renderReader{r: r, buf: make([]float32, FrameSamples)})
	player.Play()
	return &Device{ctx: ctx, player: player}, nil
}

// Close stops playback.
func (d *Device) Close() error {
	if err := d.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

// renderReader exposes a Renderer as the float32 LE byte stream oto expects.
type renderReader struct {
	r   Renderer
	buf []float32
}

func (rr *renderReader) Read(p []byte) (int, error) {
	n := len(p) / 4
	n -= n % Channels
	if n == 0 {
		return 0, nil
	}
	if n > len(rr.buf) {
		rr.buf = make([]float32, n)
	}
	buf := rr.buf[:n]
	rr.r.Render(buf)
	putFloats(p, buf)
	return n * 4, nil
}
