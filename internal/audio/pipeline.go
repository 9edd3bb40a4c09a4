package audio

import (
	"context"
	"sync"
	"time"
)

// Pipeline renders a Renderer at real-time rate into 20ms PCM frames for
// the monitor stream.
type Pipeline struct {
	r       Renderer
	frameCh chan []int16

	mu       sync.RWMutex
	rendered uint64
	peak     float32
}

// NewPipeline creates a pipeline pulling audio from r.
func NewPipeline(r Renderer) *Pipeline {
	return &Pipeline{
		r:       r,
		frameCh: make(chan []int16, 100),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Status returns how much audio has been rendered and the peak level of the
// last frame.
func (p *Pipeline) Status() (rendered time.Duration, peak float32) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.rendered) * FrameDuration, p.peak
}

// Run renders frames until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	buf := make([]float32, FrameSamples)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.r.Render(buf)
		frame := make([]int16, FrameSamples)
		ToPCM16(frame, buf)
		p.update(buf)

		select {
		case p.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) update(buf []float32) {
	var peak float32
	for _, v := range buf {
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	p.mu.Lock()
	p.rendered++
	p.peak = peak
	p.mu.Unlock()
}
