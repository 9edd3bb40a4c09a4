package audio

import (
	"sync/atomic"
)

const (
	// Audible is the gain below which a voice is pruned.
	Audible = 1e-4
	// chokeFade is how many frames a choked voice takes to fade out (5ms).
	chokeFade = SampleRate / 200
)

// Gain maps a slot velocity to a linear voice gain.
func Gain(velocity uint8) float32 {
	return float32(velocity) / 127
}

// Trigger asks the pool to start a voice.
type Trigger struct {
	Sample *Sample
	Gain   float32
	Track  int
	Choke  int // voices on other tracks in the same non-zero group are released
}

type voice struct {
	active bool
	sample *Sample
	pos    int // index into sample.Data
	gain   float32
	track  int
	choke  int
	fade   int // remaining fade frames once released, -1 while held
	seq    uint64
}

// Pool mixes a fixed number of voices. Triggers may be sent from any
// goroutine; Render must only be called from the audio goroutine.
type Pool struct {
	triggers chan Trigger
	voices   []voice
	seq      uint64

	active  atomic.Int32
	culled  atomic.Uint64
	dropped atomic.Uint64
}

// NewPool creates a pool with room for maxVoices overlapping voices.
func NewPool(maxVoices int) *Pool {
	return &Pool{
		triggers: make(chan Trigger, maxVoices*4),
		voices:   make([]voice, maxVoices),
	}
}

// Trigger queues a voice for the next Render. It never blocks; when the
// queue is full the trigger is dropped and false is returned.
func (p *Pool) Trigger(t Trigger) bool {
	if t.Sample == nil || t.Gain < Audible {
		return false
	}
	select {
	case p.triggers <- t:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Active returns the number of sounding voices after the last Render.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Culled returns how many voices were stolen because the pool was full.
func (p *Pool) Culled() uint64 { return p.culled.Load() }

// Dropped returns how many triggers were lost to a full queue.
func (p *Pool) Dropped() uint64 { return p.dropped.Load() }

// Render mixes all voices into out, interleaved stereo. It does not allocate.
func (p *Pool) Render(out []float32) {
	clear(out)

drain:
	for {
		select {
		case t := <-p.triggers:
			p.spawn(t)
		default:
			break drain
		}
	}

	var n int32
	for i := range p.voices {
		v := &p.voices[i]
		if !v.active {
			continue
		}
		v.mix(out)
		if v.active {
			n++
		}
	}
	p.active.Store(n)
}

func (p *Pool) spawn(t Trigger) {
	if t.Choke != 0 {
		for i := range p.voices {
			v := &p.voices[i]
			if v.active && v.choke == t.Choke && v.track != t.Track && v.fade < 0 {
				v.fade = chokeFade
			}
		}
	}

	slot := -1
	oldest := -1
	for i := range p.voices {
		if !p.voices[i].active {
			slot = i
			break
		}
		if oldest < 0 || p.voices[i].seq < p.voices[oldest].seq {
			oldest = i
		}
	}
	if slot < 0 {
		if oldest < 0 {
			return
		}
		slot = oldest
		p.culled.Add(1)
	}

	p.seq++
	p.voices[slot] = voice{
		active: true,
		sample: t.Sample,
		gain:   t.Gain,
		track:  t.Track,
		choke:  t.Choke,
		fade:   -1,
		seq:    p.seq,
	}
}

func (v *voice) mix(out []float32) {
	data := v.sample.Data
	level := float32(1)
	for i := 0; i+1 < len(out); i += Channels {
		if v.pos+1 >= len(data) {
			v.active = false
			return
		}
		if v.fade >= 0 {
			if v.fade == 0 {
				v.active = false
				return
			}
			level = float32(Smoothstep(float64(v.fade) / chokeFade))
			v.fade--
		}
		g := v.gain * level
		out[i] += data[v.pos] * g
		out[i+1] += data[v.pos+1] * g
		v.pos += Channels
	}
	if v.pos+1 >= len(data) || v.gain*level < Audible {
		v.active = false
	}
}
