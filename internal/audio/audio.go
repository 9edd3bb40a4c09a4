// Package audio holds decoded samples and mixes playback voices.
package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Sample is a decoded sound, interleaved stereo float32 at SampleRate.
type Sample struct {
	Path string
	Data []float32
}

// Frames returns the number of stereo frames in the sample.
func (s *Sample) Frames() int {
	return len(s.Data) / Channels
}

// Duration returns the playback length of the sample.
func (s *Sample) Duration() time.Duration {
	return time.Duration(s.Frames()) * time.Second / SampleRate
}
