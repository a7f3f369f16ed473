package domain

import (
	"math"
	"time"
)

// AudioBuffer holds interleaved signed 16-bit PCM samples.
type AudioBuffer struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// NewAudioBuffer returns an empty buffer for the given format.
func NewAudioBuffer(sampleRate int, channels int) *AudioBuffer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &AudioBuffer{
		Samples:    make([]int16, 0, sampleRate*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Append adds samples to the end of the buffer.
func (b *AudioBuffer) Append(samples ...int16) {
	b.Samples = append(b.Samples, samples...)
}

// Frames returns the number of sample frames across all channels.
func (b *AudioBuffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration is derived from the frame count and never negative.
func (b *AudioBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// MinDBFS is the floor used for silence detection.
const MinDBFS = -96.0

// PeakDBFS converts the loudest sample to dBFS, clamped to [MinDBFS, 0].
func PeakDBFS(samples []int16) float64 {
	peak := 0.0
	for _, s := range samples {
		v := math.Abs(float64(s)) / 32768.0
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return MinDBFS
	}
	db := 20 * math.Log10(peak)
	if db < MinDBFS {
		return MinDBFS
	}
	if db > 0 {
		return 0
	}
	return db
}
