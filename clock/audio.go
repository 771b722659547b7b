package clock

import (
	"sync/atomic"
	"time"

	"github.com/zsiec/tempo/media"
)

// finishAnchor snapshots the position at the moment the audio stream ended.
// After that point the clock extrapolates from wall time so video can keep
// presenting past the last audio sample.
type finishAnchor struct {
	position time.Duration
	wall     time.Time
}

// AudioClock derives the playback position from the number of audio sample
// frames handed to the output device. One goroutine calls AddSamples and
// MarkFinished; any number of goroutines may call Position concurrently.
type AudioClock struct {
	sampleRate int
	tb         media.Rational

	frames   atomic.Int64
	finished atomic.Pointer[finishAnchor]
}

// NewAudioClock returns a clock at position zero. sampleRate must be
// positive.
func NewAudioClock(sampleRate int) *AudioClock {
	if sampleRate <= 0 {
		panic("clock: sample rate must be positive")
	}
	return &AudioClock{
		sampleRate: sampleRate,
		tb:         media.NewRational(1, sampleRate),
	}
}

// AddSamples advances the clock by n sample frames. A frame is one sample
// per channel, so the channel count never affects the position.
func (c *AudioClock) AddSamples(n int64) {
	if n <= 0 {
		return
	}
	c.frames.Add(n)
}

// Position returns the playback position. While the stream is running it is
// frames/sampleRate; after MarkFinished it advances with wall time from the
// finish anchor.
func (c *AudioClock) Position() time.Duration {
	if a := c.finished.Load(); a != nil {
		return a.position + time.Since(a.wall)
	}
	return media.Pts(c.frames.Load()).ToDuration(c.tb)
}

// MarkFinished switches the clock to wall-time extrapolation, anchored at the
// current position. Subsequent calls are no-ops.
func (c *AudioClock) MarkFinished() {
	a := &finishAnchor{
		position: media.Pts(c.frames.Load()).ToDuration(c.tb),
		wall:     time.Now(),
	}
	c.finished.CompareAndSwap(nil, a)
}

// Finished reports whether MarkFinished has been called since the last reset.
func (c *AudioClock) Finished() bool {
	return c.finished.Load() != nil
}

// ResetTo moves the clock to pos and clears any finished state. Called after
// a seek, once the source is positioned and downstream stages are flushed.
func (c *AudioClock) ResetTo(pos time.Duration) {
	c.frames.Store(int64(media.PtsFromDuration(pos, c.tb)))
	c.finished.Store(nil)
}

// SampleRate returns the rate the clock was created with.
func (c *AudioClock) SampleRate() int { return c.sampleRate }
