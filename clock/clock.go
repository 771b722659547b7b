// Package clock provides playback-position clocks for audio/video
// synchronization. A renderer polls Position every frame to decide what to
// present; the audio output (or wall time) drives the clock forward.
//
// Clocks are the one shared-mutable structure in the pipeline: one writer
// thread advances them while any number of reader threads poll Position
// concurrently, with no synchronization required from the caller.
package clock

import "time"

// Clock reports the current playback position.
type Clock interface {
	// Position returns the current playback position.
	Position() time.Duration

	// ResetTo forces the clock to a new position, e.g. after a seek.
	ResetTo(pos time.Duration)
}
