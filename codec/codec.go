// Package codec provides shared machinery for decoder and encoder
// implementations: the stage lifecycle, a presentation-order reorder queue
// for decoded video, and hardware preference resolution.
package codec

import (
	"log/slog"
	"sort"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

// State is the lifecycle position of a decoder or encoder.
type State int

const (
	StateReady State = iota
	StateFlushing
	StateDrained
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFlushing:
		return "flushing"
	case StateDrained:
		return "drained"
	default:
		return "unknown"
	}
}

// Lifecycle tracks the Ready, Flushing, Drained progression every decoder
// and encoder follows. Zero value is Ready.
type Lifecycle struct {
	state State
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State { return l.state }

// CheckReady fails when the stage has left its ready state, naming the stage
// in the error.
func (l *Lifecycle) CheckReady(stage string) error {
	if l.state != StateReady {
		return media.Codecf("%s is %s; Reset required before further input", stage, l.state)
	}
	return nil
}

// BeginFlush moves Ready to Flushing. Flushing twice is an error; the stage
// is already drained.
func (l *Lifecycle) BeginFlush(stage string) error {
	if l.state != StateReady {
		return media.Codecf("%s is already %s", stage, l.state)
	}
	l.state = StateFlushing
	return nil
}

// FinishFlush moves Flushing to Drained.
func (l *Lifecycle) FinishFlush() {
	if l.state == StateFlushing {
		l.state = StateDrained
	}
}

// Reset returns the stage to Ready from any state.
func (l *Lifecycle) Reset() { l.state = StateReady }

// ReorderQueue buffers decoded video frames and releases them in
// presentation order. Depth bounds how many frames are held back waiting for
// earlier presentation times; a depth of 0 passes frames through.
type ReorderQueue struct {
	depth  int
	frames []*media.VideoFrame
}

// NewReorderQueue creates a queue holding up to depth frames. Negative depth
// is treated as 0.
func NewReorderQueue(depth int) *ReorderQueue {
	if depth < 0 {
		depth = 0
	}
	return &ReorderQueue{depth: depth}
}

// Push inserts a frame and returns every frame whose order is now settled.
// Frames without a PTS are released immediately, ahead of the queue.
func (q *ReorderQueue) Push(f *media.VideoFrame) []*media.VideoFrame {
	if f == nil {
		return nil
	}
	if f.PTS == media.NoPts {
		return []*media.VideoFrame{f}
	}

	i := sort.Search(len(q.frames), func(i int) bool {
		return q.frames[i].PTS > f.PTS
	})
	q.frames = append(q.frames, nil)
	copy(q.frames[i+1:], q.frames[i:])
	q.frames[i] = f

	var out []*media.VideoFrame
	for len(q.frames) > q.depth {
		out = append(out, q.frames[0])
		q.frames = q.frames[1:]
	}
	return out
}

// Drain returns all buffered frames in presentation order and empties the
// queue.
func (q *ReorderQueue) Drain() []*media.VideoFrame {
	out := q.frames
	q.frames = nil
	return out
}

// Reset discards all buffered frames.
func (q *ReorderQueue) Reset() { q.frames = nil }

// Len returns the number of buffered frames.
func (q *ReorderQueue) Len() int { return len(q.frames) }

// ResolveHW resolves a decoder's hardware preference at construction time.
// probe attempts to open the device; when it fails, the decoder falls back
// to software and the returned device is HWNone.
func ResolveHW(cfg pipeline.DecoderConfig, log *slog.Logger, probe func(pipeline.HWDevice) error) pipeline.HWDevice {
	if !cfg.PreferHW || cfg.Device == pipeline.HWNone {
		return pipeline.HWNone
	}
	if probe == nil {
		return pipeline.HWNone
	}
	if err := probe(cfg.Device); err != nil {
		log.Debug("hardware device unavailable, falling back to software",
			"device", cfg.Device, "error", err)
		return pipeline.HWNone
	}
	return cfg.Device
}
