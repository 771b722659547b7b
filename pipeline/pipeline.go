// Package pipeline defines the stage contracts of the transcoding pipeline
// (source, decoder, transform, encoder, sink) and a Session that drives
// them: demuxed packets fan out to per-type lanes, each lane owns its stages
// exclusively, and the shared clock tracks playback position.
//
// Stages are single-threaded: an instance may move between goroutines but is
// never used from two at once. Backpressure is caller-driven; a stage
// dropped with buffered data simply loses that data.
package pipeline

import (
	"time"

	"github.com/zsiec/tempo/media"
)

// Source demuxes a container into a single interleaved packet stream.
//
// NextPacket returns packets with non-decreasing DTS per stream type; the
// epoch restarts after a successful Seek. It returns media.EOF once the
// container is exhausted.
//
// Seek moves to the latest keyframe at or before pos, so the first video
// packet returned afterwards is a keyframe. Seeking past the end of stream
// fails with an out-of-range error; a failed seek leaves the read position
// unchanged.
type Source interface {
	// VideoStream returns the video stream description, its codec
	// configuration, and whether a video stream exists.
	VideoStream() (media.VideoStreamInfo, *media.CodecConfig, bool)

	// AudioStream returns the audio stream description, its codec
	// configuration, and whether an audio stream exists.
	AudioStream() (media.AudioStreamInfo, *media.CodecConfig, bool)

	// Duration returns the total stream duration, or 0 when unknown.
	Duration() time.Duration

	NextPacket() (*media.Packet, error)
	Seek(pos time.Duration) error
	Close() error
}

// VideoDecoder turns compressed packets into presentation-ordered frames.
//
// Decode may return zero frames while the decoder builds up reference state,
// and more than one when reordering resolves. Flush drains all buffered
// frames and moves the decoder to its drained state; further Decode calls
// fail until Reset. Reset discards every buffered frame and returns the
// decoder to its ready state, keeping the configuration.
type VideoDecoder interface {
	Decode(pkt *media.Packet) ([]*media.VideoFrame, error)
	Flush() ([]*media.VideoFrame, error)
	Reset()

	// HWAccelerated reports whether hardware decoding is actually in use.
	// A decoder built with a hardware preference that fell back to software
	// returns false.
	HWAccelerated() bool

	Close() error
}

// AudioDecoder is the audio counterpart of VideoDecoder.
type AudioDecoder interface {
	Decode(pkt *media.Packet) ([]*media.AudioFrame, error)
	Flush() ([]*media.AudioFrame, error)
	Reset()
	Close() error
}

// VideoTransformer converts one frame to the configured size and pixel
// format. The conversion context is rebuilt transparently when the input
// frame's declared shape changes.
type VideoTransformer interface {
	Transform(f *media.VideoFrame) (*media.VideoFrame, error)
}

// AudioTransformer converts sample rate, channel layout, and sample format.
// Resampling may hold fractional output: Transform may return nil when the
// input is wholly buffered, and Flush returns the remainder (nil when there
// is none).
type AudioTransformer interface {
	Transform(f *media.AudioFrame) (*media.AudioFrame, error)
	Flush() (*media.AudioFrame, error)
}

// VideoEncoder turns frames into compressed packets. Encode may buffer for
// lookahead and return zero or more packets; Flush drains the remainder.
// Every returned packet satisfies DTS <= PTS. StreamInfo is valid
// immediately after construction.
type VideoEncoder interface {
	Encode(f *media.VideoFrame) ([]*media.Packet, error)
	Flush() ([]*media.Packet, error)
	StreamInfo() media.VideoStreamInfo
	CodecConfig() *media.CodecConfig
	Close() error
}

// AudioEncoder is the audio counterpart of VideoEncoder.
type AudioEncoder interface {
	Encode(f *media.AudioFrame) ([]*media.Packet, error)
	Flush() ([]*media.Packet, error)
	StreamInfo() media.AudioStreamInfo
	CodecConfig() *media.CodecConfig
	Close() error
}

// Sink writes packets to a container in exactly the order Write is called.
// Finish finalizes the container and consumes the sink: subsequent writes
// fail with a closed-resource error.
type Sink interface {
	Write(pkt *media.Packet) error
	Finish() error
}
