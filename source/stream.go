package source

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/mpegts"
)

// StreamSource is a forward-only MPEG-TS source for network ingest. It probes
// the program layout on open; duration is unknown and seeking is not
// supported.
type StreamSource struct {
	*tsReader

	closer io.Closer
	closed bool
}

// StreamOption configures a StreamSource.
type StreamOption func(*StreamSource)

// WithStreamLogger sets the source logger. Defaults to slog.Default().
func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(s *StreamSource) { s.log = l.With("component", "source") }
}

// NewStream creates a source over a forward-only reader and probes it. When r
// is also an io.Closer, Close closes it.
func NewStream(ctx context.Context, r io.Reader, opts ...StreamOption) (*StreamSource, error) {
	s := &StreamSource{
		tsReader: newTSReader(mpegts.NewDemuxer(ctx, r), slog.Default().With("component", "source")),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tsReader.log = s.log

	if err := s.probe(); err != nil {
		return nil, err
	}
	return s, nil
}

// VideoStream returns the probed video stream description.
func (s *StreamSource) VideoStream() (media.VideoStreamInfo, *media.CodecConfig, bool) {
	return s.videoStream()
}

// AudioStream returns the probed audio stream description.
func (s *StreamSource) AudioStream() (media.AudioStreamInfo, *media.CodecConfig, bool) {
	return s.audioStream()
}

// Duration returns 0; a live stream has no known length.
func (s *StreamSource) Duration() time.Duration { return 0 }

// NextPacket returns the next packet in arrival order, or media.EOF.
func (s *StreamSource) NextPacket() (*media.Packet, error) {
	if s.closed {
		return nil, media.Closed("source")
	}
	return s.next()
}

// Seek always fails; the underlying transport cannot rewind.
func (s *StreamSource) Seek(pos time.Duration) error {
	return media.Unsupportedf("seek on a forward-only stream")
}

// Close releases the underlying transport.
func (s *StreamSource) Close() error {
	if s.closed {
		return media.Closed("source")
	}
	s.closed = true
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return media.IOErr(err)
		}
	}
	return nil
}
