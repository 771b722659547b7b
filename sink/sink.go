// Package sink implements the container sink contract: an MPEG-TS sink over
// an io.Writer and a keyframe-aligned HLS segmenter. MP4 and Matroska have
// no pure-Go muxer here; the ffmpeg package provides them.
package sink

import (
	"io"
	"log/slog"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/mpegts"
	"github.com/zsiec/tempo/pipeline"
)

// New creates a sink for cfg over w. Only the MPEG-TS container is
// stream-writable; HLS needs a directory, use NewHLS.
func New(w io.Writer, cfg pipeline.SinkConfig, opts ...Option) (pipeline.Sink, error) {
	switch cfg.Format {
	case pipeline.ContainerMpegTS:
		return NewTS(w, cfg, opts...)
	case pipeline.ContainerHLS:
		return nil, media.InvalidDataf("HLS writes a directory, use NewHLS")
	default:
		return nil, media.Unsupportedf("container %s has no pure-Go muxer, use the ffmpeg sink", cfg.Format)
	}
}

// Option configures a sink.
type Option func(*sinkOptions)

type sinkOptions struct {
	log *slog.Logger
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *sinkOptions) { o.log = l }
}

func buildOptions(opts []Option) sinkOptions {
	o := sinkOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TSSink muxes packets into a single MPEG-TS byte stream. Writes happen
// strictly in call order; Finish consumes the sink.
type TSSink struct {
	log      *slog.Logger
	mux      *mpegts.Muxer
	videoPID uint16
	audioPID uint16
	finished bool
}

// NewTS creates an MPEG-TS sink over w for the streams cfg declares. At
// least one of cfg.Video and cfg.Audio must be set.
func NewTS(w io.Writer, cfg pipeline.SinkConfig, opts ...Option) (*TSSink, error) {
	if cfg.Video == nil && cfg.Audio == nil {
		return nil, media.InvalidDataf("sink needs at least one stream")
	}

	o := buildOptions(opts)
	s := &TSSink{
		log: o.log.With("component", "ts-sink"),
		mux: mpegts.NewMuxer(w),
	}

	if cfg.Video != nil {
		pid, err := s.mux.AddStream(cfg.Video.Codec)
		if err != nil {
			return nil, err
		}
		s.videoPID = pid
	}
	if cfg.Audio != nil {
		pid, err := s.mux.AddStream(cfg.Audio.Codec)
		if err != nil {
			return nil, err
		}
		s.audioPID = pid
	}
	return s, nil
}

// Write muxes one packet. Timestamps are rescaled to the transport 90 kHz
// base.
func (s *TSSink) Write(pkt *media.Packet) error {
	if s.finished {
		return media.Closed("sink")
	}
	if pkt == nil || len(pkt.Data) == 0 {
		return media.InvalidDataf("empty packet")
	}

	var pid uint16
	switch {
	case pkt.IsVideo() && s.videoPID != 0:
		pid = s.videoPID
	case pkt.IsAudio() && s.audioPID != 0:
		pid = s.audioPID
	default:
		return media.InvalidDataf("packet type %v has no stream in this sink", pkt.Type)
	}

	pts := rescaleTo90k(pkt.PTS, pkt.TimeBase)
	dts := rescaleTo90k(pkt.DTS, pkt.TimeBase)
	return s.mux.WritePES(pid, pkt.Data, pts, dts, pkt.Keyframe)
}

// Finish finalizes the stream and consumes the sink.
func (s *TSSink) Finish() error {
	if s.finished {
		return media.Closed("sink")
	}
	s.finished = true
	s.log.Debug("stream finished")
	return nil
}

func rescaleTo90k(p media.Pts, tb media.Rational) media.Pts {
	if p == media.NoPts {
		return media.NoPts
	}
	if tb == media.TimeBase90kHz {
		return p
	}
	return media.PtsFromDuration(p.ToDuration(tb), media.TimeBase90kHz)
}
