//go:build cgo

package ffmpeg

import (
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

// Sink muxes packets through libavformat into any container it can write:
// MP4, Matroska, MPEG-TS, or HLS. For HLS the path names the playlist file;
// segments are written next to it.
type Sink struct {
	log *slog.Logger
	fc  *astiav.FormatContext
	io  *astiav.IOContext
	pkt *astiav.Packet

	video *sinkStream
	audio *sinkStream

	finished bool
}

type sinkStream struct {
	st *astiav.Stream
	tb media.Rational
}

// SinkOption configures a Sink.
type SinkOption func(*sinkOptions)

type sinkOptions struct {
	log      *slog.Logger
	videoCfg *media.CodecConfig
	audioCfg *media.CodecConfig
}

// WithSinkLogger sets the logger. Defaults to slog.Default().
func WithSinkLogger(l *slog.Logger) SinkOption {
	return func(o *sinkOptions) { o.log = l }
}

// WithVideoCodecConfig supplies the video stream's codec initialization
// data (e.g. H.264 parameter sets). MP4 and Matroska need it; MPEG-TS does
// not.
func WithVideoCodecConfig(c *media.CodecConfig) SinkOption {
	return func(o *sinkOptions) { o.videoCfg = c }
}

// WithAudioCodecConfig supplies the audio stream's codec initialization
// data.
func WithAudioCodecConfig(c *media.CodecConfig) SinkOption {
	return func(o *sinkOptions) { o.audioCfg = c }
}

// NewSink creates a sink writing the container cfg.Format to path.
func NewSink(path string, cfg pipeline.SinkConfig, opts ...SinkOption) (*Sink, error) {
	if cfg.Video == nil && cfg.Audio == nil {
		return nil, media.InvalidDataf("sink needs at least one stream")
	}
	o := sinkOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	fc, err := astiav.AllocOutputFormatContext(nil, cfg.Format.String(), path)
	if err != nil {
		return nil, media.Unsupportedf("container %s: %v", cfg.Format, err)
	}
	s := &Sink{
		log: o.log.With("component", "ffmpeg-sink"),
		fc:  fc,
		pkt: astiav.AllocPacket(),
	}

	if cfg.Video != nil {
		s.video, err = s.addVideoStream(cfg.Video, o.videoCfg)
		if err != nil {
			s.free()
			return nil, err
		}
	}
	if cfg.Audio != nil {
		s.audio, err = s.addAudioStream(cfg.Audio, o.audioCfg)
		if err != nil {
			s.free()
			return nil, err
		}
	}

	if !fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		s.io, err = astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite))
		if err != nil {
			s.free()
			return nil, media.IOErr(err)
		}
		fc.SetPb(s.io)
	}

	var dict *astiav.Dictionary
	if cfg.Format == pipeline.ContainerHLS {
		segDur := cfg.SegmentDuration
		if segDur <= 0 {
			segDur = pipeline.DefaultHLSSegmentDuration
		}
		dict = astiav.NewDictionary()
		defer dict.Free()
		if err := dict.Set("hls_time", fmt.Sprintf("%d", int(segDur.Seconds())), astiav.NewDictionaryFlags()); err != nil {
			s.free()
			return nil, media.InvalidDataf("hls_time: %v", err)
		}
	}
	if err := fc.WriteHeader(dict); err != nil {
		s.free()
		return nil, ffErr("writing container header", err)
	}

	s.log.Debug("sink opened", "path", path, "container", cfg.Format)
	return s, nil
}

func (s *Sink) addVideoStream(info *media.VideoStreamInfo, cfg *media.CodecConfig) (*sinkStream, error) {
	id, ok := toCodecID(info.Codec)
	if !ok {
		return nil, media.Unsupportedf("video codec %s", info.Codec)
	}
	st := s.fc.NewStream(nil)
	if st == nil {
		return nil, media.Codecf("allocating stream")
	}
	cp := st.CodecParameters()
	cp.SetMediaType(astiav.MediaTypeVideo)
	cp.SetCodecID(id)
	cp.SetWidth(info.Width)
	cp.SetHeight(info.Height)
	if cfg != nil && len(cfg.Extradata()) > 0 {
		if err := cp.SetExtraData(cfg.Extradata()); err != nil {
			return nil, media.Codecf("setting extradata: %v", err)
		}
	}

	tb := info.TimeBase
	if tb.IsZero() {
		tb = media.TimeBase90kHz
	}
	st.SetTimeBase(toRational(tb))
	return &sinkStream{st: st, tb: tb}, nil
}

func (s *Sink) addAudioStream(info *media.AudioStreamInfo, cfg *media.CodecConfig) (*sinkStream, error) {
	id, ok := toCodecID(info.Codec)
	if !ok {
		return nil, media.Unsupportedf("audio codec %s", info.Codec)
	}
	st := s.fc.NewStream(nil)
	if st == nil {
		return nil, media.Codecf("allocating stream")
	}
	cp := st.CodecParameters()
	cp.SetMediaType(astiav.MediaTypeAudio)
	cp.SetCodecID(id)
	cp.SetSampleRate(info.SampleRate)
	if cl, ok := toChannelLayout(info.Layout); ok {
		cp.SetChannelLayout(cl)
	}
	if sf, ok := toSampleFormat(info.Format, false); ok {
		cp.SetSampleFormat(sf)
	}
	if cfg != nil && len(cfg.Extradata()) > 0 {
		if err := cp.SetExtraData(cfg.Extradata()); err != nil {
			return nil, media.Codecf("setting extradata: %v", err)
		}
	}

	tb := info.TimeBase
	if tb.IsZero() && info.SampleRate > 0 {
		tb = media.NewRational(1, info.SampleRate)
	}
	if tb.IsZero() {
		tb = media.TimeBase90kHz
	}
	st.SetTimeBase(toRational(tb))
	return &sinkStream{st: st, tb: tb}, nil
}

// Write muxes one packet. Timestamps are rescaled from the packet's time
// base to the container stream's.
func (s *Sink) Write(pkt *media.Packet) error {
	if s.finished {
		return media.Closed("sink")
	}
	if pkt == nil || len(pkt.Data) == 0 {
		return media.InvalidDataf("empty packet")
	}

	var stream *sinkStream
	switch {
	case pkt.IsVideo() && s.video != nil:
		stream = s.video
	case pkt.IsAudio() && s.audio != nil:
		stream = s.audio
	default:
		return media.InvalidDataf("packet type %v has no stream in this sink", pkt.Type)
	}

	if err := s.pkt.FromData(pkt.Data); err != nil {
		return media.Codecf("packet data: %v", err)
	}
	s.pkt.SetPts(toTimestamp(pkt.PTS))
	s.pkt.SetDts(toTimestamp(pkt.DTS))
	s.pkt.SetDuration(int64(pkt.Duration))
	if !pkt.TimeBase.IsZero() {
		s.pkt.RescaleTs(toRational(pkt.TimeBase), stream.st.TimeBase())
	}
	s.pkt.SetStreamIndex(stream.st.Index())
	if pkt.Keyframe {
		s.pkt.SetFlags(s.pkt.Flags().Add(astiav.PacketFlagKey))
	}

	if err := s.fc.WriteInterleavedFrame(s.pkt); err != nil {
		return media.IOErr(err)
	}
	return nil
}

// Finish flushes interleaving buffers, writes the container trailer, and
// consumes the sink.
func (s *Sink) Finish() error {
	if s.finished {
		return media.Closed("sink")
	}
	s.finished = true

	if err := s.fc.WriteTrailer(); err != nil {
		s.free()
		return media.IOErr(err)
	}
	s.free()
	s.log.Debug("container finalized")
	return nil
}

func (s *Sink) free() {
	if s.pkt != nil {
		s.pkt.Free()
		s.pkt = nil
	}
	if s.io != nil {
		s.io.Close()
		s.io = nil
	}
	if s.fc != nil {
		s.fc.Free()
		s.fc = nil
	}
}

var _ pipeline.Sink = (*Sink)(nil)
