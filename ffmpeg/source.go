//go:build cgo

package ffmpeg

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

// Source demuxes any container libavformat can open: local files, network
// URLs, devices. The first video and first audio stream are exposed; other
// streams are skipped during reading.
type Source struct {
	log *slog.Logger
	fc  *astiav.FormatContext
	pkt *astiav.Packet

	videoIdx  int
	audioIdx  int
	videoInfo media.VideoStreamInfo
	audioInfo media.AudioStreamInfo
	videoCfg  *media.CodecConfig
	audioCfg  *media.CodecConfig

	duration time.Duration
	closed   bool
}

// SourceOption configures a Source.
type SourceOption func(*sourceOptions)

type sourceOptions struct {
	log    *slog.Logger
	format *astiav.InputFormat
}

// WithSourceLogger sets the logger. Defaults to slog.Default().
func WithSourceLogger(l *slog.Logger) SourceOption {
	return func(o *sourceOptions) { o.log = l }
}

// WithInputFormat forces the container format instead of probing, by the
// name libavformat registers it under (e.g. "mpegts").
func WithInputFormat(name string) SourceOption {
	return func(o *sourceOptions) { o.format = astiav.FindInputFormat(name) }
}

// Open opens url for demuxing.
func Open(ctx context.Context, url string, opts ...SourceOption) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, media.IOErr(err)
	}
	o := sourceOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, media.Codecf("allocating format context")
	}
	if err := fc.OpenInput(url, o.format, nil); err != nil {
		fc.Free()
		return nil, media.IOErr(err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, ffErr("probing streams", err)
	}

	s := &Source{
		log:      o.log.With("component", "ffmpeg-source"),
		fc:       fc,
		pkt:      astiav.AllocPacket(),
		videoIdx: -1,
		audioIdx: -1,
	}
	for _, st := range fc.Streams() {
		cp := st.CodecParameters()
		switch cp.MediaType() {
		case astiav.MediaTypeVideo:
			if s.videoIdx >= 0 {
				continue
			}
			s.videoIdx = st.Index()
			s.videoInfo = media.VideoStreamInfo{
				Width:     cp.Width(),
				Height:    cp.Height(),
				Format:    fromPixelFormat(cp.PixelFormat()),
				TimeBase:  fromRational(st.TimeBase()),
				FrameRate: fromRational(st.AvgFrameRate()),
				Codec:     fromCodecID(cp.CodecID()),
			}
			if d := st.Duration(); d > 0 {
				s.videoInfo.Duration = media.MediaDuration(d)
			}
			s.videoCfg = media.NewVideoCodecConfig(s.videoInfo, cp.ExtraData())
		case astiav.MediaTypeAudio:
			if s.audioIdx >= 0 {
				continue
			}
			s.audioIdx = st.Index()
			format, _ := fromSampleFormat(cp.SampleFormat())
			s.audioInfo = media.AudioStreamInfo{
				SampleRate: cp.SampleRate(),
				Layout:     media.LayoutForChannels(cp.ChannelLayout().Channels()),
				Format:     format,
				TimeBase:   fromRational(st.TimeBase()),
				Codec:      fromCodecID(cp.CodecID()),
			}
			if d := st.Duration(); d > 0 {
				s.audioInfo.Duration = media.MediaDuration(d)
			}
			s.audioCfg = media.NewAudioCodecConfig(s.audioInfo, cp.ExtraData())
		}
	}
	if s.videoIdx < 0 && s.audioIdx < 0 {
		s.Close()
		return nil, media.Unsupportedf("no video or audio stream in %q", url)
	}

	if d := fc.Duration(); d > 0 {
		s.duration = time.Duration(d) * time.Microsecond
	}
	s.log.Debug("source opened",
		"url", url,
		"video", s.videoIdx >= 0,
		"audio", s.audioIdx >= 0,
		"duration", s.duration)
	return s, nil
}

// VideoStream returns the video stream description.
func (s *Source) VideoStream() (media.VideoStreamInfo, *media.CodecConfig, bool) {
	return s.videoInfo, s.videoCfg, s.videoIdx >= 0
}

// AudioStream returns the audio stream description.
func (s *Source) AudioStream() (media.AudioStreamInfo, *media.CodecConfig, bool) {
	return s.audioInfo, s.audioCfg, s.audioIdx >= 0
}

// Duration returns the container duration, or 0 when unknown.
func (s *Source) Duration() time.Duration { return s.duration }

// NextPacket returns the next packet of the exposed streams in demux order.
func (s *Source) NextPacket() (*media.Packet, error) {
	if s.closed {
		return nil, media.Closed("source")
	}
	for {
		s.pkt.Unref()
		if err := s.fc.ReadFrame(s.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				return nil, media.EOF
			}
			return nil, media.IOErr(err)
		}

		var typ media.StreamType
		var tb media.Rational
		switch s.pkt.StreamIndex() {
		case s.videoIdx:
			typ, tb = media.StreamVideo, s.videoInfo.TimeBase
		case s.audioIdx:
			typ, tb = media.StreamAudio, s.audioInfo.TimeBase
		default:
			continue
		}

		return &media.Packet{
			Data:     append([]byte(nil), s.pkt.Data()...),
			PTS:      fromTimestamp(s.pkt.Pts()),
			DTS:      fromTimestamp(s.pkt.Dts()),
			Duration: media.MediaDuration(s.pkt.Duration()),
			TimeBase: tb,
			Keyframe: s.pkt.Flags().Has(astiav.PacketFlagKey),
			Type:     typ,
		}, nil
	}
}

// Seek moves to the latest keyframe at or before pos.
func (s *Source) Seek(pos time.Duration) error {
	if s.closed {
		return media.Closed("source")
	}
	if pos < 0 {
		pos = 0
	}
	if s.duration > 0 && pos > s.duration {
		return media.OutOfRange("seek to %v past end of stream %v", pos, s.duration)
	}
	ts := pos.Microseconds()
	if err := s.fc.SeekFrame(-1, ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return media.IOErr(err)
	}
	s.log.Debug("seeked", "pos", pos)
	return nil
}

// Close releases the demuxer. The source is unusable afterwards.
func (s *Source) Close() error {
	if s.closed {
		return media.Closed("source")
	}
	s.closed = true
	if s.pkt != nil {
		s.pkt.Free()
	}
	s.fc.CloseInput()
	s.fc.Free()
	return nil
}

var _ pipeline.Source = (*Source)(nil)
