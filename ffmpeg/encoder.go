//go:build cgo

package ffmpeg

import (
	"errors"
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/tempo/codec"
	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

// EncoderOption configures an encoder.
type EncoderOption func(*encoderOptions)

type encoderOptions struct {
	log *slog.Logger
}

// WithEncoderLogger sets the logger. Defaults to slog.Default().
func WithEncoderLogger(l *slog.Logger) EncoderOption {
	return func(o *encoderOptions) { o.log = l }
}

func buildEncoderOptions(opts []EncoderOption) encoderOptions {
	o := encoderOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// VideoEncoder encodes raw frames through libavcodec. Timestamps are carried
// in the 90 kHz transport base; input frames in other bases are rescaled.
type VideoEncoder struct {
	log  *slog.Logger
	life codec.Lifecycle

	cc     *astiav.CodecContext
	info   media.VideoStreamInfo
	cfgOut *media.CodecConfig
	pixFmt astiav.PixelFormat

	fr     *astiav.Frame
	pkt    *astiav.Packet
	closed bool
}

// NewVideoEncoder creates an encoder for cfg. BitRate 0 and an empty Preset
// leave the codec defaults in place.
func NewVideoEncoder(cfg pipeline.VideoEncoderConfig, opts ...EncoderOption) (*VideoEncoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, media.InvalidDataf("frame size %dx%d", cfg.Width, cfg.Height)
	}
	id, ok := toCodecID(cfg.Codec)
	if !ok || !cfg.Codec.IsVideo() {
		return nil, media.Unsupportedf("video codec %s", cfg.Codec)
	}
	enc := astiav.FindEncoder(id)
	if enc == nil {
		return nil, media.Unsupportedf("no %s encoder in this FFmpeg build", cfg.Codec)
	}
	format := cfg.PixelFormat
	if format == media.PixelFormatUnknown {
		format = media.PixelFormatYUV420P
	}
	pixFmt, ok := toPixelFormat(format)
	if !ok {
		return nil, media.Unsupportedf("pixel format %s", format)
	}

	o := buildEncoderOptions(opts)
	e := &VideoEncoder{
		log:    o.log.With("component", "ffmpeg-video-encoder"),
		cc:     astiav.AllocCodecContext(enc),
		pixFmt: pixFmt,
		fr:     astiav.AllocFrame(),
		pkt:    astiav.AllocPacket(),
	}
	e.info = media.VideoStreamInfo{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		TimeBase:  media.TimeBase90kHz,
		FrameRate: cfg.FrameRate,
		Codec:     cfg.Codec,
	}

	e.cc.SetWidth(cfg.Width)
	e.cc.SetHeight(cfg.Height)
	e.cc.SetPixelFormat(pixFmt)
	e.cc.SetTimeBase(toRational(e.info.TimeBase))
	if !cfg.FrameRate.IsZero() {
		e.cc.SetFramerate(toRational(cfg.FrameRate))
	}
	if cfg.BitRate > 0 {
		e.cc.SetBitRate(cfg.BitRate)
	}
	// Parameter sets go to extradata so CodecConfig can hand them to muxers.
	e.cc.SetFlags(e.cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	var dict *astiav.Dictionary
	if cfg.Preset != "" {
		dict = astiav.NewDictionary()
		defer dict.Free()
		if err := dict.Set("preset", cfg.Preset, astiav.NewDictionaryFlags()); err != nil {
			e.free()
			return nil, media.InvalidDataf("preset %q: %v", cfg.Preset, err)
		}
	}
	if err := e.cc.Open(enc, dict); err != nil {
		e.free()
		return nil, ffErr("opening encoder", err)
	}

	e.cfgOut = media.NewVideoCodecConfig(e.info, e.cc.ExtraData())
	e.log.Debug("encoder opened", "codec", cfg.Codec, "size", cfg.Width*cfg.Height)
	return e, nil
}

// Encode submits one frame and returns every packet that became available.
func (e *VideoEncoder) Encode(f *media.VideoFrame) ([]*media.Packet, error) {
	if e.closed {
		return nil, media.Closed("encoder")
	}
	if err := e.life.CheckReady("video encoder"); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, media.InvalidDataf("nil frame")
	}
	if f.Width != e.info.Width || f.Height != e.info.Height || f.Format != e.info.Format {
		return nil, media.InvalidDataf("frame %dx%d %s does not match encoder %dx%d %s",
			f.Width, f.Height, f.Format, e.info.Width, e.info.Height, e.info.Format)
	}
	if len(f.Data) != f.ExpectedDataLen() {
		return nil, media.InvalidDataf("frame data %d bytes, expected %d",
			len(f.Data), f.ExpectedDataLen())
	}

	e.fr.Unref()
	e.fr.SetWidth(f.Width)
	e.fr.SetHeight(f.Height)
	e.fr.SetPixelFormat(e.pixFmt)
	if err := e.fr.AllocBuffer(frameAlign); err != nil {
		return nil, media.Codecf("frame buffer: %v", err)
	}
	if err := e.fr.Data().SetBytes(f.Data, frameAlign); err != nil {
		return nil, media.Codecf("frame data: %v", err)
	}
	e.fr.SetPts(toTimestamp(rescalePts(f.PTS, f.TimeBase, e.info.TimeBase)))

	if err := e.cc.SendFrame(e.fr); err != nil {
		return nil, ffErr("encoding frame", err)
	}
	return e.receivePackets()
}

// Flush drains lookahead packets. The encoder is spent afterwards.
func (e *VideoEncoder) Flush() ([]*media.Packet, error) {
	if e.closed {
		return nil, media.Closed("encoder")
	}
	if err := e.life.BeginFlush("video encoder"); err != nil {
		return nil, err
	}
	defer e.life.FinishFlush()
	if err := e.cc.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, ffErr("flushing encoder", err)
	}
	return e.receivePackets()
}

// StreamInfo describes the encoded stream.
func (e *VideoEncoder) StreamInfo() media.VideoStreamInfo { return e.info }

// CodecConfig returns the decoder initialization handle, including the
// parameter sets the encoder produced.
func (e *VideoEncoder) CodecConfig() *media.CodecConfig { return e.cfgOut }

// Close releases all libav state.
func (e *VideoEncoder) Close() error {
	if e.closed {
		return media.Closed("encoder")
	}
	e.closed = true
	e.free()
	return nil
}

func (e *VideoEncoder) free() {
	if e.fr != nil {
		e.fr.Free()
	}
	if e.pkt != nil {
		e.pkt.Free()
	}
	if e.cc != nil {
		e.cc.Free()
	}
}

func (e *VideoEncoder) receivePackets() ([]*media.Packet, error) {
	var out []*media.Packet
	for {
		e.pkt.Unref()
		if err := e.cc.ReceivePacket(e.pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return out, nil
			}
			return out, ffErr("receiving packet", err)
		}
		out = append(out, &media.Packet{
			Data:     append([]byte(nil), e.pkt.Data()...),
			PTS:      fromTimestamp(e.pkt.Pts()),
			DTS:      fromTimestamp(e.pkt.Dts()),
			Duration: media.MediaDuration(e.pkt.Duration()),
			TimeBase: e.info.TimeBase,
			Keyframe: e.pkt.Flags().Has(astiav.PacketFlagKey),
			Type:     media.StreamVideo,
		})
	}
}

// planarInput reports whether FFmpeg's encoder for the codec consumes planar
// samples, in which case interleaved input is repacked before encoding.
func planarInput(c media.CodecID) bool {
	switch c {
	case media.CodecAAC, media.CodecMP3, media.CodecVorbis, media.CodecAC3:
		return true
	default:
		return false
	}
}

// AudioEncoder encodes raw samples through libavcodec. Codecs with a fixed
// frame size are fed through a sample FIFO, so Encode accepts frames of any
// length and may return zero packets while samples accumulate.
type AudioEncoder struct {
	log  *slog.Logger
	life codec.Lifecycle

	cc     *astiav.CodecContext
	info   media.AudioStreamInfo
	cfgOut *media.CodecConfig

	sampleFmt astiav.SampleFormat
	layout    astiav.ChannelLayout
	planar    bool
	frameSize int
	fifo      *astiav.AudioFifo

	fr       *astiav.Frame
	pkt      *astiav.Packet
	anchored bool
	nextPTS  media.Pts
	closed   bool
}

// NewAudioEncoder creates an encoder for cfg.
func NewAudioEncoder(cfg pipeline.AudioEncoderConfig, opts ...EncoderOption) (*AudioEncoder, error) {
	if cfg.SampleRate <= 0 {
		return nil, media.InvalidDataf("sample rate %d", cfg.SampleRate)
	}
	id, ok := toCodecID(cfg.Codec)
	if !ok || !cfg.Codec.IsAudio() {
		return nil, media.Unsupportedf("audio codec %s", cfg.Codec)
	}
	enc := astiav.FindEncoder(id)
	if enc == nil {
		return nil, media.Unsupportedf("no %s encoder in this FFmpeg build", cfg.Codec)
	}
	layout, ok := toChannelLayout(cfg.Layout)
	if !ok {
		return nil, media.InvalidDataf("unknown channel layout")
	}
	planar := planarInput(cfg.Codec)
	sampleFmt, ok := toSampleFormat(cfg.Format, planar)
	if !ok {
		return nil, media.Unsupportedf("sample format %s", cfg.Format)
	}

	o := buildEncoderOptions(opts)
	e := &AudioEncoder{
		log:       o.log.With("component", "ffmpeg-audio-encoder"),
		cc:        astiav.AllocCodecContext(enc),
		sampleFmt: sampleFmt,
		layout:    layout,
		planar:    planar,
		fr:        astiav.AllocFrame(),
		pkt:       astiav.AllocPacket(),
		nextPTS:   media.NoPts,
	}
	e.info = media.AudioStreamInfo{
		SampleRate: cfg.SampleRate,
		Layout:     cfg.Layout,
		Format:     cfg.Format,
		TimeBase:   media.NewRational(1, cfg.SampleRate),
		Codec:      cfg.Codec,
	}

	e.cc.SetSampleRate(cfg.SampleRate)
	e.cc.SetChannelLayout(layout)
	e.cc.SetSampleFormat(sampleFmt)
	e.cc.SetTimeBase(toRational(e.info.TimeBase))
	if cfg.BitRate > 0 {
		e.cc.SetBitRate(cfg.BitRate)
	}
	e.cc.SetFlags(e.cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	if err := e.cc.Open(enc, nil); err != nil {
		e.free()
		return nil, ffErr("opening encoder", err)
	}

	// Fixed-frame codecs (AAC and friends) need exact frame sizes; PCM
	// reports 0 and takes input as-is.
	if fs := e.cc.FrameSize(); fs > 0 {
		e.frameSize = fs
		e.fifo = astiav.AllocAudioFifo(sampleFmt, cfg.Layout.Channels(), fs)
	}

	e.cfgOut = media.NewAudioCodecConfig(e.info, e.cc.ExtraData())
	e.log.Debug("encoder opened", "codec", cfg.Codec, "frame_size", e.frameSize)
	return e, nil
}

// Encode submits one frame and returns every packet that became available.
func (e *AudioEncoder) Encode(f *media.AudioFrame) ([]*media.Packet, error) {
	if e.closed {
		return nil, media.Closed("encoder")
	}
	if err := e.life.CheckReady("audio encoder"); err != nil {
		return nil, err
	}
	if f == nil || f.Samples == 0 {
		return nil, media.InvalidDataf("empty frame")
	}
	if f.SampleRate != e.info.SampleRate || f.Layout != e.info.Layout || f.Format != e.info.Format {
		return nil, media.InvalidDataf("frame %d Hz %s %s does not match encoder %d Hz %s %s",
			f.SampleRate, f.Layout, f.Format,
			e.info.SampleRate, e.info.Layout, e.info.Format)
	}
	if len(f.Data) != f.ExpectedDataLen() {
		return nil, media.InvalidDataf("frame data %d bytes, expected %d",
			len(f.Data), f.ExpectedDataLen())
	}

	if !e.anchored && f.PTS != media.NoPts {
		e.nextPTS = rescalePts(f.PTS, f.TimeBase, e.info.TimeBase)
		e.anchored = true
	}

	data := f.Data
	if e.planar {
		data = deinterleave(data, e.info.Layout.Channels(), e.info.Format.BytesPerSample())
	}

	if e.fifo == nil {
		if err := e.sendSamples(data, f.Samples); err != nil {
			return nil, err
		}
		return e.receivePackets()
	}

	if err := e.fillFrame(data, f.Samples); err != nil {
		return nil, err
	}
	if _, err := e.fifo.Write(e.fr); err != nil {
		return nil, media.Codecf("buffering samples: %v", err)
	}

	var out []*media.Packet
	for e.fifo.Size() >= e.frameSize {
		if err := e.sendFromFifo(e.frameSize); err != nil {
			return out, err
		}
		pkts, err := e.receivePackets()
		out = append(out, pkts...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Flush encodes the buffered remainder and drains the codec. The encoder is
// spent afterwards.
func (e *AudioEncoder) Flush() ([]*media.Packet, error) {
	if e.closed {
		return nil, media.Closed("encoder")
	}
	if err := e.life.BeginFlush("audio encoder"); err != nil {
		return nil, err
	}
	defer e.life.FinishFlush()

	var out []*media.Packet
	if e.fifo != nil && e.fifo.Size() > 0 {
		if err := e.sendFromFifo(e.fifo.Size()); err != nil {
			return out, err
		}
		pkts, err := e.receivePackets()
		out = append(out, pkts...)
		if err != nil {
			return out, err
		}
	}
	if err := e.cc.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return out, ffErr("flushing encoder", err)
	}
	pkts, err := e.receivePackets()
	return append(out, pkts...), err
}

// StreamInfo describes the encoded stream.
func (e *AudioEncoder) StreamInfo() media.AudioStreamInfo { return e.info }

// CodecConfig returns the decoder initialization handle.
func (e *AudioEncoder) CodecConfig() *media.CodecConfig { return e.cfgOut }

// Close releases all libav state.
func (e *AudioEncoder) Close() error {
	if e.closed {
		return media.Closed("encoder")
	}
	e.closed = true
	e.free()
	return nil
}

func (e *AudioEncoder) free() {
	if e.fifo != nil {
		e.fifo.Free()
	}
	if e.fr != nil {
		e.fr.Free()
	}
	if e.pkt != nil {
		e.pkt.Free()
	}
	if e.cc != nil {
		e.cc.Free()
	}
}

// fillFrame loads samples (already in the codec's memory layout) into the
// scratch frame.
func (e *AudioEncoder) fillFrame(data []byte, samples int) error {
	e.fr.Unref()
	e.fr.SetNbSamples(samples)
	e.fr.SetSampleRate(e.info.SampleRate)
	e.fr.SetChannelLayout(e.layout)
	e.fr.SetSampleFormat(e.sampleFmt)
	if err := e.fr.AllocBuffer(frameAlign); err != nil {
		return media.Codecf("frame buffer: %v", err)
	}
	if err := e.fr.Data().SetBytes(data, frameAlign); err != nil {
		return media.Codecf("frame data: %v", err)
	}
	return nil
}

func (e *AudioEncoder) sendSamples(data []byte, samples int) error {
	if err := e.fillFrame(data, samples); err != nil {
		return err
	}
	e.stampAndAdvance(samples)
	if err := e.cc.SendFrame(e.fr); err != nil {
		return ffErr("encoding frame", err)
	}
	return nil
}

func (e *AudioEncoder) sendFromFifo(samples int) error {
	e.fr.Unref()
	e.fr.SetNbSamples(samples)
	e.fr.SetSampleRate(e.info.SampleRate)
	e.fr.SetChannelLayout(e.layout)
	e.fr.SetSampleFormat(e.sampleFmt)
	if err := e.fr.AllocBuffer(frameAlign); err != nil {
		return media.Codecf("frame buffer: %v", err)
	}
	if _, err := e.fifo.Read(e.fr); err != nil {
		return media.Codecf("reading buffered samples: %v", err)
	}
	e.stampAndAdvance(samples)
	if err := e.cc.SendFrame(e.fr); err != nil {
		return ffErr("encoding frame", err)
	}
	return nil
}

// stampAndAdvance assigns the running PTS to the scratch frame. The run is
// anchored at the first input frame's timestamp and advances by sample
// count, so FIFO repackaging cannot drift it.
func (e *AudioEncoder) stampAndAdvance(samples int) {
	e.fr.SetPts(toTimestamp(e.nextPTS))
	if e.anchored {
		e.nextPTS += media.Pts(samples)
	}
}

func (e *AudioEncoder) receivePackets() ([]*media.Packet, error) {
	var out []*media.Packet
	for {
		e.pkt.Unref()
		if err := e.cc.ReceivePacket(e.pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return out, nil
			}
			return out, ffErr("receiving packet", err)
		}
		out = append(out, &media.Packet{
			Data:     append([]byte(nil), e.pkt.Data()...),
			PTS:      fromTimestamp(e.pkt.Pts()),
			DTS:      fromTimestamp(e.pkt.Dts()),
			Duration: media.MediaDuration(e.pkt.Duration()),
			TimeBase: e.info.TimeBase,
			Keyframe: true,
			Type:     media.StreamAudio,
		})
	}
}

var (
	_ pipeline.VideoEncoder = (*VideoEncoder)(nil)
	_ pipeline.AudioEncoder = (*AudioEncoder)(nil)
)
