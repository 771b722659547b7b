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

// DecoderOption configures a decoder.
type DecoderOption func(*decoderOptions)

type decoderOptions struct {
	log *slog.Logger
}

// WithDecoderLogger sets the logger. Defaults to slog.Default().
func WithDecoderLogger(l *slog.Logger) DecoderOption {
	return func(o *decoderOptions) { o.log = l }
}

func buildDecoderOptions(opts []DecoderOption) decoderOptions {
	o := decoderOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// VideoDecoder decodes compressed video through libavcodec. With a hardware
// preference it decodes on the device and transfers frames back to system
// memory; when the device or the codec's device support is missing it falls
// back to software at construction time.
type VideoDecoder struct {
	log  *slog.Logger
	life codec.Lifecycle

	cc *astiav.CodecContext
	tb media.Rational

	hw       pipeline.HWDevice
	hwCtx    *astiav.HardwareDeviceContext
	hwPixFmt astiav.PixelFormat

	pkt    *astiav.Packet
	fr     *astiav.Frame
	sw     *astiav.Frame
	closed bool
}

// NewVideoDecoder creates a decoder for the stream cfg describes.
func NewVideoDecoder(cfg *media.CodecConfig, dcfg pipeline.DecoderConfig, opts ...DecoderOption) (*VideoDecoder, error) {
	if cfg == nil || cfg.VideoInfo() == nil {
		return nil, media.InvalidDataf("video decoder needs a video codec config")
	}
	info := *cfg.VideoInfo()
	id, ok := toCodecID(cfg.Codec())
	if !ok {
		return nil, media.Unsupportedf("codec %s", cfg.Codec())
	}
	dec := astiav.FindDecoder(id)
	if dec == nil {
		return nil, media.Unsupportedf("no %s decoder in this FFmpeg build", cfg.Codec())
	}

	o := buildDecoderOptions(opts)
	d := &VideoDecoder{
		log: o.log.With("component", "ffmpeg-video-decoder"),
		cc:  astiav.AllocCodecContext(dec),
		tb:  info.TimeBase,
		pkt: astiav.AllocPacket(),
		fr:  astiav.AllocFrame(),
		sw:  astiav.AllocFrame(),
	}
	if d.tb.IsZero() {
		d.tb = media.TimeBase90kHz
	}
	d.cc.SetWidth(info.Width)
	d.cc.SetHeight(info.Height)
	if pf, ok := toPixelFormat(info.Format); ok {
		d.cc.SetPixelFormat(pf)
	}
	d.cc.SetTimeBase(toRational(d.tb))
	if len(cfg.Extradata()) > 0 {
		if err := d.cc.SetExtraData(cfg.Extradata()); err != nil {
			d.free()
			return nil, media.Codecf("setting extradata: %v", err)
		}
	}

	d.hw = codec.ResolveHW(dcfg, d.log, func(dev pipeline.HWDevice) error {
		return d.openHardware(dec, dev)
	})

	if err := d.cc.Open(dec, nil); err != nil {
		d.free()
		return nil, ffErr("opening decoder", err)
	}
	d.log.Debug("decoder opened", "codec", cfg.Codec(), "hw", d.hw)
	return d, nil
}

// openHardware binds the decoder to a hardware device. Failure at any step
// leaves the context untouched so the software path still works.
func (d *VideoDecoder) openHardware(dec *astiav.Codec, dev pipeline.HWDevice) error {
	dt, ok := hwDeviceType(dev)
	if !ok {
		return media.Unsupportedf("hardware device %s not known to this FFmpeg build", dev)
	}
	hwPixFmt := astiav.PixelFormatNone
	for _, hc := range dec.HardwareConfigs() {
		if hc.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwDeviceCtx) &&
			hc.HardwareDeviceType() == dt {
			hwPixFmt = hc.PixelFormat()
			break
		}
	}
	if hwPixFmt == astiav.PixelFormatNone {
		return media.Unsupportedf("decoder has no %s support", dev)
	}
	hwCtx, err := astiav.CreateHardwareDeviceContext(dt, "", nil, 0)
	if err != nil {
		return media.Codecf("opening %s device: %v", dev, err)
	}

	d.hwCtx = hwCtx
	d.hwPixFmt = hwPixFmt
	d.cc.SetHardwareDeviceContext(hwCtx)
	d.cc.SetPixelFormatCallback(func(pfs []astiav.PixelFormat) astiav.PixelFormat {
		for _, pf := range pfs {
			if pf == hwPixFmt {
				return pf
			}
		}
		return astiav.PixelFormatNone
	})
	return nil
}

// Decode sends one packet and returns every frame that became available.
func (d *VideoDecoder) Decode(pkt *media.Packet) ([]*media.VideoFrame, error) {
	if d.closed {
		return nil, media.Closed("decoder")
	}
	if err := d.life.CheckReady("video decoder"); err != nil {
		return nil, err
	}
	if pkt == nil || len(pkt.Data) == 0 {
		return nil, media.InvalidDataf("empty packet")
	}

	d.pkt.Unref()
	if err := d.pkt.FromData(pkt.Data); err != nil {
		return nil, media.Codecf("packet data: %v", err)
	}
	d.pkt.SetPts(toTimestamp(rescalePts(pkt.PTS, pkt.TimeBase, d.tb)))
	d.pkt.SetDts(toTimestamp(rescalePts(pkt.DTS, pkt.TimeBase, d.tb)))
	if err := d.cc.SendPacket(d.pkt); err != nil {
		return nil, ffErr("decoding packet", err)
	}
	return d.receiveFrames()
}

// Flush drains the decoder's delay. The decoder needs Reset before further
// Decode calls.
func (d *VideoDecoder) Flush() ([]*media.VideoFrame, error) {
	if d.closed {
		return nil, media.Closed("decoder")
	}
	if err := d.life.BeginFlush("video decoder"); err != nil {
		return nil, err
	}
	defer d.life.FinishFlush()
	if err := d.cc.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, ffErr("flushing decoder", err)
	}
	return d.receiveFrames()
}

// Reset discards buffered reference state, keeping the configuration. Used
// after a seek.
func (d *VideoDecoder) Reset() {
	if d.closed {
		return
	}
	d.cc.FlushBuffers()
	d.life.Reset()
}

// HWAccelerated reports whether frames are actually decoded on hardware.
func (d *VideoDecoder) HWAccelerated() bool { return d.hw != pipeline.HWNone }

// Close releases all libav state.
func (d *VideoDecoder) Close() error {
	if d.closed {
		return media.Closed("decoder")
	}
	d.closed = true
	d.free()
	return nil
}

func (d *VideoDecoder) free() {
	if d.pkt != nil {
		d.pkt.Free()
	}
	if d.fr != nil {
		d.fr.Free()
	}
	if d.sw != nil {
		d.sw.Free()
	}
	if d.cc != nil {
		d.cc.Free()
	}
	if d.hwCtx != nil {
		d.hwCtx.Free()
	}
}

func (d *VideoDecoder) receiveFrames() ([]*media.VideoFrame, error) {
	var out []*media.VideoFrame
	for {
		d.fr.Unref()
		if err := d.cc.ReceiveFrame(d.fr); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return out, nil
			}
			return out, ffErr("receiving frame", err)
		}
		f, err := d.frameOut()
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}

// frameOut converts the last received frame, transferring it off the device
// first when it lives in hardware memory.
func (d *VideoDecoder) frameOut() (*media.VideoFrame, error) {
	src := d.fr
	if d.hw != pipeline.HWNone && d.fr.PixelFormat() == d.hwPixFmt {
		d.sw.Unref()
		if err := d.fr.TransferHardwareData(d.sw); err != nil {
			return nil, media.Codecf("transferring hardware frame: %v", err)
		}
		d.sw.SetPts(d.fr.Pts())
		src = d.sw
	}

	format := fromPixelFormat(src.PixelFormat())
	if format == media.PixelFormatUnknown {
		return nil, media.Unsupportedf("decoded pixel format %s", src.PixelFormat())
	}
	data, err := src.Data().Bytes(frameAlign)
	if err != nil {
		return nil, media.Codecf("frame data: %v", err)
	}
	return &media.VideoFrame{
		Data:     data,
		Width:    src.Width(),
		Height:   src.Height(),
		Format:   format,
		PTS:      fromTimestamp(src.Pts()),
		TimeBase: d.tb,
	}, nil
}

// AudioDecoder decodes compressed audio through libavcodec. Planar decoder
// output is interleaved before crossing the package boundary.
type AudioDecoder struct {
	log  *slog.Logger
	life codec.Lifecycle

	cc *astiav.CodecContext
	tb media.Rational

	pkt    *astiav.Packet
	fr     *astiav.Frame
	closed bool
}

// NewAudioDecoder creates a decoder for the stream cfg describes.
func NewAudioDecoder(cfg *media.CodecConfig, opts ...DecoderOption) (*AudioDecoder, error) {
	if cfg == nil || cfg.AudioInfo() == nil {
		return nil, media.InvalidDataf("audio decoder needs an audio codec config")
	}
	info := *cfg.AudioInfo()
	id, ok := toCodecID(cfg.Codec())
	if !ok {
		return nil, media.Unsupportedf("codec %s", cfg.Codec())
	}
	dec := astiav.FindDecoder(id)
	if dec == nil {
		return nil, media.Unsupportedf("no %s decoder in this FFmpeg build", cfg.Codec())
	}

	o := buildDecoderOptions(opts)
	d := &AudioDecoder{
		log: o.log.With("component", "ffmpeg-audio-decoder"),
		cc:  astiav.AllocCodecContext(dec),
		tb:  info.TimeBase,
		pkt: astiav.AllocPacket(),
		fr:  astiav.AllocFrame(),
	}
	if d.tb.IsZero() && info.SampleRate > 0 {
		d.tb = media.NewRational(1, info.SampleRate)
	}
	if info.SampleRate > 0 {
		d.cc.SetSampleRate(info.SampleRate)
	}
	if cl, ok := toChannelLayout(info.Layout); ok {
		d.cc.SetChannelLayout(cl)
	}
	if sf, ok := toSampleFormat(info.Format, false); ok {
		d.cc.SetSampleFormat(sf)
	}
	if !d.tb.IsZero() {
		d.cc.SetTimeBase(toRational(d.tb))
	}
	if len(cfg.Extradata()) > 0 {
		if err := d.cc.SetExtraData(cfg.Extradata()); err != nil {
			d.free()
			return nil, media.Codecf("setting extradata: %v", err)
		}
	}
	if err := d.cc.Open(dec, nil); err != nil {
		d.free()
		return nil, ffErr("opening decoder", err)
	}
	d.log.Debug("decoder opened", "codec", cfg.Codec())
	return d, nil
}

// Decode sends one packet and returns every frame that became available.
func (d *AudioDecoder) Decode(pkt *media.Packet) ([]*media.AudioFrame, error) {
	if d.closed {
		return nil, media.Closed("decoder")
	}
	if err := d.life.CheckReady("audio decoder"); err != nil {
		return nil, err
	}
	if pkt == nil || len(pkt.Data) == 0 {
		return nil, media.InvalidDataf("empty packet")
	}

	d.pkt.Unref()
	if err := d.pkt.FromData(pkt.Data); err != nil {
		return nil, media.Codecf("packet data: %v", err)
	}
	d.pkt.SetPts(toTimestamp(rescalePts(pkt.PTS, pkt.TimeBase, d.tb)))
	d.pkt.SetDts(toTimestamp(rescalePts(pkt.DTS, pkt.TimeBase, d.tb)))
	if err := d.cc.SendPacket(d.pkt); err != nil {
		return nil, ffErr("decoding packet", err)
	}
	return d.receiveFrames()
}

// Flush drains buffered samples. The decoder needs Reset before further
// Decode calls.
func (d *AudioDecoder) Flush() ([]*media.AudioFrame, error) {
	if d.closed {
		return nil, media.Closed("decoder")
	}
	if err := d.life.BeginFlush("audio decoder"); err != nil {
		return nil, err
	}
	defer d.life.FinishFlush()
	if err := d.cc.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, ffErr("flushing decoder", err)
	}
	return d.receiveFrames()
}

// Reset discards buffered state, keeping the configuration.
func (d *AudioDecoder) Reset() {
	if d.closed {
		return
	}
	d.cc.FlushBuffers()
	d.life.Reset()
}

// Close releases all libav state.
func (d *AudioDecoder) Close() error {
	if d.closed {
		return media.Closed("decoder")
	}
	d.closed = true
	d.free()
	return nil
}

func (d *AudioDecoder) free() {
	if d.pkt != nil {
		d.pkt.Free()
	}
	if d.fr != nil {
		d.fr.Free()
	}
	if d.cc != nil {
		d.cc.Free()
	}
}

func (d *AudioDecoder) receiveFrames() ([]*media.AudioFrame, error) {
	var out []*media.AudioFrame
	for {
		d.fr.Unref()
		if err := d.cc.ReceiveFrame(d.fr); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return out, nil
			}
			return out, ffErr("receiving frame", err)
		}

		format, planar := fromSampleFormat(d.fr.SampleFormat())
		if format == media.SampleFormatUnknown {
			return out, media.Unsupportedf("decoded sample format %s", d.fr.SampleFormat())
		}
		channels := d.fr.ChannelLayout().Channels()
		layout := media.LayoutForChannels(channels)
		if layout == media.ChannelLayoutUnknown {
			return out, media.Unsupportedf("decoded channel count %d", channels)
		}
		data, err := d.fr.Data().Bytes(frameAlign)
		if err != nil {
			return out, media.Codecf("frame data: %v", err)
		}
		if planar {
			data = interleave(data, channels, format.BytesPerSample())
		}
		out = append(out, &media.AudioFrame{
			Data:       data,
			Samples:    d.fr.NbSamples(),
			SampleRate: d.fr.SampleRate(),
			Layout:     layout,
			Format:     format,
			PTS:        fromTimestamp(d.fr.Pts()),
			TimeBase:   d.tb,
		})
	}
}

var (
	_ pipeline.VideoDecoder = (*VideoDecoder)(nil)
	_ pipeline.AudioDecoder = (*AudioDecoder)(nil)
)
