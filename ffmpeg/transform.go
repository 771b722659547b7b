//go:build cgo

package ffmpeg

import (
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

// VideoTransform scales and converts pixel formats through libswscale. The
// scale context is rebuilt transparently when the input frame shape changes.
type VideoTransform struct {
	log    *slog.Logger
	cfg    pipeline.VideoTransformConfig
	format media.PixelFormat
	flags  astiav.SoftwareScaleContextFlags

	ssc   *astiav.SoftwareScaleContext
	srcW  int
	srcH  int
	srcPF astiav.PixelFormat

	src *astiav.Frame
	dst *astiav.Frame
}

// VideoTransformOption configures a VideoTransform.
type VideoTransformOption func(*VideoTransform)

// WithVideoTransformLogger sets the logger. Defaults to slog.Default().
func WithVideoTransformLogger(l *slog.Logger) VideoTransformOption {
	return func(t *VideoTransform) { t.log = l }
}

// NewVideoTransform creates a video transform targeting cfg. The output
// format defaults to yuv420p.
func NewVideoTransform(cfg pipeline.VideoTransformConfig, opts ...VideoTransformOption) (*VideoTransform, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, media.InvalidDataf("output size %dx%d", cfg.Width, cfg.Height)
	}
	format := cfg.Format
	if format == media.PixelFormatUnknown {
		format = media.PixelFormatYUV420P
	}
	if _, ok := toPixelFormat(format); !ok {
		return nil, media.Unsupportedf("output pixel format %s", format)
	}

	var flag astiav.SoftwareScaleContextFlag
	switch cfg.Algorithm {
	case pipeline.ScaleBicubic:
		flag = astiav.SoftwareScaleContextFlagBicubic
	case pipeline.ScaleLanczos:
		flag = astiav.SoftwareScaleContextFlagLanczos
	case pipeline.ScaleNearest:
		flag = astiav.SoftwareScaleContextFlagPoint
	default:
		flag = astiav.SoftwareScaleContextFlagBilinear
	}

	t := &VideoTransform{
		log:    slog.Default(),
		cfg:    cfg,
		format: format,
		flags:  astiav.NewSoftwareScaleContextFlags(flag),
		src:    astiav.AllocFrame(),
		dst:    astiav.AllocFrame(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "ffmpeg-video-transform")
	return t, nil
}

// Transform converts one frame to the configured size and pixel format.
func (t *VideoTransform) Transform(f *media.VideoFrame) (*media.VideoFrame, error) {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return nil, media.InvalidDataf("empty frame")
	}
	if len(f.Data) != f.ExpectedDataLen() {
		return nil, media.InvalidDataf("frame data %d bytes, expected %d",
			len(f.Data), f.ExpectedDataLen())
	}
	srcPF, ok := toPixelFormat(f.Format)
	if !ok {
		return nil, media.Unsupportedf("input pixel format %s", f.Format)
	}
	if f.Width == t.cfg.Width && f.Height == t.cfg.Height && f.Format == t.format {
		return f, nil
	}

	if t.ssc == nil || t.srcW != f.Width || t.srcH != f.Height || t.srcPF != srcPF {
		if t.ssc != nil {
			t.ssc.Free()
			t.log.Debug("scale context rebuilt",
				"width", f.Width, "height", f.Height, "format", f.Format)
		}
		dstPF, _ := toPixelFormat(t.format)
		ssc, err := astiav.CreateSoftwareScaleContext(
			f.Width, f.Height, srcPF,
			t.cfg.Width, t.cfg.Height, dstPF,
			t.flags)
		if err != nil {
			return nil, media.Codecf("creating scale context: %v", err)
		}
		t.ssc = ssc
		t.srcW, t.srcH, t.srcPF = f.Width, f.Height, srcPF
	}

	t.src.Unref()
	t.src.SetWidth(f.Width)
	t.src.SetHeight(f.Height)
	t.src.SetPixelFormat(srcPF)
	if err := t.src.AllocBuffer(frameAlign); err != nil {
		return nil, media.Codecf("frame buffer: %v", err)
	}
	if err := t.src.Data().SetBytes(f.Data, frameAlign); err != nil {
		return nil, media.Codecf("frame data: %v", err)
	}

	t.dst.Unref()
	if err := t.ssc.ScaleFrame(t.src, t.dst); err != nil {
		return nil, media.Codecf("scaling: %v", err)
	}
	data, err := t.dst.Data().Bytes(frameAlign)
	if err != nil {
		return nil, media.Codecf("scaled frame data: %v", err)
	}
	return &media.VideoFrame{
		Data:     data,
		Width:    t.cfg.Width,
		Height:   t.cfg.Height,
		Format:   t.format,
		PTS:      f.PTS,
		TimeBase: f.TimeBase,
	}, nil
}

// Close releases the scale context and scratch frames.
func (t *VideoTransform) Close() error {
	if t.ssc != nil {
		t.ssc.Free()
		t.ssc = nil
	}
	t.src.Free()
	t.dst.Free()
	return nil
}

// AudioTransform resamples through libswresample, converting sample rate,
// channel layout, and sample format. The resampler buffers fractional
// output, so Transform may return nil; Flush returns the remainder.
type AudioTransform struct {
	log *slog.Logger
	cfg pipeline.AudioTransformConfig

	swr *astiav.SoftwareResampleContext
	src *astiav.Frame
	dst *astiav.Frame

	inRate   int
	inLayout media.ChannelLayout
	inFormat media.SampleFormat

	outTB    media.Rational
	anchored bool
	nextPTS  media.Pts
	closed   bool
}

// AudioTransformOption configures an AudioTransform.
type AudioTransformOption func(*AudioTransform)

// WithAudioTransformLogger sets the logger. Defaults to slog.Default().
func WithAudioTransformLogger(l *slog.Logger) AudioTransformOption {
	return func(t *AudioTransform) { t.log = l }
}

// NewAudioTransform creates an audio transform targeting cfg.
func NewAudioTransform(cfg pipeline.AudioTransformConfig, opts ...AudioTransformOption) (*AudioTransform, error) {
	if cfg.SampleRate <= 0 {
		return nil, media.InvalidDataf("sample rate %d", cfg.SampleRate)
	}
	if _, ok := toChannelLayout(cfg.Layout); !ok {
		return nil, media.InvalidDataf("unknown channel layout")
	}
	if _, ok := toSampleFormat(cfg.Format, false); !ok {
		return nil, media.Unsupportedf("sample format %s", cfg.Format)
	}

	t := &AudioTransform{
		log:     slog.Default(),
		cfg:     cfg,
		swr:     astiav.AllocSoftwareResampleContext(),
		src:     astiav.AllocFrame(),
		dst:     astiav.AllocFrame(),
		outTB:   media.NewRational(1, cfg.SampleRate),
		nextPTS: media.NoPts,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "ffmpeg-audio-transform")
	return t, nil
}

// Transform converts one frame. It returns nil when the resampler buffered
// the whole input.
func (t *AudioTransform) Transform(f *media.AudioFrame) (*media.AudioFrame, error) {
	if t.closed {
		return nil, media.Closed("transform")
	}
	if f == nil || f.Samples == 0 {
		return nil, media.InvalidDataf("empty frame")
	}
	if len(f.Data) != f.ExpectedDataLen() {
		return nil, media.InvalidDataf("frame data %d bytes, expected %d",
			len(f.Data), f.ExpectedDataLen())
	}
	cl, ok := toChannelLayout(f.Layout)
	if !ok {
		return nil, media.InvalidDataf("unknown channel layout")
	}
	sf, ok := toSampleFormat(f.Format, false)
	if !ok {
		return nil, media.Unsupportedf("sample format %s", f.Format)
	}

	// libswresample refuses input shape changes on a configured context, so
	// rebuild. Samples buffered for the old shape are dropped.
	if t.inRate != 0 && (t.inRate != f.SampleRate || t.inLayout != f.Layout || t.inFormat != f.Format) {
		t.swr.Free()
		t.swr = astiav.AllocSoftwareResampleContext()
		t.anchored = false
		t.log.Debug("resample context rebuilt",
			"rate", f.SampleRate, "layout", f.Layout, "format", f.Format)
	}
	t.inRate, t.inLayout, t.inFormat = f.SampleRate, f.Layout, f.Format

	if !t.anchored && f.PTS != media.NoPts {
		t.nextPTS = rescalePts(f.PTS, f.TimeBase, t.outTB)
		t.anchored = true
	}

	t.src.Unref()
	t.src.SetNbSamples(f.Samples)
	t.src.SetSampleRate(f.SampleRate)
	t.src.SetChannelLayout(cl)
	t.src.SetSampleFormat(sf)
	if err := t.src.AllocBuffer(frameAlign); err != nil {
		return nil, media.Codecf("frame buffer: %v", err)
	}
	if err := t.src.Data().SetBytes(f.Data, frameAlign); err != nil {
		return nil, media.Codecf("frame data: %v", err)
	}

	return t.convert(t.src)
}

// Flush returns samples still buffered by the resampler, or nil when there
// is no remainder.
func (t *AudioTransform) Flush() (*media.AudioFrame, error) {
	if t.closed {
		return nil, media.Closed("transform")
	}
	if t.inRate == 0 {
		return nil, nil
	}
	return t.convert(nil)
}

func (t *AudioTransform) convert(src *astiav.Frame) (*media.AudioFrame, error) {
	cl, _ := toChannelLayout(t.cfg.Layout)
	sf, _ := toSampleFormat(t.cfg.Format, false)

	t.dst.Unref()
	t.dst.SetSampleRate(t.cfg.SampleRate)
	t.dst.SetChannelLayout(cl)
	t.dst.SetSampleFormat(sf)
	if err := t.swr.ConvertFrame(src, t.dst); err != nil {
		return nil, media.Codecf("resampling: %v", err)
	}
	if t.dst.NbSamples() == 0 {
		return nil, nil
	}
	data, err := t.dst.Data().Bytes(frameAlign)
	if err != nil {
		return nil, media.Codecf("resampled frame data: %v", err)
	}

	out := &media.AudioFrame{
		Data:       data,
		Samples:    t.dst.NbSamples(),
		SampleRate: t.cfg.SampleRate,
		Layout:     t.cfg.Layout,
		Format:     t.cfg.Format,
		PTS:        t.nextPTS,
		TimeBase:   t.outTB,
	}
	if t.anchored {
		t.nextPTS += media.Pts(out.Samples)
	}
	return out, nil
}

// Close releases the resample context and scratch frames.
func (t *AudioTransform) Close() error {
	if t.closed {
		return media.Closed("transform")
	}
	t.closed = true
	t.swr.Free()
	t.src.Free()
	t.dst.Free()
	return nil
}

var (
	_ pipeline.VideoTransformer = (*VideoTransform)(nil)
	_ pipeline.AudioTransformer = (*AudioTransform)(nil)
)
