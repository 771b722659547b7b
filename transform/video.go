// Package transform implements the video and audio transform contracts:
// scaling and pixel-format conversion for video, resampling, channel remix,
// and sample-format conversion for audio. Conversion contexts are built
// lazily from the first frame and rebuilt when the input's declared shape
// changes.
package transform

import (
	"image"
	"log/slog"

	xdraw "golang.org/x/image/draw"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

// videoContext is the conversion state for one input shape.
type videoContext struct {
	width  int
	height int
	format media.PixelFormat
	rgba   *image.RGBA // scale target, reused across frames
}

// VideoTransform scales frames to the configured size and converts them to
// the configured pixel format. Supported formats are YUV420P and RGBA on
// both sides.
type VideoTransform struct {
	log    *slog.Logger
	cfg    pipeline.VideoTransformConfig
	scaler xdraw.Scaler
	ctx    *videoContext
}

// VideoOption configures a VideoTransform.
type VideoOption func(*VideoTransform)

// WithVideoLogger sets the logger. Defaults to slog.Default().
func WithVideoLogger(l *slog.Logger) VideoOption {
	return func(t *VideoTransform) { t.log = l }
}

// NewVideoTransform creates a video transform targeting cfg. Bicubic and
// Lanczos requests both use the Catmull-Rom kernel, the sharpest scaler
// x/image ships.
func NewVideoTransform(cfg pipeline.VideoTransformConfig, opts ...VideoOption) (*VideoTransform, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, media.InvalidDataf("transform dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Format == media.PixelFormatUnknown {
		cfg.Format = media.PixelFormatYUV420P
	}
	if cfg.Format != media.PixelFormatYUV420P && cfg.Format != media.PixelFormatRGBA {
		return nil, media.Unsupportedf("output pixel format %s", cfg.Format)
	}

	t := &VideoTransform{
		log: slog.Default(),
		cfg: cfg,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "video-transform")

	switch cfg.Algorithm {
	case pipeline.ScaleNearest:
		t.scaler = xdraw.NearestNeighbor
	case pipeline.ScaleBicubic, pipeline.ScaleLanczos:
		t.scaler = xdraw.CatmullRom
	default:
		t.scaler = xdraw.ApproxBiLinear
	}
	return t, nil
}

// Transform converts one frame. The conversion context is rebuilt
// transparently when the input frame's declared shape or format changes.
func (t *VideoTransform) Transform(f *media.VideoFrame) (*media.VideoFrame, error) {
	if f == nil {
		return nil, media.InvalidDataf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, media.InvalidDataf("frame dimensions %dx%d", f.Width, f.Height)
	}
	if len(f.Data) != f.ExpectedDataLen() {
		return nil, media.InvalidDataf("frame data %d bytes, expected %d",
			len(f.Data), f.ExpectedDataLen())
	}

	if f.Width == t.cfg.Width && f.Height == t.cfg.Height && f.Format == t.cfg.Format {
		return f, nil
	}

	if t.ctx == nil || t.ctx.width != f.Width || t.ctx.height != f.Height || t.ctx.format != f.Format {
		if t.ctx != nil {
			t.log.Debug("conversion context rebuilt",
				"from", t.ctx.format, "to", f.Format,
				"width", f.Width, "height", f.Height)
		}
		t.ctx = &videoContext{
			width:  f.Width,
			height: f.Height,
			format: f.Format,
			rgba:   image.NewRGBA(image.Rect(0, 0, t.cfg.Width, t.cfg.Height)),
		}
	}

	src, err := frameImage(f)
	if err != nil {
		return nil, err
	}

	dst := t.ctx.rgba
	t.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := &media.VideoFrame{
		Width:    t.cfg.Width,
		Height:   t.cfg.Height,
		Format:   t.cfg.Format,
		PTS:      f.PTS,
		TimeBase: f.TimeBase,
	}
	switch t.cfg.Format {
	case media.PixelFormatRGBA:
		out.Data = make([]byte, len(dst.Pix))
		copy(out.Data, dst.Pix)
	case media.PixelFormatYUV420P:
		out.Data = rgbaToYUV420P(dst)
	}
	return out, nil
}

// frameImage wraps the frame's pixel data in an image.Image without copying.
func frameImage(f *media.VideoFrame) (image.Image, error) {
	w, h := f.Width, f.Height
	switch f.Format {
	case media.PixelFormatYUV420P:
		cw, ch := (w+1)/2, (h+1)/2
		cbBase := w * h
		crBase := cbBase + cw*ch
		return &image.YCbCr{
			Y:              f.Data[:cbBase],
			Cb:             f.Data[cbBase:crBase],
			Cr:             f.Data[crBase : crBase+cw*ch],
			YStride:        w,
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           image.Rect(0, 0, w, h),
		}, nil
	case media.PixelFormatRGBA:
		return &image.RGBA{
			Pix:    f.Data,
			Stride: 4 * w,
			Rect:   image.Rect(0, 0, w, h),
		}, nil
	default:
		return nil, media.Unsupportedf("input pixel format %s", f.Format)
	}
}

// rgbaToYUV420P converts a packed RGBA image to planar 4:2:0. Chroma is
// taken from the top-left pixel of each 2x2 block.
func rgbaToYUV420P(img *image.RGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	cw, ch := (w+1)/2, (h+1)/2
	data := make([]byte, w*h+2*cw*ch)
	cbBase := w * h
	crBase := cbBase + cw*ch

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := row[4*x], row[4*x+1], row[4*x+2]
			yy := (19595*int32(r) + 38470*int32(g) + 7471*int32(b) + 1<<15) >> 16
			data[y*w+x] = uint8(yy)
			if y%2 == 0 && x%2 == 0 {
				cb := (-11056*int32(r) - 21712*int32(g) + 32768*int32(b) + 1<<15) >> 16
				cr := (32768*int32(r) - 27440*int32(g) - 5328*int32(b) + 1<<15) >> 16
				ci := (y/2)*cw + x/2
				data[cbBase+ci] = uint8(clamp8(cb + 128))
				data[crBase+ci] = uint8(clamp8(cr + 128))
			}
		}
	}
	return data
}

func clamp8(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
