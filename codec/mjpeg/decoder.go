// Package mjpeg implements the video decoder and encoder contracts for
// Motion-JPEG, an intra-only codec where every packet is one JPEG picture.
package mjpeg

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"log/slog"

	"github.com/zsiec/tempo/codec"
	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

// Decoder decodes Motion-JPEG packets into raw frames. Pictures with 4:2:0
// chroma come out as YUV420P; anything else is converted to RGBA.
type Decoder struct {
	log   *slog.Logger
	life  codec.Lifecycle
	queue *codec.ReorderQueue
	hw    pipeline.HWDevice
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDecoderLogger sets the logger. Defaults to slog.Default().
func WithDecoderLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) { d.log = l }
}

// NewDecoder creates a Motion-JPEG decoder. A hardware preference in cfg
// always resolves to software; there is no hardware JPEG path in pure Go.
func NewDecoder(cfg pipeline.DecoderConfig, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		log:   slog.Default(),
		queue: codec.NewReorderQueue(0),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "mjpeg-decoder")
	d.hw = codec.ResolveHW(cfg, d.log, func(dev pipeline.HWDevice) error {
		return media.Unsupportedf("no hardware JPEG decoder for %s", dev)
	})
	return d
}

// Decode decodes one packet into one frame.
func (d *Decoder) Decode(pkt *media.Packet) ([]*media.VideoFrame, error) {
	if err := d.life.CheckReady("decoder"); err != nil {
		return nil, err
	}
	if pkt == nil || len(pkt.Data) == 0 {
		return nil, media.InvalidDataf("empty packet")
	}

	img, err := jpeg.Decode(bytes.NewReader(pkt.Data))
	if err != nil {
		return nil, media.Codecf("jpeg decode: %v", err)
	}

	frame := imageToFrame(img)
	frame.PTS = pkt.PTS
	frame.TimeBase = pkt.TimeBase
	return d.queue.Push(frame), nil
}

// Flush drains the decoder. Intra-only decoding holds nothing back, so the
// result is usually empty.
func (d *Decoder) Flush() ([]*media.VideoFrame, error) {
	if err := d.life.BeginFlush("decoder"); err != nil {
		return nil, err
	}
	out := d.queue.Drain()
	d.life.FinishFlush()
	return out, nil
}

// Reset discards buffered frames and returns the decoder to its ready state.
func (d *Decoder) Reset() {
	d.queue.Reset()
	d.life.Reset()
}

// HWAccelerated reports whether hardware decoding is in use; always false.
func (d *Decoder) HWAccelerated() bool { return d.hw != pipeline.HWNone }

// Close releases the decoder.
func (d *Decoder) Close() error { return nil }

func imageToFrame(img image.Image) *media.VideoFrame {
	if ycbcr, ok := img.(*image.YCbCr); ok && ycbcr.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		return ycbcrToYUV420P(ycbcr)
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &media.VideoFrame{
		Data:   rgba.Pix,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: media.PixelFormatRGBA,
	}
}

func ycbcrToYUV420P(img *image.YCbCr) *media.VideoFrame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := (w+1)/2, (h+1)/2

	data := make([]byte, w*h+2*cw*ch)
	for y := 0; y < h; y++ {
		row := img.Y[img.YOffset(b.Min.X, b.Min.Y+y):]
		copy(data[y*w:(y+1)*w], row[:w])
	}
	cbBase := w * h
	crBase := cbBase + cw*ch
	for y := 0; y < ch; y++ {
		off := img.COffset(b.Min.X, b.Min.Y+2*y)
		copy(data[cbBase+y*cw:cbBase+(y+1)*cw], img.Cb[off:][:cw])
		copy(data[crBase+y*cw:crBase+(y+1)*cw], img.Cr[off:][:cw])
	}

	return &media.VideoFrame{
		Data:   data,
		Width:  w,
		Height: h,
		Format: media.PixelFormatYUV420P,
	}
}
