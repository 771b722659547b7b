package mjpeg

import (
	"bytes"
	"image"
	"image/jpeg"
	"log/slog"

	"github.com/zsiec/tempo/codec"
	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

const defaultQuality = 85

// Encoder encodes raw frames into Motion-JPEG packets. Every output packet
// is an independent picture, so all packets are keyframes and Dts equals
// Pts.
type Encoder struct {
	log     *slog.Logger
	life    codec.Lifecycle
	info    media.VideoStreamInfo
	cfg     *media.CodecConfig
	quality int
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithEncoderLogger sets the logger. Defaults to slog.Default().
func WithEncoderLogger(l *slog.Logger) EncoderOption {
	return func(e *Encoder) { e.log = l }
}

// WithQuality sets the JPEG quality (1..100). Defaults to 85.
func WithQuality(q int) EncoderOption {
	return func(e *Encoder) { e.quality = q }
}

// NewEncoder creates a Motion-JPEG encoder for the configured geometry.
// Input frames must match the configured dimensions and be YUV420P or RGBA.
func NewEncoder(cfg pipeline.VideoEncoderConfig, opts ...EncoderOption) (*Encoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, media.InvalidDataf("encoder dimensions %dx%d", cfg.Width, cfg.Height)
	}

	e := &Encoder{
		log:     slog.Default(),
		quality: defaultQuality,
		info: media.VideoStreamInfo{
			Codec:     media.CodecMJPEG,
			Width:     cfg.Width,
			Height:    cfg.Height,
			Format:    cfg.PixelFormat,
			TimeBase:  media.TimeBase90kHz,
			FrameRate: cfg.FrameRate,
		},
	}
	if e.info.Format == media.PixelFormatUnknown {
		e.info.Format = media.PixelFormatYUV420P
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "mjpeg-encoder")
	if e.quality < 1 || e.quality > 100 {
		return nil, media.InvalidDataf("jpeg quality %d", e.quality)
	}
	e.cfg = media.NewVideoCodecConfig(e.info, nil)
	return e, nil
}

// Encode encodes one frame into one packet.
func (e *Encoder) Encode(f *media.VideoFrame) ([]*media.Packet, error) {
	if err := e.life.CheckReady("encoder"); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, media.InvalidDataf("nil frame")
	}
	if f.Width != e.info.Width || f.Height != e.info.Height {
		return nil, media.InvalidDataf("frame %dx%d does not match encoder %dx%d",
			f.Width, f.Height, e.info.Width, e.info.Height)
	}
	if len(f.Data) != f.ExpectedDataLen() {
		return nil, media.InvalidDataf("frame data %d bytes, expected %d",
			len(f.Data), f.ExpectedDataLen())
	}

	img, err := frameToImage(f)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, media.Codecf("jpeg encode: %v", err)
	}

	return []*media.Packet{{
		Data:     buf.Bytes(),
		PTS:      f.PTS,
		DTS:      f.PTS,
		TimeBase: f.TimeBase,
		Keyframe: true,
		Type:     media.StreamVideo,
	}}, nil
}

// Flush drains the encoder. There is no lookahead, so the result is empty.
func (e *Encoder) Flush() ([]*media.Packet, error) {
	if err := e.life.BeginFlush("encoder"); err != nil {
		return nil, err
	}
	e.life.FinishFlush()
	return nil, nil
}

// StreamInfo returns the output stream description.
func (e *Encoder) StreamInfo() media.VideoStreamInfo { return e.info }

// CodecConfig returns the output codec configuration.
func (e *Encoder) CodecConfig() *media.CodecConfig { return e.cfg }

// Close releases the encoder.
func (e *Encoder) Close() error { return nil }

func frameToImage(f *media.VideoFrame) (image.Image, error) {
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
		return nil, media.Unsupportedf("pixel format %s for jpeg encoding", f.Format)
	}
}
