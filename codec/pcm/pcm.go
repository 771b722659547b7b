// Package pcm implements the audio decoder and encoder contracts for raw
// PCM (S16LE and F32LE). Decoding is a reinterpretation of the packet bytes
// as samples; encoding is the reverse.
package pcm

import (
	"log/slog"

	"github.com/zsiec/tempo/codec"
	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

func formatFor(c media.CodecID) (media.SampleFormat, bool) {
	switch c {
	case media.CodecPCMS16LE:
		return media.SampleFormatS16, true
	case media.CodecPCMF32LE:
		return media.SampleFormatF32, true
	default:
		return media.SampleFormatUnknown, false
	}
}

// Decoder decodes PCM packets into audio frames.
type Decoder struct {
	log    *slog.Logger
	life   codec.Lifecycle
	format media.SampleFormat
	rate   int
	layout media.ChannelLayout
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDecoderLogger sets the logger. Defaults to slog.Default().
func WithDecoderLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) { d.log = l }
}

// NewDecoder creates a PCM decoder for the stream described by info. The
// codec must be pcm_s16le or pcm_f32le.
func NewDecoder(info media.AudioStreamInfo, opts ...DecoderOption) (*Decoder, error) {
	format, ok := formatFor(info.Codec)
	if !ok {
		return nil, media.Unsupportedf("codec %s is not PCM", info.Codec)
	}
	if info.SampleRate <= 0 {
		return nil, media.InvalidDataf("sample rate %d", info.SampleRate)
	}
	if info.Layout.Channels() == 0 {
		return nil, media.InvalidDataf("unknown channel layout")
	}

	d := &Decoder{
		log:    slog.Default(),
		format: format,
		rate:   info.SampleRate,
		layout: info.Layout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "pcm-decoder")
	return d, nil
}

// Decode reinterprets one packet as one frame of samples.
func (d *Decoder) Decode(pkt *media.Packet) ([]*media.AudioFrame, error) {
	if err := d.life.CheckReady("decoder"); err != nil {
		return nil, err
	}
	if pkt == nil || len(pkt.Data) == 0 {
		return nil, media.InvalidDataf("empty packet")
	}

	frameBytes := d.layout.Channels() * d.format.BytesPerSample()
	if len(pkt.Data)%frameBytes != 0 {
		return nil, media.InvalidDataf("packet of %d bytes is not a whole number of %d-byte sample frames",
			len(pkt.Data), frameBytes)
	}

	return []*media.AudioFrame{{
		Data:       pkt.Data,
		Samples:    len(pkt.Data) / frameBytes,
		SampleRate: d.rate,
		Layout:     d.layout,
		Format:     d.format,
		PTS:        pkt.PTS,
		TimeBase:   pkt.TimeBase,
	}}, nil
}

// Flush drains the decoder; PCM holds nothing back.
func (d *Decoder) Flush() ([]*media.AudioFrame, error) {
	if err := d.life.BeginFlush("decoder"); err != nil {
		return nil, err
	}
	d.life.FinishFlush()
	return nil, nil
}

// Reset returns the decoder to its ready state.
func (d *Decoder) Reset() { d.life.Reset() }

// Close releases the decoder.
func (d *Decoder) Close() error { return nil }

// Encoder encodes audio frames into PCM packets.
type Encoder struct {
	log  *slog.Logger
	life codec.Lifecycle
	info media.AudioStreamInfo
	cfg  *media.CodecConfig
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithEncoderLogger sets the logger. Defaults to slog.Default().
func WithEncoderLogger(l *slog.Logger) EncoderOption {
	return func(e *Encoder) { e.log = l }
}

// NewEncoder creates a PCM encoder. Input frames must already match the
// configured rate, layout, and the codec's sample format; rate or layout
// changes belong in the audio transform.
func NewEncoder(cfg pipeline.AudioEncoderConfig, opts ...EncoderOption) (*Encoder, error) {
	format, ok := formatFor(cfg.Codec)
	if !ok {
		return nil, media.Unsupportedf("codec %s is not PCM", cfg.Codec)
	}
	if cfg.SampleRate <= 0 {
		return nil, media.InvalidDataf("sample rate %d", cfg.SampleRate)
	}
	if cfg.Layout.Channels() == 0 {
		return nil, media.InvalidDataf("unknown channel layout")
	}

	e := &Encoder{
		log: slog.Default(),
		info: media.AudioStreamInfo{
			Codec:      cfg.Codec,
			SampleRate: cfg.SampleRate,
			Layout:     cfg.Layout,
			Format:     format,
			TimeBase:   media.NewRational(1, cfg.SampleRate),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "pcm-encoder")
	e.cfg = media.NewAudioCodecConfig(e.info, nil)
	return e, nil
}

// Encode turns one frame into one packet of raw samples.
func (e *Encoder) Encode(f *media.AudioFrame) ([]*media.Packet, error) {
	if err := e.life.CheckReady("encoder"); err != nil {
		return nil, err
	}
	if f == nil || f.Samples == 0 {
		return nil, media.InvalidDataf("empty frame")
	}
	if f.Format != e.info.Format {
		return nil, media.Unsupportedf("frame format %s, encoder wants %s", f.Format, e.info.Format)
	}
	if f.SampleRate != e.info.SampleRate || f.Layout != e.info.Layout {
		return nil, media.InvalidDataf("frame %d Hz %s does not match encoder %d Hz %s",
			f.SampleRate, f.Layout, e.info.SampleRate, e.info.Layout)
	}
	if len(f.Data) != f.ExpectedDataLen() {
		return nil, media.InvalidDataf("frame data %d bytes, expected %d",
			len(f.Data), f.ExpectedDataLen())
	}

	return []*media.Packet{{
		Data:     f.Data,
		PTS:      f.PTS,
		DTS:      f.PTS,
		TimeBase: f.TimeBase,
		Keyframe: true,
		Type:     media.StreamAudio,
		Duration: media.MediaDuration(durationTicks(f)),
	}}, nil
}

// durationTicks converts the frame's sample count into ticks of its own
// time base without a lossy detour through wall time.
func durationTicks(f *media.AudioFrame) int64 {
	if f.SampleRate <= 0 || f.TimeBase.Num <= 0 {
		return 0
	}
	return int64(f.Samples) * int64(f.TimeBase.Den) / (int64(f.TimeBase.Num) * int64(f.SampleRate))
}

// Flush drains the encoder; PCM has no lookahead.
func (e *Encoder) Flush() ([]*media.Packet, error) {
	if err := e.life.BeginFlush("encoder"); err != nil {
		return nil, err
	}
	e.life.FinishFlush()
	return nil, nil
}

// StreamInfo returns the output stream description.
func (e *Encoder) StreamInfo() media.AudioStreamInfo { return e.info }

// CodecConfig returns the output codec configuration.
func (e *Encoder) CodecConfig() *media.CodecConfig { return e.cfg }

// Close releases the encoder.
func (e *Encoder) Close() error { return nil }
