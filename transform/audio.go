package transform

import (
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

// audioContext captures the input shape the transform is currently built
// for.
type audioContext struct {
	rate   int
	layout media.ChannelLayout
	format media.SampleFormat
}

// AudioTransform converts sample rate, channel layout, and sample format.
// Resampling is linear and carries fractional position across calls, so
// Transform may return nil while the input is wholly buffered; Flush returns
// the remainder.
type AudioTransform struct {
	log *slog.Logger
	cfg pipeline.AudioTransformConfig
	ctx *audioContext

	outTB media.Rational

	// Resampler state: buf holds unconsumed input sample frames remixed to
	// the output channel count, pos is the fractional read position in
	// sample frames.
	buf []float64
	pos float64

	anchored bool
	nextPTS  media.Pts
}

// AudioOption configures an AudioTransform.
type AudioOption func(*AudioTransform)

// WithAudioLogger sets the logger. Defaults to slog.Default().
func WithAudioLogger(l *slog.Logger) AudioOption {
	return func(t *AudioTransform) { t.log = l }
}

// NewAudioTransform creates an audio transform targeting cfg.
func NewAudioTransform(cfg pipeline.AudioTransformConfig, opts ...AudioOption) (*AudioTransform, error) {
	if cfg.SampleRate <= 0 {
		return nil, media.InvalidDataf("sample rate %d", cfg.SampleRate)
	}
	if cfg.Layout.Channels() == 0 {
		return nil, media.InvalidDataf("unknown channel layout")
	}
	if cfg.Format.BytesPerSample() == 0 {
		return nil, media.Unsupportedf("sample format %s", cfg.Format)
	}

	t := &AudioTransform{
		log:     slog.Default(),
		cfg:     cfg,
		outTB:   media.NewRational(1, cfg.SampleRate),
		nextPTS: media.NoPts,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "audio-transform")
	return t, nil
}

// Transform converts one frame. It returns nil when resampling has buffered
// the whole input without completing an output sample run.
func (t *AudioTransform) Transform(f *media.AudioFrame) (*media.AudioFrame, error) {
	if f == nil || f.Samples == 0 {
		return nil, media.InvalidDataf("empty frame")
	}
	if f.SampleRate <= 0 || f.Layout.Channels() == 0 || f.Format.BytesPerSample() == 0 {
		return nil, media.InvalidDataf("frame shape %d Hz %s %s", f.SampleRate, f.Layout, f.Format)
	}
	if len(f.Data) != f.ExpectedDataLen() {
		return nil, media.InvalidDataf("frame data %d bytes, expected %d",
			len(f.Data), f.ExpectedDataLen())
	}

	if t.ctx == nil || t.ctx.rate != f.SampleRate || t.ctx.layout != f.Layout || t.ctx.format != f.Format {
		if t.ctx != nil {
			t.log.Debug("conversion context rebuilt",
				"rate", f.SampleRate, "layout", f.Layout, "format", f.Format)
		}
		t.ctx = &audioContext{rate: f.SampleRate, layout: f.Layout, format: f.Format}
		t.buf = nil
		t.pos = 0
		t.anchored = false
	}

	if !t.anchored && f.PTS != media.NoPts {
		t.nextPTS = media.PtsFromDuration(f.PTS.ToDuration(f.TimeBase), t.outTB)
		t.anchored = true
	}

	samples := remix(toFloats(f.Data, f.Format), f.Layout.Channels(), t.cfg.Layout.Channels())

	if f.SampleRate == t.cfg.SampleRate {
		return t.emit(samples), nil
	}

	t.buf = append(t.buf, samples...)
	out := t.resample(false)
	if out == nil {
		return nil, nil
	}
	return t.emit(out), nil
}

// Flush returns samples still held by the fractional resampler, or nil when
// there is no remainder.
func (t *AudioTransform) Flush() (*media.AudioFrame, error) {
	out := t.resample(true)
	t.buf = nil
	t.pos = 0
	if out == nil {
		return nil, nil
	}
	return t.emit(out), nil
}

// resample consumes buffered input with linear interpolation. In tail mode
// it reads to the final sample, clamping the interpolation partner.
func (t *AudioTransform) resample(tail bool) []float64 {
	ch := t.cfg.Layout.Channels()
	if t.ctx == nil || len(t.buf) == 0 {
		return nil
	}
	frames := len(t.buf) / ch
	ratio := float64(t.ctx.rate) / float64(t.cfg.SampleRate)

	var out []float64
	for {
		i := int(t.pos)
		if tail {
			if i >= frames {
				break
			}
		} else if i+1 >= frames {
			break
		}
		j := i + 1
		if j >= frames {
			j = frames - 1
		}
		frac := t.pos - float64(i)
		for c := 0; c < ch; c++ {
			a := t.buf[i*ch+c]
			b := t.buf[j*ch+c]
			out = append(out, a+(b-a)*frac)
		}
		t.pos += ratio
	}

	// Drop consumed whole sample frames, keeping the one interpolation
	// partner the next call needs.
	keepFrom := int(t.pos)
	if keepFrom > frames {
		keepFrom = frames
	}
	t.buf = t.buf[keepFrom*ch:]
	t.pos -= float64(keepFrom)
	return out
}

// emit packages interleaved float samples as an output frame and advances
// the PTS run.
func (t *AudioTransform) emit(samples []float64) *media.AudioFrame {
	ch := t.cfg.Layout.Channels()
	if len(samples) == 0 {
		return nil
	}
	f := &media.AudioFrame{
		Data:       fromFloats(samples, t.cfg.Format),
		Samples:    len(samples) / ch,
		SampleRate: t.cfg.SampleRate,
		Layout:     t.cfg.Layout,
		Format:     t.cfg.Format,
		PTS:        t.nextPTS,
		TimeBase:   t.outTB,
	}
	if t.anchored {
		t.nextPTS += media.Pts(f.Samples)
	}
	return f
}

// remix converts interleaved samples between channel counts: duplication up
// to stereo, averaging down to mono.
func remix(s []float64, from, to int) []float64 {
	if from == to {
		return s
	}
	frames := len(s) / from
	out := make([]float64, 0, frames*to)
	switch {
	case from == 1 && to == 2:
		for _, v := range s {
			out = append(out, v, v)
		}
	case from == 2 && to == 1:
		for i := 0; i < frames; i++ {
			out = append(out, (s[2*i]+s[2*i+1])/2)
		}
	default:
		// Layouts are mono or stereo; fall back to the first channel.
		for i := 0; i < frames; i++ {
			for c := 0; c < to; c++ {
				out = append(out, s[i*from])
			}
		}
	}
	return out
}

func toFloats(data []byte, format media.SampleFormat) []float64 {
	bps := format.BytesPerSample()
	n := len(data) / bps
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := data[i*bps:]
		switch format {
		case media.SampleFormatU8:
			out[i] = (float64(b[0]) - 128) / 128
		case media.SampleFormatS16:
			out[i] = float64(int16(binary.LittleEndian.Uint16(b))) / 32768
		case media.SampleFormatS32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
		case media.SampleFormatF32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case media.SampleFormatF64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	}
	return out
}

func fromFloats(s []float64, format media.SampleFormat) []byte {
	bps := format.BytesPerSample()
	out := make([]byte, len(s)*bps)
	for i, v := range s {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		b := out[i*bps:]
		switch format {
		case media.SampleFormatU8:
			b[0] = uint8(v*127 + 128)
		case media.SampleFormatS16:
			binary.LittleEndian.PutUint16(b, uint16(int16(v*32767)))
		case media.SampleFormatS32:
			binary.LittleEndian.PutUint32(b, uint32(int32(v*2147483647)))
		case media.SampleFormatF32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		case media.SampleFormatF64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		}
	}
	return out
}
