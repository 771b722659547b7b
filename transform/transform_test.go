package transform

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

var (
	_ pipeline.VideoTransformer = (*VideoTransform)(nil)
	_ pipeline.AudioTransformer = (*AudioTransform)(nil)
)

func yuvFrame(w, h int, pts media.Pts) *media.VideoFrame {
	cw, ch := (w+1)/2, (h+1)/2
	data := make([]byte, w*h+2*cw*ch)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = byte((x + y) % 256)
		}
	}
	for i := w * h; i < len(data); i++ {
		data[i] = 128
	}
	return &media.VideoFrame{
		Data: data, Width: w, Height: h,
		Format: media.PixelFormatYUV420P,
		PTS:    pts, TimeBase: media.TimeBase90kHz,
	}
}

func TestVideoTransformScaleDown(t *testing.T) {
	xf, err := NewVideoTransform(pipeline.VideoTransformConfig{
		Width: 32, Height: 24,
		Format:    media.PixelFormatYUV420P,
		Algorithm: pipeline.ScaleBilinear,
	})
	if err != nil {
		t.Fatalf("NewVideoTransform: %v", err)
	}

	out, err := xf.Transform(yuvFrame(64, 48, 6000))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out.Width != 32 || out.Height != 24 {
		t.Errorf("output %dx%d, want 32x24", out.Width, out.Height)
	}
	if out.Format != media.PixelFormatYUV420P {
		t.Errorf("format = %v", out.Format)
	}
	if len(out.Data) != out.ExpectedDataLen() {
		t.Errorf("data %d bytes, expected %d", len(out.Data), out.ExpectedDataLen())
	}
	if out.PTS != 6000 {
		t.Errorf("pts = %d, want 6000", out.PTS)
	}
}

func TestVideoTransformPassthrough(t *testing.T) {
	xf, err := NewVideoTransform(pipeline.VideoTransformConfig{
		Width: 64, Height: 48, Format: media.PixelFormatYUV420P,
	})
	if err != nil {
		t.Fatalf("NewVideoTransform: %v", err)
	}
	in := yuvFrame(64, 48, 0)
	out, err := xf.Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out != in {
		t.Error("matching frame was not passed through")
	}
}

func TestVideoTransformFormatConvert(t *testing.T) {
	xf, err := NewVideoTransform(pipeline.VideoTransformConfig{
		Width: 16, Height: 16, Format: media.PixelFormatRGBA,
	})
	if err != nil {
		t.Fatalf("NewVideoTransform: %v", err)
	}
	out, err := xf.Transform(yuvFrame(16, 16, 0))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out.Format != media.PixelFormatRGBA {
		t.Errorf("format = %v, want rgba", out.Format)
	}
	if len(out.Data) != 16*16*4 {
		t.Errorf("data %d bytes", len(out.Data))
	}
}

func TestVideoTransformContextRebuild(t *testing.T) {
	xf, err := NewVideoTransform(pipeline.VideoTransformConfig{
		Width: 32, Height: 32, Format: media.PixelFormatYUV420P,
	})
	if err != nil {
		t.Fatalf("NewVideoTransform: %v", err)
	}
	// Two different input shapes in a row must both convert.
	if _, err := xf.Transform(yuvFrame(64, 48, 0)); err != nil {
		t.Fatalf("first shape: %v", err)
	}
	out, err := xf.Transform(yuvFrame(128, 96, 3000))
	if err != nil {
		t.Fatalf("second shape: %v", err)
	}
	if out.Width != 32 || out.Height != 32 {
		t.Errorf("output %dx%d", out.Width, out.Height)
	}
}

func TestVideoTransformRejectsShortData(t *testing.T) {
	xf, err := NewVideoTransform(pipeline.VideoTransformConfig{Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("NewVideoTransform: %v", err)
	}
	f := yuvFrame(16, 16, 0)
	f.Data = f.Data[:10]
	if _, err := xf.Transform(f); media.KindOf(err) != media.KindInvalidData {
		t.Errorf("err = %v, want invalid data", err)
	}
}

func s16Frame(samples []int16, rate int, layout media.ChannelLayout, pts media.Pts) *media.AudioFrame {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return &media.AudioFrame{
		Data:       data,
		Samples:    len(samples) / layout.Channels(),
		SampleRate: rate,
		Layout:     layout,
		Format:     media.SampleFormatS16,
		PTS:        pts,
		TimeBase:   media.NewRational(1, rate),
	}
}

func TestAudioTransformFormatConvert(t *testing.T) {
	xf, err := NewAudioTransform(pipeline.AudioTransformConfig{
		SampleRate: 48000,
		Layout:     media.ChannelLayoutMono,
		Format:     media.SampleFormatF32,
	})
	if err != nil {
		t.Fatalf("NewAudioTransform: %v", err)
	}

	out, err := xf.Transform(s16Frame([]int16{16384, -16384}, 48000, media.ChannelLayoutMono, 0))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out == nil || out.Samples != 2 {
		t.Fatalf("out = %+v", out)
	}
	if out.Format != media.SampleFormatF32 {
		t.Errorf("format = %v", out.Format)
	}
	v0 := math.Float32frombits(binary.LittleEndian.Uint32(out.Data))
	if math.Abs(float64(v0)-0.5) > 0.001 {
		t.Errorf("sample 0 = %v, want ~0.5", v0)
	}
}

func TestAudioTransformMonoToStereo(t *testing.T) {
	xf, err := NewAudioTransform(pipeline.AudioTransformConfig{
		SampleRate: 48000,
		Layout:     media.ChannelLayoutStereo,
		Format:     media.SampleFormatS16,
	})
	if err != nil {
		t.Fatalf("NewAudioTransform: %v", err)
	}
	out, err := xf.Transform(s16Frame([]int16{1000, 2000}, 48000, media.ChannelLayoutMono, 0))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out.Samples != 2 || out.Layout != media.ChannelLayoutStereo {
		t.Fatalf("out = %+v", out)
	}
	l := int16(binary.LittleEndian.Uint16(out.Data[0:]))
	r := int16(binary.LittleEndian.Uint16(out.Data[2:]))
	if l != r {
		t.Errorf("duplicated channels differ: %d vs %d", l, r)
	}
}

func TestAudioTransformUpsampleWithFlush(t *testing.T) {
	xf, err := NewAudioTransform(pipeline.AudioTransformConfig{
		SampleRate: 48000,
		Layout:     media.ChannelLayoutMono,
		Format:     media.SampleFormatS16,
	})
	if err != nil {
		t.Fatalf("NewAudioTransform: %v", err)
	}

	in := make([]int16, 100)
	for i := range in {
		in[i] = int16(i * 100)
	}
	out, err := xf.Transform(s16Frame(in, 24000, media.ChannelLayoutMono, 0))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	total := 0
	if out != nil {
		total += out.Samples
		if out.SampleRate != 48000 {
			t.Errorf("rate = %d", out.SampleRate)
		}
	}

	tail, err := xf.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if tail != nil {
		total += tail.Samples
	}
	if total != 200 {
		t.Errorf("total output samples = %d, want 200", total)
	}
}

func TestAudioTransformBuffersWholeInput(t *testing.T) {
	xf, err := NewAudioTransform(pipeline.AudioTransformConfig{
		SampleRate: 24000,
		Layout:     media.ChannelLayoutMono,
		Format:     media.SampleFormatS16,
	})
	if err != nil {
		t.Fatalf("NewAudioTransform: %v", err)
	}

	// One input sample frame cannot complete any interpolated output.
	out, err := xf.Transform(s16Frame([]int16{5000}, 48000, media.ChannelLayoutMono, 0))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil for wholly buffered input, got %d samples", out.Samples)
	}

	tail, err := xf.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if tail == nil || tail.Samples != 1 {
		t.Fatalf("tail = %+v, want 1 sample", tail)
	}
}

func TestAudioTransformPTSRun(t *testing.T) {
	xf, err := NewAudioTransform(pipeline.AudioTransformConfig{
		SampleRate: 24000,
		Layout:     media.ChannelLayoutMono,
		Format:     media.SampleFormatS16,
	})
	if err != nil {
		t.Fatalf("NewAudioTransform: %v", err)
	}

	// Input starts one second in; the output PTS follows in the output base.
	out, err := xf.Transform(s16Frame(make([]int16, 48), 48000, media.ChannelLayoutMono, 48000))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out == nil {
		t.Fatal("no output")
	}
	if out.PTS != 24000 {
		t.Errorf("pts = %d, want 24000", out.PTS)
	}
	if out.TimeBase.Den != 24000 {
		t.Errorf("time base = %v", out.TimeBase)
	}
}

func TestAudioTransformContextRebuildOnRateChange(t *testing.T) {
	xf, err := NewAudioTransform(pipeline.AudioTransformConfig{
		SampleRate: 48000,
		Layout:     media.ChannelLayoutMono,
		Format:     media.SampleFormatS16,
	})
	if err != nil {
		t.Fatalf("NewAudioTransform: %v", err)
	}

	if _, err := xf.Transform(s16Frame(make([]int16, 48), 24000, media.ChannelLayoutMono, 0)); err != nil {
		t.Fatalf("first rate: %v", err)
	}
	out, err := xf.Transform(s16Frame(make([]int16, 32), 32000, media.ChannelLayoutMono, 0))
	if err != nil {
		t.Fatalf("second rate: %v", err)
	}
	if out != nil && out.SampleRate != 48000 {
		t.Errorf("rate = %d", out.SampleRate)
	}
}
