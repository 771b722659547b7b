package pcm

import (
	"bytes"
	"testing"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

var (
	_ pipeline.AudioDecoder = (*Decoder)(nil)
	_ pipeline.AudioEncoder = (*Encoder)(nil)
)

func s16StreamInfo() media.AudioStreamInfo {
	return media.AudioStreamInfo{
		Codec:      media.CodecPCMS16LE,
		SampleRate: 48000,
		Layout:     media.ChannelLayoutStereo,
		Format:     media.SampleFormatS16,
		TimeBase:   media.TimeBase48kHz,
	}
}

func TestDecodeS16(t *testing.T) {
	dec, err := NewDecoder(s16StreamInfo())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	// 4 stereo sample frames = 16 bytes.
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	frames, err := dec.Decode(&media.Packet{
		Data: data, PTS: 1024, TimeBase: media.TimeBase48kHz, Type: media.StreamAudio,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Samples != 4 {
		t.Errorf("samples = %d, want 4", f.Samples)
	}
	if f.Format != media.SampleFormatS16 || f.Layout != media.ChannelLayoutStereo {
		t.Errorf("format = %v %v", f.Format, f.Layout)
	}
	if f.PTS != 1024 {
		t.Errorf("pts = %d", f.PTS)
	}
	if !bytes.Equal(f.Data, data) {
		t.Error("sample bytes changed")
	}
}

func TestDecodeRejectsPartialSampleFrame(t *testing.T) {
	dec, err := NewDecoder(s16StreamInfo())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	_, err = dec.Decode(&media.Packet{Data: make([]byte, 7), Type: media.StreamAudio})
	if media.KindOf(err) != media.KindInvalidData {
		t.Errorf("err = %v, want invalid data", err)
	}
}

func TestDecoderRejectsNonPCM(t *testing.T) {
	info := s16StreamInfo()
	info.Codec = media.CodecAAC
	if _, err := NewDecoder(info); media.KindOf(err) != media.KindUnsupportedFormat {
		t.Errorf("err = %v, want unsupported", err)
	}
}

func TestDecoderStateMachine(t *testing.T) {
	dec, err := NewDecoder(s16StreamInfo())
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if _, err := dec.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	pkt := &media.Packet{Data: make([]byte, 8), Type: media.StreamAudio}
	if _, err := dec.Decode(pkt); media.KindOf(err) != media.KindCodec {
		t.Errorf("Decode after flush: %v", err)
	}
	dec.Reset()
	if _, err := dec.Decode(pkt); err != nil {
		t.Errorf("Decode after reset: %v", err)
	}
}

func TestEncodeF32RoundTrip(t *testing.T) {
	enc, err := NewEncoder(pipeline.AudioEncoderConfig{
		Codec:      media.CodecPCMF32LE,
		SampleRate: 44100,
		Layout:     media.ChannelLayoutMono,
	})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	info := enc.StreamInfo()
	if info.Format != media.SampleFormatF32 {
		t.Errorf("format = %v, want f32", info.Format)
	}
	if info.TimeBase.Den != 44100 {
		t.Errorf("time base = %v", info.TimeBase)
	}

	f := &media.AudioFrame{
		Data:       make([]byte, 16), // 4 mono f32 samples
		Samples:    4,
		SampleRate: 44100,
		Layout:     media.ChannelLayoutMono,
		Format:     media.SampleFormatF32,
		PTS:        100,
		TimeBase:   info.TimeBase,
	}
	pkts, err := enc.Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(pkts) != 1 {
		t.Fatalf("encoded %d packets, want 1", len(pkts))
	}
	pkt := pkts[0]
	if pkt.DTS != pkt.PTS || pkt.PTS != 100 {
		t.Errorf("timestamps pts=%d dts=%d", pkt.PTS, pkt.DTS)
	}
	if !pkt.Keyframe {
		t.Error("packet not marked keyframe")
	}
	if pkt.Duration != 4 {
		t.Errorf("duration = %d ticks, want 4", pkt.Duration)
	}

	dec, err := NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	frames, err := dec.Decode(pkt)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frames[0].Samples != 4 || !bytes.Equal(frames[0].Data, f.Data) {
		t.Error("round trip lost samples")
	}
}

func TestEncodeRejectsWrongFormat(t *testing.T) {
	enc, err := NewEncoder(pipeline.AudioEncoderConfig{
		Codec:      media.CodecPCMS16LE,
		SampleRate: 48000,
		Layout:     media.ChannelLayoutStereo,
	})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	_, err = enc.Encode(&media.AudioFrame{
		Data:       make([]byte, 8),
		Samples:    1,
		SampleRate: 48000,
		Layout:     media.ChannelLayoutStereo,
		Format:     media.SampleFormatF32,
	})
	if media.KindOf(err) != media.KindUnsupportedFormat {
		t.Errorf("err = %v, want unsupported", err)
	}
}
