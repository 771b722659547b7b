package demux

import "testing"

func TestParseAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{
		// 4-byte start code + SPS (NAL type 7)
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		// 4-byte start code + PPS (NAL type 8)
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
		// 4-byte start code + IDR (NAL type 5)
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0xFF, 0xFE,
	}

	nalus := ParseAnnexB(data)
	if len(nalus) != 3 {
		t.Fatalf("expected 3 NAL units, got %d", len(nalus))
	}

	if nalus[0].Type != NALTypeSPS || !IsSPS(nalus[0].Type) {
		t.Errorf("expected SPS, got %d", nalus[0].Type)
	}
	if nalus[1].Type != NALTypePPS || !IsPPS(nalus[1].Type) {
		t.Errorf("expected PPS, got %d", nalus[1].Type)
	}
	if nalus[2].Type != NALTypeIDR || !IsKeyframe(nalus[2].Type) {
		t.Errorf("expected IDR, got %d", nalus[2].Type)
	}
}

func TestParseAnnexB3ByteStartCode(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x01, 0x67, 0x42, 0xE0,
		0x00, 0x00, 0x01, 0x65, 0x88, 0x84,
	}

	nalus := ParseAnnexB(data)
	if len(nalus) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nalus))
	}
	if nalus[0].Type != NALTypeSPS {
		t.Errorf("expected SPS, got %d", nalus[0].Type)
	}
	if nalus[1].Type != NALTypeIDR {
		t.Errorf("expected IDR, got %d", nalus[1].Type)
	}
}

func TestParseAnnexBEmpty(t *testing.T) {
	t.Parallel()
	if nalus := ParseAnnexB(nil); nalus != nil {
		t.Errorf("expected nil for empty input, got %d units", len(nalus))
	}
	if nalus := ParseAnnexB([]byte{0x00, 0x01}); nalus != nil {
		t.Errorf("expected nil for too-short input, got %d units", len(nalus))
	}
}

func TestParseAnnexBTrailingZeroAbsorbedByStartCode(t *testing.T) {
	t.Parallel()
	// Zeros preceding a start code are part of the start code prefix, not
	// NALU data.
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x06, 0xAA, 0xBB, 0x00,
		0x00, 0x00, 0x01, 0x41, 0x9A,
	}

	nalus := ParseAnnexB(data)
	if len(nalus) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nalus))
	}
	if nalus[0].Type != NALTypeSEI {
		t.Errorf("expected SEI, got %d", nalus[0].Type)
	}
	if len(nalus[0].Data) != 3 {
		t.Errorf("SEI data length: got %d, want 3", len(nalus[0].Data))
	}
	if nalus[1].Type != NALTypeSlice {
		t.Errorf("expected slice, got %d", nalus[1].Type)
	}
}

func TestParseSPSBaseline(t *testing.T) {
	t.Parallel()
	// Baseline profile, level 3.0, 40x30 macroblocks (640x480), no
	// cropping, no VUI.
	sps := []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x02, 0x80, 0xF6, 0x40}
	info, err := ParseSPS(sps)
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if info.Width != 640 || info.Height != 480 {
		t.Errorf("dimensions = %dx%d, want 640x480", info.Width, info.Height)
	}
	if info.ProfileIDC != 0x42 {
		t.Errorf("profile = 0x%02X, want 0x42", info.ProfileIDC)
	}
	if got := info.CodecString(); got != "avc1.42C01E" {
		t.Errorf("CodecString() = %q", got)
	}
}

func TestParseSPSTooShort(t *testing.T) {
	t.Parallel()
	if _, err := ParseSPS([]byte{0x67, 0x42}); err == nil {
		t.Error("expected error for truncated SPS")
	}
}

func TestInspectAccessUnit(t *testing.T) {
	t.Parallel()
	idr := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84,
	}
	info := InspectAccessUnit(idr)
	if !info.Keyframe {
		t.Error("expected keyframe")
	}
	if info.SPS == nil || info.SPS[0]&0x1F != NALTypeSPS {
		t.Error("expected SPS capture")
	}
	if info.PPS == nil {
		t.Error("expected PPS capture")
	}

	nonIdr := []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A, 0x00}
	if InspectAccessUnit(nonIdr).Keyframe {
		t.Error("non-IDR slice reported as keyframe")
	}
}
