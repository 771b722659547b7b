package demux

import "testing"

// buildADTSFrame assembles a 7-byte ADTS header plus payload for AAC-LC.
func buildADTSFrame(sampleRateIdx, channels int, payload []byte) []byte {
	frameLen := 7 + len(payload)
	header := make([]byte, 7)
	header[0] = 0xFF
	header[1] = 0xF1 // MPEG-4, layer 0, no CRC
	header[2] = (1 << 6) | byte(sampleRateIdx<<2) | byte(channels>>2&0x01)
	header[3] = byte(channels&0x03)<<6 | byte((frameLen>>11)&0x03)
	header[4] = byte((frameLen >> 3) & 0xFF)
	header[5] = byte((frameLen&0x07)<<5) | 0x1F
	header[6] = 0xFC
	return append(header, payload...)
}

func TestParseADTS(t *testing.T) {
	t.Parallel()
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE}
	adts := buildADTSFrame(3, 2, payload) // 48 kHz stereo

	frames, err := ParseADTS(adts)
	if err != nil {
		t.Fatalf("ParseADTS: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].SampleRate != 48000 {
		t.Errorf("sample rate = %d, want 48000", frames[0].SampleRate)
	}
	if frames[0].Channels != 2 {
		t.Errorf("channels = %d, want 2", frames[0].Channels)
	}
	if len(frames[0].Data) != 7+len(payload) {
		t.Errorf("frame length = %d, want %d", len(frames[0].Data), 7+len(payload))
	}
}

func TestParseADTSMultipleFrames(t *testing.T) {
	t.Parallel()
	var data []byte
	data = append(data, buildADTSFrame(4, 2, []byte{0x01, 0x02})...) // 44.1 kHz
	data = append(data, buildADTSFrame(4, 2, []byte{0x03, 0x04, 0x05})...)

	frames, err := ParseADTS(data)
	if err != nil {
		t.Fatalf("ParseADTS: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].SampleRate != 44100 || frames[1].SampleRate != 44100 {
		t.Error("sample rate mismatch")
	}
}

func TestParseADTSSkipsGarbage(t *testing.T) {
	t.Parallel()
	data := append([]byte{0x00, 0x11, 0x22}, buildADTSFrame(3, 1, []byte{0xAA})...)
	frames, err := ParseADTS(data)
	if err != nil {
		t.Fatalf("ParseADTS: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after garbage, got %d", len(frames))
	}
	if frames[0].Channels != 1 {
		t.Errorf("channels = %d, want 1", frames[0].Channels)
	}
}

func TestParseADTSTruncated(t *testing.T) {
	t.Parallel()
	full := buildADTSFrame(3, 2, []byte{0x01, 0x02, 0x03, 0x04})
	frames, err := ParseADTS(full[:len(full)-2])
	if err != nil {
		t.Fatalf("ParseADTS: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected 0 frames for truncated input, got %d", len(frames))
	}
}

func TestParseADTSEmpty(t *testing.T) {
	t.Parallel()
	frames, err := ParseADTS(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected 0 frames, got %d", len(frames))
	}
}
