package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/zsiec/tempo/media"
)

func TestTimestampRoundTrip(t *testing.T) {
	var b [5]byte
	tests := []media.Pts{0, 1, 90000, 1<<33 - 1, 123456789}
	for _, ts := range tests {
		putTimestamp(b[:], 0x2, ts)
		if got := parseTimestamp(b[:]); got != ts&0x1FFFFFFFF {
			t.Errorf("timestamp %d round-tripped to %d", ts, got)
		}
	}
}

func TestPESHeaderRoundTrip(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	h := buildPESHeader(StreamIDVideo, -1, 90000, 87000)
	pes, err := parsePES(append(h, data...))
	if err != nil {
		t.Fatalf("parsePES: %v", err)
	}
	if pes.StreamID != StreamIDVideo {
		t.Errorf("StreamID = 0x%02X", pes.StreamID)
	}
	if pes.PTS != 90000 || pes.DTS != 87000 {
		t.Errorf("PTS/DTS = %d/%d", pes.PTS, pes.DTS)
	}
	if !bytes.Equal(pes.Data, data) {
		t.Errorf("Data = %x", pes.Data)
	}
}

func TestPESHeaderPTSOnly(t *testing.T) {
	data := []byte{0x01, 0x02}
	h := buildPESHeader(StreamIDAudio, len(data), 45000, media.NoPts)
	pes, err := parsePES(append(h, data...))
	if err != nil {
		t.Fatalf("parsePES: %v", err)
	}
	if pes.PTS != 45000 {
		t.Errorf("PTS = %d", pes.PTS)
	}
	if pes.DTS != media.NoPts {
		t.Errorf("DTS = %d, want absent", pes.DTS)
	}
	if !bytes.Equal(pes.Data, data) {
		t.Errorf("Data = %x", pes.Data)
	}
}

func TestPSISectionRoundTrip(t *testing.T) {
	pat, err := parsePATSection(buildPATPayload(1, pidPMT)[1:])
	if err != nil {
		t.Fatalf("parsePATSection: %v", err)
	}
	if len(pat.Programs) != 1 || pat.Programs[0].ProgramMapPID != pidPMT {
		t.Errorf("PAT = %+v", pat)
	}

	streams := []ElementaryStream{
		{ElementaryPID: 0x100, StreamType: StreamTypeH264},
		{ElementaryPID: 0x101, StreamType: StreamTypeADTSAAC},
	}
	pmt, err := parsePMTSection(buildPMTPayload(0x100, streams)[1:])
	if err != nil {
		t.Fatalf("parsePMTSection: %v", err)
	}
	if pmt.PCRPID != 0x100 {
		t.Errorf("PCRPID = 0x%04X", pmt.PCRPID)
	}
	if len(pmt.ElementaryStreams) != 2 {
		t.Fatalf("streams = %d", len(pmt.ElementaryStreams))
	}
	if pmt.ElementaryStreams[1].StreamType != StreamTypeADTSAAC {
		t.Errorf("stream type = 0x%02X", pmt.ElementaryStreams[1].StreamType)
	}
}

func TestCRC32KnownGood(t *testing.T) {
	section := buildPATPayload(1, pidPMT)[1:]
	if err := verifyCRC32(section); err != nil {
		t.Errorf("verifyCRC32: %v", err)
	}
	section[4] ^= 0xFF
	if err := verifyCRC32(section); err == nil {
		t.Error("expected CRC mismatch after corruption")
	}
}

func TestMuxDemuxRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	m := NewMuxer(&buf)

	vpid, err := m.AddStream(media.CodecH264)
	if err != nil {
		t.Fatalf("AddStream video: %v", err)
	}
	apid, err := m.AddStream(media.CodecAAC)
	if err != nil {
		t.Fatalf("AddStream audio: %v", err)
	}

	// A video access unit larger than one packet, plus two audio units.
	video := bytes.Repeat([]byte{0xAB}, 600)
	if err := m.WritePES(vpid, video, 3003, 0, true); err != nil {
		t.Fatalf("WritePES video: %v", err)
	}
	audio1 := bytes.Repeat([]byte{0xCD}, 100)
	if err := m.WritePES(apid, audio1, 1024, media.NoPts, true); err != nil {
		t.Fatalf("WritePES audio: %v", err)
	}
	audio2 := bytes.Repeat([]byte{0xEF, 0x01}, 80)
	if err := m.WritePES(apid, audio2, 2048, media.NoPts, true); err != nil {
		t.Fatalf("WritePES audio: %v", err)
	}

	if buf.Len()%PacketSize != 0 {
		t.Fatalf("output length %d not a multiple of %d", buf.Len(), PacketSize)
	}

	d := NewDemuxer(context.Background(), bytes.NewReader(buf.Bytes()))

	var sawPAT, sawPMT bool
	var pesUnits []*DemuxerData
	for {
		data, err := d.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("NextData: %v", err)
		}
		switch {
		case data.PAT != nil:
			sawPAT = true
			if data.PAT.Programs[0].ProgramMapPID != pidPMT {
				t.Errorf("PAT pmt pid = 0x%04X", data.PAT.Programs[0].ProgramMapPID)
			}
		case data.PMT != nil:
			sawPMT = true
			if len(data.PMT.ElementaryStreams) != 2 {
				t.Errorf("PMT streams = %d", len(data.PMT.ElementaryStreams))
			}
		case data.PES != nil:
			pesUnits = append(pesUnits, data)
		}
	}

	if !sawPAT || !sawPMT {
		t.Fatalf("missing PSI: pat=%v pmt=%v", sawPAT, sawPMT)
	}
	if len(pesUnits) != 3 {
		t.Fatalf("PES units = %d, want 3", len(pesUnits))
	}

	var videoUnits, audioUnits []*PES
	for _, u := range pesUnits {
		switch u.PID {
		case vpid:
			videoUnits = append(videoUnits, u.PES)
		case apid:
			audioUnits = append(audioUnits, u.PES)
		default:
			t.Fatalf("unexpected pid 0x%04X", u.PID)
		}
	}
	if len(videoUnits) != 1 || len(audioUnits) != 2 {
		t.Fatalf("video/audio units = %d/%d", len(videoUnits), len(audioUnits))
	}

	v := videoUnits[0]
	if !bytes.Equal(v.Data, video) {
		t.Errorf("video payload mismatch: %d bytes", len(v.Data))
	}
	if v.PTS != 3003 || v.DTS != 0 {
		t.Errorf("video PTS/DTS = %d/%d", v.PTS, v.DTS)
	}
	if !v.RandomAccess {
		t.Error("keyframe should set random access indicator")
	}

	if !bytes.Equal(audioUnits[0].Data, audio1) {
		t.Error("audio1 payload mismatch")
	}
	if audioUnits[0].PTS != 1024 {
		t.Errorf("audio1 PTS = %d", audioUnits[0].PTS)
	}
	if !bytes.Equal(audioUnits[1].Data, audio2) {
		t.Error("audio2 payload mismatch")
	}
}

func TestMuxerRejectsUnknownPID(t *testing.T) {
	m := NewMuxer(&bytes.Buffer{})
	if err := m.WritePES(0x42, []byte{1}, 0, media.NoPts, false); err == nil {
		t.Error("expected error for unregistered pid")
	}
}

func TestMuxerRejectsUnsupportedCodec(t *testing.T) {
	m := NewMuxer(&bytes.Buffer{})
	_, err := m.AddStream(media.CodecFLAC)
	if err == nil {
		t.Fatal("expected error for codec without a ts mapping")
	}
	if media.KindOf(err) != media.KindUnsupportedFormat {
		t.Errorf("kind = %v, want unsupported format", media.KindOf(err))
	}
}

func TestDemuxerReset(t *testing.T) {
	var buf bytes.Buffer
	m := NewMuxer(&buf)
	pid, _ := m.AddStream(media.CodecAAC)
	if err := m.WritePES(pid, []byte{1, 2, 3}, 100, media.NoPts, true); err != nil {
		t.Fatal(err)
	}

	d := NewDemuxer(context.Background(), bytes.NewReader(buf.Bytes()))
	if _, err := d.NextData(); err != nil {
		t.Fatal(err)
	}
	d.Reset()
	// After a reset the demuxer keeps program knowledge but has no
	// buffered units; a fresh read position yields the same stream again.
	d.reader = bytes.NewReader(buf.Bytes())
	var sawPES bool
	for {
		data, err := d.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if data.PES != nil {
			sawPES = true
		}
	}
	if !sawPES {
		t.Error("no PES after reset")
	}
}

func TestCodecStreamTypeMapping(t *testing.T) {
	for _, c := range []media.CodecID{media.CodecH264, media.CodecAAC, media.CodecPCMS16LE, media.CodecMJPEG} {
		st, ok := StreamTypeForCodec(c)
		if !ok {
			t.Fatalf("no stream type for %s", c)
		}
		back, ok := CodecForStreamType(st)
		if !ok || back != c {
			t.Errorf("%s mapped to 0x%02X and back to %s", c, st, back)
		}
	}
}
