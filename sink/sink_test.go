package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/mpegts"
	"github.com/zsiec/tempo/pipeline"
)

var (
	_ pipeline.Sink = (*TSSink)(nil)
	_ pipeline.Sink = (*HLSSink)(nil)
)

func avConfig() pipeline.SinkConfig {
	return pipeline.SinkConfig{
		Format: pipeline.ContainerMpegTS,
		Video:  &media.VideoStreamInfo{Codec: media.CodecH264, Width: 640, Height: 480},
		Audio:  &media.AudioStreamInfo{Codec: media.CodecAAC, SampleRate: 48000},
	}
}

func TestTSSinkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewTS(&buf, avConfig())
	if err != nil {
		t.Fatalf("NewTS: %v", err)
	}

	video := bytes.Repeat([]byte{0xAB}, 300)
	audio := bytes.Repeat([]byte{0xCD}, 64)
	packets := []*media.Packet{
		{Data: video, PTS: 3000, DTS: 3000, TimeBase: media.TimeBase90kHz, Keyframe: true, Type: media.StreamVideo},
		// Audio carried in its native 48 kHz base; the sink rescales.
		{Data: audio, PTS: 1024, DTS: 1024, TimeBase: media.TimeBase48kHz, Keyframe: true, Type: media.StreamAudio},
		{Data: video, PTS: 6000, DTS: 6000, TimeBase: media.TimeBase90kHz, Type: media.StreamVideo},
	}
	for _, pkt := range packets {
		if err := s.Write(pkt); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	d := mpegts.NewDemuxer(context.Background(), bytes.NewReader(buf.Bytes()))
	byPTS := map[media.Pts][]byte{}
	for {
		data, err := d.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("NextData: %v", err)
		}
		if data.PES != nil {
			byPTS[data.PES.PTS] = data.PES.Data
		}
	}

	if !bytes.Equal(byPTS[3000], video) {
		t.Error("first video unit lost or corrupted")
	}
	if !bytes.Equal(byPTS[6000], video) {
		t.Error("second video unit lost or corrupted")
	}
	// 1024 ticks at 48 kHz = 1920 ticks at 90 kHz.
	if !bytes.Equal(byPTS[1920], audio) {
		t.Errorf("audio unit not found at rescaled pts; have %v", ptsKeys(byPTS))
	}
}

func ptsKeys(m map[media.Pts][]byte) []media.Pts {
	out := make([]media.Pts, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestTSSinkFinishConsumes(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewTS(&buf, avConfig())
	if err != nil {
		t.Fatalf("NewTS: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	err = s.Write(&media.Packet{Data: []byte{1}, Type: media.StreamVideo})
	if !errors.Is(err, os.ErrClosed) {
		t.Errorf("Write after Finish: %v, want closed", err)
	}
	if err := s.Finish(); err == nil {
		t.Error("second Finish succeeded")
	}
}

func TestTSSinkRejectsUndeclaredStream(t *testing.T) {
	cfg := avConfig()
	cfg.Video = nil
	var buf bytes.Buffer
	s, err := NewTS(&buf, cfg)
	if err != nil {
		t.Fatalf("NewTS: %v", err)
	}
	err = s.Write(&media.Packet{Data: []byte{1}, Type: media.StreamVideo})
	if media.KindOf(err) != media.KindInvalidData {
		t.Errorf("err = %v, want invalid data", err)
	}
}

func TestNewDispatch(t *testing.T) {
	var buf bytes.Buffer

	if _, err := New(&buf, avConfig()); err != nil {
		t.Errorf("mpegts: %v", err)
	}

	cfg := avConfig()
	cfg.Format = pipeline.ContainerMp4
	if _, err := New(&buf, cfg); media.KindOf(err) != media.KindUnsupportedFormat {
		t.Errorf("mp4: %v, want unsupported", err)
	}

	cfg.Format = pipeline.ContainerHLS
	if _, err := New(&buf, cfg); media.KindOf(err) != media.KindInvalidData {
		t.Errorf("hls: %v, want invalid data", err)
	}
}

func TestHLSSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := pipeline.SinkConfig{
		Format:          pipeline.ContainerHLS,
		Video:           &media.VideoStreamInfo{Codec: media.CodecH264},
		SegmentDuration: time.Second,
	}
	s, err := NewHLS(dir, cfg)
	if err != nil {
		t.Fatalf("NewHLS: %v", err)
	}

	// Keyframes every 500ms; rotation may only cut on them, so 1s segments.
	data := bytes.Repeat([]byte{0x42}, 200)
	for i := 0; i < 5; i++ {
		pkt := &media.Packet{
			Data:     data,
			PTS:      media.Pts(i * 45000),
			DTS:      media.Pts(i * 45000),
			TimeBase: media.TimeBase90kHz,
			Keyframe: true,
			Type:     media.StreamVideo,
		}
		if err := s.Write(pkt); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// Packets at 0, 0.5s | 1s, 1.5s | 2s: three segments.
	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, fmt.Sprintf("seg%05d.ts", i))
		b, err := os.ReadFile(name)
		if err != nil {
			t.Fatalf("segment %d missing: %v", i, err)
		}
		if len(b) == 0 || b[0] != 0x47 {
			t.Errorf("segment %d is not a transport stream", i)
		}
	}

	playlist, err := os.ReadFile(filepath.Join(dir, "index.m3u8"))
	if err != nil {
		t.Fatalf("playlist missing: %v", err)
	}
	text := string(playlist)
	if !strings.HasPrefix(text, "#EXTM3U") {
		t.Error("playlist missing header")
	}
	if !strings.Contains(text, "seg00002.ts") {
		t.Error("playlist missing last segment")
	}
	if !strings.Contains(text, "#EXT-X-ENDLIST") {
		t.Error("playlist missing end marker")
	}
}

func TestHLSNonKeyframeNeverCuts(t *testing.T) {
	dir := t.TempDir()
	cfg := pipeline.SinkConfig{
		Format:          pipeline.ContainerHLS,
		Video:           &media.VideoStreamInfo{Codec: media.CodecH264},
		SegmentDuration: time.Second,
	}
	s, err := NewHLS(dir, cfg)
	if err != nil {
		t.Fatalf("NewHLS: %v", err)
	}

	// Only the first packet is a keyframe; no rotation can ever happen.
	for i := 0; i < 6; i++ {
		pkt := &media.Packet{
			Data:     []byte{0x01, 0x02},
			PTS:      media.Pts(i * 45000),
			DTS:      media.Pts(i * 45000),
			TimeBase: media.TimeBase90kHz,
			Keyframe: i == 0,
			Type:     media.StreamVideo,
		}
		if err := s.Write(pkt); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "seg00001.ts")); !os.IsNotExist(err) {
		t.Error("stream without keyframes was cut into multiple segments")
	}
}

func TestHLSWriteAfterFinish(t *testing.T) {
	dir := t.TempDir()
	s, err := NewHLS(dir, pipeline.SinkConfig{
		Format: pipeline.ContainerHLS,
		Audio:  &media.AudioStreamInfo{Codec: media.CodecAAC},
	})
	if err != nil {
		t.Fatalf("NewHLS: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	err = s.Write(&media.Packet{Data: []byte{1}, Type: media.StreamAudio})
	if !errors.Is(err, os.ErrClosed) {
		t.Errorf("Write after Finish: %v, want closed", err)
	}
}
