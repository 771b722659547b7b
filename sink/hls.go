package sink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

const playlistName = "index.m3u8"

type segmentEntry struct {
	name     string
	duration time.Duration
}

// HLSSink writes an HLS rendition into a directory: numbered MPEG-TS
// segments plus an index playlist. Segment boundaries land on the first
// video keyframe at or after the configured segment duration; audio-only
// streams rotate on any packet.
type HLSSink struct {
	log      *slog.Logger
	dir      string
	cfg      pipeline.SinkConfig
	segTicks media.Pts

	seg      *TSSink
	segFile  *os.File
	segIndex int
	segStart media.Pts
	lastPTS  media.Pts

	entries  []segmentEntry
	finished bool
}

// NewHLS creates an HLS sink writing into dir, creating it when missing.
// SegmentDuration defaults to 6 seconds.
func NewHLS(dir string, cfg pipeline.SinkConfig, opts ...Option) (*HLSSink, error) {
	if cfg.Video == nil && cfg.Audio == nil {
		return nil, media.InvalidDataf("sink needs at least one stream")
	}
	segDur := cfg.SegmentDuration
	if segDur <= 0 {
		segDur = pipeline.DefaultHLSSegmentDuration
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, media.IOErr(err)
	}

	o := buildOptions(opts)
	return &HLSSink{
		log:      o.log.With("component", "hls-sink"),
		dir:      dir,
		cfg:      cfg,
		segTicks: media.PtsFromDuration(segDur, media.TimeBase90kHz),
		segStart: media.NoPts,
		lastPTS:  media.NoPts,
	}, nil
}

// Write muxes one packet into the current segment, rotating at keyframe
// boundaries once the segment duration has elapsed.
func (s *HLSSink) Write(pkt *media.Packet) error {
	if s.finished {
		return media.Closed("sink")
	}
	if pkt == nil || len(pkt.Data) == 0 {
		return media.InvalidDataf("empty packet")
	}

	pts := rescaleTo90k(pkt.PTS, pkt.TimeBase)

	if s.seg != nil && s.shouldRotate(pkt, pts) {
		if err := s.rotate(); err != nil {
			return err
		}
	}
	if s.seg == nil {
		if err := s.openSegment(); err != nil {
			return err
		}
	}

	if err := s.seg.Write(pkt); err != nil {
		return err
	}
	if pts != media.NoPts {
		if s.segStart == media.NoPts {
			s.segStart = pts
		}
		if s.lastPTS == media.NoPts || pts > s.lastPTS {
			s.lastPTS = pts
		}
	}
	return nil
}

// shouldRotate reports whether pkt may start a new segment. With video in
// the mix only keyframes cut.
func (s *HLSSink) shouldRotate(pkt *media.Packet, pts media.Pts) bool {
	if s.segStart == media.NoPts || pts == media.NoPts {
		return false
	}
	if s.cfg.Video != nil && !(pkt.IsVideo() && pkt.Keyframe) {
		return false
	}
	return pts-s.segStart >= s.segTicks
}

func (s *HLSSink) openSegment() error {
	name := fmt.Sprintf("seg%05d.ts", s.segIndex)
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return media.IOErr(err)
	}
	seg, err := NewTS(f, s.cfg)
	if err != nil {
		f.Close()
		return err
	}
	s.seg = seg
	s.segFile = f
	s.segStart = media.NoPts
	s.lastPTS = media.NoPts
	s.log.Debug("segment opened", "name", name)
	return nil
}

// rotate closes the current segment, records its playlist entry, and
// rewrites the playlist so live readers pick the segment up.
func (s *HLSSink) rotate() error {
	if err := s.seg.Finish(); err != nil {
		return err
	}
	if err := s.segFile.Close(); err != nil {
		return media.IOErr(err)
	}

	var dur time.Duration
	if s.segStart != media.NoPts && s.lastPTS != media.NoPts {
		dur = (s.lastPTS - s.segStart).ToDuration(media.TimeBase90kHz)
	}
	s.entries = append(s.entries, segmentEntry{
		name:     fmt.Sprintf("seg%05d.ts", s.segIndex),
		duration: dur,
	})
	s.segIndex++
	s.seg = nil
	s.segFile = nil

	return s.writePlaylist(false)
}

// Finish closes the last segment and finalizes the playlist.
func (s *HLSSink) Finish() error {
	if s.finished {
		return media.Closed("sink")
	}
	s.finished = true

	if s.seg != nil {
		if err := s.rotate(); err != nil {
			return err
		}
	}
	return s.writePlaylist(true)
}

func (s *HLSSink) writePlaylist(end bool) error {
	var maxDur time.Duration
	for _, e := range s.entries {
		if e.duration > maxDur {
			maxDur = e.duration
		}
	}
	target := int(maxDur.Seconds()) + 1

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", target)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	for _, e := range s.entries {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n%s\n", e.duration.Seconds(), e.name)
	}
	if end {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	if err := os.WriteFile(filepath.Join(s.dir, playlistName), []byte(b.String()), 0o644); err != nil {
		return media.IOErr(err)
	}
	return nil
}
