package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/mpegts"
)

const (
	// tailProbeWindow is the initial byte window scanned from the end of the
	// file for the last timestamps; it grows when the window holds no PES.
	tailProbeWindow = 512 * 1024

	// seekBackoffStep is the first backward step when a byte estimate lands
	// past the seek target. Subsequent steps double.
	seekBackoffStep = 1 << 20

	// maxSeekScanUnits bounds the forward scan of one seek attempt.
	maxSeekScanUnits = 16384
)

// FileSource is a seekable MPEG-TS source. It probes the program layout and
// total duration on open, and supports container-level keyframe seeking.
type FileSource struct {
	*tsReader

	ctx    context.Context
	r      io.ReadSeeker
	closer io.Closer
	size   int64

	duration time.Duration

	closed bool
}

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithFileLogger sets the source logger. Defaults to slog.Default().
func WithFileLogger(l *slog.Logger) FileOption {
	return func(s *FileSource) { s.log = l.With("component", "source") }
}

// Open opens an MPEG-TS file and probes it.
func Open(ctx context.Context, path string, opts ...FileOption) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, media.IOErr(err)
	}
	s, err := NewFile(ctx, f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// NewFile creates a source over an existing seekable reader and probes it.
func NewFile(ctx context.Context, r io.ReadSeeker, opts ...FileOption) (*FileSource, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, media.IOErr(err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, media.IOErr(err)
	}

	s := &FileSource{
		tsReader: newTSReader(mpegts.NewDemuxer(ctx, r), slog.Default().With("component", "source")),
		ctx:      ctx,
		r:        r,
		size:     size,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tsReader.log = s.log

	if err := s.probe(); err != nil {
		return nil, err
	}
	if err := s.probeDuration(ctx); err != nil {
		s.log.Debug("duration probe failed", "error", err)
	}
	return s, nil
}

// probeDuration scans the file tail for the highest PTS, then restores the
// read position so normal delivery continues where the probe left off.
func (s *FileSource) probeDuration(ctx context.Context) error {
	resume, err := s.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return media.IOErr(err)
	}
	defer func() {
		s.r.Seek(resume, io.SeekStart)
	}()

	for window := int64(tailProbeWindow); ; window *= 4 {
		off := s.size - window
		if off < 0 {
			off = 0
		}
		off -= off % mpegts.PacketSize

		if _, err := s.r.Seek(off, io.SeekStart); err != nil {
			return media.IOErr(err)
		}
		last := s.scanLastPTS(ctx)
		if last != media.NoPts {
			if s.basePTS != media.NoPts && last > s.basePTS {
				s.duration = (last - s.basePTS).ToDuration(media.TimeBase90kHz)
			}
			return nil
		}
		if off == 0 {
			return media.InvalidDataf("no timestamps found in stream tail")
		}
	}
}

// scanLastPTS reads from the current position to EOF and returns the highest
// PTS seen on the adopted program, or NoPts.
func (s *FileSource) scanLastPTS(ctx context.Context) media.Pts {
	d := mpegts.NewDemuxer(ctx, s.r)
	last := media.NoPts
	for {
		data, err := d.NextData()
		if err != nil {
			return last
		}
		if data.PES == nil || data.PES.PTS == media.NoPts {
			continue
		}
		if data.PID != s.videoPID && data.PID != s.audioPID {
			continue
		}
		pts := data.PES.PTS
		if data.PES.DTS != media.NoPts && data.PES.DTS > pts {
			pts = data.PES.DTS
		}
		if last == media.NoPts || pts > last {
			last = pts
		}
	}
}

// VideoStream returns the probed video stream description.
func (s *FileSource) VideoStream() (media.VideoStreamInfo, *media.CodecConfig, bool) {
	info, cfg, ok := s.videoStream()
	if ok {
		info.Duration = media.DurationFromTime(s.duration, media.TimeBase90kHz)
	}
	return info, cfg, ok
}

// AudioStream returns the probed audio stream description.
func (s *FileSource) AudioStream() (media.AudioStreamInfo, *media.CodecConfig, bool) {
	info, cfg, ok := s.audioStream()
	if ok {
		info.Duration = media.DurationFromTime(s.duration, media.TimeBase90kHz)
	}
	return info, cfg, ok
}

// Duration returns the probed total duration, or 0 when unknown.
func (s *FileSource) Duration() time.Duration { return s.duration }

// Seek positions the stream at the latest keyframe at or before pos, so the
// first video packet delivered afterwards is a keyframe. Seeking past the
// known end of stream fails with an out-of-range error. A failed seek leaves
// the read position where it was.
func (s *FileSource) Seek(pos time.Duration) error {
	if s.closed {
		return media.Closed("source")
	}
	if pos < 0 {
		pos = 0
	}
	if s.duration > 0 && pos > s.duration {
		return media.OutOfRange("seek to %v beyond duration %v", pos, s.duration)
	}

	saved, err := s.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return media.IOErr(err)
	}

	target := media.PtsFromDuration(pos, media.TimeBase90kHz)
	if s.basePTS != media.NoPts {
		target += s.basePTS
	}

	var estimate int64
	if s.duration > 0 {
		estimate = int64(float64(s.size) * float64(pos) / float64(s.duration))
	}
	estimate -= estimate % mpegts.PacketSize

	for backoff := int64(0); ; {
		off := estimate - backoff
		if off < 0 {
			off = 0
		}
		collected, err := s.scanForKeyframe(off, target)
		if err != nil {
			s.restore(saved)
			return err
		}
		if collected != nil {
			s.resetEpoch()
			s.pending = collected
			s.log.Debug("seek complete", "pos", pos, "offset", off, "buffered", len(collected))
			return nil
		}
		if off == 0 {
			break
		}
		if backoff == 0 {
			backoff = seekBackoffStep
		} else {
			backoff *= 2
		}
	}

	s.restore(saved)
	return media.InvalidDataf("no keyframe found at or before %v", pos)
}

func (s *FileSource) restore(off int64) {
	s.r.Seek(off, io.SeekStart)
	s.demux.Reset()
}

// scanForKeyframe scans forward from byte offset off for the latest keyframe
// whose PTS does not exceed target, returning that keyframe and every packet
// demuxed after it. A nil result with nil error means the scan landed past
// the target and the caller should back off. At offset 0 the stream's first
// keyframe is accepted even when it lies past target.
func (s *FileSource) scanForKeyframe(off int64, target media.Pts) ([]*media.Packet, error) {
	if err := s.resync(off); err != nil {
		if media.KindOf(err) == media.KindInvalidData {
			return nil, nil
		}
		return nil, err
	}
	s.demux.Reset()

	var collected []*media.Packet
	for units := 0; units < maxSeekScanUnits; units++ {
		data, err := s.demux.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, media.IOErr(err)
		}
		pkt := s.convert(data)
		if pkt == nil {
			continue
		}

		// Video leads the seek when present; in audio-only streams every
		// packet is an anchor candidate.
		lead := pkt.IsVideo() || !s.hasVideo
		if lead && pkt.Keyframe {
			if pkt.PTS != media.NoPts && pkt.PTS <= target {
				collected = append(collected[:0], pkt)
				continue
			}
			if off == 0 && collected == nil {
				collected = append(collected[:0], pkt)
				continue
			}
		}
		if collected != nil {
			collected = append(collected, pkt)
		}
		if lead && pkt.PTS != media.NoPts && pkt.PTS > target {
			break
		}
	}
	if len(collected) == 0 {
		return nil, nil
	}
	return collected, nil
}

// resync seeks to off and aligns the read position on the transport sync
// pattern, requiring three packet-spaced sync bytes. An invalid-data error
// means no sync pattern exists at this offset.
func (s *FileSource) resync(off int64) error {
	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return media.IOErr(err)
	}
	buf := make([]byte, 3*mpegts.PacketSize)
	n, err := io.ReadFull(s.r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return media.IOErr(err)
	}

	for i := 0; i < mpegts.PacketSize && i < n; i++ {
		if buf[i] != 0x47 {
			continue
		}
		if i+mpegts.PacketSize < n && buf[i+mpegts.PacketSize] != 0x47 {
			continue
		}
		if i+2*mpegts.PacketSize < n && buf[i+2*mpegts.PacketSize] != 0x47 {
			continue
		}
		if _, err := s.r.Seek(off+int64(i), io.SeekStart); err != nil {
			return media.IOErr(err)
		}
		return nil
	}
	return media.InvalidDataf("no sync byte near offset %d", off)
}

// NextPacket returns the next packet in interleaved order, or media.EOF.
func (s *FileSource) NextPacket() (*media.Packet, error) {
	if s.closed {
		return nil, media.Closed("source")
	}
	return s.next()
}

// Close releases the underlying file. Further calls fail with a
// closed-resource error.
func (s *FileSource) Close() error {
	if s.closed {
		return media.Closed("source")
	}
	s.closed = true
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return media.IOErr(err)
		}
	}
	return nil
}
