package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tempo/clock"
	"github.com/zsiec/tempo/media"
)

// laneBuffer is the packet backlog a lane may hold before the reader blocks.
const laneBuffer = 16

// lane bundles the stages owned by one stream type. A lane with no decoder
// and no encoder passes packets through to the sink unchanged.
type videoLane struct {
	dec VideoDecoder
	xf  VideoTransformer
	enc VideoEncoder
}

type audioLane struct {
	dec AudioDecoder
	xf  AudioTransformer
	enc AudioEncoder
}

// Session drives packets from a source through per-type lanes into a sink.
// The reader goroutine owns the source, each lane goroutine owns its stages,
// and sink writes are serialized. Construct with NewSession, then Run.
type Session struct {
	log  *slog.Logger
	src  Source
	sink Sink
	clk  clock.Clock

	video videoLane
	audio audioLane

	onSignal func(media.Signal)

	sinkMu  sync.Mutex
	running atomic.Bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithVideoLane installs the video decode/transform/encode stages. xf may be
// nil for decode-encode without scaling.
func WithVideoLane(dec VideoDecoder, xf VideoTransformer, enc VideoEncoder) SessionOption {
	return func(s *Session) {
		s.video = videoLane{dec: dec, xf: xf, enc: enc}
	}
}

// WithAudioLane installs the audio decode/transform/encode stages.
func WithAudioLane(dec AudioDecoder, xf AudioTransformer, enc AudioEncoder) SessionOption {
	return func(s *Session) {
		s.audio = audioLane{dec: dec, xf: xf, enc: enc}
	}
}

// WithClock attaches a playback clock. An *clock.AudioClock is advanced by
// decoded audio sample frames; any clock is reset on Seek.
func WithClock(c clock.Clock) SessionOption {
	return func(s *Session) { s.clk = c }
}

// WithSignalFunc registers a consumer for out-of-band pipeline signals
// (flush after seek, end of stream). f is called from session goroutines and
// must not block.
func WithSignalFunc(f func(media.Signal)) SessionOption {
	return func(s *Session) { s.onSignal = f }
}

// WithLogger sets the session logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session over src and sink. Lanes default to
// passthrough (remux).
func NewSession(src Source, sink Sink, opts ...SessionOption) *Session {
	s := &Session{
		src:  src,
		sink: sink,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session")
	return s
}

func (s *Session) signal(sig media.Signal) {
	if s.onSignal != nil {
		s.onSignal(sig)
	}
}

// Seek repositions the session: source seek, decoder resets, clock reset, in
// that order, then a flush signal. Must not be called while Run is active;
// each stage is owned by a running goroutine until Run returns.
func (s *Session) Seek(pos time.Duration) error {
	if s.running.Load() {
		return media.InvalidDataf("seek while session is running")
	}
	if err := s.src.Seek(pos); err != nil {
		return err
	}
	if s.video.dec != nil {
		s.video.dec.Reset()
	}
	if s.audio.dec != nil {
		s.audio.dec.Reset()
	}
	if s.clk != nil {
		s.clk.ResetTo(pos)
	}
	s.signal(media.SignalFlush)
	s.log.Debug("seek complete", "pos", pos)
	return nil
}

// Run transcodes until the source is exhausted or ctx is cancelled, then
// drains every stage and finalizes the sink. It returns the first stage
// error encountered.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return media.InvalidDataf("session already running")
	}
	defer s.running.Store(false)

	if (s.video.dec == nil) != (s.video.enc == nil) {
		return media.InvalidDataf("video lane needs both decoder and encoder")
	}
	if (s.audio.dec == nil) != (s.audio.enc == nil) {
		return media.InvalidDataf("audio lane needs both decoder and encoder")
	}

	videoCh := make(chan *media.Packet, laneBuffer)
	audioCh := make(chan *media.Packet, laneBuffer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(ctx, videoCh, audioCh) })
	g.Go(func() error { return s.runVideoLane(ctx, videoCh) })
	g.Go(func() error { return s.runAudioLane(ctx, audioCh) })

	if err := g.Wait(); err != nil {
		return err
	}
	return s.sink.Finish()
}

// readLoop pulls interleaved packets from the source and routes them by
// stream type. Channels close at end of stream so the lanes drain.
func (s *Session) readLoop(ctx context.Context, videoCh, audioCh chan<- *media.Packet) error {
	defer close(videoCh)
	defer close(audioCh)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pkt, err := s.src.NextPacket()
		if media.IsEOF(err) {
			s.log.Debug("source drained")
			s.signal(media.SignalEos)
			return nil
		}
		if err != nil {
			return err
		}

		var ch chan<- *media.Packet
		if pkt.IsVideo() {
			ch = videoCh
		} else {
			ch = audioCh
		}
		select {
		case ch <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) runVideoLane(ctx context.Context, ch <-chan *media.Packet) error {
	lane := s.video
	for pkt := range ch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if lane.dec == nil {
			if err := s.writePacket(pkt); err != nil {
				return err
			}
			continue
		}
		frames, err := lane.dec.Decode(pkt)
		if err != nil {
			return err
		}
		if err := s.processVideoFrames(lane, frames); err != nil {
			return err
		}
	}
	if lane.dec == nil {
		return nil
	}

	frames, err := lane.dec.Flush()
	if err != nil {
		return err
	}
	if err := s.processVideoFrames(lane, frames); err != nil {
		return err
	}
	pkts, err := lane.enc.Flush()
	if err != nil {
		return err
	}
	return s.writePackets(pkts)
}

func (s *Session) processVideoFrames(lane videoLane, frames []*media.VideoFrame) error {
	for _, f := range frames {
		if lane.xf != nil {
			var err error
			f, err = lane.xf.Transform(f)
			if err != nil {
				return err
			}
		}
		pkts, err := lane.enc.Encode(f)
		if err != nil {
			return err
		}
		if err := s.writePackets(pkts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) runAudioLane(ctx context.Context, ch <-chan *media.Packet) error {
	lane := s.audio
	audioClk, _ := s.clk.(*clock.AudioClock)

	for pkt := range ch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if lane.dec == nil {
			if err := s.writePacket(pkt); err != nil {
				return err
			}
			continue
		}
		frames, err := lane.dec.Decode(pkt)
		if err != nil {
			return err
		}
		if err := s.processAudioFrames(lane, audioClk, frames); err != nil {
			return err
		}
	}
	if lane.dec == nil {
		return nil
	}

	frames, err := lane.dec.Flush()
	if err != nil {
		return err
	}
	if err := s.processAudioFrames(lane, audioClk, frames); err != nil {
		return err
	}

	if lane.xf != nil {
		tail, err := lane.xf.Flush()
		if err != nil {
			return err
		}
		if tail != nil {
			pkts, err := lane.enc.Encode(tail)
			if err != nil {
				return err
			}
			if err := s.writePackets(pkts); err != nil {
				return err
			}
		}
	}

	pkts, err := lane.enc.Flush()
	if err != nil {
		return err
	}
	if err := s.writePackets(pkts); err != nil {
		return err
	}
	if audioClk != nil {
		audioClk.MarkFinished()
	}
	return nil
}

func (s *Session) processAudioFrames(lane audioLane, audioClk *clock.AudioClock, frames []*media.AudioFrame) error {
	for _, f := range frames {
		if audioClk != nil {
			audioClk.AddSamples(int64(f.Samples))
		}
		if lane.xf != nil {
			var err error
			f, err = lane.xf.Transform(f)
			if err != nil {
				return err
			}
			if f == nil {
				continue // transform buffered the input
			}
		}
		pkts, err := lane.enc.Encode(f)
		if err != nil {
			return err
		}
		if err := s.writePackets(pkts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) writePackets(pkts []*media.Packet) error {
	for _, pkt := range pkts {
		if err := s.writePacket(pkt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) writePacket(pkt *media.Packet) error {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	return s.sink.Write(pkt)
}
