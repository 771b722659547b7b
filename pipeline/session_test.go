package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/tempo/clock"
	"github.com/zsiec/tempo/media"
)

type stubSource struct {
	packets []*media.Packet
	pos     int
	seeks   []time.Duration
	seekErr error
	trace   *opTrace
}

func (s *stubSource) VideoStream() (media.VideoStreamInfo, *media.CodecConfig, bool) {
	return media.VideoStreamInfo{}, nil, false
}

func (s *stubSource) AudioStream() (media.AudioStreamInfo, *media.CodecConfig, bool) {
	return media.AudioStreamInfo{}, nil, false
}

func (s *stubSource) Duration() time.Duration { return 0 }

func (s *stubSource) NextPacket() (*media.Packet, error) {
	if s.pos >= len(s.packets) {
		return nil, media.EOF
	}
	pkt := s.packets[s.pos]
	s.pos++
	return pkt, nil
}

func (s *stubSource) Seek(pos time.Duration) error {
	if s.seekErr != nil {
		return s.seekErr
	}
	s.trace.record("source.seek")
	s.seeks = append(s.seeks, pos)
	s.pos = 0
	return nil
}

func (s *stubSource) Close() error { return nil }

type stubSink struct {
	mu       sync.Mutex
	written  []*media.Packet
	finished bool
}

func (s *stubSink) Write(pkt *media.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return media.Closed("sink")
	}
	s.written = append(s.written, pkt)
	return nil
}

func (s *stubSink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return nil
}

type stubVideoDecoder struct {
	trace *opTrace
}

func (d *stubVideoDecoder) Decode(pkt *media.Packet) ([]*media.VideoFrame, error) {
	return []*media.VideoFrame{{PTS: pkt.PTS, TimeBase: pkt.TimeBase, Width: 4, Height: 4}}, nil
}

func (d *stubVideoDecoder) Flush() ([]*media.VideoFrame, error) { return nil, nil }
func (d *stubVideoDecoder) Reset()                              { d.trace.record("videodec.reset") }
func (d *stubVideoDecoder) HWAccelerated() bool                 { return false }
func (d *stubVideoDecoder) Close() error                        { return nil }

type stubVideoEncoder struct{}

func (e *stubVideoEncoder) Encode(f *media.VideoFrame) ([]*media.Packet, error) {
	return []*media.Packet{{PTS: f.PTS, DTS: f.PTS, TimeBase: f.TimeBase, Type: media.StreamVideo}}, nil
}

func (e *stubVideoEncoder) Flush() ([]*media.Packet, error) { return nil, nil }
func (e *stubVideoEncoder) StreamInfo() media.VideoStreamInfo { return media.VideoStreamInfo{} }
func (e *stubVideoEncoder) CodecConfig() *media.CodecConfig   { return nil }
func (e *stubVideoEncoder) Close() error                      { return nil }

type stubAudioDecoder struct {
	samplesPerFrame int
	trace           *opTrace
}

func (d *stubAudioDecoder) Decode(pkt *media.Packet) ([]*media.AudioFrame, error) {
	return []*media.AudioFrame{{
		PTS:        pkt.PTS,
		TimeBase:   pkt.TimeBase,
		Samples:    d.samplesPerFrame,
		SampleRate: 48000,
		Layout:     media.ChannelLayoutStereo,
		Format:     media.SampleFormatS16,
	}}, nil
}

func (d *stubAudioDecoder) Flush() ([]*media.AudioFrame, error) { return nil, nil }
func (d *stubAudioDecoder) Reset()                              { d.trace.record("audiodec.reset") }
func (d *stubAudioDecoder) Close() error                        { return nil }

type stubAudioEncoder struct{}

func (e *stubAudioEncoder) Encode(f *media.AudioFrame) ([]*media.Packet, error) {
	return []*media.Packet{{PTS: f.PTS, DTS: f.PTS, TimeBase: f.TimeBase, Type: media.StreamAudio}}, nil
}

func (e *stubAudioEncoder) Flush() ([]*media.Packet, error) { return nil, nil }
func (e *stubAudioEncoder) StreamInfo() media.AudioStreamInfo { return media.AudioStreamInfo{} }
func (e *stubAudioEncoder) CodecConfig() *media.CodecConfig   { return nil }
func (e *stubAudioEncoder) Close() error                      { return nil }

// opTrace records the order of stage operations across goroutines.
type opTrace struct {
	mu  sync.Mutex
	ops []string
}

func (t *opTrace) record(op string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.ops = append(t.ops, op)
	t.mu.Unlock()
}

type trackedClock struct {
	trace *opTrace
	pos   time.Duration
}

func (c *trackedClock) Position() time.Duration { return c.pos }
func (c *trackedClock) ResetTo(pos time.Duration) {
	c.trace.record("clock.reset")
	c.pos = pos
}

func makePackets(nVideo, nAudio int) []*media.Packet {
	var pkts []*media.Packet
	for i := 0; i < nVideo; i++ {
		pkts = append(pkts, &media.Packet{
			PTS: media.Pts(i * 3000), DTS: media.Pts(i * 3000),
			TimeBase: media.TimeBase90kHz, Type: media.StreamVideo,
			Keyframe: i == 0,
		})
	}
	for i := 0; i < nAudio; i++ {
		pkts = append(pkts, &media.Packet{
			PTS: media.Pts(i * 1024), DTS: media.Pts(i * 1024),
			TimeBase: media.TimeBase48kHz, Type: media.StreamAudio,
			Keyframe: true,
		})
	}
	return pkts
}

func TestSessionRemuxPassthrough(t *testing.T) {
	src := &stubSource{packets: makePackets(5, 8)}
	sink := &stubSink{}
	var signals []media.Signal
	var sigMu sync.Mutex

	sess := NewSession(src, sink, WithSignalFunc(func(sig media.Signal) {
		sigMu.Lock()
		signals = append(signals, sig)
		sigMu.Unlock()
	}))

	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.written) != 13 {
		t.Errorf("wrote %d packets, want 13", len(sink.written))
	}
	if !sink.finished {
		t.Error("sink not finished")
	}
	if len(signals) != 1 || signals[0] != media.SignalEos {
		t.Errorf("signals = %v, want [eos]", signals)
	}
}

func TestSessionTranscode(t *testing.T) {
	src := &stubSource{packets: makePackets(4, 6)}
	sink := &stubSink{}
	clk := clock.NewAudioClock(48000)

	sess := NewSession(src, sink,
		WithVideoLane(&stubVideoDecoder{}, nil, &stubVideoEncoder{}),
		WithAudioLane(&stubAudioDecoder{samplesPerFrame: 1024}, nil, &stubAudioEncoder{}),
		WithClock(clk),
	)

	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.written) != 10 {
		t.Errorf("wrote %d packets, want 10", len(sink.written))
	}
	if !clk.Finished() {
		t.Error("audio clock should be marked finished after drain")
	}
	// 6 audio frames of 1024 sample frames each.
	want := media.Pts(6 * 1024).ToDuration(media.TimeBase48kHz)
	if got := clk.Position(); got < want {
		t.Errorf("clock position %v, want >= %v", got, want)
	}
}

func TestSessionSeekProtocolOrder(t *testing.T) {
	trace := &opTrace{}
	src := &stubSource{packets: makePackets(2, 2), trace: trace}
	sink := &stubSink{}
	clk := &trackedClock{trace: trace}
	var flushed bool

	sess := NewSession(src, sink,
		WithVideoLane(&stubVideoDecoder{trace: trace}, nil, &stubVideoEncoder{}),
		WithAudioLane(&stubAudioDecoder{samplesPerFrame: 1024, trace: trace}, nil, &stubAudioEncoder{}),
		WithClock(clk),
		WithSignalFunc(func(sig media.Signal) {
			if sig == media.SignalFlush {
				flushed = true
			}
		}),
	)

	if err := sess.Seek(90 * time.Second); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	want := []string{"source.seek", "videodec.reset", "audiodec.reset", "clock.reset"}
	if len(trace.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", trace.ops, want)
	}
	for i := range want {
		if trace.ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", trace.ops, want)
		}
	}
	if !flushed {
		t.Error("flush signal not delivered")
	}
	if clk.pos != 90*time.Second {
		t.Errorf("clock position = %v", clk.pos)
	}
	if len(src.seeks) != 1 || src.seeks[0] != 90*time.Second {
		t.Errorf("source seeks = %v", src.seeks)
	}
}

func TestSessionSeekFailureLeavesCleanState(t *testing.T) {
	trace := &opTrace{}
	src := &stubSource{packets: makePackets(1, 0), trace: trace, seekErr: media.OutOfRange("past end")}
	sess := NewSession(src, &stubSink{},
		WithVideoLane(&stubVideoDecoder{trace: trace}, nil, &stubVideoEncoder{}),
	)

	if err := sess.Seek(time.Hour); err == nil {
		t.Fatal("expected seek error")
	}
	if len(trace.ops) != 0 {
		t.Errorf("stages touched after failed seek: %v", trace.ops)
	}
}

func TestSessionHalfLaneRejected(t *testing.T) {
	src := &stubSource{packets: nil}
	sess := NewSession(src, &stubSink{},
		WithVideoLane(&stubVideoDecoder{}, nil, nil),
	)
	if err := sess.Run(context.Background()); err == nil {
		t.Error("expected config error for decoder without encoder")
	}
}

func TestSessionWriteAfterFinishFails(t *testing.T) {
	sink := &stubSink{}
	if err := sink.Finish(); err != nil {
		t.Fatal(err)
	}
	err := sink.Write(&media.Packet{})
	if err == nil {
		t.Fatal("expected closed error")
	}
	if media.KindOf(err) != media.KindIO {
		t.Errorf("kind = %v", media.KindOf(err))
	}
}
