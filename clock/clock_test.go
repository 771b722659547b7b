package clock

import (
	"sync"
	"testing"
	"time"
)

func TestAudioClockInitialPosition(t *testing.T) {
	c := NewAudioClock(48000)
	if got := c.Position(); got != 0 {
		t.Errorf("Position() = %v, want 0", got)
	}
}

func TestAudioClockAddSamples(t *testing.T) {
	c := NewAudioClock(48000)
	c.AddSamples(48000)
	if got := c.Position(); got != time.Second {
		t.Errorf("Position() = %v, want 1s", got)
	}
	c.AddSamples(24000)
	if got := c.Position(); got != 1500*time.Millisecond {
		t.Errorf("Position() = %v, want 1.5s", got)
	}
}

func TestAudioClockFractionalSamples(t *testing.T) {
	c := NewAudioClock(44100)
	c.AddSamples(22050)
	if got := c.Position(); got != 500*time.Millisecond {
		t.Errorf("Position() = %v, want 500ms", got)
	}
}

func TestAudioClockChannelIndependent(t *testing.T) {
	// 1024 stereo frames and 1024 mono frames advance the clock by the
	// same amount: AddSamples counts frames, not interleaved samples.
	c := NewAudioClock(48000)
	c.AddSamples(1024)
	want := time.Duration(1024) * time.Second / 48000
	if got := c.Position(); got != want {
		t.Errorf("Position() = %v, want %v", got, want)
	}
}

func TestAudioClockIgnoresNonPositive(t *testing.T) {
	c := NewAudioClock(48000)
	c.AddSamples(0)
	c.AddSamples(-100)
	if got := c.Position(); got != 0 {
		t.Errorf("Position() = %v, want 0", got)
	}
}

func TestAudioClockResetTo(t *testing.T) {
	c := NewAudioClock(48000)
	c.AddSamples(96000)
	c.ResetTo(10 * time.Second)
	if got := c.Position(); got != 10*time.Second {
		t.Errorf("Position() = %v, want 10s", got)
	}
	c.AddSamples(48000)
	if got := c.Position(); got != 11*time.Second {
		t.Errorf("Position() after add = %v, want 11s", got)
	}
}

func TestAudioClockMarkFinished(t *testing.T) {
	c := NewAudioClock(48000)
	c.AddSamples(48000)
	c.MarkFinished()
	if !c.Finished() {
		t.Fatal("Finished() = false after MarkFinished")
	}

	p1 := c.Position()
	if p1 < time.Second {
		t.Errorf("Position() = %v, want >= 1s", p1)
	}
	time.Sleep(20 * time.Millisecond)
	p2 := c.Position()
	if p2 <= p1 {
		t.Errorf("position did not advance after finish: %v then %v", p1, p2)
	}

	// Samples added after finish must not move the anchor.
	c.AddSamples(48000)
	if got := c.Position(); got >= 2*time.Second {
		t.Errorf("Position() = %v, samples after finish should be ignored", got)
	}
}

func TestAudioClockResetClearsFinished(t *testing.T) {
	c := NewAudioClock(48000)
	c.AddSamples(48000)
	c.MarkFinished()
	c.ResetTo(0)
	if c.Finished() {
		t.Fatal("Finished() = true after reset")
	}
	p := c.Position()
	time.Sleep(20 * time.Millisecond)
	if got := c.Position(); got != p {
		t.Errorf("position advanced while not finished: %v then %v", p, got)
	}
}

func TestAudioClockConcurrentReads(t *testing.T) {
	c := NewAudioClock(48000)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last time.Duration
			for j := 0; j < 1000; j++ {
				p := c.Position()
				if p < last {
					t.Errorf("position went backwards: %v then %v", last, p)
					return
				}
				last = p
			}
		}()
	}
	for i := 0; i < 100; i++ {
		c.AddSamples(480)
	}
	wg.Wait()
}

func TestWallClockAdvances(t *testing.T) {
	c := NewWallClock()
	time.Sleep(20 * time.Millisecond)
	if got := c.Position(); got < 20*time.Millisecond {
		t.Errorf("Position() = %v, want >= 20ms", got)
	}
}

func TestWallClockPauseResume(t *testing.T) {
	c := NewWallClock()
	time.Sleep(10 * time.Millisecond)
	c.Pause()
	if !c.Paused() {
		t.Fatal("Paused() = false after Pause")
	}
	p := c.Position()
	time.Sleep(20 * time.Millisecond)
	if got := c.Position(); got != p {
		t.Errorf("position advanced while paused: %v then %v", p, got)
	}

	c.Resume()
	if c.Paused() {
		t.Fatal("Paused() = true after Resume")
	}
	time.Sleep(10 * time.Millisecond)
	if got := c.Position(); got <= p {
		t.Errorf("position did not advance after resume: %v then %v", p, got)
	}
}

func TestWallClockDoublePause(t *testing.T) {
	c := NewWallClock()
	c.Pause()
	p := c.Position()
	c.Pause()
	if got := c.Position(); got != p {
		t.Errorf("double pause changed position: %v then %v", p, got)
	}
}

func TestWallClockResetTo(t *testing.T) {
	c := NewWallClock()
	c.ResetTo(30 * time.Second)
	if got := c.Position(); got < 30*time.Second || got > 30*time.Second+100*time.Millisecond {
		t.Errorf("Position() = %v, want ~30s", got)
	}

	c.Pause()
	c.ResetTo(5 * time.Second)
	if !c.Paused() {
		t.Error("reset changed pause state")
	}
	if got := c.Position(); got != 5*time.Second {
		t.Errorf("Position() = %v, want 5s", got)
	}
}
