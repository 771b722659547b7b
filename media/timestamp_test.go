package media

import (
	"math"
	"testing"
	"time"
)

func TestPtsToDuration(t *testing.T) {
	tests := []struct {
		name string
		pts  Pts
		tb   Rational
		want time.Duration
	}{
		{"milliseconds", 1000, TimeBase1kHz, time.Second},
		{"mpegts", 90000, TimeBase90kHz, time.Second},
		{"audio 48k", 48000, TimeBase48kHz, time.Second},
		{"zero", 0, TimeBase1kHz, 0},
		{"negative clamps", -100, TimeBase1kHz, 0},
		{"fractional", 1500, TimeBase1kHz, 1500 * time.Millisecond},
		{"non-unit numerator", 3, Rational{Num: 1001, Den: 30000}, time.Duration(3 * 1001 * int64(time.Second) / 30000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pts.ToDuration(tt.tb); got != tt.want {
				t.Errorf("ToDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPtsToDurationNoOverflow(t *testing.T) {
	// 40 hours at 90 kHz: the naive ticks*1e9 intermediate would overflow
	// int64; the 128-bit rescale must not.
	ticks := Pts(40 * 3600 * 90000)
	want := 40 * time.Hour
	if got := ticks.ToDuration(TimeBase90kHz); got != want {
		t.Errorf("ToDuration() = %v, want %v", got, want)
	}
}

func TestPtsRoundTrip(t *testing.T) {
	orig := 1500 * time.Millisecond
	pts := PtsFromDuration(orig, TimeBase1kHz)
	if pts != 1500 {
		t.Fatalf("PtsFromDuration = %d, want 1500", pts)
	}
	if back := pts.ToDuration(TimeBase1kHz); back != orig {
		t.Errorf("round trip = %v, want %v", back, orig)
	}
}

func TestPtsConversionIdempotent(t *testing.T) {
	tb := Rational{Num: 1, Den: 90000}
	pts := Pts(123457) // not a whole number of milliseconds
	d1 := pts.ToDuration(tb)
	p2 := PtsFromDuration(d1, tb)
	d2 := p2.ToDuration(tb)
	if d1 != d2 {
		t.Errorf("conversion not idempotent: %v then %v", d1, d2)
	}
}

func TestMediaDuration(t *testing.T) {
	md := MediaDuration(2000)
	if got := md.ToDuration(TimeBase1kHz); got != 2*time.Second {
		t.Errorf("ToDuration() = %v, want 2s", got)
	}
	if got := DurationFromTime(2*time.Second, TimeBase1kHz); got != 2000 {
		t.Errorf("DurationFromTime() = %d, want 2000", got)
	}
	if got := MediaDuration(-50).ToDuration(TimeBase1kHz); got != 0 {
		t.Errorf("negative duration = %v, want 0", got)
	}
}

func TestRescaleSaturates(t *testing.T) {
	if got := rescale(math.MaxInt64, math.MaxInt64, 1); got != math.MaxInt64 {
		t.Errorf("rescale overflow = %d, want MaxInt64", got)
	}
	if got := rescale(math.MaxInt64, -math.MaxInt64, 1); got != math.MinInt64 {
		t.Errorf("rescale underflow = %d, want MinInt64", got)
	}
}

func TestRescaleTruncatesTowardZero(t *testing.T) {
	if got := rescale(7, 1, 2); got != 3 {
		t.Errorf("rescale(7,1,2) = %d, want 3", got)
	}
	if got := rescale(-7, 1, 2); got != -3 {
		t.Errorf("rescale(-7,1,2) = %d, want -3", got)
	}
}

func TestRationalZeroDenPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero denominator")
		}
	}()
	NewRational(1, 0)
}

func TestRationalInvert(t *testing.T) {
	r := NewRational(1, 90000).Invert()
	if r.Num != 90000 || r.Den != 1 {
		t.Errorf("Invert() = %v", r)
	}
}
