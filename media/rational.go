// Package media defines the shared data model of the tempo pipeline:
// rational time bases, tick-counted timestamps, encoded packets, raw
// frames, stream metadata, and the closed error taxonomy every stage
// reports through.
package media

import "fmt"

// Rational is an exact fraction, used for time bases (e.g. 1/90000 for
// MPEG-TS) and frame rates (e.g. 30000/1001 for 29.97 fps). It is not
// required to be reduced. The denominator must never be zero.
type Rational struct {
	Num int
	Den int
}

// NewRational creates a rational number. It panics if den is zero; a
// zero-denominator time base is a programming error, not an input error.
func NewRational(num, den int) Rational {
	if den == 0 {
		panic("media: rational denominator cannot be zero")
	}
	return Rational{Num: num, Den: den}
}

// Float64 returns the floating point value of the fraction.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Invert swaps numerator and denominator. It panics if the numerator is
// zero, since the result would have a zero denominator.
func (r Rational) Invert() Rational {
	if r.Num == 0 {
		panic("media: cannot invert zero")
	}
	return Rational{Num: r.Den, Den: r.Num}
}

// IsZero reports whether the rational is the zero value.
func (r Rational) IsZero() bool {
	return r.Num == 0 && r.Den == 0
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Common time bases and frame rates.
var (
	TimeBase90kHz = Rational{Num: 1, Den: 90000} // MPEG-TS
	TimeBase1kHz  = Rational{Num: 1, Den: 1000}  // millisecond precision
	TimeBase48kHz = Rational{Num: 1, Den: 48000}
	TimeBase44kHz = Rational{Num: 1, Den: 44100}

	FrameRate24    = Rational{Num: 24, Den: 1}
	FrameRate25    = Rational{Num: 25, Den: 1}
	FrameRate30    = Rational{Num: 30, Den: 1}
	FrameRate23976 = Rational{Num: 24000, Den: 1001}
	FrameRate2997  = Rational{Num: 30000, Den: 1001}
	FrameRate5994  = Rational{Num: 60000, Den: 1001}
)
