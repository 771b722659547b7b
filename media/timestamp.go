package media

import (
	"math"
	"math/bits"
	"time"
)

// Pts is a presentation timestamp counted in time-base ticks. The value is
// meaningless without the Rational time base of the stream it came from.
type Pts int64

// Dts is a decode timestamp, in the same units as Pts. For reordered
// streams a unit's Dts never exceeds its Pts.
type Dts = Pts

// NoPts marks an absent timestamp on packets and frames.
const NoPts Pts = math.MinInt64

// ToDuration converts the tick count to a wall duration using the given
// time base. The conversion truncates toward zero so repeated conversions
// are idempotent. Absent or negative timestamps convert to zero.
func (p Pts) ToDuration(tb Rational) time.Duration {
	if p <= 0 || tb.Den == 0 {
		return 0
	}
	return time.Duration(rescale(int64(p), int64(tb.Num)*int64(time.Second), int64(tb.Den)))
}

// PtsFromDuration converts a wall duration to ticks in the given time base,
// truncating toward zero.
func PtsFromDuration(d time.Duration, tb Rational) Pts {
	if tb.Num == 0 {
		return 0
	}
	return Pts(rescale(int64(d), int64(tb.Den), int64(tb.Num)*int64(time.Second)))
}

// MediaDuration is a span of time counted in time-base ticks, in the same
// units as the owning stream's timestamps.
type MediaDuration int64

// ToDuration converts the tick span to a wall duration, truncating toward
// zero. Negative spans convert to zero.
func (m MediaDuration) ToDuration(tb Rational) time.Duration {
	return Pts(m).ToDuration(tb)
}

// DurationFromTime converts a wall duration to ticks in the given time base.
func DurationFromTime(d time.Duration, tb Rational) MediaDuration {
	return MediaDuration(PtsFromDuration(d, tb))
}

// rescale computes a*b/c with a full 128-bit intermediate product, so
// multi-hour tick counts at fine time bases (1/90000 and beyond) never
// overflow before the division. Truncates toward zero; saturates at the
// int64 range on overflow.
func rescale(a, b, c int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if c == 0 {
		return 0
	}

	neg := false
	ua, ub, uc := uint64(a), uint64(b), uint64(c)
	if a < 0 {
		neg = !neg
		ua = uint64(-a)
	}
	if b < 0 {
		neg = !neg
		ub = uint64(-b)
	}
	if c < 0 {
		neg = !neg
		uc = uint64(-c)
	}

	hi, lo := bits.Mul64(ua, ub)
	if hi >= uc {
		// Quotient exceeds 64 bits; saturate.
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uc)

	if neg {
		if q > uint64(math.MaxInt64)+1 {
			return math.MinInt64
		}
		return -int64(q)
	}
	if q > uint64(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(q)
}
