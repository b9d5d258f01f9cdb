package ir

import (
	"fmt"
	"math"
	"time"
)

// Duration is a span of simulated time in microseconds. Instants are
// Durations measured from the start of the simulation.
type Duration int64

const (
	Zero        Duration = 0
	Microsecond Duration = 1
	Millisecond          = 1000 * Microsecond
	Second               = 1000 * Millisecond
	Minute               = 60 * Second
	Hour                 = 60 * Minute
)

// Max is the largest representable instant. Used as "never" by conditions.
const Max Duration = math.MaxInt64

// Plus returns d + o.
func (d Duration) Plus(o Duration) Duration { return d + o }

// Minus returns d - o.
func (d Duration) Minus(o Duration) Duration { return d - o }

// Negative reports whether d < 0.
func (d Duration) Negative() bool { return d < 0 }

// Std converts d to a time.Duration. Values beyond ~292 years saturate.
func (d Duration) Std() time.Duration {
	if d > Duration(math.MaxInt64/int64(time.Microsecond)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d) * time.Microsecond
}

// String formats d the way time.Duration does ("1h30m0s", "250ms").
func (d Duration) String() string {
	if d == Max {
		return "max"
	}
	return d.Std().String()
}

// FromStd converts a wall-clock duration, truncating to whole microseconds.
func FromStd(d time.Duration) Duration {
	return Duration(d / time.Microsecond)
}

// ParseDuration parses "90s", "1h30m", "250ms" or "10us".
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return FromStd(d), nil
}

// MustParseDuration is like ParseDuration but panics on error.
// Use only in tests or with literal inputs.
func MustParseDuration(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}
