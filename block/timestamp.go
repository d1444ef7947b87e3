package block

import (
	"math"
	"time"
)

// Timestamp is a signed, nanosecond-resolution point or duration on the
// playback timeline. It is a thin wrapper around time.Duration so that
// arithmetic and comparison are just duration arithmetic, but it carries
// a distinguished sentinel, Unset, that callers must check for explicitly
// before doing arithmetic with it.
type Timestamp time.Duration

// Unset means "no timestamp" — used by MediaComponent.materialize to signal
// a guessed start time is not yet known, and by the rendering worker to
// force the next matching block through regardless of its start time.
const Unset Timestamp = Timestamp(math.MinInt64)

// IsUnset reports whether t is the Unset sentinel.
func (t Timestamp) IsUnset() bool { return t == Unset }

// Add returns t+d. Adding to Unset is a programmer error and panics,
// mirroring the precondition that callers check IsUnset first.
func (t Timestamp) Add(d time.Duration) Timestamp {
	if t.IsUnset() {
		panic("block: Add on Unset timestamp")
	}
	return t + Timestamp(d)
}

// Sub returns the signed duration between t and u. Both must be set.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	if t.IsUnset() || u.IsUnset() {
		panic("block: Sub on Unset timestamp")
	}
	return time.Duration(t - u)
}

// Duration returns t as a time.Duration relative to zero.
func (t Timestamp) Duration() time.Duration { return time.Duration(t) }

// Less reports whether t occurs before u. Both must be set.
func (t Timestamp) Less(u Timestamp) bool { return t < u }

// FromDuration wraps a time.Duration as a Timestamp.
func FromDuration(d time.Duration) Timestamp { return Timestamp(d) }
