// Package clock provides an injectable notion of time so that debounce
// timers can be driven deterministically in tests.
package clock

import "time"

// Clock is the minimal time source the auto-commit loop depends on. RealClock is used in production; SimulatedClock and FakeClock
// let tests control the passage of time without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

var (
	_ Clock = RealClock{}
	_ Clock = (*SimulatedClock)(nil)
	_ Clock = (*FakeClock)(nil)
)
