package scan

import "time"

// Clock supplies frame timestamps. Injectable so engine tests run with a
// fixed time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Delayer waits out analog settling times between a selection change and the
// reading that follows it.
type Delayer interface {
	Delay(time.Duration)
}

// spinDelayer busy-waits on the monotonic clock. Settling delays are a few
// microseconds, well under scheduler sleep granularity, and a tick-granular
// sleep per node would blow the frame period on a 1600-node grid.
type spinDelayer struct{}

func (spinDelayer) Delay(d time.Duration) {
	if d <= 0 {
		return
	}
	start := time.Now()
	for time.Since(start) < d {
	}
}

// SpinDelayer returns the busy-wait delayer used in production.
func SpinDelayer() Delayer { return spinDelayer{} }

// NopDelayer skips all waits. For tests.
type NopDelayer struct{}

func (NopDelayer) Delay(time.Duration) {}
