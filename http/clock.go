package http

import (
	"time"

	"code.cloudfoundry.org/clock"
)

// skewedClock reports the time of clock shifted by the offset between the
// client and the server, as learned from clock skew failures.
type skewedClock struct {
	clock  clock.Clock
	offset time.Duration
}

func (c skewedClock) Now() time.Time {
	return c.clock.Now().Add(c.offset)
}
