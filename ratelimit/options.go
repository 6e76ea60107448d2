package ratelimit

import (
	"code.cloudfoundry.org/clock"
	"github.com/lestrrat-go/option"
)

type Option = option.Interface

type identClock struct{}

func (identClock) String() string { return "WithClock" }

// WithClock sets the clock the bucket reads time from and sleeps on.
func WithClock(clk clock.Clock) Option {
	return option.New(identClock{}, clk)
}
