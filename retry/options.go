package retry

import (
	"code.cloudfoundry.org/clock"
	"github.com/lestrrat-go/option"
	"github.com/lestrrat-go/sigv4/ratelimit"
)

type Option = option.Interface

type identMode struct{}
type identMaxAttempts struct{}
type identBackoff struct{}
type identThrottlingBackoff struct{}
type identPredicates struct{}
type identListener struct{}
type identClock struct{}
type identRateLimiter struct{}
type identFastFail struct{}
type identBudgetCapacity struct{}

func (identMode) String() string              { return "WithMode" }
func (identMaxAttempts) String() string       { return "WithMaxAttempts" }
func (identBackoff) String() string           { return "WithBackoff" }
func (identThrottlingBackoff) String() string { return "WithThrottlingBackoff" }
func (identPredicates) String() string        { return "WithPredicates" }
func (identListener) String() string          { return "WithListener" }
func (identClock) String() string             { return "WithClock" }
func (identRateLimiter) String() string       { return "WithRateLimiter" }
func (identFastFail) String() string          { return "WithFastFail" }
func (identBudgetCapacity) String() string    { return "WithBudgetCapacity" }

// WithMode selects the retry mode. The default is ModeStandard.
func WithMode(m Mode) Option {
	return option.New(identMode{}, m)
}

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) Option {
	return option.New(identMaxAttempts{}, n)
}

// WithBackoff replaces the backoff used for non-throttling failures.
func WithBackoff(b Backoff) Option {
	return option.New(identBackoff{}, b)
}

// WithThrottlingBackoff replaces the backoff used for throttling failures.
func WithThrottlingBackoff(b Backoff) Option {
	return option.New(identThrottlingBackoff{}, b)
}

// WithPredicates replaces the default retry predicates. A failure is
// retried when any predicate accepts it.
func WithPredicates(predicates ...Predicate) Option {
	return option.New(identPredicates{}, predicates)
}

// WithListener registers a Listener for retry outcomes.
func WithListener(l Listener) Option {
	return option.New(identListener{}, l)
}

// WithClock sets the clock used for clock skew detection and by the rate
// limiters.
func WithClock(clk clock.Clock) Option {
	return option.New(identClock{}, clk)
}

// WithRateLimiter shares one rate limiter across all scopes in
// ModeAdaptive, instead of one per scope.
func WithRateLimiter(b *ratelimit.Bucket) Option {
	return option.New(identRateLimiter{}, b)
}

// WithFastFail makes ModeAdaptive fail with ratelimit.ErrSendSlotUnavailable
// instead of waiting for a send slot.
func WithFastFail(v bool) Option {
	return option.New(identFastFail{}, v)
}

// WithBudgetCapacity sets the retry budget of each scope.
func WithBudgetCapacity(n int) Option {
	return option.New(identBudgetCapacity{}, n)
}
