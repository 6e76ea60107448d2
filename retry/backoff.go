package retry

import (
	"math/rand/v2"
	"time"
)

// maximum shift applied to the base delay
const retriesCeiling = 30

// Backoff computes the delay before a given attempt. attempt is the number
// of the attempt about to be made, so the first retry is attempt 2.
type Backoff interface {
	ComputeDelay(attempt int) time.Duration
}

// BackoffFunc adapts a function to Backoff
type BackoffFunc func(attempt int) time.Duration

func (f BackoffFunc) ComputeDelay(attempt int) time.Duration {
	return f(attempt)
}

// NoBackoff never waits.
func NoBackoff() Backoff {
	return BackoffFunc(func(int) time.Duration { return 0 })
}

// FixedDelay always waits d.
func FixedDelay(d time.Duration) Backoff {
	return BackoffFunc(func(int) time.Duration { return d })
}

// FullJitter waits a random duration in [0, min(base*2^(attempt-1), maxDelay)).
func FullJitter(base, maxDelay time.Duration) Backoff {
	return BackoffFunc(func(attempt int) time.Duration {
		ceil := exponentialDelay(attempt, base, maxDelay)
		if ceil <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(ceil)))
	})
}

// EqualJitter waits half of min(base*2^(attempt-1), maxDelay) plus a random
// duration up to the other half.
func EqualJitter(base, maxDelay time.Duration) Backoff {
	return BackoffFunc(func(attempt int) time.Duration {
		ceil := exponentialDelay(attempt, base, maxDelay)
		half := ceil / 2
		return half + time.Duration(rand.Int64N(int64(half)+1))
	})
}

// Exponential waits min(base*2^(attempt-1), maxDelay) without jitter.
func Exponential(base, maxDelay time.Duration) Backoff {
	return BackoffFunc(func(attempt int) time.Duration {
		return exponentialDelay(attempt, base, maxDelay)
	})
}

func exponentialDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	retries := min(max(attempt-1, 0), retriesCeiling)
	if base > maxDelay>>retries {
		return maxDelay
	}
	return base << retries
}
