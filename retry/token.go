package retry

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// TokenState is the lifecycle state of a Token.
type TokenState int

const (
	StateInProgress TokenState = iota
	StateSucceeded
	StateMaxRetriesReached
	StateNonRetryableFailure
	StateAcquisitionFailed
)

func (s TokenState) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateSucceeded:
		return "succeeded"
	case StateMaxRetriesReached:
		return "max_retries_reached"
	case StateNonRetryableFailure:
		return "non_retryable_failure"
	case StateAcquisitionFailed:
		return "acquisition_failed"
	default:
		return "unknown"
	}
}

// Token tracks the retries of one logical call. Tokens are immutable:
// every Strategy operation returns a new one, and the latest token must be
// handed back on the next operation.
type Token struct {
	id          uuid.UUID
	scope       string
	attempt     int
	acquired    int
	remaining   int
	state       TokenState
	clockOffset time.Duration
	failures    []*Failure
}

func newToken(scope string) *Token {
	return &Token{
		id:      uuid.New(),
		scope:   scope,
		attempt: 1,
		state:   StateInProgress,
	}
}

func (t *Token) clone() *Token {
	c := *t
	c.failures = slices.Clone(t.failures)
	return &c
}

// ID identifies the logical call in logs
func (t *Token) ID() uuid.UUID { return t.id }

func (t *Token) Scope() string { return t.scope }

// Attempt is the number of the attempt this token permits, starting at 1
func (t *Token) Attempt() int { return t.attempt }

// CapacityAcquired is the retry budget taken for the current attempt
func (t *Token) CapacityAcquired() int { return t.acquired }

// CapacityRemaining is the retry budget left in the scope when the token
// was issued
func (t *Token) CapacityRemaining() int { return t.remaining }

func (t *Token) State() TokenState { return t.state }

// ClockOffset is the server time minus the client time, as learned from a
// clock skew failure. Signers should add it to their clock.
func (t *Token) ClockOffset() time.Duration { return t.clockOffset }

// Failures lists the failures seen so far, oldest first
func (t *Token) Failures() []*Failure { return slices.Clone(t.failures) }
