// Package retry decides whether and when a failed request is attempted
// again.
//
// A Strategy hands out a Token per logical call. Each failed attempt is
// reported with RefreshRetryToken, which either returns a new token and
// the delay to wait, or a *TokenAcquisitionError. The call ends with
// RecordSuccess or with that error.
package retry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/containerd/log"
	"github.com/lestrrat-go/blackmagic"
	"github.com/lestrrat-go/sigv4/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
)

// Listener is told about the final outcome of calls. Implementations must
// be safe for concurrent use.
type Listener interface {
	RequestWillNotBeRetried(*Failure)
	RequestSucceeded(*Token)
}

// Strategy is safe for concurrent use. A single Token must not be used
// concurrently.
type Strategy struct {
	mode              Mode
	maxAttempts       int
	backoff           Backoff
	throttlingBackoff Backoff
	predicates        []Predicate
	listener          Listener
	clock             clock.Clock
	fastFail          bool

	budgets  *budgetStore
	limiter  *ratelimit.Bucket
	limiters *ratelimit.Store

	outcomes *prometheus.CounterVec
}

// New creates a Strategy. Defaults depend on the mode:
//
//	legacy:   4 attempts, FullJitter(100ms, 20s), throttling EqualJitter(500ms, 20s)
//	standard: 3 attempts, FullJitter(100ms, 20s), throttling FullJitter(1s, 20s)
//	adaptive: like standard, plus a send rate limiter per scope
func New(options ...Option) (*Strategy, error) {
	s := &Strategy{clock: clock.NewClock()}
	budgetCapacity := DefaultBudgetCapacity
	var predicates []Predicate
	var havePredicates bool

	for _, opt := range options {
		var err error
		switch opt.Ident() {
		case identMode{}:
			err = blackmagic.AssignIfCompatible(&s.mode, opt.Value())
		case identMaxAttempts{}:
			err = blackmagic.AssignIfCompatible(&s.maxAttempts, opt.Value())
		case identBackoff{}:
			err = blackmagic.AssignIfCompatible(&s.backoff, opt.Value())
		case identThrottlingBackoff{}:
			err = blackmagic.AssignIfCompatible(&s.throttlingBackoff, opt.Value())
		case identPredicates{}:
			err = blackmagic.AssignIfCompatible(&predicates, opt.Value())
			havePredicates = true
		case identListener{}:
			err = blackmagic.AssignIfCompatible(&s.listener, opt.Value())
		case identClock{}:
			err = blackmagic.AssignIfCompatible(&s.clock, opt.Value())
		case identRateLimiter{}:
			err = blackmagic.AssignIfCompatible(&s.limiter, opt.Value())
		case identFastFail{}:
			err = blackmagic.AssignIfCompatible(&s.fastFail, opt.Value())
		case identBudgetCapacity{}:
			err = blackmagic.AssignIfCompatible(&budgetCapacity, opt.Value())
		}
		if err != nil {
			return nil, fmt.Errorf("failed to assign option %s: %w", opt.Ident(), err)
		}
	}

	switch s.mode {
	case ModeStandard, ModeLegacy, ModeAdaptive:
	default:
		return nil, fmt.Errorf("unknown retry mode %s", s.mode)
	}
	if s.clock == nil {
		return nil, fmt.Errorf("clock must not be nil")
	}
	if s.maxAttempts == 0 {
		s.maxAttempts = s.mode.DefaultMaxAttempts()
	}
	if s.maxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", s.maxAttempts)
	}
	if budgetCapacity < 0 {
		return nil, fmt.Errorf("budget capacity must not be negative, got %d", budgetCapacity)
	}

	if s.backoff == nil {
		s.backoff = FullJitter(100*time.Millisecond, 20*time.Second)
	}
	if s.throttlingBackoff == nil {
		if s.mode == ModeLegacy {
			s.throttlingBackoff = EqualJitter(500*time.Millisecond, 20*time.Second)
		} else {
			s.throttlingBackoff = FullJitter(time.Second, 20*time.Second)
		}
	}

	if havePredicates {
		s.predicates = predicates
	} else {
		s.predicates = []Predicate{
			RetryOnStatus(http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout),
			RetryOnThrottling(),
			RetryOnClockSkew(s.clock),
			RetryOnTransientError(),
		}
	}

	budgets, err := newBudgetStore(budgetCapacity)
	if err != nil {
		return nil, err
	}
	s.budgets = budgets

	if s.mode == ModeAdaptive && s.limiter == nil {
		limiters, err := ratelimit.NewStore(scopeStoreSize, ratelimit.WithClock(s.clock))
		if err != nil {
			return nil, err
		}
		s.limiters = limiters
	}

	s.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigv4",
		Subsystem: "retry",
		Name:      "outcomes_total",
		Help:      "Retry decisions by outcome.",
	}, []string{"mode", "outcome"})
	return s, nil
}

// MustNew is like New but panics on error
func MustNew(options ...Option) *Strategy {
	s, err := New(options...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Strategy) Mode() Mode { return s.mode }

func (s *Strategy) MaxAttempts() int { return s.maxAttempts }

// AcquireInitialToken starts a call in scope. In ModeAdaptive the returned
// delay is the time to wait for a send slot.
func (s *Strategy) AcquireInitialToken(ctx context.Context, scope string) (*Token, time.Duration, error) {
	token := newToken(scope)
	capacity, maxCapacity := s.budgets.forScope(scope).current()
	token.remaining = capacity

	var delay time.Duration
	if s.mode == ModeAdaptive {
		limiter, err := s.rateLimiter(scope)
		if err != nil {
			return nil, 0, err
		}
		wait, ok := limiter.AcquireNonBlocking(1, s.fastFail)
		if !ok {
			token.state = StateAcquisitionFailed
			s.outcome("acquisition_failed")
			return nil, 0, &TokenAcquisitionError{
				Token:   token,
				Err:     ratelimit.ErrSendSlotUnavailable,
				message: "Request will not be attempted: the client side rate limit is exceeded",
			}
		}
		delay = wait
	}

	s.logger(ctx, token).Debugf("Request attempt 1 token acquired (backoff: %dms, cost: 0, capacity: %d/%d)",
		delay.Milliseconds(), capacity, maxCapacity)
	return token, delay, nil
}

// RefreshRetryToken reports a failed attempt. It returns the token for the
// next attempt and how long to wait before making it, or a
// *TokenAcquisitionError when the call must give up.
func (s *Strategy) RefreshRetryToken(ctx context.Context, token *Token, failure *Failure) (*Token, time.Duration, error) {
	if token == nil {
		return nil, 0, fmt.Errorf("retry token is required")
	}
	if failure == nil {
		return nil, 0, fmt.Errorf("failure is required")
	}

	b := s.budgets.forScope(token.scope)
	cost := s.cost(failure)
	logger := s.logger(ctx, token).WithField("error", failure.Error())

	// legacy pays for every failure up front, standard and adaptive pay
	// only once a retry is going to happen
	var acq acquireResult
	if s.mode == ModeLegacy {
		acq = b.tryAcquire(cost)
	}

	if !s.retryable(failure) {
		msg := fmt.Sprintf("Request attempt %d encountered non-retryable failure", token.attempt)
		logger.Debug(msg)
		return nil, 0, s.giveUp(token, failure, StateNonRetryableFailure, msg, acq)
	}
	logger.Debugf("Request attempt %d encountered retryable failure.", token.attempt)

	if token.attempt >= s.maxAttempts {
		remaining, _ := b.current()
		acq.remaining = remaining
		msg := fmt.Sprintf("Request will not be retried. Retries have been exhausted (cost: 0, capacity: %d/%d)", acq.acquired, remaining)
		logger.Debug(msg)
		return nil, 0, s.giveUp(token, failure, StateMaxRetriesReached, msg, acq)
	}

	if s.mode != ModeLegacy {
		acq = b.tryAcquire(cost)
	}
	if !acq.ok {
		msg := fmt.Sprintf("Request will not be retried to protect the caller and downstream service. The cost of retrying (%d) exceeds the available retry capacity (%d/%d).",
			acq.requested, acq.remaining, acq.max)
		logger.Debug(msg)
		return nil, 0, s.giveUp(token, failure, StateAcquisitionFailed, msg, acq)
	}

	next := token.clone()
	next.attempt++
	next.state = StateInProgress
	next.acquired = acq.acquired
	next.remaining = acq.remaining
	next.failures = append(next.failures, failure)
	if IsClockSkew(failure, s.clock.Now()) {
		if offset, ok := ClockOffset(failure, s.clock.Now()); ok {
			next.clockOffset = offset
		}
	}

	throttled := IsThrottling(failure)
	var backoff time.Duration
	if throttled {
		backoff = s.throttlingBackoff.ComputeDelay(next.attempt)
	} else {
		backoff = s.backoff.ComputeDelay(next.attempt)
	}
	delay := max(failure.SuggestedDelay, backoff)

	if s.mode == ModeAdaptive {
		limiter, err := s.rateLimiter(token.scope)
		if err != nil {
			return nil, 0, err
		}
		if throttled {
			limiter.UpdateClientSendingRate(true)
		}
		wait, ok := limiter.AcquireNonBlocking(1, s.fastFail)
		if !ok {
			final := token.clone()
			final.state = StateAcquisitionFailed
			final.remaining = b.release(acq.acquired)
			final.failures = append(final.failures, failure)
			s.outcome("acquisition_failed")
			logger.Debug("Request will not be retried: the client side rate limit is exceeded")
			return nil, 0, &TokenAcquisitionError{
				Token:   final,
				Err:     ratelimit.ErrSendSlotUnavailable,
				message: "Request will not be retried: the client side rate limit is exceeded",
			}
		}
		delay += wait
	}

	s.outcome("retry")
	logger.Debugf("Request attempt %d token acquired (backoff: %dms, cost: %d, capacity: %d/%d)",
		next.attempt, delay.Milliseconds(), acq.acquired, acq.remaining, acq.max)
	return next, delay, nil
}

// RecordSuccess ends a call successfully and gives retry budget back to
// the scope.
func (s *Strategy) RecordSuccess(ctx context.Context, token *Token) (*Token, error) {
	if token == nil {
		return nil, fmt.Errorf("retry token is required")
	}

	release := token.acquired
	if s.mode != ModeLegacy {
		// always give back something so a drained budget recovers
		release = max(release, 1)
	}
	b := s.budgets.forScope(token.scope)
	remaining := b.release(release)
	_, maxCapacity := b.current()

	if s.mode == ModeAdaptive {
		limiter, err := s.rateLimiter(token.scope)
		if err != nil {
			return nil, err
		}
		limiter.UpdateClientSendingRate(false)
	}

	next := token.clone()
	next.state = StateSucceeded
	next.acquired = 0
	next.remaining = remaining

	s.outcome("success")
	s.logger(ctx, token).Debugf("Request attempt %d succeeded (cost: -%d, capacity: %d/%d)",
		token.attempt, release, remaining, maxCapacity)
	if s.listener != nil {
		s.listener.RequestSucceeded(next)
	}
	return next, nil
}

func (s *Strategy) retryable(f *Failure) bool {
	if IsCanceled(f.Err) {
		return false
	}
	for _, p := range s.predicates {
		if p(f) {
			return true
		}
	}
	return false
}

func (s *Strategy) cost(f *Failure) int {
	if s.mode == ModeLegacy && IsThrottling(f) {
		return LegacyThrottlingRetryCost
	}
	return DefaultRetryCost
}

func (s *Strategy) giveUp(token *Token, failure *Failure, state TokenState, msg string, acq acquireResult) error {
	final := token.clone()
	final.state = state
	final.acquired = acq.acquired
	final.remaining = acq.remaining
	final.failures = append(final.failures, failure)

	s.outcome(state.String())
	if s.listener != nil {
		s.listener.RequestWillNotBeRetried(failure)
	}
	return &TokenAcquisitionError{Token: final, Err: failure, message: msg}
}

func (s *Strategy) rateLimiter(scope string) (*ratelimit.Bucket, error) {
	if s.limiter != nil {
		return s.limiter, nil
	}
	b, err := s.limiters.ForScope(scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limiter for scope %q: %w", scope, err)
	}
	return b, nil
}

// RateLimiter returns the send rate limiter of scope in ModeAdaptive, and
// nil otherwise.
func (s *Strategy) RateLimiter(scope string) *ratelimit.Bucket {
	if s.mode != ModeAdaptive {
		return nil
	}
	b, err := s.rateLimiter(scope)
	if err != nil {
		return nil
	}
	return b
}

func (s *Strategy) logger(ctx context.Context, token *Token) *log.Entry {
	return log.G(ctx).WithFields(log.Fields{
		"retry_token": token.id.String(),
		"retry_scope": token.scope,
		"retry_mode":  s.mode.String(),
	})
}

func (s *Strategy) outcome(name string) {
	s.outcomes.WithLabelValues(s.mode.String(), name).Inc()
}

func (s *Strategy) Describe(ch chan<- *prometheus.Desc) {
	s.outcomes.Describe(ch)
}

func (s *Strategy) Collect(ch chan<- prometheus.Metric) {
	s.outcomes.Collect(ch)
}
