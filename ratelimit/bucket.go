// Package ratelimit implements the client side send rate limiter used in
// adaptive retry mode.
//
// The bucket stays disabled until the first throttling response is
// reported. From then on the fill rate follows a CUBIC congestion control
// curve: it drops multiplicatively on throttling and grows back toward,
// then past, the rate that was last throttled.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/lestrrat-go/blackmagic"
	"github.com/lestrrat-go/sigv4/internal/sleep"
)

const (
	// MinFillRate is the lowest fill rate, in tokens per second.
	MinFillRate = 0.5
	// MinCapacity is the lowest maximum capacity.
	MinCapacity = 1.0

	smooth        = 0.8
	beta          = 0.7
	scaleConstant = 0.4
)

// ErrSendSlotUnavailable is returned when a fast-fail acquisition would
// have to wait.
var ErrSendSlotUnavailable = errors.New("could not acquire a send slot")

// State is a snapshot of a Bucket.
type State struct {
	FillRate        float64
	MaxCapacity     float64
	CurrentCapacity float64
	LastRefill      time.Time
	MeasuredTxRate  float64
	LastMaxRate     float64
	LastThrottle    time.Time
	// TimeWindow is the CUBIC K value in seconds
	TimeWindow float64
	// CalculatedRate is the rate computed by the last
	// UpdateClientSendingRate call, before clamping
	CalculatedRate float64
	Enabled        bool
}

// Bucket is a token bucket whose fill rate is adjusted from throttling
// feedback. All of its state is guarded by one mutex.
type Bucket struct {
	clock clock.Clock

	mu               sync.Mutex
	fillRate         float64
	maxCapacity      float64
	currentCapacity  float64
	lastTimestamp    float64
	hasTimestamp     bool
	measuredTxRate   float64
	lastTxRateBucket float64
	requestCount     int
	lastMaxRate      float64
	lastThrottleTime float64
	timeWindow       float64
	calculatedRate   float64
	enabled          bool
}

// New creates a disabled Bucket.
func New(options ...Option) (*Bucket, error) {
	var clk clock.Clock = clock.NewClock()
	for _, opt := range options {
		switch opt.Ident() {
		case identClock{}:
			if err := blackmagic.AssignIfCompatible(&clk, opt.Value()); err != nil {
				return nil, fmt.Errorf("failed to assign option %s: %w", opt.Ident(), err)
			}
		}
	}
	if clk == nil {
		return nil, fmt.Errorf("clock must not be nil")
	}

	b := &Bucket{clock: clk}
	now := b.now()
	b.lastTxRateBucket = math.Floor(now)
	b.lastThrottleTime = now
	return b, nil
}

// MustNew is like New but panics on error
func MustNew(options ...Option) *Bucket {
	b, err := New(options...)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Bucket) now() float64 {
	return float64(b.clock.Now().UnixNano()) / 1e9
}

// AcquireNonBlocking takes amount tokens from the bucket. It returns how
// long the caller has to wait before sending. When fastFail is set and a
// wait would be needed, nothing is taken and ok is false.
//
// A disabled bucket never makes the caller wait.
func (b *Bucket) AcquireNonBlocking(amount float64, fastFail bool) (wait time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled || amount <= 0 {
		return 0, true
	}

	b.refill()
	taken := math.Min(amount, b.currentCapacity)
	b.currentCapacity -= taken
	unfulfilled := amount - taken
	if unfulfilled <= 0 {
		return 0, true
	}

	if fastFail {
		b.currentCapacity += taken
		return 0, false
	}
	return time.Duration(unfulfilled / b.fillRate * float64(time.Second)), true
}

// Acquire is like AcquireNonBlocking but sleeps for the wait. It returns
// ErrSendSlotUnavailable on fast-fail, or a *smithy.CanceledError when ctx
// is done before the wait is over.
func (b *Bucket) Acquire(ctx context.Context, amount float64, fastFail bool) error {
	wait, ok := b.AcquireNonBlocking(amount, fastFail)
	if !ok {
		return ErrSendSlotUnavailable
	}
	return sleep.Context(ctx, b.clock, wait)
}

// UpdateClientSendingRate feeds the outcome of a response into the rate
// estimate. throttled reports whether the response was a throttling error.
func (b *Bucket) UpdateClientSendingRate(throttled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.updateMeasuredRate()

	var calculated float64
	if throttled {
		rateToUse := b.measuredTxRate
		if b.enabled {
			rateToUse = math.Min(b.measuredTxRate, b.fillRate)
		}
		b.lastMaxRate = rateToUse
		b.calculateTimeWindow()
		b.lastThrottleTime = b.now()
		calculated = rateToUse * beta
		b.enabled = true
	} else {
		b.calculateTimeWindow()
		calculated = b.cubicSuccess(b.now())
	}
	b.calculatedRate = calculated

	b.updateRate(math.Min(calculated, 2*b.measuredTxRate))
}

// State returns a snapshot of the bucket.
func (b *Bucket) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := State{
		FillRate:        b.fillRate,
		MaxCapacity:     b.maxCapacity,
		CurrentCapacity: b.currentCapacity,
		MeasuredTxRate:  b.measuredTxRate,
		LastMaxRate:     b.lastMaxRate,
		LastThrottle:    fromSeconds(b.lastThrottleTime),
		TimeWindow:      b.timeWindow,
		CalculatedRate:  b.calculatedRate,
		Enabled:         b.enabled,
	}
	if b.hasTimestamp {
		st.LastRefill = fromSeconds(b.lastTimestamp)
	}
	return st
}

func fromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}

// the methods below expect b.mu to be held

func (b *Bucket) refill() {
	now := b.now()
	if !b.hasTimestamp {
		b.lastTimestamp = now
		b.hasTimestamp = true
		return
	}
	fill := (now - b.lastTimestamp) * b.fillRate
	b.currentCapacity = math.Min(b.maxCapacity, b.currentCapacity+fill)
	b.lastTimestamp = now
}

func (b *Bucket) updateRate(newRate float64) {
	b.refill()
	b.fillRate = math.Max(newRate, MinFillRate)
	b.maxCapacity = math.Max(newRate, MinCapacity)
	b.currentCapacity = math.Min(b.currentCapacity, b.maxCapacity)
}

func (b *Bucket) updateMeasuredRate() {
	t := b.now()
	timeBucket := math.Floor(t*2) / 2
	b.requestCount++
	if timeBucket > b.lastTxRateBucket {
		currentRate := float64(b.requestCount) / (timeBucket - b.lastTxRateBucket)
		b.measuredTxRate = currentRate*smooth + b.measuredTxRate*(1-smooth)
		b.requestCount = 0
		b.lastTxRateBucket = timeBucket
	}
}

func (b *Bucket) calculateTimeWindow() {
	b.timeWindow = math.Cbrt(b.lastMaxRate * (1 - beta) / scaleConstant)
}

func (b *Bucket) cubicSuccess(t float64) float64 {
	dt := t - b.lastThrottleTime - b.timeWindow
	return scaleConstant*dt*dt*dt + b.lastMaxRate
}
