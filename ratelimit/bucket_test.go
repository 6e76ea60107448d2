package ratelimit_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/aws/smithy-go"
	"github.com/lestrrat-go/sigv4/ratelimit"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var epoch = time.Unix(1_000_000, 0)

// warmUp reports n successful responses per second for d, so the
// measured rate settles around n.
func warmUp(clk *fakeclock.FakeClock, b *ratelimit.Bucket, n int, d time.Duration) {
	step := time.Second / time.Duration(n)
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		b.UpdateClientSendingRate(false)
		clk.Increment(step)
	}
}

func TestBucket(t *testing.T) {
	t.Run("Disabled until throttled", func(t *testing.T) {
		b := ratelimit.MustNew(ratelimit.WithClock(fakeclock.NewFakeClock(epoch)))
		for _, amount := range []float64{1, 10, 1e9} {
			wait, ok := b.AcquireNonBlocking(amount, true)
			require.True(t, ok)
			require.Zero(t, wait)
		}
		require.False(t, b.State().Enabled)

		b.UpdateClientSendingRate(false)
		require.False(t, b.State().Enabled, "success never enables the bucket")
	})

	t.Run("First throttle enables at the minimum rate", func(t *testing.T) {
		clk := fakeclock.NewFakeClock(epoch)
		b := ratelimit.MustNew(ratelimit.WithClock(clk))

		b.UpdateClientSendingRate(true)
		st := b.State()
		require.True(t, st.Enabled)
		require.Equal(t, ratelimit.MinFillRate, st.FillRate)
		require.Equal(t, ratelimit.MinCapacity, st.MaxCapacity)
		require.Zero(t, st.CurrentCapacity)

		_, ok := b.AcquireNonBlocking(1, true)
		require.False(t, ok, "fast-fail does not wait")
		require.Zero(t, b.State().CurrentCapacity)

		wait, ok := b.AcquireNonBlocking(1, false)
		require.True(t, ok)
		require.Equal(t, 2*time.Second, wait, "1 token at 0.5 tokens per second")

		clk.Increment(10 * time.Second)
		wait, ok = b.AcquireNonBlocking(1, true)
		require.True(t, ok)
		require.Zero(t, wait)
		require.Zero(t, b.State().CurrentCapacity)

		b.UpdateClientSendingRate(false)
		require.True(t, b.State().Enabled, "enabled never goes back")
	})

	t.Run("Throttle cuts the measured rate", func(t *testing.T) {
		clk := fakeclock.NewFakeClock(epoch)
		b := ratelimit.MustNew(ratelimit.WithClock(clk))
		warmUp(clk, b, 20, 5*time.Second)

		measured := b.State().MeasuredTxRate
		require.InDelta(t, 20, measured, 2)

		b.UpdateClientSendingRate(true)
		st := b.State()
		require.InDelta(t, st.LastMaxRate*0.7, st.CalculatedRate, 1e-9)
		require.InDelta(t, st.CalculatedRate, st.FillRate, 1e-9)
		require.InDelta(t, st.CalculatedRate, st.MaxCapacity, 1e-9)
		require.WithinDuration(t, clk.Now(), st.LastThrottle, time.Microsecond)
	})

	t.Run("CUBIC recovery", func(t *testing.T) {
		clk := fakeclock.NewFakeClock(epoch)
		b := ratelimit.MustNew(ratelimit.WithClock(clk))
		warmUp(clk, b, 20, 5*time.Second)
		b.UpdateClientSendingRate(true)

		lastMax := b.State().LastMaxRate
		require.Greater(t, lastMax, 0.0)

		clk.Increment(100 * time.Millisecond)
		b.UpdateClientSendingRate(false)
		st := b.State()
		require.Less(t, st.CalculatedRate, lastMax, "still below the last max right after a throttle")
		window := st.TimeWindow
		require.Greater(t, window, 0.0)

		// at t = K the curve passes through the last max rate
		clk.Increment(time.Duration((window-0.1)*float64(time.Second)))
		b.UpdateClientSendingRate(false)
		require.InDelta(t, lastMax, b.State().CalculatedRate, 1e-3)

		clk.Increment(5 * time.Second)
		b.UpdateClientSendingRate(false)
		require.Greater(t, b.State().CalculatedRate, lastMax, "probes past the last max once the window has passed")
	})

	t.Run("Acquire sleeps on the clock", func(t *testing.T) {
		clk := fakeclock.NewFakeClock(epoch)
		b := ratelimit.MustNew(ratelimit.WithClock(clk))
		b.UpdateClientSendingRate(true)

		done := make(chan error, 1)
		go func() {
			done <- b.Acquire(context.Background(), 1, false)
		}()
		clk.WaitForWatcherAndIncrement(2 * time.Second)
		require.NoError(t, <-done)
	})

	t.Run("Acquire fast-fail", func(t *testing.T) {
		b := ratelimit.MustNew(ratelimit.WithClock(fakeclock.NewFakeClock(epoch)))
		b.UpdateClientSendingRate(true)
		require.ErrorIs(t, b.Acquire(context.Background(), 1, true), ratelimit.ErrSendSlotUnavailable)
	})

	t.Run("Acquire cancellation", func(t *testing.T) {
		b := ratelimit.MustNew(ratelimit.WithClock(fakeclock.NewFakeClock(epoch)))
		b.UpdateClientSendingRate(true)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := b.Acquire(ctx, 1, false)
		var cerr *smithy.CanceledError
		require.True(t, errors.As(err, &cerr))
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Collector", func(t *testing.T) {
		b := ratelimit.MustNew(ratelimit.WithClock(fakeclock.NewFakeClock(epoch)))
		require.Equal(t, 5, testutil.CollectAndCount(b))

		b.UpdateClientSendingRate(true)
		require.NoError(t, testutil.CollectAndCompare(b, strings.NewReader(`
# HELP sigv4_rate_limiter_enabled 1 once a throttling response has been observed.
# TYPE sigv4_rate_limiter_enabled gauge
sigv4_rate_limiter_enabled 1
# HELP sigv4_rate_limiter_fill_rate Tokens added to the send bucket per second.
# TYPE sigv4_rate_limiter_fill_rate gauge
sigv4_rate_limiter_fill_rate 0.5
`), "sigv4_rate_limiter_enabled", "sigv4_rate_limiter_fill_rate"))
	})
}

func TestBucketConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clk := fakeclock.NewFakeClock(epoch)
		b := ratelimit.MustNew(ratelimit.WithClock(clk))

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for range steps {
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				b.UpdateClientSendingRate(rapid.Bool().Draw(t, "throttled"))
			case 1:
				amount := rapid.Float64Range(0, 50).Draw(t, "amount")
				b.AcquireNonBlocking(amount, rapid.Bool().Draw(t, "fastFail"))
			case 2:
				clk.Increment(time.Duration(rapid.IntRange(0, 5000).Draw(t, "ms")) * time.Millisecond)
			case 3:
				st := b.State()
				if !st.Enabled {
					wait, ok := b.AcquireNonBlocking(rapid.Float64Range(0, 1e6).Draw(t, "big"), true)
					if !ok || wait != 0 {
						t.Fatalf("disabled bucket made the caller wait")
					}
				}
			}

			st := b.State()
			if st.CurrentCapacity < 0 {
				t.Fatalf("capacity went negative: %v", st.CurrentCapacity)
			}
			if st.CurrentCapacity > st.MaxCapacity {
				t.Fatalf("capacity %v exceeds max %v", st.CurrentCapacity, st.MaxCapacity)
			}
			if st.Enabled && st.FillRate < ratelimit.MinFillRate {
				t.Fatalf("fill rate %v below minimum", st.FillRate)
			}
		}
	})
}

func TestStore(t *testing.T) {
	s, err := ratelimit.NewStore(2, ratelimit.WithClock(fakeclock.NewFakeClock(epoch)))
	require.NoError(t, err)

	a, err := s.ForScope("a")
	require.NoError(t, err)
	again, err := s.ForScope("a")
	require.NoError(t, err)
	require.Same(t, a, again)

	a.UpdateClientSendingRate(true)
	_, _ = s.ForScope("b")
	_, _ = s.ForScope("c")
	require.Equal(t, 2, s.Len())

	fresh, err := s.ForScope("a")
	require.NoError(t, err)
	require.NotSame(t, a, fresh)
	require.False(t, fresh.State().Enabled)

	_, err = ratelimit.NewStore(0)
	require.Error(t, err)
}
