// Package sleep waits on a clock.Clock while honoring context cancellation.
package sleep

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/aws/smithy-go"
)

// Context blocks for d on clk. It returns a *smithy.CanceledError wrapping
// ctx.Err() if ctx is done first. A non-positive d only checks ctx.
func Context(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return &smithy.CanceledError{Err: err}
	}
	if d <= 0 {
		return nil
	}

	timer := clk.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return &smithy.CanceledError{Err: ctx.Err()}
	}
}
