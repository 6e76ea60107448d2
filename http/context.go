package http

import (
	"context"

	"github.com/lestrrat-go/sigv4"
)

// Context key types for storing values in request context
type verificationErrorKey struct{}
type verificationResultKey struct{}

// WithVerificationError adds a verification error to the context.
func WithVerificationError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, verificationErrorKey{}, err)
}

// VerificationErrorFromContext retrieves a verification error from the context.
func VerificationErrorFromContext(ctx context.Context) error {
	if err, ok := ctx.Value(verificationErrorKey{}).(error); ok {
		return err
	}
	return nil
}

func withVerificationResult(ctx context.Context, res *sigv4.Result) context.Context {
	return context.WithValue(ctx, verificationResultKey{}, res)
}

// ResultFromContext returns the result of a successful verification. It is
// nil when verification was skipped.
func ResultFromContext(ctx context.Context) *sigv4.Result {
	if res, ok := ctx.Value(verificationResultKey{}).(*sigv4.Result); ok {
		return res
	}
	return nil
}
