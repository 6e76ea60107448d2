package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/aws/smithy-go"
	smithytime "github.com/aws/smithy-go/time"
)

// ErrAttemptTimeout marks an attempt that was cut short by a per-attempt
// deadline. Unlike cancellation of the whole call it is retryable.
var ErrAttemptTimeout = errors.New("attempt timed out")

// MaxClockSkew is how far the server clock may drift before a 401 or 403
// is treated as a clock skew failure.
const MaxClockSkew = 4 * time.Minute

var throttlingCodes = []string{
	"Throttling",
	"ThrottlingException",
	"ThrottledException",
	"RequestThrottledException",
	"TooManyRequestsException",
	"ProvisionedThroughputExceededException",
	"TransactionInProgressException",
	"RequestLimitExceeded",
	"BandwidthLimitExceeded",
	"LimitExceededException",
	"RequestThrottled",
	"SlowDown",
	"PriorRequestNotComplete",
	"EC2ThrottledException",
}

var clockSkewCodes = []string{
	"RequestTimeTooSkewed",
	"RequestExpired",
	"InvalidSignatureException",
	"SignatureDoesNotMatch",
	"AuthFailure",
	"RequestInTheFuture",
}

var transientCodes = []string{
	"RequestTimeout",
	"RequestTimeoutException",
	"InternalError",
}

// Failure describes a failed attempt. Either Err or StatusCode is set,
// sometimes both.
type Failure struct {
	Err        error
	StatusCode int
	Header     http.Header
	// Code is the service error code, if known. When empty it is taken
	// from Err or from the X-Amzn-ErrorType header.
	Code string
	// SuggestedDelay is the delay the server asked for, if any
	SuggestedDelay time.Duration
}

// FailureFromResponse describes a failed attempt from its response and
// transport error. The suggested delay is read from Retry-After and
// x-amz-retry-after.
func FailureFromResponse(resp *http.Response, err error, now time.Time) *Failure {
	f := &Failure{Err: err}
	if resp != nil {
		f.StatusCode = resp.StatusCode
		f.Header = resp.Header
		f.SuggestedDelay = suggestedDelay(resp.Header, now)
	}
	return f
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Err.Error()
	}
	if code := f.ErrorCode(); code != "" {
		return fmt.Sprintf("request failed with status %d (%s)", f.StatusCode, code)
	}
	return fmt.Sprintf("request failed with status %d", f.StatusCode)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ErrorCode returns the service error code of the failure.
func (f *Failure) ErrorCode() string {
	if f.Code != "" {
		return f.Code
	}
	var apiErr smithy.APIError
	if errors.As(f.Err, &apiErr) {
		return apiErr.ErrorCode()
	}
	if f.Header != nil {
		// "ThrottlingException:http://internal.amazon.com/coral/..."
		code, _, _ := strings.Cut(f.Header.Get("X-Amzn-ErrorType"), ":")
		return code
	}
	return ""
}

// Predicate reports whether a failure may be retried.
type Predicate func(*Failure) bool

// RetryOnStatus retries the given HTTP status codes.
func RetryOnStatus(codes ...int) Predicate {
	return func(f *Failure) bool {
		return slices.Contains(codes, f.StatusCode)
	}
}

// RetryOnErrorCodes retries the given service error codes.
func RetryOnErrorCodes(codes ...string) Predicate {
	return func(f *Failure) bool {
		code := f.ErrorCode()
		return code != "" && slices.Contains(codes, code)
	}
}

// RetryOnThrottling retries throttling failures.
func RetryOnThrottling() Predicate {
	return IsThrottling
}

// RetryOnClockSkew retries failures caused by a skewed client clock.
func RetryOnClockSkew(clk clock.Clock) Predicate {
	return func(f *Failure) bool {
		return IsClockSkew(f, clk.Now())
	}
}

// RetryOnTransientError retries I/O failures, attempt timeouts and
// transient service errors.
func RetryOnTransientError() Predicate {
	return func(f *Failure) bool {
		return IsTransient(f.Err) || slices.Contains(transientCodes, f.ErrorCode())
	}
}

// IsThrottling reports whether f is a 429 or carries a throttling error
// code.
func IsThrottling(f *Failure) bool {
	if f == nil {
		return false
	}
	return f.StatusCode == http.StatusTooManyRequests || slices.Contains(throttlingCodes, f.ErrorCode())
}

// IsClockSkew reports whether f was caused by the client clock being off
// from the server clock.
func IsClockSkew(f *Failure, now time.Time) bool {
	if f == nil {
		return false
	}
	if slices.Contains(clockSkewCodes, f.ErrorCode()) {
		return true
	}
	if f.StatusCode != http.StatusUnauthorized && f.StatusCode != http.StatusForbidden {
		return false
	}
	offset, ok := ClockOffset(f, now)
	return ok && offset.Abs() > MaxClockSkew
}

// ClockOffset returns how far the server Date header of f is ahead of now.
func ClockOffset(f *Failure, now time.Time) (time.Duration, bool) {
	if f == nil || f.Header == nil {
		return 0, false
	}
	v := f.Header.Get("Date")
	if v == "" {
		return 0, false
	}
	server, err := smithytime.ParseHTTPDate(v)
	if err != nil {
		return 0, false
	}
	return server.Sub(now), true
}

// IsTransient reports whether err is a connection level failure or an
// attempt timeout.
func IsTransient(err error) bool {
	if err == nil || IsCanceled(err) {
		return false
	}
	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsCanceled reports whether err is the cancellation of the overall call.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	var canceled *smithy.CanceledError
	return errors.As(err, &canceled) || errors.Is(err, context.Canceled)
}

func suggestedDelay(hdr http.Header, now time.Time) time.Duration {
	if v := hdr.Get("X-Amz-Retry-After"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	v := hdr.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := smithytime.ParseHTTPDate(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
