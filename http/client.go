package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"code.cloudfoundry.org/clock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/containerd/log"
	"github.com/lestrrat-go/blackmagic"
	"github.com/lestrrat-go/sigv4"
	"github.com/lestrrat-go/sigv4/internal/sleep"
	"github.com/lestrrat-go/sigv4/ratelimit"
	"github.com/lestrrat-go/sigv4/retry"
	"github.com/lestrrat-go/sigv4/sigbase"
)

// maximum number of bytes read from a failed response before it is closed
const drainLimit = 4096

// Transport is an http.RoundTripper that signs requests with SigV4 and
// retries failed attempts according to a retry.Strategy. Every attempt is
// signed again, so a retried request never carries a stale X-Amz-Date.
type Transport struct {
	transport       http.RoundTripper
	signer          *sigv4.Signer
	credentials     *aws.CredentialsCache
	region          string
	service         string
	retryer         *retry.Strategy
	clock           clock.Clock
	unsignedPayload bool
}

// NewTransport creates a Transport that signs for region and service with
// credentials from provider.
func NewTransport(signer *sigv4.Signer, provider aws.CredentialsProvider, region, service string, options ...TransportOption) (*Transport, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("credentials provider is required")
	}
	if region == "" || service == "" {
		return nil, fmt.Errorf("region and service are required")
	}

	t := &Transport{
		transport: http.DefaultTransport,
		signer:    signer,
		region:    region,
		service:   service,
		clock:     clock.NewClock(),
	}
	for _, opt := range options {
		var err error
		switch opt.Ident() {
		case identTransport{}:
			err = blackmagic.AssignIfCompatible(&t.transport, opt.Value())
		case identRetryStrategy{}:
			err = blackmagic.AssignIfCompatible(&t.retryer, opt.Value())
		case identClock{}:
			err = blackmagic.AssignIfCompatible(&t.clock, opt.Value())
		case identUnsignedPayload{}:
			err = blackmagic.AssignIfCompatible(&t.unsignedPayload, opt.Value())
		}
		if err != nil {
			return nil, fmt.Errorf("failed to assign option %s: %w", opt.Ident(), err)
		}
	}

	if t.transport == nil {
		t.transport = http.DefaultTransport
	}
	if t.clock == nil {
		return nil, fmt.Errorf("clock must not be nil")
	}
	if t.retryer == nil {
		strategy, err := retry.New(retry.WithClock(t.clock))
		if err != nil {
			return nil, fmt.Errorf("failed to create retry strategy: %w", err)
		}
		t.retryer = strategy
	}
	t.credentials = aws.NewCredentialsCache(provider)
	return t, nil
}

// NewClient creates an http.Client whose requests are signed and retried
// by a Transport.
func NewClient(signer *sigv4.Signer, provider aws.CredentialsProvider, region, service string, options ...TransportOption) (*http.Client, error) {
	t, err := NewTransport(signer, provider, region, service, options...)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}

// RetryStrategy returns the retry strategy used by t
func (t *Transport) RetryStrategy() *retry.Strategy {
	return t.retryer
}

// RoundTrip implements http.RoundTripper. When the strategy gives up, the
// last response or transport error is returned unchanged, so callers see
// the service's own error. A request refused by the client side rate
// limiter fails with a *retry.TokenAcquisitionError.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	req, err := rewindable(req)
	if err != nil {
		return nil, err
	}

	token, delay, err := t.retryer.AcquireInitialToken(ctx, t.region+"/"+t.service)
	if err != nil {
		return nil, err
	}
	if err := sleep.Context(ctx, t.clock, delay); err != nil {
		return nil, err
	}

	for {
		resp, err := t.attempt(ctx, req, token)
		if err == nil && resp.StatusCode < http.StatusBadRequest {
			if _, serr := t.retryer.RecordSuccess(ctx, token); serr != nil {
				log.G(ctx).WithError(serr).Debug("failed to record success")
			}
			return resp, nil
		}

		failure := retry.FailureFromResponse(resp, err, t.clock.Now())
		next, delay, rerr := t.retryer.RefreshRetryToken(ctx, token, failure)
		if rerr != nil {
			var tae *retry.TokenAcquisitionError
			if errors.As(rerr, &tae) && !errors.Is(tae.Err, ratelimit.ErrSendSlotUnavailable) {
				return resp, err
			}
			drain(resp)
			return nil, rerr
		}

		drain(resp)
		log.G(ctx).WithFields(log.Fields{
			"attempt": next.Attempt(),
			"delay":   delay,
		}).Debug("retrying request")
		if err := sleep.Context(ctx, t.clock, delay); err != nil {
			return nil, err
		}
		token = next
	}
}

func (t *Transport) attempt(ctx context.Context, req *http.Request, token *retry.Token) (*http.Response, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		r.Body = body
	}

	creds, err := t.credentials.Retrieve(ctx)
	if err != nil {
		closeBody(r)
		return nil, fmt.Errorf("failed to retrieve credentials: %w", err)
	}

	now := skewedClock{clock: t.clock, offset: token.ClockOffset()}.Now()
	options := []sigv4.SignOption{sigv4.WithSigningTime(now)}
	if t.unsignedPayload {
		options = append(options, sigv4.WithPayloadHash(sigbase.UnsignedPayload))
	}
	if _, err := t.signer.Sign(ctx, r, creds, t.region, t.service, options...); err != nil {
		closeBody(r)
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return t.transport.RoundTrip(r)
}

// rewindable returns a request whose body can be read once per attempt.
// Bodies without GetBody are buffered in memory.
func rewindable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody != nil {
		// every attempt reads from GetBody
		_ = req.Body.Close()
		return req, nil
	}

	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r := req.Clone(req.Context())
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	r.Body = http.NoBody
	r.ContentLength = int64(len(buf))
	return r, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
