package http

import (
	"net/http"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/lestrrat-go/option"
	"github.com/lestrrat-go/sigv4"
	"github.com/lestrrat-go/sigv4/retry"
)

type Option = option.Interface

// Identifier types for options
type identVerifier struct{}

func (identVerifier) String() string { return "WithVerifier" }

type identSigner struct{}

func (identSigner) String() string { return "WithSigner" }

type identSkipOnMissing struct{}

func (identSkipOnMissing) String() string { return "WithSkipOnMissing" }

type identVerifierErrorHandler struct{}

func (identVerifierErrorHandler) String() string { return "WithVerifierErrorHandler" }

type identMaxSkew struct{}

func (identMaxSkew) String() string { return "WithMaxSkew" }

type identTransport struct{}

func (identTransport) String() string { return "WithTransport" }

type identRetryStrategy struct{}

func (identRetryStrategy) String() string { return "WithRetryStrategy" }

type identClock struct{}

func (identClock) String() string { return "WithClock" }

type identUnsignedPayload struct{}

func (identUnsignedPayload) String() string { return "WithUnsignedPayload" }

// MiddlewareOption configures Wrap.
type MiddlewareOption interface {
	Option
	middlewareOption()
}

type middlewareOption struct {
	Option
}

func (middlewareOption) middlewareOption() {}

// WithVerifier specifies the verifier used to check incoming requests.
func WithVerifier(verifier *Verifier) MiddlewareOption {
	return middlewareOption{option.New(identVerifier{}, verifier)}
}

// VerifierOption configures a Verifier.
type VerifierOption interface {
	Option
	verifierOption()
}

type verifierOption struct {
	Option
}

func (verifierOption) verifierOption() {}

// WithSigner sets the signer whose settings (path normalization, URI
// encoding, clock) are used to rebuild the canonical request.
func WithSigner(signer *sigv4.Signer) VerifierOption {
	return verifierOption{option.New(identSigner{}, signer)}
}

// WithSkipOnMissing configures whether to skip verification when no
// Authorization header is present.
func WithSkipOnMissing(skip bool) VerifierOption {
	return verifierOption{option.New(identSkipOnMissing{}, skip)}
}

// WithVerifierErrorHandler configures custom error handling.
func WithVerifierErrorHandler(handler http.Handler) VerifierOption {
	return verifierOption{option.New(identVerifierErrorHandler{}, handler)}
}

// WithMaxSkew sets how far X-Amz-Date may be from the server clock.
// Zero disables the check.
func WithMaxSkew(d time.Duration) VerifierOption {
	return verifierOption{option.New(identMaxSkew{}, d)}
}

// TransportOption configures a Transport.
type TransportOption interface {
	Option
	transportOption()
}

type transportOption struct {
	Option
}

func (transportOption) transportOption() {}

// WithTransport sets the underlying transport.
func WithTransport(transport http.RoundTripper) TransportOption {
	return transportOption{option.New(identTransport{}, transport)}
}

// WithRetryStrategy sets the retry strategy. Strategies may be shared
// between transports so that they draw from the same retry budget.
func WithRetryStrategy(strategy *retry.Strategy) TransportOption {
	return transportOption{option.New(identRetryStrategy{}, strategy)}
}

// WithClock sets the clock used for signing times and retry delays.
func WithClock(clk clock.Clock) TransportOption {
	return transportOption{option.New(identClock{}, clk)}
}

// WithUnsignedPayload signs requests with UNSIGNED-PAYLOAD instead of
// hashing the body.
func WithUnsignedPayload(v bool) TransportOption {
	return transportOption{option.New(identUnsignedPayload{}, v)}
}
