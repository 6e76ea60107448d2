package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/containerd/log"
	"github.com/lestrrat-go/blackmagic"
	"github.com/lestrrat-go/sigv4"
)

// ErrMissingAuthorization is reported when a request has no Authorization
// header and the verifier does not skip such requests.
var ErrMissingAuthorization = errors.New("missing Authorization header")

// ErrUnknownAccessKey is returned by resolvers that do not know the
// access key id of a request.
var ErrUnknownAccessKey = errors.New("unknown access key id")

// CredentialsResolver resolves the credentials of the client that signed
// a request.
type CredentialsResolver interface {
	ResolveCredentials(ctx context.Context, accessKeyID string) (aws.Credentials, error)
}

// CredentialsResolverFunc is a function adapter for CredentialsResolver.
type CredentialsResolverFunc func(ctx context.Context, accessKeyID string) (aws.Credentials, error)

func (f CredentialsResolverFunc) ResolveCredentials(ctx context.Context, accessKeyID string) (aws.Credentials, error) {
	return f(ctx, accessKeyID)
}

// ProviderResolver serves the single set of credentials of an
// aws.CredentialsProvider.
type ProviderResolver struct {
	Provider aws.CredentialsProvider
}

func (p *ProviderResolver) ResolveCredentials(ctx context.Context, accessKeyID string) (aws.Credentials, error) {
	creds, err := p.Provider.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to retrieve credentials: %w", err)
	}
	if creds.AccessKeyID != accessKeyID {
		return aws.Credentials{}, fmt.Errorf("%w: %s", ErrUnknownAccessKey, accessKeyID)
	}
	return creds, nil
}

// MapResolver provides credentials lookup from a map keyed by access key id.
type MapResolver struct {
	Credentials map[string]aws.Credentials
}

func (m *MapResolver) ResolveCredentials(_ context.Context, accessKeyID string) (aws.Credentials, error) {
	if creds, ok := m.Credentials[accessKeyID]; ok {
		return creds, nil
	}
	return aws.Credentials{}, fmt.Errorf("%w: %s", ErrUnknownAccessKey, accessKeyID)
}

// Verifier verifies the SigV4 Authorization header of incoming requests.
type Verifier struct {
	resolver      CredentialsResolver
	signer        *sigv4.Signer
	errorHandler  http.Handler
	skipOnMissing bool
	maxSkew       *time.Duration
}

// NewVerifier creates a new Verifier with the given credentials resolver.
func NewVerifier(resolver CredentialsResolver, options ...VerifierOption) (*Verifier, error) {
	if resolver == nil {
		return nil, fmt.Errorf("credentials resolver is required")
	}
	v := &Verifier{
		resolver:     resolver,
		errorHandler: DefaultErrorHandler(),
	}

	for _, opt := range options {
		var err error
		switch opt.Ident() {
		case identSigner{}:
			err = blackmagic.AssignIfCompatible(&v.signer, opt.Value())
		case identSkipOnMissing{}:
			err = blackmagic.AssignIfCompatible(&v.skipOnMissing, opt.Value())
		case identVerifierErrorHandler{}:
			err = blackmagic.AssignIfCompatible(&v.errorHandler, opt.Value())
		case identMaxSkew{}:
			var d time.Duration
			err = blackmagic.AssignIfCompatible(&d, opt.Value())
			v.maxSkew = &d
		}
		if err != nil {
			return nil, fmt.Errorf("failed to assign option %s: %w", opt.Ident(), err)
		}
	}

	if v.errorHandler == nil {
		v.errorHandler = DefaultErrorHandler()
	}
	if v.signer == nil {
		signer, err := sigv4.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create signer: %w", err)
		}
		v.signer = signer
	}
	return v, nil
}

// VerifyRequest checks the signature of r. It returns a nil result and a
// nil error when r is unsigned and the verifier skips unsigned requests.
func (v *Verifier) VerifyRequest(ctx context.Context, r *http.Request) (*sigv4.Result, error) {
	value := r.Header.Get(sigv4.HeaderAuthorization)
	if value == "" {
		if v.skipOnMissing {
			return nil, nil
		}
		return nil, ErrMissingAuthorization
	}

	auth, err := sigv4.ParseAuthorization(value)
	if err != nil {
		return nil, err
	}
	creds, err := v.resolver.ResolveCredentials(ctx, auth.AccessKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	var options []sigv4.VerifyOption
	if v.maxSkew != nil {
		options = append(options, sigv4.WithMaxSkew(*v.maxSkew))
	}
	res, err := v.signer.Verify(ctx, r, creds, options...)
	if err != nil {
		log.G(ctx).WithFields(log.Fields{
			"access_key_id": auth.AccessKeyID,
			"scope":         auth.Scope.String(),
		}).WithError(err).Debug("signature verification failed")
		return nil, err
	}
	return res, nil
}

// DefaultErrorHandler returns a handler that responds with 401 Unauthorized
// and includes the error message in the response body.
func DefaultErrorHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorMsg := "Signature verification failed"
		if err := VerificationErrorFromContext(r.Context()); err != nil {
			errorMsg = err.Error()
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, "401 Unauthorized: %s\n", errorMsg)
	})
}
