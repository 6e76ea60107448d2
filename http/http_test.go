package http_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"
	"github.com/lestrrat-go/sigv4"
	sigv4http "github.com/lestrrat-go/sigv4/http"
	"github.com/lestrrat-go/sigv4/ratelimit"
	"github.com/lestrrat-go/sigv4/retry"
	"github.com/lestrrat-go/sigv4/scope"
	"github.com/lestrrat-go/sigv4/sigbase"
	"github.com/stretchr/testify/require"
)

const (
	testAccessKey = "AKIDEXAMPLE"
	testSecretKey = "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"
)

var testProvider = credentials.NewStaticCredentialsProvider(testAccessKey, testSecretKey, "")

// Test helper to create a simple test handler
func testHandler(message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, message)
	})
}

func newVerifier(t *testing.T, options ...sigv4http.VerifierOption) *sigv4http.Verifier {
	t.Helper()
	options = append([]sigv4http.VerifierOption{sigv4http.WithMaxSkew(0)}, options...)
	v, err := sigv4http.NewVerifier(&sigv4http.ProviderResolver{Provider: testProvider}, options...)
	require.NoError(t, err)
	return v
}

func newSigner(t *testing.T) *sigv4.Signer {
	t.Helper()
	s, err := sigv4.New()
	require.NoError(t, err)
	return s
}

func noDelayStrategy(t *testing.T, options ...retry.Option) *retry.Strategy {
	t.Helper()
	options = append([]retry.Option{
		retry.WithBackoff(retry.NoBackoff()),
		retry.WithThrottlingBackoff(retry.NoBackoff()),
	}, options...)
	s, err := retry.New(options...)
	require.NoError(t, err)
	return s
}

// scriptedServer verifies every request, records what it saw, and answers
// with the next status in statuses. The last status repeats.
type scriptedServer struct {
	mu       sync.Mutex
	statuses []int
	bodies   []string
	dates    []string
	header   func(attempt int, h http.Header)
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.bodies = append(s.bodies, string(body))
	s.dates = append(s.dates, r.Header.Get(sigv4.HeaderDate))
	attempt := len(s.bodies)
	status := s.statuses[min(attempt, len(s.statuses))-1]
	s.mu.Unlock()

	if s.header != nil {
		s.header(attempt, w.Header())
	}
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "attempt %d", attempt)
}

func (s *scriptedServer) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func TestTransport(t *testing.T) {
	t.Run("Signs and retries every attempt", func(t *testing.T) {
		script := &scriptedServer{statuses: []int{http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusOK}}
		server := httptest.NewServer(sigv4http.Wrap(script, sigv4http.WithVerifier(newVerifier(t))))
		defer server.Close()

		client, err := sigv4http.NewClient(newSigner(t), testProvider, "us-east-1", "execute-api",
			sigv4http.WithRetryStrategy(noDelayStrategy(t)))
		require.NoError(t, err)

		resp, err := client.Post(server.URL+"/items?b=2&a=1", "text/plain", strings.NewReader("payload"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "attempt 3", string(body))
		require.Equal(t, []string{"payload", "payload", "payload"}, script.bodies)
	})

	t.Run("Body without GetBody is buffered", func(t *testing.T) {
		script := &scriptedServer{statuses: []int{http.StatusBadGateway, http.StatusOK}}
		server := httptest.NewServer(sigv4http.Wrap(script, sigv4http.WithVerifier(newVerifier(t))))
		defer server.Close()

		transport, err := sigv4http.NewTransport(newSigner(t), testProvider, "us-east-1", "execute-api",
			sigv4http.WithRetryStrategy(noDelayStrategy(t)))
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPut, server.URL+"/items/1", io.MultiReader(strings.NewReader("ab"), strings.NewReader("c")))
		require.NoError(t, err)
		require.Nil(t, req.GetBody)

		resp, err := transport.RoundTrip(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, []string{"abc", "abc"}, script.bodies)
	})

	t.Run("Exhausted retries return the last response", func(t *testing.T) {
		script := &scriptedServer{statuses: []int{http.StatusServiceUnavailable}}
		server := httptest.NewServer(script)
		defer server.Close()

		client, err := sigv4http.NewClient(newSigner(t), testProvider, "us-east-1", "execute-api",
			sigv4http.WithRetryStrategy(noDelayStrategy(t)))
		require.NoError(t, err)

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "attempt 3", string(body))
		require.Equal(t, 3, script.attempts())
	})

	t.Run("Non-retryable response is returned as is", func(t *testing.T) {
		script := &scriptedServer{statuses: []int{http.StatusNotFound, http.StatusOK}}
		server := httptest.NewServer(script)
		defer server.Close()

		client, err := sigv4http.NewClient(newSigner(t), testProvider, "us-east-1", "execute-api",
			sigv4http.WithRetryStrategy(noDelayStrategy(t)))
		require.NoError(t, err)

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, 1, script.attempts())
	})

	t.Run("Clock skew shifts the signing time", func(t *testing.T) {
		now := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)
		clk := fakeclock.NewFakeClock(now)
		script := &scriptedServer{
			statuses: []int{http.StatusForbidden, http.StatusOK},
			header: func(attempt int, h http.Header) {
				if attempt == 1 {
					h.Set("Date", now.Add(10*time.Minute).Format(http.TimeFormat))
				}
			},
		}
		server := httptest.NewServer(script)
		defer server.Close()

		client, err := sigv4http.NewClient(newSigner(t), testProvider, "us-east-1", "execute-api",
			sigv4http.WithClock(clk),
			sigv4http.WithRetryStrategy(noDelayStrategy(t, retry.WithClock(clk))))
		require.NoError(t, err)

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, []string{
			scope.FormatDateTime(now),
			scope.FormatDateTime(now.Add(10 * time.Minute)),
		}, script.dates)
	})

	t.Run("Unsigned payload", func(t *testing.T) {
		var seen string
		server := httptest.NewServer(sigv4http.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r.Header.Get(sigv4.HeaderContentSHA256)
			w.WriteHeader(http.StatusOK)
		}), sigv4http.WithVerifier(newVerifier(t))))
		defer server.Close()

		client, err := sigv4http.NewClient(newSigner(t), testProvider, "us-east-1", "s3",
			sigv4http.WithUnsignedPayload(true))
		require.NoError(t, err)

		resp, err := client.Post(server.URL+"/bucket/key", "application/octet-stream", strings.NewReader("object"))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, sigbase.UnsignedPayload, seen)
	})

	t.Run("Rate limiter fast fail", func(t *testing.T) {
		script := &scriptedServer{statuses: []int{http.StatusTooManyRequests}}
		server := httptest.NewServer(script)
		defer server.Close()

		transport, err := sigv4http.NewTransport(newSigner(t), testProvider, "us-east-1", "execute-api",
			sigv4http.WithRetryStrategy(noDelayStrategy(t, retry.WithMode(retry.ModeAdaptive), retry.WithFastFail(true))))
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		resp, err := transport.RoundTrip(req)
		require.Nil(t, resp)
		require.ErrorIs(t, err, ratelimit.ErrSendSlotUnavailable)

		var tae *retry.TokenAcquisitionError
		require.ErrorAs(t, err, &tae)
		require.Equal(t, retry.StateAcquisitionFailed, tae.Token.State())
		require.Equal(t, 1, script.attempts())
	})

	t.Run("Canceled context", func(t *testing.T) {
		transport, err := sigv4http.NewTransport(newSigner(t), testProvider, "us-east-1", "execute-api")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1/", nil)
		require.NoError(t, err)

		_, err = transport.RoundTrip(req)
		var canceled *smithy.CanceledError
		require.ErrorAs(t, err, &canceled)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Credentials failure", func(t *testing.T) {
		provider := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{}, fmt.Errorf("no credentials today")
		})
		transport, err := sigv4http.NewTransport(newSigner(t), provider, "us-east-1", "execute-api")
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
		require.NoError(t, err)
		_, err = transport.RoundTrip(req)
		require.ErrorContains(t, err, "no credentials today")
	})

	t.Run("Constructor errors", func(t *testing.T) {
		_, err := sigv4http.NewTransport(nil, testProvider, "us-east-1", "s3")
		require.Error(t, err)
		_, err = sigv4http.NewTransport(newSigner(t), nil, "us-east-1", "s3")
		require.Error(t, err)
		_, err = sigv4http.NewTransport(newSigner(t), testProvider, "", "s3")
		require.Error(t, err)
	})
}

func TestWrapper(t *testing.T) {
	signed := func(t *testing.T, req *http.Request, creds aws.Credentials) *http.Request {
		t.Helper()
		_, err := newSigner(t).Sign(context.Background(), req, creds, "us-east-1", "execute-api")
		require.NoError(t, err)
		return req
	}
	goodCreds := aws.Credentials{AccessKeyID: testAccessKey, SecretAccessKey: testSecretKey}

	t.Run("Missing signature", func(t *testing.T) {
		handler := sigv4http.Wrap(testHandler("success"), sigv4http.WithVerifier(newVerifier(t)))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Contains(t, w.Body.String(), "missing Authorization header")
	})

	t.Run("Missing signature with SkipOnMissing=true", func(t *testing.T) {
		var result *sigv4.Result
		handler := sigv4http.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result = sigv4http.ResultFromContext(r.Context())
			testHandler("success").ServeHTTP(w, r)
		}), sigv4http.WithVerifier(newVerifier(t, sigv4http.WithSkipOnMissing(true))))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "success", w.Body.String())
		require.Nil(t, result)
	})

	t.Run("Valid signature", func(t *testing.T) {
		var result *sigv4.Result
		handler := sigv4http.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result = sigv4http.ResultFromContext(r.Context())
			testHandler("success").ServeHTTP(w, r)
		}), sigv4http.WithVerifier(newVerifier(t)))

		req := signed(t, httptest.NewRequest(http.MethodGet, "/test?x=1", nil), goodCreds)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, result)
		require.Equal(t, "execute-api", result.Scope.Service())
		require.Equal(t, req.Header.Get(sigv4.HeaderAuthorization), result.Authorization)
	})

	t.Run("Unknown access key", func(t *testing.T) {
		var verr error
		errorHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verr = sigv4http.VerificationErrorFromContext(r.Context())
			w.WriteHeader(http.StatusForbidden)
		})
		handler := sigv4http.Wrap(testHandler("success"),
			sigv4http.WithVerifier(newVerifier(t, sigv4http.WithVerifierErrorHandler(errorHandler))))

		req := signed(t, httptest.NewRequest(http.MethodGet, "/test", nil),
			aws.Credentials{AccessKeyID: "AKIDOTHER", SecretAccessKey: testSecretKey})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusForbidden, w.Code)
		require.ErrorIs(t, verr, sigv4http.ErrUnknownAccessKey)
	})

	t.Run("Tampered request", func(t *testing.T) {
		var verr error
		errorHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verr = sigv4http.VerificationErrorFromContext(r.Context())
			w.WriteHeader(http.StatusUnauthorized)
		})
		handler := sigv4http.Wrap(testHandler("success"),
			sigv4http.WithVerifier(newVerifier(t, sigv4http.WithVerifierErrorHandler(errorHandler))))

		req := signed(t, httptest.NewRequest(http.MethodGet, "/test?x=1", nil), goodCreds)
		req.URL.RawQuery = "x=2"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.ErrorIs(t, verr, sigv4.ErrSignatureMismatch)
	})

	t.Run("Stale request", func(t *testing.T) {
		handler := sigv4http.Wrap(testHandler("success"),
			sigv4http.WithVerifier(newVerifier(t, sigv4http.WithMaxSkew(5*time.Minute))))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		_, err := newSigner(t).Sign(context.Background(), req, goodCreds, "us-east-1", "execute-api",
			sigv4.WithSigningTime(time.Now().Add(-time.Hour)))
		require.NoError(t, err)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Contains(t, w.Body.String(), "401 Unauthorized")
	})
}

func TestMapResolver(t *testing.T) {
	resolver := &sigv4http.MapResolver{Credentials: map[string]aws.Credentials{
		testAccessKey: {AccessKeyID: testAccessKey, SecretAccessKey: testSecretKey},
	}}
	creds, err := resolver.ResolveCredentials(context.Background(), testAccessKey)
	require.NoError(t, err)
	require.Equal(t, testSecretKey, creds.SecretAccessKey)

	_, err = resolver.ResolveCredentials(context.Background(), "AKIDNOPE")
	require.ErrorIs(t, err, sigv4http.ErrUnknownAccessKey)

	_, err = sigv4http.NewVerifier(nil)
	require.Error(t, err)
}
