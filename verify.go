package sigv4

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/lestrrat-go/jwx/v3/jws/jwsbb"
	"github.com/lestrrat-go/sigv4/scope"
	"github.com/lestrrat-go/sigv4/sigbase"
)

// Authorization is the parsed form of a SigV4 Authorization header.
type Authorization struct {
	Algorithm     string
	AccessKeyID   string
	Scope         scope.Scope
	SignedHeaders []string
	// Signature is the hex encoded signature
	Signature string
}

// ParseAuthorization parses a header of the form
//
//	AWS4-HMAC-SHA256 Credential=AKID/20150830/us-east-1/iam/aws4_request, SignedHeaders=host;x-amz-date, Signature=...
func ParseAuthorization(value string) (*Authorization, error) {
	algorithm, rest, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || algorithm != Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrMalformedAuthorization)
	}

	var auth Authorization
	auth.Algorithm = algorithm
	var haveCredential, haveSignedHeaders, haveSignature bool
	for _, part := range strings.Split(rest, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("%w: invalid parameter %q", ErrMalformedAuthorization, part)
		}
		switch key {
		case "Credential":
			akid, sc, ok := strings.Cut(val, "/")
			if !ok || akid == "" {
				return nil, fmt.Errorf("%w: invalid credential", ErrMalformedAuthorization)
			}
			parsed, err := scope.Parse(sc)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformedAuthorization, err)
			}
			auth.AccessKeyID = akid
			auth.Scope = parsed
			haveCredential = true
		case "SignedHeaders":
			if val == "" {
				return nil, fmt.Errorf("%w: empty signed headers", ErrMalformedAuthorization)
			}
			auth.SignedHeaders = strings.Split(val, ";")
			haveSignedHeaders = true
		case "Signature":
			auth.Signature = val
			haveSignature = val != ""
		}
	}

	if !haveCredential || !haveSignedHeaders || !haveSignature {
		return nil, fmt.Errorf("%w: Credential, SignedHeaders and Signature are required", ErrMalformedAuthorization)
	}
	return &auth, nil
}

// Verify checks the Authorization header of req against creds. The region
// and service are taken from the credential scope of the header, and the
// signing time from X-Amz-Date.
func (s *Signer) Verify(ctx context.Context, req *http.Request, creds aws.Credentials, options ...VerifyOption) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("HTTP request is required")
	}
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}

	generic := make([]Option, len(options))
	for i, opt := range options {
		generic[i] = opt
	}
	co, err := s.callOptions(generic)
	if err != nil {
		return nil, err
	}

	auth, err := ParseAuthorization(req.Header.Get(HeaderAuthorization))
	if err != nil {
		return nil, err
	}
	if auth.AccessKeyID != creds.AccessKeyID {
		return nil, fmt.Errorf("%w: access key id does not match", ErrSignatureMismatch)
	}
	if !slices.Contains(auth.SignedHeaders, "host") {
		return nil, fmt.Errorf("%w: host must be signed", ErrMalformedAuthorization)
	}

	signTime, err := scope.ParseDateTime(req.Header.Get(HeaderDate))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %w", ErrMalformedAuthorization, HeaderDate, err)
	}
	if scope.FormatDate(signTime) != auth.Scope.Date() {
		return nil, fmt.Errorf("%w: credential date does not match %s", ErrMalformedAuthorization, HeaderDate)
	}
	if co.maxSkew > 0 {
		if skew := s.clock.Now().Sub(signTime).Abs(); skew > co.maxSkew {
			return nil, fmt.Errorf("%w: skew %s exceeds %s", ErrRequestExpired, skew.Truncate(time.Second), co.maxSkew)
		}
	}

	payloadHash := co.payloadHash
	if payloadHash == "" {
		payloadHash, err = PayloadHash(req)
		if err != nil {
			return nil, fmt.Errorf("failed to compute payload hash: %w", err)
		}
	}

	info, err := sigbase.RequestInfoFromHTTP(req)
	if err != nil {
		return nil, fmt.Errorf("failed to extract request info: %w", err)
	}

	cr, err := sigbase.Request(info).
		PayloadHash(payloadHash).
		DoubleURLEncode(s.doubleURLEncode(auth.Scope.Service())).
		NormalizePath(s.normalizeURIPath(auth.Scope.Service())).
		SignedHeaders(auth.SignedHeaders...).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build canonical request: %w", err)
	}

	received, err := hex.DecodeString(auth.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex encoded", ErrMalformedAuthorization)
	}

	stringToSign := BuildStringToSign(cr.Hash(), Algorithm, signTime, auth.Scope)
	key := s.keys.Get(creds, signTime, auth.Scope.Region(), auth.Scope.Service())
	if err := jwsbb.Verify(key, hmacAlgorithm, []byte(stringToSign), received); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}

	return &Result{
		Signature:        auth.Signature,
		SignedHeaders:    cr.SignedHeaders(),
		Scope:            auth.Scope,
		StringToSign:     stringToSign,
		CanonicalRequest: cr,
		Authorization:    req.Header.Get(HeaderAuthorization),
	}, nil
}
