package sigv4

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/containerd/log"
	"github.com/lestrrat-go/blackmagic"
	"github.com/lestrrat-go/jwx/v3/jws/jwsbb"
	"github.com/lestrrat-go/sigv4/scope"
	"github.com/lestrrat-go/sigv4/sigbase"
	"github.com/lestrrat-go/sigv4/signingkey"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// MaxPresignExpiry is the longest validity a presigned URL may have.
	MaxPresignExpiry = 7 * 24 * time.Hour

	HeaderAuthorization = "Authorization"
	HeaderDate          = "X-Amz-Date"
	HeaderSecurityToken = "X-Amz-Security-Token"
	HeaderContentSHA256 = "X-Amz-Content-Sha256"

	QueryAlgorithm     = "X-Amz-Algorithm"
	QueryCredential    = "X-Amz-Credential"
	QueryDate          = "X-Amz-Date"
	QueryExpires       = "X-Amz-Expires"
	QuerySignedHeaders = "X-Amz-SignedHeaders"
	QuerySecurityToken = "X-Amz-Security-Token"
	QuerySignature     = "X-Amz-Signature"

	// jwsbb name of HMAC-SHA256
	hmacAlgorithm = "HS256"
)

// Result describes a computed signature.
type Result struct {
	// Signature is the hex encoded signature
	Signature     string
	SignedHeaders string
	Scope         scope.Scope
	StringToSign  string

	CanonicalRequest *sigbase.CanonicalRequest

	// Authorization is the header value set by Sign
	Authorization string

	// URL is the presigned URL set by Presign
	URL *url.URL
}

// Signer signs HTTP requests with AWS Signature Version 4.
// Use New to create instances.
type Signer struct {
	clock         Clock
	keys          *signingkey.Cache
	doubleEncode  *bool
	normalizePath *bool
	excluded      []string
	logSigning    bool
	contentSHA256 *bool
}

// New creates a Signer
func New(options ...SignerOption) (*Signer, error) {
	s := &Signer{
		clock: SystemClock{},
	}

	for _, opt := range options {
		var err error
		switch opt.Ident() {
		case identClock{}:
			err = blackmagic.AssignIfCompatible(&s.clock, opt.Value())
		case identKeyCache{}:
			err = blackmagic.AssignIfCompatible(&s.keys, opt.Value())
		case identDoubleURLEncode{}:
			var v bool
			err = blackmagic.AssignIfCompatible(&v, opt.Value())
			s.doubleEncode = &v
		case identNormalizePath{}:
			var v bool
			err = blackmagic.AssignIfCompatible(&v, opt.Value())
			s.normalizePath = &v
		case identExcludedHeaders{}:
			var names []string
			err = blackmagic.AssignIfCompatible(&names, opt.Value())
			s.excluded = append(s.excluded, names...)
		case identLogSigning{}:
			err = blackmagic.AssignIfCompatible(&s.logSigning, opt.Value())
		case identContentSHA256Header{}:
			var v bool
			err = blackmagic.AssignIfCompatible(&v, opt.Value())
			s.contentSHA256 = &v
		}
		if err != nil {
			return nil, fmt.Errorf("failed to assign option %s: %w", opt.Ident(), err)
		}
	}

	if s.clock == nil {
		return nil, fmt.Errorf("clock must not be nil")
	}
	if s.keys == nil {
		keys, err := signingkey.NewCache()
		if err != nil {
			return nil, fmt.Errorf("failed to create signing key cache: %w", err)
		}
		s.keys = keys
	}
	return s, nil
}

// KeyCache returns the signing key cache used by s
func (s *Signer) KeyCache() *signingkey.Cache {
	return s.keys
}

type callOptions struct {
	signTime    time.Time
	payloadHash string
	maxSkew     time.Duration
}

func (s *Signer) callOptions(options []Option) (*callOptions, error) {
	co := &callOptions{maxSkew: 15 * time.Minute}
	for _, opt := range options {
		var err error
		switch opt.Ident() {
		case identSigningTime{}:
			err = blackmagic.AssignIfCompatible(&co.signTime, opt.Value())
		case identPayloadHash{}:
			err = blackmagic.AssignIfCompatible(&co.payloadHash, opt.Value())
		case identMaxSkew{}:
			err = blackmagic.AssignIfCompatible(&co.maxSkew, opt.Value())
		}
		if err != nil {
			return nil, fmt.Errorf("failed to assign option %s: %w", opt.Ident(), err)
		}
	}
	if co.signTime.IsZero() {
		co.signTime = s.clock.Now()
	}
	return co, nil
}

// Sign signs req in place. It sets X-Amz-Date, X-Amz-Security-Token when
// creds carry a session token, X-Amz-Content-Sha256 when enabled, and
// finally Authorization.
func (s *Signer) Sign(ctx context.Context, req *http.Request, creds aws.Credentials, region, service string, options ...SignOption) (*Result, error) {
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

	payloadHash := co.payloadHash
	if payloadHash == "" {
		payloadHash, err = PayloadHash(req)
		if err != nil {
			return nil, fmt.Errorf("failed to compute payload hash: %w", err)
		}
	}

	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Del(HeaderAuthorization)
	req.Header.Set(HeaderDate, scope.FormatDateTime(co.signTime))
	if creds.SessionToken != "" {
		req.Header.Set(HeaderSecurityToken, creds.SessionToken)
	}
	if s.sendContentSHA256(service) {
		req.Header.Set(HeaderContentSHA256, payloadHash)
	}

	info, err := sigbase.RequestInfoFromHTTP(req)
	if err != nil {
		return nil, fmt.Errorf("failed to extract request info: %w", err)
	}

	res, err := s.sign(ctx, info, creds, co.signTime, region, service, payloadHash)
	if err != nil {
		return nil, err
	}

	res.Authorization = BuildAuthorizationHeader(res.Signature, creds.AccessKeyID, res.Scope, res.SignedHeaders)
	req.Header.Set(HeaderAuthorization, res.Authorization)
	return res, nil
}

// Presign adds the signature to the query of req instead of the headers,
// producing a URL that is valid for expires. Headers already on req are
// signed and must be sent along with the URL.
func (s *Signer) Presign(ctx context.Context, req *http.Request, creds aws.Credentials, region, service string, expires time.Duration, options ...SignOption) (*Result, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("HTTP request with a URL is required")
	}
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	if expires < time.Second || expires > MaxPresignExpiry {
		return nil, &ConfigError{
			Op:  "presign",
			Err: fmt.Errorf("expiry %s must be between 1s and %s", expires, MaxPresignExpiry),
		}
	}

	generic := make([]Option, len(options))
	for i, opt := range options {
		generic[i] = opt
	}
	co, err := s.callOptions(generic)
	if err != nil {
		return nil, err
	}

	payloadHash := co.payloadHash
	if payloadHash == "" {
		if service == "s3" {
			payloadHash = sigbase.UnsignedPayload
		} else if payloadHash, err = PayloadHash(req); err != nil {
			return nil, fmt.Errorf("failed to compute payload hash: %w", err)
		}
	}

	info, err := sigbase.RequestInfoFromHTTP(req)
	if err != nil {
		return nil, fmt.Errorf("failed to extract request info: %w", err)
	}

	sc, err := scope.NewBuilder().Time(co.signTime).Region(region).Service(service).Build()
	if err != nil {
		return nil, &ConfigError{Op: "presign", Err: err}
	}

	// the signed header list is part of the signed query, so find it first
	probe, err := s.canonicalRequest(info, service, payloadHash)
	if err != nil {
		return nil, err
	}

	query := info.Query
	query.Del(QuerySignature)
	query.Set(QueryAlgorithm, Algorithm)
	query.Set(QueryCredential, creds.AccessKeyID+"/"+sc.String())
	query.Set(QueryDate, scope.FormatDateTime(co.signTime))
	query.Set(QueryExpires, strconv.FormatInt(int64(expires/time.Second), 10))
	query.Set(QuerySignedHeaders, probe.SignedHeaders())
	if creds.SessionToken != "" {
		query.Set(QuerySecurityToken, creds.SessionToken)
	} else {
		query.Del(QuerySecurityToken)
	}

	res, err := s.sign(ctx, info, creds, co.signTime, region, service, payloadHash)
	if err != nil {
		return nil, err
	}

	u := *req.URL
	u.RawQuery = res.CanonicalRequest.Query() + "&" + QuerySignature + "=" + res.Signature
	req.URL.RawQuery = u.RawQuery
	res.URL = &u
	return res, nil
}

func (s *Signer) canonicalRequest(info *sigbase.RequestInfo, service, payloadHash string) (*sigbase.CanonicalRequest, error) {
	cr, err := sigbase.Request(info).
		PayloadHash(payloadHash).
		DoubleURLEncode(s.doubleURLEncode(service)).
		NormalizePath(s.normalizeURIPath(service)).
		ExcludeHeaders(s.excluded...).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build canonical request: %w", err)
	}
	return cr, nil
}

func (s *Signer) sign(ctx context.Context, info *sigbase.RequestInfo, creds aws.Credentials, signTime time.Time, region, service, payloadHash string) (*Result, error) {
	sc, err := scope.NewBuilder().Time(signTime).Region(region).Service(service).Build()
	if err != nil {
		return nil, &ConfigError{Op: "sign", Err: err}
	}

	cr, err := s.canonicalRequest(info, service, payloadHash)
	if err != nil {
		return nil, err
	}

	return s.finish(ctx, cr, creds, signTime, sc)
}

func (s *Signer) finish(ctx context.Context, cr *sigbase.CanonicalRequest, creds aws.Credentials, signTime time.Time, sc scope.Scope) (*Result, error) {
	stringToSign := BuildStringToSign(cr.Hash(), Algorithm, signTime, sc)
	key := s.keys.Get(creds, signTime, sc.Region(), sc.Service())

	signature, err := ComputeSignature(stringToSign, key)
	if err != nil {
		return nil, err
	}

	if s.logSigning {
		log.G(ctx).WithFields(log.Fields{
			"canonical_request": cr.String(),
			"string_to_sign":    stringToSign,
			"scope":             sc.String(),
		}).Debug("computed request signature")
	}

	return &Result{
		Signature:        hex.EncodeToString(signature),
		SignedHeaders:    cr.SignedHeaders(),
		Scope:            sc,
		StringToSign:     stringToSign,
		CanonicalRequest: cr,
	}, nil
}

// s3 signs the path as sent, every other service double encodes and
// normalizes it
func (s *Signer) doubleURLEncode(service string) bool {
	if s.doubleEncode != nil {
		return *s.doubleEncode
	}
	return service != "s3"
}

func (s *Signer) normalizeURIPath(service string) bool {
	if s.normalizePath != nil {
		return *s.normalizePath
	}
	return service != "s3"
}

func (s *Signer) sendContentSHA256(service string) bool {
	if s.contentSHA256 != nil {
		return *s.contentSHA256
	}
	return service == "s3"
}

// BuildStringToSign returns ALGORITHM\nTIMESTAMP\nSCOPE\nHASH.
func BuildStringToSign(canonicalRequestHash, algorithm string, t time.Time, sc scope.Scope) string {
	return algorithm + "\n" +
		scope.FormatDateTime(t) + "\n" +
		sc.String() + "\n" +
		canonicalRequestHash
}

// ComputeSignature returns the raw HMAC-SHA256 of stringToSign under key.
func ComputeSignature(stringToSign string, key []byte) ([]byte, error) {
	signature, err := jwsbb.Sign(key, hmacAlgorithm, []byte(stringToSign), nil)
	if err != nil {
		return nil, &ConfigError{Op: "compute signature", Err: err}
	}
	return signature, nil
}

// BuildAuthorizationHeader assembles the Authorization header value.
func BuildAuthorizationHeader(signature, accessKeyID string, sc scope.Scope, signedHeaders string) string {
	var sb strings.Builder
	sb.WriteString(Algorithm)
	sb.WriteString(" Credential=")
	sb.WriteString(accessKeyID)
	sb.WriteByte('/')
	sb.WriteString(sc.String())
	sb.WriteString(", SignedHeaders=")
	sb.WriteString(signedHeaders)
	sb.WriteString(", Signature=")
	sb.WriteString(signature)
	return sb.String()
}

// PayloadHash returns the hex SHA-256 of the request body, honoring an
// X-Amz-Content-Sha256 header that is already set. A body without GetBody
// is read into memory once and replaced, so it can still be sent.
func PayloadHash(req *http.Request) (string, error) {
	if v := req.Header.Get(HeaderContentSHA256); v != "" {
		return v, nil
	}
	if req.Body == nil || req.Body == http.NoBody {
		return sigbase.EmptyPayloadHash, nil
	}

	if req.GetBody == nil {
		buf, err := io.ReadAll(req.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(buf))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
		return sigbase.HashPayload(buf), nil
	}

	body, err := req.GetBody()
	if err != nil {
		return "", fmt.Errorf("failed to obtain request body: %w", err)
	}
	defer body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return "", fmt.Errorf("failed to hash request body: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func validateCredentials(creds aws.Credentials) error {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return &ConfigError{Op: "validate credentials", Err: ErrInvalidCredentials}
	}
	return nil
}
