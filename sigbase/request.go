package sigbase

import (
	"fmt"
	"strings"
)

// DefaultExcludedHeaders lists the headers that are never signed. They are
// either rewritten by proxies and transports or carry the signature itself.
var DefaultExcludedHeaders = []string{
	"authorization",
	"connection",
	"x-amzn-trace-id",
	"user-agent",
	"expect",
	"transfer-encoding",
}

// RequestBuilder is a builder for constructing the canonical form of an
// HTTP request.
// cr, err := sigbase.Request(info).PayloadHash(h).Build()
type RequestBuilder struct {
	info         *RequestInfo
	payloadHash  string
	doubleEncode bool
	normalize    bool
	exclude      map[string]struct{}
	include      map[string]struct{}

	err error
}

func Request(info *RequestInfo) *RequestBuilder {
	if info == nil {
		return &RequestBuilder{err: fmt.Errorf("request info is required")}
	}

	exclude := make(map[string]struct{}, len(DefaultExcludedHeaders))
	for _, name := range DefaultExcludedHeaders {
		exclude[name] = struct{}{}
	}
	return &RequestBuilder{
		info:    info,
		exclude: exclude,
	}
}

// PayloadHash sets the hex encoded payload hash, or UnsignedPayload
func (rb *RequestBuilder) PayloadHash(hash string) *RequestBuilder {
	if rb.err != nil {
		return rb
	}
	rb.payloadHash = hash
	return rb
}

// DoubleURLEncode makes the path percent-encoded a second time
func (rb *RequestBuilder) DoubleURLEncode(v bool) *RequestBuilder {
	if rb.err != nil {
		return rb
	}
	rb.doubleEncode = v
	return rb
}

// NormalizePath removes dot segments and redundant slashes from the escaped path
func (rb *RequestBuilder) NormalizePath(v bool) *RequestBuilder {
	if rb.err != nil {
		return rb
	}
	rb.normalize = v
	return rb
}

// ExcludeHeaders adds header names to the exclusion set
func (rb *RequestBuilder) ExcludeHeaders(names ...string) *RequestBuilder {
	if rb.err != nil {
		return rb
	}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "host" {
			rb.err = fmt.Errorf("host header cannot be excluded from signing")
			return rb
		}
		rb.exclude[name] = struct{}{}
	}
	return rb
}

// SignedHeaders restricts the canonical headers to the given names. This
// is what a verifier uses to rebuild a canonical request from the
// SignedHeaders list of a received signature.
func (rb *RequestBuilder) SignedHeaders(names ...string) *RequestBuilder {
	if rb.err != nil {
		return rb
	}
	if len(names) == 0 {
		rb.err = fmt.Errorf("at least one signed header is required")
		return rb
	}
	rb.include = make(map[string]struct{}, len(names))
	for _, name := range names {
		rb.include[strings.ToLower(name)] = struct{}{}
	}
	return rb
}

// Build constructs the canonical request
func (rb *RequestBuilder) Build() (*CanonicalRequest, error) {
	if rb.err != nil {
		return nil, rb.err
	}

	if rb.info.Method == "" {
		return nil, fmt.Errorf("request method is required")
	}
	if rb.payloadHash == "" {
		return nil, fmt.Errorf("payload hash is required")
	}
	if rb.info.Host == "" {
		return nil, fmt.Errorf("request host is required")
	}

	exclude := rb.exclude
	if rb.include != nil {
		// an explicit list wins over the default exclusions
		exclude = nil
	}
	headers, names := CanonicalHeaders(rb.info.Header, rb.info.Host, exclude, rb.include)

	return &CanonicalRequest{
		method:        rb.info.Method,
		uri:           CanonicalURI(rb.info.Path, rb.doubleEncode, rb.normalize),
		query:         CanonicalQuery(rb.info.Query),
		headers:       headers,
		signedHeaders: strings.Join(names, ";"),
		headerNames:   names,
		contentHash:   rb.payloadHash,
	}, nil
}
