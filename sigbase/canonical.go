package sigbase

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	// EmptyPayloadHash is the hex encoded SHA-256 of an empty body.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// UnsignedPayload is used in place of a payload hash when the body
	// is not covered by the signature.
	UnsignedPayload = "UNSIGNED-PAYLOAD"
)

// HashPayload returns the hex encoded SHA-256 of payload.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// CanonicalRequest is the canonical serialization of a single request.
// It is immutable once built.
type CanonicalRequest struct {
	method        string
	uri           string
	query         string
	headers       string
	signedHeaders string
	headerNames   []string
	contentHash   string
}

func (c *CanonicalRequest) Method() string {
	return c.method
}

// URI returns the canonical URI
func (c *CanonicalRequest) URI() string {
	return c.uri
}

// Query returns the canonical query string
func (c *CanonicalRequest) Query() string {
	return c.query
}

// Headers returns the canonical headers block, one "name:value\n" line per
// signed header.
func (c *CanonicalRequest) Headers() string {
	return c.headers
}

// SignedHeaders returns the signed header names joined by ';'
func (c *CanonicalRequest) SignedHeaders() string {
	return c.signedHeaders
}

// HeaderNames returns a copy of the sorted signed header names
func (c *CanonicalRequest) HeaderNames() []string {
	return append([]string(nil), c.headerNames...)
}

func (c *CanonicalRequest) ContentHash() string {
	return c.contentHash
}

func (c *CanonicalRequest) String() string {
	var sb strings.Builder
	sb.Grow(len(c.method) + len(c.uri) + len(c.query) + len(c.headers) + len(c.signedHeaders) + len(c.contentHash) + 5)
	sb.WriteString(c.method)
	sb.WriteByte('\n')
	sb.WriteString(c.uri)
	sb.WriteByte('\n')
	sb.WriteString(c.query)
	sb.WriteByte('\n')
	sb.WriteString(c.headers)
	sb.WriteByte('\n')
	sb.WriteString(c.signedHeaders)
	sb.WriteByte('\n')
	sb.WriteString(c.contentHash)
	return sb.String()
}

// Hash returns the hex encoded SHA-256 of the canonical request string.
func (c *CanonicalRequest) Hash() string {
	return HashPayload([]byte(c.String()))
}

// CanonicalURI returns the canonical form of an escaped request path.
// Segments are normalized on the escaped form, so "a%2F.." is a single
// segment and never a parent reference.
func CanonicalURI(path string, doubleEncode, normalize bool) string {
	if path == "" {
		return "/"
	}
	if normalize {
		path = NormalizePath(path)
	}

	uri := reencodePath(path)
	if doubleEncode {
		uri = EscapeURI(uri, true)
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return uri
}

// CanonicalQuery returns the canonical query string for the given raw
// (decoded) parameters. Parameters with an empty key are dropped, and an
// empty value is kept as "key=".
func CanonicalQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}

	encoded := make(map[string][]string, len(params))
	keys := make([]string, 0, len(params))
	for key, values := range params {
		if key == "" {
			continue
		}
		ek := EscapeURI(key, false)
		if _, ok := encoded[ek]; !ok {
			keys = append(keys, ek)
		}
		if len(values) == 0 {
			encoded[ek] = append(encoded[ek], "")
			continue
		}
		for _, v := range values {
			encoded[ek] = append(encoded[ek], EscapeURI(v, false))
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		values := encoded[key]
		sort.Strings(values)
		for _, v := range values {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(key)
			sb.WriteByte('=')
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// CanonicalHeaders returns the canonical headers block and the sorted
// signed header names. Headers named in exclude are skipped. When include
// is non-nil only the headers it names are used. The host header is
// always taken from host, never from hdr.
func CanonicalHeaders(hdr http.Header, host string, exclude, include map[string]struct{}) (string, []string) {
	// keys differing only in case are merged, so walk them in a fixed
	// order to keep the merged value stable
	rawKeys := make([]string, 0, len(hdr))
	for k := range hdr {
		rawKeys = append(rawKeys, k)
	}
	sort.Strings(rawKeys)

	merged := make(map[string][]string, len(rawKeys)+1)
	names := make([]string, 0, len(rawKeys)+1)
	for _, k := range rawKeys {
		name := strings.ToLower(k)
		if name == "host" {
			continue
		}
		if _, skip := exclude[name]; skip {
			continue
		}
		if include != nil {
			if _, ok := include[name]; !ok {
				continue
			}
		}
		if _, seen := merged[name]; !seen {
			names = append(names, name)
			merged[name] = nil
		}
		for _, v := range hdr[k] {
			merged[name] = append(merged[name], TrimAll(v))
		}
	}
	if host != "" {
		names = append(names, "host")
		merged["host"] = []string{host}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(strings.Join(merged[name], ","))
		sb.WriteByte('\n')
	}
	return sb.String(), names
}
