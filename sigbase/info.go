package sigbase

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// RequestInfo contains the discrete parts of a request that go into the
// canonical request.
type RequestInfo struct {
	Method string
	Scheme string
	// Host is the value signed as the host header, without a default port.
	Host string
	// Path is the escaped request path as sent on the wire, so that an
	// encoded "%2F" stays part of its segment.
	Path   string
	Query  url.Values
	Header http.Header
}

// RequestInfoFromHTTP extracts RequestInfo from an http.Request
func RequestInfoFromHTTP(req *http.Request) (*RequestInfo, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("HTTP request with a URL is required")
	}

	query, err := url.ParseQuery(req.URL.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query %q: %w", req.URL.RawQuery, err)
	}

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	path := req.URL.EscapedPath()
	if req.URL.Opaque != "" {
		// "//host/path" style opaque URLs carry the escaped path after the host
		if parts := strings.SplitN(req.URL.Opaque, "/", 4); len(parts) == 4 {
			path = "/" + parts[3]
		}
	}

	return &RequestInfo{
		Method: req.Method,
		Scheme: req.URL.Scheme,
		Host:   SanitizeHost(req.URL.Scheme, host),
		Path:   path,
		Query:  query,
		Header: req.Header,
	}, nil
}

// SanitizeHost drops the port from hostport when it is the default port
// for scheme.
func SanitizeHost(scheme, hostport string) string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil || port == "" {
		return hostport
	}
	if !isDefaultPort(scheme, port) {
		return hostport
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func isDefaultPort(scheme string, port string) bool {
	switch strings.ToLower(scheme) {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	default:
		return false
	}
}
