package sigbase

import (
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// shouldEscape reports whether c must be percent-encoded. Only the RFC 3986
// unreserved set is left alone, plus '/' when encoding a path.
func shouldEscape(c byte, keepSlash bool) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return false
	}
	switch c {
	case '-', '_', '.', '~':
		return false
	case '/':
		return !keepSlash
	}
	return true
}

// EscapeURI percent-encodes every byte of s outside the unreserved set,
// using upper case hex digits. A space becomes %20, never '+'. When
// keepSlash is true '/' is left as is.
func EscapeURI(s string, keepSlash bool) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i], keepSlash) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !shouldEscape(c, keepSlash) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperhex[c>>4])
		sb.WriteByte(upperhex[c&15])
	}
	return sb.String()
}

// reencodePath decodes each segment of an escaped path and encodes it again
// with EscapeURI, so only unreserved bytes stay literal. A segment that is
// not a valid escape sequence is taken as already decoded.
func reencodePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if dec, err := url.PathUnescape(seg); err == nil {
			seg = dec
		}
		segments[i] = EscapeURI(seg, false)
	}
	return strings.Join(segments, "/")
}

// NormalizePath removes "." and ".." segments and collapses runs of
// slashes. The result always starts with '/', and ends with '/' only when
// p did.
func NormalizePath(p string) string {
	segments := make([]string, 0, strings.Count(p, "/")+1)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, seg)
		}
	}

	out := "/" + strings.Join(segments, "/")
	// a trailing "." or ".." leaves a slash behind after dot removal. It is
	// only kept when the caller's path ended in one.
	if len(segments) > 0 && strings.HasSuffix(p, "/") {
		out += "/"
	}
	return out
}

func isCanonicalSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// TrimAll trims leading and trailing whitespace and collapses internal
// runs of whitespace into a single space.
func TrimAll(s string) string {
	return strings.Join(strings.FieldsFunc(s, isCanonicalSpace), " ")
}
