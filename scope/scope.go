// Package scope describes the credential scope that binds a signature to a
// single UTC date, region and service.
package scope

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Terminator is the fixed final element of every credential scope.
	Terminator = "aws4_request"

	// DateFormat is the layout of the date stamp inside a scope.
	DateFormat = "20060102"

	// DateTimeFormat is the layout of X-Amz-Date.
	DateTimeFormat = "20060102T150405Z"
)

// Scope represents a `date/region/service/aws4_request` credential scope.
type Scope struct {
	date    string
	region  string
	service string
}

// Date returns the yyyyMMdd date stamp
func (s Scope) Date() string {
	return s.date
}

func (s Scope) Region() string {
	return s.region
}

func (s Scope) Service() string {
	return s.service
}

// IsZero reports whether s was never built.
func (s Scope) IsZero() bool {
	return s.date == "" && s.region == "" && s.service == ""
}

func (s Scope) String() string {
	return s.date + "/" + s.region + "/" + s.service + "/" + Terminator
}

// FormatDate returns the yyyyMMdd form of t in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

// FormatDateTime returns the yyyyMMdd'T'HHmmss'Z' form of t in UTC.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(DateTimeFormat)
}

// ParseDateTime parses a value in the X-Amz-Date format.
func ParseDateTime(s string) (time.Time, error) {
	t, err := time.Parse(DateTimeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date time %q: %w", s, err)
	}
	return t, nil
}

// Parse parses the scope portion of a credential, i.e. everything after
// the access key id.
func Parse(s string) (Scope, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return Scope{}, fmt.Errorf("scope %q must have 4 elements, got %d", s, len(parts))
	}
	if parts[3] != Terminator {
		return Scope{}, fmt.Errorf("scope %q must end with %q", s, Terminator)
	}
	if _, err := time.Parse(DateFormat, parts[0]); err != nil {
		return Scope{}, fmt.Errorf("invalid scope date %q: %w", parts[0], err)
	}

	return NewBuilder().
		DateStamp(parts[0]).
		Region(parts[1]).
		Service(parts[2]).
		Build()
}
