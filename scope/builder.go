package scope

import (
	"fmt"
	"time"
)

// Builder helps build Scope objects
type Builder struct {
	scope Scope
}

// NewBuilder creates a new Builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Time sets the date stamp from t, converted to UTC
func (b *Builder) Time(t time.Time) *Builder {
	b.scope.date = FormatDate(t)
	return b
}

// DateStamp sets an already formatted yyyyMMdd date stamp
func (b *Builder) DateStamp(date string) *Builder {
	b.scope.date = date
	return b
}

// Region sets the signing region
func (b *Builder) Region(region string) *Builder {
	b.scope.region = region
	return b
}

// Service sets the signing service name
func (b *Builder) Service(service string) *Builder {
	b.scope.service = service
	return b
}

// Build creates the Scope, validating that every element is present
func (b *Builder) Build() (Scope, error) {
	if b.scope.date == "" {
		return Scope{}, fmt.Errorf("date is required")
	}
	if len(b.scope.date) != len(DateFormat) {
		return Scope{}, fmt.Errorf("date %q must be in yyyyMMdd form", b.scope.date)
	}
	if b.scope.region == "" {
		return Scope{}, fmt.Errorf("region is required")
	}
	if b.scope.service == "" {
		return Scope{}, fmt.Errorf("service is required")
	}

	return b.scope, nil
}

// MustBuild creates the Scope and panics if validation fails
func (b *Builder) MustBuild() Scope {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
