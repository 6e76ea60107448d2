package signingkey

import "github.com/lestrrat-go/option"

type Option = option.Interface

type identCapacity struct{}

func (identCapacity) String() string { return "WithCapacity" }

// WithCapacity sets the maximum number of keys held by the cache
func WithCapacity(n int) Option {
	return option.New(identCapacity{}, n)
}
