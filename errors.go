package sigv4

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when credentials lack an access key
	// id or a secret access key.
	ErrInvalidCredentials = errors.New("credentials must have an access key id and a secret access key")

	// ErrMalformedAuthorization is returned when the Authorization header
	// cannot be parsed.
	ErrMalformedAuthorization = errors.New("malformed authorization header")

	// ErrSignatureMismatch is returned when a received signature does not
	// match the recomputed one.
	ErrSignatureMismatch = errors.New("signature does not match")

	// ErrRequestExpired is returned when X-Amz-Date is too far from the
	// verifier's clock.
	ErrRequestExpired = errors.New("request signing time is outside the allowed window")
)

// ConfigError reports a problem that retrying cannot fix: bad credentials,
// an out of range presign expiry, or an unusable crypto primitive.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sigv4: %s: %s", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
