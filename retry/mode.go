package retry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Mode selects the retry behavior of a Strategy.
type Mode int

const (
	// ModeStandard retries up to 3 attempts with a shared retry budget.
	ModeStandard Mode = iota
	// ModeLegacy retries up to 4 attempts. Throttling errors do not consume
	// retry budget.
	ModeLegacy
	// ModeAdaptive is ModeStandard plus a client side send rate limiter.
	ModeAdaptive
)

const (
	EnvRetryMode   = "AWS_RETRY_MODE"
	EnvMaxAttempts = "AWS_MAX_ATTEMPTS"
)

func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "standard"
	case ModeLegacy:
		return "legacy"
	case ModeAdaptive:
		return "adaptive"
	default:
		return "unknown(" + strconv.Itoa(int(m)) + ")"
	}
}

// DefaultMaxAttempts returns the total number of attempts, including the
// first one, that m allows by default.
func (m Mode) DefaultMaxAttempts() int {
	if m == ModeLegacy {
		return 4
	}
	return 3
}

// ParseMode parses a mode name, ignoring case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return ModeStandard, nil
	case "legacy":
		return ModeLegacy, nil
	case "adaptive":
		return ModeAdaptive, nil
	default:
		return 0, fmt.Errorf("unknown retry mode %q", s)
	}
}

// ModeFromEnv reads AWS_RETRY_MODE and AWS_MAX_ATTEMPTS. Unset variables
// yield ModeStandard and 0, meaning the mode's default attempt count.
func ModeFromEnv() (Mode, int, error) {
	mode := ModeStandard
	if v, ok := os.LookupEnv(EnvRetryMode); ok && v != "" {
		m, err := ParseMode(v)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to parse %s: %w", EnvRetryMode, err)
		}
		mode = m
	}

	var maxAttempts int
	if v, ok := os.LookupEnv(EnvMaxAttempts); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to parse %s: %w", EnvMaxAttempts, err)
		}
		if n <= 0 {
			return 0, 0, fmt.Errorf("%s must be positive, got %d", EnvMaxAttempts, n)
		}
		maxAttempts = n
	}
	return mode, maxAttempts, nil
}
