package retry

// TokenAcquisitionError is returned when a call may not be attempted
// again. Token carries the final state. Err is the last failure, or
// ratelimit.ErrSendSlotUnavailable when the rate limiter failed fast.
type TokenAcquisitionError struct {
	Token   *Token
	Err     error
	message string
}

func (e *TokenAcquisitionError) Error() string {
	if e.Err == nil {
		return e.message
	}
	return e.message + ": " + e.Err.Error()
}

func (e *TokenAcquisitionError) Unwrap() error {
	return e.Err
}
