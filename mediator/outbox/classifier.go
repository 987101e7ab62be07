package outbox

// RetryClassifier determines whether a delivery error should not be
// retried. Non-retryable entries transition to INVALID instead of FAILED,
// keeping permanently broken payloads out of the retry loop.
type RetryClassifier interface {
	IsNonRetryable(err error) bool
}

// RetryClassifierFunc adapts a function to RetryClassifier.
type RetryClassifierFunc func(err error) bool

// IsNonRetryable invokes the function.
func (fn RetryClassifierFunc) IsNonRetryable(err error) bool {
	if fn == nil {
		return false
	}

	return fn(err)
}
