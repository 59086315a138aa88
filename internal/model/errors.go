package model

import (
	"errors"
	"fmt"
)

// Source client failure classes. Timeout and connection failures are
// retried on the next cycle with the cursor unchanged; auth and
// validation failures stop the affected collector for good.
var (
	ErrSourceTimeout    = errors.New("source: request timed out")
	ErrSourceConnection = errors.New("source: connection failed")
	ErrSourceAuth       = errors.New("source: authentication failed")
	ErrSourceValidation = errors.New("source: request rejected")
)

// Sink client failure classes.
var (
	// ErrSinkTransient marks a delivery failure worth retrying with
	// backoff (network error, server overload).
	ErrSinkTransient = errors.New("sink: transient failure")

	// ErrSinkRejected marks a batch the sink will never accept
	// (malformed point). Retrying cannot help.
	ErrSinkRejected = errors.New("sink: batch rejected")
)

// IsRetryableFetch reports whether a fetch error should be retried on
// the next collection cycle.
func IsRetryableFetch(err error) bool {
	return errors.Is(err, ErrSourceTimeout) || errors.Is(err, ErrSourceConnection)
}

// IsFatalSource reports whether a fetch error must stop the collector
// that hit it. Other collectors are unaffected.
func IsFatalSource(err error) bool {
	return errors.Is(err, ErrSourceAuth) || errors.Is(err, ErrSourceValidation)
}

// ConfigError is a pre-flight configuration failure. It blocks startup
// and is never produced after collection begins.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Configf builds a ConfigError for one field.
func Configf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// FatalDeliveryError records a batch dropped after retry exhaustion or
// rejection. The summary carries enough context to replay the range
// manually via the backfill start time.
type FatalDeliveryError struct {
	Points   int
	Attempts int
	First    string // measurement of the first point, for log context
	Err      error
}

func (e *FatalDeliveryError) Error() string {
	return fmt.Sprintf("delivery failed permanently after %d attempt(s), dropped %d point(s) (first measurement %q): %v",
		e.Attempts, e.Points, e.First, e.Err)
}

func (e *FatalDeliveryError) Unwrap() error { return e.Err }
