// Package schederr classifies the error kinds from the scheduler's error
// handling design: transient persistence failures that are retried,
// driver unavailability that is logged and dropped, and fatal invariant
// violations that must crash the loop. Unknown-agent callbacks have no
// error type here; their handlers drop them silently.
package schederr

import "errors"

// TransientPersistence wraps a database-layer error that is safe to
// retry (lock timeouts, connection resets during
// schedule_job_executions).
type TransientPersistence struct {
	Err error
}

func (e *TransientPersistence) Error() string { return "transient persistence error: " + e.Err.Error() }
func (e *TransientPersistence) Unwrap() error { return e.Err }

// Retryable implements retry.Retryable: every TransientPersistence
// error is, by construction, safe to retry.
func (e *TransientPersistence) Retryable() bool { return true }

// NewTransientPersistence wraps err as a TransientPersistence error.
func NewTransientPersistence(err error) error {
	return &TransientPersistence{Err: err}
}

// IsTransientPersistence reports whether err (or anything it wraps) is a
// TransientPersistence error.
func IsTransientPersistence(err error) bool {
	var t *TransientPersistence
	return errors.As(err, &t)
}

// DriverUnavailable wraps a failed launch/decline call to the resource
// broker driver. The loop logs it, drops the affected offers, and
// continues.
type DriverUnavailable struct {
	Err error
}

func (e *DriverUnavailable) Error() string { return "resource broker driver unavailable: " + e.Err.Error() }
func (e *DriverUnavailable) Unwrap() error { return e.Err }

// NewDriverUnavailable wraps err as a DriverUnavailable error.
func NewDriverUnavailable(err error) error {
	return &DriverUnavailable{Err: err}
}

// Fatal marks a programming-invariant violation (e.g. negative available
// resources after a reservation). The loop logs and exits; an external
// supervisor is expected to restart the process.
type Fatal struct {
	Err error
}

func (e *Fatal) Error() string { return "fatal scheduler invariant violation: " + e.Err.Error() }
func (e *Fatal) Unwrap() error { return e.Err }

// NewFatal wraps err as a Fatal error.
func NewFatal(err error) error {
	return &Fatal{Err: err}
}

// IsFatal reports whether err (or anything it wraps) is a Fatal error.
func IsFatal(err error) bool {
	var f *Fatal
	return errors.As(err, &f)
}
