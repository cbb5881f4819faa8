package session

import (
	"errors"

	"github.com/airfi/airfi-portal/internal/router"
)

var (
	// ErrNotFound is returned by a Store when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPaymentNotFound means the referenced payment does not exist.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPlanNotFound means the payment's plan does not resolve.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPaymentNotCompleted means activation was requested for a pending or failed payment.
	ErrPaymentNotCompleted = errors.New("payment not completed")
	// ErrPaymentFinalized means a terminal payment status change was attempted twice.
	ErrPaymentFinalized = errors.New("payment already finalized")
	// ErrInvalidInput covers malformed identifiers and MAC addresses.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoMACAddress means no device is on file, so the router was not called.
	// It is reported alongside a result, never as a failure.
	ErrNoMACAddress = errors.New("no MAC address on file")

	// ErrStoreWrite means a billing-state mutation could not be committed.
	ErrStoreWrite = errors.New("store write failed")
)

// ErrorKind groups errors by how a caller should react.
type ErrorKind string

const (
	// KindNone is a nil error.
	KindNone ErrorKind = ""
	// KindInput is a bad reference; never retry.
	KindInput ErrorKind = "input"
	// KindTransient is safe to retry with backoff.
	KindTransient ErrorKind = "transient"
	// KindRejected needs a configuration or credential fix before retrying.
	KindRejected ErrorKind = "rejected"
	// KindStore is a failed billing-state write.
	KindStore ErrorKind = "store"
)

// Classify maps an error from this package or the router to its kind.
// Unrecognised errors are treated as transient infrastructure failures.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrPlanNotFound),
		errors.Is(err, ErrPaymentNotCompleted),
		errors.Is(err, ErrPaymentFinalized),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotFound):
		return KindInput
	case errors.Is(err, router.ErrRejected), errors.Is(err, router.ErrAuthRejected):
		return KindRejected
	case errors.Is(err, ErrStoreWrite):
		return KindStore
	default:
		return KindTransient
	}
}
