package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind splits capability failures into the two retry classes:
// transient failures (network, timeout, rate limit) are retry-eligible,
// permanent ones (bad input, unsupported content) are not.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

type CapabilityError struct {
	Kind ErrorKind
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability error: %v", e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func Transient(err error) error {
	return &CapabilityError{Kind: KindTransient, Err: err}
}

func Permanent(err error) error {
	return &CapabilityError{Kind: KindPermanent, Err: err}
}

// IsPermanent reports whether err was classified as non-retryable.
func IsPermanent(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce) && ce.Kind == KindPermanent
}

// IsTransient reports whether err should be retried. Unclassified errors
// and deadline expiries count as transient so the worker errs on the side
// of retrying infrastructure hiccups.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return true
}
