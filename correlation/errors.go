package correlation

import (
	"errors"
	"fmt"
	"time"
)

type (
	DuplicateKeyError struct {
		Key Key
	}
	TimeoutError struct {
		Key       Key
		EmittedAt time.Time
		Deadline  time.Time
	}
	CancelledError struct {
		Key Key
	}
	AssertionFailure struct {
		Key     Key
		Message string
		Cause   error
	}
	ClockSkewWarning struct {
		Key     Key
		Latency time.Duration
	}
)

var (
	ErrPredicatePanicked = errors.New("verification predicate panicked")
	ErrAssertion         = errors.New("assertion failed")
)

func (e DuplicateKeyError) Error() string {

	return fmt.Sprintf("key '%s' already has an unresolved expectation", e.Key)

}

func (e TimeoutError) Error() string {

	return fmt.Sprintf("no downstream record observed for key '%s' within %s", e.Key, e.Deadline.Sub(e.EmittedAt))

}

func (e CancelledError) Error() string {

	return fmt.Sprintf("expectation for key '%s' cancelled before it could be matched", e.Key)

}

func (e AssertionFailure) Error() string {

	if e.Cause != nil {
		return fmt.Sprintf("verification of key '%s' failed: %s: %v", e.Key, e.Message, e.Cause)
	}

	return fmt.Sprintf("verification of key '%s' failed: %s", e.Key, e.Message)

}

func (e AssertionFailure) Unwrap() error {

	return e.Cause

}

func (e ClockSkewWarning) Error() string {

	return fmt.Sprintf("negative latency of %s computed for key '%s'", e.Latency, e.Key)

}
