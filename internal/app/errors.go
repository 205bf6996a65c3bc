/**
 * @description
 * Error taxonomy for callback processing. The split matters operationally:
 * parse and classification failures are permanent (redelivery cannot fix a
 * malformed payload, so they are acknowledged and logged), while transient
 * failures (store or broker unavailable) are handed to the retry scheduler.
 * "Already terminal" is deliberately NOT an error: idempotent replay is the
 * expected behavior under at-least-once delivery and callers branch on the
 * TransitionOutcome variants instead.
 */
package app

import (
	"errors"
	"fmt"
)

// ParseError marks a callback payload that cannot be normalized. Permanent:
// never retried.
type ParseError struct {
	Gateway string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed %s callback: %s", e.Gateway, e.Reason)
}

// TransientError wraps a failure that is expected to succeed on retry, such
// as an unreachable database or broker.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be routed to the retry scheduler.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}
