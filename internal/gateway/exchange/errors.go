package exchange

import (
	"errors"
	"fmt"
)

// Kind classifies a venue error so callers can pick a retry policy without
// parsing venue-specific codes or messages.
type Kind int

const (
	// KindUnclassified is anything the gateway could not map; callers treat
	// it as non-retryable within the current operation.
	KindUnclassified Kind = iota
	// KindTransient covers network failures, 5xx responses and rate limits.
	KindTransient
	// KindAuth covers invalid or insufficient API credentials.
	KindAuth
	// KindInsufficientFunds covers margin/balance rejections.
	KindInsufficientFunds
	// KindInvalidRequest covers parameter, precision and filter rejections.
	KindInvalidRequest
	// KindNotFound covers lookups for orders the venue does not know.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	default:
		return "unclassified"
	}
}

// Error wraps a venue failure with its classification and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches a classification to err. A nil err passes through.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from an error chain.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnclassified
}

// IsTransient reports whether the error is worth retrying after a delay.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsAuth reports whether the error indicates bad credentials.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsInsufficientFunds reports whether the venue rejected for lack of margin.
func IsInsufficientFunds(err error) bool { return KindOf(err) == KindInsufficientFunds }

// IsNotFound reports whether the venue does not know the referenced order.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
