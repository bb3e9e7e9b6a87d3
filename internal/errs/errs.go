// Package errs defines the failure kinds a wake cycle distinguishes.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the control loop.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork covers connect/fetch failures and non-success statuses.
	KindNetwork
	// KindParseShortfall means fewer records were extracted than required.
	KindParseShortfall
	// KindRetriesExhausted wraps the last failure once the attempt budget is spent.
	KindRetriesExhausted
	// KindActuation is a relay write error. Never retried.
	KindActuation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network_failure"
	case KindParseShortfall:
		return "parse_shortfall"
	case KindRetriesExhausted:
		return "retries_exhausted"
	case KindActuation:
		return "actuation_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrNetwork          = errors.New("network failure")
	ErrParseShortfall   = errors.New("parse shortfall")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrActuation        = errors.New("actuation failure")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindParseShortfall:
		return ErrParseShortfall
	case KindRetriesExhausted:
		return ErrRetriesExhausted
	case KindActuation:
		return ErrActuation
	default:
		return nil
	}
}

// Error is a classified failure of one operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Network tags err as a network failure of op.
func Network(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// Status reports a non-success HTTP status as a network failure.
func Status(op string, code int) error {
	return &Error{Kind: KindNetwork, Op: op, Err: fmt.Errorf("HTTP status %d", code)}
}

// Shortfall reports that only got of want values were extracted.
func Shortfall(op string, got, want int) error {
	return &Error{Kind: KindParseShortfall, Op: op, Err: fmt.Errorf("only %d of %d values found", got, want)}
}

// Invalid reports an extracted value that could not be used.
func Invalid(op string, err error) error {
	return &Error{Kind: KindParseShortfall, Op: op, Err: err}
}

// Exhausted wraps the last failure after attempts tries.
func Exhausted(op string, attempts int, last error) error {
	return &Error{Kind: KindRetriesExhausted, Op: op, Err: fmt.Errorf("gave up after %d attempts: %w", attempts, last)}
}

// Actuation tags a relay write error.
func Actuation(op string, err error) error {
	return &Error{Kind: KindActuation, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
