// Package skyerr gives every subsystem a shared error taxonomy so callers
// can branch on failure class (retryable queue failure vs. guardrail
// rejection vs. not-found) without string matching.
package skyerr

import "fmt"

// Kind classifies the failure so callers can decide whether to retry,
// surface to a user, or treat as a bug.
type Kind int

const (
	// KindUnknown is the zero value; avoid constructing errors with it.
	KindUnknown Kind = iota
	// KindNotFound means the referenced entity does not exist.
	KindNotFound
	// KindInvalid means the caller supplied malformed or inconsistent input.
	KindInvalid
	// KindConflict means the operation collides with existing state
	// (duplicate delivery, already-claimed job, branch name collision).
	KindConflict
	// KindGuardrail means a safety check refused the operation outright
	// (destructive git command, disallowed branch name, path escape).
	KindGuardrail
	// KindUnauthorized means signature or ticket verification failed.
	KindUnauthorized
	// KindTimeout means an operation exceeded its allotted wall clock.
	KindTimeout
	// KindUnavailable means a dependent subsystem (git, the agent process,
	// the database) could not be reached and the caller may retry later.
	KindUnavailable
	// KindInternal means an invariant was violated; always a bug.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindConflict:
		return "conflict"
	case KindGuardrail:
		return "guardrail"
	case KindUnauthorized:
		return "unauthorized"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is skybridge's standard error envelope: a Kind for programmatic
// branching, an Op naming the failing operation, and an optional wrapped
// cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error carrying cause as its Unwrap target.
func Wrap(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// Is reports whether err is a *Error of the given Kind. Mirrors the
// standard library errors.Is contract via a plain type assertion since
// Kind equality, not identity, is what callers care about.
func Is(err error, kind Kind) bool {
	var se *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			se = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return se != nil && se.Kind == kind
}
