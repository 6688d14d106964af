package shared

import "errors"

// Kind classifies a failure for transport mapping.
type Kind string

const (
	KindValidation  Kind = "validation_failure"
	KindState       Kind = "state_violation"
	KindNotFound    Kind = "not_found"
	KindInvariant   Kind = "invariant_breach"
	KindIntegration Kind = "integration_failure"
	KindInternal    Kind = "internal"
)

// Error is a classified domain error. Sentinels are declared per package
// with NewError and compared with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// NewError declares a classified error.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = NewError(KindNotFound, "not_found", "not found")
	// ErrUnauthenticated occurs when no caller scope could be resolved.
	ErrUnauthenticated = NewError(KindValidation, "unauthenticated", "caller scope missing")
	// ErrForbidden occurs when the caller's division does not own the record.
	ErrForbidden = NewError(KindState, "forbidden", "record outside caller division")
)

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
