package reason

import (
	"errors"
	"fmt"
)

// Decision is the accept/reject outcome every verifier returns. A zero
// Decision is a rejection, so a forgotten assignment can never accept.
type Decision struct {
	Accepted bool `json:"accepted"`
	Reason   Code `json:"reason_code,omitempty"`
}

// Accept builds an accepting decision.
func Accept() Decision {
	return Decision{Accepted: true}
}

// Reject builds a rejecting decision for code.
func Reject(code Code) Decision {
	return Decision{Reason: code}
}

// Mapping returns the registry row of a rejection.
func (d Decision) Mapping() (Mapping, bool) {
	if d.Accepted || d.Reason == "" {
		return Mapping{}, false
	}
	return Lookup(d.Reason)
}

// Error is an operational error tagged with a reason code. Stateful
// operations (session transitions, settlement lookups) return it where a
// verifier would return a [Decision].
type Error struct {
	Code    Code
	Message string
}

// NewError builds an *Error. An empty message falls back to the registry text.
func NewError(code Code, message string) *Error {
	if message == "" {
		message = Get(code).Message
	}
	return &Error{Code: code, Message: message}
}

// Errorf formats the message of a new *Error.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *Error with the same code, so sentinel values can be
// compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the reason code carried by err, if any.
func CodeOf(err error) (Code, bool) {
	var re *Error
	if errors.As(err, &re) && re != nil {
		return re.Code, true
	}
	return "", false
}
