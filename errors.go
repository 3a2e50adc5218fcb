package agentpay

import (
	"net/http"
	"time"

	"github.com/sumup/agentpay/reason"
)

// ErrorType mirrors the error.type field.
type ErrorType string

const (
	InvalidRequest     ErrorType = "invalid_request"     // Missing or malformed field.
	PaymentRequired    ErrorType = "payment_required"    // An x402 payment must accompany the request.
	RequestRejected    ErrorType = "request_rejected"    // Well-formed but refused by a verification layer.
	ProcessingError    ErrorType = "processing_error"    // Downstream gateway or network failure.
	RateLimitExceeded  ErrorType = "rate_limit_exceeded" // Too many requests.
	ServiceUnavailable ErrorType = "service_unavailable" // Temporary outage or maintenance.
)

// ErrorCode is a machine-readable identifier for the specific failure. Layer
// rejections use their [reason.Code] verbatim.
type ErrorCode string

const (
	MissingAuthorization ErrorCode = "missing_authorization" // Authorization header missing.
	InvalidAuthorization ErrorCode = "invalid_authorization" // Authorization header malformed or API key invalid.
)

// Error represents a structured error payload.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Param   *string   `json:"param,omitempty"`

	status     int           `json:"-"`
	retryAfter time.Duration `json:"-"`
}

// Error makes *Error satisfy the stdlib error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// StatusCode returns the HTTP status sent with the payload.
func (e *Error) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.status
}

// RetryAfter returns the duration clients should wait before retrying.
func (e *Error) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.retryAfter
}

type errorOption func(*Error)

// WithOffendingParam sets the JSON path for the field that triggered the error.
func WithOffendingParam(jsonPath string) errorOption {
	return func(er *Error) {
		er.Param = &jsonPath
	}
}

// WithStatusCode overrides the HTTP status code returned to the client.
func WithStatusCode(status int) errorOption {
	return func(er *Error) {
		er.status = status
	}
}

// WithRetryAfter specifies how long clients should wait before retrying.
func WithRetryAfter(d time.Duration) errorOption {
	return func(er *Error) {
		er.retryAfter = d
	}
}

// WithMessage replaces the registry message.
func WithMessage(message string) errorOption {
	return func(er *Error) {
		if message != "" {
			er.Message = message
		}
	}
}

// NewReasonError builds the payload for a layer rejection. Status and
// message come from the reason registry row.
func NewReasonError(code reason.Code, opts ...errorOption) *Error {
	m, ok := reason.Lookup(code)
	if !ok {
		return NewProcessingError("unknown rejection " + string(code))
	}
	return newError(errorTypeFor(m.HTTPStatus), ErrorCode(code), m.Message, append([]errorOption{WithStatusCode(m.HTTPStatus)}, opts...)...)
}

func errorTypeFor(status int) ErrorType {
	switch {
	case status == http.StatusPaymentRequired:
		return PaymentRequired
	case status == http.StatusTooManyRequests:
		return RateLimitExceeded
	case status == http.StatusServiceUnavailable:
		return ServiceUnavailable
	case status >= 500:
		return ProcessingError
	case status == http.StatusBadRequest:
		return InvalidRequest
	default:
		return RequestRejected
	}
}

// NewInvalidRequestError builds a Bad Request error payload.
func NewInvalidRequestError(message string, opts ...errorOption) *Error {
	return newError(InvalidRequest, ErrorCode(InvalidRequest), message, append([]errorOption{WithStatusCode(http.StatusBadRequest)}, opts...)...)
}

// NewProcessingError builds an Internal Server Error payload.
func NewProcessingError(message string, opts ...errorOption) *Error {
	return newError(ProcessingError, ErrorCode(ProcessingError), message, append([]errorOption{WithStatusCode(http.StatusInternalServerError)}, opts...)...)
}

// NewHTTPError allows callers to control the status code explicitly.
func NewHTTPError(status int, typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(typ, code, message, append(opts, WithStatusCode(status))...)
}

// newError builds a typed error payload.
func newError(typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	errPayload := &Error{
		Type:    typ,
		Code:    code,
		Message: message,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(errPayload)
	}
	return errPayload
}
