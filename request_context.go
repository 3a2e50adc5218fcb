package agentpay

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestContext carries request metadata to handlers and collaborators.
type RequestContext struct {
	// API key used by merchant routes
	//
	// Example: Bearer api_key_123
	Authorization string
	// Information about the client making this request
	//
	// Example: shopping-agent/2.0
	UserAgent string
	// Unique key for each request for tracing purposes. Generated when the
	// client sends none.
	//
	// Example: req_123
	RequestID string
	// RFC 9421 signature parameters presented by an agent
	//
	// Example: sig1=("@authority" "@path");created=1735689600;...
	SignatureInput string
	// RFC 9421 signature value
	//
	// Example: sig1=:MEUCIQ...:
	Signature string
	// Base64 JSON x402 payment payload
	PaymentSignature string
	// API version
	//
	// Example: 2026-03-01
	APIVersion string
	// AgentKeyID is the TAP key id of a verified agent. It is empty until
	// the identity middleware accepts the request.
	AgentKeyID string
}

func requestContextFromRequest(r *http.Request) *RequestContext {
	requestID := strings.TrimSpace(r.Header.Get("Request-Id"))
	if requestID == "" {
		requestID = "req_" + uuid.NewString()
	}
	return &RequestContext{
		Authorization:    strings.TrimSpace(r.Header.Get("Authorization")),
		UserAgent:        strings.TrimSpace(r.Header.Get("User-Agent")),
		RequestID:        requestID,
		SignatureInput:   strings.TrimSpace(r.Header.Get("Signature-Input")),
		Signature:        strings.TrimSpace(r.Header.Get("Signature")),
		PaymentSignature: strings.TrimSpace(r.Header.Get("Payment-Signature")),
		APIVersion:       strings.TrimSpace(r.Header.Get("API-Version")),
	}
}

type requestContextKey struct{}

func contextWithRequestContext(ctx context.Context, requestCtx *RequestContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if requestCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, requestContextKey{}, requestCtx)
}

// RequestContextFromContext extracts the HTTP request metadata previously stored in the context.
func RequestContextFromContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return nil
	}
	if requestCtx, ok := ctx.Value(requestContextKey{}).(*RequestContext); ok {
		return requestCtx
	}
	return nil
}
