package agentpay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Authenticator validates merchant API keys before a request reaches the
// session manager.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) error
}

// AuthenticatorFunc lifts bare functions into [Authenticator].
type AuthenticatorFunc func(ctx context.Context, apiKey string) error

// Authenticate validates the API key using the wrapped function.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, apiKey string) error {
	return f(ctx, apiKey)
}

// bearerToken extracts the API key from an Authorization header value.
func bearerToken(header string) (string, *Error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", NewHTTPError(http.StatusUnauthorized, InvalidRequest, MissingAuthorization, "Authorization header is required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidAuthorization, "Authorization header must be in the format 'Bearer <api_key>'")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidAuthorization, "API key is required")
	}
	return token, nil
}

// authenticationMiddleware guards merchant routes. It is a no-op without an
// [Authenticator].
func (h *Handler) authenticationMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.authenticator == nil {
			next(w, r)
			return
		}
		apiKey, errPayload := bearerToken(r.Header.Get("Authorization"))
		if errPayload != nil {
			writeJSONError(w, errPayload)
			return
		}
		if err := h.cfg.authenticator.Authenticate(r.Context(), apiKey); err != nil {
			var httpErr *Error
			if errors.As(err, &httpErr) {
				writeJSONError(w, httpErr)
				return
			}
			h.cfg.logger.InfoContext(r.Context(), "merchant api key rejected", slog.String("path", r.URL.Path))
			writeJSONError(w, NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidAuthorization, "invalid API key"))
			return
		}
		next(w, r)
	}
}
