package agentpay

import (
	"log/slog"
	"net/http"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/tap"
)

// identityMiddleware rejects agent requests whose TAP signature does not
// verify. Accepted requests expose the key id through [RequestContext].
func (h *Handler) identityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := h.identity.Verify(r.Context(), tap.RequestFromHTTP(r, r.Header.Get("API-Version")))
		h.cfg.metrics.Decision(reason.LayerTAP, result.Decision)
		if !result.Accepted {
			h.cfg.logger.InfoContext(r.Context(), "agent identity rejected",
				slog.String("layer", string(reason.LayerTAP)),
				slog.String("reason", string(result.Reason)),
				slog.String("path", r.URL.Path),
			)
			writeJSONError(w, NewReasonError(result.Reason))
			return
		}
		if requestCtx := RequestContextFromContext(r.Context()); requestCtx != nil {
			requestCtx.AgentKeyID = result.SignatureInput.KeyID
		}
		next(w, r)
	}
}
