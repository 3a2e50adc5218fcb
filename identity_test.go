package agentpay

import (
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/tap"
)

const testAgentKeyID = "agent-7-tap"

func identityStack(t *testing.T) (*stack, ed25519.PrivateKey, *string) {
	t.Helper()
	var agentKeyID string
	capture := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			next(w, r)
			if requestCtx := RequestContextFromContext(r.Context()); requestCtx != nil {
				agentKeyID = requestCtx.AgentKeyID
			}
		}
	}
	s := newStack(t, stackOptions{handlerOpts: []Option{WithMiddleware(capture)}})
	return s, s.agentSK, &agentKeyID
}

func signAgentRequest(t *testing.T, key ed25519.PrivateKey, r *http.Request, nonce string) {
	t.Helper()
	sigInput, sig, err := tap.SignEd25519(key, tap.SignatureInput{
		CoveredComponents: []string{tap.ComponentAuthority, tap.ComponentPath},
		Created:           testNow.Add(-time.Minute),
		Expires:           testNow.Add(4 * time.Minute),
		Nonce:             nonce,
		KeyID:             testAgentKeyID,
		Tag:               tap.TagBrowserAuth,
	}, tap.RequestFromHTTP(r, ""))
	if err != nil {
		t.Fatalf("sign request: %v", err)
	}
	r.Header.Set("Signature-Input", sigInput)
	r.Header.Set("Signature", sig)
}

func TestIdentityMiddlewareGuardsAgentRoutes(t *testing.T) {
	t.Parallel()

	s, key, agentKeyID := identityStack(t)
	session := s.createSession(t, 100)
	path := "http://merchant.example/checkout_sessions/" + session.ID

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	expectError(t, rec, reason.TAPHeaderMissing)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	signAgentRequest(t, key, req, "nonce-1")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", rec.Code, rec.Body.String())
	}
	if *agentKeyID != testAgentKeyID {
		t.Fatalf("expected agent key id %s got %q", testAgentKeyID, *agentKeyID)
	}

	replayed := httptest.NewRequest(http.MethodGet, path, nil)
	replayed.Header = req.Header.Clone()
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, replayed)
	expectError(t, rec, reason.TAPNonceReplayed)
}

func TestIdentityMiddlewareLeavesMerchantRoutes(t *testing.T) {
	t.Parallel()

	s, _, _ := identityStack(t)
	rec := s.do(t, http.MethodPost, "/checkout_sessions", createSessionBody(), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", rec.Code, rec.Body.String())
	}
}
