package agentpay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sumup/agentpay/ap2"
	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/tap"
	"github.com/sumup/agentpay/ucp"
	"github.com/sumup/agentpay/x402"
)

// PaymentTerms describe where x402 payments for checkout sessions go.
type PaymentTerms struct {
	PayeeAddress string
	Network      string
	TokenAddress string
	// ChallengeTTL overrides [x402.DefaultChallengeTTL] when positive.
	ChallengeTTL time.Duration
}

// HandlerConfig wires the stack layers into a [Handler].
type HandlerConfig struct {
	Sessions *ucp.Manager
	// Identity checks the TAP signature of every agent route.
	Identity *tap.Verifier
	// Mandates checks the AP2 chain a payment challenge is issued for.
	Mandates   *ap2.ChainVerifier
	Issuer     *x402.Issuer
	Challenges x402.ChallengeStore
	Settler    *x402.Settler
	Terms      PaymentTerms
}

// Validate reports missing collaborators.
func (c HandlerConfig) Validate() error {
	var errs []error
	if c.Sessions == nil {
		errs = append(errs, errors.New("session manager is required"))
	}
	if c.Identity == nil {
		errs = append(errs, errors.New("identity verifier is required"))
	}
	if c.Mandates == nil {
		errs = append(errs, errors.New("mandate verifier is required"))
	}
	if c.Issuer == nil {
		errs = append(errs, errors.New("challenge issuer is required"))
	}
	if c.Challenges == nil {
		errs = append(errs, errors.New("challenge store is required"))
	}
	if c.Settler == nil {
		errs = append(errs, errors.New("settler is required"))
	}
	if c.Terms.PayeeAddress == "" || c.Terms.Network == "" || c.Terms.TokenAddress == "" {
		errs = append(errs, errors.New("payment terms require payee address, network and token address"))
	}
	return errors.Join(errs...)
}

// Handler exposes checkout sessions, mandate verification and x402 payment
// over HTTP.
type Handler struct {
	sessions   *ucp.Manager
	identity   *tap.Verifier
	mandates   *ap2.ChainVerifier
	issuer     *x402.Issuer
	challenges x402.ChallengeStore
	settler    *x402.Settler
	terms      PaymentTerms
	mux        *http.ServeMux
	handler    http.Handler
	cfg        config
}

// NewHandler builds a [Handler] backed by net/http's ServeMux.
func NewHandler(hc HandlerConfig, opts ...Option) (*Handler, error) {
	if err := hc.Validate(); err != nil {
		return nil, fmt.Errorf("agentpay: invalid handler config: %w", err)
	}
	cfg := config{
		settleTimeout: DefaultSettleTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	h := &Handler{
		sessions:   hc.Sessions,
		identity:   hc.Identity,
		mandates:   hc.Mandates,
		issuer:     hc.Issuer,
		challenges: hc.Challenges,
		settler:    hc.Settler,
		terms:      hc.Terms,
		mux:        http.NewServeMux(),
		cfg:        cfg,
	}
	h.registerRoutes()
	h.handler = cfg.metrics.InstrumentHandler("agentpay", h.mux)
	return h, nil
}

// ServeHTTP satisfies http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestCtx := requestContextFromRequest(r)
	ctx := contextWithRequestContext(r.Context(), requestCtx)
	h.handler.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) registerRoutes() {
	merchant := append([]Middleware{h.authenticationMiddleware}, h.cfg.middleware...)
	agent := append([]Middleware{h.identityMiddleware}, h.cfg.middleware...)

	h.mux.HandleFunc("POST /checkout_sessions", applyMiddleware(h.handleCreate, merchant...))
	h.mux.HandleFunc("POST /checkout_sessions/{id}", applyMiddleware(h.handleUpdate, merchant...))
	h.mux.HandleFunc("POST /checkout_sessions/{id}/escalate", applyMiddleware(h.handleEscalate, merchant...))
	h.mux.HandleFunc("POST /checkout_sessions/{id}/approve", applyMiddleware(h.handleApprove, merchant...))
	h.mux.HandleFunc("POST /checkout_sessions/{id}/cancel", applyMiddleware(h.handleCancel, merchant...))

	h.mux.HandleFunc("GET /checkout_sessions/{id}", applyMiddleware(h.handleGet, agent...))
	h.mux.HandleFunc("POST /checkout_sessions/{id}/pay", applyMiddleware(h.handlePay, agent...))
	h.mux.HandleFunc("POST /ap2/mandates/verify", applyMiddleware(h.handleVerifyMandates, agent...))
	h.mux.HandleFunc("GET /x402/settlements/{payment_id}", applyMiddleware(h.handleGetSettlement, agent...))

	h.mux.HandleFunc("GET /reason_codes", applyMiddleware(h.handleReasonCodes, h.cfg.middleware...))
}

// UpdateSessionRequest replaces the line items of an Open session.
type UpdateSessionRequest struct {
	LineItems []ucp.LineItem `json:"line_items"`
}

// EscalateRequest escalates a session. An empty reason asks the configured
// escalation policy instead of escalating unconditionally.
type EscalateRequest struct {
	Reason string `json:"reason,omitempty"`
}

// PayRequest is the optional body of the pay route.
type PayRequest struct {
	Mandates *ap2.VerifyRequest `json:"mandates,omitempty"`
}

// MandateVerification is returned by the mandate verification route. A
// successful verification consumes the nonces of the chain.
type MandateVerification struct {
	reason.Decision
	AgentID     string `json:"agent_id,omitempty"`
	AmountMinor int64  `json:"amount_minor,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req ucp.CreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	session, err := h.sessions.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	session, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	var req UpdateSessionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	session, err := h.sessions.UpdateItems(r.Context(), id, req.LineItems)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	var req EscalateRequest
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	var (
		session *ucp.Session
		err     error
	)
	if why := strings.TrimSpace(req.Reason); why != "" {
		session, err = h.sessions.Escalate(r.Context(), id, why)
	} else {
		session, _, err = h.sessions.EvaluateEscalation(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	session, err := h.sessions.Approve(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	session, err := h.sessions.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleVerifyMandates runs the full chain check, replay included, so a chain
// verified here is spent.
func (h *Handler) handleVerifyMandates(w http.ResponseWriter, r *http.Request) {
	var req ap2.VerifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	result, ok := h.verifyMandates(r.Context(), req)
	if !ok {
		writeJSONError(w, NewReasonError(result.Reason))
		return
	}
	writeJSON(w, http.StatusOK, MandateVerification{
		Decision:    result.Decision,
		AgentID:     result.Chain.Payment.Issuer,
		AmountMinor: result.Chain.Payment.AmountMinor,
	})
}

func (h *Handler) verifyMandates(ctx context.Context, req ap2.VerifyRequest) (ap2.Result, bool) {
	result := h.mandates.VerifyRequest(ctx, req)
	h.cfg.metrics.Decision(reason.LayerAP2, result.Decision)
	return result, result.Accepted
}

// handlePay runs the x402 exchange for a checkout session. Without a
// Payment-Signature header it answers 402 with a fresh challenge for the
// session total; with one it verifies the payload, settles it and completes
// the session.
func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	if header := strings.TrimSpace(r.Header.Get(x402.HeaderPaymentSignature)); header != "" {
		h.settlePayment(w, r, id, header)
		return
	}
	h.requirePayment(w, r, id)
}

func (h *Handler) requirePayment(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	var req PayRequest
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	if req.Mandates == nil {
		writeJSONError(w, NewReasonError(reason.AP2ChainIncomplete, WithOffendingParam("$.mandates")))
		return
	}
	result, ok := h.verifyMandates(ctx, *req.Mandates)
	if !ok {
		writeJSONError(w, NewReasonError(result.Reason))
		return
	}
	mandate := result.Chain.Payment

	session, escalated, err := h.sessions.EvaluateEscalation(ctx, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := payable(session); err != nil {
		if escalated {
			h.cfg.logger.InfoContext(ctx, "checkout session escalated before payment",
				slog.String("session_id", id),
				slog.String("reason", session.EscalationReason),
			)
		}
		writeServiceError(w, err)
		return
	}
	total, err := session.TotalMinor()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !strings.EqualFold(mandate.MerchantDomain, session.Merchant.Domain) {
		writeJSONError(w, NewReasonError(reason.AP2DomainNotAuthorized, WithMessage("payment mandate names a different merchant domain")))
		return
	}
	if mandate.AmountMinor != total {
		writeJSONError(w, NewReasonError(reason.X402AmountMismatch, WithMessage("checkout session total does not match the payment mandate amount")))
		return
	}
	challenge, err := h.issuer.Issue(ctx, x402.ChallengeParams{
		ResourceURI:  r.URL.Path,
		Amount:       strconv.FormatInt(total, 10),
		Currency:     session.Currency,
		PayeeAddress: h.terms.PayeeAddress,
		Network:      h.terms.Network,
		TokenAddress: h.terms.TokenAddress,
		TTL:          h.terms.ChallengeTTL,
	})
	if err != nil {
		h.cfg.logger.ErrorContext(ctx, "issue payment challenge", slog.String("session_id", id), slog.String("error", err.Error()))
		writeServiceError(w, err)
		return
	}
	encoded, err := x402.EncodeChallenge(challenge)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set(x402.HeaderPaymentRequired, encoded)
	writeJSON(w, http.StatusPaymentRequired, challenge)
}

func (h *Handler) settlePayment(w http.ResponseWriter, r *http.Request, id, header string) {
	ctx := r.Context()
	payload, err := x402.DecodePayload(header)
	if err != nil {
		h.cfg.metrics.Decision(reason.LayerX402, reason.Reject(reason.X402PayloadMalformed))
		writeServiceError(w, err)
		return
	}
	challenge, err := h.challenges.Get(ctx, payload.PaymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if existing, err := h.settler.CheckSettlement(ctx, challenge.PaymentID); err == nil {
		h.cfg.metrics.Decision(reason.LayerX402, reason.Reject(reason.X402ChallengeAlreadyUsed))
		if err := setPaymentResponse(w, existing); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSONError(w, NewReasonError(reason.X402ChallengeAlreadyUsed))
		return
	} else if !errors.Is(err, x402.ErrSettlementNotFound) {
		writeServiceError(w, err)
		return
	}
	if challenge.ResourceURI != r.URL.Path {
		h.cfg.metrics.Decision(reason.LayerX402, reason.Reject(reason.X402PaymentIDMismatch))
		writeJSONError(w, NewReasonError(reason.X402PaymentIDMismatch, WithMessage("payment challenge was issued for a different resource")))
		return
	}

	session, err := h.sessions.Get(ctx, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := payable(session); err != nil {
		writeServiceError(w, err)
		return
	}
	total, err := session.TotalMinor()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if strconv.FormatInt(total, 10) != challenge.Amount {
		h.cfg.metrics.Decision(reason.LayerX402, reason.Reject(reason.X402AmountMismatch))
		writeJSONError(w, NewReasonError(reason.X402AmountMismatch, WithMessage("checkout session total changed since the challenge was issued")))
		return
	}

	record, err := h.settler.Verify(ctx, challenge, payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.cfg.metrics.Decision(reason.LayerX402, settlementDecision(record))
	if record.Status == x402.StatusFailed {
		h.writeSettlementError(w, record)
		return
	}

	settleCtx, cancel := context.WithTimeout(ctx, h.cfg.settleTimeout)
	defer cancel()
	record, err = h.settler.Settle(settleCtx, record.PaymentID)
	if err != nil {
		if errors.Is(err, x402.ErrCannotSettle) {
			writeJSONError(w, NewReasonError(reason.X402ChallengeAlreadyUsed))
			return
		}
		h.cfg.logger.ErrorContext(ctx, "settle payment", slog.String("payment_id", payload.PaymentID), slog.String("error", err.Error()))
		writeServiceError(w, err)
		return
	}
	if record.Status != x402.StatusSettled {
		h.writeSettlementError(w, record)
		return
	}

	if err := setPaymentResponse(w, record); err != nil {
		writeServiceError(w, err)
		return
	}
	completed, err := h.sessions.Complete(x402.ContextWithSettlement(ctx, record), id, record.PaymentID)
	if err != nil {
		h.cfg.logger.ErrorContext(ctx, "settled payment could not complete checkout session",
			slog.String("session_id", id),
			slog.String("payment_id", record.PaymentID),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completed)
}

func (h *Handler) writeSettlementError(w http.ResponseWriter, record *x402.Settlement) {
	if err := setPaymentResponse(w, record); err != nil {
		writeServiceError(w, err)
		return
	}
	code := record.Error
	if code == "" {
		code = reason.X402SettlementFailed
	}
	writeJSONError(w, NewReasonError(code))
}

func setPaymentResponse(w http.ResponseWriter, record *x402.Settlement) error {
	encoded, err := x402.EncodeResponse(record.Summary())
	if err != nil {
		return err
	}
	w.Header().Set(x402.HeaderPaymentResponse, encoded)
	return nil
}

func settlementDecision(record *x402.Settlement) reason.Decision {
	if record.Status == x402.StatusFailed {
		return reason.Reject(record.Error)
	}
	return reason.Accept()
}

// payable rejects sessions that cannot take a payment right now.
func payable(s *ucp.Session) error {
	switch {
	case s.Status == ucp.StatusOpen:
		return nil
	case s.Status == ucp.StatusEscalated && s.Approved:
		return nil
	case s.Status == ucp.StatusExpired:
		return reason.NewError(reason.UCPSessionExpired, "")
	case s.Status == ucp.StatusEscalated:
		return reason.Errorf(reason.UCPInvalidOperation, "checkout session is awaiting approval: %s", s.EscalationReason)
	default:
		return reason.Errorf(reason.UCPInvalidOperation, "cannot pay a checkout session in status %s", s.Status)
	}
}

func (h *Handler) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("payment_id")
	if paymentID == "" {
		writeJSONError(w, NewInvalidRequestError("payment_id is required"))
		return
	}
	record, err := h.settler.CheckSettlement(r.Context(), paymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record.Summary())
}

func (h *Handler) handleReasonCodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		ReasonCodes []reason.Mapping `json:"reason_codes"`
	}{reason.All()})
}
