// Package ap2 verifies Intent → Cart → Payment mandate chains: proof that a
// principal authorized an agent to spend a bounded amount with a specific
// merchant.
//
// Verification is deterministic. Per-mandate checks run first, mandate by
// mandate in chain order, then chain-level checks; the first failing
// condition decides the reported [reason.Code].
package ap2

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/replay"
)

// minNonceTTL keeps a nonce marked when a mandate is used in its last second.
const minNonceTTL = time.Second

// Config lists the collaborators a [ChainVerifier] cannot run without.
type Config struct {
	Signatures SignatureVerifier
	Replay     replay.Store
	Domains    DomainAuthorizer
	RateLimit  RateLimiter
	Security   SecurityPolicy
}

// Validate reports every missing collaborator.
func (c Config) Validate() error {
	var errs []error
	if c.Signatures == nil {
		errs = append(errs, errors.New("ap2: signature verifier is required"))
	}
	if c.Replay == nil {
		errs = append(errs, errors.New("ap2: replay store is required"))
	}
	if c.Domains == nil {
		errs = append(errs, errors.New("ap2: domain authorizer is required"))
	}
	if c.RateLimit == nil {
		errs = append(errs, errors.New("ap2: rate limiter is required"))
	}
	if c.Security == nil {
		errs = append(errs, errors.New("ap2: security policy is required"))
	}
	return errors.Join(errs...)
}

// Option customizes a [ChainVerifier].
type Option func(*ChainVerifier)

// WithClock provides deterministic time in tests.
func WithClock(fn func() time.Time) Option {
	return func(v *ChainVerifier) {
		if fn != nil {
			v.clock = fn
		}
	}
}

// WithLogger sets the logger used for rejection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(v *ChainVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// Result is the outcome of [ChainVerifier.Verify].
type Result struct {
	reason.Decision
	Chain *Chain `json:"-"`
}

// ChainVerifier checks mandate chains.
type ChainVerifier struct {
	cfg    Config
	clock  func() time.Time
	logger *slog.Logger
}

// NewChainVerifier validates cfg and applies opts.
func NewChainVerifier(cfg Config, opts ...Option) (*ChainVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &ChainVerifier{cfg: cfg, clock: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// VerifyRequest is the transport-neutral AP2 request body.
type VerifyRequest struct {
	Intent               *MandateEnvelope     `json:"intent"`
	Cart                 *MandateEnvelope     `json:"cart"`
	Payment              *MandateEnvelope     `json:"payment"`
	CanonicalizationMode CanonicalizationMode `json:"canonicalization_mode,omitempty"`
}

// Chain decodes each envelope as the variant its slot requires. The declared
// "type" is kept so that a mandate in the wrong slot fails the type check.
func (r VerifyRequest) Chain() (Chain, reason.Code, bool) {
	if r.Intent == nil || r.Cart == nil || r.Payment == nil {
		return Chain{}, reason.AP2ChainIncomplete, false
	}
	intent, err := r.Intent.AsIntentMandate()
	if err != nil {
		return Chain{}, reason.AP2SignatureMalformed, false
	}
	cart, err := r.Cart.AsCartMandate()
	if err != nil {
		return Chain{}, reason.AP2SignatureMalformed, false
	}
	payment, err := r.Payment.AsPaymentMandate()
	if err != nil {
		return Chain{}, reason.AP2SignatureMalformed, false
	}
	return Chain{Intent: &intent, Cart: &cart, Payment: &payment}, "", true
}

// VerifyRequest decodes and verifies an AP2 request body.
func (v *ChainVerifier) VerifyRequest(ctx context.Context, req VerifyRequest) Result {
	chain, code, ok := req.Chain()
	if !ok {
		return v.reject(ctx, code, nil)
	}
	return v.Verify(ctx, chain, req.CanonicalizationMode)
}

// Verify checks chain under mode.
func (v *ChainVerifier) Verify(ctx context.Context, chain Chain, mode CanonicalizationMode) Result {
	if !chain.Complete() {
		return v.reject(ctx, reason.AP2ChainIncomplete, nil)
	}
	if !mode.Supported() {
		return v.reject(ctx, reason.AP2CanonicalizationUnsupported, &chain, "mode", mode)
	}
	now := v.clock()
	for _, m := range chain.Mandates() {
		if code := v.verifyMandate(ctx, m, mode, now); code != "" {
			return v.reject(ctx, code, &chain, "mandate_id", m.Base().MandateID, "kind", m.Kind())
		}
	}
	if code := v.verifyChain(ctx, chain); code != "" {
		return v.reject(ctx, code, &chain, "agent_id", chain.Payment.Issuer)
	}
	return Result{Decision: reason.Accept(), Chain: &chain}
}

func (v *ChainVerifier) reject(ctx context.Context, code reason.Code, chain *Chain, attrs ...any) Result {
	v.logger.DebugContext(ctx, "ap2 mandate chain rejected", append([]any{"layer", reason.LayerAP2, "reason", code}, attrs...)...)
	return Result{Decision: reason.Reject(code), Chain: chain}
}

func (v *ChainVerifier) verifyMandate(ctx context.Context, m Mandate, mode CanonicalizationMode, now time.Time) reason.Code {
	base := m.Base()

	if err := validate.Struct(base); err != nil {
		return reason.AP2SignatureMalformed
	}
	sig, err := DecodeSignature(base.Proof.Signature)
	if err != nil || len(sig) == 0 {
		return reason.AP2SignatureMalformed
	}

	msg, err := SigningBytes(m, mode)
	if err != nil {
		return reason.AP2SignatureMalformed
	}
	if !v.cfg.Signatures.VerifySignature(msg, sig, base.Proof.KeyID, base.Proof.Algorithm) {
		return reason.AP2SignatureInvalid
	}

	if now.After(base.ExpiresAt) {
		return reason.AP2MandateExpired
	}

	if !validDomain(base.Domain) {
		return reason.AP2DomainInvalid
	}
	switch mm := m.(type) {
	case *CartMandate:
		if !validDomain(mm.MerchantDomain) {
			return reason.AP2DomainInvalid
		}
	case *PaymentMandate:
		if !validDomain(mm.MerchantDomain) {
			return reason.AP2DomainInvalid
		}
	}

	ttl := base.ExpiresAt.Sub(now)
	if ttl < minNonceTTL {
		ttl = minNonceTTL
	}
	fresh, err := v.cfg.Replay.CheckAndMark(ctx, NonceKey(m.Kind(), base.Issuer, base.Nonce), ttl)
	if err != nil {
		v.logger.WarnContext(ctx, "ap2 replay store unavailable", "error", err)
		return reason.AP2ReplayStoreUnavailable
	}
	if !fresh {
		return reason.AP2MandateReplayed
	}

	if base.Type != m.Kind() || Kind(base.Purpose) != m.Kind() {
		return reason.AP2TypePurposeMismatch
	}
	return ""
}

func (v *ChainVerifier) verifyChain(ctx context.Context, chain Chain) reason.Code {
	intent, cart, payment := chain.Intent, chain.Cart, chain.Payment

	if intent.Subject != cart.Subject || cart.Subject != payment.Subject {
		return reason.AP2SubjectMismatch
	}

	total, ok := CartTotal(cart)
	if !ok || payment.AmountMinor < 0 || intent.RequestedAmountMinor < 0 {
		return reason.AP2AmountOverflow
	}
	if payment.AmountMinor > total {
		return reason.AP2PaymentExceedsCart
	}
	if payment.AmountMinor > intent.RequestedAmountMinor {
		return reason.AP2PaymentExceedsIntent
	}
	if payment.AuditHash != AuditHash(cart.MandateID, intent.MandateID, payment.AmountMinor) {
		return reason.AP2AuditHashMismatch
	}

	if payment.AgentPresence == nil {
		return reason.AP2AgentPresenceMissing
	}
	if !payment.TransactionModality.Valid() {
		return reason.AP2ModalityInvalid
	}

	agentID := payment.Issuer
	authorized, err := v.cfg.Domains.IsAuthorized(ctx, agentID, payment.MerchantDomain)
	if err != nil {
		if !errors.Is(err, ErrUnknownAgent) {
			v.logger.WarnContext(ctx, "ap2 domain authorizer failed", "agent_id", agentID, "error", err)
		}
		return reason.AP2IdentityNotResolved
	}
	if !authorized {
		return reason.AP2DomainNotAuthorized
	}

	allowed, err := v.cfg.RateLimit.Allow(ctx, agentID)
	if err != nil {
		v.logger.WarnContext(ctx, "ap2 rate limiter failed", "agent_id", agentID, "error", err)
		return reason.AP2RateLimited
	}
	if !allowed {
		return reason.AP2RateLimited
	}

	locked, err := v.cfg.Security.Locked(ctx, agentID, chain)
	if err != nil {
		v.logger.WarnContext(ctx, "ap2 security policy failed", "agent_id", agentID, "error", err)
		return reason.AP2SecurityLock
	}
	if locked {
		return reason.AP2SecurityLock
	}
	return ""
}

// CartTotal sums subtotal and taxes. ok is false when either is negative or
// the sum overflows.
func CartTotal(cart *CartMandate) (total int64, ok bool) {
	if cart.SubtotalMinor < 0 || cart.TaxesMinor < 0 {
		return 0, false
	}
	if cart.SubtotalMinor > math.MaxInt64-cart.TaxesMinor {
		return 0, false
	}
	return cart.SubtotalMinor + cart.TaxesMinor, true
}

// NonceKey namespaces a mandate nonce in the shared replay store.
func NonceKey(kind Kind, issuer, nonce string) string {
	return "ap2:" + string(kind) + ":" + issuer + ":" + nonce
}
