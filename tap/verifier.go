// Package tap verifies agent identity proofs carried as HTTP message
// signatures (Signature-Input and Signature headers). A successful
// verification binds the request authority and path to the key that signed
// them and burns the signature nonce.
package tap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/replay"
)

// Default tags recognised by agent-facing endpoints.
const (
	TagBrowserAuth = "agent-browser-auth"
	TagPayerAuth   = "agent-payer-auth"
)

// Algorithm identifiers accepted by default.
const (
	AlgEd25519      = "ed25519"
	AlgRSAPSSSHA512 = "rsa-pss-sha512"
	AlgECDSAP256    = "ecdsa-p256-sha256"
)

// DefaultMaxWindow caps expires minus created.
const DefaultMaxWindow = 8 * time.Minute

// minNonceTTL keeps a nonce marked even when it is checked in the last second
// of its window.
const minNonceTTL = time.Second

// KeyVerifier checks signature bytes over message for the key named keyID.
type KeyVerifier interface {
	VerifySignature(message, signature []byte, keyID, algorithm string) bool
}

// KeyVerifierFunc lifts bare functions into [KeyVerifier].
type KeyVerifierFunc func(message, signature []byte, keyID, algorithm string) bool

// VerifySignature delegates to the wrapped function.
func (f KeyVerifierFunc) VerifySignature(message, signature []byte, keyID, algorithm string) bool {
	return f(message, signature, keyID, algorithm)
}

// Config lists the collaborators a [Verifier] cannot run without.
type Config struct {
	Keys   KeyVerifier
	Replay replay.Store
}

// Validate reports missing collaborators.
func (c Config) Validate() error {
	var errs []error
	if c.Keys == nil {
		errs = append(errs, errors.New("tap: key verifier is required"))
	}
	if c.Replay == nil {
		errs = append(errs, errors.New("tap: replay store is required"))
	}
	return errors.Join(errs...)
}

type options struct {
	maxWindow  time.Duration
	tags       map[string]struct{}
	algorithms map[string]struct{}
	clock      func() time.Time
	logger     *slog.Logger
}

// Option customizes a [Verifier].
type Option func(*options)

// WithMaxWindow overrides [DefaultMaxWindow].
func WithMaxWindow(d time.Duration) Option {
	if d <= 0 {
		panic("tap: max window must be positive")
	}
	return func(o *options) {
		o.maxWindow = d
	}
}

// WithAllowedTags replaces the tag allow-list for the endpoint.
func WithAllowedTags(tags ...string) Option {
	return func(o *options) {
		o.tags = toSet(tags)
	}
}

// WithAlgorithms replaces the supported algorithm set.
func WithAlgorithms(algs ...string) Option {
	return func(o *options) {
		o.algorithms = toSet(algs)
	}
}

// WithClock provides deterministic time in tests.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.clock = fn
		}
	}
}

// WithLogger sets the logger used for rejection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

// Result is the outcome of [Verifier.Verify].
type Result struct {
	reason.Decision
	SignatureInput *SignatureInput `json:"signature_input,omitempty"`
	Version        string          `json:"version,omitempty"`
}

// Verifier checks TAP identity signatures.
type Verifier struct {
	keys   KeyVerifier
	replay replay.Store
	opts   options
}

// NewVerifier validates cfg and applies opts.
func NewVerifier(cfg Config, opts ...Option) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		maxWindow:  DefaultMaxWindow,
		tags:       toSet([]string{TagBrowserAuth, TagPayerAuth}),
		algorithms: toSet([]string{AlgEd25519, AlgRSAPSSSHA512, AlgECDSAP256}),
		clock:      time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Verifier{keys: cfg.Keys, replay: cfg.Replay, opts: o}, nil
}

// Verify runs the checks in a fixed order and reports the first failure.
// Only the nonce check writes state, and it runs after every structural
// and temporal check has passed.
func (v *Verifier) Verify(ctx context.Context, req Request) Result {
	res := Result{Version: req.Version}
	reject := func(code reason.Code, in *SignatureInput, attrs ...any) Result {
		res.Decision = reason.Reject(code)
		res.SignatureInput = in
		v.opts.logger.DebugContext(ctx, "tap signature rejected", append([]any{"layer", reason.LayerTAP, "reason", code}, attrs...)...)
		return res
	}

	if req.SignatureInput == "" || req.Signature == "" {
		return reject(reason.TAPHeaderMissing, nil)
	}
	in, err := ParseSignatureInput(req.SignatureInput)
	if err != nil {
		return reject(reason.TAPHeaderMissing, nil, "error", err)
	}
	sigs, err := ParseSignature(req.Signature)
	if err != nil {
		return reject(reason.TAPHeaderMissing, in, "error", err)
	}
	if !in.Covers(ComponentAuthority) || !in.Covers(ComponentPath) {
		return reject(reason.TAPRequiredComponentsMissing, in)
	}
	if _, ok := v.opts.tags[strings.ToLower(in.Tag)]; !ok {
		return reject(reason.TAPTagInvalid, in, "tag", in.Tag)
	}
	sig, ok := sigs[in.Label]
	if !ok {
		return reject(reason.TAPLabelMismatch, in, "label", in.Label)
	}

	now := v.opts.clock()
	if in.Created.After(now) {
		return reject(reason.TAPCreatedNotInPast, in)
	}
	if in.Window() > v.opts.maxWindow {
		return reject(reason.TAPWindowTooLarge, in, "window", in.Window())
	}
	if now.After(in.Expires) {
		return reject(reason.TAPSignatureExpired, in)
	}
	if _, ok := v.opts.algorithms[strings.ToLower(in.Algorithm)]; !ok {
		return reject(reason.TAPAlgorithmUnsupported, in, "alg", in.Algorithm)
	}

	// A request whose covered components cannot be resolved never reaches
	// the replay store, so it does not burn the nonce.
	base, err := SignatureBase(*in, req)
	if err != nil {
		return reject(reason.TAPSignatureInvalid, in, "error", err)
	}

	ttl := in.Expires.Sub(now)
	if ttl < minNonceTTL {
		ttl = minNonceTTL
	}
	fresh, err := v.replay.CheckAndMark(ctx, NonceKey(in.KeyID, in.Nonce), ttl)
	if err != nil {
		v.opts.logger.WarnContext(ctx, "tap replay store unavailable", "error", err)
		return reject(reason.TAPReplayStoreUnavailable, in)
	}
	if !fresh {
		return reject(reason.TAPNonceReplayed, in, "key_id", in.KeyID)
	}

	if !v.keys.VerifySignature(base, sig, in.KeyID, strings.ToLower(in.Algorithm)) {
		return reject(reason.TAPSignatureInvalid, in, "key_id", in.KeyID)
	}

	res.Decision = reason.Accept()
	res.SignatureInput = in
	return res
}

// NonceKey namespaces a TAP nonce in the shared replay store.
func NonceKey(keyID, nonce string) string {
	return "tap:" + keyID + ":" + nonce
}
