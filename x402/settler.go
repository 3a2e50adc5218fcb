package x402

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sumup/agentpay/reason"
)

var (
	// ErrCannotSettle is returned when a settlement is not in the Verified
	// state or another caller won the Verified to Settling transition.
	ErrCannotSettle = errors.New("x402: settlement is not in verified state")
	// ErrSettlementNotFound is returned for unknown payment ids.
	ErrSettlementNotFound = reason.NewError(reason.X402SettlementNotFound, "")
	// ErrSettlementExists is returned by [SettlementStore.Create] when the
	// payment id already has a record.
	ErrSettlementExists = errors.New("x402: settlement already exists")
	// ErrStatusConflict is returned by [SettlementStore.Transition] when the
	// stored status differs from the expected one.
	ErrStatusConflict = errors.New("x402: settlement status changed concurrently")
)

// SettlementStore persists settlements keyed by payment id.
type SettlementStore interface {
	// Create inserts s and fails with ErrSettlementExists if the payment id
	// is already known.
	Create(ctx context.Context, s *Settlement) error
	Get(ctx context.Context, paymentID string) (*Settlement, error)
	// Transition replaces the record with s only when its stored status is
	// from, atomically.
	Transition(ctx context.Context, s *Settlement, from SettlementStatus) error
}

// ChainExecutor submits an authorized transfer and returns its transaction
// hash. The context carries the caller's settlement deadline.
type ChainExecutor interface {
	Submit(ctx context.Context, s *Settlement) (txHash string, err error)
}

// ChainExecutorFunc lifts bare functions into [ChainExecutor].
type ChainExecutorFunc func(ctx context.Context, s *Settlement) (string, error)

// Submit delegates to the wrapped function.
func (f ChainExecutorFunc) Submit(ctx context.Context, s *Settlement) (string, error) {
	return f(ctx, s)
}

// SettlementSink observes settlements reaching a terminal state.
type SettlementSink interface {
	SettlementFinalized(ctx context.Context, s Settlement)
}

// SettlementSinkFunc lifts bare functions into [SettlementSink].
type SettlementSinkFunc func(ctx context.Context, s Settlement)

// SettlementFinalized delegates to the wrapped function.
func (f SettlementSinkFunc) SettlementFinalized(ctx context.Context, s Settlement) {
	f(ctx, s)
}

// Sinks fans a settlement out to every non-nil sink.
func Sinks(sinks ...SettlementSink) SettlementSink {
	return SettlementSinkFunc(func(ctx context.Context, s Settlement) {
		for _, sink := range sinks {
			if sink != nil {
				sink.SettlementFinalized(ctx, s)
			}
		}
	})
}

// SettlerConfig wires the settler collaborators.
type SettlerConfig struct {
	Store    SettlementStore
	Executor ChainExecutor
	// Verifier checks payload signatures; nil skips the check.
	Verifier PayloadVerifier
	Sink     SettlementSink
}

// Validate reports missing collaborators.
func (c SettlerConfig) Validate() error {
	var errs []error
	if c.Store == nil {
		errs = append(errs, errors.New("settlement store is required"))
	}
	if c.Executor == nil {
		errs = append(errs, errors.New("chain executor is required"))
	}
	return errors.Join(errs...)
}

// SettlerOption customizes a [Settler].
type SettlerOption func(*Settler)

// WithSettlerClock provides deterministic time in tests.
func WithSettlerClock(fn func() time.Time) SettlerOption {
	return func(s *Settler) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// WithSettlerLogger sets the settler logger.
func WithSettlerLogger(logger *slog.Logger) SettlerOption {
	return func(s *Settler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Settler drives the settlement state machine:
//
//	Verified -> Settling -> Settled
//	                     -> Failed
//
// A payload that does not verify is recorded directly as Failed. Settled and
// Failed records never change.
type Settler struct {
	store    SettlementStore
	executor ChainExecutor
	verifier PayloadVerifier
	sink     SettlementSink
	clock    func() time.Time
	logger   *slog.Logger
}

// NewSettler validates cfg and builds a settler.
func NewSettler(cfg SettlerConfig, opts ...SettlerOption) (*Settler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("x402: invalid settler config: %w", err)
	}
	s := &Settler{
		store:    cfg.Store,
		executor: cfg.Executor,
		verifier: cfg.Verifier,
		sink:     cfg.Sink,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Verify checks p against c and records the outcome. Each challenge yields
// at most one settlement; answering it again fails with
// x402_challenge_already_used even if the first attempt was rejected.
func (s *Settler) Verify(ctx context.Context, c *Challenge, p *PaymentPayload) (*Settlement, error) {
	if c == nil {
		return nil, ErrChallengeNotFound
	}
	now := s.clock().UTC()
	decision := VerifyPaymentPayload(ctx, c, p, now, s.verifier)
	record := &Settlement{
		PaymentID: c.PaymentID,
		Status:    StatusVerified,
		Challenge: *c,
		Payload:   p,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !decision.Accepted {
		record.Status = StatusFailed
		record.Error = decision.Reason
	}
	if err := s.store.Create(ctx, record); err != nil {
		if errors.Is(err, ErrSettlementExists) {
			return nil, reason.NewError(reason.X402ChallengeAlreadyUsed, "")
		}
		return nil, fmt.Errorf("x402: record settlement: %w", err)
	}
	s.logger.InfoContext(ctx, "x402 payload verified",
		slog.String("payment_id", record.PaymentID),
		slog.String("status", string(record.Status)),
		slog.String("reason_code", string(record.Error)),
	)
	if record.Status.Terminal() {
		s.finalized(ctx, record)
	}
	return record.clone(), nil
}

// Settle executes a Verified settlement. Concurrent calls for one payment id
// reach the executor at most once; the losers get ErrCannotSettle. An
// executor failure or an authorization outside its validity window yields a
// Failed settlement rather than an error.
func (s *Settler) Settle(ctx context.Context, paymentID string) (*Settlement, error) {
	current, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusVerified {
		return nil, fmt.Errorf("%w: status is %s", ErrCannotSettle, current.Status)
	}

	settling := current.clone()
	settling.Status = StatusSettling
	settling.UpdatedAt = s.clock().UTC()
	if err := s.store.Transition(ctx, settling, StatusVerified); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrCannotSettle
		}
		return nil, fmt.Errorf("x402: begin settlement: %w", err)
	}

	final := settling.clone()
	if auth := settling.Payload.authorization(); auth != nil {
		if d := CheckAuthorizationTiming(auth, s.clock()); !d.Accepted {
			final.Status = StatusFailed
			final.Error = d.Reason
			return s.finish(ctx, final)
		}
	}

	txHash, err := s.executor.Submit(ctx, settling.clone())
	if err != nil {
		s.logger.WarnContext(ctx, "x402 settlement submission failed",
			slog.String("payment_id", paymentID),
			slog.String("error", err.Error()),
		)
		final.Status = StatusFailed
		final.Error = reason.X402SettlementFailed
		return s.finish(ctx, final)
	}
	settledAt := s.clock().UTC()
	final.Status = StatusSettled
	final.TxHash = txHash
	final.SettledAt = &settledAt
	return s.finish(ctx, final)
}

func (s *Settler) finish(ctx context.Context, final *Settlement) (*Settlement, error) {
	final.UpdatedAt = s.clock().UTC()
	if err := s.store.Transition(ctx, final, StatusSettling); err != nil {
		return nil, fmt.Errorf("x402: finish settlement: %w", err)
	}
	s.logger.InfoContext(ctx, "x402 settlement finished",
		slog.String("payment_id", final.PaymentID),
		slog.String("status", string(final.Status)),
		slog.String("tx_hash", final.TxHash),
		slog.String("reason_code", string(final.Error)),
	)
	s.finalized(ctx, final)
	return final.clone(), nil
}

func (s *Settler) finalized(ctx context.Context, record *Settlement) {
	if s.sink != nil {
		s.sink.SettlementFinalized(ctx, *record.clone())
	}
}

// CheckSettlement returns the current record for paymentID.
func (s *Settler) CheckSettlement(ctx context.Context, paymentID string) (*Settlement, error) {
	return s.store.Get(ctx, paymentID)
}

func (p *PaymentPayload) authorization() *ERC3009Authorization {
	if p == nil {
		return nil
	}
	return p.Authorization
}
