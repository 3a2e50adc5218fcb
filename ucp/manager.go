// Package ucp manages merchant checkout sessions: the amount of record for
// the AP2 and x402 layers.
//
// A session starts Open. It may be escalated for human approval, completed
// once its payment settles, cancelled, or expired when its TTL elapses.
// Completed, Expired and Cancelled are terminal.
package ucp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sumup/agentpay/reason"
)

// DefaultTTL bounds how long a session stays payable.
const DefaultTTL = 30 * time.Minute

// DefaultRetention is how long a terminal session stays readable before
// [Manager.PurgeTerminal] removes it.
const DefaultRetention = 24 * time.Hour

// EscalationPolicy decides whether an Open session needs human approval.
// Thresholds are product configuration and live outside this package.
type EscalationPolicy interface {
	ShouldEscalate(ctx context.Context, s *Session) (escalate bool, why string, err error)
}

// EscalationPolicyFunc lifts bare functions into [EscalationPolicy].
type EscalationPolicyFunc func(ctx context.Context, s *Session) (bool, string, error)

// ShouldEscalate delegates to the wrapped function.
func (f EscalationPolicyFunc) ShouldEscalate(ctx context.Context, s *Session) (bool, string, error) {
	return f(ctx, s)
}

// AmountThreshold escalates sessions whose total exceeds LimitMinor.
type AmountThreshold struct {
	LimitMinor int64
}

// ShouldEscalate implements [EscalationPolicy].
func (p AmountThreshold) ShouldEscalate(_ context.Context, s *Session) (bool, string, error) {
	total, err := s.TotalMinor()
	if err != nil {
		return false, "", err
	}
	if total > p.LimitMinor {
		return true, "amount_threshold", nil
	}
	return false, "", nil
}

// CreateRequest opens a session.
type CreateRequest struct {
	Merchant   Merchant   `json:"merchant"`
	CustomerID string     `json:"customer_id,omitempty"`
	LineItems  []LineItem `json:"line_items" validate:"dive"`
	Currency   string     `json:"currency" validate:"required,iso4217"`
}

// Option customizes a [Manager].
type Option func(*Manager)

// WithTTL overrides [DefaultTTL].
func WithTTL(d time.Duration) Option {
	if d <= 0 {
		panic("ucp: ttl must be positive")
	}
	return func(m *Manager) {
		m.ttl = d
	}
}

// WithRetention overrides [DefaultRetention].
func WithRetention(d time.Duration) Option {
	if d < 0 {
		panic("ucp: retention must not be negative")
	}
	return func(m *Manager) {
		m.retention = d
	}
}

// WithEscalationPolicy installs the policy consulted by
// [Manager.EvaluateEscalation].
func WithEscalationPolicy(p EscalationPolicy) Option {
	return func(m *Manager) {
		m.escalation = p
	}
}

// WithClock provides deterministic time in tests.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.clock = fn
		}
	}
}

// WithLogger sets the logger used for transition logs.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager drives session transitions. Every mutation goes through
// SessionStore.Update so concurrent transitions of one session serialize.
type Manager struct {
	store      SessionStore
	escalation EscalationPolicy
	ttl        time.Duration
	retention  time.Duration
	clock      func() time.Time
	logger     *slog.Logger
	newID      func() string
}

// NewManager builds a manager over store.
func NewManager(store SessionStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("ucp: session store is required")
	}
	m := &Manager{
		store:  store,
		ttl:       DefaultTTL,
		retention: DefaultRetention,
		clock:     time.Now,
		logger:    slog.Default(),
		newID:     func() string { return "cs_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create opens a session from a merchant-supplied line-item set.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if len(req.LineItems) == 0 {
		return nil, reason.NewError(reason.UCPEmptyCart, "")
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if _, err := sumItems(req.LineItems); err != nil {
		return nil, err
	}
	now := m.clock().UTC()
	s := &Session{
		ID:         m.newID(),
		Status:     StatusOpen,
		Merchant:   req.Merchant,
		CustomerID: req.CustomerID,
		LineItems:  append([]LineItem(nil), req.LineItems...),
		Currency:   req.Currency,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "checkout session created", "layer", reason.LayerUCP, "session_id", s.ID, "merchant_id", s.Merchant.ID)
	return s, nil
}

func validateRequest(req CreateRequest) error {
	if err := validate.Struct(req); err != nil {
		err = normalizeValidationError(err)
		var fe *fieldError
		if errors.As(err, &fe) && strings.HasPrefix(fe.path, "line_items") {
			return reason.NewError(reason.UCPLineItemInvalid, fe.Error())
		}
		return reason.NewError(reason.UCPRequestInvalid, err.Error())
	}
	return nil
}

// Get returns a session. A non-terminal session past its expiry is moved to
// Expired first, so readers never observe a stale Open status.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() || m.clock().Before(s.ExpiresAt) {
		return s, nil
	}
	return m.store.Update(ctx, id, func(s *Session) error {
		m.expireIfDue(s)
		return nil
	})
}

// UpdateItems replaces the line items of an Open session.
func (m *Manager) UpdateItems(ctx context.Context, id string, items []LineItem) (*Session, error) {
	if len(items) == 0 {
		return nil, reason.NewError(reason.UCPEmptyCart, "")
	}
	for i, li := range items {
		if err := validate.Struct(li); err != nil {
			fe := normalizeValidationError(err)
			return nil, reason.Errorf(reason.UCPLineItemInvalid, "line_items[%d].%s", i, fe.Error())
		}
	}
	if _, err := sumItems(items); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, "items_updated", func(s *Session) error {
		if s.Status != StatusOpen {
			return invalidOperation(s, "update items")
		}
		s.LineItems = append([]LineItem(nil), items...)
		return nil
	})
}

// EvaluateEscalation consults the escalation policy for an Open session and
// escalates it when the policy asks to. Without a policy it never escalates.
func (m *Manager) EvaluateEscalation(ctx context.Context, id string) (*Session, bool, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if err := m.checkLive(s); err != nil {
		return nil, false, err
	}
	if m.escalation == nil || s.Status != StatusOpen {
		return s, false, nil
	}
	escalate, why, err := m.escalation.ShouldEscalate(ctx, s)
	if err != nil {
		return nil, false, err
	}
	if !escalate {
		return s, false, nil
	}
	s, err = m.Escalate(ctx, id, why)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Escalate moves an Open session to Escalated.
func (m *Manager) Escalate(ctx context.Context, id, why string) (*Session, error) {
	return m.transition(ctx, id, "escalated", func(s *Session) error {
		if s.Status != StatusOpen {
			return invalidOperation(s, "escalate")
		}
		s.Status = StatusEscalated
		s.EscalationReason = why
		s.Approved = false
		return nil
	})
}

// Approve records human approval of an Escalated session.
func (m *Manager) Approve(ctx context.Context, id string) (*Session, error) {
	return m.transition(ctx, id, "approved", func(s *Session) error {
		if s.Status != StatusEscalated {
			return invalidOperation(s, "approve")
		}
		s.Approved = true
		return nil
	})
}

// Complete marks the session paid. Escalated sessions must be approved first.
func (m *Manager) Complete(ctx context.Context, id, paymentID string) (*Session, error) {
	return m.transition(ctx, id, "completed", func(s *Session) error {
		switch {
		case s.Status == StatusOpen:
		case s.Status == StatusEscalated && s.Approved:
		default:
			return invalidOperation(s, "complete")
		}
		s.Status = StatusCompleted
		s.PaymentID = paymentID
		return nil
	})
}

// Cancel moves any non-terminal session to Cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) (*Session, error) {
	return m.transition(ctx, id, "cancelled", func(s *Session) error {
		if s.Status.Terminal() {
			return invalidOperation(s, "cancel")
		}
		s.Status = StatusCancelled
		return nil
	})
}

// ExpireStale moves every overdue non-terminal session to Expired and
// reports how many changed.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	var (
		expired int
		errs    []error
	)
	err := m.store.Range(ctx, func(id string) bool {
		changed := false
		_, err := m.store.Update(ctx, id, func(s *Session) error {
			changed = m.expireIfDue(s)
			return nil
		})
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
		if changed {
			expired++
			m.logger.InfoContext(ctx, "checkout session expired", "layer", reason.LayerUCP, "session_id", id)
		}
		return true
	})
	if err != nil {
		errs = append(errs, err)
	}
	return expired, errors.Join(errs...)
}

// PurgeTerminal deletes sessions that reached a terminal status at least the
// retention period ago and reports how many were removed.
func (m *Manager) PurgeTerminal(ctx context.Context) (int, error) {
	cutoff := m.clock().Add(-m.retention)
	var (
		purged int
		errs   []error
	)
	err := m.store.Range(ctx, func(id string) bool {
		s, err := m.store.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) {
				errs = append(errs, err)
			}
			return true
		}
		if !s.Status.Terminal() || s.UpdatedAt.After(cutoff) {
			return true
		}
		if err := m.store.Delete(ctx, id); err != nil {
			errs = append(errs, err)
			return true
		}
		purged++
		m.logger.DebugContext(ctx, "checkout session purged", "layer", reason.LayerUCP, "session_id", id, "status", s.Status)
		return true
	})
	if err != nil {
		errs = append(errs, err)
	}
	return purged, errors.Join(errs...)
}

// transition applies fn atomically after the expiry check. An overdue session
// is persisted as Expired and the operation fails with ucp_session_expired.
func (m *Manager) transition(ctx context.Context, id, event string, fn func(*Session) error) (*Session, error) {
	var expiredNow bool
	s, err := m.store.Update(ctx, id, func(s *Session) error {
		if m.expireIfDue(s) {
			expiredNow = true
			return nil
		}
		if err := m.checkLive(s); err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		s.UpdatedAt = m.clock().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expiredNow {
		return nil, reason.NewError(reason.UCPSessionExpired, "")
	}
	m.logger.InfoContext(ctx, "checkout session "+event, "layer", reason.LayerUCP, "session_id", id, "status", s.Status)
	return s, nil
}

func (m *Manager) expireIfDue(s *Session) bool {
	if s.Status.Terminal() || m.clock().Before(s.ExpiresAt) {
		return false
	}
	s.Status = StatusExpired
	s.UpdatedAt = m.clock().UTC()
	return true
}

func (m *Manager) checkLive(s *Session) error {
	if s.Status == StatusExpired {
		return reason.NewError(reason.UCPSessionExpired, "")
	}
	return nil
}

func invalidOperation(s *Session, op string) error {
	return reason.Errorf(reason.UCPInvalidOperation, "cannot %s a checkout session in status %s", op, s.Status)
}
