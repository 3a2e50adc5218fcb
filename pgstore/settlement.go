package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sumup/agentpay/x402"
)

// SettlementStore implements [x402.SettlementStore]. The full record is kept
// as jsonb next to an indexed status column used for compare-and-swap.
type SettlementStore struct {
	db DB
}

var _ x402.SettlementStore = (*SettlementStore)(nil)

// NewSettlementStore builds a store over db.
func NewSettlementStore(db DB) *SettlementStore {
	return &SettlementStore{db: db}
}

// Create implements [x402.SettlementStore].
func (s *SettlementStore) Create(ctx context.Context, record *x402.Settlement) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("pgstore: marshal settlement: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
INSERT INTO x402_settlements (payment_id, status, record, created_at, updated_at)
VALUES ($1, $2, $3::jsonb, $4, $5)
ON CONFLICT (payment_id) DO NOTHING
`, record.PaymentID, string(record.Status), string(raw), record.CreatedAt.UTC(), record.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("pgstore: insert settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return x402.ErrSettlementExists
	}
	return nil
}

// Get implements [x402.SettlementStore].
func (s *SettlementStore) Get(ctx context.Context, paymentID string) (*x402.Settlement, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT record FROM x402_settlements WHERE payment_id = $1`, paymentID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, x402.ErrSettlementNotFound
		}
		return nil, fmt.Errorf("pgstore: get settlement: %w", err)
	}
	var out x402.Settlement
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pgstore: decode settlement: %w", err)
	}
	return &out, nil
}

// Transition implements [x402.SettlementStore] with a conditional UPDATE.
func (s *SettlementStore) Transition(ctx context.Context, record *x402.Settlement, from x402.SettlementStatus) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("pgstore: marshal settlement: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
UPDATE x402_settlements
SET status = $2, record = $3::jsonb, updated_at = $4
WHERE payment_id = $1 AND status = $5
`, record.PaymentID, string(record.Status), string(raw), record.UpdatedAt.UTC(), string(from))
	if err != nil {
		return fmt.Errorf("pgstore: update settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return x402.ErrStatusConflict
	}
	return nil
}
