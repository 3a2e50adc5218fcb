package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sumup/agentpay/x402"
)

// ChallengeStore implements [x402.ChallengeStore].
type ChallengeStore struct {
	db DB
}

var _ x402.ChallengeStore = (*ChallengeStore)(nil)

// NewChallengeStore builds a store over db.
func NewChallengeStore(db DB) *ChallengeStore {
	return &ChallengeStore{db: db}
}

// Save implements [x402.ChallengeStore]. Payment ids are unique, so a
// second save of the same id fails.
func (s *ChallengeStore) Save(ctx context.Context, c *x402.Challenge) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("pgstore: marshal challenge: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
INSERT INTO x402_challenges (payment_id, record, expires_at)
VALUES ($1, $2::jsonb, $3)
ON CONFLICT (payment_id) DO NOTHING
`, c.PaymentID, string(raw), c.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("pgstore: insert challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: challenge %s already exists", c.PaymentID)
	}
	return nil
}

// Get implements [x402.ChallengeStore].
func (s *ChallengeStore) Get(ctx context.Context, paymentID string) (*x402.Challenge, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT record FROM x402_challenges WHERE payment_id = $1`, paymentID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, x402.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("pgstore: get challenge: %w", err)
	}
	var out x402.Challenge
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pgstore: decode challenge: %w", err)
	}
	return &out, nil
}

// Purge deletes challenges that expired before cutoff. Settlement records
// of purged challenges are kept.
func (s *ChallengeStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM x402_challenges WHERE expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pgstore: purge challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
