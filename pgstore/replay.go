package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sumup/agentpay/replay"
)

// ReplayStore implements [replay.Store]. A key is inserted, or an expired
// row for it is revived, in a single statement, so concurrent callers race
// on the primary key.
type ReplayStore struct {
	db    DB
	clock func() time.Time
}

var _ replay.Store = (*ReplayStore)(nil)

// NewReplayStore builds a store over db. clock may be nil.
func NewReplayStore(db DB, clock func() time.Time) *ReplayStore {
	if clock == nil {
		clock = time.Now
	}
	return &ReplayStore{db: db, clock: clock}
}

// CheckAndMark implements [replay.Store].
func (s *ReplayStore) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, replay.ErrInvalidTTL
	}
	now := s.clock().UTC()
	var stored string
	err := s.db.QueryRow(ctx, `
INSERT INTO replay_keys (key, expires_at)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
  WHERE replay_keys.expires_at <= $3
RETURNING key
`, key, now.Add(ttl), now).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("pgstore: mark replay key: %w", err)
	}
	return true, nil
}

// Purge deletes expired keys and returns how many were removed.
func (s *ReplayStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM replay_keys WHERE expires_at <= $1`, s.clock().UTC())
	if err != nil {
		return 0, fmt.Errorf("pgstore: purge replay keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
