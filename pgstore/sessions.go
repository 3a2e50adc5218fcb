package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/ucp"
)

// maxUpdateAttempts bounds the optimistic retries of [SessionStore.Update].
const maxUpdateAttempts = 5

// ErrConcurrentUpdate is returned when a session kept changing underneath
// [SessionStore.Update].
var ErrConcurrentUpdate = errors.New("pgstore: checkout session updated concurrently")

// SessionStore implements [ucp.SessionStore]. Each row carries a version;
// updates are conditional on the version they read.
type SessionStore struct {
	db DB
}

var _ ucp.SessionStore = (*SessionStore)(nil)

// NewSessionStore builds a store over db.
func NewSessionStore(db DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create implements [ucp.SessionStore].
func (s *SessionStore) Create(ctx context.Context, session *ucp.Session) error {
	raw, err := marshalSession(session)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
INSERT INTO ucp_sessions (id, status, record, version, updated_at)
VALUES ($1, $2, $3::jsonb, 1, $4)
ON CONFLICT (id) DO NOTHING
`, session.ID, string(session.Status), raw, session.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("pgstore: insert checkout session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reason.Errorf(reason.UCPInvalidOperation, "checkout session %s already exists", session.ID)
	}
	return nil
}

// Get implements [ucp.SessionStore].
func (s *SessionStore) Get(ctx context.Context, id string) (*ucp.Session, error) {
	session, _, err := s.load(ctx, id)
	return session, err
}

// Update implements [ucp.SessionStore]. fn may run more than once when
// another writer wins the race for the row.
func (s *SessionStore) Update(ctx context.Context, id string, fn func(*ucp.Session) error) (*ucp.Session, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		session, version, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(session); err != nil {
			return nil, err
		}
		raw, err := marshalSession(session)
		if err != nil {
			return nil, err
		}
		tag, err := s.db.Exec(ctx, `
UPDATE ucp_sessions
SET status = $2, record = $3::jsonb, version = version + 1, updated_at = $4
WHERE id = $1 AND version = $5
`, id, string(session.Status), raw, session.UpdatedAt.UTC(), version)
		if err != nil {
			return nil, fmt.Errorf("pgstore: update checkout session: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return session, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, id)
}

// Range implements [ucp.SessionStore].
func (s *SessionStore) Range(ctx context.Context, fn func(id string) bool) error {
	rows, err := s.db.Query(ctx, `SELECT id FROM ucp_sessions ORDER BY id`)
	if err != nil {
		return fmt.Errorf("pgstore: list checkout sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("pgstore: list checkout sessions: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(id) {
			return nil
		}
	}
	return nil
}

// Delete implements [ucp.SessionStore].
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM ucp_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pgstore: delete checkout session: %w", err)
	}
	return nil
}

func (s *SessionStore) load(ctx context.Context, id string) (*ucp.Session, int64, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.db.QueryRow(ctx, `SELECT record, version FROM ucp_sessions WHERE id = $1`, id).Scan(&raw, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ucp.ErrSessionNotFound
		}
		return nil, 0, fmt.Errorf("pgstore: get checkout session: %w", err)
	}
	var out ucp.Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, 0, fmt.Errorf("pgstore: decode checkout session: %w", err)
	}
	return &out, version, nil
}

func marshalSession(session *ucp.Session) (string, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("pgstore: marshal checkout session: %w", err)
	}
	return string(raw), nil
}
