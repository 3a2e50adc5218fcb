// Package pgstore backs the replay, challenge, settlement, checkout session
// and agent-domain collaborators with PostgreSQL through pgx.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool and pgx.Tx used by the stores.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Schema creates the tables the stores expect.
const Schema = `
CREATE TABLE IF NOT EXISTS replay_keys (
  key        text PRIMARY KEY,
  expires_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS replay_keys_expires_at_idx ON replay_keys (expires_at);

CREATE TABLE IF NOT EXISTS x402_challenges (
  payment_id text PRIMARY KEY,
  record     jsonb NOT NULL,
  expires_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS x402_challenges_expires_at_idx ON x402_challenges (expires_at);

CREATE TABLE IF NOT EXISTS x402_settlements (
  payment_id text PRIMARY KEY,
  status     text NOT NULL,
  record     jsonb NOT NULL,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS ucp_sessions (
  id         text PRIMARY KEY,
  status     text NOT NULL,
  record     jsonb NOT NULL,
  version    bigint NOT NULL,
  updated_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_domains (
  agent_id text NOT NULL,
  domain   text NOT NULL,
  PRIMARY KEY (agent_id, domain)
);
`

// Migrate applies [Schema].
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}
