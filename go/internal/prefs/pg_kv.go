package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier defines what PGKV needs from the database layer.
// *pgxpool.Pool and *pgx.Conn both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const createPreferencesTable = `
CREATE TABLE IF NOT EXISTS observer_preferences (
	profile    TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (profile, key)
)`

const getPreference = `SELECT value FROM observer_preferences WHERE profile = $1 AND key = $2`

const upsertPreference = `
INSERT INTO observer_preferences (profile, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (profile, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

// PGKV stores preferences in Postgres, scoped by a profile name so several
// observer kiosks can share one database.
type PGKV struct {
	queries Querier
	profile string
}

func NewPGKV(queries Querier, profile string) *PGKV {
	if profile == "" {
		profile = "default"
	}
	return &PGKV{queries: queries, profile: profile}
}

// Migrate creates the preferences table if needed.
func (p *PGKV) Migrate(ctx context.Context) error {
	if _, err := p.queries.Exec(ctx, createPreferencesTable); err != nil {
		return fmt.Errorf("failed to create preferences table: %w", err)
	}
	return nil
}

func (p *PGKV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.queries.QueryRow(ctx, getPreference, p.profile, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get preference: %w", err)
	}
	return value, nil
}

func (p *PGKV) Set(ctx context.Context, key, value string) error {
	if _, err := p.queries.Exec(ctx, upsertPreference, p.profile, key, value); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}
