// Package store persists workspace records in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perigee-io/wco/internal/core"
)

// Schema is the store's DDL, applied by wco-api at startup and by the
// integration test.
const Schema = `
	CREATE SCHEMA IF NOT EXISTS wco;
	CREATE TABLE IF NOT EXISTS wco.workspaces (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		compute_provider TEXT NOT NULL,
		compute_id TEXT NOT NULL DEFAULT '',
		public_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'provisioning',
		error_message TEXT NOT NULL DEFAULT '',
		config JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS workspaces_user_id_idx ON wco.workspaces (user_id);
`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func notFound(id string) error {
	return core.NewAppError(core.ErrNotFound, fmt.Sprintf("workspace %s not found", id))
}

const workspaceColumns = `id, user_id, compute_provider, compute_id, public_url,
	status, error_message, config, created_at, updated_at`

func scanWorkspace(row pgx.Row) (*core.Workspace, error) {
	var ws core.Workspace
	var status string
	var config []byte
	err := row.Scan(&ws.ID, &ws.UserID, &ws.ComputeProvider, &ws.ComputeID,
		&ws.PublicURL, &status, &ws.ErrorMessage, &config,
		&ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ws.Status = core.WorkspaceStatus(status)
	if err := json.Unmarshal(config, &ws.Config); err != nil {
		return nil, fmt.Errorf("decode config for workspace %s: %w", ws.ID, err)
	}
	return &ws, nil
}

func (s *Store) Create(ctx context.Context, ws *core.Workspace) error {
	config, err := json.Marshal(ws.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO wco.workspaces (id, user_id, compute_provider, status, config)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		ws.ID, ws.UserID, ws.ComputeProvider, string(ws.Status), config)
	return row.Scan(&ws.CreatedAt, &ws.UpdatedAt)
}

func (s *Store) FindByID(ctx context.Context, id string) (*core.Workspace, error) {
	ws, err := scanWorkspace(s.pool.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM wco.workspaces WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	return ws, err
}

func (s *Store) findMany(ctx context.Context, query string, args ...any) ([]*core.Workspace, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *Store) FindByUserID(ctx context.Context, userID string) ([]*core.Workspace, error) {
	return s.findMany(ctx,
		`SELECT `+workspaceColumns+` FROM wco.workspaces
		 WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (s *Store) FindAll(ctx context.Context) ([]*core.Workspace, error) {
	return s.findMany(ctx,
		`SELECT `+workspaceColumns+` FROM wco.workspaces ORDER BY created_at`)
}

// UpdateStatus transitions a workspace's status. Empty ComputeID/PublicURL
// leave the stored values untouched; ErrorMessage is cleared on any
// non-error transition.
func (s *Store) UpdateStatus(ctx context.Context, id string, status core.WorkspaceStatus, upd core.StatusUpdate) error {
	errorMessage := ""
	if status == core.StatusError {
		errorMessage = upd.ErrorMessage
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE wco.workspaces SET
			status = $2,
			compute_id = COALESCE(NULLIF($3, ''), compute_id),
			public_url = COALESCE(NULLIF($4, ''), public_url),
			error_message = $5,
			updated_at = now()
		WHERE id = $1`,
		id, string(status), upd.ComputeID, upd.PublicURL, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Store) UpdateConfig(ctx context.Context, id string, cfg core.WorkspaceConfig) error {
	config, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE wco.workspaces SET config = $2, updated_at = now()
		WHERE id = $1`, id, config)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wco.workspaces WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}
