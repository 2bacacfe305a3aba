// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pipestack/control-plane/internal/models"
)

// WorkspaceRepository defines the interface for workspace metadata operations.
type WorkspaceRepository interface {
	GetBySlug(ctx context.Context, slug string) (*models.Workspace, error)
	Create(ctx context.Context, ws *models.Workspace) error
	SetNatsAccount(ctx context.Context, slug, accountPub string) error
	List(ctx context.Context) ([]*models.Workspace, error)
}

type workspaceRepo struct {
	pool *pgxpool.Pool
}

// NewWorkspaceRepository creates a new workspace repository.
func NewWorkspaceRepository(pool *pgxpool.Pool) WorkspaceRepository {
	return &workspaceRepo{pool: pool}
}

// GetBySlug retrieves a workspace by slug. Returns (nil, nil) when the
// workspace does not exist.
func (r *workspaceRepo) GetBySlug(ctx context.Context, slug string) (*models.Workspace, error) {
	query := `
		SELECT slug, nats_account, created_at, updated_at
		FROM workspaces WHERE slug = $1`

	var ws models.Workspace
	err := r.pool.QueryRow(ctx, query, slug).Scan(
		&ws.Slug,
		&ws.NatsAccount,
		&ws.CreatedAt,
		&ws.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// Create inserts a new workspace. The insert trigger notifies the watcher.
func (r *workspaceRepo) Create(ctx context.Context, ws *models.Workspace) error {
	query := `
		INSERT INTO workspaces (slug, nats_account)
		VALUES ($1, $2)
		RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query, ws.Slug, ws.NatsAccount).
		Scan(&ws.CreatedAt, &ws.UpdatedAt)
}

// SetNatsAccount persists the tenant account public key for a workspace.
func (r *workspaceRepo) SetNatsAccount(ctx context.Context, slug, accountPub string) error {
	query := `
		UPDATE workspaces
		SET nats_account = $2, updated_at = now()
		WHERE slug = $1`

	tag, err := r.pool.Exec(ctx, query, slug, accountPub)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// List returns all workspaces ordered by slug.
func (r *workspaceRepo) List(ctx context.Context) ([]*models.Workspace, error) {
	query := `
		SELECT slug, nats_account, created_at, updated_at
		FROM workspaces ORDER BY slug`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []*models.Workspace
	for rows.Next() {
		var ws models.Workspace
		if err := rows.Scan(&ws.Slug, &ws.NatsAccount, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, &ws)
	}
	return workspaces, rows.Err()
}
