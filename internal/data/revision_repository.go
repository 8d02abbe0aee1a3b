package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLRevisionRepository stores the append-only revision log.
type SQLRevisionRepository struct {
	db *sqlx.DB
}

// NewSQLRevisionRepository creates a new SQLRevisionRepository.
func NewSQLRevisionRepository(db *sqlx.DB) *SQLRevisionRepository {
	return &SQLRevisionRepository{db: db}
}

// SaveRevision appends a snapshot. Snapshots are never updated.
func (r *SQLRevisionRepository) SaveRevision(ctx context.Context, rev *Revision) error {
	query := `INSERT INTO revisions (title, revision, body, comment, modifier, created_at)
		VALUES (:title, :revision, :body, :comment, :modifier, :created_at)`
	res, err := r.db.NamedExecContext(ctx, query, rev)
	if err != nil {
		return fmt.Errorf("failed to save revision %d of %q: %w", rev.Revision, rev.Title, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rev.ID = id
	}
	return nil
}

// ListRevisions returns every revision of title, newest first.
func (r *SQLRevisionRepository) ListRevisions(ctx context.Context, title string) ([]*Revision, error) {
	var revs []*Revision
	query := `SELECT id, title, revision, body, comment, modifier, created_at FROM revisions
		WHERE title = ? ORDER BY revision DESC`
	if err := r.db.SelectContext(ctx, &revs, query, title); err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	return revs, nil
}

// GetRevision returns one revision, or nil, nil when it does not exist.
func (r *SQLRevisionRepository) GetRevision(ctx context.Context, title string, revision int) (*Revision, error) {
	var rev Revision
	query := `SELECT id, title, revision, body, comment, modifier, created_at FROM revisions
		WHERE title = ? AND revision = ?`
	if err := r.db.GetContext(ctx, &rev, query, title, revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}
	return &rev, nil
}

// DeleteRevisions removes the whole log of title.
func (r *SQLRevisionRepository) DeleteRevisions(ctx context.Context, title string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM revisions WHERE title = ?`, title); err != nil {
		return fmt.Errorf("failed to delete revisions of %q: %w", title, err)
	}
	return nil
}
