package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const pageColumns = `title, body, revision, description, comment, modifier, acl_read, acl_write, itemtype_path,
	redirect, updated_at, published_at, published_to, older_title, newer_title, inlinks, outlinks, related_links`

// SQLPageRepository is a concrete implementation of the page store using sqlx.
type SQLPageRepository struct {
	db *sqlx.DB
}

// NewSQLPageRepository creates a new SQLPageRepository.
func NewSQLPageRepository(db *sqlx.DB) *SQLPageRepository {
	return &SQLPageRepository{db: db}
}

// GetPageByTitle retrieves a single page by its title. It returns nil, nil
// when no row exists.
func (r *SQLPageRepository) GetPageByTitle(ctx context.Context, title string) (*Page, error) {
	var page Page
	query := `SELECT ` + pageColumns + ` FROM pages WHERE title = ?`
	if err := r.db.GetContext(ctx, &page, query, title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found is not an error
		}
		return nil, fmt.Errorf("failed to get page by title: %w", err)
	}
	return &page, nil
}

// SavePage inserts or replaces the page row.
func (r *SQLPageRepository) SavePage(ctx context.Context, page *Page) error {
	query := `REPLACE INTO pages (` + pageColumns + `) VALUES (:title, :body, :revision, :description, :comment,
		:modifier, :acl_read, :acl_write, :itemtype_path, :redirect, :updated_at, :published_at, :published_to,
		:older_title, :newer_title, :inlinks, :outlinks, :related_links)`
	if _, err := r.db.NamedExecContext(ctx, query, page); err != nil {
		return fmt.Errorf("failed to save page %q: %w", page.Title, err)
	}
	return nil
}

// DeletePage removes the page row. Deleting a missing row is not an error.
func (r *SQLPageRepository) DeletePage(ctx context.Context, title string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pages WHERE title = ?`, title); err != nil {
		return fmt.Errorf("failed to delete page %q: %w", title, err)
	}
	return nil
}

// ListTitles returns the titles of every authored page with their read ACL.
func (r *SQLPageRepository) ListTitles(ctx context.Context) ([]*Page, error) {
	var pages []*Page
	query := `SELECT title, acl_read, acl_write, updated_at FROM pages WHERE revision > 0 ORDER BY title`
	if err := r.db.SelectContext(ctx, &pages, query); err != nil {
		return nil, fmt.Errorf("failed to list titles: %w", err)
	}
	return pages, nil
}

// ListChanges returns authored pages ordered by most recent update.
func (r *SQLPageRepository) ListChanges(ctx context.Context, offset, limit int) ([]*Page, error) {
	var pages []*Page
	query := `SELECT ` + pageColumns + ` FROM pages WHERE revision > 0 AND updated_at IS NOT NULL
		ORDER BY updated_at DESC, title LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &pages, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	return pages, nil
}

// ListUpdatedSince returns titles of authored pages updated at or after since.
func (r *SQLPageRepository) ListUpdatedSince(ctx context.Context, since time.Time) ([]string, error) {
	var titles []string
	query := `SELECT title FROM pages WHERE revision > 0 AND updated_at >= ? ORDER BY updated_at DESC`
	if err := r.db.SelectContext(ctx, &titles, query, since); err != nil {
		return nil, fmt.Errorf("failed to list recently updated pages: %w", err)
	}
	return titles, nil
}

// ListPosts returns pages published under target, newest first.
func (r *SQLPageRepository) ListPosts(ctx context.Context, target string, offset, limit int) ([]*Page, error) {
	var pages []*Page
	query := `SELECT ` + pageColumns + ` FROM pages WHERE published_at IS NOT NULL AND published_to = ?
		ORDER BY published_at DESC, title LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &pages, query, target, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return pages, nil
}

// FindPublishedHead returns the newest post under target other than exclude,
// or nil when the chronology is empty.
func (r *SQLPageRepository) FindPublishedHead(ctx context.Context, target, exclude string) (*Page, error) {
	var page Page
	query := `SELECT ` + pageColumns + ` FROM pages WHERE published_at IS NOT NULL AND published_to = ?
		AND newer_title = '' AND title <> ? ORDER BY published_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &page, query, target, exclude); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find newest post: %w", err)
	}
	return &page, nil
}
