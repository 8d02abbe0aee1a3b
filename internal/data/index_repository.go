package data

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLIndexRepository maintains the structured-data index, an inverted
// (title, name, value) table consulted by query evaluation.
type SQLIndexRepository struct {
	db *sqlx.DB
}

// NewSQLIndexRepository creates a new SQLIndexRepository.
func NewSQLIndexRepository(db *sqlx.DB) *SQLIndexRepository {
	return &SQLIndexRepository{db: db}
}

// RebuildIndex replaces every entry of title with entries.
func (r *SQLIndexRepository) RebuildIndex(ctx context.Context, title string, entries []IndexEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_data_index WHERE title = ?`, title); err != nil {
		return fmt.Errorf("failed to clear index of %q: %w", title, err)
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_data_index (title, name, value) VALUES (?, ?, ?)`,
			title, e.Name, e.Value); err != nil {
			return fmt.Errorf("failed to insert index entry: %w", err)
		}
	}
	return tx.Commit()
}

// UpdateIndex applies only the difference between old and new entries.
func (r *SQLIndexRepository) UpdateIndex(ctx context.Context, title string, old, new []IndexEntry) error {
	deletes, inserts := DiffEntries(old, new)
	if len(deletes) == 0 && len(inserts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index update: %w", err)
	}
	defer tx.Rollback()

	for _, e := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_data_index WHERE title = ? AND name = ? AND value = ?`,
			title, e.Name, e.Value); err != nil {
			return fmt.Errorf("failed to delete index entry: %w", err)
		}
	}
	for _, e := range inserts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_data_index (title, name, value) VALUES (?, ?, ?)`,
			title, e.Name, e.Value); err != nil {
			return fmt.Errorf("failed to insert index entry: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteByTitle removes every entry of title.
func (r *SQLIndexRepository) DeleteByTitle(ctx context.Context, title string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schema_data_index WHERE title = ?`, title); err != nil {
		return fmt.Errorf("failed to delete index of %q: %w", title, err)
	}
	return nil
}

// HasMatch reports whether title has the property name with value.
func (r *SQLIndexRepository) HasMatch(ctx context.Context, title, name, value string) (bool, error) {
	var n int
	query := `SELECT COUNT(*) FROM schema_data_index WHERE title = ? AND name = ? AND value = ?`
	if err := r.db.GetContext(ctx, &n, query, title, name, value); err != nil {
		return false, fmt.Errorf("failed to match index: %w", err)
	}
	return n > 0, nil
}

// TitlesByProperty returns the titles having name = value, sorted.
func (r *SQLIndexRepository) TitlesByProperty(ctx context.Context, name, value string) ([]string, error) {
	var titles []string
	query := `SELECT DISTINCT title FROM schema_data_index WHERE name = ? AND value = ? ORDER BY title`
	if err := r.db.SelectContext(ctx, &titles, query, name, value); err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	return titles, nil
}

// EntriesByTitle returns the indexed properties of title.
func (r *SQLIndexRepository) EntriesByTitle(ctx context.Context, title string) ([]IndexEntry, error) {
	var entries []IndexEntry
	query := `SELECT title, name, value FROM schema_data_index WHERE title = ? ORDER BY name, value`
	if err := r.db.SelectContext(ctx, &entries, query, title); err != nil {
		return nil, fmt.Errorf("failed to read index of %q: %w", title, err)
	}
	return entries, nil
}

// DiffEntries returns the (name, value) pairs to delete and to insert to
// turn old into new. Titles are ignored; duplicates collapse.
func DiffEntries(old, new []IndexEntry) (deletes, inserts []IndexEntry) {
	type pair struct{ name, value string }
	oldSet := make(map[pair]bool, len(old))
	for _, e := range old {
		oldSet[pair{e.Name, e.Value}] = true
	}
	newSet := make(map[pair]bool, len(new))
	for _, e := range new {
		p := pair{e.Name, e.Value}
		if !newSet[p] && !oldSet[p] {
			inserts = append(inserts, e)
		}
		newSet[p] = true
	}
	seen := make(map[pair]bool, len(old))
	for _, e := range old {
		p := pair{e.Name, e.Value}
		if !newSet[p] && !seen[p] {
			deletes = append(deletes, e)
		}
		seen[p] = true
	}
	return deletes, inserts
}
