package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SQLReconcileRepository persists derived-state updates that must be retried.
type SQLReconcileRepository struct {
	db *sqlx.DB
}

// NewSQLReconcileRepository creates a new SQLReconcileRepository.
func NewSQLReconcileRepository(db *sqlx.DB) *SQLReconcileRepository {
	return &SQLReconcileRepository{db: db}
}

// Enqueue stores job, assigning an id and creation time when missing.
func (r *SQLReconcileRepository) Enqueue(ctx context.Context, job *ReconcileJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO reconcile_jobs (id, op, target, relation, other, attempts, last_error, created_at)
		VALUES (:id, :op, :target, :relation, :other, :attempts, :last_error, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("failed to enqueue reconcile job: %w", err)
	}
	return nil
}

// Pending returns up to limit jobs, oldest first.
func (r *SQLReconcileRepository) Pending(ctx context.Context, limit int) ([]*ReconcileJob, error) {
	var jobs []*ReconcileJob
	query := `SELECT id, op, target, relation, other, attempts, last_error, created_at FROM reconcile_jobs
		ORDER BY created_at, id LIMIT ?`
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list reconcile jobs: %w", err)
	}
	return jobs, nil
}

// Complete removes a job that succeeded.
func (r *SQLReconcileRepository) Complete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reconcile_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to complete reconcile job: %w", err)
	}
	return nil
}

// Fail records another failed attempt of a job.
func (r *SQLReconcileRepository) Fail(ctx context.Context, id string, cause error) error {
	query := `UPDATE reconcile_jobs SET attempts = attempts + 1, last_error = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, cause.Error(), id); err != nil {
		return fmt.Errorf("failed to record reconcile failure: %w", err)
	}
	return nil
}
