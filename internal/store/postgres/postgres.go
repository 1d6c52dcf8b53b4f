package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drydock-dev/drydock/internal/domain"
	"github.com/drydock-dev/drydock/internal/store"
)

// Repository implements the store interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ store.Store = (*Repository)(nil)

// Connect opens a pgx pool against databaseURL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// CreateRun inserts a pipeline run record.
func (r *Repository) CreateRun(ctx context.Context, run *domain.PipelineRun) error {
	const query = `INSERT INTO pipeline_runs (id, repo_url, host, workload, port, phase, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, run.ID, run.RepoURL, run.Host, run.Workload, run.Port, run.Phase, run.StartedAt)
	return err
}

// UpdateRun persists the run's current phase and terminal fields.
func (r *Repository) UpdateRun(ctx context.Context, run *domain.PipelineRun) error {
	const query = `UPDATE pipeline_runs
		SET phase = $2, failed_phase = $3, error = $4, commit_sha = $5, image = $6,
		    rollback_performed = $7, completed_at = $8, duration_ms = $9
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, run.ID, run.Phase, nullable(run.FailedPhase), nullable(run.Error),
		nullable(run.CommitSHA), nullable(run.Image), run.RollbackPerformed, run.CompletedAt, run.Duration.Milliseconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun fetches a pipeline run by id.
func (r *Repository) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	const query = `SELECT id, repo_url, host, workload, port, phase, failed_phase, error,
		commit_sha, image, rollback_performed, started_at, completed_at, duration_ms
		FROM pipeline_runs WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var (
		run         domain.PipelineRun
		failedPhase *string
		errMsg      *string
		commitSHA   *string
		image       *string
		durationMS  int64
	)
	if err := row.Scan(&run.ID, &run.RepoURL, &run.Host, &run.Workload, &run.Port, &run.Phase,
		&failedPhase, &errMsg, &commitSHA, &image, &run.RollbackPerformed,
		&run.StartedAt, &run.CompletedAt, &durationMS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	run.FailedPhase = deref(failedPhase)
	run.Error = deref(errMsg)
	run.CommitSHA = deref(commitSHA)
	run.Image = deref(image)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}

// SaveAttempt upserts a deployment attempt record.
func (r *Repository) SaveAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error {
	const query = `INSERT INTO deployment_attempts
		(id, host, workload, image, previous_image, port, health_path, outcome, failure_reason, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			failure_reason = EXCLUDED.failure_reason,
			completed_at = EXCLUDED.completed_at`
	_, err := r.pool.Exec(ctx, query, attempt.ID, attempt.Host, attempt.Workload, attempt.Image,
		nullable(attempt.PreviousImage), attempt.Port, nullable(attempt.HealthPath),
		nullable(attempt.Outcome), nullable(attempt.FailureReason), attempt.StartedAt, attempt.CompletedAt)
	return err
}

// LastPromotedImage returns the image of the most recent succeeded attempt
// for the (host, workload) pair.
func (r *Repository) LastPromotedImage(ctx context.Context, host, workload string) (string, error) {
	const query = `SELECT image FROM deployment_attempts
		WHERE host = $1 AND workload = $2 AND outcome = $3
		ORDER BY completed_at DESC LIMIT 1`
	var image string
	if err := r.pool.QueryRow(ctx, query, host, workload, domain.OutcomeSucceeded).Scan(&image); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return image, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
