package store

import (
	"context"
	"errors"

	"github.com/drydock-dev/drydock/internal/domain"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// RunStore persists pipeline runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.PipelineRun) error
	UpdateRun(ctx context.Context, run *domain.PipelineRun) error
	GetRun(ctx context.Context, id string) (*domain.PipelineRun, error)
}

// AttemptStore persists rolling-deployment attempts and answers the
// "what ran here last" question rollback targeting depends on.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error

	// LastPromotedImage returns the image of the most recent succeeded
	// attempt for the (host, workload) pair, or ErrNotFound.
	LastPromotedImage(ctx context.Context, host, workload string) (string, error)
}

// Store is the combined persistence surface the orchestrator uses.
type Store interface {
	RunStore
	AttemptStore
}
