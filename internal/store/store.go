package store

import (
	"context"
	"time"

	"github.com/pressroom/api/internal/model"
)

// DocumentStore persists document state and owns the per-document lease used
// as the stage-execution admission check.
type DocumentStore interface {
	Save(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	// AcquireLease returns false when another stage execution is already in
	// flight for the document.
	AcquireLease(ctx context.Context, id string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, id string) error
}

// ConfigStore persists versioned stage configurations and the per-stage
// active pointer.
type ConfigStore interface {
	// GetActive returns the active config, or a NOT_CONFIGURED error if the
	// stage has never been configured.
	GetActive(ctx context.Context, stageID model.StageID) (*model.AIStepConfig, error)
	// Put allocates the next version, writes the record, and swaps the active
	// pointer. Concurrent writers serialize; the last commit wins observably.
	Put(ctx context.Context, cfg *model.AIStepConfig) (*model.AIStepConfig, error)
	GetVersion(ctx context.Context, stageID model.StageID, version int64) (*model.AIStepConfig, error)
	// ListVersions pages versions newest first. afterVersion==0 starts at the
	// newest; otherwise listing resumes strictly below afterVersion.
	ListVersions(ctx context.Context, stageID model.StageID, afterVersion int64, limit int) ([]model.AIStepConfig, error)
}

// VersionAllocator hands out strictly increasing artifact versions per
// (document, stage), starting at 1 with no gaps.
type VersionAllocator interface {
	NextVersion(ctx context.Context, documentID string, stageID model.StageID) (int64, error)
	CurrentVersion(ctx context.Context, documentID string, stageID model.StageID) (int64, error)
}
