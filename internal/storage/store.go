package storage

import (
	"context"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
)

// RunStore keeps the history of engine runs across restarts.
// Implementations must be safe for concurrent use.
type RunStore interface {
	CreateRun(ctx context.Context, run *core.Run) error
	// UpdateRun replaces a run that already exists.
	UpdateRun(ctx context.Context, run *core.Run) error
	GetRun(ctx context.Context, id string) (*core.Run, error)
	// ListRuns returns runs sorted by creation time.
	ListRuns(ctx context.Context) ([]*core.Run, error)
	Close() error
}
