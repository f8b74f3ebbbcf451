package journal

import (
	"context"
	"time"

	"github.com/depot-assets/depot/internal/assets"
)

// LoadEvent is one settled backend load, success or failure.
type LoadEvent struct {
	ID         string
	Path       string
	Type       assets.TypeTag
	Outcome    string
	Duration   time.Duration
	OccurredAt time.Time
}

// Journal records load history for diagnostics. Implementations handle
// their own error reporting; callers treat failures as non-fatal.
type Journal interface {
	RecordLoad(ctx context.Context, event LoadEvent) error
	RecentLoads(ctx context.Context, limit int) ([]LoadEvent, error)
}
