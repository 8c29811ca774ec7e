package ports

import (
	"context"

	"lmmpower/domain/core"
	"lmmpower/domain/power"
)

// ResultRepository persists completed power analyses
type ResultRepository interface {
	// Save stores an analysis; saving an existing ID replaces it
	Save(ctx context.Context, analysis *power.Analysis) error

	// Get retrieves an analysis by run ID
	Get(ctx context.Context, id core.RunID) (*power.Analysis, error)

	// List returns the most recent analyses, newest first
	List(ctx context.Context, limit int) ([]*power.Analysis, error)

	// Close releases the underlying connection
	Close() error
}
