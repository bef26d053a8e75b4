package modelversion

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines catalog persistence for model versions
type Repository interface {
	// Create inserts a new catalog row
	Create(ctx context.Context, mv *ModelVersion) error

	// GetByID retrieves a version by identifier
	GetByID(ctx context.Context, id uuid.UUID) (*ModelVersion, error)

	// GetByTag retrieves a version by its tag
	GetByTag(ctx context.Context, tag string) (*ModelVersion, error)

	// List returns versions ordered by training date, most recent first
	List(ctx context.Context, limit int) ([]*ModelVersion, error)

	// GetProduction returns the current production version, or nil when no
	// model has been promoted yet. The nil result is an expected state,
	// not an error.
	GetProduction(ctx context.Context) (*ModelVersion, error)

	// SetProduction promotes the given version. The previous production
	// flag is unset and the new one set inside a single transaction, so
	// there is never a window with zero or two production rows. Returns
	// ErrNotFound when the id does not exist, leaving flags untouched.
	SetProduction(ctx context.Context, id uuid.UUID) (*ModelVersion, error)

	// Delete removes a catalog row
	Delete(ctx context.Context, id uuid.UUID) error
}
