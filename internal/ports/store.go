package ports

import (
	"context"
	"time"

	"omnipost/internal/domain"
)

// TaskStore persists publish jobs. Lookups of absent rows fail with an error
// matching domain.ErrNotFound; an unreachable store fails with
// *domain.PersistenceError.
type TaskStore interface {
	Create(ctx context.Context, t domain.NewTask) (string, error)
	Get(ctx context.Context, id string) (*domain.Task, error)
	// UpdateStatus is a partial write that always refreshes updated_at. It
	// fails with domain.ErrTerminal when the task is completed or failed.
	UpdateStatus(ctx context.Context, id string, u domain.TaskUpdate) error
	// List returns every task, most recent first.
	List(ctx context.Context) ([]domain.Task, error)
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
}

type CredentialStore interface {
	Get(ctx context.Context, id int64) (*domain.Credential, error)
	GetByRef(ctx context.Context, ref string) (*domain.Credential, error)
	List(ctx context.Context, platform *domain.Platform) ([]domain.Credential, error)
	ListByGroup(ctx context.Context, groupID int64) ([]domain.Credential, error)
	// ListStale returns credentials never validated or validated before
	// olderThan, oldest first.
	ListStale(ctx context.Context, olderThan time.Time) ([]domain.Credential, error)
	// Upsert inserts or overwrites the row keyed by (platform, label). An
	// existing group is kept unless c.GroupID is set.
	Upsert(ctx context.Context, c domain.IssuedCredential) (*domain.Credential, error)
	SetValidation(ctx context.Context, id int64, status domain.CredentialStatus, at time.Time) error
	Rename(ctx context.Context, id int64, platform domain.Platform, label string) error
	Delete(ctx context.Context, id int64) (*domain.Credential, error)
	// Counts tallies credentials by platform and recorded status.
	Counts(ctx context.Context) ([]domain.CredentialCount, error)
}

type GroupStore interface {
	List(ctx context.Context) ([]domain.Group, error)
	Get(ctx context.Context, id int64) (*domain.Group, error)
	Create(ctx context.Context, name, description string) (*domain.Group, error)
	// Ensure returns the id of the group called name, creating it if needed.
	Ensure(ctx context.Context, name string) (int64, error)
	Update(ctx context.Context, id int64, name, description string) error
	// Delete fails with domain.ErrGroupInUse while credentials reference it.
	Delete(ctx context.Context, id int64) error
}

// Lease grants one holder at a time the right to run a keyed job.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
