// internal/domain/communication/repository.go
package communication

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("communication not found")
	ErrStatusConflict = errors.New("communication status changed concurrently")
)

// ListQuery filters and paginates List.
type ListQuery struct {
	OrgID  string
	Status Status // optional
	Type   Type   // optional
	Limit  int
	Offset int
}

// Repository defines persistence of communications and their delivery attempts.
type Repository interface {
	Create(ctx context.Context, c *Communication) error
	GetByID(ctx context.Context, id string) (*Communication, error)
	// UpdateDraft rewrites the editable fields, only while the row is still a draft.
	// Returns ErrStatusConflict when the row left draft.
	UpdateDraft(ctx context.Context, c *Communication) error

	// TransitionStatus atomically moves a row from one of `from` to `to`,
	// merging patch into metadata and bumping updated_at. It reports false
	// when no row matched, which is how concurrent triggers lose the race.
	TransitionStatus(ctx context.Context, id string, from []Status, to Status, patch Metadata) (bool, error)
	// SetSchedule moves draft -> scheduled with the given time (or back with nil).
	SetSchedule(ctx context.Context, id string, from Status, to Status, at *time.Time) (bool, error)
	// PatchMetadata merges patch into metadata while the row is in status.
	// It does not bump updated_at.
	PatchMetadata(ctx context.Context, id string, status Status, patch Metadata) (bool, error)

	List(ctx context.Context, q ListQuery) ([]*Communication, int, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*Communication, error)
	// ListStuck returns sending rows whose updated_at is older than staleBefore,
	// optionally narrowed to one id.
	ListStuck(ctx context.Context, staleBefore time.Time, id string) ([]*Communication, error)

	AppendAttempts(ctx context.Context, attempts []DeliveryAttempt) error
	ListAttempts(ctx context.Context, communicationID string) ([]DeliveryAttempt, error)
	SummarizeAttempts(ctx context.Context, communicationID string) (AttemptSummary, error)
}
