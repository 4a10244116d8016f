package profile

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("profile not found")

// Repository defines read access to club profiles.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	ListActive(ctx context.Context, orgID string) ([]*Profile, error)
	// ListByIDs returns the profiles among ids that exist in org, active or not.
	ListByIDs(ctx context.Context, orgID string, ids []string) ([]*Profile, error)
	// ListByRoles returns active profiles whose raw role is one of rawRoles (case-insensitive).
	ListByRoles(ctx context.Context, orgID string, rawRoles []string) ([]*Profile, error)
	// ListByTags returns active profiles sharing at least one tag.
	ListByTags(ctx context.Context, orgID string, tags []string) ([]*Profile, error)
}
