package app

import (
	"context"
	"errors"
	"fmt"

	"fitclub_comms/internal/domain/profile"
)

// Caller is an authenticated staff member acting on their org's communications.
type Caller struct {
	UserID string
	OrgID  string
	Role   profile.Role
}

// StaffService resolves authenticated user ids into staff callers.
type StaffService struct {
	profiles *ProfileCache
}

func NewStaffService(profiles *ProfileCache) *StaffService {
	return &StaffService{profiles: profiles}
}

// Authorize looks the user up and checks they are active staff.
func (s *StaffService) Authorize(ctx context.Context, userID string) (*Caller, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load caller profile: %w", err)
	}
	role := p.CanonicalRole()
	if !p.IsActive || !role.IsStaff() {
		return nil, ErrNotStaff
	}
	return &Caller{UserID: p.ID, OrgID: p.OrgID, Role: role}, nil
}
