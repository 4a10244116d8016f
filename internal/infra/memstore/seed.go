package memstore

import (
	"encoding/json"
	"fmt"
	"os"

	"fitclub_comms/internal/domain/profile"
)

type seedProfile struct {
	ID        string   `json:"id"`
	OrgID     string   `json:"org_id"`
	FullName  string   `json:"full_name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	PushToken string   `json:"push_token"`
	Role      string   `json:"role"`
	Tags      []string `json:"tags"`
	IsActive  *bool    `json:"is_active"`
}

// LoadProfiles seeds profiles from a JSON array file. Profiles default to active.
func (s *Store) LoadProfiles(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read profile seed file: %w", err)
	}
	var seeds []seedProfile
	if err := json.Unmarshal(raw, &seeds); err != nil {
		return 0, fmt.Errorf("failed to parse profile seed file %s: %w", path, err)
	}
	for i, sp := range seeds {
		if sp.ID == "" || sp.OrgID == "" {
			return i, fmt.Errorf("profile seed #%d: id and org_id are required", i)
		}
		active := true
		if sp.IsActive != nil {
			active = *sp.IsActive
		}
		s.UpsertProfile(profile.Profile{
			ID:        sp.ID,
			OrgID:     sp.OrgID,
			FullName:  sp.FullName,
			Email:     sp.Email,
			Phone:     sp.Phone,
			PushToken: sp.PushToken,
			Role:      sp.Role,
			Tags:      sp.Tags,
			IsActive:  active,
		})
	}
	return len(seeds), nil
}
