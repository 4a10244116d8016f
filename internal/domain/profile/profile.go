package profile

import (
	"time"
)

// Profile is a club member as seen by the communications core.
// Profiles are owned by the auth/profile service; this core only reads them.
type Profile struct {
	ID        string
	OrgID     string
	FullName  string
	Email     string
	Phone     string
	PushToken string // FCM registration token or Telegram chat id, depending on the push provider
	Role      string // raw role as stored upstream; use NormalizeRole before comparing
	Tags      []string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanonicalRole returns the normalized role of the profile.
func (p *Profile) CanonicalRole() Role {
	return NormalizeRole(p.Role)
}
