package profile

import "strings"

// Role is a canonical club role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTrainer Role = "trainer"
	RoleStaff   Role = "staff"
	RoleAthlete Role = "athlete"
)

// roleAliases collapses the spellings found in upstream data onto canonical roles.
var roleAliases = map[string]Role{
	"admin":            RoleAdmin,
	"administrator":    RoleAdmin,
	"owner":            RoleAdmin,
	"trainer":          RoleTrainer,
	"pt":               RoleTrainer,
	"personal_trainer": RoleTrainer,
	"personal-trainer": RoleTrainer,
	"coach":            RoleTrainer,
	"staff":            RoleStaff,
	"employee":         RoleStaff,
	"reception":        RoleStaff,
	"athlete":          RoleAthlete,
	"member":           RoleAthlete,
	"client":           RoleAthlete,
}

// NormalizeRole maps a raw role spelling to its canonical role.
// Unknown spellings are returned lowercased and fail Valid.
func NormalizeRole(raw string) Role {
	key := strings.ToLower(strings.TrimSpace(raw))
	if r, ok := roleAliases[key]; ok {
		return r
	}
	return Role(key)
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTrainer, RoleStaff, RoleAthlete:
		return true
	}
	return false
}

// IsStaff reports whether the role may author and manage communications.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleTrainer || r == RoleStaff
}

// Aliases returns every raw spelling that normalizes to one of roles,
// for pushing role filters into a store query.
func Aliases(roles []Role) []string {
	want := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		want[r] = struct{}{}
	}
	out := make([]string, 0, len(roleAliases))
	for alias, r := range roleAliases {
		if _, ok := want[r]; ok {
			out = append(out, alias)
		}
	}
	return out
}
