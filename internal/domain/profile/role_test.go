package profile

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRole(t *testing.T) {
	tests := map[string]Role{
		"admin":            RoleAdmin,
		" Owner ":          RoleAdmin,
		"PT":               RoleTrainer,
		"Personal-Trainer": RoleTrainer,
		"reception":        RoleStaff,
		"member":           RoleAthlete,
		"Janitor":          Role("janitor"),
	}
	for raw, want := range tests {
		assert.Equal(t, want, NormalizeRole(raw), "raw %q", raw)
	}
	assert.False(t, NormalizeRole("janitor").Valid())
}

func TestRole_IsStaff(t *testing.T) {
	assert.True(t, RoleAdmin.IsStaff())
	assert.True(t, RoleTrainer.IsStaff())
	assert.True(t, RoleStaff.IsStaff())
	assert.False(t, RoleAthlete.IsStaff())
}

func TestAliases(t *testing.T) {
	got := Aliases([]Role{RoleAthlete})
	sort.Strings(got)
	assert.Equal(t, []string{"athlete", "client", "member"}, got)
	assert.Empty(t, Aliases(nil))
}
