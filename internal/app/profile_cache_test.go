package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"fitclub_comms/internal/domain/profile"
	"fitclub_comms/internal/infra/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProfiles struct {
	profile.Repository
	gets int
	err  error
}

func (c *countingProfiles) GetByID(ctx context.Context, id string) (*profile.Profile, error) {
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	return c.Repository.GetByID(ctx, id)
}

func newCountingProfiles(ps ...profile.Profile) *countingProfiles {
	store := memstore.New()
	for _, p := range ps {
		store.UpsertProfile(p)
	}
	return &countingProfiles{Repository: store.Profiles()}
}

func TestProfileCache_HitsUntilExpiry(t *testing.T) {
	repo := newCountingProfiles(profile.Profile{ID: "s1", OrgID: testOrg, Role: "admin", Tags: []string{"ops"}, IsActive: true})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := NewProfileCache(repo, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	p, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	p.Tags[0] = "mutated"

	p, err = cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, p.Tags)
	assert.Equal(t, 1, repo.gets)

	now = now.Add(61 * time.Second)
	_, err = cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.gets)
	assert.Equal(t, 1, cache.Len())
}

func TestProfileCache_DoesNotCacheErrors(t *testing.T) {
	repo := newCountingProfiles()
	cache := NewProfileCache(repo, time.Minute)

	_, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, profile.ErrNotFound)
	_, err = cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, profile.ErrNotFound)
	assert.Equal(t, 2, repo.gets)
	assert.Zero(t, cache.Len())
}

func TestProfileCache_InvalidateAndPurge(t *testing.T) {
	repo := newCountingProfiles(
		profile.Profile{ID: "a", OrgID: testOrg, IsActive: true},
		profile.Profile{ID: "b", OrgID: testOrg, IsActive: true},
	)
	cache := NewProfileCache(repo, time.Hour)
	ctx := context.Background()
	_, _ = cache.Get(ctx, "a")
	_, _ = cache.Get(ctx, "b")
	require.Equal(t, 2, cache.Len())

	cache.Invalidate("a")
	assert.Equal(t, 1, cache.Len())
	_, _ = cache.Get(ctx, "a")
	assert.Equal(t, 3, repo.gets)

	cache.Purge()
	assert.Zero(t, cache.Len())
}

func TestProfileCache_ZeroTTLAlwaysLoads(t *testing.T) {
	repo := newCountingProfiles(profile.Profile{ID: "a", OrgID: testOrg, IsActive: true})
	cache := NewProfileCache(repo, 0)
	for i := 0; i < 3; i++ {
		_, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, repo.gets)
}

func TestStaffService_Authorize(t *testing.T) {
	repo := newCountingProfiles(
		profile.Profile{ID: "admin", OrgID: testOrg, Role: "Owner", IsActive: true},
		profile.Profile{ID: "coach", OrgID: testOrg, Role: "pt", IsActive: true},
		profile.Profile{ID: "member", OrgID: testOrg, Role: "member", IsActive: true},
		profile.Profile{ID: "former", OrgID: testOrg, Role: "admin", IsActive: false},
	)
	staff := NewStaffService(NewProfileCache(repo, time.Minute))
	ctx := context.Background()

	c, err := staff.Authorize(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, &Caller{UserID: "admin", OrgID: testOrg, Role: profile.RoleAdmin}, c)

	c, err = staff.Authorize(ctx, "coach")
	require.NoError(t, err)
	assert.Equal(t, profile.RoleTrainer, c.Role)

	for id, want := range map[string]error{
		"":       ErrUnauthenticated,
		"ghost":  ErrUnauthenticated,
		"member": ErrNotStaff,
		"former": ErrNotStaff,
	} {
		_, err := staff.Authorize(ctx, id)
		assert.ErrorIs(t, err, want, "user %q", id)
	}
}

func TestStaffService_StoreErrorIsNotAuthFailure(t *testing.T) {
	repo := newCountingProfiles()
	repo.err = errors.New("connection refused")
	staff := NewStaffService(NewProfileCache(repo, time.Minute))

	_, err := staff.Authorize(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrNotStaff)
}
