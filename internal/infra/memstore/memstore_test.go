package memstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/domain/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionStatus_OnlyOneConcurrentClaimWins(t *testing.T) {
	s := New()
	repo := s.Communications()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &communication.Communication{ID: "c1", OrgID: "o", Status: communication.StatusDraft, RecipientFilter: communication.AllUsers{}}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TransitionStatus(ctx, "c1", communication.SendableStatuses, communication.StatusSending, nil)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTransitionStatus_BumpsUpdatedAtAndMergesMetadata(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	repo := s.Communications()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &communication.Communication{ID: "c1", Status: communication.StatusDraft, RecipientFilter: communication.AllUsers{}, Metadata: communication.Metadata{"a": 1}}))

	now = now.Add(time.Minute)
	ok, err := repo.TransitionStatus(ctx, "c1", []communication.Status{communication.StatusDraft}, communication.StatusCancelled, communication.Metadata{"b": 2})
	require.NoError(t, err)
	require.True(t, ok)

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, now, c.UpdatedAt)
	assert.Equal(t, communication.Metadata{"a": 1, "b": 2}, c.Metadata)
}

func TestPatchMetadata_DoesNotBumpUpdatedAt(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	repo := s.Communications()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &communication.Communication{ID: "c1", Status: communication.StatusSending, RecipientFilter: communication.AllUsers{}}))

	now = now.Add(time.Hour)
	ok, err := repo.PatchMetadata(ctx, "c1", communication.StatusSending, communication.Metadata{communication.MetaCancelRequestedAt: "x"})
	require.NoError(t, err)
	require.True(t, ok)

	c, _ := repo.GetByID(ctx, "c1")
	assert.Equal(t, now.Add(-time.Hour), c.UpdatedAt)
	assert.Equal(t, "x", c.Metadata[communication.MetaCancelRequestedAt])
}

func TestGetByID_ReturnsCopies(t *testing.T) {
	s := New()
	repo := s.Communications()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &communication.Communication{ID: "c1", Status: communication.StatusDraft, RecipientFilter: communication.AllUsers{}}))

	c, _ := repo.GetByID(ctx, "c1")
	c.Metadata["x"] = "mutated"
	c.Status = communication.StatusSent

	again, _ := repo.GetByID(ctx, "c1")
	assert.Equal(t, communication.StatusDraft, again.Status)
	assert.NotContains(t, again.Metadata, "x")
}

func TestProfileQueries(t *testing.T) {
	s := New()
	s.UpsertProfile(profile.Profile{ID: "u2", OrgID: "o", Role: "PT", Tags: []string{"Morning"}, IsActive: true})
	s.UpsertProfile(profile.Profile{ID: "u1", OrgID: "o", Role: "member", Tags: []string{"vip"}, IsActive: true})
	s.UpsertProfile(profile.Profile{ID: "u3", OrgID: "o", Role: "pt", IsActive: false})
	s.UpsertProfile(profile.Profile{ID: "u4", OrgID: "other", Role: "pt", IsActive: true})
	repo := s.Profiles()
	ctx := context.Background()

	active, _ := repo.ListActive(ctx, "o")
	assert.Equal(t, []string{"u1", "u2"}, ids(active))

	byRole, _ := repo.ListByRoles(ctx, "o", []string{"pt"})
	assert.Equal(t, []string{"u2"}, ids(byRole))

	byTag, _ := repo.ListByTags(ctx, "o", []string{"morning", "none"})
	assert.Equal(t, []string{"u2"}, ids(byTag))

	byID, _ := repo.ListByIDs(ctx, "o", []string{"u3", "u4", "u1"})
	assert.Equal(t, []string{"u1", "u3"}, ids(byID), "inactive included, other org excluded")
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id":"u1","org_id":"o","full_name":"Ann","email":"ann@example.com","role":"coach"},
		{"id":"u2","org_id":"o","role":"member","is_active":false}
	]`), 0o600))

	s := New()
	n, err := s.LoadProfiles(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := s.Profiles().GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Equal(t, profile.RoleTrainer, p.CanonicalRole())

	p2, _ := s.Profiles().GetByID(context.Background(), "u2")
	assert.False(t, p2.IsActive)
}

func ids(ps []*profile.Profile) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
