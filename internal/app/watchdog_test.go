package app

import (
	"context"
	"testing"
	"time"

	"fitclub_comms/internal/domain/communication"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sendingSince creates a communication and leaves it in sending with
// updated_at set to at.
func (e *testEnv) sendingSince(t *testing.T, at time.Time) *communication.Communication {
	t.Helper()
	c := e.create(t, "email", `{"all_users":true}`)
	ok, err := e.store.Communications().TransitionStatus(context.Background(), c.ID, communication.SendableStatuses, communication.StatusSending, nil)
	require.NoError(t, err)
	require.True(t, ok)
	e.store.Touch(c.ID, at)
	return c
}

func TestCheckStuck_ResetsOnlyPastThreshold(t *testing.T) {
	env := newTestEnv(t, communication.DefaultSuccessPolicy)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stale := env.sendingSince(t, now.Add(-11*time.Minute))
	fresh := env.sendingSince(t, now.Add(-9*time.Minute))

	w := NewWatchdog(env.store.Communications(), DefaultStuckThreshold, quietLog()).WithClock(func() time.Time { return now })
	rep, err := w.CheckStuck(ctx, StuckQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Found)
	assert.Equal(t, 1, rep.Reset)
	require.Len(t, rep.Communications, 1)
	assert.Equal(t, stale.ID, rep.Communications[0].ID)
	assert.True(t, rep.Communications[0].WasStuckSince.Equal(now.Add(-11*time.Minute)))

	got, err := env.store.Communications().GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, communication.StatusFailed, got.Status)
	assert.Equal(t, StuckTimeoutReason, got.Metadata[communication.MetaError])
	assert.Equal(t, "2026-03-02T09:00:00Z", got.Metadata[communication.MetaStuckDetectedAt])
	assert.Equal(t, "2026-03-02T08:49:00Z", got.Metadata[communication.MetaWasStuckSince])

	got, err = env.store.Communications().GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, communication.StatusSending, got.Status)
}

func TestCheckStuck_SecondSweepFindsNothing(t *testing.T) {
	env := newTestEnv(t, communication.DefaultSuccessPolicy)
	now := time.Now()
	env.sendingSince(t, now.Add(-30*time.Minute))
	w := NewWatchdog(env.store.Communications(), 0, quietLog()).WithClock(func() time.Time { return now })

	first, err := w.CheckStuck(context.Background(), StuckQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Reset)

	second, err := w.CheckStuck(context.Background(), StuckQuery{})
	require.NoError(t, err)
	assert.Zero(t, second.Found)
	assert.Zero(t, second.Reset)
	assert.NotNil(t, second.Communications)
}

func TestCheckStuck_SingleCommunication(t *testing.T) {
	env := newTestEnv(t, communication.DefaultSuccessPolicy)
	now := time.Now()
	target := env.sendingSince(t, now.Add(-15*time.Minute))
	other := env.sendingSince(t, now.Add(-15*time.Minute))
	w := NewWatchdog(env.store.Communications(), DefaultStuckThreshold, quietLog()).WithClock(func() time.Time { return now })

	rep, err := w.CheckStuck(context.Background(), StuckQuery{CommunicationID: target.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reset)

	got, _ := env.store.Communications().GetByID(context.Background(), other.ID)
	assert.Equal(t, communication.StatusSending, got.Status)
}

func TestCheckStuck_ScopedToOrg(t *testing.T) {
	env := newTestEnv(t, communication.DefaultSuccessPolicy)
	now := time.Now()
	c := env.sendingSince(t, now.Add(-time.Hour))
	w := NewWatchdog(env.store.Communications(), DefaultStuckThreshold, quietLog()).WithClock(func() time.Time { return now })

	rep, err := w.CheckStuck(context.Background(), StuckQuery{OrgID: "org-2"})
	require.NoError(t, err)
	assert.Zero(t, rep.Found)

	rep, err = w.CheckStuck(context.Background(), StuckQuery{OrgID: testOrg})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reset)
	assert.Equal(t, c.ID, rep.Communications[0].ID)
}
