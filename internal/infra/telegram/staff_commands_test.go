package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"fitclub_comms/internal/app"
	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/infra/memstore"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatchdog struct {
	got app.StuckQuery
	rep *app.StuckReport
	err error
}

func (f *fakeWatchdog) CheckStuck(_ context.Context, q app.StuckQuery) (*app.StuckReport, error) {
	f.got = q
	return f.rep, f.err
}

type fakeDue struct {
	rep *app.DueReport
	err error
}

func (f *fakeDue) DispatchDue(context.Context) (*app.DueReport, error) { return f.rep, f.err }

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestStaffCommands_CheckStuck(t *testing.T) {
	since := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	wd := &fakeWatchdog{rep: &app.StuckReport{Found: 1, Reset: 1, Communications: []app.StuckCommunication{
		{ID: "c1", Title: "Pool closed", WasStuckSince: since},
	}}}
	cmds := NewStaffCommands(wd, &fakeDue{}, nil, quietLog())

	msg := cmds.CheckStuck(context.Background(), []string{"c1"})
	assert.Equal(t, "c1", wd.got.CommunicationID)
	assert.Equal(t, "Found 1 stuck, reset 1:\n- c1 \"Pool closed\", sending since 2026-05-01T08:00:00Z", msg)

	assert.Contains(t, cmds.CheckStuck(context.Background(), []string{"a", "b"}), "Usage")

	wd.rep = &app.StuckReport{}
	assert.Equal(t, "No stuck communications.", cmds.CheckStuck(context.Background(), nil))

	wd.err = errors.New("db down")
	assert.Contains(t, cmds.CheckStuck(context.Background(), nil), "Error")
}

func TestStaffCommands_DispatchDue(t *testing.T) {
	due := &fakeDue{rep: &app.DueReport{Found: 3, Started: []string{"c1", "c2"}, Skipped: 1}}
	cmds := NewStaffCommands(&fakeWatchdog{}, due, nil, quietLog())

	assert.Equal(t, "Due: 3, started: 2, skipped: 1.\nc1\nc2", cmds.DispatchDue(context.Background()))

	due.rep = &app.DueReport{Started: []string{}}
	assert.Equal(t, "Nothing is due.", cmds.DispatchDue(context.Background()))
}

func TestStaffCommands_Communication(t *testing.T) {
	store := memstore.New()
	repo := store.Communications()
	ctx := context.Background()
	c := &communication.Communication{
		ID: "c1", OrgID: "org", Title: "Pool closed", Body: "b", Type: communication.TypeSMS,
		Status: communication.StatusDraft, RecipientFilter: communication.AllUsers{}, Metadata: communication.Metadata{},
	}
	require.NoError(t, repo.Create(ctx, c))
	_, err := repo.TransitionStatus(ctx, "c1", communication.SendableStatuses, communication.StatusSending, nil)
	require.NoError(t, err)
	require.NoError(t, repo.AppendAttempts(ctx, []communication.DeliveryAttempt{
		{ID: "a1", CommunicationID: "c1", UserID: "u1", Channel: communication.ChannelSMS, Status: communication.AttemptSent, AttemptedAt: time.Now()},
		{ID: "a2", CommunicationID: "c1", UserID: "u2", Channel: communication.ChannelSMS, Status: communication.AttemptBounced, AttemptedAt: time.Now()},
	}))
	_, err = repo.TransitionStatus(ctx, "c1", []communication.Status{communication.StatusSending}, communication.StatusFailed,
		communication.Metadata{communication.MetaError: "send timed out"})
	require.NoError(t, err)

	cmds := NewStaffCommands(&fakeWatchdog{}, &fakeDue{}, repo, quietLog())
	assert.Equal(t, "Pool closed (sms)\nStatus: failed\nAttempts: 2 (sent 1, failed 0, bounced 1)\nError: send timed out",
		cmds.Communication(ctx, []string{"c1"}))
	assert.Equal(t, "Communication nope not found.", cmds.Communication(ctx, []string{"nope"}))
	assert.Contains(t, cmds.Communication(ctx, nil), "Usage")
}

func TestHelpTexts(t *testing.T) {
	assert.Contains(t, adminHelp(), "/check_stuck")
	assert.Contains(t, memberGreeting("", 42), "Hi there!")
	assert.Contains(t, memberGreeting("Ana", 42), "Your chat id is 42")
}
