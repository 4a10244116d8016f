package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/domain/profile"
	"fitclub_comms/internal/infra/memstore"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testOrg = "org-1"

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// fakeSender records attempts to the repository like the real senders do.
type fakeSender struct {
	ch   communication.Channel
	repo communication.Repository

	mu      sync.Mutex
	calls   int
	perUser map[string]int
	outcome func(r communication.Recipient) communication.AttemptStatus
	// onSend runs before delivery; it may block.
	onSend func(stop <-chan struct{})
}

func newFakeSender(ch communication.Channel, repo communication.Repository) *fakeSender {
	return &fakeSender{ch: ch, repo: repo, perUser: map[string]int{}}
}

func (f *fakeSender) Channel() communication.Channel { return f.ch }

func (f *fakeSender) Send(ctx context.Context, id string, batch []communication.Recipient, _ communication.RenderedContent, stop <-chan struct{}) []communication.DeliveryAttempt {
	f.mu.Lock()
	f.calls++
	for _, r := range batch {
		f.perUser[r.UserID]++
	}
	outcome := f.outcome
	onSend := f.onSend
	f.mu.Unlock()

	if onSend != nil {
		onSend(stop)
	}

	attempts := make([]communication.DeliveryAttempt, len(batch))
	for i, r := range batch {
		st := communication.AttemptSent
		if outcome != nil {
			st = outcome(r)
		}
		attempts[i] = communication.DeliveryAttempt{
			ID: uuid.NewString(), CommunicationID: id, UserID: r.UserID, Channel: f.ch, Status: st, AttemptedAt: time.Now(),
		}
	}
	_ = f.repo.AppendAttempts(ctx, attempts)
	return attempts
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	store   *memstore.Store
	svc     *Service
	senders map[communication.Channel]*fakeSender
	caller  *Caller
}

func newTestEnv(t *testing.T, policy communication.SuccessPolicy) *testEnv {
	t.Helper()
	store := memstore.New()
	repo := store.Communications()
	senders := map[communication.Channel]*fakeSender{}
	var list []Sender
	for _, ch := range communication.AllChannels {
		s := newFakeSender(ch, repo)
		senders[ch] = s
		list = append(list, s)
	}
	svc := NewService(repo, store.Profiles(), NewRecipientResolver(store.Profiles()), list, nil,
		ServiceConfig{Policy: policy, CancelPollInterval: 5 * time.Millisecond}, quietLog())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Wait(ctx)
	})
	return &testEnv{
		store:   store,
		svc:     svc,
		senders: senders,
		caller:  &Caller{UserID: "staff-1", OrgID: testOrg, Role: profile.RoleAdmin},
	}
}

func (e *testEnv) addProfile(id, role, email, phone, push string, tags ...string) {
	e.store.UpsertProfile(profile.Profile{
		ID: id, OrgID: testOrg, FullName: "User " + id, Role: role,
		Email: email, Phone: phone, PushToken: push, Tags: tags, IsActive: true,
	})
}

func (e *testEnv) create(t *testing.T, typ string, filter string) *communication.Communication {
	t.Helper()
	c, err := e.svc.Create(context.Background(), e.caller, CreateInput{
		Title: "Pool closed", Body: "The pool is closed on Monday.", Type: typ, Filter: json.RawMessage(filter),
	})
	require.NoError(t, err)
	return c
}

func profileWithPhone(id string) profile.Profile {
	return profile.Profile{ID: id, OrgID: testOrg, FullName: "User " + id, Role: "client", Phone: "+1555" + id, IsActive: true}
}
