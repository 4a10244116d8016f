// Package memstore is an in-process storage driver implementing the
// communication and profile repositories. It backs STORAGE_DRIVER=memory and
// the service tests, and honours the same conditional-update contract as the
// Postgres repositories.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/domain/profile"
)

type Option func(*Store)

// WithClock replaces time.Now for created_at/updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	comms    map[string]*communication.Communication
	attempts map[string][]communication.DeliveryAttempt
	profiles map[string]*profile.Profile
}

func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		comms:    make(map[string]*communication.Communication),
		attempts: make(map[string][]communication.DeliveryAttempt),
		profiles: make(map[string]*profile.Profile),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Communications returns the store as a communication.Repository.
func (s *Store) Communications() communication.Repository { return (*commRepo)(s) }

// Profiles returns the store as a profile.Repository.
func (s *Store) Profiles() profile.Repository { return (*profileRepo)(s) }

// UpsertProfile seeds or replaces a profile.
func (s *Store) UpsertProfile(p profile.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.profiles[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Tags = append([]string(nil), p.Tags...)
	s.profiles[p.ID] = &p
}

// Touch overrides a communication's updated_at.
func (s *Store) Touch(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.comms[id]; ok {
		c.UpdatedAt = at
	}
}

func cloneComm(c *communication.Communication) *communication.Communication {
	cp := *c
	if c.ScheduledAt != nil {
		t := *c.ScheduledAt
		cp.ScheduledAt = &t
	}
	cp.Metadata = make(communication.Metadata, len(c.Metadata))
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

func cloneProfile(p *profile.Profile) *profile.Profile {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	return &cp
}

func hasStatus(st communication.Status, set []communication.Status) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

type commRepo Store

func (r *commRepo) store() *Store { return (*Store)(r) }

func (r *commRepo) Create(_ context.Context, c *communication.Communication) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Metadata == nil {
		c.Metadata = communication.Metadata{}
	}
	s.comms[c.ID] = cloneComm(c)
	return nil
}

func (r *commRepo) GetByID(_ context.Context, id string) (*communication.Communication, error) {
	s := r.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comms[id]
	if !ok {
		return nil, communication.ErrNotFound
	}
	return cloneComm(c), nil
}

func (r *commRepo) UpdateDraft(_ context.Context, c *communication.Communication) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.comms[c.ID]
	if !ok {
		return communication.ErrNotFound
	}
	if cur.Status != communication.StatusDraft {
		return communication.ErrStatusConflict
	}
	cur.Title, cur.Body, cur.Type, cur.RecipientFilter = c.Title, c.Body, c.Type, c.RecipientFilter
	cur.UpdatedAt = s.now()
	c.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *commRepo) TransitionStatus(_ context.Context, id string, from []communication.Status, to communication.Status, patch communication.Metadata) (bool, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comms[id]
	if !ok || !hasStatus(c.Status, from) {
		return false, nil
	}
	c.Status = to
	for k, v := range patch {
		c.Metadata[k] = v
	}
	c.UpdatedAt = s.now()
	return true, nil
}

func (r *commRepo) SetSchedule(_ context.Context, id string, from, to communication.Status, at *time.Time) (bool, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comms[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if at != nil {
		t := *at
		c.ScheduledAt = &t
	} else {
		c.ScheduledAt = nil
	}
	c.UpdatedAt = s.now()
	return true, nil
}

func (r *commRepo) PatchMetadata(_ context.Context, id string, status communication.Status, patch communication.Metadata) (bool, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comms[id]
	if !ok || c.Status != status {
		return false, nil
	}
	for k, v := range patch {
		c.Metadata[k] = v
	}
	return true, nil
}

func (r *commRepo) List(_ context.Context, q communication.ListQuery) ([]*communication.Communication, int, error) {
	s := r.store()
	s.mu.RLock()
	var matched []*communication.Communication
	for _, c := range s.comms {
		if c.OrgID != q.OrgID {
			continue
		}
		if q.Status != "" && c.Status != q.Status {
			continue
		}
		if q.Type != "" && c.Type != q.Type {
			continue
		}
		matched = append(matched, cloneComm(c))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if q.Offset >= total {
		return nil, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return matched[q.Offset:end], total, nil
}

func (r *commRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]*communication.Communication, error) {
	s := r.store()
	s.mu.RLock()
	var due []*communication.Communication
	for _, c := range s.comms {
		if c.Status == communication.StatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			due = append(due, cloneComm(c))
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(*due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *commRepo) ListStuck(_ context.Context, staleBefore time.Time, id string) ([]*communication.Communication, error) {
	s := r.store()
	s.mu.RLock()
	var stuck []*communication.Communication
	for _, c := range s.comms {
		if c.Status != communication.StatusSending || !c.UpdatedAt.Before(staleBefore) {
			continue
		}
		if id != "" && c.ID != id {
			continue
		}
		stuck = append(stuck, cloneComm(c))
	}
	s.mu.RUnlock()

	sort.Slice(stuck, func(i, j int) bool {
		if !stuck[i].UpdatedAt.Equal(stuck[j].UpdatedAt) {
			return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt)
		}
		return stuck[i].ID < stuck[j].ID
	})
	return stuck, nil
}

func (r *commRepo) AppendAttempts(_ context.Context, attempts []communication.DeliveryAttempt) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range attempts {
		s.attempts[a.CommunicationID] = append(s.attempts[a.CommunicationID], a)
	}
	return nil
}

func (r *commRepo) ListAttempts(_ context.Context, communicationID string) ([]communication.DeliveryAttempt, error) {
	s := r.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]communication.DeliveryAttempt(nil), s.attempts[communicationID]...), nil
}

func (r *commRepo) SummarizeAttempts(_ context.Context, communicationID string) (communication.AttemptSummary, error) {
	s := r.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum communication.AttemptSummary
	for _, a := range s.attempts[communicationID] {
		sum.Add(a.Status)
	}
	return sum, nil
}

type profileRepo Store

func (r *profileRepo) store() *Store { return (*Store)(r) }

func (r *profileRepo) GetByID(_ context.Context, id string) (*profile.Profile, error) {
	s := r.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (r *profileRepo) ListActive(_ context.Context, orgID string) ([]*profile.Profile, error) {
	return r.filter(orgID, func(p *profile.Profile) bool { return p.IsActive }), nil
}

func (r *profileRepo) ListByIDs(_ context.Context, orgID string, ids []string) ([]*profile.Profile, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return r.filter(orgID, func(p *profile.Profile) bool {
		_, ok := want[p.ID]
		return ok
	}), nil
}

func (r *profileRepo) ListByRoles(_ context.Context, orgID string, rawRoles []string) ([]*profile.Profile, error) {
	want := lowerSet(rawRoles)
	return r.filter(orgID, func(p *profile.Profile) bool {
		_, ok := want[strings.ToLower(strings.TrimSpace(p.Role))]
		return p.IsActive && ok
	}), nil
}

func (r *profileRepo) ListByTags(_ context.Context, orgID string, tags []string) ([]*profile.Profile, error) {
	want := lowerSet(tags)
	return r.filter(orgID, func(p *profile.Profile) bool {
		if !p.IsActive {
			return false
		}
		for _, t := range p.Tags {
			if _, ok := want[strings.ToLower(strings.TrimSpace(t))]; ok {
				return true
			}
		}
		return false
	}), nil
}

func (r *profileRepo) filter(orgID string, keep func(*profile.Profile) bool) []*profile.Profile {
	s := r.store()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*profile.Profile
	for _, p := range s.profiles {
		if p.OrgID == orgID && keep(p) {
			out = append(out, cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func lowerSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return out
}
