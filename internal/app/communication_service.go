package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/domain/profile"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	MaxListLimit     = 100
	DefaultListLimit = 20
)

// Sender delivers a communication to one channel's recipients.
// Implemented by the senders in infra/channels.
type Sender interface {
	Channel() communication.Channel
	Send(ctx context.Context, communicationID string, batch []communication.Recipient, content communication.RenderedContent, stop <-chan struct{}) []communication.DeliveryAttempt
}

// ServiceConfig tunes dispatch behaviour.
type ServiceConfig struct {
	Policy             communication.SuccessPolicy
	CancelPollInterval time.Duration // how often an active send checks for a cancel request
	DueBatchLimit      int           // scheduled communications claimed per scheduler tick
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = 2 * time.Second
	}
	if c.DueBatchLimit <= 0 {
		c.DueBatchLimit = 50
	}
	return c
}

// Service owns the communication lifecycle and orchestrates sends.
type Service struct {
	repo     communication.Repository
	profiles profile.Repository
	resolver *RecipientResolver
	senders  map[communication.Channel]Sender
	renderer Renderer
	cfg      ServiceConfig
	validate *validator.Validate
	log      *logrus.Entry

	now   func() time.Time
	newID func() string

	bg       context.Context
	inflight sync.WaitGroup
}

func NewService(
	repo communication.Repository,
	profiles profile.Repository,
	resolver *RecipientResolver,
	senders []Sender,
	renderer Renderer,
	cfg ServiceConfig,
	log *logrus.Entry,
) *Service {
	if renderer == nil {
		renderer = TemplateRenderer{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	bySender := make(map[communication.Channel]Sender, len(senders))
	for _, s := range senders {
		bySender[s.Channel()] = s
	}
	return &Service{
		repo:     repo,
		profiles: profiles,
		resolver: resolver,
		senders:  bySender,
		renderer: renderer,
		cfg:      cfg.withDefaults(),
		validate: newValidator(),
		log:      log.WithField("component", "communication_service"),
		now:      time.Now,
		newID:    uuid.NewString,
		bg:       context.Background(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validationMessage turns validator errors into one caller-facing sentence.
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalidf("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return invalidf("%s", strings.Join(msgs, "; "))
}

// CreateInput is a new communication as submitted by staff.
type CreateInput struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Body        string          `json:"body" validate:"required,max=10000"`
	Type        string          `json:"type" validate:"required,oneof=push email sms"`
	Filter      json.RawMessage `json:"recipient_filter" validate:"required"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
}

// UpdateInput holds the draft fields to change; nil fields are kept.
type UpdateInput struct {
	Title  *string         `json:"title" validate:"omitempty,max=200"`
	Body   *string         `json:"body" validate:"omitempty,max=10000"`
	Type   *string         `json:"type" validate:"omitempty,oneof=push email sms"`
	Filter json.RawMessage `json:"recipient_filter"`
}

func parseFilter(raw json.RawMessage) (communication.RecipientFilter, error) {
	f, err := communication.ParseFilter(raw)
	if err != nil {
		return nil, invalidf("%v", err)
	}
	return f, nil
}

// Create stores a draft, or a scheduled communication when ScheduledAt is in the future.
func (s *Service) Create(ctx context.Context, caller *Caller, in CreateInput) (*communication.Communication, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationMessage(err)
	}
	filter, err := parseFilter(in.Filter)
	if err != nil {
		return nil, err
	}

	c := &communication.Communication{
		ID:              s.newID(),
		OrgID:           caller.OrgID,
		Title:           in.Title,
		Body:            in.Body,
		Type:            communication.Type(in.Type),
		Status:          communication.StatusDraft,
		RecipientFilter: filter,
		Metadata:        communication.Metadata{},
		CreatedBy:       caller.UserID,
	}
	if in.ScheduledAt != nil {
		if !in.ScheduledAt.After(s.now()) {
			return nil, invalidf("scheduled_at must be in the future")
		}
		at := in.ScheduledAt.UTC()
		c.ScheduledAt = &at
		c.Status = communication.StatusScheduled
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create communication: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"communication_id": c.ID,
		"org_id":           c.OrgID,
		"type":             c.Type,
		"status":           c.Status,
		"filter_mode":      filter.Mode(),
	}).Info("Communication created")
	return c, nil
}

// Get returns a communication of the caller's org.
func (s *Service) Get(ctx context.Context, caller *Caller, id string) (*communication.Communication, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OrgID != caller.OrgID {
		return nil, communication.ErrNotFound
	}
	return c, nil
}

// Update edits a draft. The status is re-checked by the store, not trusted from the read.
func (s *Service) Update(ctx context.Context, caller *Caller, id string, in UpdateInput) (*communication.Communication, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationMessage(err)
	}
	c, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if c.Status != communication.StatusDraft {
		return nil, fmt.Errorf("%w: only drafts can be edited (status %s)", ErrInvalidTransition, c.Status)
	}

	if in.Title != nil {
		c.Title = strings.TrimSpace(*in.Title)
		if c.Title == "" {
			return nil, invalidf("title is required")
		}
	}
	if in.Body != nil {
		c.Body = strings.TrimSpace(*in.Body)
		if c.Body == "" {
			return nil, invalidf("body is required")
		}
	}
	if in.Type != nil {
		c.Type = communication.Type(*in.Type)
	}
	if len(in.Filter) > 0 {
		f, err := parseFilter(in.Filter)
		if err != nil {
			return nil, err
		}
		c.RecipientFilter = f
	}

	if err := s.repo.UpdateDraft(ctx, c); err != nil {
		if errors.Is(err, communication.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: communication left draft while editing", ErrInvalidTransition)
		}
		return nil, err
	}
	return c, nil
}

// Schedule sets a future send time on a draft, or moves an existing schedule.
func (s *Service) Schedule(ctx context.Context, caller *Caller, id string, at time.Time) (*communication.Communication, error) {
	if !at.After(s.now()) {
		return nil, invalidf("scheduled_at must be in the future")
	}
	c, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if c.Status != communication.StatusDraft && c.Status != communication.StatusScheduled {
		return nil, fmt.Errorf("%w: cannot schedule a %s communication", ErrInvalidTransition, c.Status)
	}
	at = at.UTC()
	ok, err := s.repo.SetSchedule(ctx, id, c.Status, communication.StatusScheduled, &at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
	}
	return s.repo.GetByID(ctx, id)
}

// Unschedule returns a scheduled communication to draft.
func (s *Service) Unschedule(ctx context.Context, caller *Caller, id string) (*communication.Communication, error) {
	c, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if c.Status != communication.StatusScheduled {
		return nil, fmt.Errorf("%w: only scheduled communications can be unscheduled (status %s)", ErrInvalidTransition, c.Status)
	}
	ok, err := s.repo.SetSchedule(ctx, id, communication.StatusScheduled, communication.StatusDraft, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
	}
	return s.repo.GetByID(ctx, id)
}

// cancelAttempts bounds how often Cancel re-reads a row whose status moved
// underneath it.
const cancelAttempts = 3

// Cancel cancels a draft or scheduled communication. For a communication that
// is already sending it records a cancel request, which stops batches that
// have not started yet, and returns ErrSendInProgress.
func (s *Service) Cancel(ctx context.Context, caller *Caller, id string) (*communication.Communication, error) {
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		c, err := s.Get(ctx, caller, id)
		if err != nil {
			return nil, err
		}
		now := s.now().UTC().Format(time.RFC3339)

		switch c.Status {
		case communication.StatusDraft, communication.StatusScheduled:
			ok, err := s.repo.TransitionStatus(ctx, id, communication.CancellableStatuses, communication.StatusCancelled,
				communication.Metadata{"cancelled_by": caller.UserID, "cancelled_at": now})
			if err != nil {
				return nil, err
			}
			if !ok {
				continue // most likely claimed for sending meanwhile
			}
			s.log.WithFields(logrus.Fields{"communication_id": id, "user_id": caller.UserID}).Info("Communication cancelled")
			return s.repo.GetByID(ctx, id)
		case communication.StatusSending:
			ok, err := s.repo.PatchMetadata(ctx, id, communication.StatusSending,
				communication.Metadata{communication.MetaCancelRequestedAt: now, "cancel_requested_by": caller.UserID})
			if err != nil {
				return nil, err
			}
			if !ok {
				continue // finished meanwhile
			}
			s.log.WithFields(logrus.Fields{"communication_id": id, "user_id": caller.UserID}).Info("Cancel requested for sending communication")
			c, err = s.repo.GetByID(ctx, id)
			if err != nil {
				return nil, err
			}
			return c, ErrSendInProgress
		default:
			return nil, fmt.Errorf("%w: communication is already %s", ErrInvalidTransition, c.Status)
		}
	}
	return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
}

// ListInput is a list request; the org always comes from the caller.
type ListInput struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// List pages the caller org's communications, newest first.
func (s *Service) List(ctx context.Context, caller *Caller, in ListInput) ([]*communication.Communication, int, error) {
	q := communication.ListQuery{OrgID: caller.OrgID, Limit: in.Limit, Offset: in.Offset}
	if q.Limit == 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit < 1 || q.Limit > MaxListLimit {
		return nil, 0, invalidf("limit must be between 1 and %d", MaxListLimit)
	}
	if q.Offset < 0 {
		return nil, 0, invalidf("offset must be >= 0")
	}
	if in.Status != "" {
		st, ok := communication.ParseStatus(in.Status)
		if !ok {
			return nil, 0, invalidf("unknown status %q", in.Status)
		}
		q.Status = st
	}
	if in.Type != "" {
		t, ok := communication.ParseType(in.Type)
		if !ok {
			return nil, 0, invalidf("unknown type %q", in.Type)
		}
		q.Type = t
	}
	return s.repo.List(ctx, q)
}

// AttemptsReport is the delivery log of one communication.
type AttemptsReport struct {
	Summary  communication.AttemptSummary
	Attempts []communication.DeliveryAttempt
}

func (s *Service) Attempts(ctx context.Context, caller *Caller, id string) (*AttemptsReport, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	attempts, err := s.repo.ListAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	rep := &AttemptsReport{Attempts: attempts}
	for _, a := range attempts {
		rep.Summary.Add(a.Status)
	}
	return rep, nil
}

// CountRecipients previews how many users a raw filter reaches, optionally on one channel.
func (s *Service) CountRecipients(ctx context.Context, caller *Caller, raw json.RawMessage, typ string) (*CountResult, error) {
	f, err := parseFilter(raw)
	if err != nil {
		return nil, err
	}
	var ch communication.Channel
	if typ != "" {
		t, ok := communication.ParseType(typ)
		if !ok {
			return nil, invalidf("unknown type %q", typ)
		}
		ch = t.Channel()
	}
	return s.resolver.Count(ctx, f, caller.OrgID, ch)
}

// ListAthletes returns the active athletes of the caller's org, ordered by name.
func (s *Service) ListAthletes(ctx context.Context, caller *Caller) ([]*profile.Profile, error) {
	athletes := communication.ByRole{Roles: []profile.Role{profile.RoleAthlete}}
	raw := append(profile.Aliases(athletes.Roles), string(profile.RoleAthlete))
	candidates, err := s.profiles.ListByRoles(ctx, caller.OrgID, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to list athletes: %w", err)
	}
	out := make([]*profile.Profile, 0, len(candidates))
	for _, p := range candidates {
		if athletes.Match(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].FullName), strings.ToLower(out[j].FullName)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
