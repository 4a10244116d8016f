package httpapi

import (
	"encoding/json"
	"time"

	"fitclub_comms/internal/app"
	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/domain/profile"
)

type communicationView struct {
	ID              string                 `json:"id"`
	OrgID           string                 `json:"org_id"`
	Title           string                 `json:"title"`
	Body            string                 `json:"body"`
	Type            communication.Type     `json:"type"`
	Status          communication.Status   `json:"status"`
	RecipientFilter json.RawMessage        `json:"recipient_filter"`
	ScheduledAt     *time.Time             `json:"scheduled_at"`
	Metadata        communication.Metadata `json:"metadata"`
	CreatedBy       string                 `json:"created_by"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func toView(c *communication.Communication) communicationView {
	filter, err := communication.MarshalFilter(c.RecipientFilter)
	if err != nil {
		filter = json.RawMessage("null")
	}
	meta := c.Metadata
	if meta == nil {
		meta = communication.Metadata{}
	}
	return communicationView{
		ID:              c.ID,
		OrgID:           c.OrgID,
		Title:           c.Title,
		Body:            c.Body,
		Type:            c.Type,
		Status:          c.Status,
		RecipientFilter: filter,
		ScheduledAt:     c.ScheduledAt,
		Metadata:        meta,
		CreatedBy:       c.CreatedBy,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func toViews(cs []*communication.Communication) []communicationView {
	out := make([]communicationView, len(cs))
	for i, c := range cs {
		out[i] = toView(c)
	}
	return out
}

type athleteView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func toAthletes(ps []*profile.Profile) []athleteView {
	out := make([]athleteView, len(ps))
	for i, p := range ps {
		out[i] = athleteView{ID: p.ID, Name: p.FullName, Email: p.Email}
	}
	return out
}

type attemptView struct {
	ID                string                      `json:"id"`
	UserID            string                      `json:"user_id"`
	Channel           communication.Channel       `json:"channel"`
	Status            communication.AttemptStatus `json:"status"`
	ProviderMessageID string                      `json:"provider_message_id,omitempty"`
	Error             string                      `json:"error,omitempty"`
	AttemptedAt       time.Time                   `json:"attempted_at"`
}

type attemptsView struct {
	Summary  communication.AttemptSummary `json:"summary"`
	Attempts []attemptView                `json:"attempts"`
}

func toAttemptsView(rep *app.AttemptsReport) attemptsView {
	out := attemptsView{Summary: rep.Summary, Attempts: make([]attemptView, len(rep.Attempts))}
	for i, a := range rep.Attempts {
		out.Attempts[i] = attemptView{
			ID:                a.ID,
			UserID:            a.UserID,
			Channel:           a.Channel,
			Status:            a.Status,
			ProviderMessageID: a.ProviderMessageID,
			Error:             a.Error,
			AttemptedAt:       a.AttemptedAt,
		}
	}
	return out
}

type dispatchView struct {
	CommunicationID string                       `json:"communication_id"`
	Status          communication.Status         `json:"status"`
	Summary         communication.AttemptSummary `json:"summary"`
	Dropped         int                          `json:"dropped"`
	Unreachable     int                          `json:"unreachable"`
	CancelRequested bool                         `json:"cancel_requested"`
}
