// internal/domain/communication/delivery.go
package communication

import (
	"fmt"
	"time"
)

// AttemptStatus is the outcome of delivering to one recipient.
type AttemptStatus string

const (
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
	AttemptBounced AttemptStatus = "bounced"
)

// DeliveryAttempt is an append-only per-recipient outcome.
// Corresponds to the 'delivery_attempts' table.
type DeliveryAttempt struct {
	ID                string
	CommunicationID   string
	UserID            string
	Channel           Channel
	Status            AttemptStatus
	ProviderMessageID string
	Error             string
	AttemptedAt       time.Time
}

// AttemptSummary aggregates the attempt log of one communication.
type AttemptSummary struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Bounced int `json:"bounced"`
}

// Add folds one attempt into the summary.
func (s *AttemptSummary) Add(st AttemptStatus) {
	s.Total++
	switch st {
	case AttemptSent:
		s.Sent++
	case AttemptBounced:
		s.Bounced++
	default:
		s.Failed++
	}
}

// SuccessPolicy decides the terminal status of a finished send.
//
// A send is "sent" when at least one delivery succeeded and the success ratio
// reaches MinSuccessRatio. MinSuccessRatio of 0 means one success is enough.
type SuccessPolicy struct {
	MinSuccessRatio float64
}

// DefaultSuccessPolicy requires one success and less than 100% failures.
var DefaultSuccessPolicy = SuccessPolicy{MinSuccessRatio: 0}

// Decide returns the terminal status and, for failures, a reason.
func (p SuccessPolicy) Decide(s AttemptSummary) (Status, string) {
	if s.Total == 0 {
		return StatusFailed, "no recipients resolved"
	}
	if s.Sent == 0 {
		return StatusFailed, fmt.Sprintf("all %d deliveries failed (%d bounced)", s.Total, s.Bounced)
	}
	ratio := float64(s.Sent) / float64(s.Total)
	if ratio < p.MinSuccessRatio {
		return StatusFailed, fmt.Sprintf("success ratio %.2f below required %.2f (%d/%d delivered)", ratio, p.MinSuccessRatio, s.Sent, s.Total)
	}
	return StatusSent, ""
}
