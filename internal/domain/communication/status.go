// internal/domain/communication/status.go
package communication

// Status is the lifecycle state of a communication.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusSending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// ParseStatus accepts the wire spelling of a status.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.Valid()
}

var transitions = map[Status][]Status{
	StatusDraft:     {StatusScheduled, StatusSending, StatusCancelled},
	StatusScheduled: {StatusSending, StatusCancelled, StatusDraft},
	StatusSending:   {StatusSent, StatusFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SendableStatuses are the states a send may be claimed from.
var SendableStatuses = []Status{StatusDraft, StatusScheduled}

// CancellableStatuses are the states a cancel may be applied to directly.
var CancellableStatuses = []Status{StatusDraft, StatusScheduled}
