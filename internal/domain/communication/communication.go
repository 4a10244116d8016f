// internal/domain/communication/communication.go
package communication

import (
	"time"

	"gorm.io/datatypes"
)

// Type is the kind of broadcast; it fixes the delivery channel.
type Type string

const (
	TypePush  Type = "push"
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
)

// Channel identifies an external delivery provider family.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// AllChannels lists every channel in a stable order.
var AllChannels = []Channel{ChannelPush, ChannelEmail, ChannelSMS}

func (t Type) Valid() bool {
	switch t {
	case TypePush, TypeEmail, TypeSMS:
		return true
	}
	return false
}

// Channel returns the delivery channel used for this communication type.
func (t Type) Channel() Channel {
	return Channel(t)
}

// ParseType accepts the wire spelling of a type.
func ParseType(s string) (Type, bool) {
	t := Type(s)
	return t, t.Valid()
}

// Metadata is the free-form diagnostic bag stored as JSONB.
type Metadata = datatypes.JSONMap

// Well-known metadata keys.
const (
	MetaError             = "error"
	MetaBreakdown         = "breakdown"
	MetaStuckDetectedAt   = "stuck_detected_at"
	MetaWasStuckSince     = "was_stuck_since"
	MetaDroppedRecipients = "dropped_recipients"
	MetaUnreachable       = "unreachable_recipients"
	MetaCancelRequestedAt = "cancel_requested_at"
	MetaStartedAt         = "started_at"
	MetaFinishedAt        = "finished_at"
	MetaTriggeredBy       = "triggered_by"
	MetaProviderMessages  = "provider_message_ids"
)

// Communication is one authored broadcast.
// Corresponds to the 'communications' table.
type Communication struct {
	ID              string
	OrgID           string
	Title           string
	Body            string
	Type            Type
	Status          Status
	RecipientFilter RecipientFilter
	ScheduledAt     *time.Time
	Metadata        Metadata
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Recipient is one addressable (user, channel) pair produced by the resolver.
type Recipient struct {
	UserID  string
	Channel Channel
	Address string
}

// RenderedContent is the channel-specific body handed to a sender.
// Email uses Subject, Text and HTML; push uses Subject and Text; SMS uses Text.
type RenderedContent struct {
	Subject string
	Text    string
	HTML    string
}
