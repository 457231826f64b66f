package models

import "time"

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// EmailMessage is an immutable record of one physical email in a conversation.
// Inbound and outbound messages share the message_id space; outbound rows are
// the anchors the thread matcher resolves replies against.
type EmailMessage struct {
	ID             int        `db:"id" json:"id"`
	ConversationID int        `db:"conversation_id" json:"conversation_id"`
	LeadID         *int       `db:"lead_id" json:"lead_id,omitempty"`
	Direction      string     `db:"direction" json:"direction"`
	SenderEmail    string     `db:"sender_email" json:"sender_email"`
	RecipientEmail *string    `db:"recipient_email" json:"recipient_email,omitempty"`
	Subject        string     `db:"subject" json:"subject"`
	Body           string     `db:"body" json:"body"`
	MessageID      string     `db:"message_id" json:"message_id"`
	InReplyTo      *string    `db:"in_reply_to" json:"in_reply_to,omitempty"`
	References     *string    `db:"references" json:"references,omitempty"` // space-separated, oldest first
	ReceivedAt     *time.Time `db:"received_at" json:"received_at,omitempty"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	IsDraftSent    bool       `db:"is_draft_sent" json:"is_draft_sent"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Timestamp returns the best available time for ordering the message in a timeline
func (m *EmailMessage) Timestamp() time.Time {
	if m.ReceivedAt != nil {
		return *m.ReceivedAt
	}
	if m.SentAt != nil {
		return *m.SentAt
	}
	return m.CreatedAt
}
