package models

import "time"

// InboundEmail is the pre-parsed email record delivered by the poller on the
// task queue. Raw MIME never reaches the engine; the poller (or the backfill
// importer) has already flattened headers and body.
type InboundEmail struct {
	MessageID   string    `json:"message_id"`
	SenderEmail string    `json:"sender_email"`
	SenderName  string    `json:"sender_name,omitempty"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	ReceivedAt  time.Time `json:"received_at"`
	InReplyTo   string    `json:"in_reply_to,omitempty"`
	References  []string  `json:"references,omitempty"` // ordered, oldest first
	IsForward   bool      `json:"is_forward,omitempty"` // subject-prefix hint from the poller
}

// OutboundEmail is the record the draft subsystem posts after an approved
// draft has actually been sent over SMTP.
type OutboundEmail struct {
	LeadID         int       `json:"lead_id"`
	MessageID      string    `json:"message_id"`
	RecipientEmail string    `json:"recipient_email"`
	SenderEmail    string    `json:"sender_email"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	IsDraftSent    bool      `json:"is_draft_sent"`
}
