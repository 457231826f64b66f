package models

import (
	"time"

	"github.com/lib/pq"
)

// Conversation represents a thread of related messages sharing a topic/sender context
type Conversation struct {
	ID             int            `db:"id" json:"id"`
	ThreadSubject  string         `db:"thread_subject" json:"thread_subject"`
	Participants   pq.StringArray `db:"participants" json:"participants"`
	StartedAt      time.Time      `db:"started_at" json:"started_at"`
	LastActivityAt time.Time      `db:"last_activity_at" json:"last_activity_at"`
	LastMessageID  *string        `db:"last_message_id" json:"last_message_id,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ConversationSummary is the list-view shape returned by the dashboard API
type ConversationSummary struct {
	Conversation
	MessageCount int `db:"message_count" json:"message_count"`
}
