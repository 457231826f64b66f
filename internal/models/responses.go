package models

import "time"

// HealthResponse represents a basic health check response
// @Description Health check response
type HealthResponse struct {
	Status    string    `json:"status" example:"healthy"`                 // Health status
	Timestamp time.Time `json:"timestamp" example:"2023-01-01T00:00:00Z"` // Timestamp of the check
	Version   string    `json:"version" example:"1.0.0"`                  // Application version
}

// DBHealthResponse represents a database health check response
// @Description Database health check response
type DBHealthResponse struct {
	Status    string        `json:"status" example:"healthy"`                   // Health status
	Timestamp time.Time     `json:"timestamp" example:"2023-01-01T00:00:00Z"`   // Timestamp of the check
	Connected bool          `json:"connected" example:"true"`                   // Database connection status
	Latency   time.Duration `json:"latency" swaggertype:"string" example:"1ms"` // Database ping latency
	Error     string        `json:"error,omitempty" example:""`                 // Error message if any
}

// LeadInfo is the compact lead view embedded in conversation responses
type LeadInfo struct {
	ID          int     `json:"id"`
	SenderEmail string  `json:"sender_email"`
	SenderName  *string `json:"sender_name,omitempty"`
	LeadStatus  string  `json:"lead_status"`
}

// ConversationWithMessages is the full conversation view for the dashboard
// @Description Conversation with its messages and lead info
type ConversationWithMessages struct {
	Conversation  Conversation   `json:"conversation"`
	Messages      []EmailMessage `json:"messages"`
	TotalMessages int            `json:"total_messages"`
	LeadInfo      *LeadInfo      `json:"lead_info,omitempty"`
}

// TimelineEvent is one entry in a lead's chronological timeline
type TimelineEvent struct {
	Type      string      `json:"type"` // lead_created, email_inbound, email_outbound
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ConversationTimeline is the chronological merge of a lead's history
// @Description Chronological timeline of all interactions for a lead
type ConversationTimeline struct {
	ConversationID *int            `json:"conversation_id,omitempty"`
	LeadID         int             `json:"lead_id"`
	ThreadSubject  string          `json:"thread_subject"`
	Timeline       []TimelineEvent `json:"timeline"`
	StartedAt      time.Time       `json:"started_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
}

// IngestAccepted is returned when an email record is queued for processing
// @Description Ingest queue acknowledgement
type IngestAccepted struct {
	Queued    bool   `json:"queued" example:"true"`
	StreamID  string `json:"stream_id,omitempty"`
	MessageID string `json:"message_id"`
}

// ErrorResponse is the generic error payload
// @Description Error payload
type ErrorResponse struct {
	Error string `json:"error"`
}
