package models

import "time"

// Lead status values. Duplicates go straight from creation to closed;
// everything else walks new -> responded -> customer_replied -> conversation_active.
const (
	LeadStatusNew                = "new"
	LeadStatusResponded          = "responded"
	LeadStatusCustomerReplied    = "customer_replied"
	LeadStatusConversationActive = "conversation_active"
	LeadStatusClosed             = "closed"
)

// Lead represents one customer inquiry extracted from an inbound email
type Lead struct {
	ID                int        `db:"id" json:"id"`
	MessageID         string     `db:"message_id" json:"message_id"`
	SenderEmail       string     `db:"sender_email" json:"sender_email"`
	SenderName        *string    `db:"sender_name" json:"sender_name,omitempty"`
	Subject           string     `db:"subject" json:"subject"`
	NormalizedSubject string     `db:"normalized_subject" json:"-"`
	Body              string     `db:"body" json:"body"`
	ReceivedAt        time.Time  `db:"received_at" json:"received_at"`
	ConversationID    *int       `db:"conversation_id" json:"conversation_id,omitempty"`
	ParentLeadID      *int       `db:"parent_lead_id" json:"parent_lead_id,omitempty"`
	IsDuplicate       bool       `db:"is_duplicate" json:"is_duplicate"`
	DuplicateOfLeadID *int       `db:"duplicate_of_lead_id" json:"duplicate_of_lead_id,omitempty"`
	LeadStatus        string     `db:"lead_status" json:"lead_status"`
	BodyEmbedding     *string    `db:"body_embedding" json:"-"` // pgvector text form, cached at ingestion
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
