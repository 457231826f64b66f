// Package leads owns lead rows and their status lifecycle
package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leadflow/internal/embeddings"
	"leadflow/internal/models"
	"leadflow/internal/utils"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a lead does not exist
var ErrNotFound = errors.New("lead not found")

// Manager provides lead reads and transactional writes
type Manager struct {
	db *sqlx.DB
}

// NewManager creates a lead manager
func NewManager(db *sqlx.DB) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &Manager{db: db}, nil
}

// NextStatusOnReply returns the status a lead moves to when its customer
// replies. Closed leads stay closed.
func NextStatusOnReply(current string) string {
	switch current {
	case models.LeadStatusNew, models.LeadStatusResponded:
		return models.LeadStatusCustomerReplied
	case models.LeadStatusCustomerReplied, models.LeadStatusConversationActive:
		return models.LeadStatusConversationActive
	case models.LeadStatusClosed:
		return models.LeadStatusClosed
	default:
		return current
	}
}

type insertParams struct {
	conversationID    *int
	parentLeadID      *int
	isDuplicate       bool
	duplicateOfLeadID *int
	status            string
	embedding         []float64
}

func (m *Manager) insert(ctx context.Context, exec sqlx.ExtContext, email *models.InboundEmail, p insertParams) (*models.Lead, error) {
	var senderName *string
	if email.SenderName != "" {
		senderName = &email.SenderName
	}
	var vec *string
	if len(p.embedding) > 0 {
		formatted := embeddings.FormatVector(p.embedding)
		vec = &formatted
	}

	var lead models.Lead
	err := sqlx.GetContext(ctx, exec, &lead, `
		INSERT INTO leads
			(message_id, sender_email, sender_name, subject, normalized_subject,
			 body, received_at, conversation_id, parent_lead_id, is_duplicate,
			 duplicate_of_lead_id, lead_status, body_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING *`,
		utils.CleanMessageID(email.MessageID), utils.NormalizeAddress(email.SenderEmail),
		senderName, email.Subject, utils.NormalizeSubject(email.Subject),
		email.Body, email.ReceivedAt, p.conversationID, p.parentLeadID,
		p.isDuplicate, p.duplicateOfLeadID, p.status, vec)
	if err != nil {
		return nil, fmt.Errorf("failed to insert lead: %w", err)
	}
	return &lead, nil
}

// CreateNew stores a brand new inquiry lead
func (m *Manager) CreateNew(ctx context.Context, exec sqlx.ExtContext, email *models.InboundEmail, conversationID int, embedding []float64) (*models.Lead, error) {
	return m.insert(ctx, exec, email, insertParams{
		conversationID: &conversationID,
		status:         models.LeadStatusNew,
		embedding:      embedding,
	})
}

// CreateDuplicate stores a duplicate lead. Duplicates are born closed and
// never get a draft; they attach to the original lead's conversation when it
// has one so the thread shows the repeated contact.
func (m *Manager) CreateDuplicate(ctx context.Context, exec sqlx.ExtContext, email *models.InboundEmail, duplicateOfLeadID int, conversationID *int, embedding []float64) (*models.Lead, error) {
	lead, err := m.insert(ctx, exec, email, insertParams{
		conversationID:    conversationID,
		isDuplicate:       true,
		duplicateOfLeadID: &duplicateOfLeadID,
		status:            models.LeadStatusClosed,
		embedding:         embedding,
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}

// CreateFollowUp stores a follow-up inquiry linked to the sender's earlier lead
func (m *Manager) CreateFollowUp(ctx context.Context, exec sqlx.ExtContext, email *models.InboundEmail, parentLeadID, conversationID int, embedding []float64) (*models.Lead, error) {
	return m.insert(ctx, exec, email, insertParams{
		conversationID: &conversationID,
		parentLeadID:   &parentLeadID,
		status:         models.LeadStatusNew,
		embedding:      embedding,
	})
}

// MarkResponded moves a lead from new to responded when we send the first
// outbound email. Leads past that point keep their status.
func (m *Manager) MarkResponded(ctx context.Context, exec sqlx.ExtContext, leadID int) error {
	_, err := exec.ExecContext(ctx, `
		UPDATE leads SET lead_status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND lead_status = $3`,
		models.LeadStatusResponded, leadID, models.LeadStatusNew)
	if err != nil {
		return fmt.Errorf("failed to mark lead responded: %w", err)
	}
	return nil
}

// RecordCustomerReply advances the lead status for an inbound reply and
// returns the new status
func (m *Manager) RecordCustomerReply(ctx context.Context, exec sqlx.ExtContext, leadID int) (string, error) {
	var current string
	err := sqlx.GetContext(ctx, exec, &current, `
		SELECT lead_status FROM leads WHERE id = $1 FOR UPDATE`, leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lead status: %w", err)
	}

	next := NextStatusOnReply(current)
	if next == current {
		return current, nil
	}

	_, err = exec.ExecContext(ctx, `
		UPDATE leads SET lead_status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`,
		next, leadID)
	if err != nil {
		return "", fmt.Errorf("failed to update lead status: %w", err)
	}

	return next, nil
}

// GetByID returns a single lead
func (m *Manager) GetByID(ctx context.Context, leadID int) (*models.Lead, error) {
	var lead models.Lead
	err := m.db.GetContext(ctx, &lead, `SELECT * FROM leads WHERE id = $1`, leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

// MessageExists reports whether a message_id has already been ingested,
// checking both the lead store and the message log
func MessageExists(ctx context.Context, q sqlx.QueryerContext, messageID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM email_messages WHERE message_id = $1
			UNION
			SELECT 1 FROM leads WHERE message_id = $1
		)`,
		utils.CleanMessageID(messageID))
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return exists, nil
}

// RecentBySender returns the sender's newest non-duplicate lead received at
// or after since, or nil
func RecentBySender(ctx context.Context, q sqlx.QueryerContext, sender string, since time.Time) (*models.Lead, error) {
	var lead models.Lead
	err := sqlx.GetContext(ctx, q, &lead, `
		SELECT * FROM leads
		WHERE sender_email = $1
		  AND is_duplicate = FALSE
		  AND received_at >= $2
		ORDER BY received_at DESC
		LIMIT 1`,
		utils.NormalizeAddress(sender), since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find recent lead by sender: %w", err)
	}
	return &lead, nil
}
