// Package conversations owns the conversation threads and the append-only
// message log attached to them
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"leadflow/internal/models"
	"leadflow/internal/utils"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a conversation or lead does not exist
var ErrNotFound = errors.New("not found")

// Manager provides conversation reads and transactional writes. Write
// methods take an ExtContext so they run inside the per-email transaction;
// reads go straight to the pool.
type Manager struct {
	db *sqlx.DB
}

// NewManager creates a conversation manager
func NewManager(db *sqlx.DB) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &Manager{db: db}, nil
}

// Create starts a new conversation thread
func (m *Manager) Create(ctx context.Context, exec sqlx.ExtContext, subject, participant string, startedAt time.Time) (*models.Conversation, error) {
	var conv models.Conversation
	err := sqlx.GetContext(ctx, exec, &conv, `
		INSERT INTO conversations (thread_subject, participants, started_at, last_activity_at)
		VALUES ($1, $2, $3, $3)
		RETURNING *`,
		utils.NormalizeSubject(subject), pq.StringArray{utils.NormalizeAddress(participant)}, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &conv, nil
}

// AppendInbound records an inbound email on the conversation and advances
// its activity tracking
func (m *Manager) AppendInbound(ctx context.Context, exec sqlx.ExtContext, conversationID int, leadID *int, email *models.InboundEmail) (*models.EmailMessage, error) {
	var refs *string
	if len(email.References) > 0 {
		joined := utils.JoinReferences(email.References)
		refs = &joined
	}
	var inReplyTo *string
	if email.InReplyTo != "" {
		cleaned := utils.CleanMessageID(email.InReplyTo)
		inReplyTo = &cleaned
	}

	var msg models.EmailMessage
	err := sqlx.GetContext(ctx, exec, &msg, `
		INSERT INTO email_messages
			(conversation_id, lead_id, direction, sender_email, subject, body,
			 message_id, in_reply_to, "references", received_at)
		VALUES ($1, $2, 'inbound', $3, $4, $5, $6, $7, $8, $9)
		RETURNING *`,
		conversationID, leadID, utils.NormalizeAddress(email.SenderEmail),
		email.Subject, email.Body, utils.CleanMessageID(email.MessageID),
		inReplyTo, refs, email.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record inbound message: %w", err)
	}

	if err := m.touch(ctx, exec, conversationID, msg.MessageID, utils.NormalizeAddress(email.SenderEmail), email.ReceivedAt); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RecordOutbound records an email we sent on the conversation
func (m *Manager) RecordOutbound(ctx context.Context, exec sqlx.ExtContext, conversationID int, out *models.OutboundEmail) (*models.EmailMessage, error) {
	var inReplyTo *string
	if out.InReplyTo != "" {
		cleaned := utils.CleanMessageID(out.InReplyTo)
		inReplyTo = &cleaned
	}

	recipient := utils.NormalizeAddress(out.RecipientEmail)
	var msg models.EmailMessage
	err := sqlx.GetContext(ctx, exec, &msg, `
		INSERT INTO email_messages
			(conversation_id, lead_id, direction, sender_email, recipient_email,
			 subject, body, message_id, in_reply_to, sent_at, is_draft_sent)
		VALUES ($1, $2, 'outbound', $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *`,
		conversationID, out.LeadID, utils.NormalizeAddress(out.SenderEmail), recipient,
		out.Subject, out.Body, utils.CleanMessageID(out.MessageID),
		inReplyTo, out.SentAt, out.IsDraftSent)
	if err != nil {
		return nil, fmt.Errorf("failed to record outbound message: %w", err)
	}

	if err := m.touch(ctx, exec, conversationID, msg.MessageID, recipient, out.SentAt); err != nil {
		return nil, err
	}
	return &msg, nil
}

// touch advances conversation activity. last_activity_at only moves forward
// so backfilled history cannot rewind a live thread, and last_message_id
// follows it.
func (m *Manager) touch(ctx context.Context, exec sqlx.ExtContext, conversationID int, messageID, participant string, at time.Time) error {
	_, err := exec.ExecContext(ctx, `
		UPDATE conversations SET
			last_message_id = CASE WHEN $2 >= last_activity_at THEN $3 ELSE last_message_id END,
			last_activity_at = GREATEST(last_activity_at, $2),
			participants = CASE WHEN $4 = ANY(participants) THEN participants
				ELSE array_append(participants, $4) END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		conversationID, at, messageID, participant)
	if err != nil {
		return fmt.Errorf("failed to update conversation activity: %w", err)
	}
	return nil
}

// GetByID returns a conversation with its messages ordered oldest first
func (m *Manager) GetByID(ctx context.Context, conversationID int) (*models.ConversationWithMessages, error) {
	var conv models.Conversation
	err := m.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = $1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	messages := []models.EmailMessage{}
	err = m.db.SelectContext(ctx, &messages, `
		SELECT * FROM email_messages
		WHERE conversation_id = $1
		ORDER BY COALESCE(received_at, sent_at, created_at) ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation messages: %w", err)
	}

	result := &models.ConversationWithMessages{
		Conversation:  conv,
		Messages:      messages,
		TotalMessages: len(messages),
	}

	var lead models.LeadInfo
	err = m.db.GetContext(ctx, &lead, `
		SELECT id, sender_email, sender_name, lead_status FROM leads
		WHERE conversation_id = $1 AND is_duplicate = FALSE
		ORDER BY received_at ASC LIMIT 1`,
		conversationID)
	if err == nil {
		result.LeadInfo = &lead
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get conversation lead: %w", err)
	}

	return result, nil
}

// GetByLead returns the conversation a lead belongs to
func (m *Manager) GetByLead(ctx context.Context, leadID int) (*models.ConversationWithMessages, error) {
	var conversationID int
	err := m.db.GetContext(ctx, &conversationID, `
		SELECT conversation_id FROM leads
		WHERE id = $1 AND conversation_id IS NOT NULL`, leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lead conversation: %w", err)
	}
	return m.GetByID(ctx, conversationID)
}

// ListBySender returns conversation summaries involving the given address,
// most recent activity first
func (m *Manager) ListBySender(ctx context.Context, sender string) ([]models.ConversationSummary, error) {
	summaries := []models.ConversationSummary{}
	err := m.db.SelectContext(ctx, &summaries, `
		SELECT c.*, COUNT(em.id) AS message_count
		FROM conversations c
		LEFT JOIN email_messages em ON em.conversation_id = c.id
		WHERE $1 = ANY(c.participants)
		GROUP BY c.id
		ORDER BY c.last_activity_at DESC`,
		utils.NormalizeAddress(sender))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations by sender: %w", err)
	}
	return summaries, nil
}

// ListRecent returns the most recently active conversations
func (m *Manager) ListRecent(ctx context.Context, limit int) ([]models.ConversationSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	summaries := []models.ConversationSummary{}
	err := m.db.SelectContext(ctx, &summaries, `
		SELECT c.*, COUNT(em.id) AS message_count
		FROM conversations c
		LEFT JOIN email_messages em ON em.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.last_activity_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent conversations: %w", err)
	}
	return summaries, nil
}

// Timeline merges a lead's creation and its conversation's messages into one
// chronological view
func (m *Manager) Timeline(ctx context.Context, leadID int) (*models.ConversationTimeline, error) {
	var lead models.Lead
	err := m.db.GetContext(ctx, &lead, `SELECT * FROM leads WHERE id = $1`, leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	timeline := &models.ConversationTimeline{
		LeadID:         lead.ID,
		ConversationID: lead.ConversationID,
		ThreadSubject:  utils.NormalizeSubject(lead.Subject),
		StartedAt:      lead.ReceivedAt,
		LastActivityAt: lead.ReceivedAt,
		Timeline: []models.TimelineEvent{{
			Type:      "lead_created",
			Timestamp: lead.ReceivedAt,
			Data:      lead,
		}},
	}

	if lead.ConversationID == nil {
		return timeline, nil
	}

	var conv models.Conversation
	if err := m.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = $1`, *lead.ConversationID); err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	timeline.ThreadSubject = conv.ThreadSubject
	timeline.StartedAt = conv.StartedAt
	timeline.LastActivityAt = conv.LastActivityAt

	messages := []models.EmailMessage{}
	err = m.db.SelectContext(ctx, &messages, `
		SELECT * FROM email_messages WHERE conversation_id = $1`, *lead.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation messages: %w", err)
	}

	for i := range messages {
		msg := messages[i]
		eventType := "email_inbound"
		if msg.Direction == models.DirectionOutbound {
			eventType = "email_outbound"
		}
		timeline.Timeline = append(timeline.Timeline, models.TimelineEvent{
			Type:      eventType,
			Timestamp: msg.Timestamp(),
			Data:      msg,
		})
	}

	sort.SliceStable(timeline.Timeline, func(i, j int) bool {
		return timeline.Timeline[i].Timestamp.Before(timeline.Timeline[j].Timestamp)
	})

	return timeline, nil
}
