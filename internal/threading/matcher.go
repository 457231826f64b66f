// Package threading resolves inbound emails to existing conversation threads
// using RFC 5322 In-Reply-To and References headers
package threading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leadflow/internal/models"
	"leadflow/internal/utils"

	"github.com/jmoiron/sqlx"
)

// Matcher finds the outbound message an inbound email replies to
type Matcher struct {
	q sqlx.QueryerContext
}

// NewMatcher creates a Matcher that queries through q, typically the
// transaction the email is being processed in
func NewMatcher(q sqlx.QueryerContext) (*Matcher, error) {
	if q == nil {
		return nil, fmt.Errorf("queryer is required")
	}
	return &Matcher{q: q}, nil
}

// MatchReply returns the outbound message referenced by the inbound email's
// threading headers, or nil when the email does not reply to anything we sent.
// In-Reply-To is authoritative; the References chain is consulted newest first
// only when In-Reply-To finds nothing.
func (m *Matcher) MatchReply(ctx context.Context, email *models.InboundEmail) (*models.EmailMessage, error) {
	if email.InReplyTo != "" {
		if id := utils.CleanMessageID(email.InReplyTo); id != "" {
			msg, err := m.findOutbound(ctx, id)
			if err != nil {
				return nil, err
			}
			if msg != nil {
				return msg, nil
			}
		}
	}

	for i := len(email.References) - 1; i >= 0; i-- {
		id := utils.CleanMessageID(email.References[i])
		if id == "" {
			continue
		}
		msg, err := m.findOutbound(ctx, id)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}

	return nil, nil
}

func (m *Matcher) findOutbound(ctx context.Context, messageID string) (*models.EmailMessage, error) {
	var msg models.EmailMessage
	err := sqlx.GetContext(ctx, m.q, &msg, `
		SELECT * FROM email_messages
		WHERE message_id = $1 AND direction = 'outbound'`,
		messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up outbound message %s: %w", messageID, err)
	}
	return &msg, nil
}
