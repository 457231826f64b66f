// Package ingest runs the per-email processing pipeline: idempotency,
// classification, and graph updates, all inside one sender-serialized
// transaction
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow/internal/classify"
	"leadflow/internal/config"
	"leadflow/internal/conversations"
	"leadflow/internal/database"
	"leadflow/internal/leads"
	"leadflow/internal/models"
	"leadflow/internal/similarity"
	"leadflow/internal/threading"
	"leadflow/internal/utils"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const pqUniqueViolation = "23505"

// Publisher receives lead-created events after the transaction commits.
// Implementations must not block processing; failures are logged, not
// propagated.
type Publisher interface {
	PublishLeadCreated(ctx context.Context, lead *models.Lead, kind string) error
}

// Result describes what processing one email did
type Result struct {
	Skipped        bool
	Kind           classify.Kind
	LeadID         *int
	ConversationID *int
}

// Pipeline processes inbound email records end to end
type Pipeline struct {
	db            *sqlx.DB
	cfg           *config.Config
	engine        *similarity.Engine
	conversations *conversations.Manager
	leads         *leads.Manager
	publisher     Publisher
	logger        zerolog.Logger
}

// NewPipeline creates the processing pipeline. publisher may be nil when no
// fan-out is configured.
func NewPipeline(db *sqlx.DB, cfg *config.Config, engine *similarity.Engine, convs *conversations.Manager, leadMgr *leads.Manager, publisher Publisher, logger zerolog.Logger) (*Pipeline, error) {
	if db == nil || cfg == nil || engine == nil || convs == nil || leadMgr == nil {
		return nil, fmt.Errorf("db, config, similarity engine, conversation and lead managers are all required")
	}
	return &Pipeline{
		db:            db,
		cfg:           cfg,
		engine:        engine,
		conversations: convs,
		leads:         leadMgr,
		publisher:     publisher,
		logger:        logger,
	}, nil
}

// Process classifies and stores one inbound email. Reprocessing a message_id
// that was already ingested is a successful no-op. Returns a PermanentError
// for records that can never be processed.
func (p *Pipeline) Process(ctx context.Context, email *models.InboundEmail) (*Result, error) {
	if err := validate(email); err != nil {
		return nil, err
	}

	sender := utils.NormalizeAddress(email.SenderEmail)
	messageID := utils.CleanMessageID(email.MessageID)

	// Cheap pre-check outside the lock; the authoritative check runs again
	// inside the transaction
	if seen, err := leads.MessageExists(ctx, p.db, messageID); err != nil {
		return nil, err
	} else if seen {
		p.logger.Debug().Str("message_id", messageID).Msg("Message already ingested, skipping")
		return &Result{Skipped: true}, nil
	}

	var result Result
	var createdLead *models.Lead

	err := database.WithSenderLock(ctx, p.db, sender, func(tx *sqlx.Tx) error {
		seen, err := leads.MessageExists(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if seen {
			result.Skipped = true
			return nil
		}

		classification, err := p.classifyInTx(ctx, tx, email)
		if err != nil {
			return err
		}
		result.Kind = classification.Kind

		createdLead, err = p.apply(ctx, tx, email, classification, &result)
		return err
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			// Lost a race on message_id; the other writer already stored it
			p.logger.Debug().Str("message_id", messageID).Msg("Concurrent ingest won the message_id race, skipping")
			return &Result{Skipped: true}, nil
		}
		return nil, err
	}

	if result.Skipped {
		return &result, nil
	}

	p.logger.Info().
		Str("message_id", messageID).
		Str("sender", sender).
		Str("classification", result.Kind.String()).
		Msg("Email processed")

	if p.publisher != nil && createdLead != nil &&
		(result.Kind == classify.NewInquiry || result.Kind == classify.FollowUpInquiry) {
		if err := p.publisher.PublishLeadCreated(ctx, createdLead, result.Kind.String()); err != nil {
			p.logger.Error().Err(err).Int("lead_id", createdLead.ID).Msg("Failed to publish lead created event")
		}
	}

	return &result, nil
}

func (p *Pipeline) classifyInTx(ctx context.Context, tx *sqlx.Tx, email *models.InboundEmail) (*classify.Classification, error) {
	matcher, err := threading.NewMatcher(tx)
	if err != nil {
		return nil, err
	}
	classifier, err := classify.NewClassifier(
		matcher,
		&txDuplicateFinder{engine: p.engine, q: tx},
		&txHistory{q: tx, fallbackDays: p.cfg.FollowUpLookback},
		p.cfg.FollowUpLookback,
	)
	if err != nil {
		return nil, err
	}
	return classifier.Classify(ctx, email)
}

// apply mutates the lead graph for one classified email. Runs inside the
// sender-locked transaction.
func (p *Pipeline) apply(ctx context.Context, tx *sqlx.Tx, email *models.InboundEmail, c *classify.Classification, result *Result) (*models.Lead, error) {
	switch c.Kind {
	case classify.ReplyToUs:
		if _, err := p.conversations.AppendInbound(ctx, tx, *c.ConversationID, c.MatchedLeadID, email); err != nil {
			return nil, err
		}
		if c.MatchedLeadID != nil {
			if _, err := p.leads.RecordCustomerReply(ctx, tx, *c.MatchedLeadID); err != nil {
				return nil, err
			}
			result.LeadID = c.MatchedLeadID
		}
		result.ConversationID = c.ConversationID
		return nil, nil

	case classify.Duplicate:
		lead, err := p.leads.CreateDuplicate(ctx, tx, email, *c.DuplicateOfLeadID, c.ConversationID, c.BodyEmbedding)
		if err != nil {
			return nil, err
		}
		if c.ConversationID != nil {
			if _, err := p.conversations.AppendInbound(ctx, tx, *c.ConversationID, &lead.ID, email); err != nil {
				return nil, err
			}
		}
		result.LeadID = &lead.ID
		result.ConversationID = c.ConversationID
		return lead, nil

	case classify.FollowUpInquiry:
		conversationID, err := p.followUpConversation(ctx, tx, email, *c.ParentLeadID)
		if err != nil {
			return nil, err
		}
		lead, err := p.leads.CreateFollowUp(ctx, tx, email, *c.ParentLeadID, conversationID, c.BodyEmbedding)
		if err != nil {
			return nil, err
		}
		if _, err := p.conversations.AppendInbound(ctx, tx, conversationID, &lead.ID, email); err != nil {
			return nil, err
		}
		result.LeadID = &lead.ID
		result.ConversationID = &conversationID
		return lead, nil

	default:
		conv, err := p.conversations.Create(ctx, tx, email.Subject, email.SenderEmail, email.ReceivedAt)
		if err != nil {
			return nil, err
		}
		lead, err := p.leads.CreateNew(ctx, tx, email, conv.ID, c.BodyEmbedding)
		if err != nil {
			return nil, err
		}
		if _, err := p.conversations.AppendInbound(ctx, tx, conv.ID, &lead.ID, email); err != nil {
			return nil, err
		}
		result.LeadID = &lead.ID
		result.ConversationID = &conv.ID
		return lead, nil
	}
}

// followUpConversation reuses the parent lead's conversation while it is
// still open; otherwise the follow-up starts a fresh thread
func (p *Pipeline) followUpConversation(ctx context.Context, tx *sqlx.Tx, email *models.InboundEmail, parentLeadID int) (int, error) {
	var parent models.Lead
	if err := sqlx.GetContext(ctx, tx, &parent, `SELECT * FROM leads WHERE id = $1`, parentLeadID); err != nil {
		return 0, fmt.Errorf("failed to load parent lead: %w", err)
	}

	if parent.ConversationID != nil && parent.LeadStatus != models.LeadStatusClosed {
		return *parent.ConversationID, nil
	}

	conv, err := p.conversations.Create(ctx, tx, email.Subject, email.SenderEmail, email.ReceivedAt)
	if err != nil {
		return 0, err
	}
	return conv.ID, nil
}

func validate(email *models.InboundEmail) error {
	if email == nil {
		return Permanent("email record is nil", nil)
	}
	if utils.CleanMessageID(email.MessageID) == "" {
		return Permanent("email record has no message_id", nil)
	}
	if utils.NormalizeAddress(email.SenderEmail) == "" {
		return Permanent("email record has no sender address", nil)
	}
	if email.ReceivedAt.IsZero() {
		return Permanent("email record has no received_at timestamp", nil)
	}
	if email.ReceivedAt.After(time.Now().Add(24 * time.Hour)) {
		return Permanent("email record received_at is in the future", nil)
	}
	return nil
}

type txDuplicateFinder struct {
	engine *similarity.Engine
	q      sqlx.QueryerContext
}

func (f *txDuplicateFinder) FindDuplicate(ctx context.Context, email *models.InboundEmail) (*similarity.Result, error) {
	return f.engine.FindDuplicate(ctx, f.q, email)
}

type txHistory struct {
	q            sqlx.QueryerContext
	fallbackDays int
}

func (h *txHistory) RecentLeadBySender(ctx context.Context, sender string, since time.Time) (*models.Lead, error) {
	return leads.RecentBySender(ctx, h.q, sender, since)
}

func (h *txHistory) RecentLeadBySubject(ctx context.Context, email *models.InboundEmail) (*models.Lead, error) {
	return similarity.FindRecentBySubject(ctx, h.q, email, h.fallbackDays)
}
