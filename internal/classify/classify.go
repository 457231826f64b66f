// Package classify decides what an inbound email is: a reply to something we
// sent, a duplicate of a recent lead, a follow-up from a known sender, or a
// brand new inquiry
package classify

import (
	"context"
	"fmt"
	"time"

	"leadflow/internal/models"
	"leadflow/internal/similarity"
)

// Kind is the classification assigned to an inbound email
type Kind int

const (
	NewInquiry Kind = iota
	ReplyToUs
	Duplicate
	FollowUpInquiry
)

// String returns the wire name of the classification
func (k Kind) String() string {
	switch k {
	case ReplyToUs:
		return "reply_to_us"
	case Duplicate:
		return "duplicate"
	case FollowUpInquiry:
		return "follow_up_inquiry"
	default:
		return "new_inquiry"
	}
}

// Classification is the outcome of classifying one inbound email. Only the
// fields relevant to the Kind are set: ConversationID and MatchedLeadID for
// replies, DuplicateOfLeadID for duplicates, ParentLeadID for follow-ups.
// BodyEmbedding is carried whenever one was computed so it can be cached on
// the stored lead.
type Classification struct {
	Kind              Kind
	ConversationID    *int
	MatchedLeadID     *int
	DuplicateOfLeadID *int
	ParentLeadID      *int
	SimilarityScore   float64
	BodyEmbedding     []float64
}

// ThreadMatcher resolves reply headers to an outbound message we sent
type ThreadMatcher interface {
	MatchReply(ctx context.Context, email *models.InboundEmail) (*models.EmailMessage, error)
}

// DuplicateFinder checks whether the email body near-duplicates a recent lead
type DuplicateFinder interface {
	FindDuplicate(ctx context.Context, email *models.InboundEmail) (*similarity.Result, error)
}

// LeadHistory answers questions about the sender's past leads
type LeadHistory interface {
	// RecentLeadBySender returns the newest non-duplicate lead from the
	// sender received at or after since, or nil
	RecentLeadBySender(ctx context.Context, sender string, since time.Time) (*models.Lead, error)
	// RecentLeadBySubject is the duplicate fallback when embeddings are
	// unavailable: a recent lead from a different sender with the same
	// normalized subject, or nil
	RecentLeadBySubject(ctx context.Context, email *models.InboundEmail) (*models.Lead, error)
}

// Classifier applies the classification rules in precedence order
type Classifier struct {
	matcher        ThreadMatcher
	duplicates     DuplicateFinder
	history        LeadHistory
	followUpWindow time.Duration
}

// NewClassifier creates a classifier. All collaborators are required.
func NewClassifier(matcher ThreadMatcher, duplicates DuplicateFinder, history LeadHistory, followUpDays int) (*Classifier, error) {
	if matcher == nil || duplicates == nil || history == nil {
		return nil, fmt.Errorf("matcher, duplicate finder and lead history are all required")
	}
	return &Classifier{
		matcher:        matcher,
		duplicates:     duplicates,
		history:        history,
		followUpWindow: time.Duration(followUpDays) * 24 * time.Hour,
	}, nil
}

// Classify runs the rules in order. Thread matching wins over everything:
// a reply to our outbound mail is never a duplicate no matter how similar
// its body is. Duplicate detection wins over follow-up detection.
func (c *Classifier) Classify(ctx context.Context, email *models.InboundEmail) (*Classification, error) {
	if matched, err := c.matcher.MatchReply(ctx, email); err != nil {
		return nil, fmt.Errorf("thread matching failed: %w", err)
	} else if matched != nil {
		return &Classification{
			Kind:           ReplyToUs,
			ConversationID: &matched.ConversationID,
			MatchedLeadID:  matched.LeadID,
		}, nil
	}

	result, err := c.duplicates.FindDuplicate(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("duplicate detection failed: %w", err)
	}

	switch result.Outcome {
	case similarity.Match:
		return &Classification{
			Kind:              Duplicate,
			DuplicateOfLeadID: &result.MatchedLead.ID,
			ConversationID:    result.MatchedLead.ConversationID,
			SimilarityScore:   result.Score,
			BodyEmbedding:     result.Embedding,
		}, nil
	case similarity.Unknown:
		original, err := c.history.RecentLeadBySubject(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("subject fallback failed: %w", err)
		}
		if original != nil {
			return &Classification{
				Kind:              Duplicate,
				DuplicateOfLeadID: &original.ID,
				ConversationID:    original.ConversationID,
			}, nil
		}
	}

	since := email.ReceivedAt.Add(-c.followUpWindow)
	parent, err := c.history.RecentLeadBySender(ctx, email.SenderEmail, since)
	if err != nil {
		return nil, fmt.Errorf("follow-up detection failed: %w", err)
	}
	if parent != nil {
		return &Classification{
			Kind:          FollowUpInquiry,
			ParentLeadID:  &parent.ID,
			BodyEmbedding: result.Embedding,
		}, nil
	}

	return &Classification{
		Kind:          NewInquiry,
		BodyEmbedding: result.Embedding,
	}, nil
}
