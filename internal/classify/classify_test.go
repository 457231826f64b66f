package classify

import (
	"context"
	"testing"
	"time"

	"leadflow/internal/models"
	"leadflow/internal/similarity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMatcher struct {
	msg *models.EmailMessage
	err error
}

func (s *stubMatcher) MatchReply(ctx context.Context, email *models.InboundEmail) (*models.EmailMessage, error) {
	return s.msg, s.err
}

type stubDuplicates struct {
	result *similarity.Result
	err    error
}

func (s *stubDuplicates) FindDuplicate(ctx context.Context, email *models.InboundEmail) (*similarity.Result, error) {
	return s.result, s.err
}

type stubHistory struct {
	bySender  *models.Lead
	bySubject *models.Lead
}

func (s *stubHistory) RecentLeadBySender(ctx context.Context, sender string, since time.Time) (*models.Lead, error) {
	return s.bySender, nil
}

func (s *stubHistory) RecentLeadBySubject(ctx context.Context, email *models.InboundEmail) (*models.Lead, error) {
	return s.bySubject, nil
}

func intPtr(i int) *int { return &i }

func testEmail() *models.InboundEmail {
	return &models.InboundEmail{
		MessageID:   "msg-1@customer.test",
		SenderEmail: "alice@customer.test",
		Subject:     "Quote request",
		Body:        "I need a quote for my roof",
		ReceivedAt:  time.Now(),
	}
}

func TestClassify(t *testing.T) {
	convID := 42

	tests := []struct {
		name       string
		matcher    *stubMatcher
		duplicates *stubDuplicates
		history    *stubHistory
		expected   Kind
		check      func(t *testing.T, c *Classification)
	}{
		{
			name: "reply wins over duplicate",
			matcher: &stubMatcher{msg: &models.EmailMessage{
				ConversationID: convID,
				LeadID:         intPtr(7),
			}},
			duplicates: &stubDuplicates{result: &similarity.Result{
				Outcome:     similarity.Match,
				MatchedLead: &models.Lead{ID: 99},
				Score:       0.99,
			}},
			history:  &stubHistory{},
			expected: ReplyToUs,
			check: func(t *testing.T, c *Classification) {
				require.NotNil(t, c.ConversationID)
				assert.Equal(t, 42, *c.ConversationID)
				require.NotNil(t, c.MatchedLeadID)
				assert.Equal(t, 7, *c.MatchedLeadID)
			},
		},
		{
			name:    "duplicate wins over follow-up",
			matcher: &stubMatcher{},
			duplicates: &stubDuplicates{result: &similarity.Result{
				Outcome:     similarity.Match,
				MatchedLead: &models.Lead{ID: 13, ConversationID: intPtr(5)},
				Score:       0.91,
				Embedding:   []float64{0.3},
			}},
			history:  &stubHistory{bySender: &models.Lead{ID: 8}},
			expected: Duplicate,
			check: func(t *testing.T, c *Classification) {
				require.NotNil(t, c.DuplicateOfLeadID)
				assert.Equal(t, 13, *c.DuplicateOfLeadID)
				require.NotNil(t, c.ConversationID)
				assert.Equal(t, 5, *c.ConversationID)
				assert.InDelta(t, 0.91, c.SimilarityScore, 1e-9)
			},
		},
		{
			name:       "embedding outage falls back to subject heuristic",
			matcher:    &stubMatcher{},
			duplicates: &stubDuplicates{result: &similarity.Result{Outcome: similarity.Unknown}},
			history:    &stubHistory{bySubject: &models.Lead{ID: 21, ConversationID: intPtr(3)}},
			expected:   Duplicate,
			check: func(t *testing.T, c *Classification) {
				require.NotNil(t, c.DuplicateOfLeadID)
				assert.Equal(t, 21, *c.DuplicateOfLeadID)
			},
		},
		{
			name:       "embedding outage with no subject match falls through to follow-up",
			matcher:    &stubMatcher{},
			duplicates: &stubDuplicates{result: &similarity.Result{Outcome: similarity.Unknown}},
			history:    &stubHistory{bySender: &models.Lead{ID: 8}},
			expected:   FollowUpInquiry,
			check: func(t *testing.T, c *Classification) {
				require.NotNil(t, c.ParentLeadID)
				assert.Equal(t, 8, *c.ParentLeadID)
			},
		},
		{
			name:       "known sender without duplicate is a follow-up",
			matcher:    &stubMatcher{},
			duplicates: &stubDuplicates{result: &similarity.Result{Outcome: similarity.NoMatch, Embedding: []float64{0.5}}},
			history:    &stubHistory{bySender: &models.Lead{ID: 8}},
			expected:   FollowUpInquiry,
			check: func(t *testing.T, c *Classification) {
				require.NotNil(t, c.ParentLeadID)
				assert.Equal(t, 8, *c.ParentLeadID)
				assert.Equal(t, []float64{0.5}, c.BodyEmbedding)
			},
		},
		{
			name:       "unknown sender with no matches is a new inquiry",
			matcher:    &stubMatcher{},
			duplicates: &stubDuplicates{result: &similarity.Result{Outcome: similarity.NoMatch, Embedding: []float64{0.5}}},
			history:    &stubHistory{},
			expected:   NewInquiry,
			check: func(t *testing.T, c *Classification) {
				assert.Equal(t, []float64{0.5}, c.BodyEmbedding)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier, err := NewClassifier(tt.matcher, tt.duplicates, tt.history, 90)
			require.NoError(t, err)

			c, err := classifier.Classify(context.Background(), testEmail())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c.Kind)
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "new_inquiry", NewInquiry.String())
	assert.Equal(t, "reply_to_us", ReplyToUs.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "follow_up_inquiry", FollowUpInquiry.String())
}
