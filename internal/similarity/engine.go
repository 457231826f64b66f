// Package similarity detects duplicate leads by comparing body embeddings of
// recent leads with pgvector cosine distance
package similarity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leadflow/internal/config"
	"leadflow/internal/embeddings"
	"leadflow/internal/models"
	"leadflow/internal/utils"

	"github.com/jmoiron/sqlx"
)

// Outcome of a duplicate check
type Outcome int

const (
	// NoMatch means no candidate cleared the similarity threshold
	NoMatch Outcome = iota
	// Match means a duplicate was found
	Match
	// Unknown means embeddings were unavailable and no decision could be made
	Unknown
)

// Result describes the outcome of a duplicate check. MatchedLead and Score
// are set only when Outcome is Match. Embedding carries the freshly computed
// vector so the caller can persist it on the new lead regardless of outcome.
type Result struct {
	Outcome     Outcome
	MatchedLead *models.Lead
	Score       float64
	Embedding   []float64
}

// Engine runs embedding-based duplicate detection over the lead store
type Engine struct {
	provider  embeddings.Provider
	threshold float64
	lookback  time.Duration
	pageSize  int
}

// NewEngine creates a duplicate detection engine
func NewEngine(provider embeddings.Provider, cfg *config.Config) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	return &Engine{
		provider:  provider,
		threshold: cfg.SimilarityThreshold,
		lookback:  time.Duration(cfg.DuplicateLookback) * 24 * time.Hour,
		pageSize:  cfg.CandidatePageSize,
	}, nil
}

// FindDuplicate embeds the email body and searches recent leads from other
// senders for a near-identical one. When the embedding provider is
// unavailable it returns Unknown instead of failing; the caller decides
// whether to fall back to a heuristic.
func (e *Engine) FindDuplicate(ctx context.Context, q sqlx.QueryerContext, email *models.InboundEmail) (*Result, error) {
	embedding, err := e.provider.Embed(ctx, email.Body)
	if err != nil {
		if errors.Is(err, embeddings.ErrUnavailable) {
			return &Result{Outcome: Unknown}, nil
		}
		return nil, fmt.Errorf("failed to embed email body: %w", err)
	}

	vec := embeddings.FormatVector(embedding)
	windowStart := email.ReceivedAt.Add(-e.lookback)

	// Candidates first so the similarity scan stays bounded even when the
	// sender has a long history. Same-sender leads are excluded here; those
	// go through follow-up detection instead.
	var row struct {
		models.Lead
		Score float64 `db:"score"`
	}
	err = sqlx.GetContext(ctx, q, &row, `
		SELECT c.*, 1 - (c.body_embedding <=> $1::vector) AS score
		FROM (
			SELECT * FROM leads
			WHERE body_embedding IS NOT NULL
			  AND is_duplicate = FALSE
			  AND sender_email <> $2
			  AND received_at >= $3
			ORDER BY received_at DESC
			LIMIT $4
		) c
		WHERE 1 - (c.body_embedding <=> $1::vector) >= $5
		ORDER BY score DESC, c.received_at ASC
		LIMIT 1`,
		vec, utils.NormalizeAddress(email.SenderEmail), windowStart, e.pageSize, e.threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return &Result{Outcome: NoMatch, Embedding: embedding}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search for duplicate leads: %w", err)
	}

	return &Result{
		Outcome:     Match,
		MatchedLead: &row.Lead,
		Score:       row.Score,
		Embedding:   embedding,
	}, nil
}

// FindRecentBySubject is the fallback heuristic when embeddings are
// unavailable: a normalized subject match from a different sender within the
// lookback window counts as a duplicate, most recent match first.
func FindRecentBySubject(ctx context.Context, q sqlx.QueryerContext, email *models.InboundEmail, lookbackDays int) (*models.Lead, error) {
	windowStart := email.ReceivedAt.AddDate(0, 0, -lookbackDays)
	subject := utils.NormalizeSubject(email.Subject)

	var lead models.Lead
	err := sqlx.GetContext(ctx, q, &lead, `
		SELECT * FROM leads
		WHERE LOWER(normalized_subject) = LOWER($1)
		  AND sender_email <> $2
		  AND is_duplicate = FALSE
		  AND received_at >= $3
		ORDER BY received_at DESC
		LIMIT 1`,
		subject, utils.NormalizeAddress(email.SenderEmail), windowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search leads by subject: %w", err)
	}
	return &lead, nil
}
