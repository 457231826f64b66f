// Package embeddings produces body embeddings for duplicate detection and
// guards the upstream provider with a circuit breaker
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"leadflow/internal/config"
	"leadflow/internal/openai"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// maxEmbedChars bounds the text sent to the embedding API; email bodies past
// this point add cost without improving similarity
const maxEmbedChars = 1000

// ErrUnavailable is returned when the embedding provider cannot be reached,
// including when the circuit breaker is open. Callers treat it as a signal to
// fall back to heuristic duplicate detection rather than fail the email.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider generates embedding vectors for email bodies
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OpenAIProvider implements Provider backed by the OpenAI embeddings API,
// with a per-call timeout and a circuit breaker
type OpenAIProvider struct {
	client  *openai.Client
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewOpenAIProvider creates a Provider backed by the given OpenAI client
func NewOpenAIProvider(client *openai.Client, cfg *config.Config, logger zerolog.Logger) (*OpenAIProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("openai client is required")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai-embeddings",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Embedding circuit breaker state changed")
		},
	})

	return &OpenAIProvider{
		client:  client,
		breaker: breaker,
		timeout: time.Duration(cfg.OpenAITimeout) * time.Second,
	}, nil
}

// Embed generates an embedding for the given text, truncated to the model
// input budget. Returns ErrUnavailable when the provider is down or the
// breaker is open.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	text = Truncate(text)

	result, err := p.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.client.CreateEmbedding(callCtx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return result.([]float64), nil
}

// Truncate bounds embedding input to the model budget without splitting a
// multi-byte rune at the cut
func Truncate(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := maxEmbedChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// FormatVector renders an embedding in pgvector text format for binding as a
// query parameter, e.g. "[0.1,0.2,...]"
func FormatVector(embedding []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String()
}
