// Package queue moves email records through Redis streams: the HTTP ingest
// endpoint and the backfill importer produce, the engine consumes, and
// processed leads fan out on a second stream
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leadflow/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	// StreamInbound carries pre-parsed email records awaiting classification
	StreamInbound = "leadflow:emails:inbound"
	// StreamLeadCreated carries lead-created events for downstream consumers
	// such as the draft generator
	StreamLeadCreated = "leadflow:leads:created"
	// Group is the engine's consumer group on StreamInbound
	Group = "leadflow-engine"

	maxStreamLen = 100000
)

// NewClient connects to Redis from a URL like redis://host:6379/0
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Producer enqueues email records and publishes lead events
type Producer struct {
	rdb *redis.Client
}

// NewProducer creates a stream producer
func NewProducer(rdb *redis.Client) (*Producer, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Producer{rdb: rdb}, nil
}

// EnqueueEmail adds an email record to the inbound stream and returns the
// stream entry ID
func (p *Producer) EnqueueEmail(ctx context.Context, email *models.InboundEmail) (string, error) {
	payload, err := json.Marshal(email)
	if err != nil {
		return "", fmt.Errorf("failed to marshal email record: %w", err)
	}

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamInbound,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue email record: %w", err)
	}
	return id, nil
}

// PublishLeadCreated emits a lead-created event for downstream consumers
func (p *Producer) PublishLeadCreated(ctx context.Context, lead *models.Lead, kind string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"lead":           lead,
		"classification": kind,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal lead event: %w", err)
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamLeadCreated,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish lead event: %w", err)
	}
	return nil
}
