package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"leadflow/internal/ingest"
	"leadflow/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	readBlock    = 5 * time.Second
	readCount    = 10
	claimMinIdle = 5 * time.Minute
	claimEvery   = time.Minute
)

// Processor handles one email record. Returning a PermanentError acks the
// entry without retry; any other error leaves it pending for redelivery.
type Processor interface {
	Process(ctx context.Context, email *models.InboundEmail) (*ingest.Result, error)
}

// Alerter notifies operators about records that permanently failed
type Alerter interface {
	SendTriageAlert(ctx context.Context, email *models.InboundEmail, reason string) error
}

// Consumer reads email records off the inbound stream with a consumer group
// and runs them through the processing pipeline
type Consumer struct {
	rdb      *redis.Client
	proc     Processor
	alerter  Alerter
	workers  int
	consumer string
	logger   zerolog.Logger
}

// claimPage fetches one page of stale pending entries starting at the given
// cursor and returns the next cursor
type claimPage func(ctx context.Context, start string) ([]redis.XMessage, string, error)

// NewConsumer creates a stream consumer. alerter may be nil.
func NewConsumer(rdb *redis.Client, proc Processor, alerter Alerter, workers int, logger zerolog.Logger) (*Consumer, error) {
	if rdb == nil || proc == nil {
		return nil, fmt.Errorf("redis client and processor are required")
	}
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		rdb:      rdb,
		proc:     proc,
		alerter:  alerter,
		workers:  workers,
		consumer: "engine-" + uuid.NewString(),
		logger:   logger,
	}, nil
}

// Run creates the consumer group if needed and blocks reading the stream
// until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, StreamInbound, Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info().
		Str("stream", StreamInbound).
		Str("group", Group).
		Str("consumer", c.consumer).
		Int("workers", c.workers).
		Msg("Starting email queue consumer")

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.readLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.reclaimLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    Group,
			Consumer: c.consumer,
			Streams:  []string{StreamInbound, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("Failed to read from email stream")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

// reclaimLoop takes over entries another consumer read but never acked, so a
// crashed worker's emails are not lost
func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(claimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.reclaimPending(ctx, c.claimStale)
	}
}

// reclaimPending walks the pending entries list page by page. An empty page
// does not end the scan: XAUTOCLAIM can return no messages while the cursor
// still has entries ahead of it, so only the cursor wrapping to 0-0 does.
func (c *Consumer) reclaimPending(ctx context.Context, claim claimPage) {
	start := "0-0"
	for {
		msgs, next, err := claim(ctx, start)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("Failed to reclaim pending emails")
			}
			return
		}

		for _, msg := range msgs {
			c.logger.Warn().Str("entry_id", msg.ID).Msg("Reclaimed stale email entry")
			c.handle(ctx, msg)
		}

		if next == "0-0" {
			return
		}
		start = next
	}
}

func (c *Consumer) claimStale(ctx context.Context, start string) ([]redis.XMessage, string, error) {
	return c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamInbound,
		Group:    Group,
		Consumer: c.consumer,
		MinIdle:  claimMinIdle,
		Start:    start,
		Count:    readCount,
	}).Result()
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	email, err := decode(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("entry_id", msg.ID).Msg("Dropping undecodable email entry")
		c.triage(ctx, nil, err.Error())
		c.ack(ctx, msg.ID)
		return
	}

	_, err = c.proc.Process(ctx, email)
	if err == nil {
		c.ack(ctx, msg.ID)
		return
	}

	if ingest.IsPermanent(err) {
		c.logger.Error().
			Err(err).
			Str("entry_id", msg.ID).
			Str("message_id", email.MessageID).
			Msg("Email record permanently rejected")
		c.triage(ctx, email, err.Error())
		c.ack(ctx, msg.ID)
		return
	}

	// Transient failure: leave the entry pending so it is redelivered
	c.logger.Warn().
		Err(err).
		Str("entry_id", msg.ID).
		Str("message_id", email.MessageID).
		Msg("Email processing failed, will retry")
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	if err := c.rdb.XAck(ctx, StreamInbound, Group, entryID).Err(); err != nil {
		c.logger.Error().Err(err).Str("entry_id", entryID).Msg("Failed to ack stream entry")
	}
}

func (c *Consumer) triage(ctx context.Context, email *models.InboundEmail, reason string) {
	if c.alerter == nil {
		return
	}
	if err := c.alerter.SendTriageAlert(ctx, email, reason); err != nil {
		c.logger.Error().Err(err).Msg("Failed to send triage alert")
	}
}

func decode(msg redis.XMessage) (*models.InboundEmail, error) {
	raw, ok := msg.Values["data"]
	if !ok {
		return nil, fmt.Errorf("stream entry %s has no data field", msg.ID)
	}
	data, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("stream entry %s data is not a string", msg.ID)
	}

	var email models.InboundEmail
	if err := json.Unmarshal([]byte(data), &email); err != nil {
		return nil, fmt.Errorf("stream entry %s is not a valid email record: %w", msg.ID, err)
	}
	return &email, nil
}
