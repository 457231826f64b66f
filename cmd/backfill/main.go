// Backfill replays an archived mailbox through the ingest queue. It parses
// EML directories and MBOX archives and enqueues every email as a normal
// inbound record, so historical mail flows through the same classification
// pipeline as live mail.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"leadflow/internal/config"
	"leadflow/internal/emails"
	"leadflow/internal/models"
	"leadflow/internal/queue"
)

func main() {
	mailboxPath := flag.String("mailbox", "/mailbox", "EML directory or MBOX file to import")
	batchSize := flag.Int("batch", 100, "MBOX parse batch size")
	flag.Parse()

	cfg := config.Load()
	logger := cfg.SetupLogger()

	ctx := context.Background()

	rdb, err := queue.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer rdb.Close()

	producer, err := queue.NewProducer(rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("Queue producer setup failed")
	}

	info, err := os.Stat(*mailboxPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *mailboxPath).Msg("Mailbox path not accessible")
	}

	parser := emails.NewParser(logger)

	var queued, skipped int
	enqueue := func(batch []*models.InboundEmail) {
		for _, email := range batch {
			if email.MessageID == "" || email.SenderEmail == "" {
				skipped++
				continue
			}
			if _, err := producer.EnqueueEmail(ctx, email); err != nil {
				logger.Error().Err(err).Str("message_id", email.MessageID).Msg("Failed to enqueue email")
				skipped++
				continue
			}
			queued++
		}
	}

	switch {
	case info.IsDir():
		records, err := parser.ParseDirectory(*mailboxPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse EML directory")
		}
		enqueue(records)

	case strings.HasSuffix(strings.ToLower(*mailboxPath), ".mbox"):
		err := parser.ParseMBOXFile(*mailboxPath, *batchSize, func(batch []*models.InboundEmail, progress emails.MBOXProgress) error {
			enqueue(batch)
			logger.Info().
				Int("emails_processed", progress.EmailsProcessed).
				Float64("percent", progress.PercentComplete).
				Msg("Backfill progress")
			return nil
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse MBOX file")
		}

	default:
		record, err := parser.ParseEMLFile(*mailboxPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse EML file")
		}
		enqueue([]*models.InboundEmail{record})
	}

	logger.Info().
		Int("queued", queued).
		Int("skipped", skipped).
		Msg("Backfill complete")
}
