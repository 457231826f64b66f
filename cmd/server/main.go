package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadflow/internal/config"
	"leadflow/internal/conversations"
	"leadflow/internal/database"
	"leadflow/internal/email"
	"leadflow/internal/embeddings"
	"leadflow/internal/ingest"
	"leadflow/internal/leads"
	"leadflow/internal/openai"
	"leadflow/internal/queue"
	"leadflow/internal/server"
	"leadflow/internal/similarity"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := cfg.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	if err := database.CreateTables(db); err != nil {
		logger.Fatal().Err(err).Msg("Schema setup failed")
	}
	logger.Info().Msg("Database connection established")

	// Redis streams
	rdb, err := queue.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Redis connection failed")
	}
	producer, err := queue.NewProducer(rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("Queue producer setup failed")
	}

	// Classification services
	openaiClient, err := openai.NewClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("OpenAI client setup failed")
	}
	provider, err := embeddings.NewOpenAIProvider(openaiClient, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Embedding provider setup failed")
	}
	engine, err := similarity.NewEngine(provider, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Similarity engine setup failed")
	}
	convs, err := conversations.NewManager(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("Conversation manager setup failed")
	}
	leadMgr, err := leads.NewManager(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("Lead manager setup failed")
	}
	pipeline, err := ingest.NewPipeline(db, cfg, engine, convs, leadMgr, producer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Pipeline setup failed")
	}

	// Queue consumer
	var alerter queue.Alerter
	if cfg.SendGridAPIKey != "" {
		alerter = email.NewTriageService(cfg.SendGridAPIKey, cfg.TriageEmail)
	} else {
		logger.Warn().Msg("SendGrid not configured, triage alerts disabled")
	}
	consumer, err := queue.NewConsumer(rdb, pipeline, alerter, cfg.WorkerCount, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Queue consumer setup failed")
	}
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Queue consumer stopped")
		}
	}()

	// Create and initialize server
	srv := server.New(cfg, db, logger, producer, convs, leadMgr)
	srv.Initialize()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("Redis close failed")
	}
	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("Database close failed")
	}

	os.Exit(0)
}
