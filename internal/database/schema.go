package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CreateTables creates the engine's tables and indexes if they don't exist.
// Conversations come first: leads and email_messages carry foreign keys to it.
func CreateTables(db *sqlx.DB) error {
	// Enable pgvector extension first (lead body embeddings)
	if _, err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		fmt.Printf("Warning: Failed to create vector extension (may already exist): %v\n", err)
	}

	queries := []string{
		// Conversations table
		`CREATE TABLE IF NOT EXISTS conversations (
			id SERIAL PRIMARY KEY,
			thread_subject TEXT NOT NULL,
			participants TEXT[] NOT NULL DEFAULT '{}',
			started_at TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			last_message_id VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (last_activity_at >= started_at)
		)`,

		// Leads table - body_embedding is the per-lead cached vector (1536 dims)
		`CREATE TABLE IF NOT EXISTS leads (
			id SERIAL PRIMARY KEY,
			message_id VARCHAR(255) UNIQUE NOT NULL,
			sender_email VARCHAR(320) NOT NULL,
			sender_name VARCHAR(255),
			subject TEXT NOT NULL DEFAULT '',
			normalized_subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL,
			conversation_id INT REFERENCES conversations(id),
			parent_lead_id INT REFERENCES leads(id),
			is_duplicate BOOLEAN NOT NULL DEFAULT FALSE,
			duplicate_of_lead_id INT REFERENCES leads(id),
			lead_status VARCHAR(32) NOT NULL DEFAULT 'new',
			body_embedding vector(1536),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (lead_status IN ('new', 'responded', 'customer_replied', 'conversation_active', 'closed')),
			CHECK ((NOT is_duplicate) OR duplicate_of_lead_id IS NOT NULL),
			CHECK (parent_lead_id IS NULL OR duplicate_of_lead_id IS NULL)
		)`,

		// Email messages table - append-only audit log, inbound and outbound
		`CREATE TABLE IF NOT EXISTS email_messages (
			id SERIAL PRIMARY KEY,
			conversation_id INT NOT NULL REFERENCES conversations(id),
			lead_id INT REFERENCES leads(id),
			direction VARCHAR(10) NOT NULL,
			sender_email VARCHAR(320) NOT NULL,
			recipient_email VARCHAR(320),
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			message_id VARCHAR(255) UNIQUE NOT NULL,
			in_reply_to VARCHAR(255),
			"references" TEXT,
			received_at TIMESTAMPTZ,
			sent_at TIMESTAMPTZ,
			is_draft_sent BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (direction IN ('inbound', 'outbound'))
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Create indexes separately
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_leads_sender_email ON leads(sender_email)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_received_at ON leads(received_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_normalized_subject ON leads(normalized_subject)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_conversation_id ON leads(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_email_messages_conversation_id ON email_messages(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_email_messages_direction_message_id ON email_messages(direction, message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_activity ON conversations(last_activity_at DESC)`,
		// HNSW index for fast cosine similarity over cached lead embeddings
		`CREATE INDEX IF NOT EXISTS idx_leads_body_embedding_hnsw ON leads USING hnsw (body_embedding vector_cosine_ops)`,
	}

	for _, query := range indexes {
		if _, err := db.Exec(query); err != nil {
			// Ignore errors for index creation (they might already exist)
			fmt.Printf("Warning: Failed to create index: %v\n", err)
		}
	}

	return nil
}
