package database

import (
	"database/sql"
	"fmt"
)

// migrations are idempotent; Migrate runs at startup before the server accepts
// webhooks. The composite uniqueness constraint on conversations is load-bearing:
// it is the only thing preventing two concurrent first-events from creating two
// conversations for the same issue or pull request.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		installation_id BIGINT NOT NULL,
		repo_full_name TEXT NOT NULL,
		context_type TEXT NOT NULL,
		context_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		metadata JSONB,
		UNIQUE (installation_id, repo_full_name, context_type, context_number)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		author TEXT,
		event_tag TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		metadata JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS agent_actions (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		action_type TEXT NOT NULL,
		action_data JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		error_message TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS installations (
		id BIGINT PRIMARY KEY,
		account_login TEXT NOT NULL,
		account_type TEXT NOT NULL,
		installed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		repositories JSONB,
		metadata JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_repo ON conversations (repo_full_name)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_installation ON conversations (installation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_conversation ON agent_actions (conversation_id)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
