package store

import (
	"context"

	"MissionChat/tools/errs"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversation (
		id           text PRIMARY KEY,
		type         text NOT NULL,
		participants text[] NOT NULL,
		mission      text,
		title        text,
		last_content text,
		last_sender  text,
		last_sent_at timestamptz,
		direct_key   text,
		created_at   timestamptz NOT NULL,
		updated_at   timestamptz NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS conversation_direct_key_uq
		ON conversation (direct_key) WHERE direct_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS conversation_participants_gin
		ON conversation USING gin (participants)`,
	`CREATE INDEX IF NOT EXISTS conversation_updated_idx
		ON conversation (updated_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS message (
		id              text PRIMARY KEY,
		conversation_id text NOT NULL,
		sender          text NOT NULL,
		content         text NOT NULL,
		attachments     jsonb NOT NULL DEFAULT '[]',
		read_by         jsonb NOT NULL DEFAULT '{}',
		created_at      timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS message_conv_created_idx
		ON message (conversation_id, created_at DESC, id DESC)`,
}

// Migrate creates the tables and indexes when missing.
func Migrate(ctx context.Context, db pgDB) error {
	for _, stmt := range pgSchema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return errs.WrapMsg(err, "postgres migrate")
		}
	}
	return nil
}
