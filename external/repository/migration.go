package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		project_id UUID NOT NULL,
		meeting_url TEXT NOT NULL,
		state TEXT NOT NULL,
		join_at TIMESTAMPTZ,
		first_heartbeat_at TIMESTAMPTZ,
		last_heartbeat_at TIMESTAMPTZ,
		settings JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bots_state ON bots (state)`,
	`CREATE INDEX IF NOT EXISTS idx_bots_scheduled_join_at ON bots (join_at) WHERE state = 'scheduled'`,
	`CREATE TABLE IF NOT EXISTS bot_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id UUID NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		event_sub_type TEXT NOT NULL DEFAULT '',
		old_state TEXT NOT NULL,
		new_state TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_events_bot ON bot_events (bot_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS recordings (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id UUID NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		transcription_type TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'not_started',
		transcription_state TEXT NOT NULL DEFAULT 'not_started',
		started_at TIMESTAMPTZ,
		failure_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_recordings_default ON recordings (bot_id) WHERE is_default`,
	`CREATE TABLE IF NOT EXISTS participants (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id UUID NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		uuid TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		is_the_bot BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (bot_id, uuid)
	)`,
	`CREATE TABLE IF NOT EXISTS participant_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS utterances (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		recording_id UUID NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
		participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
		source TEXT NOT NULL,
		timestamp_ms BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		transcription JSONB,
		failure_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_utterances_recording ON utterances (recording_id, timestamp_ms)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id UUID NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		to_bot BOOLEAN NOT NULL DEFAULT FALSE,
		additional_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (bot_id, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		project_id UUID NOT NULL,
		url TEXT NOT NULL,
		triggers TEXT[] NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		secret TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_project ON webhook_subscriptions (project_id) WHERE active`,
	`CREATE TABLE IF NOT EXISTS webhook_delivery_attempts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		subscription_id UUID NOT NULL REFERENCES webhook_subscriptions(id) ON DELETE CASCADE,
		bot_id UUID NOT NULL,
		trigger TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_attempt_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id UUID NOT NULL UNIQUE REFERENCES bots(id) ON DELETE CASCADE,
		credits BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
