package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intellecta-lk/attendee/internal/repository"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

const botColumns = `id, project_id, meeting_url, state, join_at, first_heartbeat_at, last_heartbeat_at, settings, created_at, updated_at`

func scanBot(row pgx.Row) (*repository.Bot, error) {
	var b repository.Bot
	err := row.Scan(&b.ID, &b.ProjectID, &b.MeetingURL, &b.State, &b.JoinAt,
		&b.FirstHeartbeatAt, &b.LastHeartbeatAt, &b.Settings, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *PostgresRepository) CreateBot(ctx context.Context, input repository.CreateBotInput) (*repository.Bot, error) {
	settings := input.Settings
	if settings == nil {
		settings = json.RawMessage(`{}`)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO bots (project_id, meeting_url, state, join_at, settings)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+botColumns,
		input.ProjectID, input.MeetingURL, input.State, input.JoinAt, settings)
	return scanBot(row)
}

func (r *PostgresRepository) GetBot(ctx context.Context, id uuid.UUID) (*repository.Bot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	return scanBot(row)
}

// ApplyTransition is the serialization point for a bot's lifecycle: the row
// lock guarantees only one of two racing transitions passes the state check.
func (r *PostgresRepository) ApplyTransition(ctx context.Context, input repository.ApplyTransitionInput) (*repository.Bot, *repository.BotEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var current repository.BotState
	err = tx.QueryRow(ctx, `SELECT state FROM bots WHERE id = $1 FOR UPDATE`, input.BotID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, repository.ErrNotFound
		}
		return nil, nil, err
	}
	if !slices.Contains(input.AllowedFrom, current) {
		return nil, nil, fmt.Errorf("%w: event %s not allowed from state %s", repository.ErrIllegalTransition, input.EventType, current)
	}

	bot, err := scanBot(tx.QueryRow(ctx,
		`UPDATE bots SET state = $2, updated_at = NOW() WHERE id = $1 RETURNING `+botColumns,
		input.BotID, input.NewState))
	if err != nil {
		return nil, nil, err
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO bot_events (bot_id, event_type, event_sub_type, old_state, new_state, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, bot_id, event_type, event_sub_type, old_state, new_state, metadata, created_at`,
		input.BotID, input.EventType, input.EventSubType, current, input.NewState, input.Metadata)
	var e repository.BotEvent
	if err := row.Scan(&e.ID, &e.BotID, &e.EventType, &e.EventSubType, &e.OldState, &e.NewState, &e.Metadata, &e.CreatedAt); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return bot, &e, nil
}

func (r *PostgresRepository) RecordHeartbeat(ctx context.Context, botID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE bots
		 SET first_heartbeat_at = COALESCE(first_heartbeat_at, $2),
		     last_heartbeat_at = GREATEST(COALESCE(last_heartbeat_at, $2), $2),
		     updated_at = NOW()
		 WHERE id = $1`,
		botID, at)
	return err
}

func (r *PostgresRepository) ListBotEvents(ctx context.Context, botID uuid.UUID) ([]repository.BotEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, bot_id, event_type, event_sub_type, old_state, new_state, metadata, created_at
		 FROM bot_events WHERE bot_id = $1 ORDER BY created_at ASC, id ASC`,
		botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.BotEvent
	for rows.Next() {
		var e repository.BotEvent
		if err := rows.Scan(&e.ID, &e.BotID, &e.EventType, &e.EventSubType, &e.OldState, &e.NewState, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) ListNonTerminalBots(ctx context.Context) ([]repository.Bot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+botColumns+` FROM bots WHERE state NOT IN ('ended', 'fatal_error')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Bot
	for rows.Next() {
		var b repository.Bot
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.MeetingURL, &b.State, &b.JoinAt,
			&b.FirstHeartbeatAt, &b.LastHeartbeatAt, &b.Settings, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// ClaimScheduledBots holds the row locks through the claim callbacks, so a
// concurrent scheduler daemon's identical query skips rows still being
// dispatched, e.g. during rolling deploys. Claim callbacks must not query
// the locked rows on the same call path.
func (r *PostgresRepository) ClaimScheduledBots(ctx context.Context, lower, upper time.Time, claim func(repository.Bot)) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx,
		`SELECT `+botColumns+` FROM bots
		 WHERE state = 'scheduled' AND join_at >= $1 AND join_at <= $2
		 FOR UPDATE SKIP LOCKED`,
		lower, upper)
	if err != nil {
		return 0, err
	}
	var list []repository.Bot
	for rows.Next() {
		var b repository.Bot
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.MeetingURL, &b.State, &b.JoinAt,
			&b.FirstHeartbeatAt, &b.LastHeartbeatAt, &b.Settings, &b.CreatedAt, &b.UpdatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		list = append(list, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, b := range list {
		claim(b)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(list), nil
}

const recordingColumns = `id, bot_id, is_default, transcription_type, state, transcription_state, started_at, failure_data, created_at`

func scanRecording(row pgx.Row) (*repository.Recording, error) {
	var rec repository.Recording
	err := row.Scan(&rec.ID, &rec.BotID, &rec.IsDefault, &rec.TranscriptionType,
		&rec.State, &rec.TranscriptionState, &rec.StartedAt, &rec.FailureData, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *PostgresRepository) CreateRecording(ctx context.Context, input repository.CreateRecordingInput) (*repository.Recording, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO recordings (bot_id, is_default, transcription_type)
		 VALUES ($1, $2, $3)
		 RETURNING `+recordingColumns,
		input.BotID, input.IsDefault, input.TranscriptionType)
	return scanRecording(row)
}

func (r *PostgresRepository) GetDefaultRecording(ctx context.Context, botID uuid.UUID) (*repository.Recording, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE bot_id = $1 AND is_default LIMIT 1`,
		botID)
	return scanRecording(row)
}

func (r *PostgresRepository) MarkRecordingInProgress(ctx context.Context, recordingID uuid.UUID, startedAt time.Time) error {
	// COALESCE keeps the original started_at across pause/resume cycles.
	_, err := r.pool.Exec(ctx,
		`UPDATE recordings SET state = 'in_progress', started_at = COALESCE(started_at, $2) WHERE id = $1`,
		recordingID, startedAt)
	return err
}

func (r *PostgresRepository) MarkRecordingComplete(ctx context.Context, recordingID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE recordings SET state = 'complete' WHERE id = $1`, recordingID)
	return err
}

func (r *PostgresRepository) MarkRecordingFailed(ctx context.Context, recordingID uuid.UUID, failureData json.RawMessage) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE recordings SET state = 'failed', failure_data = $2 WHERE id = $1`,
		recordingID, failureData)
	return err
}

func (r *PostgresRepository) UpsertParticipant(ctx context.Context, input repository.UpsertParticipantInput) (*repository.Participant, bool, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var existed, wasActive bool
	var existingID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id, active FROM participants WHERE bot_id = $1 AND uuid = $2 FOR UPDATE`,
		input.BotID, input.UUID).Scan(&existingID, &wasActive)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, false, false, err
	default:
		existed = true
	}

	var row pgx.Row
	if existed {
		row = tx.QueryRow(ctx,
			`UPDATE participants
			 SET full_name = CASE WHEN $2 <> '' THEN $2 ELSE full_name END,
			     active = $3,
			     updated_at = NOW()
			 WHERE id = $1
			 RETURNING id, bot_id, uuid, full_name, is_the_bot, active, created_at, updated_at`,
			existingID, input.FullName, input.Active)
	} else {
		row = tx.QueryRow(ctx,
			`INSERT INTO participants (bot_id, uuid, full_name, is_the_bot, active)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, bot_id, uuid, full_name, is_the_bot, active, created_at, updated_at`,
			input.BotID, input.UUID, input.FullName, input.IsTheBot, input.Active)
	}

	var p repository.Participant
	if err := row.Scan(&p.ID, &p.BotID, &p.UUID, &p.FullName, &p.IsTheBot, &p.Active,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, false, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, false, err
	}
	return &p, wasActive, existed, nil
}

func (r *PostgresRepository) InsertParticipantEvent(ctx context.Context, participantID uuid.UUID, eventType repository.ParticipantEventType, at time.Time) (*repository.ParticipantEvent, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO participant_events (participant_id, event_type, created_at)
		 VALUES ($1, $2, $3)
		 RETURNING id, participant_id, event_type, created_at`,
		participantID, eventType, at)
	var e repository.ParticipantEvent
	if err := row.Scan(&e.ID, &e.ParticipantID, &e.EventType, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresRepository) GetParticipantByUUID(ctx context.Context, botID uuid.UUID, platformUUID string) (*repository.Participant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, bot_id, uuid, full_name, is_the_bot, active, created_at, updated_at
		 FROM participants WHERE bot_id = $1 AND uuid = $2`,
		botID, platformUUID)
	var p repository.Participant
	err := row.Scan(&p.ID, &p.BotID, &p.UUID, &p.FullName, &p.IsTheBot, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) InsertUtterance(ctx context.Context, input repository.InsertUtteranceInput) (*repository.Utterance, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO utterances (recording_id, participant_id, source, timestamp_ms, duration_ms, transcription, failure_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, recording_id, participant_id, source, timestamp_ms, duration_ms, transcription, failure_data, created_at`,
		input.RecordingID, input.ParticipantID, input.Source, input.TimestampMs, input.DurationMs, input.Transcription, input.FailureData)
	var u repository.Utterance
	if err := row.Scan(&u.ID, &u.RecordingID, &u.ParticipantID, &u.Source, &u.TimestampMs, &u.DurationMs, &u.Transcription, &u.FailureData, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresRepository) ListUtterancesByRecording(ctx context.Context, recordingID uuid.UUID) ([]repository.Utterance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, recording_id, participant_id, source, timestamp_ms, duration_ms, transcription, failure_data, created_at
		 FROM utterances WHERE recording_id = $1 ORDER BY timestamp_ms ASC, created_at ASC`,
		recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Utterance
	for rows.Next() {
		var u repository.Utterance
		if err := rows.Scan(&u.ID, &u.RecordingID, &u.ParticipantID, &u.Source, &u.TimestampMs, &u.DurationMs, &u.Transcription, &u.FailureData, &u.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) InsertChatMessage(ctx context.Context, input repository.InsertChatMessageInput) (*repository.ChatMessage, bool, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (bot_id, participant_id, external_id, text, timestamp, to_bot, additional_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (bot_id, external_id) DO NOTHING
		 RETURNING id, bot_id, participant_id, external_id, text, timestamp, to_bot, additional_data, created_at`,
		input.BotID, input.ParticipantID, input.ExternalID, input.Text, input.Timestamp, input.ToBot, input.AdditionalData)
	var m repository.ChatMessage
	err := row.Scan(&m.ID, &m.BotID, &m.ParticipantID, &m.ExternalID, &m.Text, &m.Timestamp, &m.ToBot, &m.AdditionalData, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Duplicate external ID; return the stored row.
			existing := r.pool.QueryRow(ctx,
				`SELECT id, bot_id, participant_id, external_id, text, timestamp, to_bot, additional_data, created_at
				 FROM chat_messages WHERE bot_id = $1 AND external_id = $2`,
				input.BotID, input.ExternalID)
			if err := existing.Scan(&m.ID, &m.BotID, &m.ParticipantID, &m.ExternalID, &m.Text, &m.Timestamp, &m.ToBot, &m.AdditionalData, &m.CreatedAt); err != nil {
				return nil, false, err
			}
			return &m, false, nil
		}
		return nil, false, err
	}
	return &m, true, nil
}

func (r *PostgresRepository) ListActiveSubscriptions(ctx context.Context, projectID uuid.UUID, trigger string) ([]repository.WebhookSubscription, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, project_id, url, triggers, active, secret, created_at
		 FROM webhook_subscriptions
		 WHERE project_id = $1 AND active AND $2 = ANY(triggers)`,
		projectID, trigger)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.WebhookSubscription
	for rows.Next() {
		var s repository.WebhookSubscription
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.URL, &s.Triggers, &s.Active, &s.Secret, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) CreateDeliveryAttempt(ctx context.Context, input repository.CreateDeliveryAttemptInput) (*repository.WebhookDeliveryAttempt, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO webhook_delivery_attempts (subscription_id, bot_id, trigger, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, subscription_id, bot_id, trigger, payload, status, attempt_count, last_attempt_at, created_at`,
		input.SubscriptionID, input.BotID, input.Trigger, input.Payload)
	var a repository.WebhookDeliveryAttempt
	if err := row.Scan(&a.ID, &a.SubscriptionID, &a.BotID, &a.Trigger, &a.Payload, &a.Status, &a.AttemptCount, &a.LastAttemptAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) UpdateDeliveryAttempt(ctx context.Context, attemptID uuid.UUID, status repository.DeliveryStatus, attemptCount int, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_delivery_attempts SET status = $2, attempt_count = $3, last_attempt_at = $4 WHERE id = $1`,
		attemptID, status, attemptCount, at)
	return err
}

func (r *PostgresRepository) InsertCreditTransaction(ctx context.Context, botID uuid.UUID, credits int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO credit_transactions (bot_id, credits) VALUES ($1, $2)
		 ON CONFLICT (bot_id) DO NOTHING`,
		botID, credits)
	return err
}
