package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/domain/repository"
	"pasargamex-realtime/pkg/errors"
)

const uniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id            TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		last_sequence BIGINT NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT conversations_pair_key UNIQUE (participant_a, participant_b),
		CONSTRAINT conversations_pair_order CHECK (participant_a < participant_b)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations (id),
		sender_id       TEXT NOT NULL,
		receiver_id     TEXT NOT NULL,
		content         TEXT NOT NULL CHECK (length(btrim(content)) > 0),
		sequence        BIGINT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		read_at         TIMESTAMPTZ,
		idempotency_key TEXT,
		CONSTRAINT messages_conversation_sequence_key UNIQUE (conversation_id, sequence)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS messages_idempotency_key
		ON messages (conversation_id, sender_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS notification_feeds (
		recipient_id  TEXT PRIMARY KEY,
		last_sequence BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id           TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		sender_id    TEXT,
		type         TEXT NOT NULL,
		title        TEXT NOT NULL,
		message      TEXT NOT NULL DEFAULT '',
		action_data  JSONB,
		is_read      BOOLEAN NOT NULL DEFAULT false,
		sequence     BIGINT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		read_at      TIMESTAMPTZ,
		CONSTRAINT notifications_recipient_sequence_key UNIQUE (recipient_id, sequence)
	)`,
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, sequence, created_at, read_at, COALESCE(idempotency_key, '')`

const notificationColumns = `id, recipient_id, COALESCE(sender_id, ''), type, title, message, action_data, is_read, sequence, created_at, read_at`

// PostgresStore implements the event log on PostgreSQL. Sequence numbers are
// taken from a row-locked counter inside the appending transaction, so rows
// become visible in sequence order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ repository.Store = (*PostgresStore)(nil)

func (s *PostgresStore) Conversations() repository.ConversationRepository { return s }

func (s *PostgresStore) Events() repository.EventLog { return s }

func (s *PostgresStore) TestConnection(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, conversation *entity.Conversation) error {
	a, b := entity.OrderedPair(conversation.ParticipantA, conversation.ParticipantB)
	if conversation.ID == "" {
		conversation.ID = entity.ConversationIDFor(a, b)
	}
	conversation.ParticipantA, conversation.ParticipantB = a, b

	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, participant_a, participant_b) VALUES ($1, $2, $3) RETURNING created_at`,
		conversation.ID, a, b,
	).Scan(&conversation.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("Conversation already exists for this pair")
		}
		return errors.Persistence("Failed to create conversation", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	return s.getConversation(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetByParticipants(ctx context.Context, participantA, participantB string) (*entity.Conversation, error) {
	a, b := entity.OrderedPair(participantA, participantB)
	return s.getConversation(ctx, `WHERE participant_a = $1 AND participant_b = $2`, a, b)
}

func (s *PostgresStore) getConversation(ctx context.Context, where string, args ...any) (*entity.Conversation, error) {
	var c entity.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, participant_a, participant_b, last_sequence, created_at FROM conversations `+where, args...,
	).Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastSequence, &c.CreatedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, errors.Persistence("Failed to get conversation", err)
	}
	return &c, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, message *entity.Message) (*entity.Message, error) {
	if err := validateMessageRow(message); err != nil {
		return nil, err
	}
	stored := *message
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.ReadAt = nil

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Persistence("Failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var conv entity.Conversation
	err = tx.QueryRow(ctx,
		`SELECT id, participant_a, participant_b FROM conversations WHERE id = $1 FOR UPDATE`, stored.ConversationID,
	).Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.WriteRejected("Conversation does not exist", nil)
		}
		return nil, errors.Persistence("Failed to lock conversation", err)
	}
	if err := checkConversationParticipants(&conv, &stored); err != nil {
		return nil, err
	}

	if stored.IdempotencyKey != "" {
		prior, err := scanMessage(tx.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 AND sender_id = $2 AND idempotency_key = $3`,
			stored.ConversationID, stored.SenderID, stored.IdempotencyKey,
		))
		if err == nil {
			return prior, nil
		}
		if !stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Persistence("Failed to check idempotency key", err)
		}
	}

	if err := tx.QueryRow(ctx,
		`UPDATE conversations SET last_sequence = last_sequence + 1 WHERE id = $1 RETURNING last_sequence`, stored.ConversationID,
	).Scan(&stored.Sequence); err != nil {
		return nil, errors.Persistence("Failed to assign sequence", err)
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, sequence, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		 RETURNING created_at`,
		stored.ID, stored.ConversationID, stored.SenderID, stored.ReceiverID, stored.Content, stored.Sequence, stored.IdempotencyKey,
	).Scan(&stored.CreatedAt); err != nil {
		return nil, errors.Persistence("Failed to insert message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Persistence("Failed to commit message", err)
	}
	return &stored, nil
}

func (s *PostgresStore) AppendNotification(ctx context.Context, notification *entity.Notification) (*entity.Notification, error) {
	if err := validateNotificationRow(notification); err != nil {
		return nil, err
	}
	stored := *notification
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.IsRead = false
	stored.ReadAt = nil

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Persistence("Failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx,
		`INSERT INTO notification_feeds (recipient_id, last_sequence) VALUES ($1, 1)
		 ON CONFLICT (recipient_id) DO UPDATE SET last_sequence = notification_feeds.last_sequence + 1
		 RETURNING last_sequence`, stored.RecipientID,
	).Scan(&stored.Sequence); err != nil {
		return nil, errors.Persistence("Failed to assign sequence", err)
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO notifications (id, recipient_id, sender_id, type, title, message, action_data, sequence)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		stored.ID, stored.RecipientID, stored.SenderID, string(stored.Type), stored.Title, stored.Message, stored.ActionData, stored.Sequence,
	).Scan(&stored.CreatedAt); err != nil {
		return nil, errors.Persistence("Failed to insert notification", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Persistence("Failed to commit notification", err)
	}
	return &stored, nil
}

func (s *PostgresStore) Query(ctx context.Context, scope entity.Scope, afterSequence int64, limit int) ([]entity.Event, error) {
	limit = repository.NormalizeLimit(limit)

	switch scope.Kind {
	case entity.ScopeConversation:
		rows, err := s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 AND sequence > $2 ORDER BY sequence ASC LIMIT $3`,
			scope.ID, afterSequence, limit)
		if err != nil {
			return nil, errors.Persistence("Failed to query messages", err)
		}
		messages, err := collectMessages(rows)
		if err != nil {
			return nil, err
		}
		events := make([]entity.Event, len(messages))
		for i, m := range messages {
			events[i] = m.Event()
		}
		return events, nil
	case entity.ScopeNotifications:
		rows, err := s.pool.Query(ctx,
			`SELECT `+notificationColumns+` FROM notifications WHERE recipient_id = $1 AND sequence > $2 ORDER BY sequence ASC LIMIT $3`,
			scope.ID, afterSequence, limit)
		if err != nil {
			return nil, errors.Persistence("Failed to query notifications", err)
		}
		defer rows.Close()
		var events []entity.Event
		for rows.Next() {
			n, err := scanNotification(rows)
			if err != nil {
				return nil, errors.Persistence("Failed to scan notification", err)
			}
			events = append(events, n.Event())
		}
		if err := rows.Err(); err != nil {
			return nil, errors.Persistence("Failed to read notifications", err)
		}
		return events, nil
	default:
		return nil, errors.BadRequest("Unknown scope", nil)
	}
}

func (s *PostgresStore) ListMessagesBefore(ctx context.Context, conversationID string, beforeSequence int64, limit int) ([]*entity.Message, error) {
	limit = repository.NormalizeLimit(limit)
	var where strings.Builder
	where.WriteString(`WHERE conversation_id = $1`)
	args := []any{conversationID, limit}
	if beforeSequence > 0 {
		where.WriteString(` AND sequence < $3`)
		args = append(args, beforeSequence)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (SELECT `+messageColumns+` FROM messages `+where.String()+` ORDER BY sequence DESC LIMIT $2) page ORDER BY sequence ASC`,
		args...)
	if err != nil {
		return nil, errors.Persistence("Failed to list messages", err)
	}
	return collectMessages(rows)
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*entity.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("Message", nil)
		}
		return nil, errors.Persistence("Failed to get message", err)
	}
	return m, nil
}

func (s *PostgresStore) GetNotification(ctx context.Context, id string) (*entity.Notification, error) {
	n, err := scanNotification(s.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("Notification", nil)
		}
		return nil, errors.Persistence("Failed to get notification", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkMessageRead(ctx context.Context, messageID, readerID string) (*entity.Message, bool, error) {
	// The read_at IS NULL guard makes the transition happen at most once.
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE messages SET read_at = $3 WHERE id = $1 AND receiver_id = $2 AND read_at IS NULL RETURNING `+messageColumns,
		messageID, readerID, time.Now().UTC()))
	if err == nil {
		return m, true, nil
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.Persistence("Failed to mark message as read", err)
	}
	current, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if current.ReceiverID != readerID {
		return nil, false, errors.Forbidden("Only the receiver can mark a message as read", nil)
	}
	return current, false, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, readerID string) (*entity.Notification, bool, error) {
	n, err := scanNotification(s.pool.QueryRow(ctx,
		`UPDATE notifications SET is_read = true, read_at = $3 WHERE id = $1 AND recipient_id = $2 AND NOT is_read RETURNING `+notificationColumns,
		notificationID, readerID, time.Now().UTC()))
	if err == nil {
		return n, true, nil
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.Persistence("Failed to mark notification as read", err)
	}
	current, err := s.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, false, err
	}
	if current.RecipientID != readerID {
		return nil, false, errors.Forbidden("Only the recipient can mark a notification as read", nil)
	}
	return current, false, nil
}

func scanMessage(row pgx.Row) (*entity.Message, error) {
	var m entity.Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Sequence, &m.CreatedAt, &m.ReadAt, &m.IdempotencyKey); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanNotification(row pgx.Row) (*entity.Notification, error) {
	var (
		n   entity.Notification
		typ string
	)
	if err := row.Scan(&n.ID, &n.RecipientID, &n.SenderID, &typ, &n.Title, &n.Message, &n.ActionData, &n.IsRead, &n.Sequence, &n.CreatedAt, &n.ReadAt); err != nil {
		return nil, err
	}
	n.Type = entity.NotificationType(typ)
	return &n, nil
}

func collectMessages(rows pgx.Rows) ([]*entity.Message, error) {
	defer rows.Close()
	var messages []*entity.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Persistence("Failed to scan message", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence("Failed to read messages", err)
	}
	return messages, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
