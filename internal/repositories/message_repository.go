package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"message-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidID       = errors.New("invalid id")
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListVisible(ctx context.Context, conversationID, viewerID string) ([]models.Message, error)
	ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkSeen(ctx context.Context, messageIDs []string, userID string, at time.Time) error
	AddDeletedFrom(ctx context.Context, messageID string, userIDs []string) (models.Message, error)
}

// seenMarkers maps the seen_by jsonb column.
type seenMarkers []models.SeenMarker

func (s seenMarkers) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func (s *seenMarkers) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("seen_by: unsupported type %T", src)
	}
}

type messageRow struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	SenderID       string         `db:"sender_id"`
	Text           string         `db:"text"`
	ImageURL       string         `db:"image_url"`
	SeenBy         seenMarkers    `db:"seen_by"`
	DeletedFrom    pq.StringArray `db:"deleted_from"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r messageRow) toModel() models.Message {
	seen := []models.SeenMarker(r.SeenBy)
	if seen == nil {
		seen = []models.SeenMarker{}
	}
	deleted := []string(r.DeletedFrom)
	if deleted == nil {
		deleted = []string{}
	}
	return models.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Text:           r.Text,
		ImageURL:       r.ImageURL,
		SeenBy:         seen,
		DeletedFrom:    deleted,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const messageColumns = `id, conversation_id, sender_id, text, image_url, seen_by, deleted_from, created_at, updated_at`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns it with its id and timestamps.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var row messageRow
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, text, image_url, seen_by, deleted_from, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING `+messageColumns,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Text, msg.ImageURL, seenMarkers(msg.SeenBy), pq.StringArray(nonNil(msg.DeletedFrom)), msg.CreatedAt).
		StructScan(&row)
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// ListVisible returns the conversation messages not hidden for viewerID, oldest first.
func (r *MessageRepo) ListVisible(ctx context.Context, conversationID, viewerID string) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND NOT ($2 = ANY(deleted_from))
        ORDER BY created_at ASC`, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	return toMessages(rows), nil
}

// ListRecent returns up to limit messages, newest first.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	return toMessages(rows), nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// MarkSeen appends a seen marker for userID to every listed message that lacks one.
func (r *MessageRepo) MarkSeen(ctx context.Context, messageIDs []string, userID string, at time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE messages
        SET seen_by = seen_by || jsonb_build_array(jsonb_build_object('user', $2::text, 'seenAt', $3::timestamptz))
        WHERE id = ANY($1) AND NOT seen_by @> jsonb_build_array(jsonb_build_object('user', $2::text))`,
		pq.Array(messageIDs), userID, at)
	return err
}

// AddDeletedFrom hides the message for every user in userIDs.
func (r *MessageRepo) AddDeletedFrom(ctx context.Context, messageID string, userIDs []string) (models.Message, error) {
	var row messageRow
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET deleted_from = ARRAY(SELECT DISTINCT u FROM unnest(deleted_from || $2::text[]) AS u), updated_at = NOW()
        WHERE id=$1 RETURNING `+messageColumns, messageID, pq.Array(userIDs)).
		StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

func toMessages(rows []messageRow) []models.Message {
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
