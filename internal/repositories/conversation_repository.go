package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"message-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation metadata persistence.
type ConversationRepository interface {
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	// RecordMessage updates the latest message snapshot and bumps the unread counter of unreadFor.
	RecordMessage(ctx context.Context, conversationID, latest string, at time.Time, unreadFor []string) error
	ResetUnread(ctx context.Context, conversationID, userID string) error
}

type conversationRow struct {
	ID            string         `db:"id"`
	Members       pq.StringArray `db:"members"`
	LatestMessage string         `db:"latest_message"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetConversation fetches a conversation with its unread counters.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row, `SELECT id, members, latest_message, created_at, updated_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	var unread []struct {
		UserID string `db:"user_id"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &unread, `SELECT user_id, count FROM conversation_unread WHERE conversation_id=$1 ORDER BY user_id`, conversationID); err != nil {
		return models.Conversation{}, err
	}

	conv := models.Conversation{
		ID:            row.ID,
		Members:       []string(row.Members),
		LatestMessage: row.LatestMessage,
		UnreadCounts:  make([]models.UnreadCount, 0, len(unread)),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	for _, u := range unread {
		conv.UnreadCounts = append(conv.UnreadCounts, models.UnreadCount{UserID: u.UserID, Count: u.Count})
	}
	return conv, nil
}

// RecordMessage runs in a single transaction so the snapshot and counters move together.
func (r *ConversationRepo) RecordMessage(ctx context.Context, conversationID, latest string, at time.Time, unreadFor []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET latest_message=$2, updated_at=$3 WHERE id=$1`, conversationID, latest, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}

	for _, userID := range unreadFor {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_unread (conversation_id, user_id, count) VALUES ($1, $2, 1)
            ON CONFLICT (conversation_id, user_id) DO UPDATE SET count = conversation_unread.count + 1`, conversationID, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ResetUnread sets the unread counter of userID to zero.
func (r *ConversationRepo) ResetUnread(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_unread (conversation_id, user_id, count) VALUES ($1, $2, 0)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET count = 0`, conversationID, userID)
	return err
}
