package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"message-service/internal/models"
)

// UserRepository reads accounts owned by the user service.
type UserRepository interface {
	// GetUsers returns the users that exist among ids; unknown ids are skipped.
	GetUsers(ctx context.Context, ids []string) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	var rows []struct {
		ID    string `db:"id"`
		Email string `db:"email"`
		IsBot bool   `db:"is_bot"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, email, is_bot FROM users WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, models.User{ID: row.ID, Email: row.Email, IsBot: row.IsBot})
	}
	return users, nil
}
