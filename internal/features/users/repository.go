// Package users — repository.go отвечает за все операции с таблицей users в БД.
// Счётчики и баланс меняются только атомарными инкрементами (col = col + $n).
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redaxedvg/ebisu/internal/common"
	"github.com/redaxedvg/ebisu/internal/db/postgres"
)

const userColumns = `
	user_id, username, first_name, linked_account_id, balance,
	messages_count, reactions_count, voice_minutes, total_likes, total_retweets,
	created_at, updated_at`

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Ensure создаёт пользователя или обновляет его имя/username.
// Баланс, счётчики и привязку не трогает.
func (r *Repository) Ensure(ctx context.Context, userID int64, username, firstName string) error {
	query := `
		INSERT INTO users (user_id, username, first_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    updated_at = NOW()
		WHERE users.username IS DISTINCT FROM EXCLUDED.username
		   OR users.first_name IS DISTINCT FROM EXCLUDED.first_name
	`
	if _, err := r.db.Exec(ctx, query, userID, username, firstName); err != nil {
		return fmt.Errorf("ошибка создания/обновления пользователя: %w", err)
	}
	return nil
}

// GetByUserID: если не найден — common.ErrUserNotFound.
func (r *Repository) GetByUserID(ctx context.Context, userID int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения пользователя (user_id=%d): %w", userID, err)
	}
	return u, nil
}

// LinkAccount привязывает аккаунт X. Привязка одноразовая:
// повторная — ErrAlreadyLinked, чужой аккаунт — ErrAccountTaken.
func (r *Repository) LinkAccount(ctx context.Context, userID int64, accountID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET linked_account_id = $2, updated_at = NOW()
		WHERE user_id = $1 AND linked_account_id IS NULL
	`, userID, accountID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return common.ErrAccountTaken
		}
		return fmt.Errorf("ошибка привязки аккаунта: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Ничего не обновили: либо пользователя нет, либо привязка уже есть
	var linked *string
	err = r.db.QueryRow(ctx, `SELECT linked_account_id FROM users WHERE user_id = $1`, userID).Scan(&linked)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("ошибка проверки привязки: %w", err)
	}
	return common.ErrAlreadyLinked
}

// ResolveLinked возвращает соответствие «ID аккаунта X → user_id»
// для привязанных аккаунтов из списка. Непривязанные ID просто отсутствуют.
func (r *Repository) ResolveLinked(ctx context.Context, accountIDs []string) (map[string]int64, error) {
	out := make(map[string]int64)
	if len(accountIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT linked_account_id, user_id
		FROM users
		WHERE linked_account_id = ANY($1)
	`, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска привязанных аккаунтов: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID string
		var userID int64
		if err := rows.Scan(&accountID, &userID); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out[accountID] = userID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

// CountLinked — сколько участников привязали аккаунт X.
func (r *Repository) CountLinked(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE linked_account_id IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта привязок: %w", err)
	}
	return n, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.UserID, &u.Username, &u.FirstName, &u.LinkedAccountID, &u.Balance,
		&u.MessagesCount, &u.ReactionsCount, &u.VoiceMinutes, &u.TotalLikes, &u.TotalRetweets,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
