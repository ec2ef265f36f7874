// Package rewards — repository.go выполняет операции с таблицей posts.
// Отметка «награда выдана» и начисление монет фиксируются одной транзакцией БД.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redaxedvg/ebisu/internal/common"
	"github.com/redaxedvg/ebisu/internal/features/economy"
)

// Store — хранилище постов и наград.
type Store interface {
	// EnsurePost создаёт пост, если его ещё нет. created=false — пост уже был.
	EnsurePost(ctx context.Context, postID string, postedAt time.Time) (created bool, err error)
	GetPost(ctx context.Context, postID string) (*Post, error)
	// MergeEngagers добавляет новые ID к liked_by/retweeted_by (объединение множеств)
	// и возвращает пост после слияния.
	MergeEngagers(ctx context.Context, postID string, likers, retweeters []string) (*Post, error)
	// Grant атомарно отмечает участника в наборе наград поста и начисляет монеты.
	// granted=false — награда уже была выдана раньше.
	Grant(ctx context.Context, postID string, userID int64, kind Kind, coins int64) (granted bool, err error)
	// ListRecent — нефинальные посты, опубликованные после since.
	ListRecent(ctx context.Context, since time.Time) ([]*Post, error)
	// ListPendingFinal — нефинальные посты, опубликованные до before.
	ListPendingFinal(ctx context.Context, before time.Time, limit int) ([]*Post, error)
	// ListUnrewarded — посты, где есть привязанные участники без награды.
	ListUnrewarded(ctx context.Context) ([]*Post, error)
	// RecordFinalAttempt увеличивает счётчик финальных попыток и закрывает пост,
	// если попытка удалась или попытки кончились.
	RecordFinalAttempt(ctx context.Context, postID string, success bool, maxAttempts int) (final bool, err error)
	MarkPolled(ctx context.Context, postID string, at time.Time) error
	LatestPostID(ctx context.Context) (string, error)
}

const postColumns = `
	post_id, posted_at, liked_by, retweeted_by, rewarded_for_like, rewarded_for_retweet,
	final_checked, final_attempts, last_polled_at, created_at`

// Repository — Store на PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

func (r *Repository) EnsurePost(ctx context.Context, postID string, postedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO posts (post_id, posted_at)
		VALUES ($1, $2)
		ON CONFLICT (post_id) DO NOTHING
	`, postID, postedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("ошибка создания поста %s: %w", postID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) GetPost(ctx context.Context, postID string) (*Post, error) {
	p, err := scanPost(r.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE post_id = $1`, postID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("post_id=%s: %w", postID, common.ErrPostNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения поста %s: %w", postID, err)
	}
	return p, nil
}

func (r *Repository) MergeEngagers(ctx context.Context, postID string, likers, retweeters []string) (*Post, error) {
	// Объединение без дублей с сохранением порядка появления
	query := `
		UPDATE posts SET
			liked_by = ARRAY(
				SELECT id FROM unnest(liked_by || $2::text[]) WITH ORDINALITY AS t(id, n)
				GROUP BY id ORDER BY MIN(n)
			),
			retweeted_by = ARRAY(
				SELECT id FROM unnest(retweeted_by || $3::text[]) WITH ORDINALITY AS t(id, n)
				GROUP BY id ORDER BY MIN(n)
			)
		WHERE post_id = $1
		RETURNING ` + postColumns
	if likers == nil {
		likers = []string{}
	}
	if retweeters == nil {
		retweeters = []string{}
	}
	p, err := scanPost(r.db.QueryRow(ctx, query, postID, likers, retweeters))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("post_id=%s: %w", postID, common.ErrPostNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка слияния взаимодействий поста %s: %w", postID, err)
	}
	return p, nil
}

func (r *Repository) Grant(ctx context.Context, postID string, userID int64, kind Kind, coins int64) (bool, error) {
	set, counter, what := "rewarded_for_like", "total_likes", "Лайк"
	if kind == KindRetweet {
		set, counter, what = "rewarded_for_retweet", "total_retweets", "Ретвит"
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// Условная отметка: если участник уже в наборе, строка не меняется
	tag, err := tx.Exec(ctx, `
		UPDATE posts
		SET `+set+` = array_append(`+set+`, $2)
		WHERE post_id = $1 AND NOT ($2 = ANY(`+set+`))
	`, postID, userID)
	if err != nil {
		return false, fmt.Errorf("ошибка отметки награды: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users SET `+counter+` = `+counter+` + 1, updated_at = NOW()
		WHERE user_id = $1
	`, userID); err != nil {
		return false, fmt.Errorf("ошибка обновления счётчика: %w", err)
	}

	description := fmt.Sprintf("%s поста %s", what, postID)
	if err := economy.Credit(ctx, tx, userID, coins, kind.TxType(), description); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ошибка фиксации награды: %w", err)
	}
	return true, nil
}

func (r *Repository) ListRecent(ctx context.Context, since time.Time) ([]*Post, error) {
	return r.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE NOT final_checked AND posted_at >= $1
		ORDER BY posted_at DESC
	`, since.UTC())
}

func (r *Repository) ListPendingFinal(ctx context.Context, before time.Time, limit int) ([]*Post, error) {
	return r.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE NOT final_checked AND posted_at < $1
		ORDER BY posted_at
		LIMIT $2
	`, before.UTC(), limit)
}

func (r *Repository) ListUnrewarded(ctx context.Context) ([]*Post, error) {
	return r.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts p
		WHERE EXISTS (
			SELECT 1 FROM users u
			WHERE u.linked_account_id = ANY(p.liked_by)
			  AND NOT (u.user_id = ANY(p.rewarded_for_like))
		) OR EXISTS (
			SELECT 1 FROM users u
			WHERE u.linked_account_id = ANY(p.retweeted_by)
			  AND NOT (u.user_id = ANY(p.rewarded_for_retweet))
		)
		ORDER BY posted_at
	`)
}

func (r *Repository) RecordFinalAttempt(ctx context.Context, postID string, success bool, maxAttempts int) (bool, error) {
	var final bool
	err := r.db.QueryRow(ctx, `
		UPDATE posts
		SET final_attempts = final_attempts + 1,
		    final_checked = final_checked OR $2 OR final_attempts + 1 >= $3
		WHERE post_id = $1
		RETURNING final_checked
	`, postID, success, maxAttempts).Scan(&final)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("post_id=%s: %w", postID, common.ErrPostNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("ошибка записи финальной попытки: %w", err)
	}
	return final, nil
}

func (r *Repository) MarkPolled(ctx context.Context, postID string, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE posts SET last_polled_at = $2 WHERE post_id = $1`, postID, at.UTC()); err != nil {
		return fmt.Errorf("ошибка отметки опроса: %w", err)
	}
	return nil
}

// LatestPostID — ID самого свежего поста (для since_id). Пусто, если постов нет.
func (r *Repository) LatestPostID(ctx context.Context) (string, error) {
	var id string
	// ID постов X — snowflake: числовой порядок совпадает с хронологией
	err := r.db.QueryRow(ctx, `
		SELECT post_id FROM posts
		ORDER BY length(post_id) DESC, post_id DESC
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения последнего поста: %w", err)
	}
	return id, nil
}

func (r *Repository) queryPosts(ctx context.Context, query string, args ...any) ([]*Post, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса постов: %w", err)
	}
	defer rows.Close()

	var out []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

func scanPost(row pgx.Row) (*Post, error) {
	var p Post
	err := row.Scan(
		&p.PostID, &p.PostedAt, &p.LikedBy, &p.RetweetedBy,
		&p.RewardedForLike, &p.RewardedForRetweet,
		&p.FinalChecked, &p.FinalAttempts, &p.LastPolledAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
