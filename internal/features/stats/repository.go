// Package stats — repository.go записывает счётчики и выдаёт бонусы за вехи.
package stats

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redaxedvg/ebisu/internal/features/economy"
)

// Store — запись счётчиков и выдача вех.
type Store interface {
	// ApplyDeltas увеличивает счётчики одним пакетом в одной транзакции БД,
	// создавая отсутствующих участников, и возвращает значения после записи
	// в том же порядке, что и deltas.
	ApplyDeltas(ctx context.Context, deltas []Delta) ([]Totals, error)
	// GrantMilestone выдаёт бонус за веху, если он ещё не выдавался.
	GrantMilestone(ctx context.Context, userID int64, m Milestone) (granted bool, err error)
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const upsertCounters = `
	INSERT INTO users (user_id, messages_count, reactions_count, voice_minutes)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id) DO UPDATE
	SET messages_count  = users.messages_count + EXCLUDED.messages_count,
	    reactions_count = users.reactions_count + EXCLUDED.reactions_count,
	    voice_minutes   = users.voice_minutes + EXCLUDED.voice_minutes,
	    updated_at      = NOW()
	RETURNING messages_count, reactions_count, voice_minutes
`

func (r *Repository) ApplyDeltas(ctx context.Context, deltas []Delta) ([]Totals, error) {
	if len(deltas) == 0 {
		return nil, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, d := range deltas {
		batch.Queue(upsertCounters, d.UserID, d.Messages, d.Reactions, d.VoiceMinutes)
	}

	br := tx.SendBatch(ctx, batch)
	totals := make([]Totals, 0, len(deltas))
	for _, d := range deltas {
		t := Totals{UserID: d.UserID}
		if err := br.QueryRow().Scan(&t.Messages, &t.Reactions, &t.VoiceMinutes); err != nil {
			br.Close()
			return nil, fmt.Errorf("ошибка записи счётчиков user_id=%d: %w", d.UserID, err)
		}
		totals = append(totals, t)
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("ошибка завершения пакета: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации счётчиков: %w", err)
	}
	return totals, nil
}

func (r *Repository) GrantMilestone(ctx context.Context, userID int64, m Milestone) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO milestone_grants (user_id, field, threshold, bonus)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, field, threshold) DO NOTHING
	`, userID, string(m.Field), m.Threshold, m.Bonus)
	if err != nil {
		return false, fmt.Errorf("ошибка записи вехи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := economy.Credit(ctx, tx, userID, m.Bonus, economy.TxTypeMilestoneBonus, m.Description()); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ошибка фиксации вехи: %w", err)
	}
	return true, nil
}
