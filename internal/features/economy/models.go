// Package economy управляет монетами участников.
// models.go описывает структуры журнала транзакций.
package economy

import "time"

// Transaction — одна запись журнала начислений.
// Все движения монет (награды, бонусы) записываются сюда в той же
// транзакции БД, что и изменение баланса.
type Transaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`  // Всегда положительная
	TxType      string    `db:"tx_type"` // Тип: like_reward, retweet_reward, milestone_bonus
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Типы транзакций
const (
	TxTypeLikeReward     = "like_reward"     // Награда за лайк поста сообщества
	TxTypeRetweetReward  = "retweet_reward"  // Награда за ретвит
	TxTypeMilestoneBonus = "milestone_bonus" // Бонус за достижение вехи
)
