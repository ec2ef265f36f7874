// Package economy — service.go содержит чтение баланса и истории начислений.
package economy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redaxedvg/ebisu/internal/common"
	"github.com/redaxedvg/ebisu/internal/features/users"
)

// HistoryLimit — сколько последних начислений показывать в /balance.
const HistoryLimit = 5

// Store — чтение журнала транзакций.
type Store interface {
	GetTransactions(ctx context.Context, userID int64, limit int) ([]*Transaction, error)
}

// UserReader читает карточку участника.
type UserReader interface {
	GetByUserID(ctx context.Context, userID int64) (*users.User, error)
}

// Service управляет экономикой бота (монеты).
type Service struct {
	repo  Store
	users UserReader
	loc   *time.Location
}

// NewService создаёт новый сервис экономики.
func NewService(repo Store, users UserReader, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, users: users, loc: loc}
}

// Summary возвращает карточку участника: баланс, счётчики и последние начисления.
func (s *Service) Summary(ctx context.Context, userID int64) (string, error) {
	u, err := s.users.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	transactions, err := s.repo.GetTransactions(ctx, userID, HistoryLimit)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 Баланс: %s\n", common.FormatBalance(u.Balance))
	if u.IsLinked() {
		sb.WriteString("🐦 Аккаунт X привязан\n")
	} else {
		sb.WriteString("🐦 Аккаунт X не привязан — /link @username\n")
	}
	fmt.Fprintf(&sb, "❤️ Лайки: %s · 🔁 Ретвиты: %s\n",
		common.FormatNumber(u.TotalLikes), common.FormatNumber(u.TotalRetweets))
	fmt.Fprintf(&sb, "💬 Сообщения: %s · 👍 Реакции: %s · 🎙 Голос: %s мин\n",
		common.FormatNumber(u.MessagesCount), common.FormatNumber(u.ReactionsCount),
		common.FormatNumber(u.VoiceMinutes))

	if len(transactions) == 0 {
		return sb.String(), nil
	}

	sb.WriteString("\n📋 Последние начисления:\n")
	for i, tx := range transactions {
		fmt.Fprintf(&sb, "%d. %s | %s | %s\n",
			i+1,
			common.FormatDateTime(tx.CreatedAt, s.loc),
			common.FormatCoinsAmount(tx.Amount),
			tx.Description,
		)
	}
	return sb.String(), nil
}
