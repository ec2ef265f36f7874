// Package economy — handlers.go обрабатывает команду /balance.
package economy

import (
	"context"

	"github.com/redaxedvg/ebisu/internal/bot"
	"github.com/redaxedvg/ebisu/internal/features/users"
)

// Handler обрабатывает команды экономики.
type Handler struct {
	service *Service
	members *users.Service
}

// NewHandler создаёт новый обработчик экономических команд.
func NewHandler(service *Service, members *users.Service) *Handler {
	return &Handler{service: service, members: members}
}

// Commands возвращает команды для реестра бота.
func (h *Handler) Commands() []bot.Command {
	return []bot.Command{
		{Name: "balance", Description: "баланс, счётчики и последние начисления", Handle: h.handleBalance},
	}
}

// handleBalance регистрирует участника, если его ещё нет, и показывает карточку.
func (h *Handler) handleBalance(ctx context.Context, req *bot.Request) (string, error) {
	if err := h.members.Ensure(ctx, req.UserID, req.Username, req.FirstName); err != nil {
		return "", err
	}
	return h.service.Summary(ctx, req.UserID)
}
