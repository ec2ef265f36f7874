// Package users — handlers.go описывает команды участников: /start и /link.
package users

import (
	"context"
	"fmt"

	"github.com/redaxedvg/ebisu/internal/bot"
)

// Handler обрабатывает команды участников.
type Handler struct {
	service *Service
}

// NewHandler создаёт новый обработчик команд участников.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Commands возвращает команды для реестра бота.
func (h *Handler) Commands() []bot.Command {
	return []bot.Command{
		{Name: "start", Description: "регистрация в сообществе", Handle: h.handleStart},
		{Name: "link", Description: "привязать аккаунт X: /link @username", Handle: h.handleLink},
	}
}

func (h *Handler) handleStart(ctx context.Context, req *bot.Request) (string, error) {
	if err := h.service.Ensure(ctx, req.UserID, req.Username, req.FirstName); err != nil {
		return "", err
	}
	return "👋 Привет! Привяжите аккаунт X командой /link @username — " +
		"за лайки и ретвиты постов сообщества начисляются монеты.", nil
}

func (h *Handler) handleLink(ctx context.Context, req *bot.Request) (string, error) {
	if len(req.Args) == 0 {
		return "❌ Формат: /link @username", nil
	}
	account, err := h.service.Link(ctx, req.UserID, req.Username, req.FirstName, req.Args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Аккаунт X @%s привязан. Награды за лайки и ретвиты будут приходить автоматически.",
		account.Username), nil
}
