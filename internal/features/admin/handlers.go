// Package admin — handlers.go регистрирует служебные команды.
package admin

import (
	"context"

	"github.com/redaxedvg/ebisu/internal/bot"
	"github.com/redaxedvg/ebisu/internal/common"
)

// Handler обрабатывает админ-команды.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Commands возвращает команды для реестра бота. Все доступны только ADMIN_IDS.
func (h *Handler) Commands() []bot.Command {
	return []bot.Command{
		{Name: "ratelimits", Description: "квоты X API", AdminOnly: true, Handle: h.handleRateLimits},
		{Name: "jobs", Description: "фоновые задачи", AdminOnly: true, Handle: h.handleJobs},
		{Name: "run", Description: "запустить задачу: /run <имя>", AdminOnly: true, Handle: h.handleRun},
	}
}

func (h *Handler) handleRateLimits(ctx context.Context, _ *bot.Request) (string, error) {
	return h.service.RateLimits(ctx), nil
}

func (h *Handler) handleJobs(context.Context, *bot.Request) (string, error) {
	return h.service.Jobs(), nil
}

func (h *Handler) handleRun(ctx context.Context, req *bot.Request) (string, error) {
	if len(req.Args) == 0 {
		return "", common.NewValidationError("❌ Формат: /run <имя задачи>\n\n%s", h.service.Jobs())
	}
	return h.service.RunJob(ctx, req.Args[0])
}
