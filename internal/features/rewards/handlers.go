// Package rewards — handlers.go обрабатывает команду /check.
package rewards

import (
	"context"
	"fmt"
	"strings"

	"github.com/redaxedvg/ebisu/internal/bot"
	"github.com/redaxedvg/ebisu/internal/common"
)

// Handler обрабатывает команды наград.
type Handler struct {
	service *Service
}

// NewHandler создаёт новый обработчик команд наград.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Commands возвращает команды для реестра бота.
func (h *Handler) Commands() []bot.Command {
	return []bot.Command{
		{Name: "check", Description: "проверить пост сообщества: /check <ссылка или ID>", Handle: h.handleCheck},
	}
}

// handleCheck опрашивает пост вне расписания.
//
// Формат ответа:
//
//	🔎 Пост 123: ❤️ 15 · 🔁 4
//	Новых наград: 2
func (h *Handler) handleCheck(ctx context.Context, req *bot.Request) (string, error) {
	if len(req.Args) == 0 {
		return "", common.NewValidationError("❌ Формат: /check <ссылка или ID поста>")
	}
	res, err := h.service.CheckPost(ctx, req.Args[0])
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔎 Пост %s: ❤️ %d · 🔁 %d\n", res.PostID, res.Likes, res.Retweets)
	if res.NewlyFound {
		sb.WriteString("🆕 Пост добавлен в отслеживаемые\n")
	}
	if res.Granted > 0 {
		fmt.Fprintf(&sb, "Новых наград: %d", res.Granted)
	} else {
		sb.WriteString("Новых наград нет")
	}
	return sb.String(), nil
}
