// Package bot — commands.go содержит реестр команд и разбор текста команды.
// Модули фич регистрируют свои команды через Command, бот сам отвечает
// пользователю и превращает ошибки в понятный текст.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/redaxedvg/ebisu/internal/common"
	"github.com/redaxedvg/ebisu/internal/twitter"
)

// Request — входящая команда.
type Request struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	Args      []string
	Private   bool
	Admin     bool
}

// HandlerFunc обрабатывает команду и возвращает текст ответа.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

// Command — команда бота.
type Command struct {
	Name        string
	Description string
	AdminOnly   bool
	Handle      HandlerFunc
}

// Registry хранит команды по имени.
type Registry struct {
	commands map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register добавляет команды. Повторное имя — ошибка сборки приложения.
func (r *Registry) Register(cmds ...Command) error {
	for _, c := range cmds {
		name := strings.ToLower(c.Name)
		if name == "" || c.Handle == nil {
			return fmt.Errorf("команда %q без имени или обработчика", c.Name)
		}
		if _, dup := r.commands[name]; dup {
			return fmt.Errorf("команда %q уже зарегистрирована", name)
		}
		c.Name = name
		r.commands[name] = c
	}
	return nil
}

// Lookup ищет команду по имени.
func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.commands[strings.ToLower(name)]
	return c, ok
}

// Help — список команд. Админские показываются только админам.
func (r *Registry) Help(admin bool) string {
	names := make([]string, 0, len(r.commands))
	for name, c := range r.commands {
		if c.AdminOnly && !admin {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("📋 Команды:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "/%s — %s\n", name, r.commands[name].Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Dispatch выполняет команду и всегда возвращает текст ответа.
// handled=false — команда неизвестна, отвечать не нужно.
func (r *Registry) Dispatch(ctx context.Context, name string, req *Request) (reply string, handled bool) {
	if name == "help" {
		return r.Help(req.Admin), true
	}
	c, ok := r.Lookup(name)
	if !ok {
		return "", false
	}
	if c.AdminOnly && !req.Admin {
		return "⛔ Команда доступна только администраторам", true
	}

	reply, err := c.Handle(ctx, req)
	if err != nil {
		return ErrorReply(err, log.WithFields(log.Fields{
			"cmd":     c.Name,
			"user_id": req.UserID,
		})), true
	}
	return reply, true
}

// ErrorReply превращает ошибку в ответ пользователю.
// Ожидаемые ошибки показываются как есть, остальные логируются.
func ErrorReply(err error, logger *log.Entry) string {
	var validation *common.ValidationError
	var limited *twitter.RateLimitExceededError
	var transient *twitter.TransientAPIError

	switch {
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &limited):
		logger.WithError(err).Info("Команда упёрлась в лимит X API")
		return fmt.Sprintf("⏳ Лимит запросов к X исчерпан, попробуйте через %s",
			limited.ResetIn.Round(time.Minute))
	case errors.As(err, &transient):
		logger.WithError(err).Warn("X API временно недоступен")
		return "⏳ X API временно недоступен, попробуйте позже"
	case errors.Is(err, common.ErrAlreadyLinked),
		errors.Is(err, common.ErrAccountTaken),
		errors.Is(err, common.ErrUserNotFound),
		errors.Is(err, common.ErrPostNotFound):
		return "❌ " + err.Error()
	default:
		logger.WithError(err).Error("Ошибка выполнения команды")
		return "❌ Произошла ошибка, попробуйте позже"
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Поддерживаются префиксы / ! . и суффикс @botname у команды.
func ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range []string{"/", "!", "."} {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}
	if command == "" {
		return "", nil, false
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
