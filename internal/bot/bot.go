// Package bot содержит главный модуль бота: приём апдейтов Telegram,
// подсчёт активности в чате сообщества и маршрутизацию команд.
// bot.go запускает long polling и разбирает каждый апдейт.
package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"github.com/redaxedvg/ebisu/internal/bot/filters"
	"github.com/redaxedvg/ebisu/internal/bot/middleware"
	"github.com/redaxedvg/ebisu/internal/config"
)

// Sender отправляет сообщения. *telego.Bot удовлетворяет интерфейсу.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// MemberEnsurer регистрирует участника при первом обращении.
type MemberEnsurer interface {
	Ensure(ctx context.Context, userID int64, username, firstName string) error
}

// Activity принимает события активности из чата сообщества.
type Activity interface {
	CountMessage(userID int64)
	CountReactions(userID int64, n int64)
	VoiceJoin(userID int64)
	VoiceLeave(userID int64)
	VoiceReset()
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api    *telego.Bot
	sender Sender
	cfg    *config.Config

	registry    *Registry
	activity    Activity
	members     MemberEnsurer
	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
	wg       sync.WaitGroup
}

// New создаёт новый экземпляр бота со всеми зависимостями.
// api нужен только для Start; в тестах достаточно sender.
func New(
	api *telego.Bot,
	sender Sender,
	cfg *config.Config,
	registry *Registry,
	activity Activity,
	members MemberEnsurer,
	chatFilter *filters.ChatFilter,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:         api,
		sender:      sender,
		cfg:         cfg,
		registry:    registry,
		activity:    activity,
		members:     members,
		chatFilter:  chatFilter,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start запускает long polling и блокируется до отмены ctx.
// Перед возвратом дожидается обработки уже принятых апдейтов.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        b.cfg.BotUpdateTimeoutSeconds,
		AllowedUpdates: []string{"message", "message_reaction"},
	})
	if err != nil {
		return fmt.Errorf("не удалось запустить long polling: %w", err)
	}

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			return nil

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return nil
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			b.wg.Add(1)
			go func(upd telego.Update) {
				defer b.wg.Done()
				defer func() { <-b.inflight }()
				b.HandleUpdate(ctx, upd)
			}(update)
		}
	}
}

// Close освобождает фоновые ресурсы бота.
func (b *Bot) Close() {
	b.rateLimiter.Close()
}

// HandleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) HandleUpdate(ctx context.Context, update telego.Update) {
	defer middleware.RecoverFromPanic()

	if update.MessageReaction != nil {
		b.handleReaction(update.MessageReaction)
		return
	}
	if update.Message == nil {
		return
	}

	message := update.Message
	if message.Chat.ID == b.cfg.CommunityChatID {
		if b.handleServiceMessage(ctx, message) {
			return
		}
		if message.From != nil && !message.From.IsBot {
			b.activity.CountMessage(message.From.ID)
		}
	}

	if message.Text == "" || message.From == nil {
		return
	}
	cmd, args, isCommand := ParseCommand(message.Text)
	if !isCommand {
		return
	}

	middleware.LogMessage(message)
	b.handleCommand(ctx, message, cmd, args)
}

// handleServiceMessage учитывает служебные сообщения чата сообщества.
// Возвращает true, если сообщение служебное.
func (b *Bot) handleServiceMessage(ctx context.Context, message *telego.Message) bool {
	switch {
	case len(message.NewChatMembers) > 0:
		for _, u := range message.NewChatMembers {
			if u.IsBot {
				continue
			}
			if err := b.members.Ensure(ctx, u.ID, u.Username, u.FirstName); err != nil {
				log.WithError(err).WithField("user_id", u.ID).Warn("Ensure нового участника не удался")
			}
		}
		return true

	case message.LeftChatMember != nil:
		b.activity.VoiceLeave(message.LeftChatMember.ID)
		return true

	case message.VideoChatStarted != nil:
		b.activity.VoiceReset()
		if message.From != nil && !message.From.IsBot {
			b.activity.VoiceJoin(message.From.ID)
		}
		log.Info("Голосовой чат начат")
		return true

	case message.VideoChatParticipantsInvited != nil:
		for _, u := range message.VideoChatParticipantsInvited.Users {
			if !u.IsBot {
				b.activity.VoiceJoin(u.ID)
			}
		}
		return true

	case message.VideoChatEnded != nil:
		b.activity.VoiceReset()
		log.Info("Голосовой чат завершён")
		return true
	}
	return false
}

// handleReaction засчитывает только добавленные реакции.
func (b *Bot) handleReaction(r *telego.MessageReactionUpdated) {
	if r.Chat.ID != b.cfg.CommunityChatID || r.User == nil || r.User.IsBot {
		return
	}
	if added := len(r.NewReaction) - len(r.OldReaction); added > 0 {
		b.activity.CountReactions(r.User.ID, int64(added))
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *telego.Message, cmd string, args []string) {
	chatID := message.Chat.ID
	userID := message.From.ID

	switch b.chatFilter.CheckAccess(ctx, message) {
	case filters.Deny:
		return
	case filters.DenyWithNotice:
		b.SendMessage(ctx, chatID, "❌ Бот работает только для участников сообщества")
		return
	}

	if !b.rateLimiter.Allow(userID) {
		log.WithField("user_id", userID).Debug("rate limited")
		if b.rateLimiter.ShouldWarn(userID) {
			b.SendMessage(ctx, chatID, "⏳ Слишком много команд, подождите немного")
		}
		return
	}

	// ошибку не скрываем, но команда может работать и без записи
	if err := b.members.Ensure(ctx, userID, message.From.Username, message.From.FirstName); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Ensure failed")
	}

	req := &Request{
		ChatID:    chatID,
		UserID:    userID,
		Username:  message.From.Username,
		FirstName: message.From.FirstName,
		Args:      args,
		Private:   message.Chat.Type == telego.ChatTypePrivate,
		Admin:     b.cfg.IsAdmin(userID),
	}

	reply, handled := b.registry.Dispatch(ctx, cmd, req)
	log.WithFields(log.Fields{
		"cmd":     cmd,
		"args":    args,
		"handled": handled,
	}).Debug("routing command")
	if handled && reply != "" {
		b.SendMessage(ctx, chatID, reply)
	}
}

// SendMessage — утилита для отправки сообщений.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) {
	if _, err := b.sender.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
