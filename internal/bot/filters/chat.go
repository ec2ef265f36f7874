// Package filters решает, в каких чатах бот отвечает на команды.
package filters

import (
	"context"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// MemberStore знает зарегистрированных участников.
type MemberStore interface {
	Known(ctx context.Context, userID int64) (bool, error)
}

// MembershipFunc возвращает статус пользователя в чате сообщества
// ("creator", "administrator", "member", "restricted", "left", "kicked").
type MembershipFunc func(ctx context.Context, chatID, userID int64) (string, error)

// ChatFilter пропускает команды из чата сообщества и из лички его участников.
type ChatFilter struct {
	communityChatID int64
	members         MemberStore
	membership      MembershipFunc
}

func NewChatFilter(communityChatID int64, members MemberStore, membership MembershipFunc) *ChatFilter {
	return &ChatFilter{
		communityChatID: communityChatID,
		members:         members,
		membership:      membership,
	}
}

// Decision — результат проверки доступа.
type Decision int

const (
	Deny Decision = iota
	Allow
	// DenyWithNotice — отказ в личке: пользователю стоит объяснить причину
	DenyWithNotice
)

// CheckAccess проверяет, можно ли обрабатывать команду из message.
func (f *ChatFilter) CheckAccess(ctx context.Context, message *telego.Message) Decision {
	if message == nil || message.From == nil {
		return Deny
	}

	chatID := message.Chat.ID
	userID := message.From.ID

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   chatID,
		"chat_type": message.Chat.Type,
		"user_id":   userID,
	})

	// 1) Чат сообщества
	if chatID == f.communityChatID {
		return Allow
	}

	if message.Chat.Type != telego.ChatTypePrivate {
		logger.Debug("deny: not community chat and not private")
		return Deny
	}

	// 2) Личка: сначала быстро по БД
	known, err := f.members.Known(ctx, userID)
	if err != nil {
		logger.WithError(err).Error("member check failed (db)")
		return Deny
	}
	if known {
		return Allow
	}

	// 2.1) БД не знает пользователя: проверяем членство через Telegram API
	if f.membership == nil {
		return DenyWithNotice
	}
	status, err := f.membership(ctx, f.communityChatID, userID)
	if err != nil {
		logger.WithError(err).Error("member check failed (telegram GetChatMember)")
		return Deny
	}

	switch status {
	case "creator", "administrator", "member", "restricted":
		logger.WithField("tg_status", status).Info("allow: private (telegram member)")
		return Allow
	default:
		logger.WithField("tg_status", status).Info("deny: private (not a chat member)")
		return DenyWithNotice
	}
}
