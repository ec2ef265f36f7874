// Package users — service.go содержит бизнес-логику участников:
// регистрацию и одноразовую привязку аккаунта X.
package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/redaxedvg/ebisu/internal/common"
	"github.com/redaxedvg/ebisu/internal/twitter"
)

// Store — операции с таблицей users, нужные сервису.
type Store interface {
	Ensure(ctx context.Context, userID int64, username, firstName string) error
	GetByUserID(ctx context.Context, userID int64) (*User, error)
	LinkAccount(ctx context.Context, userID int64, accountID string) error
}

// AccountResolver находит аккаунт X по @handle.
type AccountResolver interface {
	UserByUsername(ctx context.Context, username string) (*twitter.Account, error)
}

// Правила имени пользователя X: латиница, цифры, '_', до 15 символов
var handleRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// Service управляет участниками сообщества.
type Service struct {
	repo     Store
	accounts AccountResolver
}

// NewService создаёт новый сервис участников.
func NewService(repo Store, accounts AccountResolver) *Service {
	return &Service{repo: repo, accounts: accounts}
}

// Ensure гарантирует, что пользователь есть в базе.
func (s *Service) Ensure(ctx context.Context, userID int64, username, firstName string) error {
	return s.repo.Ensure(ctx, userID, username, firstName)
}

// GetByUserID возвращает пользователя по Telegram user ID.
func (s *Service) GetByUserID(ctx context.Context, userID int64) (*User, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// Known сообщает, зарегистрирован ли участник.
func (s *Service) Known(ctx context.Context, userID int64) (bool, error) {
	_, err := s.repo.GetByUserID(ctx, userID)
	if errors.Is(err, common.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Link привязывает аккаунт X к участнику.
// handle принимается с @ или без, а также ссылкой на профиль.
func (s *Service) Link(ctx context.Context, userID int64, username, firstName, handle string) (*twitter.Account, error) {
	handle = NormalizeHandle(handle)
	if !handleRe.MatchString(handle) {
		return nil, common.NewValidationError("❌ Укажите имя аккаунта X: /link @username")
	}

	if err := s.repo.Ensure(ctx, userID, username, firstName); err != nil {
		return nil, err
	}
	u, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IsLinked() {
		return nil, common.ErrAlreadyLinked
	}

	account, err := s.accounts.UserByUsername(ctx, handle)
	if err != nil {
		var apiErr *twitter.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return nil, common.NewValidationError("❌ Аккаунт X @%s не найден", handle)
		}
		return nil, fmt.Errorf("ошибка поиска аккаунта X @%s: %w", handle, err)
	}

	if err := s.repo.LinkAccount(ctx, userID, account.ID); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":    userID,
		"account_id": account.ID,
		"handle":     account.Username,
	}).Info("Аккаунт X привязан")
	return account, nil
}

// NormalizeHandle убирает @, пробелы и префикс ссылки на профиль.
func NormalizeHandle(raw string) string {
	h := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://", "http://", "www.", "x.com/", "twitter.com/"} {
		h = strings.TrimPrefix(h, prefix)
	}
	h = strings.TrimPrefix(h, "@")
	if i := strings.IndexAny(h, "/?"); i >= 0 {
		h = h[:i]
	}
	return h
}
