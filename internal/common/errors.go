// Package common — errors.go определяет ошибки, общие для всех модулей бота.
// Типизированные ошибки позволяют обработчикам и задачам различать
// фатальные, ожидаемые и пользовательские проблемы.
package common

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки пользователей и экономики
var (
	// ErrUserNotFound — пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrAlreadyLinked — аккаунт X уже привязан (привязка одноразовая)
	ErrAlreadyLinked = errors.New("аккаунт X уже привязан")
	// ErrAccountTaken — этот аккаунт X привязан к другому участнику
	ErrAccountTaken = errors.New("этот аккаунт X уже привязан к другому участнику")
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
)

// Ошибки постов
var (
	// ErrPostNotFound — пост не отслеживается
	ErrPostNotFound = errors.New("пост не найден")
)

// ConfigurationError — фатальная ошибка старта: не заданы обязательные параметры.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("не заданы обязательные параметры: %s", strings.Join(e.Missing, ", "))
}

// ValidationError — некорректный ввод в команде.
// Текст Message показывается пользователю как есть.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError создаёт ValidationError с форматированием.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
