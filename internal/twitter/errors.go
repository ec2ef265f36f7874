// Package twitter — клиент X API v2 с учётом квот и кэшем ответов.
// errors.go описывает типизированные ошибки клиента.
package twitter

import (
	"fmt"
	"time"
)

// RateLimitExceededError — квота эндпоинта исчерпана (локально или по ответу 429).
// Ожидаемая ситуация: задача пропускает цикл, команда отвечает «попробуйте позже».
type RateLimitExceededError struct {
	Endpoint string
	Current  int
	Limit    int
	ResetIn  time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("лимит запросов к %s исчерпан (%d/%d), сброс через %s",
		e.Endpoint, e.Current, e.Limit, e.ResetIn.Round(time.Second))
}

// TransientAPIError — сетевая ошибка, таймаут или 5xx.
// Reached=false значит, что запрос не дошёл до сервера и квоту не тратил.
type TransientAPIError struct {
	Endpoint string
	Status   int
	Timeout  bool
	Reached  bool
	Err      error
}

func (e *TransientAPIError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("таймаут запроса к %s: %v", e.Endpoint, e.Err)
	case e.Status > 0:
		return fmt.Sprintf("временная ошибка %s: HTTP %d", e.Endpoint, e.Status)
	default:
		return fmt.Sprintf("сетевая ошибка %s: %v", e.Endpoint, e.Err)
	}
}

func (e *TransientAPIError) Unwrap() error { return e.Err }

// APIError — постоянная ошибка 4xx (кроме 429): неверный ID, нет доступа и т.п.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("X API %s вернул HTTP %d: %s", e.Endpoint, e.Status, e.Body)
}
