// Package admin — служебные команды администраторов: квоты X API,
// состояние фоновых задач и ручной запуск задачи.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redaxedvg/ebisu/internal/common"
	"github.com/redaxedvg/ebisu/internal/jobs"
	"github.com/redaxedvg/ebisu/internal/twitter"
)

// QuotaSource — состояние квот X API.
type QuotaSource interface {
	Statuses() []twitter.Status
}

// CacheCounter считает закэшированные ответы X API.
type CacheCounter interface {
	CachedResponses(ctx context.Context) (int, error)
}

// JobRunner — фоновые задачи.
type JobRunner interface {
	Statuses() []jobs.Status
	Run(ctx context.Context, name string) error
}

// Service формирует отчёты для администраторов.
type Service struct {
	quota QuotaSource
	cache CacheCounter
	jobs  JobRunner
	loc   *time.Location
}

func NewService(quota QuotaSource, cache CacheCounter, runner JobRunner, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{quota: quota, cache: cache, jobs: runner, loc: loc}
}

// RateLimits — отчёт по квотам.
//
//	📊 Квоты X API
//	tweets/:id/liking_users: 3/75, сброс через 12m
//	...
//	Кэш: 4 ответа
func (s *Service) RateLimits(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString("📊 Квоты X API\n")
	for _, st := range s.quota.Statuses() {
		mark := ""
		if st.Remaining == 0 {
			mark = " ⛔"
		}
		fmt.Fprintf(&sb, "%s: %d/%d, сброс через %s%s\n",
			st.Bucket, st.Count, st.Limit, st.ResetIn.Round(time.Minute), mark)
	}
	if s.cache != nil {
		n, err := s.cache.CachedResponses(ctx)
		if err != nil {
			sb.WriteString("Кэш: недоступен")
		} else {
			fmt.Fprintf(&sb, "Кэш: %d %s", n, common.Pluralize(int64(n), "ответ", "ответа", "ответов"))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Jobs — отчёт по фоновым задачам.
func (s *Service) Jobs() string {
	var sb strings.Builder
	sb.WriteString("⚙️ Фоновые задачи\n")
	for _, st := range s.jobs.Statuses() {
		fmt.Fprintf(&sb, "%s %s", jobIcon(st), st.Name)
		if !st.LastEnd.IsZero() {
			fmt.Fprintf(&sb, " — %s", common.FormatDateTime(st.LastEnd, s.loc))
		}
		if st.LastError != "" {
			fmt.Fprintf(&sb, " (%s)", st.LastError)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RunJob запускает задачу вне расписания.
func (s *Service) RunJob(ctx context.Context, name string) (string, error) {
	if err := s.jobs.Run(ctx, name); err != nil {
		return "", common.NewValidationError("❌ Неизвестная задача %q", name)
	}
	for _, st := range s.jobs.Statuses() {
		if st.Name == name {
			return fmt.Sprintf("%s %s: %s", jobIcon(st), name, resultText(st)), nil
		}
	}
	return "✅ " + name, nil
}

func jobIcon(st jobs.Status) string {
	if st.State == jobs.StateRunning {
		return "⏳"
	}
	switch st.LastResult {
	case jobs.ResultSuccess:
		return "✅"
	case jobs.ResultSkipped:
		return "⏭"
	case jobs.ResultFailed:
		return "❌"
	}
	return "▫️"
}

func resultText(st jobs.Status) string {
	switch st.LastResult {
	case jobs.ResultSuccess:
		return "выполнено"
	case jobs.ResultSkipped:
		return "пропущено: " + st.LastError
	case jobs.ResultFailed:
		return "ошибка: " + st.LastError
	}
	return "не запускалась"
}
