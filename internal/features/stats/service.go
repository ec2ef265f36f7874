// Package stats — service.go сбрасывает накопленные счётчики и проверяет вехи.
package stats

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// MilestoneNotifier сообщает о выданной вехе (поздравление в чате).
type MilestoneNotifier func(userID int64, m Milestone)

// Service управляет сбросом статистики.
type Service struct {
	acc      *Accumulator
	presence *Presence
	repo     Store
	matcher  *Matcher
	notify   MilestoneNotifier

	// сброс по расписанию и финальный сброс при остановке не пересекаются
	flushMu sync.Mutex
	// вехи, выдать которые не удалось; под flushMu
	retry []pendingGrant
}

type pendingGrant struct {
	userID    int64
	milestone Milestone
}

// NewService создаёт сервис статистики.
func NewService(acc *Accumulator, presence *Presence, repo Store, matcher *Matcher) *Service {
	return &Service{acc: acc, presence: presence, repo: repo, matcher: matcher}
}

// OnMilestone задаёт получателя уведомлений о вехах.
func (s *Service) OnMilestone(fn MilestoneNotifier) {
	s.notify = fn
}

// Add — приращение счётчика (вызывается обработчиками событий чата).
func (s *Service) Add(userID int64, field Field, amount int64) {
	s.acc.Add(userID, field, amount)
}

// CountMessage засчитывает сообщение в чате сообщества.
func (s *Service) CountMessage(userID int64) {
	s.acc.Add(userID, FieldMessages, 1)
}

// CountReactions засчитывает добавленные реакции.
func (s *Service) CountReactions(userID int64, n int64) {
	s.acc.Add(userID, FieldReactions, n)
}

func (s *Service) VoiceJoin(userID int64)  { s.presence.Join(userID) }
func (s *Service) VoiceLeave(userID int64) { s.presence.Leave(userID) }
func (s *Service) VoiceReset()             { s.presence.Clear() }

// Pending — сколько участников ждут сброса.
func (s *Service) Pending() int {
	return s.acc.Pending()
}

// Flush записывает накопленное одним пакетом и проверяет вехи.
// При ошибке записи накопитель не меняется: значения уйдут следующим сбросом.
func (s *Service) Flush(ctx context.Context) (FlushReport, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	// счётчики уже записаны прошлым сбросом, повторяем только выдачу;
	// milestone_grants не даст выдать веху дважды
	report := FlushReport{Milestones: s.retryGrants(ctx)}

	batch := s.acc.Snapshot()
	if len(batch) == 0 {
		return report, nil
	}

	totals, err := s.repo.ApplyDeltas(ctx, batch)
	if err != nil {
		return report, err
	}
	s.acc.Commit(batch)

	report.Users = len(batch)
	for i, t := range totals {
		d := batch[i]
		for _, field := range Fields {
			delta := d.Get(field)
			if delta == 0 {
				continue
			}
			after := t.Get(field)
			for _, m := range s.matcher.Hits(field, after-delta, after) {
				if s.grant(ctx, t.UserID, m) {
					report.Milestones++
				}
			}
		}
	}

	log.WithFields(log.Fields{
		"users":      report.Users,
		"milestones": report.Milestones,
	}).Debug("Статистика сброшена")
	return report, nil
}

func (s *Service) grant(ctx context.Context, userID int64, m Milestone) bool {
	logger := log.WithFields(log.Fields{
		"user_id":   userID,
		"field":     m.Field,
		"threshold": m.Threshold,
	})
	granted, err := s.repo.GrantMilestone(ctx, userID, m)
	if err != nil {
		logger.WithError(err).Error("Не удалось выдать бонус за веху, повторим при следующем сбросе")
		s.retry = append(s.retry, pendingGrant{userID: userID, milestone: m})
		return false
	}
	if !granted {
		return false
	}
	logger.WithField("bonus", m.Bonus).Info("Веха достигнута")
	if s.notify != nil {
		s.notify(userID, m)
	}
	return true
}

// retryGrants повторяет выдачу вех, упавшую в прошлых сбросах.
// Снова упавшие остаются в очереди.
func (s *Service) retryGrants(ctx context.Context) int {
	if len(s.retry) == 0 {
		return 0
	}
	pending := s.retry
	s.retry = nil

	granted := 0
	for _, p := range pending {
		if s.grant(ctx, p.userID, p.milestone) {
			granted++
		}
	}
	return granted
}

// PendingGrants — сколько вех ждут повторной выдачи.
func (s *Service) PendingGrants() int {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return len(s.retry)
}

// VoiceTick добавляет минуту каждому участнику голосового чата.
// Возвращает число участников.
func (s *Service) VoiceTick() int {
	connected := s.presence.Connected()
	for _, userID := range connected {
		s.acc.Add(userID, FieldVoiceMinutes, 1)
	}
	return len(connected)
}

// Presence возвращает трекер голосового чата.
func (s *Service) Presence() *Presence {
	return s.presence
}
