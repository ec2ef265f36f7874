// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: опрос X, финальная проверка,
// досчёт наград, сброс статистики, минуты голосового чата и сброс квот.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/redaxedvg/ebisu/internal/features/rewards"
	"github.com/redaxedvg/ebisu/internal/features/stats"
	"github.com/redaxedvg/ebisu/internal/twitter"
)

// Имена задач
const (
	JobNearTermPoll = "near_term_poll"
	JobFinalSweep   = "final_sweep"
	JobBackfill     = "backfill"
	JobStatsFlush   = "stats_flush"
	JobVoiceTick    = "voice_tick"
	JobRateReset    = "rate_reset"
)

// Poller — опрос X и начисление наград.
type Poller interface {
	DiscoverPosts(ctx context.Context) (int, error)
	PollRecent(ctx context.Context, stop <-chan struct{}) (rewards.PollReport, error)
	FinalSweep(ctx context.Context, stop <-chan struct{}) (rewards.PollReport, error)
	Backfill(ctx context.Context) (int, error)
}

// Flusher — сброс накопленной статистики.
type Flusher interface {
	Flush(ctx context.Context) (stats.FlushReport, error)
	VoiceTick() int
}

// Quota — квоты X API.
type Quota interface {
	Status(endpoint string) twitter.Status
	Reset()
}

// Schedules — cron-выражения с секундами.
type Schedules struct {
	NearTermPoll string
	FinalSweep   string
	Backfill     string
	StatsFlush   string
	VoiceTick    string
	RateReset    string
}

// Options — настройки планировщика.
type Options struct {
	Schedules Schedules
	Location  *time.Location
	// Доля квоты, после которой плановый опрос пропускается
	SafetyRatio float64
	// Announce получает итог опроса с новыми наградами (может быть nil)
	Announce func(text string)
}

// Эндпоинты, которые тратит один цикл опроса
var pollEndpoints = []string{
	twitter.EndpointUserTweets,
	twitter.EndpointLikingUsers,
	twitter.EndpointRetweetedBy,
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron    *cron.Cron
	poller  Poller
	flusher Flusher
	quota   Quota
	opts    Options

	jobs  []*job
	byKey map[string]*job

	stop     chan struct{}
	stopOnce sync.Once
}

// NewScheduler создаёт планировщик. Неверное cron-выражение — ошибка старта.
func NewScheduler(poller Poller, flusher Flusher, quota Quota, opts Options) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.SafetyRatio <= 0 || opts.SafetyRatio > 1 {
		opts.SafetyRatio = 0.5
	}

	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(opts.Location),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	s := &Scheduler{
		cron:    c,
		poller:  poller,
		flusher: flusher,
		quota:   quota,
		opts:    opts,
		byKey:   make(map[string]*job),
		stop:    make(chan struct{}),
	}

	sch := opts.Schedules
	s.add(newJob(JobNearTermPoll, sch.NearTermPoll, 10*time.Minute, s.pollNearTerm))
	s.add(newJob(JobFinalSweep, sch.FinalSweep, 20*time.Minute, s.finalSweep))
	s.add(newJob(JobBackfill, sch.Backfill, 10*time.Minute, s.backfill))
	s.add(newJob(JobStatsFlush, sch.StatsFlush, 30*time.Second, s.flush))
	s.add(newJob(JobVoiceTick, sch.VoiceTick, 5*time.Second, s.voiceTick))
	s.add(newJob(JobRateReset, sch.RateReset, 5*time.Second, s.resetQuota))

	for _, j := range s.jobs {
		if _, err := c.AddFunc(j.schedule, func() { j.run(context.Background()) }); err != nil {
			return nil, fmt.Errorf("расписание задачи %s (%q): %w", j.name, j.schedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) add(j *job) {
	s.jobs = append(s.jobs, j)
	s.byKey[j.name] = j
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.WithField("tz", s.opts.Location.String()).Info("Планировщик задач запущен")
}

// Stop останавливает планировщик: задачи опроса дорабатывают текущий пост,
// cron дожидается их завершения, затем выполняется последний сброс статистики.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stop) })

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn("Планировщик не дождался завершения задач")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if report, err := s.flusher.Flush(flushCtx); err != nil {
		log.WithError(err).Error("Финальный сброс статистики не удался")
	} else if report.Users > 0 {
		log.WithField("users", report.Users).Info("Финальный сброс статистики выполнен")
	}
	log.Info("Планировщик задач остановлен")
}

// Run выполняет задачу вне расписания.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	j, ok := s.byKey[name]
	if !ok {
		return fmt.Errorf("неизвестная задача %q", name)
	}
	j.run(ctx)
	return nil
}

// Statuses возвращает состояние всех задач.
func (s *Scheduler) Statuses() []Status {
	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// throttled сообщает, израсходована ли доля квоты, после которой
// плановый опрос пропускается. Ручные проверки этот порог не учитывают.
func (s *Scheduler) throttled() (string, bool) {
	for _, ep := range pollEndpoints {
		st := s.quota.Status(ep)
		if st.Usage() >= s.opts.SafetyRatio {
			return fmt.Sprintf("квота %s израсходована на %d/%d, сброс через %s",
				st.Bucket, st.Count, st.Limit, st.ResetIn.Round(time.Second)), true
		}
	}
	return "", false
}

func (s *Scheduler) pollNearTerm(ctx context.Context) error {
	if reason, ok := s.throttled(); ok {
		return skip(reason)
	}

	found, err := s.poller.DiscoverPosts(ctx)
	if serr := asSkip(err); serr != nil {
		return serr
	}
	if err != nil {
		// без новых постов опрос уже известных всё равно полезен
		log.WithError(err).Warn("Поиск новых постов не удался")
	}

	report, err := s.poller.PollRecent(ctx, s.stop)
	s.announce(report)
	if serr := asSkip(err); serr != nil {
		return serr
	}
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"new_posts": found,
		"posts":     report.Posts,
		"skipped":   report.Skipped,
		"granted":   report.Granted,
	}).Info("Опрос свежих постов завершён")
	return nil
}

func (s *Scheduler) finalSweep(ctx context.Context) error {
	if reason, ok := s.throttled(); ok {
		return skip(reason)
	}

	report, err := s.poller.FinalSweep(ctx, s.stop)
	s.announce(report)
	if serr := asSkip(err); serr != nil {
		return serr
	}
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"posts":   report.Posts,
		"skipped": report.Skipped,
		"granted": report.Granted,
		"closed":  report.Final,
	}).Info("Финальная проверка завершена")
	return nil
}

func (s *Scheduler) backfill(ctx context.Context) error {
	_, err := s.poller.Backfill(ctx)
	return err
}

func (s *Scheduler) flush(ctx context.Context) error {
	_, err := s.flusher.Flush(ctx)
	return err
}

func (s *Scheduler) voiceTick(context.Context) error {
	if n := s.flusher.VoiceTick(); n > 0 {
		log.WithField("users", n).Debug("Минута голосового чата засчитана")
	}
	return nil
}

func (s *Scheduler) resetQuota(context.Context) error {
	s.quota.Reset()
	log.Debug("Окна квот X API сброшены")
	return nil
}

func (s *Scheduler) announce(report rewards.PollReport) {
	if s.opts.Announce == nil || report.Granted == 0 {
		return
	}
	s.opts.Announce(fmt.Sprintf("🐦 Новые награды за активность в X: %d", report.Granted))
}

// asSkip превращает исчерпанный лимит X API в пропуск цикла.
func asSkip(err error) error {
	var limited *twitter.RateLimitExceededError
	if errors.As(err, &limited) {
		return skip(limited.Error())
	}
	return nil
}
