package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// State — состояние задачи.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Result — итог последнего запуска.
type Result string

const (
	ResultNone    Result = ""
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

// skipError — задача сознательно пропустила цикл (квота, лимит X API).
type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

func skip(reason string) error { return &skipError{reason: reason} }

// Status — снимок состояния задачи для /status/jobs.
type Status struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	State      State     `json:"state"`
	RunID      string    `json:"run_id,omitempty"`
	LastResult Result    `json:"last_result,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	LastStart  time.Time `json:"last_start"`
	LastEnd    time.Time `json:"last_end"`
	Runs       int       `json:"runs"`
	Failures   int       `json:"failures"`
}

// job — задача с машиной состояний idle → running → idle(success|failed|skipped).
type job struct {
	name     string
	schedule string
	timeout  time.Duration
	fn       func(ctx context.Context) error

	mu     sync.Mutex
	status Status
	now    func() time.Time
}

func newJob(name, schedule string, timeout time.Duration, fn func(ctx context.Context) error) *job {
	return &job{
		name:     name,
		schedule: schedule,
		timeout:  timeout,
		fn:       fn,
		status:   Status{Name: name, Schedule: schedule, State: StateIdle},
		now:      time.Now,
	}
}

// run выполняет задачу один раз. Повторный вход во время работы
// отсекается cron.SkipIfStillRunning, но run защищён и сам.
// Паника в задаче записывается как ошибка, задача возвращается в idle.
func (j *job) run(parent context.Context) {
	runID := uuid.NewString()

	j.mu.Lock()
	if j.status.State == StateRunning {
		j.mu.Unlock()
		return
	}
	j.status.State = StateRunning
	j.status.RunID = runID
	j.status.LastStart = j.now()
	j.mu.Unlock()

	logger := log.WithFields(log.Fields{"job": j.name, "run_id": runID})
	logger.Debug("[CRON] Задача запущена")

	ctx, cancel := context.WithTimeout(parent, j.timeout)
	defer cancel()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.WithField("stack", string(debug.Stack())).Error("[CRON] Паника в задаче")
		}
		j.finish(logger, err)
	}()

	err = j.fn(ctx)
}

// finish переводит задачу в idle и записывает итог запуска.
func (j *job) finish(logger *log.Entry, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.State = StateIdle
	j.status.LastEnd = j.now()
	j.status.Runs++
	elapsed := j.status.LastEnd.Sub(j.status.LastStart)

	var skipped *skipError
	switch {
	case err == nil:
		j.status.LastResult = ResultSuccess
		j.status.LastError = ""
		logger.WithField("elapsed", elapsed.String()).Debug("[CRON] Задача завершена")
	case errors.As(err, &skipped):
		j.status.LastResult = ResultSkipped
		j.status.LastError = skipped.reason
		logger.WithField("reason", skipped.reason).Info("[CRON] Цикл пропущен")
	default:
		j.status.LastResult = ResultFailed
		j.status.LastError = err.Error()
		j.status.Failures++
		logger.WithError(err).Error("[CRON] Ошибка задачи")
	}
}

func (j *job) snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}
