// Package status — HTTP-эндпоинты самодиагностики: квоты X API и состояние задач.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/redaxedvg/ebisu/internal/jobs"
	"github.com/redaxedvg/ebisu/internal/twitter"
)

// Sources — откуда берутся данные для эндпоинтов.
type Sources struct {
	RateLimits      func() []twitter.Status
	CachedResponses func(ctx context.Context) (int, error)
	Jobs            func() []jobs.Status
	PendingStats    func() int
}

type rateLimitsResponse struct {
	Buckets         []twitter.Status `json:"buckets"`
	CachedResponses int              `json:"cached_responses"`
}

type jobsResponse struct {
	Jobs         []jobs.Status `json:"jobs"`
	PendingStats int           `json:"pending_stats"`
}

// NewRouter создаёт роутер статуса.
func NewRouter(src Sources) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/status", func(r chi.Router) {
		r.Get("/ratelimits", func(w http.ResponseWriter, req *http.Request) {
			resp := rateLimitsResponse{Buckets: src.RateLimits()}
			if src.CachedResponses != nil {
				n, err := src.CachedResponses(req.Context())
				if err != nil {
					log.WithError(err).Warn("Не удалось посчитать кэш X API")
				}
				resp.CachedResponses = n
			}
			writeJSON(w, resp)
		})
		r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
			resp := jobsResponse{Jobs: src.Jobs()}
			if src.PendingStats != nil {
				resp.PendingStats = src.PendingStats()
			}
			writeJSON(w, resp)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Ошибка записи ответа статуса")
	}
}

// Server — HTTP-сервер статуса.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, src Sources) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(src),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start слушает адрес в фоне. Ошибка запуска только логируется:
// бот работает и без статуса.
func (s *Server) Start() {
	go func() {
		log.WithField("addr", s.srv.Addr).Info("HTTP-статус запущен")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP-статус остановлен с ошибкой")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
