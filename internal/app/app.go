// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, кэш, клиент X API, репозитории,
// сервисы, обработчики и планировщик и собирает всё в один объект App.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"github.com/redaxedvg/ebisu/internal/bot"
	"github.com/redaxedvg/ebisu/internal/bot/filters"
	"github.com/redaxedvg/ebisu/internal/cache"
	"github.com/redaxedvg/ebisu/internal/config"
	"github.com/redaxedvg/ebisu/internal/db/postgres"
	"github.com/redaxedvg/ebisu/internal/features/admin"
	"github.com/redaxedvg/ebisu/internal/features/economy"
	"github.com/redaxedvg/ebisu/internal/features/rewards"
	"github.com/redaxedvg/ebisu/internal/features/stats"
	"github.com/redaxedvg/ebisu/internal/features/users"
	"github.com/redaxedvg/ebisu/internal/jobs"
	"github.com/redaxedvg/ebisu/internal/status"
	"github.com/redaxedvg/ebisu/internal/twitter"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	Status    *status.Server // nil, если STATUS_ADDR пуст
	DB        *pgxpool.Pool
	Twitter   *twitter.Client

	cache cache.Store
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc, err := time.LoadLocation(cfg.AppTimezone)
	if err != nil {
		log.WithError(err).WithField("tz", cfg.AppTimezone).Warn("Неизвестный часовой пояс, используем UTC")
		loc = time.UTC
	}

	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	a := &App{DB: pool}

	applied, err := postgres.RunMigrations(ctx, pool)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}
	log.WithField("applied", applied).Info("Миграции проверены")

	// === 2. Кэш ответов X API ===
	if cfg.RedisURL != "" {
		r, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheKeyPrefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cache = r
		log.Info("Кэш X API: Redis")
	} else {
		a.cache = cache.NewMemory(cfg.CacheMaxKeys)
		log.WithField("max_keys", cfg.CacheMaxKeys).Info("Кэш X API: память процесса")
	}

	// === 3. X API ===
	tracker := twitter.NewTracker(twitter.DefaultLimits(), twitter.DefaultFallbackLimit)
	client, err := twitter.NewClient(twitter.Credentials{
		APIKey:       cfg.TwitterAPIKey,
		APISecret:    cfg.TwitterAPISecret,
		AccessToken:  cfg.TwitterAccessToken,
		AccessSecret: cfg.TwitterAccessSecret,
		BearerToken:  cfg.TwitterBearerToken,
	}, tracker, a.cache, twitter.Options{
		BaseURL:  cfg.TwitterBaseURL,
		Timeout:  cfg.TwitterTimeout,
		MaxPages: cfg.TwitterMaxPages,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Twitter = client

	// === 4. Telegram Bot API ===
	api, err := telego.NewBot(cfg.TelegramBotToken, telego.WithLogger(log.StandardLogger()))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	me, err := api.GetMe(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка авторизации в Telegram: %w", err)
	}
	log.Infof("Авторизован как @%s", me.Username)

	// === 5. Репозитории ===
	usersRepo := users.NewRepository(pool)
	economyRepo := economy.NewRepository(pool)
	rewardsRepo := rewards.NewRepository(pool)
	statsRepo := stats.NewRepository(pool)

	// === 6. Сервисы ===
	usersService := users.NewService(usersRepo, client)
	economyService := economy.NewService(economyRepo, usersService, loc)
	rewardsService := rewards.NewService(rewardsRepo, usersRepo, client, rewards.Options{
		AccountID:        cfg.TwitterAccountID,
		LikeCoins:        cfg.RewardLikeCoins,
		RetweetCoins:     cfg.RewardRetweetCoins,
		NearTermWindow:   cfg.NearTermWindow,
		FinalCheckAge:    cfg.FinalCheckAge,
		FinalMaxAttempts: cfg.FinalMaxAttempts,
	})
	matcher, err := stats.NewMatcher(stats.MatchMode(cfg.StatsMilestoneMatch), nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	statsService := stats.NewService(stats.NewAccumulator(), stats.NewPresence(), statsRepo, matcher)

	// === 7. Бот ===
	registry := bot.NewRegistry()
	chatFilter := filters.NewChatFilter(cfg.CommunityChatID, usersService, chatMembership(api))
	b := bot.New(api, api, cfg, registry, statsService, usersService, chatFilter)
	a.Bot = b

	statsService.OnMilestone(func(userID int64, m stats.Milestone) {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		name := fmt.Sprintf("id%d", userID)
		if u, err := usersService.GetByUserID(notifyCtx, userID); err == nil {
			name = u.DisplayName()
		}
		b.SendMessage(notifyCtx, cfg.CommunityChatID, m.Announcement(name))
	})

	// === 8. Планировщик задач ===
	var announce func(string)
	if cfg.AnnounceChatID != 0 {
		announce = func(text string) {
			sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			b.SendMessage(sendCtx, cfg.AnnounceChatID, text)
		}
	}
	scheduler, err := jobs.NewScheduler(rewardsService, statsService, tracker, jobs.Options{
		Schedules: jobs.Schedules{
			NearTermPoll: cfg.ScheduleNearTermPoll,
			FinalSweep:   cfg.ScheduleFinalSweep,
			Backfill:     cfg.ScheduleBackfill,
			StatsFlush:   cfg.ScheduleStatsFlush,
			VoiceTick:    cfg.ScheduleVoiceTick,
			RateReset:    cfg.ScheduleRateReset,
		},
		Location:    loc,
		SafetyRatio: cfg.PollSafetyRatio,
		Announce:    announce,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Scheduler = scheduler

	// === 9. Команды ===
	adminService := admin.NewService(tracker, client, scheduler, loc)
	for _, cmds := range [][]bot.Command{
		users.NewHandler(usersService).Commands(),
		economy.NewHandler(economyService, usersService).Commands(),
		rewards.NewHandler(rewardsService).Commands(),
		admin.NewHandler(adminService).Commands(),
	} {
		if err := registry.Register(cmds...); err != nil {
			a.Close()
			return nil, err
		}
	}

	// === 10. HTTP-статус ===
	if cfg.StatusAddr != "" {
		a.Status = status.NewServer(cfg.StatusAddr, status.Sources{
			RateLimits:      tracker.Statuses,
			CachedResponses: client.CachedResponses,
			Jobs:            scheduler.Statuses,
			PendingStats:    statsService.Pending,
		})
	}

	return a, nil
}

// CheckTwitter проверяет учётные данные X API запросом users/me.
// Ошибка только логируется: опрос может заработать позже.
func (a *App) CheckTwitter(ctx context.Context) {
	me, err := a.Twitter.Me(ctx)
	if err != nil {
		log.WithError(err).Warn("Проверка X API не удалась")
		return
	}
	log.WithFields(log.Fields{"account_id": me.ID, "handle": me.Username}).Info("X API доступен")
}

// Run запускает планировщик, HTTP-статус и бота. Блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.Scheduler.Start()
	if a.Status != nil {
		a.Status.Start()
	}
	go a.CheckTwitter(ctx)

	return a.Bot.Start(ctx)
}

// Shutdown останавливает фоновые компоненты: планировщик (с финальным
// сбросом статистики), HTTP-статус, затем закрывает соединения.
func (a *App) Shutdown(ctx context.Context) {
	if a.Scheduler != nil {
		a.Scheduler.Stop(ctx)
	}
	if a.Status != nil {
		if err := a.Status.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Ошибка остановки HTTP-статуса")
		}
	}
	if a.Bot != nil {
		a.Bot.Close()
	}
	a.Close()
}

// Close закрывает кэш и пул БД.
func (a *App) Close() {
	if r, ok := a.cache.(*cache.Redis); ok {
		if err := r.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// chatMembership проверяет статус пользователя в чате через Telegram API.
func chatMembership(api *telego.Bot) filters.MembershipFunc {
	return func(ctx context.Context, chatID, userID int64) (string, error) {
		member, err := api.GetChatMember(ctx, &telego.GetChatMemberParams{
			ChatID: tu.ID(chatID),
			UserID: userID,
		})
		if err != nil {
			return "", err
		}
		return member.MemberStatus(), nil
	}
}
