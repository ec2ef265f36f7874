// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/redaxedvg/ebisu/internal/common"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS" default:""`
	AdminIDs         []int64 `envconfig:"-"` // заполним вручную
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	// ID чата сообщества: только здесь считаются сообщения и реакции
	CommunityChatID int64 `envconfig:"COMMUNITY_CHAT_ID" required:"true"`
	// Куда писать итоги опроса X (0 — не писать)
	AnnounceChatID int64 `envconfig:"ANNOUNCE_CHAT_ID" default:"0"`

	// --- X (Twitter) API ---
	// Все шесть значений обязательны: без них клиент не стартует.
	TwitterAPIKey       string        `envconfig:"TWITTER_API_KEY"`
	TwitterAPISecret    string        `envconfig:"TWITTER_API_SECRET"`
	TwitterAccessToken  string        `envconfig:"TWITTER_ACCESS_TOKEN"`
	TwitterAccessSecret string        `envconfig:"TWITTER_ACCESS_SECRET"`
	TwitterBearerToken  string        `envconfig:"TWITTER_BEARER_TOKEN"`
	TwitterAccountID    string        `envconfig:"TWITTER_ACCOUNT_ID"`
	TwitterBaseURL      string        `envconfig:"TWITTER_BASE_URL" default:"https://api.twitter.com/2"`
	TwitterTimeout      time.Duration `envconfig:"TWITTER_TIMEOUT" default:"15s"`
	TwitterMaxPages     int           `envconfig:"TWITTER_MAX_PAGES" default:"5"`

	// --- Database ---
	// DATABASE_URL имеет приоритет над DB_* частями.
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBHost      string `envconfig:"DB_HOST" default:"postgres"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER" default:"botuser"`
	DBPassword  string `envconfig:"DB_PASSWORD" default:""`
	DBName      string `envconfig:"DB_NAME" default:"ebisu"`
	DBSSLMode   string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Cache ---
	// Пустой REDIS_URL — кэш в памяти процесса.
	RedisURL       string `envconfig:"REDIS_URL" default:""`
	CacheMaxKeys   int    `envconfig:"CACHE_MAX_KEYS" default:"5000"`
	CacheKeyPrefix string `envconfig:"CACHE_KEY_PREFIX" default:"ebisu:"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"info"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"UTC"`
	// Пустой STATUS_ADDR отключает HTTP-статус
	StatusAddr string `envconfig:"STATUS_ADDR" default:":8080"`

	// --- Bot runtime ---
	BotMaxInflight          int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Rewards ---
	RewardLikeCoins    int64         `envconfig:"REWARD_LIKE_COINS" default:"1"`
	RewardRetweetCoins int64         `envconfig:"REWARD_RETWEET_COINS" default:"2"`
	NearTermWindow     time.Duration `envconfig:"NEAR_TERM_WINDOW" default:"24h"`
	FinalCheckAge      time.Duration `envconfig:"FINAL_CHECK_AGE" default:"48h"`
	FinalMaxAttempts   int           `envconfig:"FINAL_MAX_ATTEMPTS" default:"3"`
	// Доля квоты, после которой плановый опрос пропускается
	PollSafetyRatio float64 `envconfig:"POLL_SAFETY_RATIO" default:"0.5"`

	// --- Stats ---
	// exact — веха только при точном совпадении, crossed — при пересечении порога
	StatsMilestoneMatch string `envconfig:"STATS_MILESTONE_MATCH" default:"crossed"`

	// --- Schedules (cron с секундами) ---
	ScheduleNearTermPoll string `envconfig:"SCHEDULE_NEAR_TERM_POLL" default:"0 */5 * * * *"`
	ScheduleFinalSweep   string `envconfig:"SCHEDULE_FINAL_SWEEP" default:"0 */30 * * * *"`
	ScheduleBackfill     string `envconfig:"SCHEDULE_BACKFILL" default:"0 7 * * * *"`
	ScheduleStatsFlush   string `envconfig:"SCHEDULE_STATS_FLUSH" default:"*/10 * * * * *"`
	ScheduleVoiceTick    string `envconfig:"SCHEDULE_VOICE_TICK" default:"0 * * * * *"`
	ScheduleRateReset    string `envconfig:"SCHEDULE_RATE_RESET" default:"0 */15 * * * *"`

	// --- Rate Limiting (команды пользователей) ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsAdmin сообщает, входит ли пользователь в ADMIN_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ValidateTwitter проверяет, что заданы все учётные данные X API.
// Отсутствие любого из них — фатальная ошибка старта.
func (c *Config) ValidateTwitter() error {
	required := []struct {
		name  string
		value string
	}{
		{"TWITTER_API_KEY", c.TwitterAPIKey},
		{"TWITTER_API_SECRET", c.TwitterAPISecret},
		{"TWITTER_ACCESS_TOKEN", c.TwitterAccessToken},
		{"TWITTER_ACCESS_SECRET", c.TwitterAccessSecret},
		{"TWITTER_BEARER_TOKEN", c.TwitterBearerToken},
		{"TWITTER_ACCOUNT_ID", c.TwitterAccountID},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return &common.ConfigurationError{Missing: missing}
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.ValidateTwitter(); err != nil {
		return err
	}
	if c.DatabaseURL == "" && c.DBPassword == "" {
		return &common.ConfigurationError{Missing: []string{"DATABASE_URL или DB_PASSWORD"}}
	}
	if c.CommunityChatID == 0 {
		return fmt.Errorf("COMMUNITY_CHAT_ID не задан или равен 0")
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.PollSafetyRatio <= 0 || c.PollSafetyRatio > 1 {
		return fmt.Errorf("POLL_SAFETY_RATIO должен быть в (0, 1]")
	}
	if c.StatsMilestoneMatch != "exact" && c.StatsMilestoneMatch != "crossed" {
		return fmt.Errorf("STATS_MILESTONE_MATCH: ожидается exact или crossed, получено %q", c.StatsMilestoneMatch)
	}
	if c.RewardLikeCoins <= 0 || c.RewardRetweetCoins <= 0 {
		return fmt.Errorf("награды за лайк и ретвит должны быть > 0")
	}
	if c.FinalMaxAttempts <= 0 {
		return fmt.Errorf("FINAL_MAX_ATTEMPTS должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDatabase читает только то, что нужно для миграций.
// cmd/migrate не должен требовать токены Telegram и X.
func LoadDatabase() (*Config, error) {
	var cfg struct {
		DatabaseURL string `envconfig:"DATABASE_URL" default:""`
		DBHost      string `envconfig:"DB_HOST" default:"postgres"`
		DBPort      int    `envconfig:"DB_PORT" default:"5432"`
		DBUser      string `envconfig:"DB_USER" default:"botuser"`
		DBPassword  string `envconfig:"DB_PASSWORD" default:""`
		DBName      string `envconfig:"DB_NAME" default:"ebisu"`
		DBSSLMode   string `envconfig:"DB_SSLMODE" default:"disable"`
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию БД: %w", err)
	}
	if cfg.DatabaseURL == "" && cfg.DBPassword == "" {
		return nil, &common.ConfigurationError{Missing: []string{"DATABASE_URL или DB_PASSWORD"}}
	}
	return &Config{
		DatabaseURL: cfg.DatabaseURL,
		DBHost:      cfg.DBHost,
		DBPort:      cfg.DBPort,
		DBUser:      cfg.DBUser,
		DBPassword:  cfg.DBPassword,
		DBName:      cfg.DBName,
		DBSSLMode:   cfg.DBSSLMode,
		DBMaxConns:  2,
		DBMinConns:  0,
	}, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
