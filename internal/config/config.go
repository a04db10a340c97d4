// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"wenbot/internal/common"
	"wenbot/internal/features/offense"
)

// Области учёта нарушений.
const (
	ScopeSpace  = "space"  // счётчики отдельно в каждом чате
	ScopeGlobal = "global" // один счётчик на пользователя во всех чатах
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	// Дополнительные админы (помимо администраторов чата)
	AdminIDsRaw string  `envconfig:"ADMIN_IDS"`
	AdminIDs    []int64 `envconfig:"-"` // заполним вручную
	// Чаты, в которых бот модерирует. Пусто — любые группы.
	AllowedChatIDsRaw string  `envconfig:"ALLOWED_CHAT_IDS"`
	AllowedChatIDs    []int64 `envconfig:"-"`

	// --- Роли ---
	// Кастомные титулы админов, которых бот не трогает и слушается
	AdminRolesRaw string   `envconfig:"ADMIN_ROLES" default:"Wubba Lubba Dub Dub"`
	AdminRoles    []string `envconfig:"-"`
	// Название наказания (в Telegram нет ролей — используется в логах)
	PunishmentRole string `envconfig:"PUNISHMENT_ROLE" default:"Where are my testicles?"`

	// --- Эскалация ---
	FirstOffensePenalty  time.Duration `envconfig:"FIRST_OFFENSE_PENALTY" default:"300s"`
	FirstOffenseLimit    int           `envconfig:"FIRST_OFFENSE_LIMIT" default:"1"`
	SecondOffensePenalty time.Duration `envconfig:"SECOND_OFFENSE_PENALTY" default:"3600s"`
	SecondOffenseLimit   int           `envconfig:"SECOND_OFFENSE_LIMIT" default:"4"`
	OffenseScope         string        `envconfig:"OFFENSE_SCOPE" default:"space"`
	ReleaseScanInterval  time.Duration `envconfig:"RELEASE_SCAN_INTERVAL" default:"10s"`

	// --- Database ---
	// Локальный SQLite-файл используется, если DATABASE_URL не задан.
	DatabaseFilename string `envconfig:"DATABASE_FILENAME" default:"timeout.db"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	DBMaxConns       int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns       int32  `envconfig:"DB_MIN_CONNS" default:"1"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	// Файл логов с ротацией. Пусто — только stdout.
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"10"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"7"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`
	// Адрес для /metrics. Пусто — метрики не отдаются.
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Rate Limiting (только команды) ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// Policy собирает политику эскалации из порогов конфига.
func (c *Config) Policy() offense.Policy {
	return offense.Policy{
		FirstOffensePenalty:  c.FirstOffensePenalty,
		FirstOffenseLimit:    c.FirstOffenseLimit,
		SecondOffensePenalty: c.SecondOffensePenalty,
		SecondOffenseLimit:   c.SecondOffenseLimit,
	}
}

// UsePostgres — true, если задана строка подключения к удалённой БД.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// IsGlobalScope — счётчики общие для всех чатов.
func (c *Config) IsGlobalScope() bool {
	return c.OffenseScope == ScopeGlobal
}

func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN (или BOT_TOKEN) не задан", common.ErrInvalidConfig)
	}
	if err := c.Policy().Validate(); err != nil {
		return err
	}
	if c.OffenseScope != ScopeSpace && c.OffenseScope != ScopeGlobal {
		return fmt.Errorf("%w: OFFENSE_SCOPE должен быть %q или %q", common.ErrInvalidConfig, ScopeSpace, ScopeGlobal)
	}
	// При общем учёте освобождать приходится во всех чатах, их надо знать заранее
	if c.IsGlobalScope() && len(c.AllowedChatIDs) == 0 {
		return fmt.Errorf("%w: OFFENSE_SCOPE=global требует ALLOWED_CHAT_IDS", common.ErrInvalidConfig)
	}
	if c.ReleaseScanInterval < time.Second {
		return fmt.Errorf("%w: RELEASE_SCAN_INTERVAL должен быть >= 1s", common.ErrInvalidConfig)
	}
	if !c.UsePostgres() && c.DatabaseFilename == "" {
		return fmt.Errorf("%w: DATABASE_FILENAME пуст", common.ErrInvalidConfig)
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("%w: BOT_MAX_INFLIGHT должен быть > 0", common.ErrInvalidConfig)
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0", common.ErrInvalidConfig)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: некорректные DB_MIN_CONNS/DB_MAX_CONNS", common.ErrInvalidConfig)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: некорректные RATE_LIMIT_REQUESTS/RATE_LIMIT_WINDOW", common.ErrInvalidConfig)
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	// BOT_TOKEN — имя переменной из первой версии бота
	if cfg.TelegramBotToken == "" {
		cfg.TelegramBotToken = os.Getenv("BOT_TOKEN")
	}

	ids, err := common.ParseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	chats, err := common.ParseInt64CSV(cfg.AllowedChatIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ALLOWED_CHAT_IDS parse: %w", err)
	}
	cfg.AllowedChatIDs = chats
	cfg.AdminRoles = common.ParseStringCSV(cfg.AdminRolesRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
