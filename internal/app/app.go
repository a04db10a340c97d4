// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: открывает хранилище, создаёт Telegram API,
// сервис наказаний, фильтры, бота и сканер освобождений.
package app

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"wenbot/internal/bot"
	"wenbot/internal/bot/filters"
	"wenbot/internal/config"
	"wenbot/internal/db/postgres"
	"wenbot/internal/db/sqlite"
	"wenbot/internal/features/offense"
	"wenbot/internal/jobs"
)

// Сколько помним, кто админ в чате.
const adminCacheTTL = 5 * time.Minute

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	Store     offense.Store
	BotAPI    *tgbotapi.BotAPI
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. Хранилище ===
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// === 2. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	// === 3. Сервис и обработчик наказаний ===
	service := offense.NewService(store, cfg.Policy(), cfg.IsGlobalScope())
	enforcer := bot.NewEnforcer(botAPI, cfg.PunishmentRole, cfg.AllowedChatIDs)
	handler := offense.NewHandler(service, enforcer)

	// === 4. Фильтры ===
	chatFilter := filters.NewChatFilter(cfg.AllowedChatIDs)
	admins := filters.NewAdminChecker(botAPI, cfg.AdminIDs, cfg.AdminRoles, adminCacheTTL)

	// === 5. Собираем бота ===
	b := bot.New(botAPI, cfg, handler, chatFilter, admins)

	// === 6. Сканер освобождений ===
	scheduler := jobs.NewScheduler(service, handler, cfg.ReleaseScanInterval)

	log.WithFields(log.Fields{
		"first_penalty":  cfg.FirstOffensePenalty.String(),
		"first_limit":    cfg.FirstOffenseLimit,
		"second_penalty": cfg.SecondOffensePenalty.String(),
		"second_limit":   cfg.SecondOffenseLimit,
		"scope":          cfg.OffenseScope,
	}).Info("Политика эскалации")

	return &App{
		Bot:       b,
		Scheduler: scheduler,
		Store:     store,
		BotAPI:    botAPI,
	}, nil
}

// OpenStore выбирает хранилище: PostgreSQL, если задан DATABASE_URL,
// иначе локальный SQLite-файл DATABASE_FILENAME.
func OpenStore(ctx context.Context, cfg *config.Config) (offense.Store, error) {
	if cfg.UsePostgres() {
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		return offense.NewPostgresRepository(pool), nil
	}

	db, err := sqlite.Open(ctx, cfg.DatabaseFilename)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы %s: %w", cfg.DatabaseFilename, err)
	}
	return offense.NewSQLiteRepository(db), nil
}
