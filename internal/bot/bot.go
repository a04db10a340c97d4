// Package bot содержит главный модуль бота — запуск polling, разбор команд
// и передачу сообщений в модуль наказаний.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"wenbot/internal/bot/filters"
	"wenbot/internal/bot/middleware"
	"wenbot/internal/config"
	"wenbot/internal/features/offense"
)

const helpText = "wenBot 🤖 Don't ask wen.\n" +
	"Admin commands (reply to a user, mention them or pass their id):\n" +
	"/grant-amnesty — clear history and unmute\n" +
	"/punish — apply the next penalty manually"

// pollingAPI — часть *tgbotapi.BotAPI, нужная боту целиком: long polling
// и те же вызовы, что у Enforcer.
type pollingAPI interface {
	telegramAPI
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api pollingAPI
	cfg *config.Config

	chatFilter  *filters.ChatFilter
	admins      *filters.AdminChecker
	rateLimiter *middleware.RateLimiter

	offenseHandler *offense.Handler

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
	// обработчики в работе; Start дожидается их перед выходом
	handlers sync.WaitGroup
}

// New создаёт новый экземпляр бота со всеми зависимостями.
func New(
	api pollingAPI,
	cfg *config.Config,
	offenseHandler *offense.Handler,
	chatFilter *filters.ChatFilter,
	admins *filters.AdminChecker,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:            api,
		cfg:            cfg,
		chatFilter:     chatFilter,
		admins:         admins,
		rateLimiter:    middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		offenseHandler: offenseHandler,
		parser:         NewCommandParser(),
		inflight:       make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram. Возвращается после отмены ctx,
// когда все начатые обработчики закончили работу.
func (b *Bot) Start(ctx context.Context) {
	defer b.rateLimiter.Close()
	defer b.handlers.Wait()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds
	u.AllowedUpdates = []string{"message", "edited_message"}

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": b.cfg.BotMaxInflight,
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			b.handlers.Add(1)
			go func(upd tgbotapi.Update) {
				defer b.handlers.Done()
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic(log.Fields{"update_id": update.UpdateID})

	// Отредактированное "wen" — тоже "wen"
	message := update.Message
	if message == nil {
		message = update.EditedMessage
	}
	if message == nil || message.Chat == nil || message.From == nil {
		return
	}

	text := messageText(message)
	if text == "" {
		return
	}

	middleware.LogMessage(message)

	if message.Chat.IsPrivate() {
		if cmd, _, ok := b.parser.ParseCommand(text); ok && (cmd == "start" || cmd == "help") {
			b.sendMessage(message.Chat.ID, helpText)
		}
		return
	}

	if !b.chatFilter.CheckAccess(message) {
		return
	}

	if cmd, args, isCommand := b.parser.ParseCommand(text); isCommand {
		log.WithFields(log.Fields{
			"cmd":  cmd,
			"args": args,
		}).Debug("parsed command")
		if b.routeCommand(ctx, message, cmd, args) {
			return
		}
	}

	b.offenseHandler.HandleMessage(ctx, offense.Message{
		Text:           text,
		AuthorID:       message.From.ID,
		AuthorName:     displayName(message.From),
		SpaceID:        message.Chat.ID,
		AuthorIsExempt: b.admins.IsExempt(message.Chat.ID, message.From),
	})
}

// routeCommand маршрутизирует команду. true — сообщение обработано как админская
// команда; false — текст идёт дальше в детектор. Для не-админов всегда false.
func (b *Bot) routeCommand(ctx context.Context, message *tgbotapi.Message, cmd string, args []string) bool {
	chatID := message.Chat.ID
	userID := message.From.ID

	switch cmd {
	case "start", "help":
		b.sendMessage(chatID, helpText)
		return false

	case "grant-amnesty", "amnesty", "punish":
	default:
		return false
	}

	if !b.admins.IsAdmin(chatID, message.From) {
		return false
	}
	// Лимит только для админских команд
	if !b.rateLimiter.Allow(chatID, userID) {
		log.WithField("user_id", userID).Debug("rate limited")
		return true
	}

	targets := extractTargets(message, args, func(id int64) string { return b.lookupName(chatID, id) })
	if len(targets) == 0 {
		b.sendMessage(chatID, "Reply to a message, mention a user or pass a user id.")
		return true
	}

	log.WithFields(log.Fields{
		"cmd":     cmd,
		"admin":   userID,
		"chat_id": chatID,
		"targets": len(targets),
	}).Info("Админская команда")

	if cmd == "punish" {
		b.offenseHandler.HandleManualPunish(ctx, chatID, targets)
	} else {
		b.offenseHandler.HandleAmnesty(ctx, chatID, targets)
	}
	return true
}

// lookupName достаёт имя по id через GetChatMember; при ошибке — сам id.
func (b *Bot) lookupName(chatID, userID int64) string {
	cm, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil || cm.User == nil {
		return strconv.FormatInt(userID, 10)
	}
	return displayName(cm.User)
}

// sendMessage — утилита для отправки сообщений.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// extractTargets собирает цели админской команды: автор сообщения, на которое
// ответили, text_mention-упоминания и числовые id в аргументах.
// @username без text_mention Bot API в id не превращает, такие упоминания пропускаются.
func extractTargets(message *tgbotapi.Message, args []string, lookup func(int64) string) []offense.Member {
	var out []offense.Member
	seen := make(map[int64]struct{})
	add := func(id int64, name string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, offense.Member{ID: id, Name: name})
	}

	if r := message.ReplyToMessage; r != nil && r.From != nil {
		add(r.From.ID, displayName(r.From))
	}
	for _, e := range message.Entities {
		if e.Type == "text_mention" && e.User != nil {
			add(e.User.ID, displayName(e.User))
		}
	}
	for _, a := range args {
		id, err := strconv.ParseInt(strings.TrimPrefix(a, "#"), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		add(id, lookup(id))
	}
	return out
}

func messageText(m *tgbotapi.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// displayName — "Имя Фамилия", если имени нет — @username, если нет и его — id.
func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return fmt.Sprintf("%d", u.ID)
}

// CommandParser парсит команды с префиксами /, ! и .
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!", "."},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Суффикс @botname у команды отбрасывается.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}

	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}
	if command == "" {
		return "", nil, false
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return command, args, true
}
