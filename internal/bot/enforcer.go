// Package bot — enforcer.go выполняет наказания через Telegram Bot API.
// В Telegram нет ролей, поэтому "роль наказания" — это restrictChatMember.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"wenbot/internal/features/offense"
)

// telegramAPI — часть *tgbotapi.BotAPI, которой пользуется бот.
type telegramAPI interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Enforcer реализует offense.Enforcer для Telegram.
type Enforcer struct {
	api            telegramAPI
	punishmentRole string
	// Чаты для снятия ограничений с записей offense.GlobalSpace
	allowedChats []int64
	clock        func() time.Time
}

// NewEnforcer создаёт исполнителя наказаний.
func NewEnforcer(api telegramAPI, punishmentRole string, allowedChats []int64) *Enforcer {
	return &Enforcer{
		api:            api,
		punishmentRole: punishmentRole,
		allowedChats:   allowedChats,
		clock:          time.Now,
	}
}

// Restrict запрещает писать в чат. Для временных уровней передаётся until_date,
// для постоянного — 0 (навсегда).
func (e *Enforcer) Restrict(ctx context.Context, spaceID, userID int64, p offense.Penalty) error {
	var until int64
	if !p.Permanent {
		until = e.clock().Add(p.Duration).Unix()
	}

	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: spaceID, UserID: userID},
		UntilDate:        until,
		Permissions:      &tgbotapi.ChatPermissions{},
	}
	if _, err := e.api.Request(cfg); err != nil {
		return fmt.Errorf("restrictChatMember (chat=%d, user=%d): %w", spaceID, userID, err)
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"space_id": spaceID,
		"role":     e.punishmentRole,
	}).Debug("Action: role added")
	return nil
}

// Lift возвращает права. Для offense.GlobalSpace — во всех разрешённых чатах.
func (e *Enforcer) Lift(ctx context.Context, spaceID, userID int64) error {
	if spaceID != offense.GlobalSpace {
		return e.liftIn(spaceID, userID)
	}

	var errs []error
	for _, chatID := range e.allowedChats {
		if err := e.liftIn(chatID, userID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Enforcer) liftIn(chatID, userID int64) error {
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		Permissions: &tgbotapi.ChatPermissions{
			CanSendMessages:       true,
			CanSendMediaMessages:  true,
			CanSendPolls:          true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
			CanInviteUsers:        true,
		},
	}
	if _, err := e.api.Request(cfg); err != nil {
		return fmt.Errorf("restrictChatMember lift (chat=%d, user=%d): %w", chatID, userID, err)
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"space_id": chatID,
		"role":     e.punishmentRole,
	}).Debug("Action: role removed")
	return nil
}

// Notify пишет текст в чат.
func (e *Enforcer) Notify(ctx context.Context, spaceID int64, text string) error {
	if _, err := e.api.Send(tgbotapi.NewMessage(spaceID, text)); err != nil {
		return fmt.Errorf("sendMessage (chat=%d): %w", spaceID, err)
	}
	return nil
}
