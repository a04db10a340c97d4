// Package filters решает, какие апдейты бот вообще обрабатывает.
package filters

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает только групповые чаты (и только из списка, если он задан).
type ChatFilter struct {
	allowed map[int64]struct{}
}

// NewChatFilter создаёт фильтр. Пустой allowedChatIDs — любые группы.
func NewChatFilter(allowedChatIDs []int64) *ChatFilter {
	allowed := make(map[int64]struct{}, len(allowedChatIDs))
	for _, id := range allowedChatIDs {
		allowed[id] = struct{}{}
	}
	return &ChatFilter{allowed: allowed}
}

func (f *ChatFilter) CheckAccess(message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("nil message.From (service/channel message?)")
		return false
	}

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
		"user_id":   message.From.ID,
	})

	if !message.Chat.IsGroup() && !message.Chat.IsSuperGroup() {
		logger.Debug("deny: not a group")
		return false
	}

	if len(f.allowed) == 0 {
		return true
	}
	if _, ok := f.allowed[message.Chat.ID]; ok {
		return true
	}

	logger.Debug("deny: chat not in ALLOWED_CHAT_IDS")
	return false
}
