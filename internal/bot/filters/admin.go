package filters

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
)

// ChatMemberGetter — часть *tgbotapi.BotAPI для проверки статуса участника.
type ChatMemberGetter interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// AdminChecker определяет админов: ADMIN_IDS, создатель и администраторы чата,
// а также участники с кастомным титулом из ADMIN_ROLES.
// Ответы Telegram кешируются на cacheTTL.
type AdminChecker struct {
	api        ChatMemberGetter
	adminIDs   map[int64]struct{}
	adminRoles map[string]struct{}
	cache      *expirable.LRU[string, bool]
}

// NewAdminChecker создаёт проверку прав.
func NewAdminChecker(api ChatMemberGetter, adminIDs []int64, adminRoles []string, cacheTTL time.Duration) *AdminChecker {
	ids := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		ids[id] = struct{}{}
	}
	roles := make(map[string]struct{}, len(adminRoles))
	for _, r := range adminRoles {
		roles[r] = struct{}{}
	}
	return &AdminChecker{
		api:        api,
		adminIDs:   ids,
		adminRoles: roles,
		cache:      expirable.NewLRU[string, bool](4096, nil, cacheTTL),
	}
}

// IsAdmin — может ли пользователь выполнять админские команды в чате.
func (c *AdminChecker) IsAdmin(chatID int64, user *tgbotapi.User) bool {
	if user == nil {
		return false
	}
	if _, ok := c.adminIDs[user.ID]; ok {
		return true
	}

	key := fmt.Sprintf("%d/%d", chatID, user.ID)
	if v, ok := c.cache.Get(key); ok {
		return v
	}

	cm, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: user.ID},
	})
	if err != nil {
		// Не кешируем: при следующем сообщении спросим снова
		log.WithError(err).WithFields(log.Fields{
			"chat_id": chatID,
			"user_id": user.ID,
		}).Warn("GetChatMember failed")
		return false
	}

	_, titled := c.adminRoles[cm.CustomTitle]
	admin := cm.IsCreator() || cm.IsAdministrator() || (cm.CustomTitle != "" && titled)
	c.cache.Add(key, admin)
	return admin
}

// IsExempt — сообщения пользователя не проверяются детектором.
// Боты и админы освобождены.
func (c *AdminChecker) IsExempt(chatID int64, user *tgbotapi.User) bool {
	if user == nil {
		return true
	}
	return user.IsBot || c.IsAdmin(chatID, user)
}
