// Package offense — handlers.go выполняет запросы координатора через Enforcer.
package offense

import (
	"context"

	log "github.com/sirupsen/logrus"

	"wenbot/internal/metrics"
)

// Handler связывает Service с платформой.
type Handler struct {
	service  *Service
	enforcer Enforcer
}

// NewHandler создаёт обработчик наказаний.
func NewHandler(service *Service, enforcer Enforcer) *Handler {
	return &Handler{service: service, enforcer: enforcer}
}

// HandleMessage проверяет обычное сообщение чата.
func (h *Handler) HandleMessage(ctx context.Context, msg Message) {
	p, err := h.service.OnMessage(ctx, msg)
	if err != nil {
		// Координатор уже залогировал причину
		return
	}
	if p != nil {
		h.apply(ctx, p)
	}
}

// HandleManualPunish — команда /punish.
func (h *Handler) HandleManualPunish(ctx context.Context, spaceID int64, members []Member) {
	punishments, err := h.service.OnManualPunish(ctx, spaceID, members)
	if err != nil {
		log.WithError(err).WithField("space_id", spaceID).Warn("Часть наказаний не применена")
	}
	for _, p := range punishments {
		h.apply(ctx, p)
	}
}

// HandleAmnesty — команда /grant-amnesty. Отправляет одно сообщение на всех.
func (h *Handler) HandleAmnesty(ctx context.Context, spaceID int64, members []Member) {
	releases, err := h.service.OnAmnesty(ctx, spaceID, members)
	if err != nil {
		log.WithError(err).WithField("space_id", spaceID).Warn("Часть амнистий не записана")
	}

	names := make(map[int64]string, len(members))
	for _, m := range members {
		names[m.ID] = m.Name
	}

	var granted []string
	for _, r := range releases {
		if err := h.enforcer.Lift(ctx, r.SpaceID, r.UserID); err != nil {
			metrics.PlatformErrorsTotal.WithLabelValues("lift").Inc()
			log.WithError(err).WithField("user_id", r.UserID).Warn("Не удалось снять ограничение при амнистии")
		}
		// История уже удалена, поэтому в сообщении пользователь есть в любом случае
		granted = append(granted, names[r.UserID])
	}

	if text := AmnestyNotice(granted); text != "" {
		h.notify(ctx, spaceID, text)
	}
}

// HandleRelease снимает ограничение после истечения срока.
func (h *Handler) HandleRelease(ctx context.Context, r Release) {
	if err := h.enforcer.Lift(ctx, r.SpaceID, r.UserID); err != nil {
		metrics.PlatformErrorsTotal.WithLabelValues("lift").Inc()
		log.WithError(err).WithFields(log.Fields{
			"user_id":  r.UserID,
			"space_id": r.SpaceID,
		}).Warn("Не удалось снять ограничение")
		return
	}
	log.WithFields(log.Fields{"user_id": r.UserID, "space_id": r.SpaceID}).Info("Ограничение снято")
}

// apply ограничивает пользователя и, только если это удалось, пишет в чат.
func (h *Handler) apply(ctx context.Context, p *Punishment) {
	if err := h.enforcer.Restrict(ctx, p.SpaceID, p.UserID, p.Penalty); err != nil {
		metrics.PlatformErrorsTotal.WithLabelValues("restrict").Inc()
		log.WithError(err).WithFields(log.Fields{
			"user_id":  p.UserID,
			"space_id": p.SpaceID,
		}).Error("Не удалось ограничить пользователя")
		return
	}
	log.WithFields(log.Fields{
		"user_id":   p.UserID,
		"space_id":  p.SpaceID,
		"count":     p.OffenseCount,
		"permanent": p.Penalty.Permanent,
		"duration":  p.Penalty.Duration.String(),
	}).Info("Пользователь ограничен")
	h.notify(ctx, p.SpaceID, p.Notice)
}

func (h *Handler) notify(ctx context.Context, spaceID int64, text string) {
	if err := h.enforcer.Notify(ctx, spaceID, text); err != nil {
		metrics.PlatformErrorsTotal.WithLabelValues("notify").Inc()
		log.WithError(err).WithField("space_id", spaceID).Error("Ошибка отправки сообщения")
	}
}
