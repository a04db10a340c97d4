// Package offense — service.go: координатор наказаний.
// Связывает детектор, политику и хранилище и выдаёт запросы на побочные эффекты
// (Punishment, Release), не зная ничего о Telegram.
package offense

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"wenbot/internal/common"
	"wenbot/internal/metrics"
)

// GlobalSpace — ключ чата для записей при общем на все чаты учёте.
const GlobalSpace int64 = 0

// Service управляет нарушениями и наказаниями.
type Service struct {
	store       Store
	policy      Policy
	globalScope bool
}

// NewService создаёт координатор. При globalScope все нарушения
// пользователя считаются в одной записи с space_id = GlobalSpace.
func NewService(store Store, policy Policy, globalScope bool) *Service {
	return &Service{store: store, policy: policy, globalScope: globalScope}
}

// Policy возвращает действующую политику эскалации.
func (s *Service) Policy() Policy {
	return s.policy
}

// StorageSpace — ключ space_id, под которым хранятся нарушения чата.
func (s *Service) StorageSpace(spaceID int64) int64 {
	if s.globalScope {
		return GlobalSpace
	}
	return spaceID
}

// OnMessage проверяет сообщение и, если это нарушение, записывает его.
// Для чистых сообщений и освобождённых от проверки авторов возвращает nil, nil.
func (s *Service) OnMessage(ctx context.Context, msg Message) (*Punishment, error) {
	if msg.AuthorIsExempt || !IsViolation(msg.Text) {
		return nil, nil
	}
	return s.punish(ctx, msg.SpaceID, Member{ID: msg.AuthorID, Name: msg.AuthorName})
}

// OnManualPunish наказывает пользователей по команде админа, минуя детектор.
// Ошибки по отдельным пользователям не мешают остальным.
func (s *Service) OnManualPunish(ctx context.Context, spaceID int64, members []Member) ([]*Punishment, error) {
	var (
		out  []*Punishment
		errs []error
	)
	for _, m := range uniqueMembers(members) {
		p, err := s.punish(ctx, spaceID, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// OnAmnesty удаляет историю нарушений и просит снять ограничения.
// Если удалить запись не получилось, Release для этого пользователя не выдаётся.
func (s *Service) OnAmnesty(ctx context.Context, spaceID int64, members []Member) ([]Release, error) {
	key := s.StorageSpace(spaceID)
	var (
		out  []Release
		errs []error
	)
	for _, m := range uniqueMembers(members) {
		if err := s.store.Delete(ctx, m.ID, key); err != nil {
			metrics.StoreErrorsTotal.Inc()
			log.WithError(err).WithFields(log.Fields{"user_id": m.ID, "space_id": key}).Error("Амнистия не записана")
			errs = append(errs, err)
			continue
		}
		metrics.AmnestiesTotal.Inc()
		log.WithFields(log.Fields{"user_id": m.ID, "space_id": key}).Info("Амнистия")
		out = append(out, Release{UserID: m.ID, SpaceID: key})
	}
	return out, errors.Join(errs...)
}

// Spaces возвращает ключи чатов, которые нужно проверить сканеру.
func (s *Service) Spaces(ctx context.Context) ([]int64, error) {
	spaces, err := s.store.ListSpaces(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.Inc()
	}
	return spaces, err
}

// OnTick находит в чате тех, у кого истёк срок, и помечает их освобождёнными.
// Решение принимается только по сохранённым меткам времени и now.
// Запись помечается до снятия ограничения: без записи в базе роль не меняется.
func (s *Service) OnTick(ctx context.Context, spaceID int64, now time.Time) ([]Release, error) {
	records, err := s.store.ListActivePunished(ctx, spaceID, s.policy.SecondOffenseLimit)
	if err != nil {
		metrics.StoreErrorsTotal.Inc()
		return nil, err
	}

	var (
		out  []Release
		errs []error
	)
	for _, rec := range records {
		if !s.policy.EligibleForRelease(rec.OffenseCount, rec.LastPenaltyAt, now) {
			continue
		}
		claimed, err := s.store.MarkReleased(ctx, rec.UserID, rec.SpaceID, rec.OffenseCount, now)
		if err != nil {
			metrics.StoreErrorsTotal.Inc()
			errs = append(errs, err)
			continue
		}
		if !claimed {
			// Пока решали, пришло новое нарушение или амнистия
			continue
		}
		metrics.ReleasesTotal.Inc()
		log.WithFields(log.Fields{
			"user_id":  rec.UserID,
			"space_id": rec.SpaceID,
			"count":    rec.OffenseCount,
		}).Info("Срок наказания истёк")
		out = append(out, Release{UserID: rec.UserID, SpaceID: rec.SpaceID})
	}
	return out, errors.Join(errs...)
}

func (s *Service) punish(ctx context.Context, spaceID int64, m Member) (*Punishment, error) {
	key := s.StorageSpace(spaceID)
	rec, err := s.recordOffense(ctx, m.ID, key)
	if err != nil {
		metrics.StoreErrorsTotal.Inc()
		log.WithError(err).WithFields(log.Fields{"user_id": m.ID, "space_id": key}).Error("Нарушение не записано, наказание пропущено")
		return nil, err
	}

	penalty := s.policy.PenaltyFor(rec.OffenseCount)
	tier := s.policy.Tier(rec.OffenseCount)
	metrics.OffensesTotal.WithLabelValues(tier).Inc()
	log.WithFields(log.Fields{
		"user_id":  m.ID,
		"space_id": key,
		"count":    rec.OffenseCount,
		"tier":     tier,
	}).Info("Нарушение записано")

	return &Punishment{
		UserID:       m.ID,
		SpaceID:      spaceID,
		OffenseCount: rec.OffenseCount,
		Penalty:      penalty,
		Notice:       PunishNotice(m.Name, penalty),
	}, nil
}

// recordOffense: Get → Create, если записи нет, иначе Increment.
// Если параллельный запрос успел создать запись, Create вернёт ErrDuplicateKey
// и мы делаем Increment, чтобы не потерять нарушение.
func (s *Service) recordOffense(ctx context.Context, userID, spaceID int64) (*Record, error) {
	rec, err := s.store.Get(ctx, userID, spaceID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return s.store.Increment(ctx, userID, spaceID)
	}

	rec, err = s.store.Create(ctx, userID, spaceID)
	if errors.Is(err, common.ErrDuplicateKey) {
		return s.store.Increment(ctx, userID, spaceID)
	}
	return rec, err
}

func uniqueMembers(members []Member) []Member {
	seen := make(map[int64]struct{}, len(members))
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
