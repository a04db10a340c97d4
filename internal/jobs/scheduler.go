// Package jobs управляет фоновыми задачами (cron).
// scheduler.go запускает сканер освобождений: раз в RELEASE_SCAN_INTERVAL
// он проверяет всех наказанных по сохранённым меткам времени и снимает
// ограничения с тех, у кого истёк срок. Таймеров в памяти нет, поэтому
// перезапуск процесса ничего не теряет.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"wenbot/internal/features/offense"
)

// Releaser выполняет снятие ограничения на платформе.
type Releaser interface {
	HandleRelease(ctx context.Context, r offense.Release)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	service  *offense.Service
	releaser Releaser
	clock    func() time.Time
}

// NewScheduler создаёт планировщик со сканером освобождений.
func NewScheduler(service *offense.Service, releaser Releaser, interval time.Duration) *Scheduler {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log.StandardLogger())),
		// Следующий тик не стартует, пока не закончился предыдущий
		cron.SkipIfStillRunning(cron.PrintfLogger(log.StandardLogger())),
	))

	return &Scheduler{
		cron:     c,
		interval: interval,
		service:  service,
		releaser: releaser,
		clock:    time.Now,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.RunOnce(ctx, s.clock())
	}))

	s.cron.Start()
	log.WithField("interval", s.interval.String()).Info("Сканер освобождений запущен")
}

// Stop останавливает планировщик. Уже идущий тик дорабатывает до конца.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// RunOnce — один тик сканера по всем чатам.
// Ошибка в одном чате не мешает остальным.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) int {
	spaces, err := s.service.Spaces(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Не удалось получить список чатов")
		return 0
	}

	released := 0
	for _, spaceID := range spaces {
		releases, err := s.service.OnTick(ctx, spaceID, now)
		if err != nil {
			log.WithError(err).WithField("space_id", spaceID).Error("[CRON] Ошибка проверки сроков")
		}
		for _, r := range releases {
			s.releaser.HandleRelease(ctx, r)
			released++
		}
	}

	if released > 0 {
		log.WithField("released", released).Debug("[CRON] Тик сканера завершён")
	}
	return released
}
