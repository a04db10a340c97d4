// Package metrics — счётчики Prometheus и HTTP-эндпоинт /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var OffensesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wenbot_offenses_total",
	Help: "Number of recorded offenses by penalty tier",
}, []string{"tier"})

var ReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wenbot_releases_total",
	Help: "Number of timed penalties released by the scanner",
})

var AmnestiesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wenbot_amnesties_total",
	Help: "Number of offense records cleared by amnesty",
})

var StoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wenbot_store_errors_total",
	Help: "Number of failed offense store operations",
})

var PlatformErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wenbot_platform_errors_total",
	Help: "Number of failed platform side effects by kind",
}, []string{"kind"})

// Serve отдаёт /metrics на addr, пока не отменён ctx.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("Метрики доступны на /metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Сервер метрик остановился")
	}
}
