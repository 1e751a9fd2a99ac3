// Package metrics exposes Prometheus collectors for the oracle loop.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/roundoracle/internal/logger"
	"github.com/rewired-gh/roundoracle/internal/models"
)

var (
	// Registry holds the oracle's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roundoracle",
			Subsystem: "pricefeed",
			Name:      "fetch_attempts_total",
			Help:      "Total number of price fetch attempts.",
		},
		[]string{"result"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roundoracle",
			Name:      "settlements_total",
			Help:      "Total number of callResult submissions by outcome.",
		},
		[]string{"status"},
	)

	currentRound = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roundoracle",
			Name:      "current_round",
			Help:      "Round id most recently read from the contract.",
		},
	)

	roundWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "roundoracle",
			Name:      "round_wait_seconds",
			Help:      "Time waited for a round's resolution instant.",
			Buckets:   []float64{0, 1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 86400},
		},
	)

	lastSettledPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roundoracle",
			Name:      "last_settled_price",
			Help:      "Price of the last confirmed settlement.",
		},
	)

	lastSettledAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roundoracle",
			Name:      "last_settlement_timestamp_seconds",
			Help:      "Unix time of the last confirmed settlement.",
		},
	)
)

func init() {
	Registry.MustRegister(
		fetchAttempts,
		settlements,
		currentRound,
		roundWait,
		lastSettledPrice,
		lastSettledAt,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Recorder feeds scheduler events into the collectors.
type Recorder struct{}

// OnRound records the round id and the wait before its resolution.
func (Recorder) OnRound(roundID uint64, wait time.Duration) {
	currentRound.Set(float64(roundID))
	roundWait.Observe(wait.Seconds())
}

// OnFetchAttempt counts fetch attempts by result.
func (Recorder) OnFetchAttempt(_ string, _ int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	fetchAttempts.WithLabelValues(result).Inc()
}

// OnSettlement counts submissions and tracks the last confirmed price.
func (Recorder) OnSettlement(s *models.Settlement) {
	settlements.WithLabelValues(string(s.Status)).Inc()
	if s.Status != models.SettlementConfirmed {
		return
	}
	lastSettledPrice.Set(float64(s.FixedPoint) / 100)
	lastSettledAt.Set(float64(s.SubmittedAt.Unix()))
}
