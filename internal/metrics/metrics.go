package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// TicksStored counts ticks appended and flushed, per stream.
	TicksStored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tickvault_ticks_stored_total",
		Help: "Ticks appended and flushed to a stream.",
	}, []string{"stream"})

	// FetchErrors counts failed trade requests, per exchange.
	FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tickvault_fetch_errors_total",
		Help: "Failed exchange trade requests.",
	}, []string{"exchange"})

	// TicketWait observes how long watchers wait for a ticket, per exchange.
	TicketWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tickvault_ticket_wait_seconds",
		Help:    "Time a watcher waited for its ticket to be granted.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"exchange"})
)

var registerOnce sync.Once

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(TicksStored)
		prometheus.MustRegister(FetchErrors)
		prometheus.MustRegister(TicketWait)
	})
}

// Serve exposes /metrics on addr till ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("metrics server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
