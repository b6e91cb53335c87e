// Package metrics exposes Prometheus instrumentation for the key pool
// service on a dedicated listener, separate from the API port.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AllocationsTotal counts allocation attempts by outcome
	// (ok, insufficient, not_found, invalid, error).
	AllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keypool_allocations_total",
		Help: "Key allocation attempts by outcome.",
	}, []string{"outcome"})

	// KeysDeliveredTotal counts individual keys handed out.
	KeysDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keypool_keys_delivered_total",
		Help: "Individual keys delivered to requesters.",
	})

	// FetchDenialsTotal counts fetch ids folded into missing-or-denied.
	FetchDenialsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keypool_fetch_denials_total",
		Help: "Fetch-by-id requests answered as missing or denied.",
	})

	// RemoteRetriesTotal counts remote client retry attempts.
	RemoteRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keypool_remote_retries_total",
		Help: "Remote pool requests retried after a transient failure.",
	})

	// PoolAvailableKeys tracks available keys per entity pool.
	PoolAvailableKeys = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keypool_available_keys",
		Help: "Unused keys remaining per pool.",
	}, []string{"entity"})

	// EntropyBitsPerByte tracks the last measured source entropy.
	EntropyBitsPerByte = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keypool_entropy_bits_per_byte",
		Help: "Shannon entropy of recently generated key material.",
	})
)

// MetricsServer serves the Prometheus registry over HTTP.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// RunInBackground starts serving; errors other than a clean close are
// reported through errCh.
func (m *MetricsServer) RunInBackground(errCh chan<- error) {
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if errCh != nil {
				errCh <- err
			}
		}
	}()
}

// Shutdown stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
