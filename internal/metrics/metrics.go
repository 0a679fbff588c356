// Package metrics exposes the worker's prometheus instrumentation and
// the admin HTTP mux (/metrics, /healthz, /debug/pipelines).
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CycleRuns counts completed pipeline cycles, one per pipeline.
	CycleRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_pipeline_cycles_total",
			Help: "Completed pipeline cycles",
		},
		[]string{"pipeline"},
	)

	// CycleErrors counts cycles that returned an error.
	CycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_pipeline_cycle_errors_total",
			Help: "Pipeline cycles that returned an error",
		},
		[]string{"pipeline"},
	)

	// CycleDuration tracks wall-clock time per cycle.
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_pipeline_cycle_duration_seconds",
			Help:    "Pipeline cycle duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline"},
	)

	// BlocksIngested counts blocks the scanner has processed.
	BlocksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_blocks_ingested_total",
		Help: "Blocks fully ingested by the scanner pipeline",
	})

	// TxsIngested counts tx rows inserted by the scanner.
	TxsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_txs_ingested_total",
		Help: "Transaction rows inserted by the scanner pipeline",
	})

	// ReorgsDetected counts parent-hash mismatches handled.
	ReorgsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_reorgs_detected_total",
		Help: "Reorgs detected by the scanner pipeline",
	})

	// EndpointScore mirrors each endpoint's current score.
	EndpointScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_endpoint_score",
			Help: "Current score of an RPC endpoint",
		},
		[]string{"endpoint_id"},
	)

	// AlertsTriggered counts alert_events inserted, by alert name.
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_alerts_triggered_total",
			Help: "Alert events inserted by the alert pipeline",
		},
		[]string{"alert"},
	)

	// ScannerBlocksBehind tracks tip-minus-cursor as read at the start
	// of each scanner cycle, before that cycle's blocks are processed.
	ScannerBlocksBehind = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_scanner_blocks_behind",
		Help: "Chain tip minus last_scanned_block as read at the start of the last scanner cycle",
	})
)

// ObserveCycle wraps a pipeline cycle function with the standard
// cycle-run/error/duration instrumentation every pipeline shares.
func ObserveCycle(pipeline string, fn func() error) error {
	start := time.Now()
	err := fn()
	CycleDuration.WithLabelValues(pipeline).Observe(time.Since(start).Seconds())
	CycleRuns.WithLabelValues(pipeline).Inc()
	if err != nil {
		CycleErrors.WithLabelValues(pipeline).Inc()
	}
	return err
}

// PipelineStatus is one row of the /debug/pipelines snapshot.
type PipelineStatus struct {
	Name        string    `json:"name"`
	LastCycleAt time.Time `json:"last_cycle_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// StatusBoard is a thread-safe last-cycle snapshot for every
// pipeline, read by the /debug/pipelines admin endpoint.
type StatusBoard struct {
	mu   sync.Mutex
	rows map[string]PipelineStatus
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{rows: make(map[string]PipelineStatus)}
}

// Record updates one pipeline's last-cycle snapshot.
func (b *StatusBoard) Record(name string, err error) {
	row := PipelineStatus{Name: name, LastCycleAt: time.Now()}
	if err != nil {
		row.LastError = err.Error()
	}
	b.mu.Lock()
	b.rows[name] = row
	b.mu.Unlock()
}

// Snapshot returns every pipeline's last recorded status.
func (b *StatusBoard) Snapshot() []PipelineStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PipelineStatus, 0, len(b.rows))
	for _, row := range b.rows {
		out = append(out, row)
	}
	return out
}

// StartAdminServer serves /metrics, /healthz, and /debug/pipelines on
// addr. readyFn reports whether the worker is ready to serve traffic
// (the database pool is up); board is optional and may be nil.
func StartAdminServer(addr string, readyFn func() bool, board *StatusBoard) (stop func(), err error) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if readyFn != nil && !readyFn() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	if board != nil {
		router.HandleFunc("/debug/pipelines", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(board.Snapshot())
		}).Methods("GET")
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(ctx)
		cancel()
	}, nil
}
