package handler

import (
	"context"
	"net/http"
	"time"

	"taxdesk/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function, e.g. a redis client's Ping, to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type SystemHandler struct {
	checks    map[string]Pinger
	gatherer  prometheus.Gatherer
	logger    logger.Logger
	startTime time.Time
}

// NewSystemHandler takes the dependencies /ready pings, keyed by name.
func NewSystemHandler(checks map[string]Pinger, gatherer prometheus.Gatherer, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		checks:    checks,
		gatherer:  gatherer,
		logger:    log,
		startTime: time.Now(),
	}
}

func (h *SystemHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/ready", h.Ready).Methods("GET")
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "taxdesk",
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]checkResult, len(h.checks))
	for name, p := range h.checks {
		start := time.Now()
		err := p.PingContext(ctx)
		res := checkResult{Status: "operational", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			res.Status = "outage"
			res.Error = err.Error()
			status = http.StatusServiceUnavailable
			h.logger.Error("Readiness check failed", map[string]interface{}{"dependency": name, "error": err.Error()})
		}
		results[name] = res
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	respondJSON(w, status, map[string]interface{}{"status": state, "checks": results})
}
