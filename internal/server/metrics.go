// internal/server/metrics.go
//
// Prometheus 指標。使用獨立 Registry（不污染全域 DefaultRegisterer），
// 由 GET /metrics 輸出。

package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"atm/internal/bank"
)

type metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func newMetrics(reg *prometheus.Registry, stats func() bank.Stats) *metrics {
	m := &metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_operations_total",
			Help: "Ledger operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atm_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		m.operations,
		m.requests,
		m.latency,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "atm_accounts",
			Help: "Live accounts.",
		}, func() float64 { return float64(stats().Accounts) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "atm_max_accounts",
			Help: "Configured account capacity.",
		}, func() float64 { return float64(stats().MaxAccounts) }),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// observe 記錄一次 ledger 操作的結果。
func (m *metrics) observe(op string, err error) {
	m.operations.WithLabelValues(op, outcome(err)).Inc()
}

func (m *metrics) observeRequest(route string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, bank.ErrNotFound):
		return "not_found"
	case errors.Is(err, bank.ErrBadAmount):
		return "invalid_amount"
	case errors.Is(err, bank.ErrInsufficient):
		return "insufficient_funds"
	case errors.Is(err, bank.ErrCapacity):
		return "capacity_exceeded"
	default:
		return "error"
	}
}

// routeLabel 將實際路徑正規化為路由樣板，避免帳戶 ID 造成標籤爆量。
func routeLabel(path string) string {
	path = strings.TrimPrefix(path, "/api/v1")
	rest, ok := strings.CutPrefix(path, "/accounts/")
	if !ok {
		switch path {
		case "/", "/health", "/metrics", "/accounts":
			return path
		}
		return "other"
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) <= 1 {
		return "/accounts/{id}"
	}
	switch parts[1] {
	case "balance", "deposit", "withdraw":
		return "/accounts/{id}/" + parts[1]
	}
	return "other"
}
