package toolserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts tool invocations and HTTP side-endpoint hits. Each server
// owns its registry so multiple instances can coexist in one process.
type Metrics struct {
	registry     *prometheus.Registry
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codexec_tool_calls_total",
			Help: "MCP tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codexec_tool_duration_seconds",
			Help:    "MCP tool invocation latency by tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codexec_http_requests_total",
			Help: "HTTP side-endpoint requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeTool(tool string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) observeHTTP(route string, code int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
