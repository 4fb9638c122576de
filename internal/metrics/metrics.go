// Package metrics exports authentication flow counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the flow's Metrics interface.
type Collector struct {
	flowStarted   prometheus.Counter
	flowCompleted prometheus.Counter
	flowFailed    *prometheus.CounterVec
	tokenRefresh  *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		flowStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solidauth_flow_started_total",
			Help: "Authentication flows started",
		}),
		flowCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solidauth_flow_completed_total",
			Help: "Authentication flows that produced a validated token",
		}),
		flowFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solidauth_flow_failed_total",
			Help: "Authentication flows that failed, by the stage they were leaving",
		}, []string{"stage"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solidauth_token_refresh_total",
			Help: "Access token refreshes by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.flowStarted,
		c.flowCompleted,
		c.flowFailed,
		c.tokenRefresh,
	)

	return c
}

func (c *Collector) FlowStarted() {
	c.flowStarted.Inc()
}

func (c *Collector) FlowCompleted() {
	c.flowCompleted.Inc()
}

func (c *Collector) FlowFailed(stage string) {
	c.flowFailed.WithLabelValues(stage).Inc()
}

func (c *Collector) TokenRefreshed(ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
