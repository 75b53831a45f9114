// Package metrics exposes Prometheus instrumentation for the server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	expensesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitledger_expenses_created_total",
		Help: "Expenses created across all groups.",
	})

	expensesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitledger_expenses_deleted_total",
		Help: "Expense deletions processed, including no-op deletes.",
	})

	feedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitledger_feed_subscribers",
		Help: "Currently connected change feed subscribers.",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splitledger_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// ExpenseCreated records a successful create.
func ExpenseCreated() { expensesCreated.Inc() }

// ExpenseDeleted records a processed delete.
func ExpenseDeleted() { expensesDeleted.Inc() }

// SubscriberConnected tracks a new feed subscriber.
func SubscriberConnected() { feedSubscribers.Inc() }

// SubscriberDisconnected tracks a departed feed subscriber.
func SubscriberDisconnected() { feedSubscribers.Dec() }

// ObserveRequest records one request's latency. The path is accepted
// for call-site symmetry but not used as a label: group ids would blow
// up cardinality.
func ObserveRequest(method, _ string, d time.Duration) {
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
