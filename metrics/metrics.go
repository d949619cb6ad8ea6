// Package metrics defines the Prometheus metrics of the parcel tracking
// service. Metrics register with the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "parcel"

// RefreshCyclesTotal counts completed refresh cycles.
// Labels:
//   - entry: configuration entry id
//   - result: "success", "transport_error", "api_error" or "error"
var RefreshCyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_cycles_total",
		Help:      "Total number of completed refresh cycles, by result.",
	},
	[]string{"entry", "result"},
)

// RefreshCoalescedTotal counts refresh requests that joined a cycle already in flight.
var RefreshCoalescedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_coalesced_total",
		Help:      "Total number of refresh requests served by an in-flight cycle.",
	},
	[]string{"entry"},
)

var RefreshDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_duration_seconds",
		Help:      "Duration of a refresh cycle from first request to cache update.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"entry"},
)

// TrackedDeliveries is the number of deliveries in the last successful snapshot.
var TrackedDeliveries = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_deliveries",
		Help:      "Number of deliveries in the last successful refresh.",
	},
	[]string{"entry"},
)

var ConsecutiveFailures = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "consecutive_failures",
		Help:      "Refresh cycles failed since the last success.",
	},
	[]string{"entry"},
)

var LastSuccessTimestamp = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful refresh.",
	},
	[]string{"entry"},
)

// ApiRequestsTotal counts requests sent to the Parcel API.
// Labels:
//   - filter_mode: "active" or "recent"
//   - outcome: "ok", "transport_error" or "api_error"
var ApiRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total number of requests sent to the Parcel API.",
	},
	[]string{"filter_mode", "outcome"},
)

// DeleteEntry drops every series labelled with entry.
func DeleteEntry(entry string) {
	labels := prometheus.Labels{"entry": entry}
	RefreshCyclesTotal.DeletePartialMatch(labels)
	RefreshCoalescedTotal.DeletePartialMatch(labels)
	RefreshDuration.DeletePartialMatch(labels)
	TrackedDeliveries.DeletePartialMatch(labels)
	ConsecutiveFailures.DeletePartialMatch(labels)
	LastSuccessTimestamp.DeletePartialMatch(labels)
}
