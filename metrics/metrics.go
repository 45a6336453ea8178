// Package metrics wires the registry's plain counters into
// Prometheus client types, registered on a dedicated registry (not
// the global DefaultRegisterer) so embedding this module doesn't
// collide with a host process's own metrics. No endpoint in this
// module serves these counters: GET /stats (spec §6) reports the
// registry's own counters. prometheus.Counter refuses to go
// backwards, so these counters are non-decreasing by construction
// (spec §8's monotonicity invariant).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lightningnetwork/wsrelayd/catalog"
)

// Metrics holds the live Prometheus counters alongside the registry
// used to collect them, so a caller can mount /metrics later without
// reaching into the process-global DefaultRegisterer.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesRelayed  prometheus.Counter
	BytesTransferred prometheus.Counter
	Errors           *prometheus.CounterVec
}

// New builds and registers the counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wsrelayd",
			Name:      "messages_relayed_total",
			Help:      "Total number of frames relayed between peers.",
		}),
		BytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wsrelayd",
			Name:      "bytes_transferred_total",
			Help:      "Total number of raw frame bytes relayed between peers.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsrelayd",
			Name:      "errors_total",
			Help:      "Total number of errors by catalog code.",
		}, []string{"code"}),
	}

	reg.MustRegister(m.MessagesRelayed, m.BytesTransferred, m.Errors)
	return m
}

// IncrementError bumps the error counter for code by one, called
// alongside registry.IncrementError so both the JSON /stats view and
// the Prometheus counters stay in sync.
func (m *Metrics) IncrementError(code catalog.Code) {
	m.Errors.WithLabelValues(string(code)).Inc()
}

// AddRelayed records one relayed frame of n bytes.
func (m *Metrics) AddRelayed(n int) {
	m.MessagesRelayed.Inc()
	m.BytesTransferred.Add(float64(n))
}
