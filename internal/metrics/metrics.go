// Package metrics exposes Prometheus collectors for the callback bridge.
//
// A nil *Bridge is valid and records nothing, so instances built without
// metrics need no special casing.
package metrics

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "simbridge"

// Bridge holds the bridge's collectors.
type Bridge struct {
	markersEnqueued  *prometheus.CounterVec // by kind
	markersProcessed *prometheus.CounterVec // by kind and outcome (applied/stale/purged)
	waits            *prometheus.CounterVec // by status
	deferred         prometheus.Counter
	teardowns        *prometheus.CounterVec // by outcome
	reclaimed        prometheus.Counter
	poisoned         prometheus.Gauge
	pending          prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Bridge, error) {
	m := &Bridge{
		markersEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "markers_enqueued_total",
			Help:      "Markers handed from engine callbacks to the consumer loop",
		}, []string{"kind"}),
		markersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "markers_processed_total",
			Help:      "Markers retired by the consumer, by outcome",
		}, []string{"kind", "outcome"}),
		waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "waits_total",
			Help:      "Completed event waits by status",
		}, []string{"status"}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "commands_deferred_total",
			Help:      "Commands queued while the background worker was starting or stopping",
		}),
		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "teardowns_total",
			Help:      "Teardown sequences by outcome",
		}, []string{"outcome"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "instances_reclaimed_total",
			Help:      "Instances whose resources were released",
		}),
		poisoned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "poisoned",
			Help:      "1 once an abrupt engine death has poisoned the process",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "pending_commands",
			Help:      "Commands currently deferred across all instances",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.markersEnqueued, m.markersProcessed, m.waits, m.deferred,
		m.teardowns, m.reclaimed, m.poisoned, m.pending,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register bridge metrics: %w", err)
		}
	}
	return m, nil
}

// MarkerEnqueued counts a marker handed to the consumer.
func (m *Bridge) MarkerEnqueued(kind string) {
	if m == nil {
		return
	}
	m.markersEnqueued.WithLabelValues(kind).Inc()
}

// MarkerProcessed counts a marker retired with the given outcome.
func (m *Bridge) MarkerProcessed(kind, outcome string) {
	if m == nil {
		return
	}
	m.markersProcessed.WithLabelValues(kind, outcome).Inc()
}

// Wait counts a finished wait.
func (m *Bridge) Wait(status string) {
	if m == nil {
		return
	}
	m.waits.WithLabelValues(status).Inc()
}

// Deferred counts a deferred command and raises the pending gauge.
func (m *Bridge) Deferred() {
	if m == nil {
		return
	}
	m.deferred.Inc()
	m.pending.Inc()
}

// PendingDone lowers the pending gauge by n (flushed or discarded).
func (m *Bridge) PendingDone(n int) {
	if m == nil || n == 0 {
		return
	}
	m.pending.Sub(float64(n))
}

// Teardown counts a teardown sequence.
func (m *Bridge) Teardown(outcome string) {
	if m == nil {
		return
	}
	m.teardowns.WithLabelValues(outcome).Inc()
}

// Reclaimed counts a released instance.
func (m *Bridge) Reclaimed() {
	if m == nil {
		return
	}
	m.reclaimed.Inc()
}

// Poisoned sets the poison gauge.
func (m *Bridge) Poisoned() {
	if m == nil {
		return
	}
	m.poisoned.Set(1)
}

// Summary gathers reg and flattens every sample into "name{labels}" ->
// value, sorted by key. Used for CLI output.
func Summary(g prometheus.Gatherer) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	var out []Sample
	for _, mf := range families {
		for _, mt := range mf.GetMetric() {
			key := mf.GetName()
			if labels := mt.GetLabel(); len(labels) > 0 {
				key += "{"
				for i, l := range labels {
					if i > 0 {
						key += ","
					}
					key += l.GetName() + "=" + l.GetValue()
				}
				key += "}"
			}
			var v float64
			switch {
			case mt.GetCounter() != nil:
				v = mt.GetCounter().GetValue()
			case mt.GetGauge() != nil:
				v = mt.GetGauge().GetValue()
			default:
				continue
			}
			out = append(out, Sample{Name: key, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Sample is one flattened metric value.
type Sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}
