package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
	OutcomeComplete = "complete"
	OutcomeJudged   = "judged"
)

// Metrics counts service calls and pipeline outcomes for one client process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	serviceCalls *prometheus.CounterVec
	pipelines    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		serviceCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_service_calls_total",
				Help: "Backend service calls by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		pipelines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_pipelines_total",
				Help: "Submission pipelines by kind and final outcome",
			},
			[]string{"kind", "outcome"},
		),
	}
	m.registry.MustRegister(m.serviceCalls, m.pipelines)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ServiceCall(service, outcome string) {
	if m == nil {
		return
	}
	m.serviceCalls.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) Pipeline(kind, outcome string) {
	if m == nil {
		return
	}
	m.pipelines.WithLabelValues(kind, outcome).Inc()
}

// Sample is one counter value with its labels flattened.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Snapshot gathers every counter, sorted by name for stable output.
func (m *Metrics) Snapshot() ([]Sample, error) {
	if m == nil {
		return nil, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			out = append(out, Sample{
				Name:   family.GetName(),
				Labels: labels,
				Value:  metric.GetCounter().GetValue(),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
