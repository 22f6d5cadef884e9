// Package metrics exports connectivity and indicator metrics and computes
// state uptime over a window.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"offlinewatch/internal/models"
)

// Recorder records probe outcomes, state transitions and indicator
// click-through events.
type Recorder struct {
	ProbesTotal      *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	ConnectionState  *prometheus.GaugeVec
	IndicatorCTR     *prometheus.CounterVec

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds current metric values for the JSON API.
type Snapshot struct {
	Probes      map[string]int64 `json:"probes"`
	Transitions int64            `json:"transitions"`
	State       string           `json:"state"`
	Displayed   int64            `json:"indicator_displayed"`
	Clicked     int64            `json:"indicator_clicked"`
}

// NewRecorder registers the collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	r := &Recorder{
		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offlinewatch_probe_total",
				Help: "HTTP connectivity probes by URL kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offlinewatch_state_transitions_total",
				Help: "Connection state transitions by target state",
			},
			[]string{"to"},
		),
		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "offlinewatch_connection_state",
				Help: "1 for the current connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		IndicatorCTR: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offlinewatch_indicator_ctr_total",
				Help: "Offline indicator displays and clicks",
			},
			[]string{"event"},
		),
		snapshot: Snapshot{
			Probes: make(map[string]int64),
			State:  models.ConnectionStateNone.String(),
		},
	}
	r.setState(models.ConnectionStateNone)
	return r
}

// RecordProbe counts one probe result.
func (r *Recorder) RecordProbe(kind, outcome string) {
	r.ProbesTotal.WithLabelValues(kind, outcome).Inc()

	r.mu.Lock()
	r.snapshot.Probes[kind+"/"+outcome]++
	r.mu.Unlock()
}

// RecordTransition counts a state change and moves the state gauge.
func (r *Recorder) RecordTransition(transition models.StateTransition) {
	r.TransitionsTotal.WithLabelValues(transition.To.String()).Inc()
	r.setState(transition.To)

	r.mu.Lock()
	r.snapshot.Transitions++
	r.snapshot.State = transition.To.String()
	r.mu.Unlock()
}

// RecordCTR counts an indicator display or click.
func (r *Recorder) RecordCTR(event models.CTREvent) {
	if event < 0 || event >= models.CTRCount {
		return
	}
	r.IndicatorCTR.WithLabelValues(event.String()).Inc()

	r.mu.Lock()
	switch event {
	case models.CTRDisplayed:
		r.snapshot.Displayed++
	case models.CTRClicked:
		r.snapshot.Clicked++
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of the current values.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.snapshot
	out.Probes = make(map[string]int64, len(r.snapshot.Probes))
	for k, v := range r.snapshot.Probes {
		out.Probes[k] = v
	}
	return out
}

func (r *Recorder) setState(current models.ConnectionState) {
	for _, state := range models.AllConnectionStates() {
		value := 0.0
		if state == current {
			value = 1
		}
		r.ConnectionState.WithLabelValues(state.String()).Set(value)
	}
}
