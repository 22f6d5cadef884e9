package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offlinewatch/internal/models"
)

func gaugeValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					if m.GetGauge() != nil {
						return m.GetGauge().GetValue()
					}
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func TestRecorderCTR(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordCTR(models.CTRDisplayed)
	r.RecordCTR(models.CTRDisplayed)
	r.RecordCTR(models.CTRClicked)
	r.RecordCTR(models.CTRCount)

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.Displayed)
	assert.Equal(t, int64(1), snap.Clicked)
	assert.Equal(t, 2.0, gaugeValue(t, reg, "offlinewatch_indicator_ctr_total", "event", "displayed"))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "offlinewatch_indicator_ctr_total", "event", "clicked"))
}

func TestRecorderTransitionsMoveStateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	assert.Equal(t, 1.0, gaugeValue(t, reg, "offlinewatch_connection_state", "state", "none"))

	r.RecordTransition(models.StateTransition{From: models.ConnectionStateNone, To: models.ConnectionStateCaptivePortal})
	r.RecordTransition(models.StateTransition{From: models.ConnectionStateCaptivePortal, To: models.ConnectionStateValidated})

	assert.Equal(t, 0.0, gaugeValue(t, reg, "offlinewatch_connection_state", "state", "none"))
	assert.Equal(t, 0.0, gaugeValue(t, reg, "offlinewatch_connection_state", "state", "captive_portal"))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "offlinewatch_connection_state", "state", "validated"))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "offlinewatch_state_transitions_total", "to", "validated"))

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.Transitions)
	assert.Equal(t, "validated", snap.State)
}

func TestRecorderProbes(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	r.RecordProbe("default", "captive_portal")
	r.RecordProbe("fallback", "validated")
	r.RecordProbe("fallback", "validated")

	snap := r.Snapshot()
	assert.Equal(t, map[string]int64{
		"default/captive_portal": 1,
		"fallback/validated":     2,
	}, snap.Probes)

	snap.Probes["default/captive_portal"] = 99
	assert.Equal(t, int64(1), r.Snapshot().Probes["default/captive_portal"])
}

func TestComputeStateUptime(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(100 * time.Minute)
	at := func(m int) time.Time { return start.Add(time.Duration(m) * time.Minute) }

	tests := []struct {
		name        string
		transitions []models.StateTransition
		wantOnline  float64
		wantShares  map[string]float64
		wantCount   int
	}{
		{
			name:       "no data",
			wantOnline: 0,
			wantShares: map[string]float64{"none": 100},
		},
		{
			name: "state carried in from before the window",
			transitions: []models.StateTransition{
				{To: models.ConnectionStateValidated, At: start.Add(-time.Hour)},
				{To: models.ConnectionStateDisconnected, At: at(75)},
			},
			wantOnline: 75,
			wantShares: map[string]float64{"validated": 75, "disconnected": 25},
			wantCount:  1,
		},
		{
			name: "mixed states, unsorted input",
			transitions: []models.StateTransition{
				{To: models.ConnectionStateValidated, At: at(50)},
				{To: models.ConnectionStateCaptivePortal, At: at(10)},
				{To: models.ConnectionStateValidated, At: at(200)},
			},
			wantOnline: 50,
			wantShares: map[string]float64{"none": 10, "captive_portal": 40, "validated": 50},
			wantCount:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStateUptime(tt.transitions, start, end)
			assert.Equal(t, tt.wantOnline, got.OnlinePercent)
			assert.Equal(t, tt.wantCount, got.Transitions)
			require.Len(t, got.States, len(models.AllConnectionStates()))
			for _, share := range got.States {
				assert.Equal(t, tt.wantShares[share.State], share.Percent, share.State)
			}
		})
	}
}

func TestComputeStateUptimeEmptyWindow(t *testing.T) {
	now := time.Now()
	got := ComputeStateUptime(nil, now, now)
	assert.Empty(t, got.States)
	assert.Zero(t, got.OnlinePercent)
}
