package metrics

import (
	"math"
	"sort"
	"time"

	"offlinewatch/internal/models"
)

// StateShare is the time spent in one connection state.
type StateShare struct {
	State   string  `json:"state"`
	Seconds float64 `json:"seconds"`
	Percent float64 `json:"percent"`
}

// StateUptime summarises connection states over a window.
type StateUptime struct {
	RangeStart    time.Time    `json:"range_start"`
	RangeEnd      time.Time    `json:"range_end"`
	OnlinePercent float64      `json:"online_percent"`
	Transitions   int          `json:"transitions"`
	States        []StateShare `json:"states"`
	LastState     string       `json:"last_state,omitempty"`
	LastUpdated   string       `json:"last_updated,omitempty"`
}

// ComputeStateUptime aggregates how long the connection spent in each state
// between start and end. Time before the first known transition counts as
// NONE.
func ComputeStateUptime(transitions []models.StateTransition, start, end time.Time) StateUptime {
	result := StateUptime{RangeStart: start, RangeEnd: end}
	if !end.After(start) {
		return result
	}

	sorted := make([]models.StateTransition, len(transitions))
	copy(sorted, transitions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})

	durations := make(map[models.ConnectionState]time.Duration)
	current := models.ConnectionStateNone
	cursor := start
	for _, t := range sorted {
		if !t.At.After(start) {
			current = t.To
			continue
		}
		if !t.At.Before(end) {
			break
		}
		durations[current] += t.At.Sub(cursor)
		cursor = t.At
		current = t.To
		result.Transitions++
	}
	durations[current] += end.Sub(cursor)

	if n := len(sorted); n > 0 {
		last := sorted[n-1]
		result.LastState = last.To.String()
		result.LastUpdated = last.At.UTC().Format(time.RFC3339)
	}

	window := end.Sub(start).Seconds()
	for _, state := range models.AllConnectionStates() {
		d := durations[state]
		result.States = append(result.States, StateShare{
			State:   state.String(),
			Seconds: round2(d.Seconds()),
			Percent: round2(d.Seconds() / window * 100),
		})
	}
	result.OnlinePercent = round2(durations[models.ConnectionStateValidated].Seconds() / window * 100)
	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
