package models

import "time"

// TimelinePoint represents a single compact point in a state timeline.
type TimelinePoint struct {
	ClassName string           `json:"className"`
	Label     string           `json:"label"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	Details   []TimelineDetail `json:"details,omitempty"`
}

// TimelineDetail carries extra information for buckets that saw transitions.
type TimelineDetail struct {
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// StateTimeline aggregates timeline points for the connection state.
type StateTimeline struct {
	RangeStart time.Time       `json:"range_start"`
	RangeEnd   time.Time       `json:"range_end"`
	Timeline   []TimelinePoint `json:"timeline"`
}
