package models

import "time"

// IndicatorEventKind enumerates what happened to the offline notification.
type IndicatorEventKind string

const (
	IndicatorShown     IndicatorEventKind = "shown"
	IndicatorHidden    IndicatorEventKind = "hidden"
	IndicatorClicked   IndicatorEventKind = "clicked"
	IndicatorDismissed IndicatorEventKind = "dismissed"
)

// IndicatorEvent is emitted whenever the offline notification changes.
type IndicatorEvent struct {
	Kind           IndicatorEventKind `json:"kind"`
	NotificationID string             `json:"notification_id,omitempty"`
	At             time.Time          `json:"at"`
}

// IndicatorStatus is a point-in-time view of the indicator controller.
type IndicatorStatus struct {
	Showing             bool            `json:"showing"`
	NotificationID      string          `json:"notification_id,omitempty"`
	ShownSinceResume    bool            `json:"shown_since_resume"`
	Online              bool            `json:"online"`
	LastOnlineAt        time.Time       `json:"last_online_at,omitempty"`
	ConnectionState     ConnectionState `json:"connection_state"`
	WaitingForTabLoad   bool            `json:"waiting_for_tab_load"`
	StableOfflineWait   string          `json:"stable_offline_wait"`
	UsesTopPresentation bool            `json:"uses_top_presentation"`
}

// CTREvent values are persisted in metrics; never renumber them.
type CTREvent int

const (
	CTRDisplayed CTREvent = 0
	CTRClicked   CTREvent = 1
	CTRCount     CTREvent = 2
)

func (e CTREvent) String() string {
	switch e {
	case CTRDisplayed:
		return "displayed"
	case CTRClicked:
		return "clicked"
	default:
		return "unknown"
	}
}

// IndicatorState is the part of the controller that survives restarts.
type IndicatorState struct {
	LastOnlineAt time.Time `json:"last_online_at"`
}
