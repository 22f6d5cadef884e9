package indicator

import (
	"time"

	"offlinewatch/internal/models"
)

// Position selects where the notification is rendered.
type Position string

const (
	PositionTop    Position = "top"
	PositionBottom Position = "bottom"
)

// Notification is a transient, dismissible message with one action.
// OnAction and OnDismiss may be invoked from any goroutine.
type Notification struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	ActionLabel string        `json:"action_label"`
	Icon        string        `json:"icon,omitempty"`
	Position    Position      `json:"position"`
	Duration    time.Duration `json:"duration"`
	SingleLine  bool          `json:"single_line"`

	OnAction  func() `json:"-"`
	OnDismiss func() `json:"-"`
}

// Presenter renders notifications.
type Presenter interface {
	Show(n Notification) error
	Dismiss(id string) error
}

// Recorder counts click-through events.
type Recorder interface {
	RecordCTR(event models.CTREvent)
}

// StateStore persists controller state across restarts.
type StateStore interface {
	LoadIndicatorState() (models.IndicatorState, error)
	SaveIndicatorState(models.IndicatorState) error
}
