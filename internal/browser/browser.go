// Package browser models the pieces of browser UI state the offline
// indicator consults: the application lifecycle, the focused activity and
// its active tab. The in-memory types are confined to the event loop; none
// of them lock.
package browser

import (
	"fmt"
	"strings"
)

// AboutBlankURL is the display URL of an empty tab.
const AboutBlankURL = "about:blank"

// ApplicationState mirrors the lifecycle of the application's activities.
type ApplicationState int

const (
	ApplicationStateUnknown ApplicationState = iota
	ApplicationStateHasRunningActivities
	ApplicationStateHasPausedActivities
	ApplicationStateHasStoppedActivities
	ApplicationStateHasDestroyedActivities
)

func (s ApplicationState) String() string {
	switch s {
	case ApplicationStateHasRunningActivities:
		return "running"
	case ApplicationStateHasPausedActivities:
		return "paused"
	case ApplicationStateHasStoppedActivities:
		return "stopped"
	case ApplicationStateHasDestroyedActivities:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ParseApplicationState maps a state name back to its value.
func ParseApplicationState(raw string) (ApplicationState, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "foreground", "resumed":
		return ApplicationStateHasRunningActivities, nil
	case "paused":
		return ApplicationStateHasPausedActivities, nil
	case "stopped", "background":
		return ApplicationStateHasStoppedActivities, nil
	case "destroyed":
		return ApplicationStateHasDestroyedActivities, nil
	default:
		return ApplicationStateUnknown, fmt.Errorf("unknown application state %q", raw)
	}
}

// TabObserver receives tab lifecycle callbacks.
type TabObserver interface {
	OnLoadStopped(tab Tab, toDifferentDocument bool)
	OnHidden(tab Tab)
	OnDestroyed(tab Tab)
}

// Tab is the subset of a browser tab the indicator needs.
type Tab interface {
	ID() string
	URL() string
	IsShowingErrorPage() bool
	IsOfflinePage() bool
	IsLoading() bool
	AddObserver(TabObserver)
	RemoveObserver(TabObserver)
}

// Activity is a window hosting at most one active tab.
type Activity interface {
	ID() string
	ActiveTab() Tab
}

// Application exposes lifecycle state and the focused activity.
type Application interface {
	State() ApplicationState
	FocusedActivity() Activity
	AddStateListener(func(ApplicationState)) (remove func())
}
