package models

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionState is the detector's view of network reachability.
type ConnectionState int

const (
	ConnectionStateNone ConnectionState = iota
	ConnectionStateDisconnected
	ConnectionStateValidated
	ConnectionStateCaptivePortal
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNone:
		return "none"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateValidated:
		return "validated"
	case ConnectionStateCaptivePortal:
		return "captive_portal"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	parsed, err := ParseConnectionState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseConnectionState maps a state name back to its value.
func ParseConnectionState(raw string) (ConnectionState, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "":
		return ConnectionStateNone, nil
	case "disconnected":
		return ConnectionStateDisconnected, nil
	case "validated":
		return ConnectionStateValidated, nil
	case "captive_portal":
		return ConnectionStateCaptivePortal, nil
	default:
		return ConnectionStateNone, fmt.Errorf("unknown connection state %q", raw)
	}
}

// AllConnectionStates lists every state in declaration order.
func AllConnectionStates() []ConnectionState {
	return []ConnectionState{
		ConnectionStateNone,
		ConnectionStateDisconnected,
		ConnectionStateValidated,
		ConnectionStateCaptivePortal,
	}
}

// Transition reasons.
const (
	ReasonOSDisconnected = "os_disconnected"
	ReasonProbeDefault   = "probe_default"
	ReasonProbeFallback  = "probe_fallback"
	ReasonForced         = "forced"
)

// StateTransition records a single change of ConnectionState.
type StateTransition struct {
	From   ConnectionState `json:"from"`
	To     ConnectionState `json:"to"`
	Reason string          `json:"reason"`
	At     time.Time       `json:"at"`
}

// ProbeResult captures the outcome of an HTTP connectivity probe.
type ProbeResult struct {
	URL           string    `json:"url"`
	StatusCode    int       `json:"status_code"`
	ContentLength int64     `json:"content_length"`
	LatencyMs     int64     `json:"latency_ms"`
	CheckedAt     time.Time `json:"checked_at"`
}

// NetworkSample captures the outcome of an OS-level reachability check.
type NetworkSample struct {
	Target    string    `json:"target"`
	Connected bool      `json:"connected"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
