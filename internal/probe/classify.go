package probe

import (
	"net/http"

	"offlinewatch/internal/models"
)

// Classification is the meaning of a probe response.
type Classification int

const (
	// Inconclusive responses carry no connectivity signal (4xx, 5xx, 1xx).
	Inconclusive Classification = iota
	// Validated means the probe endpoint answered as expected.
	Validated
	// CaptivePortal means something on the path substituted the response.
	CaptivePortal
)

// String returns the label used in logs and metrics.
func (c Classification) String() string {
	switch c {
	case Validated:
		return "validated"
	case CaptivePortal:
		return "captive_portal"
	default:
		return "inconclusive"
	}
}

// Classify maps a probe response onto a Classification.
func Classify(result models.ProbeResult) Classification {
	switch {
	case result.StatusCode == http.StatusNoContent:
		return Validated
	case result.StatusCode == http.StatusOK && result.ContentLength == 0:
		return Validated
	case result.StatusCode == http.StatusOK:
		return CaptivePortal
	case result.StatusCode >= 300 && result.StatusCode < 400:
		return CaptivePortal
	default:
		return Inconclusive
	}
}
