// Package history reduces connection state transitions into compact
// timelines for dashboards.
package history

import (
	"sort"
	"time"

	"offlinewatch/internal/models"
)

const (
	// DefaultTimelinePoints controls how many buckets a timeline has.
	DefaultTimelinePoints = 80
	maxDetailsPerPoint    = 4
)

// BuildStateTimeline splits [start, end) into points buckets. Each bucket
// takes the class of the worst state the connection was in during it:
// disconnected, then unknown, then captive portal, then validated.
func BuildStateTimeline(transitions []models.StateTransition, start, end time.Time, points int) models.StateTimeline {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	sorted := make([]models.StateTransition, 0, len(transitions))
	for _, t := range transitions {
		if t.At.IsZero() {
			continue
		}
		sorted = append(sorted, t)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Minute
	}

	current := models.ConnectionStateNone
	idx := 0
	for idx < len(sorted) && sorted[idx].At.Before(start) {
		current = sorted[idx].To
		idx++
	}

	output := make([]models.TimelinePoint, 0, points)
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}

		seen := map[models.ConnectionState]bool{current: true}
		var details []models.TimelineDetail
		for idx < len(sorted) && sorted[idx].At.Before(bucketEnd) {
			t := sorted[idx]
			current = t.To
			seen[current] = true
			if len(details) < maxDetailsPerPoint {
				details = append(details, models.TimelineDetail{
					Timestamp: t.At,
					State:     t.To.String(),
					Reason:    t.Reason,
				})
			}
			idx++
		}

		class, label := evaluateBucket(seen)
		point := models.TimelinePoint{
			ClassName: class,
			Label:     label,
			Start:     bucketStart,
			End:       bucketEnd,
		}
		if class != "state-success" {
			point.Details = details
		}
		output = append(output, point)
	}

	return models.StateTimeline{
		RangeStart: start,
		RangeEnd:   end,
		Timeline:   output,
	}
}

func evaluateBucket(seen map[models.ConnectionState]bool) (className, label string) {
	switch {
	case seen[models.ConnectionStateDisconnected]:
		return "state-error", "Offline"
	case seen[models.ConnectionStateNone]:
		return "state-missing", "No data"
	case seen[models.ConnectionStateCaptivePortal]:
		return "state-warning", "Captive portal"
	case seen[models.ConnectionStateValidated]:
		return "state-success", "Online"
	default:
		return "state-missing", "No data"
	}
}
