package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"offlinewatch/internal/history"
	"offlinewatch/internal/models"
)

const (
	overviewBucketMinutes = 10
	overviewBucketCount   = 3
	overviewBucketSeconds = overviewBucketMinutes * 60
	overviewPushInterval  = 60 * time.Second
	overviewStateUnknown  = "unknown"
	overviewStateOK       = "ok"
	overviewStateIssue    = "issue"
	overviewConnectionID  = "connection"
	overviewNetworkID     = "network"
)

type overviewSnapshot struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	RangeStart    time.Time      `json:"range_start"`
	RangeEnd      time.Time      `json:"range_end"`
	BucketSeconds int            `json:"bucket_seconds"`
	State         string         `json:"state"`
	Items         []overviewItem `json:"items"`
}

type overviewItem struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Buckets []overviewBucket `json:"buckets"`
}

type overviewBucket struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	State  string    `json:"state"`
	Detail string    `json:"detail,omitempty"`
}

type timeBucket struct {
	Start time.Time
	End   time.Time
}

func (s *Server) handleOverview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.buildOverviewSnapshot())
}

// pushOverview broadcasts the overview until stop is closed.
func (s *Server) pushOverview(stop <-chan struct{}) {
	ticker := time.NewTicker(overviewPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := s.buildOverviewSnapshot()
			s.hub.broadcast(Message{Type: messageOverview, Overview: &snapshot})
		case <-stop:
			return
		}
	}
}

func (s *Server) buildOverviewSnapshot() overviewSnapshot {
	now := s.now().UTC()
	bucketDuration := time.Duration(overviewBucketMinutes) * time.Minute
	rangeStart := now.Add(-bucketDuration * overviewBucketCount)
	buckets := buildTimeBuckets(rangeStart, bucketDuration, overviewBucketCount)

	timeline := history.BuildStateTimeline(s.transitions.History(), rangeStart, now, overviewBucketCount*overviewBucketMinutes)
	items := []overviewItem{
		{
			ID:      overviewConnectionID,
			Name:    "Connection",
			Buckets: mapTimelineToBuckets(timeline.Timeline, buckets),
		},
		{
			ID:      overviewNetworkID,
			Name:    "Network",
			Buckets: buildNetworkBuckets(buckets, s.network.HistorySince(rangeStart)),
		},
	}

	return overviewSnapshot{
		GeneratedAt:   now,
		RangeStart:    rangeStart,
		RangeEnd:      now,
		BucketSeconds: overviewBucketSeconds,
		State:         s.detector.State().String(),
		Items:         items,
	}
}

func mapTimelineToBuckets(points []models.TimelinePoint, buckets []timeBucket) []overviewBucket {
	result := newOverviewBuckets(buckets)
	for i, bucket := range buckets {
		state := overviewStateUnknown
		detail := ""
		for _, point := range points {
			if !bucketOverlaps(bucket, point.Start, point.End) {
				continue
			}
			pointState := timelineState(point.ClassName)
			if pointState == overviewStateIssue {
				state = overviewStateIssue
				detail = timelineDetail(point)
				break
			}
			if pointState == overviewStateOK && state != overviewStateOK {
				state = overviewStateOK
				detail = timelineDetail(point)
			}
		}
		result[i].State = state
		result[i].Detail = detail
	}
	return result
}

func bucketOverlaps(bucket timeBucket, start, end time.Time) bool {
	if start.IsZero() && end.IsZero() {
		return false
	}
	if end.Before(start) {
		end = start
	}
	return end.After(bucket.Start) && start.Before(bucket.End)
}

func timelineState(className string) string {
	switch className {
	case "state-success":
		return overviewStateOK
	case "state-error", "state-warning":
		return overviewStateIssue
	default:
		return overviewStateUnknown
	}
}

func timelineDetail(point models.TimelinePoint) string {
	if len(point.Details) > 0 {
		if detail := strings.TrimSpace(point.Details[0].State); detail != "" {
			return detail
		}
	}
	return strings.TrimSpace(point.Label)
}

func buildTimeBuckets(start time.Time, duration time.Duration, count int) []timeBucket {
	result := make([]timeBucket, 0, count)
	current := start
	for i := 0; i < count; i++ {
		end := current.Add(duration)
		result = append(result, timeBucket{Start: current, End: end})
		current = end
	}
	return result
}

func newOverviewBuckets(buckets []timeBucket) []overviewBucket {
	result := make([]overviewBucket, len(buckets))
	for i, bucket := range buckets {
		result[i] = overviewBucket{
			Start: bucket.Start,
			End:   bucket.End,
			State: overviewStateUnknown,
		}
	}
	return result
}

func bucketIndex(ts time.Time, buckets []timeBucket) int {
	for i, bucket := range buckets {
		if !ts.Before(bucket.Start) && ts.Before(bucket.End) {
			return i
		}
	}
	if n := len(buckets); n > 0 && ts.Equal(buckets[n-1].End) {
		return n - 1
	}
	return -1
}

func buildNetworkBuckets(buckets []timeBucket, samples []models.NetworkSample) []overviewBucket {
	result := newOverviewBuckets(buckets)
	for _, sample := range samples {
		idx := bucketIndex(sample.CheckedAt.UTC(), buckets)
		if idx == -1 {
			continue
		}
		if sample.Connected {
			detail := ""
			if sample.LatencyMs > 0 {
				detail = fmt.Sprintf("%d ms", sample.LatencyMs)
			}
			setBucketOK(&result[idx], detail)
			continue
		}
		detail := strings.TrimSpace(sample.Error)
		if detail == "" {
			detail = "offline"
		}
		setBucketIssue(&result[idx], detail)
	}
	return result
}

func setBucketOK(bucket *overviewBucket, detail string) {
	if bucket.State == overviewStateIssue {
		return
	}
	bucket.State = overviewStateOK
	if detail != "" {
		bucket.Detail = detail
	}
}

func setBucketIssue(bucket *overviewBucket, detail string) {
	bucket.State = overviewStateIssue
	if detail != "" {
		bucket.Detail = detail
	}
}
