package engine

import (
	"errors"
	"sort"
	"time"
)

type HistogramPoint struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

// Histogram counts visible diagnostic entries per time bucket of the given
// width, oldest bucket first. Empty buckets are omitted.
func (s *Store) Histogram(interval time.Duration) ([]HistogramPoint, error) {
	if interval <= 0 {
		return nil, errors.New("histogram interval must be positive")
	}

	buckets := make(map[int64]int)
	for _, e := range s.Logs() {
		ts := e.Timestamp.UnixNano()
		bucket := ts - ts%int64(interval)
		if ts < 0 && ts%int64(interval) != 0 {
			bucket -= int64(interval)
		}
		buckets[bucket]++
	}

	points := make([]HistogramPoint, 0, len(buckets))
	for t, c := range buckets {
		points = append(points, HistogramPoint{Time: time.Unix(0, t).UTC(), Count: c})
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})

	return points, nil
}
