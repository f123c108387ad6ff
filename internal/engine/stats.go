package engine

import (
	"time"
)

// StreamStats describes one category buffer.
type StreamStats struct {
	Name     string `json:"name"`
	Entries  int    `json:"entries"`
	Appended int64  `json:"appended"`
}

// SystemStats is a point-in-time summary of the store.
type SystemStats struct {
	Level          string         `json:"level"`
	VisibleLogs    int            `json:"visible_logs"`
	LevelDist      map[string]int `json:"level_dist"`    // visible entries per level, e.g. "BASIC": 10
	CategoryDist   map[string]int `json:"category_dist"` // visible entries per category
	Streams        []StreamStats  `json:"streams"`
	Flushes        int64          `json:"flushes"`
	FlushFailures  int64          `json:"flush_failures"`
	CorruptedFiles int64          `json:"corrupted_files"`
	LastFlush      *time.Time     `json:"last_flush,omitempty"`
}

// Stats returns counters for every stream and the visible diagnostic log.
func (s *Store) Stats() SystemStats {
	visible := s.Logs()

	stats := SystemStats{
		Level:          s.Level().String(),
		VisibleLogs:    len(visible),
		LevelDist:      make(map[string]int),
		CategoryDist:   make(map[string]int),
		Streams:        make([]StreamStats, 0, len(s.categories)),
		Flushes:        s.flushes.Load(),
		FlushFailures:  s.flushFailures.Load(),
		CorruptedFiles: s.corrupted.Load(),
	}

	for _, e := range visible {
		stats.LevelDist[e.Level.String()]++
		stats.CategoryDist[e.Category]++
	}

	for _, c := range s.categories {
		stats.Streams = append(stats.Streams, StreamStats{
			Name:     c.Name(),
			Entries:  c.Len(),
			Appended: c.Appended(),
		})
	}

	if ns := s.lastFlush.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		stats.LastFlush = &t
	}

	return stats
}
