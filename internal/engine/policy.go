package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
)

// DefaultRetention is the age after which a diagnostic entry is hidden.
const DefaultRetention = 30 * 24 * time.Hour

// Rotation controls the calendar period outside of which entries are hidden.
type Rotation uint8

const (
	// RotationMonthly hides entries from any calendar month other than the
	// current one.
	RotationMonthly Rotation = iota
	// RotationNone disables period filtering.
	RotationNone
)

func (r Rotation) String() string {
	switch r {
	case RotationMonthly:
		return "monthly"
	case RotationNone:
		return "none"
	default:
		return fmt.Sprintf("rotation(%d)", uint8(r))
	}
}

// ParseRotation parses "monthly" or "none". The empty string is monthly.
func ParseRotation(s string) (Rotation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "monthly":
		return RotationMonthly, nil
	case "none", "off":
		return RotationNone, nil
	default:
		return 0, fmt.Errorf("unknown rotation %q", s)
	}
}

// Policy decides which diagnostic entries are visible at read time.
type Policy struct {
	// Retention is the maximum entry age; zero means DefaultRetention and a
	// negative value disables the age check.
	Retention time.Duration
	Rotation  Rotation
	// Location is the time zone used to evaluate calendar months. Nil is UTC.
	Location *time.Location
}

// DefaultPolicy returns 30-day retention with monthly rotation in UTC.
func DefaultPolicy() Policy {
	return Policy{Retention: DefaultRetention, Rotation: RotationMonthly, Location: time.UTC}
}

func (p Policy) withDefaults() Policy {
	if p.Retention == 0 {
		p.Retention = DefaultRetention
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	return p
}

// Visible reports whether an entry stamped ts is readable at now. An entry
// aged exactly Retention is still visible.
func (p Policy) Visible(ts, now time.Time) bool {
	p = p.withDefaults()
	if p.Retention > 0 && now.Sub(ts) > p.Retention {
		return false
	}
	if p.Rotation == RotationMonthly {
		ny, nm, _ := now.In(p.Location).Date()
		ty, tm, _ := ts.In(p.Location).Date()
		if ny != ty || nm != tm {
			return false
		}
	}
	return true
}

// visibleEntries returns the entries of in that satisfy the policy at now,
// preserving order.
func (p Policy) visibleEntries(in []model.LogEntry, now time.Time) []model.LogEntry {
	out := make([]model.LogEntry, 0, len(in))
	for _, e := range in {
		if p.Visible(e.Timestamp, now) {
			out = append(out, e)
		}
	}
	return out
}

// PruneExpired drops diagnostic entries that the policy already hides and
// returns how many were removed. Reads filter lazily, so pruning only frees
// memory and shrinks the next flush.
func (s *Store) PruneExpired() int {
	now := s.now()
	removed := s.diagnostics.RetainFunc(func(e model.LogEntry) bool {
		return s.policy.Visible(e.Timestamp, now)
	})
	if removed > 0 {
		log.Info().Int("removed", removed).Str("category", s.diagnostics.Name()).Msg("pruned expired entries")
	}
	return removed
}
