package model

import (
	"fmt"
	"strings"
	"time"
)

// Level is the detail level of a diagnostic entry. Levels are totally
// ordered: BASIC < DETAILED < FULL.
type Level uint8

const (
	LevelBasic    Level = 0
	LevelDetailed Level = 1
	LevelFull     Level = 2
)

// Levels lists every level in ascending order.
var Levels = []Level{LevelBasic, LevelDetailed, LevelFull}

// String returns the canonical upper-case name.
func (l Level) String() string {
	switch l {
	case LevelBasic:
		return "BASIC"
	case LevelDetailed:
		return "DETAILED"
	case LevelFull:
		return "FULL"
	default:
		return fmt.Sprintf("LEVEL(%d)", uint8(l))
	}
}

// Valid reports whether l is one of the three defined levels.
func (l Level) Valid() bool {
	return l <= LevelFull
}

// Clamp returns l, or LevelFull when l is out of range, so an undefined
// level is treated as the most detailed one.
func (l Level) Clamp() Level {
	if l.Valid() {
		return l
	}
	return LevelFull
}

// ParseLevel converts a level name to a Level. Matching is case-insensitive.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BASIC":
		return LevelBasic, nil
	case "DETAILED":
		return LevelDetailed, nil
	case "FULL":
		return LevelFull, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid log level %d", uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LogEntry is a leveled diagnostic record. Entries are treated as immutable
// once constructed; Metadata is preserved verbatim.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Category  string            `json:"category"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewLogEntry builds an entry stamped with the current time.
func NewLogEntry(level Level, category, message string, metadata map[string]string) LogEntry {
	return LogEntry{
		Timestamp: Timestamp(time.Now()),
		Level:     level,
		Category:  category,
		Message:   message,
		Metadata:  metadata,
	}
}

// Timestamp normalizes t for storage: UTC, no monotonic reading.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Round(0)
}

// Accessors used by the query evaluator.

func (e *LogEntry) GetTimestamp() time.Time { return e.Timestamp }
func (e *LogEntry) GetLevel() string        { return e.Level.String() }
func (e *LogEntry) GetCategory() string     { return e.Category }
func (e *LogEntry) GetMessage() string      { return e.Message }

// GetMetadata returns the metadata value for key and whether it was set.
func (e *LogEntry) GetMetadata(key string) (string, bool) {
	v, ok := e.Metadata[key]
	return v, ok
}
