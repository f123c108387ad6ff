package query

import (
	"strings"
	"time"
)

// metaPrefix selects a metadata key, e.g. meta.peer:a1.
const metaPrefix = "meta."

// Record is implemented by entries that can be matched.
type Record interface {
	GetTimestamp() time.Time
	GetLevel() string
	GetCategory() string
	GetMessage() string
	GetMetadata(key string) (string, bool)
}

// Match evaluates node against r. A nil node matches.
func Match(node Node, r Record) bool {
	switch n := node.(type) {
	case nil:
		return true
	case And:
		return Match(n.Left, r) && Match(n.Right, r)
	case Or:
		return Match(n.Left, r) || Match(n.Right, r)
	case Not:
		return !Match(n.Operand, r)
	case Text:
		return matchFullText(n.Value, r)
	case Field:
		value, ok := fieldValue(n.Name, r)
		if n.Negate {
			return !ok || !strings.EqualFold(value, n.Value)
		}
		return ok && strings.EqualFold(value, n.Value)
	default:
		return false
	}
}

// fieldValue resolves a field name. ok is false for unknown fields and
// absent metadata keys.
func fieldValue(key string, r Record) (string, bool) {
	if len(key) > len(metaPrefix) && strings.EqualFold(key[:len(metaPrefix)], metaPrefix) {
		return r.GetMetadata(key[len(metaPrefix):])
	}

	switch strings.ToLower(key) {
	case "category", "cat":
		return r.GetCategory(), true
	case "message", "msg":
		return r.GetMessage(), true
	case "level", "lvl":
		return r.GetLevel(), true
	case "timestamp", "ts":
		return r.GetTimestamp().Format(time.RFC3339), true
	default:
		return "", false
	}
}

func containsIgnoreCase(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// matchFullText searches category, message and level.
func matchFullText(q string, r Record) bool {
	for _, f := range []string{r.GetCategory(), r.GetMessage(), r.GetLevel()} {
		if containsIgnoreCase(f, q) {
			return true
		}
	}
	return false
}
