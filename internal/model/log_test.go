package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_Order(t *testing.T) {
	assert.Less(t, LevelBasic, LevelDetailed)
	assert.Less(t, LevelDetailed, LevelFull)
	assert.Equal(t, []Level{LevelBasic, LevelDetailed, LevelFull}, Levels)
}

func TestLevel_Clamp(t *testing.T) {
	for _, l := range Levels {
		assert.Equal(t, l, l.Clamp())
	}
	assert.Equal(t, LevelFull, Level(3).Clamp())
	assert.Equal(t, LevelFull, Level(255).Clamp())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"BASIC", LevelBasic, false},
		{"detailed", LevelDetailed, false},
		{" Full ", LevelFull, false},
		{"DEBUG", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_TextRoundTrip(t *testing.T) {
	data, err := json.Marshal(LevelDetailed)
	require.NoError(t, err)
	assert.Equal(t, `"DETAILED"`, string(data))

	var l Level
	require.NoError(t, json.Unmarshal(data, &l))
	assert.Equal(t, LevelDetailed, l)

	_, err = Level(7).MarshalText()
	assert.Error(t, err)
}

// TestLogEntry_JSONFieldNames pins the persisted field names.
func TestLogEntry_JSONFieldNames(t *testing.T) {
	entry := LogEntry{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Level:     LevelFull,
		Category:  "MESH_ROLE",
		Message:   "Role changed",
		Metadata:  map[string]string{"neighborCount": "5"},
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"timestamp": "2026-03-01T12:00:00Z",
		"level": "FULL",
		"category": "MESH_ROLE",
		"message": "Role changed",
		"metadata": {"neighborCount": "5"}
	}`, string(data))
}

func TestNewLogEntry_NormalizesTimestamp(t *testing.T) {
	entry := NewLogEntry(LevelBasic, "TEST", "hello", nil)
	assert.Equal(t, time.UTC, entry.Timestamp.Location())
	assert.Equal(t, entry.Timestamp, entry.Timestamp.Round(0))
	assert.Nil(t, entry.Metadata)
}
