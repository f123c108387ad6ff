package logbridge

import (
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
)

type captured struct {
	mu      sync.Mutex
	entries []model.LogEntry
}

func (c *captured) Log(e model.LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func TestLevelMapping(t *testing.T) {
	tests := []struct {
		in   slog.Level
		want model.Level
	}{
		{slog.LevelError, model.LevelBasic},
		{slog.LevelWarn, model.LevelBasic},
		{slog.LevelInfo, model.LevelBasic},
		{slog.LevelDebug, model.LevelDetailed},
		{slog.LevelDebug - 4, model.LevelFull},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Level(tt.in), tt.in.String())
	}
}

func TestHandlerRecordsEntries(t *testing.T) {
	rec := &captured{}
	logger := slog.New(NewHandler(rec, Options{Category: "mesh"}))

	logger.Info("peer joined", "peer", "abc", "hops", 2)
	logger.Debug("routing table", slog.Group("table", "size", 12))
	logger.Warn("battery low", "category", "battery")

	require.Len(t, rec.entries, 3)

	e := rec.entries[0]
	assert.Equal(t, model.LevelBasic, e.Level)
	assert.Equal(t, "mesh", e.Category)
	assert.Equal(t, "peer joined", e.Message)
	assert.Equal(t, map[string]string{"peer": "abc", "hops": "2"}, e.Metadata)
	assert.Equal(t, e.Timestamp.UTC(), e.Timestamp)

	assert.Equal(t, model.LevelDetailed, rec.entries[1].Level)
	assert.Equal(t, map[string]string{"table.size": "12"}, rec.entries[1].Metadata)

	assert.Equal(t, "battery", rec.entries[2].Category)
	assert.Nil(t, rec.entries[2].Metadata)
}

func TestHandlerWithAttrsAndGroups(t *testing.T) {
	rec := &captured{}
	base := slog.New(NewHandler(rec, Options{}))

	tor := base.With("category", "tor", "circuit", 7)
	tor.WithGroup("relay").Info("built", "hop", 3)
	base.Info("unchanged")

	require.Len(t, rec.entries, 2)
	assert.Equal(t, "tor", rec.entries[0].Category)
	assert.Equal(t, map[string]string{"circuit": "7", "relay.hop": "3"}, rec.entries[0].Metadata)

	assert.Equal(t, "app", rec.entries[1].Category)
	assert.Nil(t, rec.entries[1].Metadata)
}

func TestHandlerAddSource(t *testing.T) {
	rec := &captured{}
	slog.New(NewHandler(rec, Options{AddSource: true})).Info("here")

	require.Len(t, rec.entries, 1)
	assert.True(t, strings.Contains(rec.entries[0].Metadata["source"], "handler_test.go:"),
		rec.entries[0].Metadata["source"])
}
