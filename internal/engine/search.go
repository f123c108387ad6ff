package engine

import (
	"fmt"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/pkg/query"
)

// Search returns the visible diagnostic entries matching q, in insertion
// order. An empty query returns Logs().
func (s *Store) Search(q string) ([]model.LogEntry, error) {
	node, err := query.Parse(q)
	if err != nil {
		return nil, fmt.Errorf("invalid query syntax: %w", err)
	}

	visible := s.Logs()
	if node == nil {
		return visible, nil
	}

	result := make([]model.LogEntry, 0, len(visible))
	for i := range visible {
		if query.Match(node, &visible[i]) {
			result = append(result, visible[i])
		}
	}
	return result, nil
}
