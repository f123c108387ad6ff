package engine

import (
	"sync"
	"sync/atomic"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/pkg/codec"
)

const initialStreamCap = 256

// Stream is the in-memory buffer of one telemetry category. Appends never do
// I/O; persistence works on snapshots.
type Stream[T any] struct {
	mu    sync.RWMutex
	name  string
	items []T

	appended atomic.Int64 // lifetime appends, for stats
}

// NewStream creates an empty stream persisted under the blob name.
func NewStream[T any](name string) *Stream[T] {
	return &Stream[T]{
		name:  name,
		items: make([]T, 0, initialStreamCap),
	}
}

// Name returns the stable blob name of the stream.
func (s *Stream[T]) Name() string {
	return s.name
}

// Append adds one record.
func (s *Stream[T]) Append(v T) {
	s.mu.Lock()
	s.items = append(s.items, v)
	s.mu.Unlock()
	s.appended.Add(1)
}

// AppendAll adds records in order.
func (s *Stream[T]) AppendAll(vs []T) {
	if len(vs) == 0 {
		return
	}
	s.mu.Lock()
	s.items = append(s.items, vs...)
	s.mu.Unlock()
	s.appended.Add(int64(len(vs)))
}

// Snapshot returns a copy of the current contents in insertion order. The
// result is never nil.
func (s *Stream[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// ReplaceAll overwrites the contents with vs.
func (s *Stream[T]) ReplaceAll(vs []T) {
	items := make([]T, len(vs), max(len(vs), initialStreamCap))
	copy(items, vs)
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

// Clear drops every record.
func (s *Stream[T]) Clear() {
	s.mu.Lock()
	s.items = make([]T, 0, initialStreamCap)
	s.mu.Unlock()
}

// Len returns the number of buffered records.
func (s *Stream[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Appended returns the number of records appended since creation.
func (s *Stream[T]) Appended() int64 {
	return s.appended.Load()
}

// RetainFunc keeps only the records for which keep returns true and reports
// how many were removed.
func (s *Stream[T]) RetainFunc(keep func(T) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	for _, v := range s.items {
		if keep(v) {
			kept = append(kept, v)
		}
	}
	removed := len(s.items) - len(kept)
	// Zero the tail so dropped records can be collected.
	var zero T
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = zero
	}
	s.items = kept
	return removed
}

// encode marshals a snapshot of the stream.
func (s *Stream[T]) encode(c codec.Codec) ([]byte, error) {
	return c.Marshal(s.Snapshot())
}

// decode replaces the stream contents with the records in data.
func (s *Stream[T]) decode(c codec.Codec, data []byte) error {
	var items []T
	if err := c.Unmarshal(data, &items); err != nil {
		return err
	}
	s.ReplaceAll(items)
	return nil
}

// category is the type-erased view of a Stream used by persistence.
type category interface {
	Name() string
	Len() int
	Appended() int64
	Clear()
	encode(c codec.Codec) ([]byte, error)
	decode(c codec.Codec, data []byte) error
}
