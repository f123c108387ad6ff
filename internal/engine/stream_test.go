package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/pkg/codec"
)

func TestStream_AppendSnapshot(t *testing.T) {
	s := NewStream[int]("numbers.log")
	assert.Equal(t, "numbers.log", s.Name())

	empty := s.Snapshot()
	require.NotNil(t, empty)
	assert.Empty(t, empty)

	for i := 0; i < 5; i++ {
		s.Append(i)
	}
	snap := s.Snapshot()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, snap)

	// Snapshots are copies.
	snap[0] = 99
	assert.Equal(t, 0, s.Snapshot()[0])
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, int64(5), s.Appended())
}

func TestStream_ReplaceAppendAllClear(t *testing.T) {
	s := NewStream[string]("words.log")
	s.Append("a")
	s.ReplaceAll([]string{"x", "y"})
	assert.Equal(t, []string{"x", "y"}, s.Snapshot())

	s.AppendAll([]string{"z"})
	assert.Equal(t, []string{"x", "y", "z"}, s.Snapshot())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []string{}, s.Snapshot())
}

func TestStream_RetainFunc(t *testing.T) {
	s := NewStream[int]("numbers.log")
	s.AppendAll([]int{1, 2, 3, 4, 5, 6})

	removed := s.RetainFunc(func(v int) bool { return v%2 == 0 })
	assert.Equal(t, 3, removed)
	assert.Equal(t, []int{2, 4, 6}, s.Snapshot())
}

func TestStream_ConcurrentAppend(t *testing.T) {
	s := NewStream[int]("numbers.log")
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Append(i)
				if i%50 == 0 {
					_ = s.Snapshot()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, s.Len())
}

func TestStream_EncodeDecode(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSON{}, codec.CBOR()} {
		t.Run(c.Name(), func(t *testing.T) {
			src := NewStream[string]("words.log")
			src.AppendAll([]string{"mesh", "relay"})
			data, err := src.encode(c)
			require.NoError(t, err)

			dst := NewStream[string]("words.log")
			dst.Append("stale")
			require.NoError(t, dst.decode(c, data))
			assert.Equal(t, []string{"mesh", "relay"}, dst.Snapshot())

			// Empty streams encode as an empty list, not null.
			empty, err := NewStream[string]("e.log").encode(c)
			require.NoError(t, err)
			require.NoError(t, dst.decode(c, empty))
			assert.Equal(t, 0, dst.Len())
		})
	}
}
