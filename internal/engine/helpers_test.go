package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/storage"
)

var testNow = time.Date(2026, 5, 15, 12, 0, 0, 0, time.UTC)

// plainCipher is an identity cipher so tests can inspect stored bytes.
type plainCipher struct{}

func (plainCipher) Encrypt(p []byte) ([]byte, error) { return append([]byte(nil), p...), nil }
func (plainCipher) Decrypt(c []byte) ([]byte, error) { return append([]byte(nil), c...), nil }

// flakyBlobs fails writes to one blob name.
type flakyBlobs struct {
	*storage.MemStore
	failName string
}

func (f *flakyBlobs) Write(ctx context.Context, name string, data []byte) error {
	if name == f.failName {
		return errors.New("disk full")
	}
	return f.MemStore.Write(ctx, name, data)
}

func openTestStore(t *testing.T, blobs storage.BlobStore, mutate ...func(*Options)) *Store {
	t.Helper()
	opts := Options{
		Blobs:            blobs,
		Cipher:           plainCipher{},
		Now:              func() time.Time { return testNow },
		DisableScheduler: true,
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	return s
}

func entryAt(ts time.Time, level model.Level, category, message string) model.LogEntry {
	return model.LogEntry{
		Timestamp: model.Timestamp(ts),
		Level:     level,
		Category:  category,
		Message:   message,
	}
}
