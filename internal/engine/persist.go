package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/storage"
)

// seal turns plaintext into the stored representation: frame then encrypt.
func (s *Store) seal(raw []byte) ([]byte, error) {
	framed, err := s.framer.Pack(raw)
	if err != nil {
		return nil, fmt.Errorf("framing: %w", err)
	}
	sealed, err := s.cipher.Encrypt(framed)
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	return sealed, nil
}

// open reverses seal.
func (s *Store) open(data []byte) ([]byte, error) {
	framed, err := s.cipher.Decrypt(data)
	if err != nil {
		return nil, err
	}
	return s.framer.Unpack(framed)
}

// saveCategory writes a full snapshot of c, replacing its blob.
func (s *Store) saveCategory(ctx context.Context, c category) error {
	raw, err := c.encode(s.codec)
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	sealed, err := s.seal(raw)
	if err != nil {
		return err
	}
	return s.blobs.Write(ctx, c.Name(), sealed)
}

// loadCategory restores c from its blob. A blob that cannot be decrypted,
// unframed or decoded is deleted and c stays empty.
func (s *Store) loadCategory(ctx context.Context, c category) {
	name := c.Name()
	data, err := s.blobs.Read(ctx, name)
	if errors.Is(err, storage.ErrNotExist) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("category", name).Msg("unable to read persisted telemetry, starting empty")
		return
	}

	raw, err := s.open(data)
	if err == nil {
		err = c.decode(s.codec, raw)
	}
	if err != nil {
		c.Clear()
		s.corrupted.Add(1)
		log.Warn().Err(err).Str("category", name).Msg("corrupted telemetry file discarded")
		if derr := s.blobs.Delete(ctx, name); derr != nil {
			log.Error().Err(derr).Str("category", name).Msg("failed to delete corrupted telemetry file")
		}
		return
	}
	log.Debug().Str("category", name).Int("entries", c.Len()).Msg("telemetry loaded")
}

// persistAll saves every category. Failures are logged per category and do
// not stop the cycle. The caller holds flushMu.
func (s *Store) persistAll(ctx context.Context) {
	start := time.Now()
	failed := 0
	for _, c := range s.categories {
		if err := s.saveCategory(ctx, c); err != nil {
			failed++
			s.flushFailures.Add(1)
			log.Error().Err(err).Str("category", c.Name()).Msg("failed to persist telemetry")
		}
	}
	s.flushes.Add(1)
	s.lastFlush.Store(s.now().UnixNano())
	log.Debug().
		Int("categories", len(s.categories)).
		Int("failed", failed).
		Dur("took", time.Since(start)).
		Msg("telemetry flushed")
}
