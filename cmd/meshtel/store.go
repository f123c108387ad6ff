package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog/log"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/config"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/engine"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/pkg/codec"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/pkg/security"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/registry"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/storage"
)

// shutdownTimeout bounds the final flush.
const shutdownTimeout = 5 * time.Second

// openStore is one store plus the resources it owns.
type openStore struct {
	store  *engine.Store
	closer io.Closer
}

// stores shares one engine per data directory within the process.
var stores = registry.New[*openStore]()

// acquireStore opens (or reuses) the store for cfg. The returned release
// function flushes and closes it once the last user is done.
func acquireStore(ctx context.Context, cfg *config.Config, scheduler bool) (*engine.Store, func(), error) {
	key, err := filepath.Abs(cfg.Store.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving data dir: %w", err)
	}

	h, err := stores.Acquire(key, func() (*openStore, error) {
		return openFromConfig(ctx, cfg, scheduler)
	})
	if err != nil {
		return nil, nil, err
	}

	release := func() {
		stores.Release(key, func(h *openStore) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			h.store.Close(shutdownCtx)
			if h.closer != nil {
				if err := h.closer.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close blob store")
				}
			}
		})
	}
	return h.store, release, nil
}

func openFromConfig(ctx context.Context, cfg *config.Config, scheduler bool) (*openStore, error) {
	opts, closer, err := buildOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts.DisableScheduler = !scheduler

	store, err := engine.Open(ctx, opts)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	return &openStore{store: store, closer: closer}, nil
}

// buildOptions turns configuration into engine options. The returned closer,
// if any, owns the blob store.
func buildOptions(ctx context.Context, cfg *config.Config) (engine.Options, io.Closer, error) {
	sc := cfg.Store

	masterKey, generated, err := security.LoadOrCreateKey(cfg.Security.KeyFile, cfg.Security.KeyEnv)
	if err != nil {
		return engine.Options{}, nil, err
	}
	if generated {
		log.Info().Str("path", cfg.Security.KeyFile).Msg("generated new device key")
	}

	streamCipher, err := security.NewBoxCipher(masterKey, security.PurposeStreams)
	if err != nil {
		return engine.Options{}, nil, err
	}
	exportCipher, err := buildExportCipher(cfg, masterKey)
	if err != nil {
		return engine.Options{}, nil, err
	}

	c, err := codec.ByName(sc.Codec)
	if err != nil {
		return engine.Options{}, nil, err
	}
	compression, err := storage.ParseCompression(sc.Compression)
	if err != nil {
		return engine.Options{}, nil, err
	}
	framer, err := storage.NewFramer(compression)
	if err != nil {
		return engine.Options{}, nil, err
	}
	rotation, err := engine.ParseRotation(sc.Rotation)
	if err != nil {
		return engine.Options{}, nil, err
	}
	loc, err := time.LoadLocation(sc.Location)
	if err != nil {
		return engine.Options{}, nil, err
	}
	level, err := model.ParseLevel(sc.Level)
	if err != nil {
		return engine.Options{}, nil, err
	}

	exports, err := storage.NewDirStore(cfg.Export.Dir)
	if err != nil {
		return engine.Options{}, nil, err
	}

	var (
		blobs  storage.BlobStore
		closer io.Closer
	)
	switch sc.Backend {
	case "sqlite":
		db, err := storage.OpenSQLiteStore(ctx, sc.SQLitePath)
		if err != nil {
			return engine.Options{}, nil, err
		}
		blobs, closer = db, db
	default:
		dir, err := storage.NewDirStore(sc.DataDir)
		if err != nil {
			return engine.Options{}, nil, err
		}
		blobs = dir
	}

	return engine.Options{
		Blobs:        blobs,
		Cipher:       streamCipher,
		Codec:        c,
		Framer:       framer,
		Exports:      exports,
		ExportCipher: exportCipher,
		Policy: engine.Policy{
			Retention: sc.Retention,
			Rotation:  rotation,
			Location:  loc,
		},
		FlushInterval: sc.FlushInterval,
		Level:         level,
	}, closer, nil
}

// buildExportCipher encrypts bundles to the configured age recipients, or
// with a key derived from the device key when there are none.
func buildExportCipher(cfg *config.Config, masterKey []byte) (security.Cipher, error) {
	if len(cfg.Export.Recipients) == 0 {
		return security.NewBoxCipher(masterKey, security.PurposeExport)
	}

	var identities []age.Identity
	if cfg.Export.IdentityFile != "" {
		ids, err := security.LoadAgeIdentities(cfg.Export.IdentityFile)
		if err != nil {
			return nil, err
		}
		identities = ids
	}
	return security.NewAgeCipher(cfg.Export.Recipients, identities)
}
