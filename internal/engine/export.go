package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
)

// BundleVersion is the only bundle layout this package reads and writes.
const BundleVersion = 1

var (
	ErrExport = errors.New("export failed")
	ErrImport = errors.New("import failed")
)

// Bundle is the plaintext of an export file.
type Bundle struct {
	Version   int              `json:"version"`
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Count     int              `json:"count"`
	Digest    string           `json:"digest"`
	Entries   []model.LogEntry `json:"entries"`
}

// ExportHandle identifies a written export bundle.
type ExportHandle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int    `json:"size"`
}

// BundleName returns the blob name of the bundle with the given id.
func BundleName(id string) string {
	return "export_" + id + ".bundle"
}

// ExportLogs writes the currently retained diagnostic entries to a new
// encrypted bundle in the export store. The level threshold is not applied.
func (s *Store) ExportLogs(ctx context.Context) (ExportHandle, error) {
	entries := s.policy.visibleEntries(s.diagnostics.Snapshot(), s.now())
	digest, err := s.digest(entries)
	if err != nil {
		return ExportHandle{}, fmt.Errorf("%w: %w", ErrExport, err)
	}

	bundle := Bundle{
		Version:   BundleVersion,
		ID:        uuid.NewString(),
		CreatedAt: model.Timestamp(s.now()),
		Count:     len(entries),
		Digest:    digest,
		Entries:   entries,
	}

	raw, err := s.codec.Marshal(bundle)
	if err != nil {
		return ExportHandle{}, fmt.Errorf("%w: encoding bundle: %w", ErrExport, err)
	}
	framed, err := s.framer.Pack(raw)
	if err != nil {
		return ExportHandle{}, fmt.Errorf("%w: framing bundle: %w", ErrExport, err)
	}
	sealed, err := s.exportCipher.Encrypt(framed)
	if err != nil {
		return ExportHandle{}, fmt.Errorf("%w: encrypting bundle: %w", ErrExport, err)
	}

	name := BundleName(bundle.ID)
	if err := s.exports.Write(ctx, name, sealed); err != nil {
		return ExportHandle{}, fmt.Errorf("%w: writing %s: %w", ErrExport, name, err)
	}

	log.Info().Str("bundle", name).Int("entries", bundle.Count).Int("bytes", len(sealed)).Msg("diagnostic logs exported")
	return ExportHandle{ID: bundle.ID, Name: name, Size: len(sealed)}, nil
}

// ImportLogs reads the bundle named by h from the export store and merges
// its entries into the diagnostic stream.
func (s *Store) ImportLogs(ctx context.Context, h ExportHandle) ([]model.LogEntry, error) {
	name := h.Name
	if name == "" {
		if h.ID == "" {
			return nil, fmt.Errorf("%w: empty export handle", ErrImport)
		}
		name = BundleName(h.ID)
	}

	data, err := s.exports.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrImport, name, err)
	}
	return s.ImportBundle(ctx, data)
}

// ImportBundle decrypts and verifies an encrypted bundle, appends its entries
// to the diagnostic stream and returns exactly the entries added. Nothing is
// added unless the whole bundle verifies.
func (s *Store) ImportBundle(_ context.Context, data []byte) ([]model.LogEntry, error) {
	framed, err := s.exportCipher.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImport, err)
	}
	raw, err := s.framer.Unpack(framed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImport, err)
	}

	var bundle Bundle
	if err := s.codec.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("%w: decoding bundle: %w", ErrImport, err)
	}
	if bundle.Version != BundleVersion {
		return nil, fmt.Errorf("%w: unsupported bundle version %d", ErrImport, bundle.Version)
	}
	if bundle.Count != len(bundle.Entries) {
		return nil, fmt.Errorf("%w: bundle declares %d entries, contains %d", ErrImport, bundle.Count, len(bundle.Entries))
	}
	if bundle.Entries == nil {
		bundle.Entries = []model.LogEntry{}
	}
	digest, err := s.digest(bundle.Entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImport, err)
	}
	if digest != bundle.Digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrImport)
	}

	for i := range bundle.Entries {
		bundle.Entries[i].Timestamp = model.Timestamp(bundle.Entries[i].Timestamp)
		bundle.Entries[i].Level = bundle.Entries[i].Level.Clamp()
	}
	s.diagnostics.AppendAll(bundle.Entries)

	log.Info().Str("bundle", bundle.ID).Int("entries", len(bundle.Entries)).Msg("diagnostic logs imported")
	added := make([]model.LogEntry, len(bundle.Entries))
	copy(added, bundle.Entries)
	return added, nil
}

// digest returns the hex BLAKE3-256 of the codec encoding of entries.
func (s *Store) digest(entries []model.LogEntry) (string, error) {
	raw, err := s.codec.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encoding entries: %w", err)
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
