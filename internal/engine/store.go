package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/pkg/codec"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/pkg/security"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/storage"
)

// Blob names of the persisted categories. They are part of the on-disk
// layout and must not change.
const (
	BlobMeshEvents        = "mesh_events.log"
	BlobUserActions       = "user_actions.log"
	BlobNetworkConditions = "network_conditions.log"
	BlobBatteryImpacts    = "battery_impacts.log"
	BlobInstallationSteps = "installation_steps.log"
	BlobProtestMetrics    = "protest_metrics.log"
	BlobDiagnosticLogs    = "diagnostic_logs.log"
)

// Options configures a Store. Blobs and Cipher are required.
type Options struct {
	Blobs  storage.BlobStore
	Cipher security.Cipher

	// Codec defaults to JSON; Framer defaults to zstd.
	Codec  codec.Codec
	Framer *storage.Framer

	// Exports receives export bundles; defaults to Blobs. ExportCipher
	// encrypts them; defaults to Cipher.
	Exports      storage.BlobStore
	ExportCipher security.Cipher

	Policy        Policy
	FlushInterval time.Duration
	Level         model.Level

	// Now is the clock used for visibility checks; defaults to time.Now.
	Now func() time.Time

	// DisableScheduler skips the periodic background flush.
	DisableScheduler bool
}

// Store is the encrypted, category-partitioned telemetry store. All methods
// are safe for concurrent use.
type Store struct {
	blobs        storage.BlobStore
	exports      storage.BlobStore
	cipher       security.Cipher
	exportCipher security.Cipher
	codec        codec.Codec
	framer       *storage.Framer
	policy       Policy
	now          func() time.Time

	diagnostics       *Stream[model.LogEntry]
	meshEvents        *Stream[model.MeshEvent]
	userActions       *Stream[model.UserAction]
	networkConditions *Stream[model.NetworkConditions]
	batteryImpacts    *Stream[model.BatteryImpact]
	installationSteps *Stream[model.InstallationStep]
	protestMetrics    *Stream[model.ProtestMetrics]
	categories        []category

	level atomic.Uint32

	// flushMu serializes flushes, ClearLogs and scheduler cycles.
	flushMu sync.Mutex

	scheduler *Scheduler
	closeOnce sync.Once

	flushes       atomic.Int64
	flushFailures atomic.Int64
	corrupted     atomic.Int64
	lastFlush     atomic.Int64 // unix nanos, zero before the first flush
}

// Open builds a Store, loads every persisted category and starts the flush
// scheduler unless disabled.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Blobs == nil {
		return nil, errors.New("engine: blob store is required")
	}
	if opts.Cipher == nil {
		return nil, errors.New("engine: cipher is required")
	}
	if !opts.Level.Valid() {
		return nil, errors.New("engine: invalid initial level")
	}

	s := &Store{
		blobs:        opts.Blobs,
		exports:      opts.Exports,
		cipher:       opts.Cipher,
		exportCipher: opts.ExportCipher,
		codec:        opts.Codec,
		framer:       opts.Framer,
		policy:       opts.Policy.withDefaults(),
		now:          opts.Now,

		diagnostics:       NewStream[model.LogEntry](BlobDiagnosticLogs),
		meshEvents:        NewStream[model.MeshEvent](BlobMeshEvents),
		userActions:       NewStream[model.UserAction](BlobUserActions),
		networkConditions: NewStream[model.NetworkConditions](BlobNetworkConditions),
		batteryImpacts:    NewStream[model.BatteryImpact](BlobBatteryImpacts),
		installationSteps: NewStream[model.InstallationStep](BlobInstallationSteps),
		protestMetrics:    NewStream[model.ProtestMetrics](BlobProtestMetrics),
	}
	if s.exports == nil {
		s.exports = s.blobs
	}
	if s.exportCipher == nil {
		s.exportCipher = s.cipher
	}
	if s.codec == nil {
		s.codec = codec.JSON{}
	}
	if s.framer == nil {
		f, err := storage.NewFramer(storage.CompressionZstd)
		if err != nil {
			return nil, err
		}
		s.framer = f
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.level.Store(uint32(opts.Level))

	s.categories = []category{
		s.meshEvents,
		s.userActions,
		s.networkConditions,
		s.batteryImpacts,
		s.installationSteps,
		s.protestMetrics,
		s.diagnostics,
	}

	for _, c := range s.categories {
		s.loadCategory(ctx, c)
	}

	s.scheduler = NewScheduler(opts.FlushInterval, s.scheduledFlush)
	if !opts.DisableScheduler {
		s.scheduler.Start(context.WithoutCancel(ctx))
	}

	log.Info().
		Str("codec", s.codec.Name()).
		Str("compression", s.framer.Compression().String()).
		Int("diagnostic_entries", s.diagnostics.Len()).
		Dur("flush_interval", s.scheduler.Interval()).
		Bool("scheduler", !opts.DisableScheduler).
		Msg("telemetry store opened")
	return s, nil
}

func (s *Store) scheduledFlush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.persistAll(ctx)
}

// Log records a diagnostic entry. Entries are always stored; the level only
// affects reads. An out-of-range level is stored as FULL.
func (s *Store) Log(entry model.LogEntry) {
	entry.Timestamp = model.Timestamp(entry.Timestamp)
	entry.Level = entry.Level.Clamp()
	s.diagnostics.Append(entry)
}

// RecordMeshEvent appends a mesh event.
func (s *Store) RecordMeshEvent(e model.MeshEvent) {
	e.Timestamp = model.Timestamp(e.Timestamp)
	s.meshEvents.Append(e)
}

// RecordUserAction appends a user action.
func (s *Store) RecordUserAction(a model.UserAction) {
	a.Timestamp = model.Timestamp(a.Timestamp)
	s.userActions.Append(a)
}

// RecordNetworkConditions appends a network sample.
func (s *Store) RecordNetworkConditions(n model.NetworkConditions) {
	n.Timestamp = model.Timestamp(n.Timestamp)
	s.networkConditions.Append(n)
}

// RecordBatteryImpact appends a battery sample.
func (s *Store) RecordBatteryImpact(b model.BatteryImpact) {
	b.Timestamp = model.Timestamp(b.Timestamp)
	s.batteryImpacts.Append(b)
}

// RecordInstallationStep appends an installation step outcome.
func (s *Store) RecordInstallationStep(st model.InstallationStep) {
	st.Timestamp = model.Timestamp(st.Timestamp)
	s.installationSteps.Append(st)
}

// RecordProtestMetrics appends a protest-mode sample.
func (s *Store) RecordProtestMetrics(p model.ProtestMetrics) {
	p.Timestamp = model.Timestamp(p.Timestamp)
	s.protestMetrics.Append(p)
}

// SetLevel changes the read threshold. It does not modify stored entries.
func (s *Store) SetLevel(level model.Level) {
	if !level.Valid() {
		log.Warn().Uint8("level", uint8(level)).Msg("ignoring invalid log level")
		return
	}
	s.level.Store(uint32(level))
}

// Level returns the current read threshold.
func (s *Store) Level() model.Level {
	return model.Level(s.level.Load())
}

// Logs returns the diagnostic entries at or below the current level that
// are inside the retention window and the current rotation period, in
// insertion order.
func (s *Store) Logs() []model.LogEntry {
	threshold := s.Level()
	now := s.now()
	all := s.diagnostics.Snapshot()

	out := make([]model.LogEntry, 0, len(all))
	for _, e := range all {
		if e.Level > threshold {
			continue
		}
		if !s.policy.Visible(e.Timestamp, now) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ClearLogs empties the diagnostic stream and removes its blob. Typed
// streams are untouched.
func (s *Store) ClearLogs(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.diagnostics.Clear()
	if err := s.blobs.Delete(ctx, s.diagnostics.Name()); err != nil {
		log.Error().Err(err).Str("category", s.diagnostics.Name()).Msg("failed to delete diagnostic log file")
		return
	}
	log.Info().Msg("diagnostic logs cleared")
}

// Flush persists every category now.
func (s *Store) Flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.persistAll(ctx)
}

// Close stops the scheduler and performs a final flush. Later calls do
// nothing.
func (s *Store) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.scheduler.Stop()
		s.Flush(ctx)
		log.Info().Msg("telemetry store closed")
	})
}

// MeshEvents returns a snapshot of recorded mesh events.
func (s *Store) MeshEvents() []model.MeshEvent { return s.meshEvents.Snapshot() }

// UserActions returns a snapshot of recorded user actions.
func (s *Store) UserActions() []model.UserAction { return s.userActions.Snapshot() }

// NetworkConditions returns a snapshot of recorded network samples.
func (s *Store) NetworkConditions() []model.NetworkConditions {
	return s.networkConditions.Snapshot()
}

// BatteryImpacts returns a snapshot of recorded battery samples.
func (s *Store) BatteryImpacts() []model.BatteryImpact { return s.batteryImpacts.Snapshot() }

// InstallationSteps returns a snapshot of recorded installation steps.
func (s *Store) InstallationSteps() []model.InstallationStep {
	return s.installationSteps.Snapshot()
}

// ProtestMetrics returns a snapshot of recorded protest-mode samples.
func (s *Store) ProtestMetrics() []model.ProtestMetrics { return s.protestMetrics.Snapshot() }

// Policy returns the effective visibility policy.
func (s *Store) Policy() Policy {
	return s.policy
}
