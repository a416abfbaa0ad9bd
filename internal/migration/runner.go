// Package migration upgrades the local store from the legacy phrase format,
// where ids were derived from content and metadata was missing.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/at-ishikawa/phrasebook/internal/errreport"
	"github.com/at-ishikawa/phrasebook/internal/kvstore"
	"github.com/at-ishikawa/phrasebook/internal/phrase"
	"github.com/at-ishikawa/phrasebook/internal/quiz"
	"github.com/at-ishikawa/phrasebook/internal/storage"
)

// CurrentSchemaVersion is the local data layout written by this build.
const CurrentSchemaVersion = 2

const (
	MarkerKey = "migration_marker"
	BackupKey = "migration_backup"
)

// ErrRestored is returned when a migration failed and the store was put back
// into its pre-migration state.
var ErrRestored = errors.New("migration failed, data restored from backup")

// keys are the values rewritten by a migration, in the order they are written.
var keys = []string{storage.KeyPhrases, storage.KeyCompletedIDs, storage.KeyIncorrectIDs, storage.KeyQuizStats}

type LogEntry struct {
	FromVersion int       `json:"fromVersion" yaml:"fromVersion"`
	ToVersion   int       `json:"toVersion" yaml:"toVersion"`
	MigratedAt  time.Time `json:"migratedAt" yaml:"migratedAt"`
	ItemCount   int       `json:"itemCount" yaml:"itemCount"`
}

// Marker is persisted under MarkerKey. A store without a marker is version 1.
type Marker struct {
	SchemaVersion   int        `json:"schemaVersion" yaml:"schemaVersion"`
	LastMigrationAt *time.Time `json:"lastMigrationAt,omitempty" yaml:"lastMigrationAt,omitempty"`
	MigrationLog    []LogEntry `json:"migrationLog" yaml:"migrationLog"`
}

// Report summarizes one Run.
type Report struct {
	FromVersion int
	ToVersion   int
	// Skipped is true when the store was already current.
	Skipped bool
	// IDMap maps legacy ids to their replacements.
	IDMap      map[string]string
	Phrases    int
	Backfilled int
	// Rejected counts phrases dropped because they failed validation.
	Rejected int
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(r *Runner) { r.newID = newID }
}

func WithReporter(reporter *errreport.Reporter) Option {
	return func(r *Runner) { r.reporter = reporter }
}

type Runner struct {
	store    kvstore.Store
	reporter *errreport.Reporter
	now      func() time.Time
	newID    func() string
}

func NewRunner(store kvstore.Store, opts ...Option) *Runner {
	r := &Runner{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadMarker reads the persisted marker.
func (r *Runner) LoadMarker(ctx context.Context) (Marker, error) {
	marker, ok, err := kvstore.GetJSON[Marker](ctx, r.store, MarkerKey)
	if err != nil {
		return Marker{}, fmt.Errorf("kvstore.GetJSON(%s) > %w", MarkerKey, err)
	}
	if !ok {
		return Marker{SchemaVersion: 1}, nil
	}
	return marker, nil
}

// Run migrates the store if its marker is older than CurrentSchemaVersion.
// Any failure restores every key from the backup taken before the first write
// and returns an error wrapping ErrRestored.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	marker, err := r.LoadMarker(ctx)
	if err != nil {
		r.report(err)
		return Report{}, err
	}
	report := Report{FromVersion: marker.SchemaVersion, ToVersion: CurrentSchemaVersion}
	if marker.SchemaVersion >= CurrentSchemaVersion {
		report.Skipped = true
		return report, nil
	}

	// A backup left behind means a previous run stopped midway.
	leftover, found, err := kvstore.GetJSON[map[string]json.RawMessage](ctx, r.store, BackupKey)
	if err != nil {
		err = fmt.Errorf("kvstore.GetJSON(%s) > %w", BackupKey, err)
		r.report(err)
		return report, err
	}
	if found {
		slog.Default().Warn("restoring backup of an interrupted migration")
		if err := r.restore(ctx, leftover); err != nil {
			err = fmt.Errorf("restore > %w", err)
			r.report(err)
			return report, err
		}
	}

	backup, err := r.snapshot(ctx)
	if err != nil {
		r.report(err)
		return report, err
	}
	if err := kvstore.SetJSON(ctx, r.store, BackupKey, backup); err != nil {
		err = fmt.Errorf("backup > %w", err)
		r.report(err)
		return report, err
	}

	slog.Default().Info("migrating local store",
		"fromVersion", marker.SchemaVersion,
		"toVersion", CurrentSchemaVersion)

	if err := r.migrate(ctx, backup, &report, marker); err != nil {
		if restoreErr := r.restore(ctx, backup); restoreErr != nil {
			err = errors.Join(err, fmt.Errorf("restore > %w", restoreErr))
		} else if deleteErr := r.store.Delete(ctx, BackupKey); deleteErr != nil {
			slog.Default().Warn("failed to delete migration backup", "error", deleteErr)
		}
		slog.Default().Error("migration failed, restored backup", "error", err)
		err = fmt.Errorf("%w: %w", ErrRestored, err)
		r.report(err)
		return report, err
	}

	if err := r.store.Delete(ctx, BackupKey); err != nil {
		slog.Default().Warn("failed to delete migration backup", "error", err)
	}
	slog.Default().Info("migration finished",
		"phrases", report.Phrases,
		"remapped", len(report.IDMap),
		"backfilled", report.Backfilled,
		"rejected", report.Rejected)
	return report, nil
}

// snapshot reads every migrated key. Absent keys are recorded as nil.
func (r *Runner) snapshot(ctx context.Context) (map[string]json.RawMessage, error) {
	backup := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		value, err := r.store.Get(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			backup[key] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store.Get(%s) > %w", key, err)
		}
		backup[key] = value
	}
	return backup, nil
}

func (r *Runner) restore(ctx context.Context, backup map[string]json.RawMessage) error {
	var errs []error
	for _, key := range keys {
		var err error
		if value := backup[key]; absent(value) {
			err = r.store.Delete(ctx, key)
		} else {
			err = r.store.Set(ctx, key, value)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) migrate(ctx context.Context, backup map[string]json.RawMessage, report *Report, marker Marker) error {
	now := r.now().UTC()
	idMap := map[string]string{}
	var phrases []phrase.Phrase

	if raw := backup[storage.KeyPhrases]; len(raw) > 0 {
		stored, err := phrase.DecodeStoredList(raw)
		if err != nil {
			return fmt.Errorf("phrase.DecodeStoredList() > %w", err)
		}
		phrases = make([]phrase.Phrase, 0, len(stored))
		for _, s := range stored {
			p := s.Phrase
			if s.Format == phrase.FormatLegacy {
				p = r.upgrade(p, idMap, now)
			}
			if err := phrase.Validate(p); err != nil {
				slog.Default().Warn("dropping invalid phrase", "id", p.ID, "error", err)
				if r.reporter != nil {
					r.reporter.Report(errreport.Migration, p.ID, err)
				}
				report.Rejected++
				continue
			}
			if s.MissingDefaults {
				report.Backfilled++
			}
			phrases = append(phrases, p)
		}
	}
	report.IDMap = idMap
	report.Phrases = len(phrases)

	values := make(map[string]json.RawMessage, len(keys))
	if backup[storage.KeyPhrases] != nil {
		data, err := phrase.EncodeList(phrases)
		if err != nil {
			return fmt.Errorf("phrase.EncodeList() > %w", err)
		}
		values[storage.KeyPhrases] = data
	}
	for _, key := range []string{storage.KeyCompletedIDs, storage.KeyIncorrectIDs} {
		raw := backup[key]
		if raw == nil {
			continue
		}
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return fmt.Errorf("json.Unmarshal(%s) > %w", key, err)
		}
		data, err := json.Marshal(remapIDs(ids, idMap))
		if err != nil {
			return fmt.Errorf("json.Marshal(%s) > %w", key, err)
		}
		values[key] = data
	}
	if raw := backup[storage.KeyQuizStats]; raw != nil {
		var stats map[string]quiz.Stat
		if err := json.Unmarshal(raw, &stats); err != nil {
			return fmt.Errorf("json.Unmarshal(%s) > %w", storage.KeyQuizStats, err)
		}
		data, err := json.Marshal(remapStats(stats, idMap))
		if err != nil {
			return fmt.Errorf("json.Marshal(%s) > %w", storage.KeyQuizStats, err)
		}
		values[storage.KeyQuizStats] = data
	}

	for _, key := range keys {
		value, ok := values[key]
		if !ok {
			continue
		}
		if err := r.store.Set(ctx, key, value); err != nil {
			return fmt.Errorf("store.Set(%s) > %w", key, err)
		}
	}

	marker.SchemaVersion = CurrentSchemaVersion
	marker.LastMigrationAt = &now
	marker.MigrationLog = append(marker.MigrationLog, LogEntry{
		FromVersion: report.FromVersion,
		ToVersion:   CurrentSchemaVersion,
		MigratedAt:  now,
		ItemCount:   len(phrases),
	})
	if err := kvstore.SetJSON(ctx, r.store, MarkerKey, marker); err != nil {
		return fmt.Errorf("marker > %w", err)
	}
	return nil
}

// upgrade gives a legacy phrase an opaque id and durable metadata. Phrases that
// shared a legacy id share the replacement.
func (r *Runner) upgrade(p phrase.Phrase, idMap map[string]string, now time.Time) phrase.Phrase {
	if p.ID == "" {
		p.ID = r.newID()
	} else if newID, ok := idMap[p.ID]; ok {
		p.ID = newID
	} else {
		newID := r.newID()
		idMap[p.ID] = newID
		p.ID = newID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return p
}

func remapIDs(ids []string, idMap map[string]string) []string {
	result := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if newID, ok := idMap[id]; ok {
			id = newID
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

func remapStats(stats map[string]quiz.Stat, idMap map[string]string) map[string]quiz.Stat {
	result := make(map[string]quiz.Stat, len(stats))
	for id, stat := range stats {
		if newID, ok := idMap[id]; ok {
			id = newID
		}
		if existing, ok := result[id]; ok {
			stat = quiz.Stat{
				Correct:        existing.Correct + stat.Correct,
				Incorrect:      existing.Incorrect + stat.Incorrect,
				LastAnsweredAt: later(existing.LastAnsweredAt, stat.LastAnsweredAt),
			}
		}
		result[id] = stat
	}
	return result
}

func absent(value json.RawMessage) bool {
	return len(value) == 0 || string(value) == "null"
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func (r *Runner) report(err error) {
	if r.reporter != nil {
		r.reporter.Report(errreport.Migration, MarkerKey, err)
	}
}
