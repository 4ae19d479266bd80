package cache

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/api"
	"github.com/quakewatch/quakewatch-go/internal/cache/migrations"
	_ "modernc.org/sqlite"
)

// SQLiteBackend stores the cache in a single SQLite database. Per-day writes
// and purges run inside one transaction so bucket metadata can never claim
// coverage for events that were not persisted.
type SQLiteBackend struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (creating if needed) the cache database at path and
// applies any pending schema migrations.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("database path is required")}
	}

	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &StoreError{Op: "open", Err: err}
		}
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, &StoreError{Op: "open", Err: err}
	}

	b := &SQLiteBackend{sqlDB: sqlDB}
	if err := b.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, &StoreError{Op: "migrate", Err: err}
	}
	return b, nil
}

// runMigrations applies embedded SQL migrations in filename order, at most
// once each.
func (b *SQLiteBackend) runMigrations() error {
	if _, err := b.sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var found int
		err := b.sqlDB.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, name).Scan(&found)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", name, err)
		}

		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := b.sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(upMigration(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// upMigration isolates the `-- +migrate Up` segment for execution.
func upMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len("-- +migrate Up"):]
	if downIdx := strings.Index(rest, "-- +migrate Down"); downIdx != -1 {
		rest = rest[:downIdx]
	}
	return rest
}

// GetMeta returns the bucket metadata for the composite key.
func (b *SQLiteBackend) GetMeta(key string) (BucketMeta, bool, error) {
	row := b.sqlDB.QueryRow(
		`SELECT bucket_key, day, fetched_at, event_count, min_magnitude, max_magnitude, region
		 FROM bucket_meta
		 WHERE bucket_key = ?`,
		key,
	)

	meta, err := scanMeta(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return BucketMeta{}, false, nil
		}
		return BucketMeta{}, false, &StoreError{Op: "get meta", Err: err}
	}
	return meta, true, nil
}

// AllMeta returns every bucket metadata row, ordered by key.
func (b *SQLiteBackend) AllMeta() ([]BucketMeta, error) {
	rows, err := b.sqlDB.Query(
		`SELECT bucket_key, day, fetched_at, event_count, min_magnitude, max_magnitude, region
		 FROM bucket_meta
		 ORDER BY bucket_key`,
	)
	if err != nil {
		return nil, &StoreError{Op: "list meta", Err: err}
	}
	defer rows.Close()

	metas := make([]BucketMeta, 0)
	for rows.Next() {
		meta, err := scanMeta(rows.Scan)
		if err != nil {
			return nil, &StoreError{Op: "scan meta", Err: err}
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "iterate meta", Err: err}
	}
	return metas, nil
}

func scanMeta(scan func(dest ...any) error) (BucketMeta, error) {
	var meta BucketMeta
	var fetchedAt int64
	if err := scan(
		&meta.Key,
		&meta.Day,
		&fetchedAt,
		&meta.EventCount,
		&meta.MinMagnitude,
		&meta.MaxMagnitude,
		&meta.Region,
	); err != nil {
		return BucketMeta{}, err
	}
	meta.FetchedAt = time.UnixMilli(fetchedAt).UTC()
	return meta, nil
}

// PutDay stores one day's events and upserts the bucket metadata in a single
// transaction.
func (b *SQLiteBackend) PutDay(meta BucketMeta, events []api.Event) error {
	tx, err := b.sqlDB.Begin()
	if err != nil {
		return &StoreError{Op: "put day", Err: err}
	}

	cachedAt := time.Now().UTC().UnixMilli()
	for _, ev := range events {
		var mag any
		if ev.Mag != nil {
			mag = *ev.Mag
		}
		if _, err := tx.Exec(
			`INSERT INTO events (id, day, time_ms, mag, place, url, longitude, latitude, depth_km, source, cached_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   day = excluded.day,
			   time_ms = excluded.time_ms,
			   mag = excluded.mag,
			   place = excluded.place,
			   url = excluded.url,
			   longitude = excluded.longitude,
			   latitude = excluded.latitude,
			   depth_km = excluded.depth_km,
			   source = excluded.source,
			   cached_at = excluded.cached_at`,
			ev.ID, meta.Day, ev.Time, mag, ev.Place, ev.URL,
			ev.Longitude, ev.Latitude, ev.DepthKm, ev.Source, cachedAt,
		); err != nil {
			_ = tx.Rollback()
			return &StoreError{Op: "put event", Err: err}
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO bucket_meta (bucket_key, day, fetched_at, event_count, min_magnitude, max_magnitude, region)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bucket_key) DO UPDATE SET
		   day = excluded.day,
		   fetched_at = excluded.fetched_at,
		   event_count = excluded.event_count,
		   min_magnitude = excluded.min_magnitude,
		   max_magnitude = excluded.max_magnitude,
		   region = excluded.region`,
		meta.Key, meta.Day, meta.FetchedAt.UTC().UnixMilli(),
		meta.EventCount, meta.MinMagnitude, meta.MaxMagnitude, meta.Region,
	); err != nil {
		_ = tx.Rollback()
		return &StoreError{Op: "put meta", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "put day", Err: err}
	}
	return nil
}

// EventsByDay returns all stored events tagged with the day bucket, in
// event-time order.
func (b *SQLiteBackend) EventsByDay(day string) ([]api.Event, error) {
	rows, err := b.sqlDB.Query(
		`SELECT id, time_ms, mag, place, url, longitude, latitude, depth_km, source
		 FROM events
		 WHERE day = ?
		 ORDER BY time_ms`,
		day,
	)
	if err != nil {
		return nil, &StoreError{Op: "events by day", Err: err}
	}
	defer rows.Close()

	events := make([]api.Event, 0)
	for rows.Next() {
		var ev api.Event
		var mag sql.NullFloat64
		if err := rows.Scan(
			&ev.ID, &ev.Time, &mag, &ev.Place, &ev.URL,
			&ev.Longitude, &ev.Latitude, &ev.DepthKm, &ev.Source,
		); err != nil {
			return nil, &StoreError{Op: "scan event", Err: err}
		}
		if mag.Valid {
			m := mag.Float64
			ev.Mag = &m
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "iterate events", Err: err}
	}
	return events, nil
}

// PurgeDay deletes the metadata row and every event tagged with its day in a
// single transaction.
func (b *SQLiteBackend) PurgeDay(metaKey, day string) (int, error) {
	tx, err := b.sqlDB.Begin()
	if err != nil {
		return 0, &StoreError{Op: "purge day", Err: err}
	}

	if _, err := tx.Exec(`DELETE FROM bucket_meta WHERE bucket_key = ?`, metaKey); err != nil {
		_ = tx.Rollback()
		return 0, &StoreError{Op: "purge meta", Err: err}
	}

	res, err := tx.Exec(`DELETE FROM events WHERE day = ?`, day)
	if err != nil {
		_ = tx.Rollback()
		return 0, &StoreError{Op: "purge events", Err: err}
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, &StoreError{Op: "purge events", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &StoreError{Op: "purge day", Err: err}
	}
	return int(deleted), nil
}

// Count returns the total number of stored events.
func (b *SQLiteBackend) Count() (int, error) {
	var count int
	if err := b.sqlDB.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return count, nil
}

// DayBounds returns the oldest and newest day buckets with events via the
// day index.
func (b *SQLiteBackend) DayBounds() (string, string, error) {
	var oldest, newest sql.NullString
	if err := b.sqlDB.QueryRow(`SELECT MIN(day), MAX(day) FROM events`).Scan(&oldest, &newest); err != nil {
		return "", "", &StoreError{Op: "day bounds", Err: err}
	}
	return oldest.String, newest.String, nil
}

// GetInfo returns the info singleton if one has been written.
func (b *SQLiteBackend) GetInfo() (Info, bool, error) {
	row := b.sqlDB.QueryRow(
		`SELECT total_events, oldest_day, newest_day, last_updated, version
		 FROM cache_info
		 WHERE id = 1`,
	)

	var info Info
	var lastUpdated int64
	if err := row.Scan(&info.TotalEvents, &info.OldestDay, &info.NewestDay, &lastUpdated, &info.Version); err != nil {
		if err == sql.ErrNoRows {
			return Info{}, false, nil
		}
		return Info{}, false, &StoreError{Op: "get info", Err: err}
	}
	info.LastUpdated = time.UnixMilli(lastUpdated).UTC()
	return info, true, nil
}

// PutInfo overwrites the info singleton.
func (b *SQLiteBackend) PutInfo(info Info) error {
	if _, err := b.sqlDB.Exec(
		`INSERT INTO cache_info (id, total_events, oldest_day, newest_day, last_updated, version)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   total_events = excluded.total_events,
		   oldest_day = excluded.oldest_day,
		   newest_day = excluded.newest_day,
		   last_updated = excluded.last_updated,
		   version = excluded.version`,
		info.TotalEvents, info.OldestDay, info.NewestDay,
		info.LastUpdated.UTC().UnixMilli(), info.Version,
	); err != nil {
		return &StoreError{Op: "put info", Err: err}
	}
	return nil
}

// ClearAll deletes all events, metadata and the info singleton atomically.
func (b *SQLiteBackend) ClearAll() error {
	tx, err := b.sqlDB.Begin()
	if err != nil {
		return &StoreError{Op: "clear all", Err: err}
	}
	for _, stmt := range []string{
		`DELETE FROM events`,
		`DELETE FROM bucket_meta`,
		`DELETE FROM cache_info`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return &StoreError{Op: "clear all", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "clear all", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	if b == nil || b.sqlDB == nil {
		return nil
	}
	return b.sqlDB.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
