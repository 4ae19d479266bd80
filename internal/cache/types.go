// Package cache provides the persistent, query-aware earthquake event cache.
//
// # Overview
//
// The cache stores events in calendar-day buckets so a date-range query can
// be answered partially from storage and partially from the upstream catalog.
// Coverage is tracked per (day, region, minMag, maxMag) tuple: two queries
// with different magnitude filters over the same day are distinct coverage
// and must be fetched separately.
//
// # Freshness Rules
//
//   - Days older than 28 days are historical: the catalog no longer revises
//     them, so their buckets never expire.
//   - Days within the last 28 days are recent: the catalog backfills and
//     revises them, so a bucket goes stale 24 hours after its fetch.
//
// # Flow
//
// Resolve classifies each day in a query as cached (fresh metadata exists;
// events are read from storage and magnitude-filtered) or stale (absent or
// expired metadata). Resolve never fetches. The caller fetches the stale
// days from the catalog and hands the events back to Store, which writes
// each day's events plus refreshed bucket metadata in one transaction and
// then recomputes the global info singleton.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/api"
	"github.com/quakewatch/quakewatch-go/internal/core"
)

// ErrInvalidQuery marks a query rejected before any work was performed.
var ErrInvalidQuery = errors.New("invalid query")

// StoreError wraps a persistent-storage I/O failure. The cache never retries
// these; callers may retry the whole operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Query selects events by inclusive day range, magnitude band and region
// scope. Queries are built per request and never persisted.
type Query struct {
	Start        time.Time
	End          time.Time
	MinMagnitude float64
	MaxMagnitude float64
	Region       string // core.RegionUS or core.RegionWorldwide
}

// Validate fails fast on an inverted date range or magnitude band. The cache
// does no clamping; fixing a crossed band is the caller's job.
func (q Query) Validate() error {
	if core.DateOnly(q.End).Before(core.DateOnly(q.Start)) {
		return fmt.Errorf("%w: end date %s before start date %s",
			ErrInvalidQuery, core.FormatDate(q.End), core.FormatDate(q.Start))
	}
	if q.MinMagnitude > q.MaxMagnitude {
		return fmt.Errorf("%w: min magnitude %v above max %v",
			ErrInvalidQuery, q.MinMagnitude, q.MaxMagnitude)
	}
	return nil
}

// Result is the outcome of resolving a query against the cache.
type Result struct {
	Events     []api.Event
	StaleDays  []string // days needing an external fetch
	CachedDays []string // days served from storage
	IsComplete bool     // true iff StaleDays is empty
}

// BucketMeta records one fetch of one (day, region, magnitude band) bucket.
// EventCount is the number of events stored by that fetch; re-fetches
// overwrite rather than accumulate.
type BucketMeta struct {
	Key          string // day|region|minMag|maxMag
	Day          string
	FetchedAt    time.Time
	EventCount   int
	MinMagnitude float64
	MaxMagnitude float64
	Region       string
}

// Info is the global cache singleton, recomputed in full after every
// mutation rather than patched incrementally.
type Info struct {
	TotalEvents int
	OldestDay   string
	NewestDay   string
	LastUpdated time.Time
	Version     int
}

// Stats is a derived summary of cache contents.
type Stats struct {
	TotalEvents      int
	HistoricalEvents int
	RecentEvents     int
	TotalDays        int
	StaleDays        int // distinct non-historical days with stale metadata
	SizeEstimateKB   int
}

// Operation labels the coordinator's current activity for UI feedback.
type Operation string

const (
	OpIdle       Operation = "idle"
	OpFetching   Operation = "fetching"
	OpStoring    Operation = "storing"
	OpValidating Operation = "validating"
	OpError      Operation = "error"
)

// Progress is a snapshot of a multi-step cache operation.
type Progress struct {
	Operation   Operation
	CurrentStep int
	TotalSteps  int
	Message     string
	StartedAt   time.Time
	CurrentDay  string
}

// ProgressFunc receives progress snapshots synchronously. Informational
// only; never used for control flow.
type ProgressFunc func(Progress)

// Backend is the interface for durable cache storage. Multi-partition
// mutations (PutDay, PurgeDay, ClearAll) must be atomic: either every write
// lands or none do.
type Backend interface {
	// GetMeta returns the bucket metadata for the composite key.
	GetMeta(key string) (BucketMeta, bool, error)

	// AllMeta returns every bucket metadata row.
	AllMeta() ([]BucketMeta, error)

	// PutDay stores one day's events (overwriting by id) and upserts the
	// bucket metadata in a single transaction.
	PutDay(meta BucketMeta, events []api.Event) error

	// EventsByDay returns all stored events tagged with the day bucket.
	EventsByDay(day string) ([]api.Event, error)

	// PurgeDay deletes the metadata row and every event tagged with its day
	// in a single transaction, returning the number of events removed.
	PurgeDay(metaKey, day string) (int, error)

	// Count returns the total number of stored events.
	Count() (int, error)

	// DayBounds returns the oldest and newest day buckets with events, or
	// empty strings when the store is empty.
	DayBounds() (oldest, newest string, err error)

	// GetInfo returns the info singleton if one has been written.
	GetInfo() (Info, bool, error)

	// PutInfo overwrites the info singleton.
	PutInfo(info Info) error

	// ClearAll deletes all events, metadata and the info singleton.
	ClearAll() error

	// Close releases the backend.
	Close() error
}
