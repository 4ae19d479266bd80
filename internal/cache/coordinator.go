package cache

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/api"
	"github.com/quakewatch/quakewatch-go/internal/core"
)

// Coordinator orchestrates reads and writes against the cache backend.
//
// # Features
//
//   - Resolves a query into cached days (served from storage) and stale days
//     (returned to the caller for external fetching)
//   - Stores fetched events day by day, each day's events plus refreshed
//     bucket metadata in one transaction
//   - Maintains the global info singleton by full recompute after every
//     mutation
//   - Maintenance: clear everything, or clear only stale recent buckets
//
// Resolve and Store are not safe to interleave for overlapping days; each
// day's write is atomic but there is no cross-call mutual exclusion, so
// concurrent stores interleave at day granularity (last metadata write wins).
type Coordinator struct {
	backend Backend
	loc     *time.Location
	verbose bool

	// now is the clock used for freshness decisions and fetch stamps.
	// Overridden in tests.
	now func() time.Time

	progressMu sync.Mutex
	progress   Progress
}

// NewCoordinator creates a cache coordinator over the given backend.
// If loc is nil, day buckets are derived in UTC.
func NewCoordinator(backend Backend, loc *time.Location, verbose bool) *Coordinator {
	if loc == nil {
		loc = time.UTC
	}
	return &Coordinator{
		backend:  backend,
		loc:      loc,
		verbose:  verbose,
		now:      time.Now,
		progress: Progress{Operation: OpIdle},
	}
}

// log writes a debug message if verbose mode is enabled.
func (c *Coordinator) log(msg string) {
	core.Eprint(fmt.Sprintf("[Cache] %s", msg), c.verbose)
}

// Resolve answers a query from storage as far as freshness allows. Days with
// absent or stale bucket metadata are returned in StaleDays for the caller
// to fetch; fresh days are read and magnitude-filtered. Resolve never
// triggers network activity.
func (c *Coordinator) Resolve(q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	now := c.now()
	result := &Result{
		Events:     make([]api.Event, 0),
		StaleDays:  make([]string, 0),
		CachedDays: make([]string, 0),
	}

	for _, day := range EnumerateDays(q.Start, q.End) {
		key := BucketKey(day, q.Region, q.MinMagnitude, q.MaxMagnitude)

		meta, ok, err := c.backend.GetMeta(key)
		if err != nil {
			return nil, err
		}
		if !ok || IsStale(meta.FetchedAt, day, now) {
			result.StaleDays = append(result.StaleDays, day)
			continue
		}

		result.CachedDays = append(result.CachedDays, day)

		events, err := c.backend.EventsByDay(day)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			mag := ev.Magnitude(core.MissingMagnitude)
			if mag >= q.MinMagnitude && mag <= q.MaxMagnitude {
				result.Events = append(result.Events, ev)
			}
		}
	}

	result.IsComplete = len(result.StaleDays) == 0
	c.log(fmt.Sprintf("Resolve: %d cached days, %d stale days, %d events",
		len(result.CachedDays), len(result.StaleDays), len(result.Events)))
	return result, nil
}

// Store persists fetched events under the query's bucket parameters. Events
// are grouped by day bucket and written in ascending day order, one
// transaction per day; later writes for the same event id replace earlier
// ones, so re-fetching is idempotent. onProgress, when non-nil, is invoked
// synchronously once per day.
func (c *Coordinator) Store(events []api.Event, q Query, onProgress ProgressFunc) error {
	if err := q.Validate(); err != nil {
		return err
	}

	byDay := make(map[string][]api.Event)
	for _, ev := range events {
		day := DayKeyOf(ev.Time, c.loc)
		byDay[day] = append(byDay[day], ev)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	startedAt := c.now()
	for i, day := range days {
		snapshot := Progress{
			Operation:   OpStoring,
			CurrentStep: i + 1,
			TotalSteps:  len(days),
			Message:     fmt.Sprintf("Caching %s...", day),
			StartedAt:   startedAt,
			CurrentDay:  day,
		}
		c.setProgress(snapshot)
		if onProgress != nil {
			onProgress(snapshot)
		}

		dayEvents := byDay[day]
		meta := BucketMeta{
			Key:          BucketKey(day, q.Region, q.MinMagnitude, q.MaxMagnitude),
			Day:          day,
			FetchedAt:    c.now(),
			EventCount:   len(dayEvents),
			MinMagnitude: q.MinMagnitude,
			MaxMagnitude: q.MaxMagnitude,
			Region:       q.Region,
		}
		if err := c.backend.PutDay(meta, dayEvents); err != nil {
			c.failProgress(err)
			return err
		}
		c.log(fmt.Sprintf("Cached %d events for %s", len(dayEvents), day))
	}

	if err := c.recomputeInfo(); err != nil {
		c.failProgress(err)
		return err
	}

	c.setProgress(Progress{Operation: OpIdle})
	return nil
}

// ClearAll deletes all cached events, bucket metadata and the info
// singleton.
func (c *Coordinator) ClearAll() error {
	if err := c.backend.ClearAll(); err != nil {
		return err
	}
	c.log("Cache cleared")
	return nil
}

// ClearStale purges every stale non-historical bucket: its metadata row and
// all events for its day. Deletion is day-granular on purpose; stale recency
// data for a day is untrustworthy in its entirety, regardless of which
// magnitude filter stored it. Returns the number of events removed.
func (c *Coordinator) ClearStale() (int, error) {
	metas, err := c.backend.AllMeta()
	if err != nil {
		return 0, err
	}

	now := c.now()
	cleared := 0
	for _, meta := range metas {
		if IsHistorical(meta.Day, now) {
			continue
		}
		if !IsStale(meta.FetchedAt, meta.Day, now) {
			continue
		}
		deleted, err := c.backend.PurgeDay(meta.Key, meta.Day)
		if err != nil {
			return cleared, err
		}
		cleared += deleted
		c.log(fmt.Sprintf("Purged stale bucket %s (%d events)", meta.Key, deleted))
	}

	if err := c.recomputeInfo(); err != nil {
		return cleared, err
	}
	return cleared, nil
}

// Stats derives a summary from the bucket metadata: historical vs recent
// event counts, distinct covered days, and how many distinct recent days
// currently have stale coverage. The size figure is the 500-bytes-per-event
// heuristic, not a measurement.
func (c *Coordinator) Stats() (Stats, error) {
	metas, err := c.backend.AllMeta()
	if err != nil {
		return Stats{}, err
	}

	now := c.now()
	seenDays := make(map[string]bool)
	var stats Stats

	for _, meta := range metas {
		if seenDays[meta.Day] {
			continue
		}
		seenDays[meta.Day] = true

		if IsHistorical(meta.Day, now) {
			stats.HistoricalEvents += meta.EventCount
		} else {
			stats.RecentEvents += meta.EventCount
			if IsStale(meta.FetchedAt, meta.Day, now) {
				stats.StaleDays++
			}
		}
	}

	stats.TotalEvents = stats.HistoricalEvents + stats.RecentEvents
	stats.TotalDays = len(seenDays)
	stats.SizeEstimateKB = int(math.Round(float64(stats.TotalEvents*core.EventSizeEstimateBytes) / 1024))
	return stats, nil
}

// Info returns the stored global singleton, or a zero-value snapshot when
// the cache has never been written.
func (c *Coordinator) Info() (Info, error) {
	info, ok, err := c.backend.GetInfo()
	if err != nil {
		return Info{}, err
	}
	if !ok {
		return Info{Version: core.SchemaVersion}, nil
	}
	return info, nil
}

// recomputeInfo rebuilds the info singleton by scanning the store. Full
// recompute after every mutation trades write cost for zero drift.
func (c *Coordinator) recomputeInfo() error {
	c.setProgress(Progress{Operation: OpValidating, Message: "Updating cache info...", StartedAt: c.now()})

	count, err := c.backend.Count()
	if err != nil {
		return err
	}
	oldest, newest, err := c.backend.DayBounds()
	if err != nil {
		return err
	}
	return c.backend.PutInfo(Info{
		TotalEvents: count,
		OldestDay:   oldest,
		NewestDay:   newest,
		LastUpdated: c.now(),
		Version:     core.SchemaVersion,
	})
}

// Progress returns the latest operation snapshot.
func (c *Coordinator) Progress() Progress {
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	return c.progress
}

// SetOperation records an externally driven phase, e.g. the caller reporting
// "fetching" before handing events to Store.
func (c *Coordinator) SetOperation(op Operation, message string) {
	c.setProgress(Progress{Operation: op, Message: message, StartedAt: c.now()})
}

func (c *Coordinator) setProgress(p Progress) {
	c.progressMu.Lock()
	c.progress = p
	c.progressMu.Unlock()
}

func (c *Coordinator) failProgress(err error) {
	c.setProgress(Progress{Operation: OpError, Message: err.Error(), StartedAt: c.now()})
}

// Backend returns the cache backend (for testing).
func (c *Coordinator) Backend() Backend {
	return c.backend
}
