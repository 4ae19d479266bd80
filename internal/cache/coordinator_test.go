package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/api"
	"github.com/quakewatch/quakewatch-go/internal/core"
)

// Pinned clock for every coordinator test.
var testNow = time.Date(2024, 7, 30, 12, 0, 0, 0, time.UTC)

func newTestCoordinator() *Coordinator {
	c := NewCoordinator(NewMemoryBackend(), time.UTC, false)
	c.now = func() time.Time { return testNow }
	return c
}

// mkEvent builds a test event on the given day at the given hour. A negative
// magnitude yields a nil magnitude.
func mkEvent(id, day string, hour int, mag float64) api.Event {
	d, _ := time.ParseInLocation(core.APIDateFmt, day, time.UTC)
	ev := api.Event{
		ID:     id,
		Time:   d.Add(time.Duration(hour) * time.Hour).UnixMilli(),
		Place:  "test place",
		Source: "usgs",
	}
	if mag >= 0 {
		ev.Mag = &mag
	}
	return ev
}

func dayQuery(day string, minMag, maxMag float64) Query {
	d, _ := time.ParseInLocation(core.APIDateFmt, day, time.UTC)
	return Query{Start: d, End: d, MinMagnitude: minMag, MaxMagnitude: maxMag, Region: core.RegionUS}
}

func rangeQuery(start, end string, minMag, maxMag float64) Query {
	s, _ := time.ParseInLocation(core.APIDateFmt, start, time.UTC)
	e, _ := time.ParseInLocation(core.APIDateFmt, end, time.UTC)
	return Query{Start: s, End: e, MinMagnitude: minMag, MaxMagnitude: maxMag, Region: core.RegionUS}
}

func TestResolveEmptyCache(t *testing.T) {
	c := newTestCoordinator()

	result, err := c.Resolve(rangeQuery("2024-07-28", "2024-07-30", 2.5, 10))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.IsComplete {
		t.Error("Expected incomplete result on empty cache")
	}
	if len(result.StaleDays) != 3 {
		t.Errorf("Expected 3 stale days, got %v", result.StaleDays)
	}
	if len(result.Events) != 0 || len(result.CachedDays) != 0 {
		t.Errorf("Expected no events and no cached days, got %d/%d", len(result.Events), len(result.CachedDays))
	}
}

func TestResolveInvalidQuery(t *testing.T) {
	c := newTestCoordinator()

	_, err := c.Resolve(rangeQuery("2024-07-30", "2024-07-28", 2.5, 10))
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("Expected ErrInvalidQuery for inverted range, got %v", err)
	}

	_, err = c.Resolve(rangeQuery("2024-07-28", "2024-07-30", 5, 3))
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("Expected ErrInvalidQuery for crossed magnitude band, got %v", err)
	}
}

func TestStoreThenResolveComplete(t *testing.T) {
	c := newTestCoordinator()
	query := rangeQuery("2024-07-29", "2024-07-30", 2.5, 10)

	events := []api.Event{
		mkEvent("ev1", "2024-07-29", 3, 4.2),
		mkEvent("ev2", "2024-07-30", 8, 3.1),
	}
	if err := c.Store(events, query, nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	result, err := c.Resolve(query)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !result.IsComplete {
		t.Errorf("Expected complete result, stale days: %v", result.StaleDays)
	}
	if len(result.Events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(result.Events))
	}
	if len(result.CachedDays) != 2 {
		t.Errorf("Expected 2 cached days, got %v", result.CachedDays)
	}
}

func TestResolveMixedCoverage(t *testing.T) {
	c := newTestCoordinator()

	// Cover only the middle day
	if err := c.Store([]api.Event{mkEvent("ev1", "2024-07-29", 3, 4.2)}, dayQuery("2024-07-29", 2.5, 10), nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	result, err := c.Resolve(rangeQuery("2024-07-28", "2024-07-30", 2.5, 10))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.IsComplete {
		t.Error("Expected incomplete result")
	}
	if len(result.StaleDays) != 2 || result.StaleDays[0] != "2024-07-28" || result.StaleDays[1] != "2024-07-30" {
		t.Errorf("Expected stale days [2024-07-28 2024-07-30], got %v", result.StaleDays)
	}
	if len(result.CachedDays) != 1 || result.CachedDays[0] != "2024-07-29" {
		t.Errorf("Expected cached day 2024-07-29, got %v", result.CachedDays)
	}
	if len(result.Events) != 1 || result.Events[0].ID != "ev1" {
		t.Errorf("Expected only the cached day's event, got %v", result.Events)
	}
}

func TestResolveDistinctMagnitudeBands(t *testing.T) {
	c := newTestCoordinator()
	day := "2024-07-29"

	if err := c.Store([]api.Event{mkEvent("ev1", day, 3, 4.2)}, dayQuery(day, 2.5, 10), nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Same day, different band: separate coverage, still stale
	result, err := c.Resolve(dayQuery(day, 0, 10))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.IsComplete {
		t.Error("Expected different magnitude band to be uncovered")
	}
}

func TestStoreIdempotent(t *testing.T) {
	c := newTestCoordinator()
	query := dayQuery("2024-07-29", 2.5, 10)

	if err := c.Store([]api.Event{mkEvent("ev1", "2024-07-29", 3, 4.2)}, query, nil); err != nil {
		t.Fatalf("First store failed: %v", err)
	}
	// Re-fetch of the same event with a revised magnitude
	if err := c.Store([]api.Event{mkEvent("ev1", "2024-07-29", 3, 4.5)}, query, nil); err != nil {
		t.Fatalf("Second store failed: %v", err)
	}

	count, err := c.backend.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 event after duplicate store, got %d", count)
	}

	events, err := c.backend.EventsByDay("2024-07-29")
	if err != nil {
		t.Fatalf("EventsByDay failed: %v", err)
	}
	if len(events) != 1 || events[0].Mag == nil || *events[0].Mag != 4.5 {
		t.Errorf("Expected revised magnitude 4.5, got %v", events)
	}
}

func TestResolveMagnitudeBoundaries(t *testing.T) {
	c := newTestCoordinator()
	day := "2024-07-29"
	query := dayQuery(day, 2.5, 6.0)

	events := []api.Event{
		mkEvent("at-min", day, 1, 2.5),
		mkEvent("below-min", day, 2, 2.49),
		mkEvent("at-max", day, 3, 6.0),
		mkEvent("above-max", day, 4, 6.01),
	}
	if err := c.Store(events, query, nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	result, err := c.Resolve(query)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(result.Events) != 2 {
		t.Fatalf("Expected 2 events inside the inclusive band, got %d", len(result.Events))
	}
	for _, ev := range result.Events {
		if ev.ID != "at-min" && ev.ID != "at-max" {
			t.Errorf("Unexpected event %s in results", ev.ID)
		}
	}
}

func TestResolveMissingMagnitude(t *testing.T) {
	c := newTestCoordinator()
	day := "2024-07-29"

	// Magnitude absent upstream; the filter sees the default of 0
	store := dayQuery(day, 0, 10)
	if err := c.Store([]api.Event{mkEvent("no-mag", day, 1, -1)}, store, nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	result, err := c.Resolve(store)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(result.Events) != 1 {
		t.Errorf("Expected missing-magnitude event to pass a zero min filter, got %d events", len(result.Events))
	}

	// Under a higher floor the same stored day filters it out
	filtered := dayQuery(day, 2.5, 10)
	if err := c.Store([]api.Event{mkEvent("no-mag", day, 1, -1)}, filtered, nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	result, err = c.Resolve(filtered)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(result.Events) != 0 {
		t.Errorf("Expected missing-magnitude event below a 2.5 floor, got %d events", len(result.Events))
	}
}

func TestStoreProgressAscendingDays(t *testing.T) {
	c := newTestCoordinator()
	query := rangeQuery("2024-07-27", "2024-07-29", 2.5, 10)

	// Deliberately unsorted input
	events := []api.Event{
		mkEvent("ev3", "2024-07-29", 3, 4.0),
		mkEvent("ev1", "2024-07-27", 3, 4.0),
		mkEvent("ev2", "2024-07-28", 3, 4.0),
	}

	var snapshots []Progress
	onProgress := func(p Progress) { snapshots = append(snapshots, p) }
	if err := c.Store(events, query, onProgress); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if len(snapshots) != 3 {
		t.Fatalf("Expected 3 progress snapshots, got %d", len(snapshots))
	}
	wantDays := []string{"2024-07-27", "2024-07-28", "2024-07-29"}
	for i, p := range snapshots {
		if p.CurrentDay != wantDays[i] {
			t.Errorf("Snapshot %d: expected day %s, got %s", i, wantDays[i], p.CurrentDay)
		}
		if p.CurrentStep != i+1 || p.TotalSteps != 3 {
			t.Errorf("Snapshot %d: expected step %d/3, got %d/%d", i, i+1, p.CurrentStep, p.TotalSteps)
		}
		if p.Operation != OpStoring {
			t.Errorf("Snapshot %d: expected storing operation, got %s", i, p.Operation)
		}
	}

	if c.Progress().Operation != OpIdle {
		t.Errorf("Expected idle after store, got %s", c.Progress().Operation)
	}
}

func TestStoreUpdatesInfo(t *testing.T) {
	c := newTestCoordinator()
	query := rangeQuery("2024-07-27", "2024-07-29", 2.5, 10)

	events := []api.Event{
		mkEvent("ev1", "2024-07-27", 3, 4.0),
		mkEvent("ev2", "2024-07-29", 3, 4.0),
	}
	if err := c.Store(events, query, nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	info, err := c.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.TotalEvents != 2 {
		t.Errorf("Expected 2 total events, got %d", info.TotalEvents)
	}
	if info.OldestDay != "2024-07-27" || info.NewestDay != "2024-07-29" {
		t.Errorf("Expected bounds 2024-07-27..2024-07-29, got %s..%s", info.OldestDay, info.NewestDay)
	}
	if !info.LastUpdated.Equal(testNow) {
		t.Errorf("Expected last updated %v, got %v", testNow, info.LastUpdated)
	}
	if info.Version != core.SchemaVersion {
		t.Errorf("Expected schema version %d, got %d", core.SchemaVersion, info.Version)
	}
}

func TestInfoEmptyCache(t *testing.T) {
	c := newTestCoordinator()

	info, err := c.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.TotalEvents != 0 || info.OldestDay != "" || info.NewestDay != "" {
		t.Errorf("Expected zero-value info on empty cache, got %+v", info)
	}
	if info.Version != core.SchemaVersion {
		t.Errorf("Expected schema version %d, got %d", core.SchemaVersion, info.Version)
	}
}

// seedBucket writes a bucket with a chosen fetch stamp straight into the
// backend, bypassing the coordinator's clock.
func seedBucket(t *testing.T, b Backend, day string, fetchedAt time.Time, events ...api.Event) {
	t.Helper()
	meta := BucketMeta{
		Key:          BucketKey(day, core.RegionUS, 2.5, 10),
		Day:          day,
		FetchedAt:    fetchedAt,
		EventCount:   len(events),
		MinMagnitude: 2.5,
		MaxMagnitude: 10,
		Region:       core.RegionUS,
	}
	if err := b.PutDay(meta, events); err != nil {
		t.Fatalf("PutDay failed: %v", err)
	}
}

func TestClearStale(t *testing.T) {
	c := newTestCoordinator()
	b := c.backend

	// Historical day with an ancient fetch stamp: immune
	seedBucket(t, b, "2024-05-01", testNow.AddDate(0, -2, 0),
		mkEvent("hist1", "2024-05-01", 3, 4.0))
	// Recent day, fetched 25h ago: stale
	seedBucket(t, b, "2024-07-28", testNow.Add(-25*time.Hour),
		mkEvent("stale1", "2024-07-28", 3, 4.0),
		mkEvent("stale2", "2024-07-28", 6, 3.0))
	// Recent day, fetched an hour ago: fresh
	seedBucket(t, b, "2024-07-29", testNow.Add(-time.Hour),
		mkEvent("fresh1", "2024-07-29", 3, 4.0))

	cleared, err := c.ClearStale()
	if err != nil {
		t.Fatalf("ClearStale failed: %v", err)
	}
	if cleared != 2 {
		t.Errorf("Expected 2 cleared events, got %d", cleared)
	}

	count, _ := b.Count()
	if count != 2 {
		t.Errorf("Expected 2 surviving events, got %d", count)
	}
	if events, _ := b.EventsByDay("2024-07-28"); len(events) != 0 {
		t.Errorf("Expected stale day purged, got %v", events)
	}
	if events, _ := b.EventsByDay("2024-05-01"); len(events) != 1 {
		t.Errorf("Expected historical day untouched, got %v", events)
	}
	if events, _ := b.EventsByDay("2024-07-29"); len(events) != 1 {
		t.Errorf("Expected fresh day untouched, got %v", events)
	}

	// Info was recomputed after the purge
	info, err := c.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.TotalEvents != 2 {
		t.Errorf("Expected info recomputed to 2 events, got %d", info.TotalEvents)
	}
}

func TestClearAll(t *testing.T) {
	c := newTestCoordinator()
	query := dayQuery("2024-07-29", 2.5, 10)

	if err := c.Store([]api.Event{mkEvent("ev1", "2024-07-29", 3, 4.0)}, query, nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := c.ClearAll(); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	count, _ := c.backend.Count()
	if count != 0 {
		t.Errorf("Expected empty cache, got %d events", count)
	}
	result, err := c.Resolve(query)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.IsComplete {
		t.Error("Expected stale coverage after clear")
	}
}

func TestStats(t *testing.T) {
	c := newTestCoordinator()
	b := c.backend

	seedBucket(t, b, "2024-05-01", testNow.AddDate(0, -2, 0),
		mkEvent("hist1", "2024-05-01", 3, 4.0),
		mkEvent("hist2", "2024-05-01", 6, 3.0))
	seedBucket(t, b, "2024-07-28", testNow.Add(-25*time.Hour),
		mkEvent("stale1", "2024-07-28", 3, 4.0))
	seedBucket(t, b, "2024-07-29", testNow.Add(-time.Hour),
		mkEvent("fresh1", "2024-07-29", 3, 4.0))

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.HistoricalEvents != 2 {
		t.Errorf("Expected 2 historical events, got %d", stats.HistoricalEvents)
	}
	if stats.RecentEvents != 2 {
		t.Errorf("Expected 2 recent events, got %d", stats.RecentEvents)
	}
	if stats.TotalEvents != 4 {
		t.Errorf("Expected 4 total events, got %d", stats.TotalEvents)
	}
	if stats.TotalDays != 3 {
		t.Errorf("Expected 3 covered days, got %d", stats.TotalDays)
	}
	if stats.StaleDays != 1 {
		t.Errorf("Expected 1 stale day, got %d", stats.StaleDays)
	}
	// 4 events * 500 bytes / 1024, rounded
	if stats.SizeEstimateKB != 2 {
		t.Errorf("Expected size estimate 2 KB, got %d", stats.SizeEstimateKB)
	}
}

// End-to-end resolve/store/resolve cycle over a single day.
func TestResolveStoreCycle(t *testing.T) {
	c := newTestCoordinator()
	day := "2024-07-29"
	query := dayQuery(day, 2.5, 10)

	result, err := c.Resolve(query)
	if err != nil {
		t.Fatalf("First resolve failed: %v", err)
	}
	if result.IsComplete || len(result.StaleDays) != 1 || result.StaleDays[0] != day {
		t.Fatalf("Expected single stale day %s, got %+v", day, result)
	}

	// The upstream fetch returned one event inside the band and one below it
	events := []api.Event{
		mkEvent("big", day, 3, 3.0),
		mkEvent("small", day, 6, 1.0),
	}
	if err := c.Store(events, query, nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	result, err = c.Resolve(query)
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if !result.IsComplete {
		t.Errorf("Expected complete result, stale days: %v", result.StaleDays)
	}
	if len(result.Events) != 1 || result.Events[0].ID != "big" {
		t.Errorf("Expected only the magnitude-3.0 event, got %v", result.Events)
	}
}
