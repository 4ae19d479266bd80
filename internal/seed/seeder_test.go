package seed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBuildChunks(t *testing.T) {
	// 100 days back in 30-day chunks: three full windows plus a clipped one
	end := day(2024, 7, 30)
	start := end.AddDate(0, 0, -100)

	chunks := buildChunks(start, end, 30)
	if len(chunks) != 4 {
		t.Fatalf("Expected 4 chunks, got %d", len(chunks))
	}

	// Oldest-first, earliest chunk clipped to the range start
	if !chunks[0].Start.Equal(start) {
		t.Errorf("Expected first chunk clipped to %v, got %v", start, chunks[0].Start)
	}
	if !chunks[len(chunks)-1].End.Equal(end) {
		t.Errorf("Expected last chunk ending at %v, got %v", end, chunks[len(chunks)-1].End)
	}
	for i := 1; i < len(chunks); i++ {
		if !chunks[i].Start.Equal(chunks[i-1].End) {
			t.Errorf("Chunk %d does not continue from chunk %d: %v vs %v",
				i, i-1, chunks[i].Start, chunks[i-1].End)
		}
		if chunks[i].Start.Before(chunks[i-1].Start) {
			t.Errorf("Chunks not in oldest-first order at %d", i)
		}
	}
	// The clipped chunk spans the 10-day remainder
	if got := chunks[0].End.Sub(chunks[0].Start); got != 10*24*time.Hour {
		t.Errorf("Expected 10-day first chunk, got %v", got)
	}
}

func TestBuildChunksExactMultiple(t *testing.T) {
	end := day(2024, 7, 30)
	start := end.AddDate(0, 0, -60)

	chunks := buildChunks(start, end, 30)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks for an exact multiple, got %d", len(chunks))
	}
	if !chunks[0].Start.Equal(start) || !chunks[1].End.Equal(end) {
		t.Errorf("Unexpected chunk bounds: %+v", chunks)
	}
}

func TestRunSeedsAllChunks(t *testing.T) {
	var calls []Chunk
	fetch := func(ctx context.Context, start, end time.Time, minMagnitude float64) (int, error) {
		calls = append(calls, Chunk{Start: start, End: end})
		if minMagnitude != 2.5 {
			t.Errorf("Expected default min magnitude 2.5, got %v", minMagnitude)
		}
		return 10, nil
	}

	s := NewSeeder(fetch, false)
	end := day(2024, 7, 30)
	progress, err := s.Run(context.Background(), Options{
		Start:     end.AddDate(0, 0, -100),
		End:       end,
		ChunkDays: 30,
		Delay:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if progress.Status != StatusComplete {
		t.Errorf("Expected complete status, got %s", progress.Status)
	}
	if progress.CompletedChunks != 4 || progress.TotalChunks != 4 {
		t.Errorf("Expected 4/4 chunks, got %d/%d", progress.CompletedChunks, progress.TotalChunks)
	}
	if progress.TotalEventsSeeded != 40 {
		t.Errorf("Expected 40 seeded events, got %d", progress.TotalEventsSeeded)
	}
	if len(calls) != 4 {
		t.Fatalf("Expected 4 fetch calls, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if calls[i].Start.Before(calls[i-1].Start) {
			t.Errorf("Fetches not oldest-first at call %d", i)
		}
	}
	if s.Running() {
		t.Error("Expected seeder idle after completion")
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startOnce sync.Once
	fetch := func(ctx context.Context, start, end time.Time, minMagnitude float64) (int, error) {
		startOnce.Do(func() { close(started) })
		<-release
		return 0, nil
	}

	s := NewSeeder(fetch, false)
	end := day(2024, 7, 30)
	opts := Options{Start: end.AddDate(0, 0, -10), End: end, ChunkDays: 30, Delay: time.Millisecond}

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), opts)
		done <- err
	}()

	<-started
	if _, err := s.Run(context.Background(), opts); !errors.Is(err, ErrSeedInProgress) {
		t.Errorf("Expected ErrSeedInProgress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	// A fresh run is allowed once the previous one finished
	if _, err := s.Run(context.Background(), opts); err != nil {
		t.Errorf("Expected new run after completion, got %v", err)
	}
}

func TestRunStopsOnFetchError(t *testing.T) {
	boom := errors.New("upstream unavailable")
	calls := 0
	fetch := func(ctx context.Context, start, end time.Time, minMagnitude float64) (int, error) {
		calls++
		if calls == 2 {
			return 0, boom
		}
		return 5, nil
	}

	s := NewSeeder(fetch, false)
	end := day(2024, 7, 30)
	progress, err := s.Run(context.Background(), Options{
		Start:     end.AddDate(0, 0, -100),
		End:       end,
		ChunkDays: 30,
		Delay:     time.Millisecond,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped fetch error, got %v", err)
	}

	if progress.Status != StatusError {
		t.Errorf("Expected error status, got %s", progress.Status)
	}
	if progress.Error == "" {
		t.Error("Expected error message in progress")
	}
	// The first chunk's events stay counted
	if progress.CompletedChunks != 1 || progress.TotalEventsSeeded != 5 {
		t.Errorf("Expected 1 completed chunk with 5 events, got %d/%d",
			progress.CompletedChunks, progress.TotalEventsSeeded)
	}
	if calls != 2 {
		t.Errorf("Expected fetching to stop after the failure, got %d calls", calls)
	}
}

func TestRunCancellation(t *testing.T) {
	s := NewSeeder(nil, false)
	calls := 0
	s.fetch = func(ctx context.Context, start, end time.Time, minMagnitude float64) (int, error) {
		calls++
		// Request a stop while the first chunk is in flight
		s.Cancel()
		return 3, nil
	}

	end := day(2024, 7, 30)
	progress, err := s.Run(context.Background(), Options{
		Start:     end.AddDate(0, 0, -100),
		End:       end,
		ChunkDays: 30,
		Delay:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("Expected exactly 1 fetch before the cancel took effect, got %d", calls)
	}
	if progress.Status != StatusIdle {
		t.Errorf("Expected idle status after cancel, got %s", progress.Status)
	}
	if progress.Error != "Cancelled by user" {
		t.Errorf("Unexpected cancel message: %q", progress.Error)
	}
	// Work done before the cancel stays durable
	if progress.CompletedChunks != 1 || progress.TotalEventsSeeded != 3 {
		t.Errorf("Expected 1 chunk/3 events retained, got %d/%d",
			progress.CompletedChunks, progress.TotalEventsSeeded)
	}
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	fetch := func(ctx context.Context, start, end time.Time, minMagnitude float64) (int, error) {
		calls++
		cancel()
		return 1, nil
	}

	s := NewSeeder(fetch, false)
	end := day(2024, 7, 30)
	_, err := s.Run(ctx, Options{
		Start:     end.AddDate(0, 0, -100),
		End:       end,
		ChunkDays: 30,
		Delay:     time.Minute, // the inter-chunk wait must not block the cancel
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 fetch call, got %d", calls)
	}
}

func TestCancelWhenIdleIsNoop(t *testing.T) {
	s := NewSeeder(func(ctx context.Context, start, end time.Time, minMagnitude float64) (int, error) {
		return 1, nil
	}, false)

	// No active run: the flag must not poison the next run
	s.Cancel()

	end := day(2024, 7, 30)
	progress, err := s.Run(context.Background(), Options{
		Start:     end.AddDate(0, 0, -10),
		End:       end,
		ChunkDays: 30,
		Delay:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if progress.Status != StatusComplete {
		t.Errorf("Expected complete status, got %s", progress.Status)
	}
}

func TestProgressSnapshotIsolated(t *testing.T) {
	fetch := func(ctx context.Context, start, end time.Time, minMagnitude float64) (int, error) {
		return 1, nil
	}
	s := NewSeeder(fetch, false)

	p := s.Progress()
	if p.Status != StatusIdle {
		t.Errorf("Expected idle before any run, got %s", p.Status)
	}
	if p.CurrentChunk != nil {
		t.Errorf("Expected no current chunk, got %+v", p.CurrentChunk)
	}
}
