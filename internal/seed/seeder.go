// Package seed performs controlled historical backfills of the event store.
//
// A seed run splits a large date range into fixed-size chunks and fetches
// them strictly one at a time with a delay between chunks. Sequential
// fetching plus the delay is the sole backpressure protecting the
// rate-limited upstream catalog; there is deliberately no parallelism and no
// per-fetch timeout.
package seed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/core"
)

// ErrSeedInProgress is returned when a seed run is requested while one is
// already running.
var ErrSeedInProgress = errors.New("seeding already in progress")

// Status is the lifecycle state of a seed run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// FetchFunc fetches and durably stores every event in [start, end] at or
// above minMagnitude, returning the number of events stored. Each invocation
// commits independently, so chunks completed before a failure stay durable.
type FetchFunc func(ctx context.Context, start, end time.Time, minMagnitude float64) (int, error)

// Options configures one seed run. Zero values fall back to the defaults:
// one year back from now, minimum magnitude 2.5, 30-day chunks, 2s delay.
type Options struct {
	Start        time.Time
	End          time.Time
	MinMagnitude float64
	ChunkDays    int
	Delay        time.Duration
}

// Chunk is one date window of a seed run.
type Chunk struct {
	Start time.Time
	End   time.Time
}

// Progress is a snapshot of a seed run.
type Progress struct {
	Status              Status
	TotalChunks         int
	CompletedChunks     int
	CurrentChunk        *Chunk
	TotalEventsSeeded   int
	StartTime           time.Time
	EstimatedCompletion time.Time
	Error               string
}

// Seeder walks a historical date range oldest-first in fixed-size chunks,
// invoking a bulk fetch-and-store per chunk. Progress state is owned by the
// instance.
type Seeder struct {
	fetch   FetchFunc
	verbose bool
	now     func() time.Time

	mu        sync.Mutex
	running   bool
	cancelled bool
	progress  Progress
}

// NewSeeder creates a seeder around the given bulk fetch function.
func NewSeeder(fetch FetchFunc, verbose bool) *Seeder {
	return &Seeder{
		fetch:    fetch,
		verbose:  verbose,
		now:      time.Now,
		progress: Progress{Status: StatusIdle},
	}
}

// log writes a debug message if verbose mode is enabled.
func (s *Seeder) log(msg string) {
	core.Eprint(fmt.Sprintf("[Seeding] %s", msg), s.verbose)
}

// Progress returns a copy of the current run state.
func (s *Seeder) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.progress
	if s.progress.CurrentChunk != nil {
		chunk := *s.progress.CurrentChunk
		p.CurrentChunk = &chunk
	}
	return p
}

// Running reports whether a seed run is in progress.
func (s *Seeder) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Cancel requests a cooperative stop. The flag is observed at the top of the
// next chunk iteration; an in-flight fetch or delay is never interrupted.
func (s *Seeder) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.cancelled = true
		s.log("Cancellation requested - will complete current chunk")
	}
}

// buildChunks splits [start, end] into chunkDays-sized windows, walking
// backward from end and clipping the earliest window to start, then reverses
// so chunks run oldest-first. Oldest-first makes interrupted runs resumable:
// the earliest history is already durable.
func buildChunks(start, end time.Time, chunkDays int) []Chunk {
	chunks := make([]Chunk, 0)

	chunkEnd := end
	for chunkEnd.After(start) {
		chunkStart := chunkEnd.AddDate(0, 0, -chunkDays)
		if chunkStart.Before(start) {
			chunkStart = start
		}
		chunks = append(chunks, Chunk{Start: chunkStart, End: chunkEnd})
		chunkEnd = chunkStart
	}

	for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	}
	return chunks
}

// Run executes a seed to completion (or error/cancellation) and returns the
// final progress. Rejects immediately with ErrSeedInProgress when a run is
// already active.
func (s *Seeder) Run(ctx context.Context, opts Options) (Progress, error) {
	now := s.now()
	if opts.End.IsZero() {
		opts.End = now
	}
	if opts.Start.IsZero() {
		opts.Start = opts.End.AddDate(0, 0, -core.SeedDefaultDays)
	}
	if opts.MinMagnitude == 0 {
		opts.MinMagnitude = core.SeedDefaultMinMag
	}
	if opts.ChunkDays <= 0 {
		opts.ChunkDays = core.SeedChunkDays
	}
	if opts.Delay <= 0 {
		opts.Delay = core.SeedDelay
	}

	chunks := buildChunks(opts.Start, opts.End, opts.ChunkDays)

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return s.Progress(), ErrSeedInProgress
	}
	s.running = true
	s.cancelled = false
	s.progress = Progress{
		Status:      StatusRunning,
		TotalChunks: len(chunks),
		StartTime:   now,
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.log(fmt.Sprintf("Starting seed: %d chunks, M%v+, %s to %s, %v between chunks",
		len(chunks), opts.MinMagnitude,
		core.FormatDate(opts.Start), core.FormatDate(opts.End), opts.Delay))

	for i := range chunks {
		chunk := chunks[i]

		s.mu.Lock()
		if s.cancelled {
			s.progress.Status = StatusIdle
			s.progress.Error = "Cancelled by user"
			s.progress.CurrentChunk = nil
			p := s.progress
			s.mu.Unlock()
			s.log("Cancelled")
			return p, nil
		}
		if err := ctx.Err(); err != nil {
			s.progress.Status = StatusIdle
			s.progress.Error = err.Error()
			s.progress.CurrentChunk = nil
			p := s.progress
			s.mu.Unlock()
			return p, err
		}

		// Estimate completion from throughput so far; before the first chunk
		// completes, assume delay plus a fixed per-chunk baseline.
		elapsed := s.now().Sub(s.progress.StartTime)
		avgPerChunk := opts.Delay + core.SeedChunkTimeBaseline
		if i > 0 {
			avgPerChunk = elapsed / time.Duration(i)
		}
		remaining := time.Duration(len(chunks)-i) * avgPerChunk
		s.progress.CurrentChunk = &Chunk{Start: chunk.Start, End: chunk.End}
		s.progress.EstimatedCompletion = s.now().Add(remaining)
		s.mu.Unlock()

		s.log(fmt.Sprintf("Chunk %d/%d: %s to %s", i+1, len(chunks),
			core.FormatDate(chunk.Start), core.FormatDate(chunk.End)))

		seeded, err := s.fetch(ctx, chunk.Start, chunk.End, opts.MinMagnitude)
		if err != nil {
			s.mu.Lock()
			s.progress.Status = StatusError
			s.progress.Error = err.Error()
			s.progress.CurrentChunk = nil
			p := s.progress
			s.mu.Unlock()
			s.log(fmt.Sprintf("Error: %v", err))
			return p, fmt.Errorf("seed chunk %d/%d: %w", i+1, len(chunks), err)
		}

		s.mu.Lock()
		s.progress.CompletedChunks = i + 1
		s.progress.TotalEventsSeeded += seeded
		total := s.progress.TotalEventsSeeded
		s.mu.Unlock()

		s.log(fmt.Sprintf("Chunk %d complete: %d events (total: %d)", i+1, seeded, total))

		if i < len(chunks)-1 {
			s.log(fmt.Sprintf("Waiting %v before next chunk...", opts.Delay))
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.progress.Status = StatusIdle
				s.progress.Error = ctx.Err().Error()
				s.progress.CurrentChunk = nil
				p := s.progress
				s.mu.Unlock()
				return p, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}

	s.mu.Lock()
	s.progress.Status = StatusComplete
	s.progress.CurrentChunk = nil
	p := s.progress
	s.mu.Unlock()

	s.log(fmt.Sprintf("Complete! Total events seeded: %d", p.TotalEventsSeeded))
	return p, nil
}
