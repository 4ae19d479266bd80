package cache

import (
	"sort"
	"sync"

	"github.com/quakewatch/quakewatch-go/internal/api"
)

// MemoryBackend is an in-memory cache backend for testing.
type MemoryBackend struct {
	mu       sync.RWMutex
	events   map[string]memoryEvent // by event id
	meta     map[string]BucketMeta  // by composite bucket key
	info     *Info
}

type memoryEvent struct {
	event api.Event
	day   string
}

// NewMemoryBackend creates a new in-memory cache backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		events: make(map[string]memoryEvent),
		meta:   make(map[string]BucketMeta),
	}
}

// GetMeta returns the bucket metadata for the composite key.
func (b *MemoryBackend) GetMeta(key string) (BucketMeta, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	meta, ok := b.meta[key]
	return meta, ok, nil
}

// AllMeta returns every bucket metadata row, ordered by key.
func (b *MemoryBackend) AllMeta() ([]BucketMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]BucketMeta, 0, len(b.meta))
	for _, m := range b.meta {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PutDay stores one day's events and upserts the bucket metadata.
func (b *MemoryBackend) PutDay(meta BucketMeta, events []api.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ev := range events {
		b.events[ev.ID] = memoryEvent{event: ev, day: meta.Day}
	}
	b.meta[meta.Key] = meta
	return nil
}

// EventsByDay returns all stored events tagged with the day bucket.
func (b *MemoryBackend) EventsByDay(day string) ([]api.Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]api.Event, 0)
	for _, me := range b.events {
		if me.day == day {
			out = append(out, me.event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// PurgeDay deletes the metadata row and every event tagged with its day.
func (b *MemoryBackend) PurgeDay(metaKey, day string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.meta, metaKey)

	deleted := 0
	for id, me := range b.events {
		if me.day == day {
			delete(b.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// Count returns the total number of stored events.
func (b *MemoryBackend) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events), nil
}

// DayBounds returns the oldest and newest day buckets with events.
func (b *MemoryBackend) DayBounds() (string, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	oldest, newest := "", ""
	for _, me := range b.events {
		if oldest == "" || me.day < oldest {
			oldest = me.day
		}
		if newest == "" || me.day > newest {
			newest = me.day
		}
	}
	return oldest, newest, nil
}

// GetInfo returns the info singleton if one has been written.
func (b *MemoryBackend) GetInfo() (Info, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.info == nil {
		return Info{}, false, nil
	}
	return *b.info, true, nil
}

// PutInfo overwrites the info singleton.
func (b *MemoryBackend) PutInfo(info Info) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info = &info
	return nil
}

// ClearAll deletes all events, metadata and the info singleton.
func (b *MemoryBackend) ClearAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string]memoryEvent)
	b.meta = make(map[string]BucketMeta)
	b.info = nil
	return nil
}

// Close releases the backend.
func (b *MemoryBackend) Close() error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
