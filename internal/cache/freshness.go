package cache

import (
	"time"

	"github.com/quakewatch/quakewatch-go/internal/core"
)

// IsHistorical reports whether the day bucket is strictly older than
// now − 28 days. Historical buckets are settled catalog history and never
// expire.
func IsHistorical(day string, now time.Time) bool {
	d, err := core.ParseDate(day)
	if err != nil {
		return false
	}
	threshold := core.DateOnly(now).AddDate(0, 0, -core.HistoricalThresholdDays)
	return d.Before(threshold)
}

// IsStale reports whether a bucket fetched at fetchedAt can no longer be
// trusted. Historical days never go stale regardless of fetch age; recent
// days expire 24 hours after their fetch.
func IsStale(fetchedAt time.Time, day string, now time.Time) bool {
	if IsHistorical(day, now) {
		return false
	}
	return now.Sub(fetchedAt) > core.RecentDataMaxAge
}
