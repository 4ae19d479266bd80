// Package core provides shared constants and configuration for quakewatch.
package core

import "time"

// Upstream data sources
const (
	USGSBaseURL   = "https://earthquake.usgs.gov/fdsnws/event/1/query"
	TremorBaseURL = "https://tremorapi.pnsn.org/api/v3.0/events"
)

// Date formats
const (
	APIDateFmt     = "2006-01-02"
	APIDatetimeFmt = "2006-01-02T15:04:05"
)

// Pagination. USGS caps a single fdsnws response at 20000 events; paging
// uses 1-based offsets.
const (
	PageLimit = 20000
)

// Freshness policy. Earthquake catalogs are revised for roughly four weeks
// after an event; settled history is treated as immutable.
const (
	HistoricalThresholdDays = 28
	RecentDataMaxAge        = 24 * time.Hour
)

// MissingMagnitude is substituted when an event carries no magnitude, so the
// magnitude filter sees a concrete value instead of a silent coercion.
const MissingMagnitude = 0.0

// EventSizeEstimateBytes is the per-event heuristic behind the cache size
// estimate. It is not a measurement.
const EventSizeEstimateBytes = 500

// SchemaVersion gates future cache migrations.
const SchemaVersion = 1

// Seeding defaults
const (
	SeedChunkDays         = 30
	SeedDelay             = 2000 * time.Millisecond
	SeedDefaultDays       = 365
	SeedDefaultMinMag     = 2.5
	SeedChunkTimeBaseline = 5 * time.Second
)

// Region scopes for earthquake queries.
const (
	RegionUS        = "us"
	RegionWorldwide = "worldwide"
)

// Contiguous-US bounding box applied when the region scope is "us".
const (
	USMinLatitude  = 24.4
	USMaxLatitude  = 49.4
	USMinLongitude = -125.0
	USMaxLongitude = -66.9
)

// DefaultTZ is used when no timezone is configured.
const DefaultTZ = "America/Los_Angeles"

// Version is the current CLI version.
const Version = "0.3.0"
