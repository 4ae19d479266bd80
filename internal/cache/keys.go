package cache

import (
	"fmt"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/core"
)

// DayKeyOf maps an epoch-millisecond timestamp to its calendar-day bucket in
// the given location. The same location must be used everywhere a day key is
// derived so bucket membership stays consistent.
func DayKeyOf(timestampMs int64, loc *time.Location) string {
	return time.UnixMilli(timestampMs).In(loc).Format(core.APIDateFmt)
}

// BucketKey builds the composite cache-partition key for one (day, region,
// magnitude band) tuple. `|` cannot appear in any component, so distinct
// tuples never collide.
func BucketKey(day, region string, minMag, maxMag float64) string {
	return fmt.Sprintf("%s|%s|%s|%s", day, region, core.FormatMag(minMag), core.FormatMag(maxMag))
}

// EnumerateDays walks start..end inclusive at day granularity.
// Returns nil when start is after end.
func EnumerateDays(start, end time.Time) []string {
	startDay := core.DateOnly(start)
	endDay := core.DateOnly(end)
	if startDay.After(endDay) {
		return nil
	}

	days := make([]string, 0)
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		days = append(days, core.FormatDate(d))
	}
	return days
}

// GapRun is a consecutive run of stale days that one upstream range request
// can cover.
type GapRun struct {
	Start string
	End   string
}

// GapRuns collapses a sorted list of stale day keys into consecutive runs.
// A key that does not parse as a date still becomes its own single-day run;
// dropping it would silently shrink the fetch plan.
func GapRuns(staleDays []string) []GapRun {
	runs := make([]GapRun, 0)

	var run *GapRun
	var prev time.Time
	for _, day := range staleDays {
		d, err := core.ParseDate(day)
		if err != nil {
			runs = append(runs, GapRun{Start: day, End: day})
			run = nil
			continue
		}
		if run != nil && d.Sub(prev) == 24*time.Hour {
			run.End = day
		} else {
			runs = append(runs, GapRun{Start: day, End: day})
			run = &runs[len(runs)-1]
		}
		prev = d
	}
	return runs
}
