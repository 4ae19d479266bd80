// Package output provides stdout formatting for quakewatch results.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/api"
	"github.com/quakewatch/quakewatch-go/internal/cache"
	"github.com/quakewatch/quakewatch-go/internal/core"
)

// PrintEventsJSON writes events as a compact JSON array.
func PrintEventsJSON(events []api.Event) {
	fmt.Print("[")
	for i, ev := range events {
		if i > 0 {
			fmt.Print(",")
		}
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		os.Stdout.Write(data)
	}
	fmt.Println("]")
}

// PrintEventsTable writes events as an aligned plain-text table.
func PrintEventsTable(events []api.Event, loc *time.Location) {
	if len(events) == 0 {
		fmt.Println("No events.")
		return
	}

	fmt.Printf("%-20s  %5s  %7s  %s\n", "TIME", "MAG", "DEPTH", "PLACE")
	for _, ev := range events {
		mag := "-"
		if ev.Mag != nil {
			mag = fmt.Sprintf("%.1f", *ev.Mag)
		}
		t := time.UnixMilli(ev.Time).In(loc).Format("2006-01-02 15:04:05")
		fmt.Printf("%-20s  %5s  %6.1fk  %s\n", t, mag, ev.DepthKm, ev.Place)
	}
	fmt.Printf("\n%d events\n", len(events))
}

// PrintStats writes a cache statistics summary.
func PrintStats(stats cache.Stats, info cache.Info) {
	fmt.Printf("Total events:      %d\n", stats.TotalEvents)
	fmt.Printf("  historical:      %d\n", stats.HistoricalEvents)
	fmt.Printf("  recent:          %d\n", stats.RecentEvents)
	fmt.Printf("Covered days:      %d\n", stats.TotalDays)
	fmt.Printf("Stale recent days: %d\n", stats.StaleDays)
	fmt.Printf("Size estimate:     %d KB\n", stats.SizeEstimateKB)
	if info.OldestDay != "" {
		fmt.Printf("Range:             %s to %s\n", info.OldestDay, info.NewestDay)
	}
	if !info.LastUpdated.IsZero() {
		fmt.Printf("Last updated:      %s\n", info.LastUpdated.Format(time.RFC3339))
	}
	fmt.Printf("Schema version:    %d\n", info.Version)
}

// PrintResolveSummary writes the cache-hit breakdown for a resolved query.
func PrintResolveSummary(result *cache.Result, quiet bool) {
	core.ProgressPrint(fmt.Sprintf("Cache: %d days fresh, %d days fetched",
		len(result.CachedDays), len(result.StaleDays)), quiet)
}
