package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/api"
	"github.com/quakewatch/quakewatch-go/internal/cache"
	"github.com/quakewatch/quakewatch-go/internal/core"
	"github.com/quakewatch/quakewatch-go/internal/output"
	"github.com/quakewatch/quakewatch-go/internal/seed"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(tremorCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)

	seedCmd.Flags().String("start", "", "Seed start date (YYYY-MM-DD or d-N/w-N/m-N/y-N; default y-1)")
	seedCmd.Flags().String("end", "", "Seed end date (default today)")
	seedCmd.Flags().Int("chunk-days", 0, fmt.Sprintf("Days per seed chunk (default %d)", core.SeedChunkDays))
	seedCmd.Flags().Int("delay-ms", 0, "Delay between chunks in milliseconds (default 2000)")

	clearCmd.Flags().Bool("stale", false, "Only purge stale recent buckets instead of everything")
}

// eventsCmd resolves a date range against the cache, fetches the gaps from
// USGS and prints the merged result.
var eventsCmd = &cobra.Command{
	Use:   "events [start_spec] [end_spec]",
	Short: "Query earthquakes for a date range through the cache",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  handleEvents,
}

var tremorCmd = &cobra.Command{
	Use:   "tremor [start_spec] [end_spec]",
	Short: "Fetch episodic tremor events from PNSN",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  handleTremor,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Backfill the cache with historical earthquakes in rate-limited chunks",
	RunE:  handleSeed,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE:  handleStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the cache (everything, or --stale for stale recent days only)",
	RunE:  handleClear,
}

// openCoordinator wires config, timezone and the SQLite backend.
func openCoordinator() (*cache.Coordinator, *time.Location, core.Config, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, nil, core.Config{}, err
	}

	tzName := timezone
	if tzName == "" {
		tzName = cfg.Timezone
	}
	loc := core.GetTZ(tzName)

	path := dbPath
	if path == "" {
		path = cfg.DBPath
	}
	backend, err := cache.OpenSQLite(path)
	if err != nil {
		return nil, nil, core.Config{}, err
	}

	return cache.NewCoordinator(backend, loc, verbose), loc, cfg, nil
}

// parseRangeArgs turns [start_spec] [end_spec] into a day range; a missing
// end means today.
func parseRangeArgs(args []string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := core.ParseDateSpec(args[0], loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := core.DateOnly(time.Now().In(loc))
	if len(args) > 1 {
		end, err = core.ParseDateSpec(args[1], loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}

// dayWindow expands a day key to its local [00:00:00, 23:59:59] bounds for
// an upstream range request.
func dayWindow(dayKey string, loc *time.Location) (time.Time, time.Time, error) {
	d, err := time.ParseInLocation(core.APIDateFmt, dayKey, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := d
	end := d.AddDate(0, 0, 1).Add(-time.Second)
	return start, end, nil
}

func handleEvents(cmd *cobra.Command, args []string) error {
	coordinator, loc, cfg, err := openCoordinator()
	if err != nil {
		return err
	}
	defer coordinator.Backend().Close()

	start, end, err := parseRangeArgs(args, loc)
	if err != nil {
		return err
	}

	query := cache.Query{
		Start:        start,
		End:          end,
		MinMagnitude: minMag,
		MaxMagnitude: maxMag,
		Region:       region,
	}

	result, err := coordinator.Resolve(query)
	if err != nil {
		return err
	}

	if !result.IsComplete {
		quakeAPI := api.NewUSGSAPI(cfg.USGSBaseURL, verbose)
		coordinator.SetOperation(cache.OpFetching, fmt.Sprintf("Fetching %d days...", len(result.StaleDays)))

		fetched := make([]api.Event, 0)
		for _, run := range cache.GapRuns(result.StaleDays) {
			runStart, _, err := dayWindow(run.Start, loc)
			if err != nil {
				return err
			}
			_, runEnd, err := dayWindow(run.End, loc)
			if err != nil {
				return err
			}
			core.ProgressPrint(fmt.Sprintf("Fetching %s to %s…", run.Start, run.End), quiet)

			events, err := quakeAPI.FetchRange(api.RangeOptions{
				Start:        runStart,
				End:          runEnd,
				MinMagnitude: query.MinMagnitude,
				MaxMagnitude: query.MaxMagnitude,
				Region:       query.Region,
			})
			if err != nil {
				coordinator.SetOperation(cache.OpError, err.Error())
				return err
			}
			fetched = append(fetched, events...)
		}

		onProgress := func(p cache.Progress) {
			core.ProgressPrint(p.Message, quiet)
		}
		if err := coordinator.Store(fetched, query, onProgress); err != nil {
			return err
		}

		// Everything is fresh now; read back through the same filter.
		result, err = coordinator.Resolve(query)
		if err != nil {
			return err
		}
	}

	output.PrintResolveSummary(result, quiet)
	if raw {
		output.PrintEventsJSON(result.Events)
	} else {
		output.PrintEventsTable(result.Events, loc)
	}
	return nil
}

func handleTremor(cmd *cobra.Command, args []string) error {
	cfg, err := core.LoadConfig()
	if err != nil {
		return err
	}

	tzName := timezone
	if tzName == "" {
		tzName = cfg.Timezone
	}
	loc := core.GetTZ(tzName)

	start, end, err := parseRangeArgs(args, loc)
	if err != nil {
		return err
	}

	tremorAPI := api.NewTremorAPI(cfg.TremorBaseURL, verbose)
	core.ProgressPrint(fmt.Sprintf("Fetching tremor %s to %s…", core.FormatDate(start), core.FormatDate(end)), quiet)

	events, err := tremorAPI.FetchTremorRange(start, end.AddDate(0, 0, 1).Add(-time.Second))
	if err != nil {
		return err
	}

	if raw {
		output.PrintEventsJSON(events)
	} else {
		output.PrintEventsTable(events, loc)
	}
	return nil
}

func handleSeed(cmd *cobra.Command, args []string) error {
	coordinator, loc, cfg, err := openCoordinator()
	if err != nil {
		return err
	}
	defer coordinator.Backend().Close()

	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	chunkDays, _ := cmd.Flags().GetInt("chunk-days")
	delayMs, _ := cmd.Flags().GetInt("delay-ms")

	opts := seed.Options{MinMagnitude: minMag}
	if startStr != "" {
		if opts.Start, err = core.ParseDateSpec(startStr, loc); err != nil {
			return err
		}
	}
	if endStr != "" {
		if opts.End, err = core.ParseDateSpec(endStr, loc); err != nil {
			return err
		}
	}
	if chunkDays > 0 {
		opts.ChunkDays = chunkDays
	} else if cfg.SeedChunkDays > 0 {
		opts.ChunkDays = cfg.SeedChunkDays
	}
	if delayMs > 0 {
		opts.Delay = time.Duration(delayMs) * time.Millisecond
	} else if cfg.SeedDelayMs > 0 {
		opts.Delay = time.Duration(cfg.SeedDelayMs) * time.Millisecond
	}

	quakeAPI := api.NewUSGSAPI(cfg.USGSBaseURL, verbose)

	// Each chunk fetch-and-store commits on its own, so an interrupted seed
	// keeps everything already processed.
	fetchChunk := func(ctx context.Context, start, end time.Time, minMagnitude float64) (int, error) {
		events, err := quakeAPI.FetchRange(api.RangeOptions{
			Start:        start,
			End:          end,
			MinMagnitude: minMagnitude,
			MaxMagnitude: maxMag,
			Region:       region,
		})
		if err != nil {
			return 0, err
		}
		query := cache.Query{
			Start:        start,
			End:          end,
			MinMagnitude: minMagnitude,
			MaxMagnitude: maxMag,
			Region:       region,
		}
		if err := coordinator.Store(events, query, nil); err != nil {
			return 0, err
		}
		return len(events), nil
	}

	seeder := seed.NewSeeder(fetchChunk, verbose)
	progress, err := seeder.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	fmt.Printf("Seed %s: %d/%d chunks, %d events\n",
		progress.Status, progress.CompletedChunks, progress.TotalChunks, progress.TotalEventsSeeded)
	if progress.Error != "" {
		fmt.Printf("Last error: %s\n", progress.Error)
	}
	return nil
}

func handleStats(cmd *cobra.Command, args []string) error {
	coordinator, _, _, err := openCoordinator()
	if err != nil {
		return err
	}
	defer coordinator.Backend().Close()

	stats, err := coordinator.Stats()
	if err != nil {
		return err
	}
	info, err := coordinator.Info()
	if err != nil {
		return err
	}

	output.PrintStats(stats, info)
	return nil
}

func handleClear(cmd *cobra.Command, args []string) error {
	coordinator, _, _, err := openCoordinator()
	if err != nil {
		return err
	}
	defer coordinator.Backend().Close()

	staleOnly, _ := cmd.Flags().GetBool("stale")
	if staleOnly {
		cleared, err := coordinator.ClearStale()
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d stale events\n", cleared)
		return nil
	}

	if err := coordinator.ClearAll(); err != nil {
		return err
	}
	fmt.Println("Cache cleared")
	return nil
}
