package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/core"
)

// QuakeAPI provides a typed convenience layer over a GeoJSON event endpoint.
// It hides the fdsnws offset pagination from callers.
type QuakeAPI struct {
	transport Transport
	source    string
	pageSize  int
	verbose   bool
}

// NewQuakeAPI creates a high-level client over the given transport.
// If transport is nil, a USGS HTTP client is used.
func NewQuakeAPI(transport Transport) *QuakeAPI {
	if transport == nil {
		transport = NewClient(core.USGSBaseURL, "usgs", false)
	}
	api := &QuakeAPI{
		transport: transport,
		source:    "usgs",
		pageSize:  core.PageLimit,
	}
	if c, ok := transport.(*Client); ok {
		api.source = c.Source()
		api.verbose = c.IsVerbose()
	}
	return api
}

// NewUSGSAPI creates a high-level client against the USGS earthquake catalog.
func NewUSGSAPI(baseURL string, verbose bool) *QuakeAPI {
	if baseURL == "" {
		baseURL = core.USGSBaseURL
	}
	return NewQuakeAPI(NewClient(baseURL, "usgs", verbose))
}

// NewTremorAPI creates a high-level client against the PNSN tremor API.
func NewTremorAPI(baseURL string, verbose bool) *QuakeAPI {
	if baseURL == "" {
		baseURL = core.TremorBaseURL
	}
	return NewQuakeAPI(NewClient(baseURL, "pnsn", verbose))
}

// RangeOptions describes one bulk fetch against the catalog.
type RangeOptions struct {
	Start        time.Time
	End          time.Time
	MinMagnitude float64
	MaxMagnitude float64
	Region       string // core.RegionUS or core.RegionWorldwide
	MaxResults   int    // 0 = unlimited
}

// log writes a debug message if verbose mode is enabled.
func (a *QuakeAPI) log(msg string) {
	core.Eprint(fmt.Sprintf("[API] %s", msg), a.verbose)
}

// FetchRange fetches every event in [Start, End] matching the magnitude band
// and region scope, walking offset pages until the catalog runs dry.
func (a *QuakeAPI) FetchRange(opts RangeOptions) ([]Event, error) {
	params := map[string]string{
		"format":       "geojson",
		"starttime":    core.FormatDatetime(opts.Start),
		"endtime":      core.FormatDatetime(opts.End),
		"minmagnitude": core.FormatMag(opts.MinMagnitude),
		"maxmagnitude": core.FormatMag(opts.MaxMagnitude),
		"orderby":      "time-asc",
	}
	if opts.Region == core.RegionUS {
		params["minlatitude"] = core.FormatMag(core.USMinLatitude)
		params["maxlatitude"] = core.FormatMag(core.USMaxLatitude)
		params["minlongitude"] = core.FormatMag(core.USMinLongitude)
		params["maxlongitude"] = core.FormatMag(core.USMaxLongitude)
	}

	events := make([]Event, 0)
	offset := 1 // fdsnws offsets are 1-based
	pages := 0

	for {
		pageParams := make(map[string]string, len(params)+2)
		for k, v := range params {
			pageParams[k] = v
		}
		pageParams["limit"] = strconv.Itoa(a.pageSize)
		pageParams["offset"] = strconv.Itoa(offset)

		fc, err := a.transport.Query(pageParams)
		if err != nil {
			return nil, err
		}
		pages++

		for _, f := range fc.Features {
			if opts.MaxResults > 0 && len(events) >= opts.MaxResults {
				a.log(fmt.Sprintf("Fetch complete: reached max_results limit of %d after %d pages", opts.MaxResults, pages))
				return events, nil
			}
			events = append(events, f.Event(a.source))
		}

		a.log(fmt.Sprintf("Fetched page %d: %d features, total so far %d", pages, len(fc.Features), len(events)))

		if len(fc.Features) < a.pageSize {
			break
		}
		offset += a.pageSize
	}

	a.log(fmt.Sprintf("Fetch complete: %d events across %d pages", len(events), pages))
	return events, nil
}

// FetchTremorRange fetches tremor events in [start, end]. The tremor API has
// no magnitude filter and no paging; a missing window yields zero events.
func (a *QuakeAPI) FetchTremorRange(start, end time.Time) ([]Event, error) {
	fc, err := a.transport.Query(map[string]string{
		"format":    "json",
		"starttime": core.FormatDatetime(start),
		"endtime":   core.FormatDatetime(end),
	})
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(fc.Features))
	for _, f := range fc.Features {
		events = append(events, f.Event(a.source))
	}
	a.log(fmt.Sprintf("Tremor fetch complete: %d events", len(events)))
	return events, nil
}

// IsVerbose returns whether verbose logging is enabled.
func (a *QuakeAPI) IsVerbose() bool {
	return a.verbose
}

// GetTransport returns the underlying transport.
func (a *QuakeAPI) GetTransport() Transport {
	return a.transport
}
