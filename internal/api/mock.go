package api

import (
	"sort"
	"strconv"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/core"
)

// InMemoryTransport is a lightweight simulation of a GeoJSON event catalog.
// Implements enough of the fdsnws query surface for unit testing cache and
// pagination logic.
type InMemoryTransport struct {
	features   []Feature
	RequestLog []RequestLogEntry
	FailWith   error // when set, every Query returns this error
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	Params map[string]string
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		features:   make([]Feature, 0),
		RequestLog: make([]RequestLogEntry, 0),
	}
}

// Seed adds one or more features to the in-memory catalog.
func (t *InMemoryTransport) Seed(features ...Feature) {
	t.features = append(t.features, features...)
}

// SeedEvent is a convenience for seeding a feature from bare values.
// A negative mag seeds an event with no reported magnitude.
func (t *InMemoryTransport) SeedEvent(id string, timeMs int64, mag float64) {
	props := FeatureProperties{Time: timeMs}
	if mag >= 0 {
		m := mag
		props.Mag = &m
	}
	t.features = append(t.features, Feature{
		ID:         id,
		Properties: props,
		Geometry:   FeatureGeometry{Type: "Point", Coordinates: []float64{-122.3, 47.6, 10}},
	})
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	return len(t.RequestLog)
}

// Reset clears all stored features and recorded requests.
func (t *InMemoryTransport) Reset() {
	t.features = make([]Feature, 0)
	t.RequestLog = make([]RequestLogEntry, 0)
}

// Query simulates a catalog query: time-window and magnitude filters,
// time-ascending order, then offset/limit paging.
func (t *InMemoryTransport) Query(params map[string]string) (*FeatureCollection, error) {
	t.RequestLog = append(t.RequestLog, RequestLogEntry{Params: copyParams(params)})

	if t.FailWith != nil {
		return nil, t.FailWith
	}

	subset := make([]Feature, 0, len(t.features))
	for _, f := range t.features {
		if !t.matches(f, params) {
			continue
		}
		subset = append(subset, f)
	}

	sort.Slice(subset, func(i, j int) bool {
		return subset[i].Properties.Time < subset[j].Properties.Time
	})

	offset := 1
	if v, ok := params["offset"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	if offset > len(subset) {
		subset = nil
	} else {
		subset = subset[offset-1:]
	}

	if v, ok := params["limit"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(subset) {
			subset = subset[:n]
		}
	}

	return &FeatureCollection{Type: "FeatureCollection", Features: subset}, nil
}

func (t *InMemoryTransport) matches(f Feature, params map[string]string) bool {
	if v, ok := params["starttime"]; ok && v != "" {
		if start, err := time.Parse(core.APIDatetimeFmt, v); err == nil {
			if f.Properties.Time < start.UnixMilli() {
				return false
			}
		}
	}
	if v, ok := params["endtime"]; ok && v != "" {
		if end, err := time.Parse(core.APIDatetimeFmt, v); err == nil {
			if f.Properties.Time > end.UnixMilli() {
				return false
			}
		}
	}
	if v, ok := params["minmagnitude"]; ok && v != "" {
		if min, err := strconv.ParseFloat(v, 64); err == nil {
			if f.Properties.Mag == nil || *f.Properties.Mag < min {
				return false
			}
		}
	}
	if v, ok := params["maxmagnitude"]; ok && v != "" {
		if max, err := strconv.ParseFloat(v, 64); err == nil {
			if f.Properties.Mag != nil && *f.Properties.Mag > max {
				return false
			}
		}
	}
	return true
}

func copyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
