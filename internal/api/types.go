// Package api provides the HTTP clients and types for the USGS earthquake
// catalog and the PNSN tremor API.
package api

// Event is a single seismic event as returned by an upstream catalog,
// flattened from its GeoJSON feature. Mag is nil when the provider reported
// no magnitude (common for tremor events and some small quakes).
type Event struct {
	ID        string   `json:"id"`
	Time      int64    `json:"time"` // epoch milliseconds
	Mag       *float64 `json:"mag,omitempty"`
	Place     string   `json:"place,omitempty"`
	URL       string   `json:"url,omitempty"`
	Longitude float64  `json:"longitude"`
	Latitude  float64  `json:"latitude"`
	DepthKm   float64  `json:"depth_km"`
	Source    string   `json:"source,omitempty"`
}

// Magnitude returns the event magnitude, substituting fallback when the
// provider reported none.
func (e Event) Magnitude(fallback float64) float64 {
	if e.Mag == nil {
		return fallback
	}
	return *e.Mag
}

// FeatureProperties is the property bag of one GeoJSON feature.
type FeatureProperties struct {
	Mag   *float64 `json:"mag"`
	Place string   `json:"place"`
	Time  int64    `json:"time"`
	URL   string   `json:"url"`
	Type  string   `json:"type"`
}

// FeatureGeometry holds the [longitude, latitude, depth] point.
type FeatureGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Feature is one event in a GeoJSON FeatureCollection.
type Feature struct {
	ID         string            `json:"id"`
	Properties FeatureProperties `json:"properties"`
	Geometry   FeatureGeometry   `json:"geometry"`
}

// FeatureCollection is the top-level GeoJSON response shape shared by both
// upstream APIs.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Event flattens the feature into the record shape the cache stores.
func (f Feature) Event(source string) Event {
	ev := Event{
		ID:     f.ID,
		Time:   f.Properties.Time,
		Mag:    f.Properties.Mag,
		Place:  f.Properties.Place,
		URL:    f.Properties.URL,
		Source: source,
	}
	if len(f.Geometry.Coordinates) >= 2 {
		ev.Longitude = f.Geometry.Coordinates[0]
		ev.Latitude = f.Geometry.Coordinates[1]
	}
	if len(f.Geometry.Coordinates) >= 3 {
		ev.DepthKm = f.Geometry.Coordinates[2]
	}
	return ev
}

// Transport is the interface for making catalog requests.
type Transport interface {
	Query(params map[string]string) (*FeatureCollection, error)
}
