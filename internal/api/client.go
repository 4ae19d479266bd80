package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quakewatch/quakewatch-go/internal/core"
)

// APIError is returned when an upstream catalog returns an error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client is the HTTP wrapper around a GeoJSON event endpoint.
type Client struct {
	baseURL    string
	source     string
	httpClient *http.Client
	verbose    bool
}

// NewClient creates a new catalog client for the given endpoint.
// source tags every returned event ("usgs" or "pnsn").
func NewClient(baseURL, source string, verbose bool) *Client {
	return &Client{
		baseURL: baseURL,
		source:  source,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
		verbose: verbose,
	}
}

// log writes a message to stderr if verbose mode is enabled.
func (c *Client) log(msg string) {
	core.Eprint(fmt.Sprintf("[API] %s", msg), c.verbose)
}

// Source returns the provider tag for events from this client.
func (c *Client) Source() string {
	return c.source
}

// Query performs a GET request and decodes the GeoJSON payload.
// Retries automatically on HTTP 5xx or 429 responses with exponential
// back-off. A 404 means the endpoint has no events for the requested window
// (PNSN behavior) and yields an empty collection, not an error.
func (c *Client) Query(params map[string]string) (*FeatureCollection, error) {
	urlStr := c.baseURL
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		urlStr = fmt.Sprintf("%s?%s", urlStr, q.Encode())
	}

	c.log(fmt.Sprintf("GET %s", urlStr))

	maxRetries := 3
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest("GET", urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				c.log(fmt.Sprintf("Attempt %d failed (connection error); retrying in %v...", attempt, wait))
				time.Sleep(wait)
				continue
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusNotFound {
			c.log("Response: HTTP 404, no events for this window")
			return &FeatureCollection{Type: "FeatureCollection"}, nil
		}

		// Check for retryable errors
		if resp.StatusCode >= 500 || resp.StatusCode == 429 {
			lastErr = &APIError{StatusCode: resp.StatusCode, Message: string(body)}
			if attempt < maxRetries {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				if resp.StatusCode == 429 {
					if ra := resp.Header.Get("Retry-After"); ra != "" {
						if secs, err := strconv.Atoi(ra); err == nil {
							wait = time.Duration(secs) * time.Second
						}
					}
				}
				c.log(fmt.Sprintf("Attempt %d failed (HTTP %d); retrying in %v...", attempt, resp.StatusCode, wait))
				time.Sleep(wait)
				continue
			}
			return nil, lastErr
		}

		// Non-retryable error
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		}

		var result FeatureCollection
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to parse GeoJSON response: %w", err)
		}

		c.log(fmt.Sprintf("Response: HTTP %d, %d features", resp.StatusCode, len(result.Features)))
		return &result, nil
	}

	return nil, lastErr
}

// IsVerbose returns whether verbose logging is enabled.
func (c *Client) IsVerbose() bool {
	return c.verbose
}
