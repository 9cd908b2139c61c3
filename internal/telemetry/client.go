// Package telemetry fetches the current ISS position from the open-notify
// style HTTP endpoint.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"isspipe/internal/domain"
)

// DefaultURL is the public ISS position endpoint.
const DefaultURL = "http://api.open-notify.org/iss-now.json"

// ResponseError reports which part of a telemetry payload was unusable. It
// unwraps to domain.ErrMalformedResponse.
type ResponseError struct {
	Field  string
	Reason string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("telemetry response field %q: %s", e.Field, e.Reason)
}

func (e *ResponseError) Unwrap() error { return domain.ErrMalformedResponse }

// Client fetches positions over HTTP.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a Client for url with the given request timeout.
func NewClient(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// coordinate accepts a JSON number or a numeric string.
type coordinate struct {
	raw json.RawMessage
}

func (c *coordinate) UnmarshalJSON(b []byte) error {
	c.raw = append(c.raw[:0], b...)
	return nil
}

func (c *coordinate) float() (float64, error) {
	raw := bytes.TrimSpace(c.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("missing")
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not numeric: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return v, nil
}

type position struct {
	Longitude *coordinate `json:"longitude"`
	Latitude  *coordinate `json:"latitude"`
}

type response struct {
	Message     string    `json:"message"`
	Timestamp   *int64    `json:"timestamp"`
	ISSPosition *position `json:"iss_position"`
	Position    *position `json:"position"`
}

// Fetch requests the current position. Transport failures and non-2xx
// statuses wrap domain.ErrSourceUnavailable; unusable payloads return a
// *ResponseError.
func (c *Client) Fetch(ctx context.Context) (domain.PositionRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return domain.PositionRecord{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.PositionRecord{}, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return domain.PositionRecord{}, fmt.Errorf("%w: %s returned %s", domain.ErrSourceUnavailable, c.url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PositionRecord{}, fmt.Errorf("%w: reading body: %v", domain.ErrSourceUnavailable, err)
	}

	return Parse(body)
}

// Parse validates a telemetry payload and converts it to a PositionRecord.
func Parse(body []byte) (domain.PositionRecord, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.PositionRecord{}, &ResponseError{Field: "body", Reason: err.Error()}
	}

	if r.Message != "" && r.Message != "success" {
		return domain.PositionRecord{}, &ResponseError{Field: "message", Reason: fmt.Sprintf("unexpected %q", r.Message)}
	}

	pos := r.ISSPosition
	if pos == nil {
		pos = r.Position
	}
	if pos == nil {
		return domain.PositionRecord{}, &ResponseError{Field: "iss_position", Reason: "missing"}
	}
	if r.Timestamp == nil {
		return domain.PositionRecord{}, &ResponseError{Field: "timestamp", Reason: "missing"}
	}

	lon, err := pos.Longitude.value("longitude", 180)
	if err != nil {
		return domain.PositionRecord{}, err
	}
	lat, err := pos.Latitude.value("latitude", 90)
	if err != nil {
		return domain.PositionRecord{}, err
	}

	return domain.PositionRecord{
		Longitude: lon,
		Latitude:  lat,
		Timestamp: time.Unix(*r.Timestamp, 0).UTC(),
	}, nil
}

func (c *coordinate) value(field string, limit float64) (float64, error) {
	if c == nil {
		return 0, &ResponseError{Field: field, Reason: "missing"}
	}
	v, err := c.float()
	if err != nil {
		return 0, &ResponseError{Field: field, Reason: err.Error()}
	}
	if v < -limit || v > limit {
		return 0, &ResponseError{Field: field, Reason: fmt.Sprintf("%v out of range", v)}
	}
	return v, nil
}
