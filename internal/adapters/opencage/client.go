package opencage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/pkg/metrics"
	"github.com/samirrijal/wayline/internal/pkg/telemetry"
)

type geocodeResponse struct {
	Status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Results []struct {
		Geometry struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
		Formatted string `json:"formatted"`
	} `json:"results"`
}

// Client implements ports.Geocoder against the OpenCage geocoding API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates an OpenCage client. timeout bounds every call.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) geocodeURL(q domain.GeocodeQuery) string {
	v := url.Values{}
	v.Set("q", q.Text)
	v.Set("key", q.APIKey)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return c.baseURL + "/geocode/v1/json?" + v.Encode()
}

// Geocode runs a forward or reverse query. OpenCage treats a "lat lng" text
// as a reverse lookup, so both modes share this endpoint. An empty slice
// means no match.
func (c *Client) Geocode(ctx context.Context, q domain.GeocodeQuery) (results []domain.GeocodeResult, err error) {
	start := time.Now()
	ctx, end := telemetry.StartSpan(ctx, "opencage.geocode",
		attribute.String("peer.service", metrics.ServiceOpenCage),
		attribute.Int("opencage.limit", q.Limit),
	)
	defer func() {
		metrics.ObserveDownstream(metrics.ServiceOpenCage, start, err)
		end(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.geocodeURL(q), nil)
	if err != nil {
		return nil, fmt.Errorf("opencage: build request: %w", domain.ErrDownstream)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// *url.Error embeds the request URL, which carries the API key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("opencage: %v: %w", err, domain.ErrDownstream)
	}
	defer resp.Body.Close()

	var out geocodeResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("opencage: status %d: %s: %w", resp.StatusCode, out.Status.Message, domain.ErrDownstream)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("opencage: decode response: %v: %w", decodeErr, domain.ErrDownstream)
	}

	results = make([]domain.GeocodeResult, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, domain.GeocodeResult{
			Lat:     r.Geometry.Lat,
			Lng:     r.Geometry.Lng,
			Address: r.Formatted,
		})
	}
	return results, nil
}
