package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/pkg/metrics"
	"github.com/samirrijal/wayline/internal/pkg/telemetry"
)

// routeResponse is the part of an OSRM /route reply the gateway reads.
type routeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Routes  []struct {
		Geometry json.RawMessage `json:"geometry"`
	} `json:"routes"`
}

// Client implements ports.RoutingEngine against an OSRM HTTP server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates an OSRM client. timeout bounds every call.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// routeURL builds /route/v1/driving/{lon},{lat};{lon},{lat} asking for the
// full overview encoded as GeoJSON.
func (c *Client) routeURL(from, to domain.LonLat) string {
	coords := pathCoord(from) + ";" + pathCoord(to)
	q := url.Values{}
	q.Set("overview", "full")
	q.Set("geometries", "geojson")
	return c.baseURL + "/route/v1/driving/" + coords + "?" + q.Encode()
}

// pathCoord escapes each component but keeps the separating comma literal.
func pathCoord(p domain.LonLat) string {
	return url.PathEscape(p.Lon) + "," + url.PathEscape(p.Lat)
}

// Route returns the geometry of the first route, unmodified.
func (c *Client) Route(ctx context.Context, from, to domain.LonLat) (geometry json.RawMessage, err error) {
	start := time.Now()
	ctx, end := telemetry.StartSpan(ctx, "osrm.route",
		attribute.String("peer.service", metrics.ServiceOSRM),
		attribute.String("osrm.from", from.String()),
		attribute.String("osrm.to", to.String()),
	)
	defer func() {
		metrics.ObserveDownstream(metrics.ServiceOSRM, start, err)
		end(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.routeURL(from, to), nil)
	if err != nil {
		return nil, fmt.Errorf("osrm: build request: %w", domain.ErrDownstream)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osrm: %v: %w", err, domain.ErrDownstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("osrm: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), domain.ErrDownstream)
	}

	var out routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("osrm: decode response: %v: %w", err, domain.ErrDownstream)
	}
	if len(out.Routes) == 0 {
		return nil, fmt.Errorf("osrm: no routes in response (code %q): %w", out.Code, domain.ErrDownstream)
	}
	if len(out.Routes[0].Geometry) == 0 || string(out.Routes[0].Geometry) == "null" {
		return nil, fmt.Errorf("osrm: first route has no geometry: %w", domain.ErrDownstream)
	}

	return out.Routes[0].Geometry, nil
}
