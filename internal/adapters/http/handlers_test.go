package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	handler "github.com/samirrijal/wayline/internal/adapters/http"
	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/core/usecases"
)

const lineString = `{"type":"LineString","coordinates":[[-2.935,43.263],[-2.934,43.264]]}`

// ---- Fake ports ----

type fakeEngine struct {
	routeFn func(ctx context.Context, from, to domain.LonLat) (json.RawMessage, error)
	calls   atomic.Int32
}

func (f *fakeEngine) Route(ctx context.Context, from, to domain.LonLat) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.routeFn != nil {
		return f.routeFn(ctx, from, to)
	}
	return json.RawMessage(lineString), nil
}

type fakeGeocoder struct {
	geocodeFn func(ctx context.Context, q domain.GeocodeQuery) ([]domain.GeocodeResult, error)
	calls     atomic.Int32

	mu   sync.Mutex
	last domain.GeocodeQuery
}

func (f *fakeGeocoder) Geocode(ctx context.Context, q domain.GeocodeQuery) ([]domain.GeocodeResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = q
	f.mu.Unlock()
	if f.geocodeFn != nil {
		return f.geocodeFn(ctx, q)
	}
	return nil, nil
}

type fakeRoadRepo struct {
	listFn    func(ctx context.Context, limit int) ([]domain.RoadFeature, error)
	lastLimit atomic.Int32
}

func (f *fakeRoadRepo) ListRoads(ctx context.Context, limit int) ([]domain.RoadFeature, error) {
	f.lastLimit.Store(int32(limit))
	if f.listFn != nil {
		return f.listFn(ctx, limit)
	}
	return nil, nil
}

type fakeAddressRepo struct {
	nearestFn func(ctx context.Context, p domain.GeoPoint, box *domain.BBox) (*domain.Address, error)
	findFn    func(ctx context.Context, address string) (*domain.Address, error)
	calls     atomic.Int32
}

func (f *fakeAddressRepo) NearestAddress(ctx context.Context, p domain.GeoPoint, box *domain.BBox) (*domain.Address, error) {
	f.calls.Add(1)
	if f.nearestFn != nil {
		return f.nearestFn(ctx, p, box)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAddressRepo) FindByAddress(ctx context.Context, address string) (*domain.Address, error) {
	f.calls.Add(1)
	if f.findFn != nil {
		return f.findFn(ctx, address)
	}
	return nil, domain.ErrNotFound
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeConn struct{ up bool }

func (f fakeConn) IsConnected() bool { return f.up }

// ---- Helpers ----

type fakes struct {
	engine   *fakeEngine
	geocoder *fakeGeocoder
	roads    *fakeRoadRepo
	address  *fakeAddressRepo
}

func newDeps(f fakes, apiKey string) *handler.Dependencies {
	if f.engine == nil {
		f.engine = &fakeEngine{}
	}
	if f.geocoder == nil {
		f.geocoder = &fakeGeocoder{}
	}
	if f.roads == nil {
		f.roads = &fakeRoadRepo{}
	}
	if f.address == nil {
		f.address = &fakeAddressRepo{}
	}
	return &handler.Dependencies{
		Routes:         usecases.NewRouteService(f.engine, nil),
		Geocoding:      usecases.NewGeocodeService(f.geocoder, apiKey, nil),
		Roads:          usecases.NewRoadService(f.roads, nil),
		Addresses:      usecases.NewAddressService(f.address, nil),
		DB:             fakePinger{},
		RequestTimeout: 2 * time.Second,
		Version:        "test",
	}
}

func newApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	handler.SetupRoutes(app, deps)
	return app
}

func doGet(t *testing.T, app *fiber.App, target string) (int, string, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", target, nil), -1)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header.Get("Content-Type"), string(body)
}

func roadRows(n int) []domain.RoadFeature {
	rows := make([]domain.RoadFeature, n)
	for i := range rows {
		rows[i] = domain.RoadFeature{
			ID:       int64(i + 1),
			Highway:  "residential",
			Geometry: json.RawMessage(lineString),
		}
	}
	return rows
}

// ---- Route ----

func TestRouteHandler_Success(t *testing.T) {
	engine := &fakeEngine{}
	app := newApp(newDeps(fakes{engine: engine}, "key"))

	status, ctype, body := doGet(t, app, "/api/route?from=-2.935,43.263&to=-2.934,43.264")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if !strings.HasPrefix(ctype, "application/json") {
		t.Errorf("content-type = %q", ctype)
	}
	if body != lineString {
		t.Errorf("geometry not returned verbatim: %s", body)
	}
	if engine.calls.Load() != 1 {
		t.Errorf("expected 1 engine call, got %d", engine.calls.Load())
	}
}

func TestRouteHandler_Validation(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no params", "", `Missing "from" or "to" query parameters.`},
		{"missing to", "?from=-2.935,43.263", `Missing "from" or "to" query parameters.`},
		{"missing from", "?to=-2.935,43.263", `Missing "from" or "to" query parameters.`},
		{"one component", "?from=-2.935&to=-2.934,43.264", `Invalid coordinate format. Use "lon,lat".`},
		{"three components", "?from=1,2,3&to=-2.934,43.264", `Invalid coordinate format. Use "lon,lat".`},
		{"bad to", "?from=-2.935,43.263&to=nowhere", `Invalid coordinate format. Use "lon,lat".`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			app := newApp(newDeps(fakes{engine: engine}, "key"))

			status, ctype, body := doGet(t, app, "/api/route"+tt.query)
			if status != 400 {
				t.Errorf("expected 400, got %d", status)
			}
			if !strings.HasPrefix(ctype, "text/plain") {
				t.Errorf("content-type = %q", ctype)
			}
			if body != tt.want {
				t.Errorf("body = %q, want %q", body, tt.want)
			}
			if engine.calls.Load() != 0 {
				t.Errorf("engine called on invalid input")
			}
		})
	}
}

func TestRouteHandler_DownstreamFailure(t *testing.T) {
	engine := &fakeEngine{routeFn: func(context.Context, domain.LonLat, domain.LonLat) (json.RawMessage, error) {
		return nil, fmt.Errorf("osrm: dial tcp 10.0.0.7:5000: connection refused: %w", domain.ErrDownstream)
	}}
	app := newApp(newDeps(fakes{engine: engine}, "key"))

	status, _, body := doGet(t, app, "/api/route?from=-2.935,43.263&to=-2.934,43.264")
	if status != 500 {
		t.Fatalf("expected 500, got %d", status)
	}
	if body != "Error calculating route." {
		t.Errorf("body = %q", body)
	}
	if strings.Contains(body, "10.0.0.7") {
		t.Error("downstream detail leaked to client")
	}
}

func TestRouteHandler_EmptyGeometry(t *testing.T) {
	engine := &fakeEngine{routeFn: func(context.Context, domain.LonLat, domain.LonLat) (json.RawMessage, error) {
		return json.RawMessage("null"), nil
	}}
	app := newApp(newDeps(fakes{engine: engine}, "key"))

	status, _, body := doGet(t, app, "/api/route?from=-2.935,43.263&to=-2.934,43.264")
	if status != 500 || body != "Error calculating route." {
		t.Errorf("got %d %q", status, body)
	}
}

func TestRouteHandler_Timeout(t *testing.T) {
	engine := &fakeEngine{routeFn: func(ctx context.Context, _, _ domain.LonLat) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	deps := newDeps(fakes{engine: engine}, "key")
	deps.RequestTimeout = 50 * time.Millisecond
	app := newApp(deps)

	status, _, body := doGet(t, app, "/api/route?from=-2.935,43.263&to=-2.934,43.264")
	if status != 500 || body != "Error calculating route." {
		t.Errorf("got %d %q", status, body)
	}
}

// ---- Geocode ----

func TestGeocodeHandler_FirstResult(t *testing.T) {
	geocoder := &fakeGeocoder{geocodeFn: func(context.Context, domain.GeocodeQuery) ([]domain.GeocodeResult, error) {
		return []domain.GeocodeResult{
			{Lat: 43.2630, Lng: -2.9350, Address: "Plaza Moyua, Bilbao"},
			{Lat: 40.4168, Lng: -3.7038, Address: "Madrid"},
		}, nil
	}}
	app := newApp(newDeps(fakes{geocoder: geocoder}, "secret"))

	status, _, body := doGet(t, app, "/api/geocode?q="+url.QueryEscape("Plaza Moyua"))
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}

	var got map[string]interface{}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["lat"] != 43.263 || got["lng"] != -2.935 || got["address"] != "Plaza Moyua, Bilbao" {
		t.Errorf("unexpected body: %v", got)
	}
	if len(got) != 3 {
		t.Errorf("expected exactly lat/lng/address, got %v", got)
	}

	if geocoder.last.Text != "Plaza Moyua" || geocoder.last.APIKey != "secret" || geocoder.last.Limit != 1 {
		t.Errorf("unexpected query: %+v", geocoder.last)
	}
}

func TestGeocodeHandler_Errors(t *testing.T) {
	failing := func(context.Context, domain.GeocodeQuery) ([]domain.GeocodeResult, error) {
		return nil, fmt.Errorf("opencage: status 503: %w", domain.ErrDownstream)
	}
	tests := []struct {
		name       string
		query      string
		apiKey     string
		geocodeFn  func(context.Context, domain.GeocodeQuery) ([]domain.GeocodeResult, error)
		wantStatus int
		wantBody   string
		wantCalls  int32
	}{
		{"missing q", "", "key", nil, 400, `Missing search query "q".`, 0},
		{"empty q", "?q=", "key", nil, 400, `Missing search query "q".`, 0},
		{"no api key", "?q=Bilbao", "", nil, 500, "Server is missing API key.", 0},
		{"no results", "?q=Atlantis", "key", nil, 404, "Location not found.", 1},
		{"downstream", "?q=Bilbao", "key", failing, 500, "Error during geocoding.", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			geocoder := &fakeGeocoder{geocodeFn: tt.geocodeFn}
			app := newApp(newDeps(fakes{geocoder: geocoder}, tt.apiKey))

			status, ctype, body := doGet(t, app, "/api/geocode"+tt.query)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
			if !strings.HasPrefix(ctype, "text/plain") {
				t.Errorf("content-type = %q", ctype)
			}
			if geocoder.calls.Load() != tt.wantCalls {
				t.Errorf("geocoder calls = %d, want %d", geocoder.calls.Load(), tt.wantCalls)
			}
		})
	}
}

// ---- Reverse geocode ----

func TestReverseGeocodeHandler_Success(t *testing.T) {
	geocoder := &fakeGeocoder{geocodeFn: func(context.Context, domain.GeocodeQuery) ([]domain.GeocodeResult, error) {
		return []domain.GeocodeResult{{Lat: 43.263, Lng: -2.935, Address: "Gran Vía 1, Bilbao"}}, nil
	}}
	app := newApp(newDeps(fakes{geocoder: geocoder}, "key"))

	status, _, body := doGet(t, app, "/api/reverse-geocode?lat=43.263&lng=-2.935")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if body != `{"address":"Gran Vía 1, Bilbao"}` {
		t.Errorf("body = %s", body)
	}
	if geocoder.last.Text != "43.263 -2.935" {
		t.Errorf("query text = %q", geocoder.last.Text)
	}
}

func TestReverseGeocodeHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		apiKey     string
		wantStatus int
		wantBody   string
	}{
		{"missing both", "", "key", 400, `Missing "lat" or "lng" parameters.`},
		{"missing lng", "?lat=43.263", "key", 400, `Missing "lat" or "lng" parameters.`},
		{"missing lat", "?lng=-2.935", "key", 400, `Missing "lat" or "lng" parameters.`},
		{"no api key", "?lat=43.263&lng=-2.935", "", 500, "Server is missing API key."},
		{"no results", "?lat=0&lng=0", "key", 404, "Address not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(newDeps(fakes{}, tt.apiKey))

			status, _, body := doGet(t, app, "/api/reverse-geocode"+tt.query)
			if status != tt.wantStatus || body != tt.wantBody {
				t.Errorf("got %d %q, want %d %q", status, body, tt.wantStatus, tt.wantBody)
			}
		})
	}
}

func TestReverseGeocodeHandler_DownstreamFailure(t *testing.T) {
	geocoder := &fakeGeocoder{geocodeFn: func(context.Context, domain.GeocodeQuery) ([]domain.GeocodeResult, error) {
		return nil, errors.New("unexpected EOF")
	}}
	app := newApp(newDeps(fakes{geocoder: geocoder}, "key"))

	status, _, body := doGet(t, app, "/api/reverse-geocode?lat=43.263&lng=-2.935")
	if status != 500 || body != "Error during reverse geocoding." {
		t.Errorf("got %d %q", status, body)
	}
}

// ---- Roads ----

type featureCollection struct {
	Type     string `json:"type"`
	Features []struct {
		Type       string                 `json:"type"`
		Geometry   map[string]interface{} `json:"geometry"`
		Properties map[string]interface{} `json:"properties"`
	} `json:"features"`
}

func TestRoadsHandler_Success(t *testing.T) {
	roads := &fakeRoadRepo{listFn: func(context.Context, int) ([]domain.RoadFeature, error) {
		return []domain.RoadFeature{
			{ID: 4242, Highway: "primary", Geometry: json.RawMessage(lineString)},
			{ID: -17, Highway: "footway", Geometry: json.RawMessage(lineString)},
		}, nil
	}}
	app := newApp(newDeps(fakes{roads: roads}, "key"))

	status, _, body := doGet(t, app, "/api/roads")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}

	var fc featureCollection
	if err := json.Unmarshal([]byte(body), &fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("unexpected collection: %+v", fc)
	}

	f := fc.Features[0]
	if f.Type != "Feature" || f.Geometry["type"] != "LineString" {
		t.Errorf("unexpected feature: %+v", f)
	}
	if f.Properties["id"] != float64(4242) || f.Properties["type"] != "primary" {
		t.Errorf("unexpected properties: %v", f.Properties)
	}
	if fc.Features[1].Properties["id"] != float64(-17) {
		t.Errorf("negative osm id not preserved: %v", fc.Features[1].Properties)
	}
	if roads.lastLimit.Load() != int32(domain.MaxRoadFeatures) {
		t.Errorf("limit = %d, want %d", roads.lastLimit.Load(), domain.MaxRoadFeatures)
	}
}

func TestRoadsHandler_Cap(t *testing.T) {
	roads := &fakeRoadRepo{listFn: func(context.Context, int) ([]domain.RoadFeature, error) {
		return roadRows(1500), nil
	}}
	app := newApp(newDeps(fakes{roads: roads}, "key"))

	status, _, body := doGet(t, app, "/api/roads")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	var fc featureCollection
	if err := json.Unmarshal([]byte(body), &fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fc.Features) != domain.MaxRoadFeatures {
		t.Errorf("expected %d features, got %d", domain.MaxRoadFeatures, len(fc.Features))
	}
}

func TestRoadsHandler_Empty(t *testing.T) {
	app := newApp(newDeps(fakes{}, "key"))

	status, _, body := doGet(t, app, "/api/roads")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	var fc featureCollection
	if err := json.Unmarshal([]byte(body), &fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 0 {
		t.Errorf("unexpected collection: %s", body)
	}
}

func TestRoadsHandler_QueryFailure(t *testing.T) {
	roads := &fakeRoadRepo{listFn: func(context.Context, int) ([]domain.RoadFeature, error) {
		return nil, fmt.Errorf("query roads: relation \"planet_osm_line\" does not exist: %w", domain.ErrDownstream)
	}}
	app := newApp(newDeps(fakes{roads: roads}, "key"))

	status, ctype, body := doGet(t, app, "/api/roads")
	if status != 500 {
		t.Fatalf("expected 500, got %d", status)
	}
	if !strings.HasPrefix(ctype, "application/json") {
		t.Errorf("content-type = %q", ctype)
	}
	if body != `{"error":"An error occurred while fetching road data."}` {
		t.Errorf("body = %s", body)
	}
}

func TestRoadsHandler_GeometryVerbatim(t *testing.T) {
	const stored = `{"type":"LineString","crs":{"type":"name","properties":{"name":"EPSG:3857"}},"coordinates":[[-326735.12,5356455.1,12.5],[-326736.2,5356456.3,13]]}`
	roads := &fakeRoadRepo{listFn: func(context.Context, int) ([]domain.RoadFeature, error) {
		return []domain.RoadFeature{{ID: 7, Highway: "primary", Geometry: json.RawMessage(stored)}}, nil
	}}
	app := newApp(newDeps(fakes{roads: roads}, "key"))

	status, _, body := doGet(t, app, "/api/roads")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if !strings.Contains(body, `"geometry":`+stored) {
		t.Errorf("stored geometry not passed through: %s", body)
	}
}

// ---- Nearest address ----

func TestNearestAddressHandler_Success(t *testing.T) {
	addresses := &fakeAddressRepo{nearestFn: func(_ context.Context, p domain.GeoPoint, _ *domain.BBox) (*domain.Address, error) {
		if p.Lat != 43.263 || p.Lon != -2.935 {
			t.Errorf("unexpected point %+v", p)
		}
		return &domain.Address{Lat: 43.2635, Lon: -2.935, Address: "Plaza Moyua, Bilbao"}, nil
	}}
	app := newApp(newDeps(fakes{address: addresses}, "key"))

	status, ctype, body := doGet(t, app, "/api/nearest-address?lat=43.263&lon=-2.935")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if !strings.HasPrefix(ctype, "application/json") {
		t.Errorf("content-type = %q", ctype)
	}
	var got map[string]interface{}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["address"] != "Plaza Moyua, Bilbao" || got["lat"] != 43.2635 || got["lon"] != -2.935 {
		t.Errorf("unexpected body: %v", got)
	}
	if d, _ := got["distance_m"].(float64); d < 50 || d > 60 {
		t.Errorf("distance_m = %v, want ~55", got["distance_m"])
	}
}

func TestNearestAddressHandler_Errors(t *testing.T) {
	failing := &fakeAddressRepo{nearestFn: func(context.Context, domain.GeoPoint, *domain.BBox) (*domain.Address, error) {
		return nil, errors.New("dial tcp 10.0.0.9:5432: connection refused")
	}}
	tests := []struct {
		name       string
		query      string
		repo       *fakeAddressRepo
		wantStatus int
		wantBody   string
		queried    bool
	}{
		{"missing both", "", nil, 400, `Missing "lat" or "lon" parameters.`, false},
		{"missing lon", "?lat=43.263", nil, 400, `Missing "lat" or "lon" parameters.`, false},
		{"non numeric", "?lat=north&lon=-2.935", nil, 400, "Invalid coordinates.", false},
		{"out of range", "?lat=43.263&lon=200", nil, 400, "Invalid coordinates.", false},
		{"empty table", "?lat=43.263&lon=-2.935", nil, 404, "No address found.", true},
		{"store down", "?lat=43.263&lon=-2.935", failing, 500, "Error looking up nearest address.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := tt.repo
			if repo == nil {
				repo = &fakeAddressRepo{}
			}
			app := newApp(newDeps(fakes{address: repo}, "key"))

			status, ctype, body := doGet(t, app, "/api/nearest-address"+tt.query)
			if status != tt.wantStatus || body != tt.wantBody {
				t.Errorf("got %d %q, want %d %q", status, body, tt.wantStatus, tt.wantBody)
			}
			if !strings.HasPrefix(ctype, "text/plain") {
				t.Errorf("content-type = %q", ctype)
			}
			if (repo.calls.Load() > 0) != tt.queried {
				t.Errorf("store calls = %d", repo.calls.Load())
			}
		})
	}
}

// ---- Address coordinates ----

func TestAddressCoordinatesHandler_Success(t *testing.T) {
	addresses := &fakeAddressRepo{findFn: func(_ context.Context, address string) (*domain.Address, error) {
		return &domain.Address{Lat: 43.263, Lon: -2.935, Address: address}, nil
	}}
	app := newApp(newDeps(fakes{address: addresses}, "key"))

	status, _, body := doGet(t, app, "/api/address-coordinates?address="+url.QueryEscape("Plaza Moyua, Bilbao"))
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if body != `{"lat":43.263,"lon":-2.935}` {
		t.Errorf("body = %s", body)
	}
}

func TestAddressCoordinatesHandler_Errors(t *testing.T) {
	failing := &fakeAddressRepo{findFn: func(context.Context, string) (*domain.Address, error) {
		return nil, errors.New("connection reset by peer")
	}}
	tests := []struct {
		name       string
		query      string
		repo       *fakeAddressRepo
		wantStatus int
		wantBody   string
	}{
		{"missing", "", nil, 400, `Missing "address" parameter.`},
		{"unknown", "?address=Atlantis", nil, 404, "Address not found."},
		{"store down", "?address=Bilbao", failing, 500, "Error looking up address."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(newDeps(fakes{address: tt.repo}, "key"))

			status, _, body := doGet(t, app, "/api/address-coordinates"+tt.query)
			if status != tt.wantStatus || body != tt.wantBody {
				t.Errorf("got %d %q, want %d %q", status, body, tt.wantStatus, tt.wantBody)
			}
		})
	}
}

// ---- Concurrency ----

// TestConcurrentRequests checks each in-flight request gets its own answer.
func TestConcurrentRequests(t *testing.T) {
	engine := &fakeEngine{routeFn: func(_ context.Context, from, to domain.LonLat) (json.RawMessage, error) {
		time.Sleep(10 * time.Millisecond)
		return json.RawMessage(fmt.Sprintf(`{"type":"LineString","coordinates":[[%s],[%s]]}`, from, to)), nil
	}}
	app := newApp(newDeps(fakes{engine: engine}, "key"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	defer func() { _ = app.Shutdown() }()

	base := "http://" + ln.Addr().String()
	client := &http.Client{Timeout: 5 * time.Second}

	const n = 32
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			from := fmt.Sprintf("%d,1", i)
			to := fmt.Sprintf("%d,2", i)
			resp, err := client.Get(base + "/api/route?from=" + from + "&to=" + to)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			want := fmt.Sprintf(`{"type":"LineString","coordinates":[[%s],[%s]]}`, from, to)
			if resp.StatusCode != 200 || string(body) != want {
				return fmt.Errorf("request %d: got %d %s", i, resp.StatusCode, body)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if engine.calls.Load() != n {
		t.Errorf("engine calls = %d, want %d", engine.calls.Load(), n)
	}
}

// ---- GraphQL ----

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func doGraphQL(t *testing.T, app *fiber.App, query string) gqlResponse {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"query": query})
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("graphql: %v", err)
	}
	defer resp.Body.Close()

	var out gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode graphql response: %v", err)
	}
	return out
}

func TestGraphQL_Route(t *testing.T) {
	app := newApp(newDeps(fakes{}, "key"))

	out := doGraphQL(t, app, `{ route(from: "-2.935,43.263", to: "-2.934,43.264") }`)
	if len(out.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", out.Errors)
	}
	var geom map[string]interface{}
	if err := json.Unmarshal(out.Data["route"], &geom); err != nil {
		t.Fatalf("decode route: %v", err)
	}
	if geom["type"] != "LineString" {
		t.Errorf("unexpected geometry: %v", geom)
	}
}

func TestGraphQL_RouteInvalid(t *testing.T) {
	app := newApp(newDeps(fakes{}, "key"))

	out := doGraphQL(t, app, `{ route(from: "-2.935", to: "-2.934,43.264") }`)
	if len(out.Errors) != 1 || out.Errors[0].Message != `Invalid coordinate format. Use "lon,lat".` {
		t.Errorf("unexpected errors: %+v", out.Errors)
	}
}

func TestGraphQL_Geocode(t *testing.T) {
	geocoder := &fakeGeocoder{geocodeFn: func(_ context.Context, q domain.GeocodeQuery) ([]domain.GeocodeResult, error) {
		if q.Text == "Atlantis" {
			return nil, nil
		}
		return []domain.GeocodeResult{{Lat: 43.263, Lng: -2.935, Address: "Bilbao"}}, nil
	}}
	app := newApp(newDeps(fakes{geocoder: geocoder}, "key"))

	out := doGraphQL(t, app, `{ geocode(q: "Bilbao") { lat lng address } missing: geocode(q: "Atlantis") { address } }`)
	if len(out.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", out.Errors)
	}

	var place struct {
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		Address string  `json:"address"`
	}
	if err := json.Unmarshal(out.Data["geocode"], &place); err != nil {
		t.Fatalf("decode place: %v", err)
	}
	if place.Address != "Bilbao" || place.Lat != 43.263 || place.Lng != -2.935 {
		t.Errorf("unexpected place: %+v", place)
	}
	if string(out.Data["missing"]) != "null" {
		t.Errorf("not found should resolve to null, got %s", out.Data["missing"])
	}
}

func TestGraphQL_ReverseGeocodeNoKey(t *testing.T) {
	app := newApp(newDeps(fakes{}, ""))

	out := doGraphQL(t, app, `{ reverseGeocode(lat: "43.263", lng: "-2.935") { address } }`)
	if len(out.Errors) != 1 || out.Errors[0].Message != "Server is missing API key." {
		t.Errorf("unexpected errors: %+v", out.Errors)
	}
}

func TestGraphQL_Addresses(t *testing.T) {
	addresses := &fakeAddressRepo{
		nearestFn: func(context.Context, domain.GeoPoint, *domain.BBox) (*domain.Address, error) {
			return &domain.Address{Lat: 43.2635, Lon: -2.935, Address: "Plaza Moyua, Bilbao"}, nil
		},
		findFn: func(_ context.Context, address string) (*domain.Address, error) {
			if address == "Atlantis" {
				return nil, domain.ErrNotFound
			}
			return &domain.Address{Lat: 43.263, Lon: -2.935, Address: address}, nil
		},
	}
	app := newApp(newDeps(fakes{address: addresses}, "key"))

	out := doGraphQL(t, app, `{
		nearestAddress(lat: "43.263", lon: "-2.935") { address distanceM }
		addressCoordinates(address: "Bilbao") { lat lon }
		missing: addressCoordinates(address: "Atlantis") { lat }
	}`)
	if len(out.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", out.Errors)
	}

	var near struct {
		Address   string  `json:"address"`
		DistanceM float64 `json:"distanceM"`
	}
	if err := json.Unmarshal(out.Data["nearestAddress"], &near); err != nil {
		t.Fatalf("decode nearestAddress: %v", err)
	}
	if near.Address != "Plaza Moyua, Bilbao" || near.DistanceM < 50 || near.DistanceM > 60 {
		t.Errorf("unexpected nearest address: %+v", near)
	}
	if string(out.Data["addressCoordinates"]) != `{"lat":43.263,"lon":-2.935}` {
		t.Errorf("unexpected coordinates: %s", out.Data["addressCoordinates"])
	}
	if string(out.Data["missing"]) != "null" {
		t.Errorf("not found should resolve to null, got %s", out.Data["missing"])
	}
}

func TestGraphQL_NearestAddressInvalid(t *testing.T) {
	app := newApp(newDeps(fakes{}, "key"))

	out := doGraphQL(t, app, `{ nearestAddress(lat: "x", lon: "-2.935") { address } }`)
	if len(out.Errors) != 1 || out.Errors[0].Message != "Invalid coordinates." {
		t.Errorf("unexpected errors: %+v", out.Errors)
	}
}

func TestGraphQL_Roads(t *testing.T) {
	roads := &fakeRoadRepo{listFn: func(context.Context, int) ([]domain.RoadFeature, error) {
		return roadRows(3), nil
	}}
	app := newApp(newDeps(fakes{roads: roads}, "key"))

	out := doGraphQL(t, app, `{ roads }`)
	if len(out.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", out.Errors)
	}
	var fc featureCollection
	if err := json.Unmarshal(out.Data["roads"], &fc); err != nil {
		t.Fatalf("decode roads: %v", err)
	}
	if len(fc.Features) != 3 {
		t.Errorf("expected 3 features, got %d", len(fc.Features))
	}
}

// ---- Health / readiness ----

func TestHealthHandler(t *testing.T) {
	app := newApp(newDeps(fakes{}, "key"))

	status, _, body := doGet(t, app, "/api/health")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	var got map[string]interface{}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "healthy" || got["version"] != "test" {
		t.Errorf("unexpected body: %v", got)
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name       string
		db         handler.Pinger
		events     handler.ConnStatus
		wantStatus int
		wantNATS   string
	}{
		{"db ok, no nats", fakePinger{}, nil, 200, "not configured"},
		{"db ok, nats up", fakePinger{}, fakeConn{up: true}, 200, "ok"},
		{"db ok, nats down", fakePinger{}, fakeConn{up: false}, 200, "disconnected"},
		{"db down", fakePinger{err: errors.New("connection refused")}, nil, 503, "not configured"},
		{"no db", nil, nil, 503, "not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newDeps(fakes{}, "key")
			deps.DB = tt.db
			deps.Events = tt.events
			app := newApp(deps)

			status, _, body := doGet(t, app, "/api/ready")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			var got struct {
				Checks map[string]string `json:"checks"`
			}
			if err := json.Unmarshal([]byte(body), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Checks["nats"] != tt.wantNATS {
				t.Errorf("nats check = %q, want %q", got.Checks["nats"], tt.wantNATS)
			}
		})
	}
}

// ---- Misc ----

func TestErrorHandler_NotFound(t *testing.T) {
	app := newApp(newDeps(fakes{}, "key"))

	status, _, body := doGet(t, app, "/api/unknown")
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
	var apiErr handler.APIError
	if err := json.Unmarshal([]byte(body), &apiErr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if apiErr.Code != "not_found" || apiErr.Status != 404 {
		t.Errorf("unexpected error body: %+v", apiErr)
	}
	if apiErr.RequestID == "" {
		t.Error("expected request id in error body")
	}
}

func TestDocs(t *testing.T) {
	app := newApp(newDeps(fakes{}, "key"))

	status, _, body := doGet(t, app, "/docs/openapi.yaml")
	if status != 200 || !strings.Contains(body, "/api/roads") {
		t.Errorf("openapi.yaml not served: %d", status)
	}

	status, ctype, body := doGet(t, app, "/docs/openapi.json")
	if status != 200 || !strings.HasPrefix(ctype, "application/json") {
		t.Fatalf("openapi.json not served: %d %s", status, ctype)
	}
	var doc struct {
		OpenAPI string                     `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("decode openapi.json: %v", err)
	}
	if doc.OpenAPI == "" || doc.Paths["/api/nearest-address"] == nil {
		t.Errorf("unexpected openapi.json: %s", body)
	}

	status, ctype, body = doGet(t, app, "/docs")
	if status != 200 || !strings.HasPrefix(ctype, "text/html") {
		t.Errorf("swagger ui not served: %d %s", status, ctype)
	}
	if !strings.Contains(body, "<title>Wayline API ") || !strings.Contains(body, "/docs/openapi.json") {
		t.Errorf("docs page not rendered from the API description: %s", body)
	}
}

func TestAccessLog(t *testing.T) {
	var buf syncBuffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	app := newApp(newDeps(fakes{}, "key"))
	doGet(t, app, "/api/address-coordinates?address=Atlantis")
	doGet(t, app, "/api/health")

	var lines []map[string]interface{}
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var line map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		if line["msg"] == "request" {
			lines = append(lines, line)
		}
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 access log lines, got %d: %s", len(lines), buf.String())
	}

	lookup := lines[0]
	if lookup["lookup"] != domain.LookupAddress || lookup["status"] != float64(404) || lookup["level"] != "WARN" {
		t.Errorf("unexpected lookup line: %v", lookup)
	}
	if lookup["route"] != "/api/address-coordinates" {
		t.Errorf("route = %v", lookup["route"])
	}
	if id, _ := lookup["request_id"].(string); id == "" {
		t.Error("access log line missing request_id")
	}
	if _, ok := lines[1]["lookup"]; ok || lines[1]["level"] != "INFO" {
		t.Errorf("unexpected health line: %v", lines[1])
	}
}

// syncBuffer serialises writes from concurrent handlers.
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSecurityHeaders(t *testing.T) {
	app := newApp(newDeps(fakes{}, "key"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
}
