package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseNominatimItems(t *testing.T) {
	importance := 0.72
	items := []nominatimItem{
		{
			Lat:         "30.2672",
			Lon:         "-97.7431",
			DisplayName: "Austin, Travis County, Texas, United States",
			Importance:  &importance,
			Address:     nominatimAddress{Town: "Austin", State: "Texas", Postcode: "78701", Country: "United States"},
		},
	}
	res, err := parseNominatimItems(items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Latitude != 30.2672 || res.Longitude != -97.7431 {
		t.Fatalf("unexpected coordinates: %+v", res)
	}
	if res.City != "Austin" || res.State != "Texas" || res.ZipCode != "78701" {
		t.Fatalf("unexpected address details: %+v", res)
	}
	if res.Confidence != 0.72 {
		t.Fatalf("unexpected confidence: %f", res.Confidence)
	}
}

func TestParseNominatimItemsDefaultConfidence(t *testing.T) {
	res, err := parseNominatimItems([]nominatimItem{{Lat: "1", Lon: "2", DisplayName: "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Confidence != 0.5 {
		t.Fatalf("expected default confidence 0.5, got %f", res.Confidence)
	}
}

func TestParseNominatimItemsEmpty(t *testing.T) {
	if _, err := parseNominatimItems(nil); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseNominatimItemsZeroPointWithoutName(t *testing.T) {
	if _, err := parseNominatimItems([]nominatimItem{{Lat: "0", Lon: "0"}}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := parseNominatimItems([]nominatimItem{{Lat: "0", Lon: "0", DisplayName: "Null Island"}}); err != nil {
		t.Fatalf("named zero point should resolve, got %v", err)
	}
}

func TestGeocodeAddressConcurrentOnZeroConfigClient(t *testing.T) {
	var hits, missingUA atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") != defaultUserAgent {
			missingUA.Add(1)
		}
		_, _ = w.Write([]byte(`[{"lat":"30.2672","lon":"-97.7431","display_name":"Austin"}]`))
	}))
	defer srv.Close()

	g := &Nominatim{BaseURL: srv.URL}
	results := make([]*Result, 5)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = g.GeocodeAddress(context.Background(), "100 Congress Ave")
		}()
	}
	wg.Wait()

	for i, res := range results {
		if res == nil || res.Latitude != 30.2672 {
			t.Fatalf("lookup %d: unexpected result %+v", i, res)
		}
	}
	if hits.Load() != 5 || missingUA.Load() != 0 {
		t.Fatalf("expected 5 requests with default user agent, got hits=%d bad=%d", hits.Load(), missingUA.Load())
	}
	if g.Client != nil || g.UserAgent != "" {
		t.Fatalf("lookups must not mutate the client: %+v", g)
	}
}

func TestGeocodeAddressSendsQueryAndUserAgent(t *testing.T) {
	var (
		mu       sync.Mutex
		gotUA    string
		gotQuery = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		mu.Unlock()
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"32.7767","lon":"-96.7970","display_name":"Dallas, TX","importance":0.8,"address":{"city":"Dallas","state":"Texas","postcode":"75201"}}]`))
	}))
	defer srv.Close()

	g := NewNominatim(srv.URL, "fieldcrew-test/1.0", time.Second, 0, zerolog.Nop())
	res := g.GeocodeAddress(context.Background(), "100 Main St, Dallas, TX")
	if res == nil {
		t.Fatalf("expected result")
	}
	mu.Lock()
	defer mu.Unlock()
	if gotUA != "fieldcrew-test/1.0" {
		t.Fatalf("unexpected user agent %q", gotUA)
	}
	if gotQuery["q"] != "100 Main St, Dallas, TX" || gotQuery["format"] != "json" || gotQuery["limit"] != "1" || gotQuery["addressdetails"] != "1" {
		t.Fatalf("unexpected query params %v", gotQuery)
	}
	if res.City != "Dallas" || res.ZipCode != "75201" || res.Confidence != 0.8 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestGeocodeAddressNilOnEmptyAndHTTPError(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewNominatim(srv.URL, "ua", time.Second, 0, zerolog.Nop())
	if res := g.GeocodeAddress(context.Background(), "nowhere"); res != nil {
		t.Fatalf("expected nil for empty results, got %+v", res)
	}
	status.Store(http.StatusInternalServerError)
	if res := g.GeocodeAddress(context.Background(), "nowhere"); res != nil {
		t.Fatalf("expected nil for http error, got %+v", res)
	}
	if res := g.GeocodeAddress(context.Background(), "   "); res != nil {
		t.Fatalf("expected nil for blank address")
	}
}

func TestReverseGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("lat") == "0.000000" {
			_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
			return
		}
		_, _ = w.Write([]byte(`{"lat":"30.2672","lon":"-97.7431","display_name":"Austin","address":{"village":"Austin","state":"Texas"}}`))
	}))
	defer srv.Close()

	g := NewNominatim(srv.URL, "ua", time.Second, 0, zerolog.Nop())
	res := g.ReverseGeocode(context.Background(), 30.2672, -97.7431)
	if res == nil || res.City != "Austin" {
		t.Fatalf("unexpected reverse result %+v", res)
	}
	if res := g.ReverseGeocode(context.Background(), 0, 0); res != nil {
		t.Fatalf("expected nil for provider error, got %+v", res)
	}
}
