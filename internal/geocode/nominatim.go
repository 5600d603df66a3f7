package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fieldcrew/backend/internal/metrics"
)

const (
	defaultConfidence = 0.5
	defaultBaseURL    = "https://nominatim.openstreetmap.org"
	defaultUserAgent  = "fieldcrew-dispatch"
)

var defaultClient = &http.Client{Timeout: 10 * time.Second}

type Nominatim struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	// Limiter paces outgoing requests; nil disables pacing.
	Limiter *rate.Limiter
	Logger  zerolog.Logger
}

type nominatimAddress struct {
	City     string `json:"city"`
	Town     string `json:"town"`
	Village  string `json:"village"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

type nominatimItem struct {
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	DisplayName string           `json:"display_name"`
	Importance  *float64         `json:"importance"`
	Address     nominatimAddress `json:"address"`
	Error       string           `json:"error,omitempty"`
}

func NewNominatim(baseURL, userAgent string, timeout time.Duration, perSecond float64, logger zerolog.Logger) *Nominatim {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	n := &Nominatim{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: timeout},
		Logger:    logger.With().Str("component", "geocode").Logger(),
	}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		n.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return n
}

func (g *Nominatim) GeocodeAddress(ctx context.Context, address string) *Result {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("addressdetails", "1")

	var items []nominatimItem
	if err := g.get(ctx, "/search", q, &items); err != nil {
		g.Logger.Warn().Err(err).Str("address", address).Msg("geocode failed")
		metrics.ProviderRequests.WithLabelValues("geocode", "error").Inc()
		return nil
	}
	res, err := parseNominatimItems(items)
	if err != nil {
		g.Logger.Info().Str("address", address).Msg("geocode returned no results")
		metrics.ProviderRequests.WithLabelValues("geocode", "empty").Inc()
		return nil
	}
	metrics.ProviderRequests.WithLabelValues("geocode", "ok").Inc()
	return &res
}

func (g *Nominatim) ReverseGeocode(ctx context.Context, lat, lon float64) *Result {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("format", "json")
	q.Set("addressdetails", "1")

	var item nominatimItem
	if err := g.get(ctx, "/reverse", q, &item); err != nil {
		g.Logger.Warn().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("reverse geocode failed")
		metrics.ProviderRequests.WithLabelValues("reverse_geocode", "error").Inc()
		return nil
	}
	if item.Error != "" {
		g.Logger.Info().Str("provider_error", item.Error).Msg("reverse geocode returned no results")
		metrics.ProviderRequests.WithLabelValues("reverse_geocode", "empty").Inc()
		return nil
	}
	res, err := parseNominatimItems([]nominatimItem{item})
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("reverse_geocode", "empty").Inc()
		return nil
	}
	metrics.ProviderRequests.WithLabelValues("reverse_geocode", "ok").Inc()
	return &res
}

func (g *Nominatim) get(ctx context.Context, path string, q url.Values, out any) error {
	// Zero fields fall back to defaults locally; g is shared across goroutines.
	client, baseURL, userAgent := g.Client, g.BaseURL, g.UserAgent
	if client == nil {
		client = defaultClient
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if g.Limiter != nil {
		if err := g.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	endpoint := strings.TrimRight(baseURL, "/") + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("nominatim http error: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseNominatimItems(items []nominatimItem) (Result, error) {
	if len(items) == 0 {
		return Result{}, ErrNotFound
	}
	it := items[0]
	lat, err := strconv.ParseFloat(it.Lat, 64)
	if err != nil {
		return Result{}, err
	}
	lon, err := strconv.ParseFloat(it.Lon, 64)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: it.DisplayName,
		City:        firstNonEmpty(it.Address.City, it.Address.Town, it.Address.Village),
		State:       it.Address.State,
		ZipCode:     it.Address.Postcode,
		Country:     it.Address.Country,
		Confidence:  defaultConfidence,
	}
	if it.Importance != nil {
		result.Confidence = *it.Importance
	}
	if result.Latitude == 0 && result.Longitude == 0 && result.DisplayName == "" {
		return Result{}, ErrNotFound
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
