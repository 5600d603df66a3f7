package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/fieldcrew/backend/internal/metrics"
	"github.com/fieldcrew/backend/internal/models"
)

const (
	SourceFormula = "formula"
	SourceRouted  = "routed"

	DepartureNone       = ""
	DepartureNow        = "now"
	DeparturePredictive = "predictive"

	trafficBucket = 15 * time.Minute
)

var errProviderStatus = errors.New("routing provider returned non-OK status")

type Estimate struct {
	Miles                  float64 `json:"miles"`
	Km                     float64 `json:"km"`
	DurationMinutes        int     `json:"duration_minutes"`
	TrafficDurationMinutes int     `json:"traffic_duration_minutes,omitempty"`
	DelayMinutes           int     `json:"delay_minutes,omitempty"`
	Source                 string  `json:"source"`
	Departure              string  `json:"departure,omitempty"`
}

type Options struct {
	BaseURL      string
	APIKey       string
	Client       *http.Client
	DrivingCache Cache
	TrafficCache Cache
	DrivingTTL   time.Duration
	TrafficTTL   time.Duration
	ChunkPause   time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Estimator answers distance questions with the routing provider when an API
// key is configured and falls back to the haversine formula otherwise. It never
// returns provider errors to callers.
type Estimator struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	drivingCache Cache
	trafficCache Cache
	drivingTTL   time.Duration
	trafficTTL   time.Duration
	chunkPause   time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	group singleflight.Group
}

func NewEstimator(o Options) *Estimator {
	e := &Estimator{
		baseURL:      o.BaseURL,
		apiKey:       strings.TrimSpace(o.APIKey),
		client:       o.Client,
		drivingCache: o.DrivingCache,
		trafficCache: o.TrafficCache,
		drivingTTL:   o.DrivingTTL,
		trafficTTL:   o.TrafficTTL,
		chunkPause:   o.ChunkPause,
		logger:       o.Logger.With().Str("component", "distance").Logger(),
		now:          o.Now,
	}
	if e.baseURL == "" {
		e.baseURL = "https://maps.googleapis.com/maps/api/distancematrix/json"
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: 10 * time.Second}
	}
	if e.drivingCache == nil {
		e.drivingCache = NewMemoryCache()
	}
	if e.trafficCache == nil {
		e.trafficCache = NewMemoryCache()
	}
	if e.drivingTTL <= 0 {
		e.drivingTTL = 24 * time.Hour
	}
	if e.trafficTTL <= 0 {
		e.trafficTTL = 15 * time.Minute
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Estimator) HasProvider() bool {
	return e.apiKey != ""
}

// Formula is the closed-form estimate: haversine miles and a 30 mph drive.
func Formula(a, b models.Coordinates) Estimate {
	miles := roundTenth(HaversineMiles(a, b))
	return Estimate{
		Miles:           miles,
		Km:              roundTenth(miles * kmPerMile),
		DurationMinutes: DriveMinutes(miles),
		Source:          SourceFormula,
	}
}

func formulaWithTraffic(a, b models.Coordinates, departure string) Estimate {
	est := Formula(a, b)
	est.TrafficDurationMinutes = est.DurationMinutes
	est.Departure = departure
	return est
}

func (e *Estimator) Formula(a, b models.Coordinates) Estimate {
	return Formula(a, b)
}

// Driving returns the routed driving distance, cached for the driving TTL.
func (e *Estimator) Driving(ctx context.Context, a, b models.Coordinates) Estimate {
	if !e.HasProvider() {
		return Formula(a, b)
	}
	key := pairKey(a, b)
	if v, ok := e.drivingCache.Get(ctx, key); ok {
		metrics.CacheLookups.WithLabelValues("driving", "hit").Inc()
		return v
	}
	metrics.CacheLookups.WithLabelValues("driving", "miss").Inc()

	v, _, _ := e.group.Do("driving|"+key, func() (any, error) {
		if v, ok := e.drivingCache.Get(ctx, key); ok {
			return v, nil
		}
		est, err := e.fetchPair(ctx, a, b, departureParams{})
		if err != nil {
			e.logger.Warn().Err(err).Str("key", key).Msg("routing provider failed, using formula estimate")
			return Formula(a, b), nil
		}
		e.drivingCache.Set(ctx, key, est, e.drivingTTL)
		return est, nil
	})
	return v.(Estimate)
}

// WithTraffic returns a traffic-aware estimate for leaving at departure. A
// zero or past departure asks for live traffic; a future one uses the
// provider's best-guess prediction.
func (e *Estimator) WithTraffic(ctx context.Context, a, b models.Coordinates, departure time.Time) Estimate {
	dep := e.departureFor(departure)
	if !e.HasProvider() {
		return formulaWithTraffic(a, b, dep.mode)
	}
	key := trafficKey(a, b, dep)
	if v, ok := e.trafficCache.Get(ctx, key); ok {
		metrics.CacheLookups.WithLabelValues("traffic", "hit").Inc()
		return v
	}
	metrics.CacheLookups.WithLabelValues("traffic", "miss").Inc()

	v, _, _ := e.group.Do("traffic|"+key, func() (any, error) {
		if v, ok := e.trafficCache.Get(ctx, key); ok {
			return v, nil
		}
		est, err := e.fetchPair(ctx, a, b, dep)
		if err != nil {
			e.logger.Warn().Err(err).Str("key", key).Msg("traffic lookup failed, using formula estimate")
			return formulaWithTraffic(a, b, dep.mode), nil
		}
		e.trafficCache.Set(ctx, key, est, e.trafficTTL)
		return est, nil
	})
	return v.(Estimate)
}

type departureParams struct {
	mode string
	at   time.Time
}

func (e *Estimator) departureFor(departure time.Time) departureParams {
	now := e.now()
	if departure.IsZero() || !departure.After(now) {
		return departureParams{mode: DepartureNow, at: now}
	}
	return departureParams{mode: DeparturePredictive, at: departure}
}

func (d departureParams) apply(q url.Values) {
	switch d.mode {
	case DepartureNow:
		q.Set("departure_time", "now")
	case DeparturePredictive:
		q.Set("departure_time", strconv.FormatInt(d.at.Unix(), 10))
		q.Set("traffic_model", "best_guess")
	}
}

func pairKey(a, b models.Coordinates) string {
	return fmt.Sprintf("%.5f,%.5f|%.5f,%.5f", a.Lat, a.Lon, b.Lat, b.Lon)
}

func trafficKey(a, b models.Coordinates, d departureParams) string {
	bucket := d.at.Unix() / int64(trafficBucket/time.Second)
	return pairKey(a, b) + "|" + d.mode + "|" + strconv.FormatInt(bucket, 10)
}

type matrixValue struct {
	Value float64 `json:"value"`
}

type matrixElement struct {
	Status            string       `json:"status"`
	Distance          matrixValue  `json:"distance"`
	Duration          matrixValue  `json:"duration"`
	DurationInTraffic *matrixValue `json:"duration_in_traffic,omitempty"`
}

type matrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Rows         []struct {
		Elements []matrixElement `json:"elements"`
	} `json:"rows"`
}

func (e *Estimator) fetchPair(ctx context.Context, a, b models.Coordinates, dep departureParams) (Estimate, error) {
	resp, err := e.fetchMatrix(ctx, []models.Coordinates{a}, []models.Coordinates{b}, dep)
	if err != nil {
		return Estimate{}, err
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return Estimate{}, errProviderStatus
	}
	return elementEstimate(resp.Rows[0].Elements[0], dep.mode)
}

func (e *Estimator) fetchMatrix(ctx context.Context, origins, destinations []models.Coordinates, dep departureParams) (matrixResponse, error) {
	q := url.Values{}
	q.Set("origins", joinCoords(origins))
	q.Set("destinations", joinCoords(destinations))
	q.Set("units", "imperial")
	q.Set("key", e.apiKey)
	dep.apply(q)

	sep := "?"
	if strings.Contains(e.baseURL, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+sep+q.Encode(), nil)
	if err != nil {
		return matrixResponse{}, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("routing", "error").Inc()
		return matrixResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ProviderRequests.WithLabelValues("routing", "error").Inc()
		return matrixResponse{}, fmt.Errorf("routing http error: %s", resp.Status)
	}
	var out matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.ProviderRequests.WithLabelValues("routing", "error").Inc()
		return matrixResponse{}, err
	}
	if out.Status != "OK" {
		metrics.ProviderRequests.WithLabelValues("routing", "error").Inc()
		return matrixResponse{}, fmt.Errorf("%w: %s %s", errProviderStatus, out.Status, out.ErrorMessage)
	}
	metrics.ProviderRequests.WithLabelValues("routing", "ok").Inc()
	return out, nil
}

func elementEstimate(el matrixElement, departure string) (Estimate, error) {
	if el.Status != "OK" {
		return Estimate{}, fmt.Errorf("%w: element %s", errProviderStatus, el.Status)
	}
	miles := el.Distance.Value / metersPerMile
	est := Estimate{
		Miles:           roundTenth(miles),
		Km:              roundTenth(el.Distance.Value / 1000),
		DurationMinutes: int(math.Round(el.Duration.Value / 60)),
		Source:          SourceRouted,
		Departure:       departure,
	}
	if departure != DepartureNone {
		est.TrafficDurationMinutes = est.DurationMinutes
		if el.DurationInTraffic != nil {
			est.TrafficDurationMinutes = int(math.Round(el.DurationInTraffic.Value / 60))
		}
		est.DelayMinutes = est.TrafficDurationMinutes - est.DurationMinutes
		if est.DelayMinutes < 0 {
			est.DelayMinutes = 0
		}
	}
	return est, nil
}

func joinCoords(points []models.Coordinates) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lon, 'f', 6, 64)
	}
	return strings.Join(parts, "|")
}
