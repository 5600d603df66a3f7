package distance

import (
	"context"
	"time"

	"github.com/fieldcrew/backend/internal/metrics"
	"github.com/fieldcrew/backend/internal/models"
)

// MaxMatrixDimension is the provider's hard limit on origins and destinations per request.
const MaxMatrixDimension = 25

// Matrix estimates every origin/destination pair. A zero departure uses the
// driving cache; otherwise the traffic cache and traffic parameters apply.
// Cached pairs are served without a network call and uncached pairs are
// requested in chunks of at most 25x25 with a pause between chunks.
func (e *Estimator) Matrix(ctx context.Context, origins, destinations []models.Coordinates, departure time.Time) [][]Estimate {
	out := make([][]Estimate, len(origins))
	for i := range out {
		out[i] = make([]Estimate, len(destinations))
	}
	if len(origins) == 0 || len(destinations) == 0 {
		return out
	}

	dep := departureParams{}
	cache, ttl, cacheName := e.drivingCache, e.drivingTTL, "driving"
	if !departure.IsZero() {
		dep = e.departureFor(departure)
		cache, ttl, cacheName = e.trafficCache, e.trafficTTL, "traffic"
	}
	fallback := func(a, b models.Coordinates) Estimate {
		if dep.mode == DepartureNone {
			return Formula(a, b)
		}
		return formulaWithTraffic(a, b, dep.mode)
	}
	keyFor := func(a, b models.Coordinates) string {
		if dep.mode == DepartureNone {
			return pairKey(a, b)
		}
		return trafficKey(a, b, dep)
	}

	if !e.HasProvider() {
		for i, o := range origins {
			for j, d := range destinations {
				out[i][j] = fallback(o, d)
			}
		}
		return out
	}

	missing := make([][]bool, len(origins))
	for i, o := range origins {
		missing[i] = make([]bool, len(destinations))
		for j, d := range destinations {
			if v, ok := cache.Get(ctx, keyFor(o, d)); ok {
				metrics.CacheLookups.WithLabelValues(cacheName, "hit").Inc()
				out[i][j] = v
				continue
			}
			metrics.CacheLookups.WithLabelValues(cacheName, "miss").Inc()
			missing[i][j] = true
		}
	}

	calls := 0
	for oi := 0; oi < len(origins); oi += MaxMatrixDimension {
		oe := min(oi+MaxMatrixDimension, len(origins))
		for di := 0; di < len(destinations); di += MaxMatrixDimension {
			de := min(di+MaxMatrixDimension, len(destinations))
			if !anyMissing(missing, oi, oe, di, de) {
				continue
			}
			if calls > 0 && e.chunkPause > 0 {
				if !sleepCtx(ctx, e.chunkPause) {
					fillMissing(out, missing, origins, destinations, fallback)
					return out
				}
			}
			calls++

			resp, err := e.fetchMatrix(ctx, origins[oi:oe], destinations[di:de], dep)
			if err != nil {
				e.logger.Warn().Err(err).Int("origins", oe-oi).Int("destinations", de-di).Msg("matrix chunk failed, using formula estimates")
			}
			for i := oi; i < oe; i++ {
				for j := di; j < de; j++ {
					if !missing[i][j] {
						continue
					}
					missing[i][j] = false
					if err != nil {
						out[i][j] = fallback(origins[i], destinations[j])
						continue
					}
					est, elErr := chunkElement(resp, i-oi, j-di, dep.mode)
					if elErr != nil {
						out[i][j] = fallback(origins[i], destinations[j])
						continue
					}
					out[i][j] = est
					cache.Set(ctx, keyFor(origins[i], destinations[j]), est, ttl)
				}
			}
		}
	}
	return out
}

func chunkElement(resp matrixResponse, row, col int, departure string) (Estimate, error) {
	if row >= len(resp.Rows) || col >= len(resp.Rows[row].Elements) {
		return Estimate{}, errProviderStatus
	}
	return elementEstimate(resp.Rows[row].Elements[col], departure)
}

func anyMissing(missing [][]bool, oi, oe, di, de int) bool {
	for i := oi; i < oe; i++ {
		for j := di; j < de; j++ {
			if missing[i][j] {
				return true
			}
		}
	}
	return false
}

func fillMissing(out [][]Estimate, missing [][]bool, origins, destinations []models.Coordinates, fallback func(a, b models.Coordinates) Estimate) {
	for i := range missing {
		for j := range missing[i] {
			if missing[i][j] {
				out[i][j] = fallback(origins[i], destinations[j])
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
