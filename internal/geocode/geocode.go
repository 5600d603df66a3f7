package geocode

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fieldcrew/backend/internal/models"
)

var ErrNotFound = errors.New("geocode not found")

const (
	usMinLat = 24.5
	usMaxLat = 49.4
	usMinLon = -125.0
	usMaxLon = -66.0
)

type Result struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
	City        string  `json:"city,omitempty"`
	State       string  `json:"state,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	Country     string  `json:"country,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Geocoder resolves free-text addresses. A nil result means the address
// could not be resolved; callers never see provider errors.
type Geocoder interface {
	GeocodeAddress(ctx context.Context, address string) *Result
}

func BuildGeocodeQuery(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// JobQuery builds the geocoding query for a job's service address.
func JobQuery(job models.Job) string {
	return BuildGeocodeQuery(job.Address, job.City, strings.TrimSpace(job.State+" "+job.ZipCode))
}

func ShouldGeocode(job models.Job, force bool) bool {
	if force {
		return true
	}
	return job.Location == nil
}

func WithinUSBounds(lat, lon float64) bool {
	return lat >= usMinLat && lat <= usMaxLat && lon >= usMinLon && lon <= usMaxLon
}

// BatchGeocode resolves addresses strictly one after another, sleeping
// pause between calls. The provider's usage policy allows one request per
// second, so pause must not be lowered below that for public endpoints.
func BatchGeocode(ctx context.Context, g Geocoder, addresses []string, pause time.Duration) []*Result {
	out := make([]*Result, len(addresses))
	for i, addr := range addresses {
		if i > 0 && pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return out
		}
		out[i] = g.GeocodeAddress(ctx, addr)
	}
	return out
}
