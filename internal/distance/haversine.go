package distance

import (
	"math"

	"github.com/fieldcrew/backend/internal/models"
)

const (
	earthRadiusMiles = 3959.0
	kmPerMile        = 1.609344
	metersPerMile    = 1609.344
	// AverageSpeedMPH is the assumed travel speed when no routing provider answers.
	AverageSpeedMPH = 30.0
)

// HaversineMiles returns the great-circle distance between a and b.
func HaversineMiles(a, b models.Coordinates) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLon := degreesToRadians(b.Lon - a.Lon)

	lat1R := degreesToRadians(a.Lat)
	lat2R := degreesToRadians(b.Lat)

	sLat := math.Sin(dLat / 2)
	sLon := math.Sin(dLon / 2)
	h := sLat*sLat + sLon*sLon*(math.Cos(lat1R)*math.Cos(lat2R))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMiles * c
}

// DriveMinutes converts a distance to minutes at AverageSpeedMPH, rounded up.
func DriveMinutes(miles float64) int {
	return int(math.Ceil(miles / AverageSpeedMPH * 60))
}

func degreesToRadians(d float64) float64 {
	return d * math.Pi / 180
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
