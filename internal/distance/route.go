package distance

import (
	"context"
	"time"

	"github.com/fieldcrew/backend/internal/models"
)

type Leg struct {
	From      int       `json:"from"`
	To        int       `json:"to"`
	Departure time.Time `json:"departure"`
	Arrival   time.Time `json:"arrival"`
	Estimate  Estimate  `json:"estimate"`
}

// RouteETAs walks stops in order. Each leg departs when the previous one
// arrives, so traffic is looked up for the time the worker is actually on
// the road.
func (e *Estimator) RouteETAs(ctx context.Context, stops []models.Coordinates, start time.Time) []Leg {
	if len(stops) < 2 {
		return nil
	}
	legs := make([]Leg, 0, len(stops)-1)
	current := start
	for i := 1; i < len(stops); i++ {
		est := e.WithTraffic(ctx, stops[i-1], stops[i], current)
		minutes := est.TrafficDurationMinutes
		if minutes == 0 {
			minutes = est.DurationMinutes
		}
		arrival := current.Add(time.Duration(minutes) * time.Minute)
		legs = append(legs, Leg{
			From:      i - 1,
			To:        i,
			Departure: current,
			Arrival:   arrival,
			Estimate:  est,
		})
		current = arrival
	}
	return legs
}
