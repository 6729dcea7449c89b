// Package routing supplies the distance a fare quote is priced on. Exactly one
// Source answers for a given quote; sources are never blended.
package routing

import (
	"context"
	"math"

	"github.com/example/ride-passenger/internal/models"
)

const EarthRadiusKm = 6371.0

const (
	ProviderGreatCircle = "haversine"
	ProviderOSRM        = "osrm"
	ProviderGoogle      = "google"
)

// Route is a provider's answer for one origin/destination pair.
type Route struct {
	DistanceKm float64
	Polyline   string
	Provider   string
}

type Source interface {
	Route(ctx context.Context, from, to models.Coordinate) (Route, error)
}

// GreatCircle prices on straight-line distance. It never fails.
type GreatCircle struct{}

func (GreatCircle) Route(_ context.Context, from, to models.Coordinate) (Route, error) {
	return Route{DistanceKm: HaversineKm(from, to), Provider: ProviderGreatCircle}, nil
}

// HaversineKm returns the great-circle distance in kilometres.
func HaversineKm(a, b models.Coordinate) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}
