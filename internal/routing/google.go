package routing

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/ride-passenger/internal/models"
)

// GoogleMaps prices on the driving distance of the first Directions route.
type GoogleMaps struct {
	client *maps.Client
}

func NewGoogleMaps(apiKey string) (*GoogleMaps, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleMaps{client: client}, nil
}

func (g *GoogleMaps) Route(ctx context.Context, from, to models.Coordinate) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	return routeFromDirections(routes)
}

func routeFromDirections(routes []maps.Route) (Route, error) {
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, errors.New("no route found")
	}
	var meters int
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
	}
	return Route{
		DistanceKm: float64(meters) / 1000,
		Polyline:   routes[0].OverviewPolyline.Points,
		Provider:   ProviderGoogle,
	}, nil
}

func latLng(c models.Coordinate) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}
