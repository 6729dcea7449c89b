package fare

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/routing"
)

type fixedSource struct {
	r   routing.Route
	err error
}

func (f fixedSource) Route(context.Context, models.Coordinate, models.Coordinate) (routing.Route, error) {
	return f.r, f.err
}

func TestEstimateAddisScenario(t *testing.T) {
	e := NewEstimator(DefaultRatePerKm, nil)
	q, err := e.Estimate(context.Background(),
		models.Coordinate{Lat: 9.0300, Lng: 38.7400},
		models.Coordinate{Lat: 9.0100, Lng: 38.7600}, "Dropped Pin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.DistanceKm != 3.13 {
		t.Fatalf("expected 3.13 km, got %v", q.DistanceKm)
	}
	if q.FareAmount != 7.83 {
		t.Fatalf("fare = %v, want 7.83 for %v km", q.FareAmount, q.DistanceKm)
	}
	if q.DropoffLabel != "Dropped Pin" || q.Provider != routing.ProviderGreatCircle {
		t.Fatalf("unexpected quote %+v", q)
	}
}

func TestEstimateSymmetricAndZero(t *testing.T) {
	e := NewEstimator(DefaultRatePerKm, routing.GreatCircle{})
	pairs := [][2]models.Coordinate{
		{{Lat: 9.03, Lng: 38.74}, {Lat: 9.01, Lng: 38.76}},
		{{Lat: -33.86, Lng: 151.21}, {Lat: -37.81, Lng: 144.96}},
		{{Lat: 51.5, Lng: -0.12}, {Lat: 48.85, Lng: 2.35}},
	}
	ctx := context.Background()
	for _, p := range pairs {
		ab, err := e.Estimate(ctx, p[0], p[1], "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ba, err := e.Estimate(ctx, p[1], p[0], "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ab.DistanceKm != ba.DistanceKm {
			t.Fatalf("asymmetric distance %v vs %v", ab.DistanceKm, ba.DistanceKm)
		}
		aa, err := e.Estimate(ctx, p[0], p[0], "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if aa.DistanceKm != 0 || aa.FareAmount != 0 {
			t.Fatalf("expected zero quote, got %+v", aa)
		}
	}
}

func TestEstimateFareFollowsRate(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		rate     float64
		wantFare float64
	}{
		{"reference rate", 4, 2.5, 10},
		{"rounded distance", 1.236, 2.5, 3.1},
		{"custom rate", 10, 3.33, 33.3},
		{"free rides", 7, 0, 0},
		{"half cent rounds up", 3.13, 2.5, 7.83},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator(tt.rate, fixedSource{r: routing.Route{DistanceKm: tt.distance, Provider: "fake"}})
			q, err := e.Estimate(context.Background(), models.Coordinate{}, models.Coordinate{Lat: 1}, "x")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.FareAmount != tt.wantFare {
				t.Fatalf("fare = %v, want %v", q.FareAmount, tt.wantFare)
			}
			if q.Provider != "fake" {
				t.Fatalf("expected provider distance to be used, got %s", q.Provider)
			}
		})
	}
}

func TestEstimateSourceFailureIsQuoteError(t *testing.T) {
	e := NewEstimator(DefaultRatePerKm, fixedSource{err: errors.New("osrm down")})
	q, err := e.Estimate(context.Background(), models.Coordinate{}, models.Coordinate{Lat: 1}, "x")
	if !errs.Is(err, errs.Quote) {
		t.Fatalf("expected quote error, got %v", err)
	}
	if q != (models.RideQuote{}) {
		t.Fatalf("expected no partial quote, got %+v", q)
	}
}

func TestEstimateRejectsNegativeDistance(t *testing.T) {
	e := NewEstimator(DefaultRatePerKm, fixedSource{r: routing.Route{DistanceKm: -1}})
	if _, err := e.Estimate(context.Background(), models.Coordinate{}, models.Coordinate{Lat: 1}, ""); !errs.Is(err, errs.Quote) {
		t.Fatalf("expected quote error, got %v", err)
	}
}
