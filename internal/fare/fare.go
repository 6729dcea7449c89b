// Package fare turns an origin/destination pair into a priced quote.
package fare

import (
	"context"
	"math"

	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/routing"
)

// DefaultRatePerKm is the reference per-kilometre rate.
const DefaultRatePerKm = 2.5

type Estimator struct {
	Rate   float64
	Source routing.Source
}

func NewEstimator(rate float64, src routing.Source) *Estimator {
	if src == nil {
		src = routing.GreatCircle{}
	}
	return &Estimator{Rate: rate, Source: src}
}

// Estimate prices the trip on the distance reported by the single configured
// source. Distance and fare are both rounded to cents and the fare is derived
// from the rounded distance, so the pair shown to the passenger is consistent.
func (e *Estimator) Estimate(ctx context.Context, origin, destination models.Coordinate, label string) (models.RideQuote, error) {
	q := models.RideQuote{Origin: origin, Destination: destination, DropoffLabel: label}
	if origin == destination {
		q.Provider = routing.ProviderGreatCircle
		return q, nil
	}
	r, err := e.Source.Route(ctx, origin, destination)
	if err != nil {
		return models.RideQuote{}, errs.E(errs.Quote, "fare.estimate", err)
	}
	if r.DistanceKm < 0 || math.IsNaN(r.DistanceKm) || math.IsInf(r.DistanceKm, 0) {
		return models.RideQuote{}, errs.Msg(errs.Quote, "fare.estimate", "provider returned an invalid distance")
	}
	q.DistanceKm = Round2(r.DistanceKm)
	q.FareAmount = Price(q.DistanceKm, e.Rate)
	q.Provider = r.Provider
	q.Polyline = r.Polyline
	return q, nil
}

// Price is distance times rate, rounded to two decimals. The distance is
// taken in whole hundredths first so 3.13 km at 2.5 prices as 313 x 2.5 =
// 782.5 cents and rounds half away from zero to 7.83.
func Price(distanceKm, rate float64) float64 {
	return math.Round(math.Round(distanceKm*100)*rate) / 100
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
