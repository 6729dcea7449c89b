package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-passenger/internal/models"
)

// Runs against a real database only when PG_TEST_DSN is set.
func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	s, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	passenger := "p-" + uuid.NewString()
	e := models.HistoryEntry{
		RideID:      uuid.NewString(),
		PassengerID: passenger,
		Status:      models.StatusTripCompleted,
		From:        models.Coordinate{Lat: 9.03, Lng: 38.74},
		To:          models.Coordinate{Lat: 9.01, Lng: 38.76},
		Fare:        7.83,
		DistanceKm:  3.13,
		FinishedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveEntry(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	// replay must not duplicate
	if err := s.SaveEntry(ctx, e); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := s.ListEntries(ctx, passenger, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].RideID != e.RideID || got[0].Fare != e.Fare {
		t.Fatalf("unexpected rows %+v", got)
	}
}
