package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/example/ride-passenger/internal/models"
)

func TestDecodeHistory(t *testing.T) {
	want := models.HistoryEntry{
		RideID:      "r1",
		PassengerID: "p1",
		Status:      models.StatusTripCompleted,
		Fare:        7.83,
		DistanceKm:  3.13,
		FinishedAt:  time.Date(2025, 10, 31, 8, 0, 0, 0, time.UTC),
	}
	b, _ := json.Marshal(want)
	got, err := DecodeHistory(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RideID != want.RideID || got.Fare != want.Fare || !got.FinishedAt.Equal(want.FinishedAt) {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeHistoryRejectsIncomplete(t *testing.T) {
	for _, raw := range []string{`not json`, `{"ride_id":"r1"}`, `{"passenger_id":"p1"}`} {
		if _, err := DecodeHistory([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}
