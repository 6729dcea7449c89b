package models

import "time"

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RideQuote is the distance/fare pair for one candidate destination.
// Both values come from the same distance source.
type RideQuote struct {
	Origin       Coordinate `json:"origin"`
	Destination  Coordinate `json:"destination"`
	DistanceKm   float64    `json:"distanceKm"`
	FareAmount   float64    `json:"fareAmount"`
	DropoffLabel string     `json:"dropoffLabel"`
	Provider     string     `json:"provider,omitempty"`
	Polyline     string     `json:"polyline,omitempty"`
}

type RideStatus string

const (
	StatusRequested     RideStatus = "requested"
	StatusAccepted      RideStatus = "accepted"
	StatusTripStart     RideStatus = "trip_start"
	StatusTripOngoing   RideStatus = "trip_ongoing"
	StatusTripCompleted RideStatus = "trip_completed"
	StatusCancelled     RideStatus = "cancelled"
)

// Terminal reports whether no further status can follow.
func (s RideStatus) Terminal() bool {
	return s == StatusTripCompleted || s == StatusCancelled
}

type Party struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// Ride mirrors the server's ride snapshot. Passenger is what inbound events
// are filtered on.
type Ride struct {
	ID        string     `json:"_id,omitempty"`
	Passenger Party      `json:"passenger"`
	Driver    *Party     `json:"driver,omitempty"`
	Status    RideStatus `json:"status"`
	From      Coordinate `json:"from"`
	To        Coordinate `json:"to"`
	Distance  float64    `json:"distance"`
	Fare      float64    `json:"fare"`
	DropName  string     `json:"dropName,omitempty"`
	Local     bool       `json:"-"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
}

type UserSummary struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

type Session struct {
	User      UserSummary `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"-"`
}

type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

type Wallet struct {
	Balance float64 `json:"balance"`
}

type Transaction struct {
	ID        string    `json:"_id,omitempty"`
	Type      string    `json:"type"`
	Amount    float64   `json:"amount"`
	RideID    string    `json:"rideId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryEntry is one finished ride as shown on the history tab.
type HistoryEntry struct {
	RideID      string     `json:"ride_id"`
	PassengerID string     `json:"passenger_id"`
	Status      RideStatus `json:"status"`
	From        Coordinate `json:"from"`
	To          Coordinate `json:"to"`
	DropName    string     `json:"drop_name"`
	Fare        float64    `json:"fare"`
	DistanceKm  float64    `json:"distance_km"`
	FinishedAt  time.Time  `json:"finished_at"`
}
