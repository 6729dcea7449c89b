package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ride-passenger/internal/models"
)

// Event names pushed by the server.
type Event string

const EventRideStatus Event = "ride:status"

// Command names sent by the client.
type Command string

const (
	CommandRideRequest    Command = "ride:request"
	CommandRideCancel     Command = "ride:cancel"
	CommandDriverLocation Command = "driver:location"
)

// Envelope is the frame on the wire in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type RideRequestPayload struct {
	PassengerID  string            `json:"passengerId"`
	Origin       models.Coordinate `json:"origin"`
	Destination  models.Coordinate `json:"destination"`
	Quote        models.RideQuote  `json:"quote"`
	DropoffLabel string            `json:"dropoffLabel"`
}

type RideCancelPayload struct {
	RideID string `json:"rideId"`
}

type DriverLocationPayload struct {
	DriverID string  `json:"driverId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// RideStatusPayload is a full ride snapshot, never a delta.
type RideStatusPayload struct {
	Ride models.Ride `json:"ride"`
}

// UnmarshalJSON accepts both {"ride": {...}} and a bare ride object; the
// backend has shipped both shapes.
func (p *RideStatusPayload) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if inner, ok := probe["ride"]; ok && !bytes.Equal(bytes.TrimSpace(inner), []byte("null")) {
		return json.Unmarshal(inner, &p.Ride)
	}
	return json.Unmarshal(b, &p.Ride)
}

var ErrUnknownEvent = errors.New("unknown event")

// Decode maps an inbound envelope to its typed payload. Callers switch on
// the returned value's type.
func Decode(env Envelope) (any, error) {
	switch Event(env.Event) {
	case EventRideStatus:
		var p RideStatusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", env.Event, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func encode(cmd Command, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s: %w", cmd, err)
	}
	return Envelope{Event: string(cmd), Data: data}, nil
}
