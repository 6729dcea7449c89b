package ride

import "github.com/example/ride-passenger/internal/models"

// Phase is the controller state: the two local phases plus every ride
// status the server may report.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseQuoting Phase = "quoting"
)

func phaseOf(s models.RideStatus) Phase { return Phase(s) }

// Active reports whether a ride exists in this phase.
func (p Phase) Active() bool { return p != PhaseIdle && p != PhaseQuoting }

// Snapshot is the view state after one transition. Snapshots are never
// mutated once published; pointer fields point at private copies.
type Snapshot struct {
	Version      uint64                 `json:"version"`
	Phase        Phase                  `json:"phase"`
	Ride         *models.Ride           `json:"ride,omitempty"`
	Quote        *models.RideQuote      `json:"quote,omitempty"`
	Origin       *models.Coordinate     `json:"origin,omitempty"`
	Message      string                 `json:"message"`
	Success      bool                   `json:"success"`
	SheetVisible bool                   `json:"sheetVisible"`
	Connection   models.ConnectionState `json:"connection"`
}

var statusMessages = map[models.RideStatus]string{
	models.StatusAccepted:      "driver accepted",
	models.StatusTripStart:     "trip started",
	models.StatusTripOngoing:   "trip ongoing",
	models.StatusTripCompleted: "trip completed",
	models.StatusCancelled:     "ride cancelled",
}

// StatusMessage is the passenger-facing text for a status. Unknown values
// pass through literally.
func StatusMessage(s models.RideStatus) string {
	if m, ok := statusMessages[s]; ok {
		return m
	}
	return string(s)
}

// StatusSuccess is false only for cancelled.
func StatusSuccess(s models.RideStatus) bool { return s != models.StatusCancelled }

func ptr[T any](v T) *T { return &v }
