package models

import "fmt"

// RidePhase is one discrete state of the ride lifecycle. Phases move
// forward only: Searching < DriverFound < Arriving < InProgress < Arrived,
// with Cancelled reachable from any non-terminal phase.
type RidePhase int

const (
	PhaseSearching RidePhase = iota
	PhaseDriverFound
	PhaseArriving
	PhaseInProgress
	PhaseArrived
	PhaseCancelled
)

func (p RidePhase) String() string {
	switch p {
	case PhaseSearching:
		return "searching"
	case PhaseDriverFound:
		return "driver_found"
	case PhaseArriving:
		return "arriving"
	case PhaseInProgress:
		return "in_progress"
	case PhaseArrived:
		return "arrived"
	case PhaseCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether no further transition may leave p.
func (p RidePhase) Terminal() bool {
	return p == PhaseArrived || p == PhaseCancelled
}

func (p RidePhase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}
