package models

import "time"

// LocationPoint is an immutable coordinate plus its human-readable address.
// A changed address means a new point, not a mutation of an old one.
type LocationPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type RouteSource string

const (
	SourceProvider RouteSource = "provider"
	SourceFallback RouteSource = "fallback"
)

// RoutePath is a drivable path between two points. Points always has at
// least two entries; when Source is SourceFallback it is exactly the two
// endpoints.
type RoutePath struct {
	Points          []LocationPoint `json:"points"`
	DistanceMeters  float64         `json:"distance_meters"`
	DurationSeconds float64         `json:"duration_seconds"`
	Source          RouteSource     `json:"source"`
}

type RideType string

const (
	RideTypeStandard RideType = "standard"
	RideTypePremium  RideType = "premium"
	RideTypeXL       RideType = "xl"
)

type FareEstimate struct {
	Amount      float64  `json:"amount"`
	DistanceKm  float64  `json:"distance_km"`
	DurationMin float64  `json:"duration_min"`
	RideType    RideType `json:"ride_type"`
}

// Booking is created once per ride request and discarded when a new request
// begins or the ride reaches a terminal phase.
type Booking struct {
	RideID        string        `json:"ride_id"`
	StartOTP      string        `json:"start_otp"`
	Pickup        LocationPoint `json:"pickup"`
	Dropoff       LocationPoint `json:"dropoff"`
	PaymentMethod string        `json:"payment_method"`
	RideType      RideType      `json:"ride_type"`
	Fare          FareEstimate  `json:"fare"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Driver as reported by the backend. LiveLocation is authoritative only
// while present; nil means no fix has been reported yet.
type Driver struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Rating       float64        `json:"rating"`
	VehicleLabel string         `json:"vehicle"`
	LiveLocation *LocationPoint `json:"live_location,omitempty"`
}

type PositionSource string

const (
	PositionLive      PositionSource = "live"
	PositionSimulated PositionSource = "simulated"
)

// DriverPosition is the displayed driver marker. Live positions come from
// polls and always override simulated ones the moment they arrive.
type DriverPosition struct {
	Source PositionSource `json:"source"`
	Loc    LocationPoint  `json:"loc"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RideDetails is the poll payload from GET /bookings/details/{rideId}.
type RideDetails struct {
	Status         string         `json:"status"`
	Driver         *Driver        `json:"driver,omitempty"`
	DriverLocation *LocationPoint `json:"driverLocation,omitempty"`
	Near           bool           `json:"near"`
	Arrived        bool           `json:"arrived"`
}

// RideSnapshot is the read-only projection handed to UI observers. Every
// field is a copy; holders can never reach back into live session state.
type RideSnapshot struct {
	RideID         string          `json:"ride_id"`
	Phase          RidePhase       `json:"phase"`
	Driver         *Driver         `json:"driver,omitempty"`
	Position       *DriverPosition `json:"position,omitempty"`
	Fare           *FareEstimate   `json:"fare,omitempty"`
	Route          *RoutePath      `json:"route,omitempty"`
	NoDriverNotice bool            `json:"no_driver_notice"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
