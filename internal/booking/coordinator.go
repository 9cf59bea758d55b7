package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
	"github.com/example/ride-client/internal/pipeline"
)

// RejectedError is a server-declined booking, surfaced verbatim and never
// retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "booking rejected: " + e.Reason }

// ErrAlreadyTerminal marks a cancellation against a ride that already
// finished or was already cancelled. Callers treat it as success.
var ErrAlreadyTerminal = errors.New("booking: ride already terminal")

// Router is the slice of the route provider the coordinator needs.
type Router interface {
	GetRoute(ctx context.Context, pickup, dropoff models.LocationPoint) models.RoutePath
}

// Pipe is the slice of the request pipeline the coordinator needs.
type Pipe interface {
	DoJSON(ctx context.Context, method, path string, body, out any) error
}

type rateCard struct {
	base   float64
	perKm  float64
	perMin float64
}

var rates = map[models.RideType]rateCard{
	models.RideTypeStandard: {base: 30, perKm: 12, perMin: 1.5},
	models.RideTypePremium:  {base: 50, perKm: 18, perMin: 2},
	models.RideTypeXL:       {base: 60, perKm: 22, perMin: 2.5},
}

const holdCurrency = "inr"

// Coordinator computes fare estimates and submits/cancels bookings. It owns
// booking-scoped state only: the current booking and its payment hold.
type Coordinator struct {
	pipe     Pipe
	routes   Router
	payments Payments // nil when card holds are disabled
	logger   *slog.Logger

	mu      sync.Mutex
	current *models.Booking
	holdID  string
}

func NewCoordinator(pipe Pipe, routes Router, payments Payments, logger *slog.Logger) *Coordinator {
	return &Coordinator{pipe: pipe, routes: routes, payments: payments, logger: logger}
}

// CalculateFare is side-effect free and safe to call on every input change.
// Routing failures never surface here: the provider falls back internally.
func (c *Coordinator) CalculateFare(ctx context.Context, pickup, dropoff models.LocationPoint, rideType models.RideType) (models.FareEstimate, error) {
	rate, ok := rates[rideType]
	if !ok {
		return models.FareEstimate{}, fmt.Errorf("booking: unknown ride type %q", rideType)
	}
	rp := c.routes.GetRoute(ctx, pickup, dropoff)
	distanceKm := rp.DistanceMeters / 1000
	durationMin := rp.DurationSeconds / 60
	amount := rate.base + rate.perKm*distanceKm + rate.perMin*durationMin
	return models.FareEstimate{
		Amount:      math.Round(amount*100) / 100,
		DistanceKm:  math.Round(distanceKm*100) / 100,
		DurationMin: math.Round(durationMin*100) / 100,
		RideType:    rideType,
	}, nil
}

type bookRequest struct {
	Pickup        models.LocationPoint `json:"pickup"`
	Dropoff       models.LocationPoint `json:"dropoff"`
	PaymentMethod string               `json:"paymentMethod"`
	RideType      models.RideType      `json:"rideType"`
}

type bookResponse struct {
	RideID   string `json:"rideId"`
	StartOTP string `json:"startOtp"`
}

// BookRide submits the booking. Any prior booking is dropped first: the
// client never tracks two bookings at once. For card payments a manual
// capture hold is placed before the booking goes out and released if the
// server rejects it.
func (c *Coordinator) BookRide(ctx context.Context, pickup, dropoff models.LocationPoint, paymentMethod string, rideType models.RideType) (models.Booking, error) {
	fare, err := c.CalculateFare(ctx, pickup, dropoff, rideType)
	if err != nil {
		return models.Booking{}, err
	}

	var holdID string
	if c.payments != nil && paymentMethod == "card" {
		holdID, err = c.payments.Hold(ctx, int64(math.Round(fare.Amount*100)), holdCurrency)
		if err != nil {
			return models.Booking{}, &RejectedError{Reason: "payment hold failed: " + err.Error()}
		}
	}

	var out bookResponse
	err = c.pipe.DoJSON(ctx, "POST", "/bookings/book", bookRequest{
		Pickup:        pickup,
		Dropoff:       dropoff,
		PaymentMethod: paymentMethod,
		RideType:      rideType,
	}, &out)
	if err != nil {
		if holdID != "" {
			if rerr := c.payments.Release(ctx, holdID); rerr != nil {
				c.logger.Error("hold_release_failed", "hold_id", holdID, "error", rerr)
			}
		}
		var se *pipeline.StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return models.Booking{}, &RejectedError{Reason: se.Body}
		}
		return models.Booking{}, err
	}
	if out.RideID == "" {
		return models.Booking{}, &RejectedError{Reason: "no ride id in response"}
	}

	b := models.Booking{
		RideID:        out.RideID,
		StartOTP:      out.StartOTP,
		Pickup:        pickup,
		Dropoff:       dropoff,
		PaymentMethod: paymentMethod,
		RideType:      rideType,
		Fare:          fare,
		CreatedAt:     time.Now(),
	}

	c.mu.Lock()
	staleHold := c.holdID
	c.current = &b
	c.holdID = holdID
	c.mu.Unlock()

	// a superseded booking's hold must not stay on the rider's card
	if staleHold != "" && c.payments != nil {
		if rerr := c.payments.Release(ctx, staleHold); rerr != nil {
			c.logger.Error("hold_release_failed", "hold_id", staleHold, "error", rerr)
		}
	}

	observability.BookingsTotal.Inc()
	c.logger.Info("ride_booked", "ride_id", b.RideID, "ride_type", rideType, "fare", fare.Amount)
	return b, nil
}

type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CancelBooking is idempotent from the caller's perspective: cancelling an
// already-terminal ride yields ErrAlreadyTerminal, never a crash.
func (c *Coordinator) CancelBooking(ctx context.Context, rideID string) error {
	var out cancelResponse
	err := c.pipe.DoJSON(ctx, "POST", "/bookings/cancel/"+rideID, nil, &out)
	if err != nil {
		var se *pipeline.StatusError
		if errors.As(err, &se) && terminalStatus(se) {
			c.releaseHold(ctx, rideID)
			return ErrAlreadyTerminal
		}
		return err
	}
	observability.CancellationsTotal.Inc()
	c.releaseHold(ctx, rideID)
	c.logger.Info("ride_cancelled", "ride_id", rideID)
	return nil
}

// CompletePayment captures the hold for a finished ride, if one exists.
// Failures are logged, not propagated: a capture glitch must not disturb
// the terminal hand-off.
func (c *Coordinator) CompletePayment(ctx context.Context, rideID string) {
	c.mu.Lock()
	holdID := ""
	if c.current != nil && c.current.RideID == rideID {
		holdID = c.holdID
		c.holdID = ""
	}
	c.mu.Unlock()
	if holdID == "" || c.payments == nil {
		return
	}
	if err := c.payments.Capture(ctx, holdID); err != nil {
		c.logger.Error("payment_capture_failed", "ride_id", rideID, "hold_id", holdID, "error", err)
		return
	}
	c.logger.Info("payment_captured", "ride_id", rideID)
}

// ReleaseHold frees the payment hold for a ride that was cancelled outside
// the coordinator, such as a cancellation first seen in a poll result.
// Releasing an already-released or unknown hold is a no-op.
func (c *Coordinator) ReleaseHold(ctx context.Context, rideID string) {
	c.releaseHold(ctx, rideID)
}

// Current returns a copy of the active booking, if any.
func (c *Coordinator) Current() (models.Booking, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return models.Booking{}, false
	}
	return *c.current, true
}

func (c *Coordinator) releaseHold(ctx context.Context, rideID string) {
	c.mu.Lock()
	holdID := ""
	if c.current != nil && c.current.RideID == rideID {
		holdID = c.holdID
		c.holdID = ""
	}
	c.mu.Unlock()
	if holdID == "" || c.payments == nil {
		return
	}
	if err := c.payments.Release(ctx, holdID); err != nil {
		c.logger.Error("hold_release_failed", "ride_id", rideID, "hold_id", holdID, "error", err)
	}
}

func terminalStatus(se *pipeline.StatusError) bool {
	if se.Code == 409 || se.Code == 410 {
		return true
	}
	body := strings.ToLower(se.Body)
	return strings.Contains(body, "already cancelled") || strings.Contains(body, "already completed")
}
