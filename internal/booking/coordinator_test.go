package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRouter struct{ rp models.RoutePath }

func (f *fakeRouter) GetRoute(ctx context.Context, pickup, dropoff models.LocationPoint) models.RoutePath {
	return f.rp
}

type fakePipe struct {
	fn func(method, path string, body, out any) error
}

func (f *fakePipe) DoJSON(ctx context.Context, method, path string, body, out any) error {
	return f.fn(method, path, body, out)
}

type fakePayments struct {
	holds    int
	releases int
	captures int
	holdErr  error
}

func (f *fakePayments) Hold(ctx context.Context, amountMinor int64, currency string) (string, error) {
	f.holds++
	if f.holdErr != nil {
		return "", f.holdErr
	}
	return "pi_1", nil
}
func (f *fakePayments) Capture(ctx context.Context, holdID string) error { f.captures++; return nil }
func (f *fakePayments) Release(ctx context.Context, holdID string) error { f.releases++; return nil }

func tenKmRoute() models.RoutePath {
	return models.RoutePath{
		Points:          []models.LocationPoint{{Lat: 0, Lng: 0}, {Lat: 0.1, Lng: 0}},
		DistanceMeters:  10000,
		DurationSeconds: 1200,
		Source:          models.SourceProvider,
	}
}

func TestCalculateFareStandard(t *testing.T) {
	c := NewCoordinator(&fakePipe{}, &fakeRouter{rp: tenKmRoute()}, nil, testLogger())
	est, err := c.CalculateFare(context.Background(), models.LocationPoint{}, models.LocationPoint{}, models.RideTypeStandard)
	if err != nil {
		t.Fatal(err)
	}
	// 30 base + 12*10km + 1.5*20min
	if est.Amount != 180 {
		t.Fatalf("expected 180, got %f", est.Amount)
	}
	if est.DistanceKm != 10 || est.DurationMin != 20 {
		t.Fatalf("unexpected metrics: %+v", est)
	}
}

func TestCalculateFareUnknownType(t *testing.T) {
	c := NewCoordinator(&fakePipe{}, &fakeRouter{rp: tenKmRoute()}, nil, testLogger())
	if _, err := c.CalculateFare(context.Background(), models.LocationPoint{}, models.LocationPoint{}, "helicopter"); err == nil {
		t.Fatal("expected error for unknown ride type")
	}
}

func TestBookRideInstallsBooking(t *testing.T) {
	pipe := &fakePipe{fn: func(method, path string, body, out any) error {
		if method != "POST" || path != "/bookings/book" {
			t.Fatalf("unexpected call %s %s", method, path)
		}
		*(out.(*bookResponse)) = bookResponse{RideID: "42", StartOTP: "5821"}
		return nil
	}}
	c := NewCoordinator(pipe, &fakeRouter{rp: tenKmRoute()}, nil, testLogger())

	b, err := c.BookRide(context.Background(), models.LocationPoint{Lat: 1}, models.LocationPoint{Lat: 2}, "cash", models.RideTypeStandard)
	if err != nil {
		t.Fatal(err)
	}
	if b.RideID != "42" || b.StartOTP != "5821" {
		t.Fatalf("unexpected booking %+v", b)
	}
	cur, ok := c.Current()
	if !ok || cur.RideID != "42" {
		t.Fatalf("current booking not installed: %+v, %v", cur, ok)
	}
}

func TestBookRideReplacesPriorBooking(t *testing.T) {
	id := "1"
	pipe := &fakePipe{fn: func(method, path string, body, out any) error {
		*(out.(*bookResponse)) = bookResponse{RideID: id, StartOTP: "0000"}
		return nil
	}}
	c := NewCoordinator(pipe, &fakeRouter{rp: tenKmRoute()}, nil, testLogger())
	ctx := context.Background()

	c.BookRide(ctx, models.LocationPoint{}, models.LocationPoint{}, "cash", models.RideTypeStandard)
	id = "2"
	c.BookRide(ctx, models.LocationPoint{}, models.LocationPoint{}, "cash", models.RideTypeStandard)

	cur, _ := c.Current()
	if cur.RideID != "2" {
		t.Fatalf("expected booking 2 to replace 1, got %s", cur.RideID)
	}
}

func TestBookRideRejectionReleasesHold(t *testing.T) {
	pipe := &fakePipe{fn: func(method, path string, body, out any) error {
		return &pipeline.StatusError{Code: 400, Body: "invalid payment method"}
	}}
	pay := &fakePayments{}
	c := NewCoordinator(pipe, &fakeRouter{rp: tenKmRoute()}, pay, testLogger())

	_, err := c.BookRide(context.Background(), models.LocationPoint{}, models.LocationPoint{}, "card", models.RideTypeStandard)
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Reason != "invalid payment method" {
		t.Fatalf("reason not surfaced verbatim: %q", rejected.Reason)
	}
	if pay.holds != 1 || pay.releases != 1 {
		t.Fatalf("hold not released: holds=%d releases=%d", pay.holds, pay.releases)
	}
}

func TestBookRideHoldFailureRejects(t *testing.T) {
	pay := &fakePayments{holdErr: errors.New("card declined")}
	c := NewCoordinator(&fakePipe{}, &fakeRouter{rp: tenKmRoute()}, pay, testLogger())

	_, err := c.BookRide(context.Background(), models.LocationPoint{}, models.LocationPoint{}, "card", models.RideTypeStandard)
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
}

func TestReleaseHoldAfterServerCancellation(t *testing.T) {
	pipe := &fakePipe{fn: func(method, path string, body, out any) error {
		*(out.(*bookResponse)) = bookResponse{RideID: "42", StartOTP: "5821"}
		return nil
	}}
	pay := &fakePayments{}
	c := NewCoordinator(pipe, &fakeRouter{rp: tenKmRoute()}, pay, testLogger())
	ctx := context.Background()

	c.BookRide(ctx, models.LocationPoint{}, models.LocationPoint{}, "card", models.RideTypeStandard)
	if pay.holds != 1 {
		t.Fatalf("expected 1 hold, got %d", pay.holds)
	}

	// the backend cancelled the ride; no CancelBooking call ever happens
	c.ReleaseHold(ctx, "42")
	if pay.releases != 1 {
		t.Fatalf("hold not released: %d", pay.releases)
	}
	c.ReleaseHold(ctx, "42")
	if pay.releases != 1 {
		t.Fatalf("release repeated: %d", pay.releases)
	}
	// nothing left to capture afterwards
	c.CompletePayment(ctx, "42")
	if pay.captures != 0 {
		t.Fatalf("released hold captured: %d", pay.captures)
	}
}

func TestBookRideReleasesSupersededHold(t *testing.T) {
	pipe := &fakePipe{fn: func(method, path string, body, out any) error {
		*(out.(*bookResponse)) = bookResponse{RideID: "42", StartOTP: "5821"}
		return nil
	}}
	pay := &fakePayments{}
	c := NewCoordinator(pipe, &fakeRouter{rp: tenKmRoute()}, pay, testLogger())
	ctx := context.Background()

	c.BookRide(ctx, models.LocationPoint{}, models.LocationPoint{}, "card", models.RideTypeStandard)
	c.BookRide(ctx, models.LocationPoint{}, models.LocationPoint{}, "card", models.RideTypeStandard)
	if pay.holds != 2 {
		t.Fatalf("expected 2 holds, got %d", pay.holds)
	}
	if pay.releases != 1 {
		t.Fatalf("superseded hold not released: %d", pay.releases)
	}
}

func TestCancelAlreadyTerminal(t *testing.T) {
	pipe := &fakePipe{fn: func(method, path string, body, out any) error {
		return &pipeline.StatusError{Code: 409, Body: "ride already completed"}
	}}
	c := NewCoordinator(pipe, &fakeRouter{rp: tenKmRoute()}, nil, testLogger())

	if err := c.CancelBooking(context.Background(), "42"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestCompletePaymentCapturesHold(t *testing.T) {
	pipe := &fakePipe{fn: func(method, path string, body, out any) error {
		if out != nil {
			if br, ok := out.(*bookResponse); ok {
				*br = bookResponse{RideID: "42", StartOTP: "1"}
			}
		}
		return nil
	}}
	pay := &fakePayments{}
	c := NewCoordinator(pipe, &fakeRouter{rp: tenKmRoute()}, pay, testLogger())
	ctx := context.Background()

	c.BookRide(ctx, models.LocationPoint{}, models.LocationPoint{}, "card", models.RideTypeStandard)
	c.CompletePayment(ctx, "42")
	if pay.captures != 1 {
		t.Fatalf("expected 1 capture, got %d", pay.captures)
	}
	// second completion is a no-op
	c.CompletePayment(ctx, "42")
	if pay.captures != 1 {
		t.Fatalf("capture repeated: %d", pay.captures)
	}
}
