package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ride-client/internal/booking"
	"github.com/example/ride-client/internal/history"
	"github.com/example/ride-client/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBookings struct {
	bookErr error
}

func (f *fakeBookings) CalculateFare(ctx context.Context, pickup, dropoff models.LocationPoint, rideType models.RideType) (models.FareEstimate, error) {
	return models.FareEstimate{Amount: 180, DistanceKm: 10, DurationMin: 20, RideType: rideType}, nil
}

func (f *fakeBookings) BookRide(ctx context.Context, pickup, dropoff models.LocationPoint, paymentMethod string, rideType models.RideType) (models.Booking, error) {
	if f.bookErr != nil {
		return models.Booking{}, f.bookErr
	}
	return models.Booking{RideID: "42", StartOTP: "5821", Pickup: pickup, Dropoff: dropoff, RideType: rideType}, nil
}

type fakeRides struct {
	started   bool
	cancelled bool
	snap      *models.RideSnapshot
}

func (f *fakeRides) Start(b models.Booking, routePath *models.RoutePath) { f.started = true }
func (f *fakeRides) Cancel(ctx context.Context) error                   { f.cancelled = true; return nil }
func (f *fakeRides) Snapshot() (models.RideSnapshot, bool) {
	if f.snap == nil {
		return models.RideSnapshot{}, false
	}
	return *f.snap, true
}

type fakeAuth struct {
	pair    *models.TokenPair
	cleared bool
}

func (f *fakeAuth) SetTokens(ctx context.Context, pair models.TokenPair) error {
	f.pair = &pair
	return nil
}
func (f *fakeAuth) Clear(ctx context.Context) error { f.cleared = true; return nil }

type fakeRouter struct{}

func (f *fakeRouter) GetRoute(ctx context.Context, pickup, dropoff models.LocationPoint) models.RoutePath {
	return models.RoutePath{Points: []models.LocationPoint{pickup, dropoff}, DistanceMeters: 10000, DurationSeconds: 1200, Source: models.SourceFallback}
}

func newTestServer(b *fakeBookings, r *fakeRides, a *fakeAuth) *httptest.Server {
	srv := NewServer(b, r, a, &fakeRouter{}, history.NewMemoryStore(), testLogger())
	return httptest.NewServer(srv)
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(v)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRideRequestStartsSession(t *testing.T) {
	rides := &fakeRides{}
	ts := newTestServer(&fakeBookings{}, rides, &fakeAuth{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/ride/request", map[string]any{
		"pickup":  models.LocationPoint{Lat: 12.97, Lng: 77.59, Address: "MG Road"},
		"dropoff": models.LocationPoint{Lat: 12.93, Lng: 77.62, Address: "Koramangala"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var out struct {
		RideID   string `json:"ride_id"`
		StartOTP string `json:"start_otp"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.RideID != "42" || out.StartOTP != "5821" {
		t.Fatalf("unexpected response %+v", out)
	}
	if !rides.started {
		t.Fatal("orchestrator not started")
	}
}

func TestRideRequestRejectionIs422(t *testing.T) {
	ts := newTestServer(&fakeBookings{bookErr: &booking.RejectedError{Reason: "invalid payment method"}}, &fakeRides{}, &fakeAuth{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/ride/request", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestCancelRide(t *testing.T) {
	rides := &fakeRides{}
	ts := newTestServer(&fakeBookings{}, rides, &fakeAuth{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/ride/cancel", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !rides.cancelled {
		t.Fatal("cancel not forwarded")
	}
}

func TestSnapshotWithoutRideIs404(t *testing.T) {
	ts := newTestServer(&fakeBookings{}, &fakeRides{}, &fakeAuth{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/ride/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestSnapshotReturnsPhase(t *testing.T) {
	rides := &fakeRides{snap: &models.RideSnapshot{RideID: "42", Phase: models.PhaseArriving}}
	ts := newTestServer(&fakeBookings{}, rides, &fakeAuth{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/ride/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Phase string `json:"phase"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Phase != "arriving" {
		t.Fatalf("phase %q", out.Phase)
	}
}

func TestLoginStoresPair(t *testing.T) {
	authSvc := &fakeAuth{}
	ts := newTestServer(&fakeBookings{}, &fakeRides{}, authSvc)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/auth/login", models.TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if authSvc.pair == nil || authSvc.pair.AccessToken != "a1" {
		t.Fatalf("pair not stored: %+v", authSvc.pair)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(&fakeBookings{}, &fakeRides{}, &fakeAuth{})
	defer ts.Close()

	req, _ := http.NewRequest("GET", ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc123" {
		t.Fatalf("request id %q not echoed, got %q", "abc123", got)
	}
}

func TestFareEstimate(t *testing.T) {
	ts := newTestServer(&fakeBookings{}, &fakeRides{}, &fakeAuth{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/fare/estimate", map[string]any{
		"pickup":  models.LocationPoint{Lat: 1},
		"dropoff": models.LocationPoint{Lat: 2},
	})
	defer resp.Body.Close()
	var out models.FareEstimate
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Amount != 180 {
		t.Fatalf("amount %f", out.Amount)
	}
}
