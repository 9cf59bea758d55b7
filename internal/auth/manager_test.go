package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-client/internal/kvstore"
	"github.com/example/ride-client/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshSingleFlight(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// widen the window so concurrent callers pile up on one flight
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(models.TokenPair{AccessToken: "a2", RefreshToken: "r2"})
	}))
	defer ts.Close()

	m := NewManager(kvstore.NewMemory(), ts.URL, ts.Client(), testLogger())
	ctx := context.Background()
	if err := m.SetTokens(ctx, models.TokenPair{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatal(err)
	}

	const n = 20
	var wg sync.WaitGroup
	pairs := make([]models.TokenPair, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs[i], errs[i] = m.Refresh(ctx)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if pairs[i].AccessToken != "a2" || pairs[i].RefreshToken != "r2" {
			t.Fatalf("caller %d got stale pair %+v", i, pairs[i])
		}
	}
}

func TestRefreshSendsStoredRefreshToken(t *testing.T) {
	var gotBody struct {
		RefreshToken string `json:"refreshToken"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(models.TokenPair{AccessToken: "a2", RefreshToken: "r2"})
	}))
	defer ts.Close()

	m := NewManager(kvstore.NewMemory(), ts.URL, ts.Client(), testLogger())
	ctx := context.Background()
	m.SetTokens(ctx, models.TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	if _, err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if gotBody.RefreshToken != "r1" {
		t.Fatalf("expected refresh token r1, got %q", gotBody.RefreshToken)
	}
}

func TestRefreshFailureKeepsTokens(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "refresh token revoked", http.StatusUnauthorized)
	}))
	defer ts.Close()

	store := kvstore.NewMemory()
	m := NewManager(store, ts.URL, ts.Client(), testLogger())
	ctx := context.Background()
	m.SetTokens(ctx, models.TokenPair{AccessToken: "a1", RefreshToken: "r1"})

	_, err := m.Refresh(ctx)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}

	// prior pair untouched, no forced sign-out
	tok, err := m.AccessToken(ctx)
	if err != nil || tok != "a1" {
		t.Fatalf("expected cached a1, got %q, %v", tok, err)
	}
	if v, _ := store.Get(ctx, "auth:refresh_token"); v != "r1" {
		t.Fatalf("stored refresh token changed: %q", v)
	}
}

func TestAccessTokenRefreshesWhenOnlyRefreshTokenExists(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.TokenPair{AccessToken: "a2", RefreshToken: "r2"})
	}))
	defer ts.Close()

	m := NewManager(kvstore.NewMemory(), ts.URL, ts.Client(), testLogger())
	ctx := context.Background()
	m.SetTokens(ctx, models.TokenPair{AccessToken: "", RefreshToken: "r1"})

	tok, err := m.AccessToken(ctx)
	if err != nil || tok != "a2" {
		t.Fatalf("expected refreshed a2, got %q, %v", tok, err)
	}
}

func TestAccessTokenEmptyWithoutSession(t *testing.T) {
	m := NewManager(kvstore.NewMemory(), "http://unused", nil, testLogger())
	tok, err := m.AccessToken(context.Background())
	if err != nil || tok != "" {
		t.Fatalf("expected empty token, got %q, %v", tok, err)
	}
}

func TestClearWipesSession(t *testing.T) {
	store := kvstore.NewMemory()
	m := NewManager(store, "http://unused", nil, testLogger())
	ctx := context.Background()
	m.SetTokens(ctx, models.TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	if err := m.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if tok, _ := m.AccessToken(ctx); tok != "" {
		t.Fatalf("expected no token after clear, got %q", tok)
	}
	if _, err := store.Get(ctx, "auth:access_token"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("access token still stored: %v", err)
	}
}
