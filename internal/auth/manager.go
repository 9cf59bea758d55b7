package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/example/ride-client/internal/kvstore"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

const (
	keyAccessToken  = "auth:access_token"
	keyRefreshToken = "auth:refresh_token"
)

// AuthError marks a failed token refresh. It never clears stored tokens;
// what to do about a dead session is the caller's decision.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
	}
	return "auth: " + e.Op
}

func (e *AuthError) Unwrap() error { return e.Err }

// Manager owns the access/refresh token pair. All token mutation in the
// process goes through it: SetTokens after interactive login, Clear on
// logout, Refresh for everything else. Refresh is single-flight: concurrent
// callers share one network round trip and its result, because the backend
// invalidates a refresh token on first use.
type Manager struct {
	store    kvstore.Store
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	access   string
	refresh  string
	loaded   bool
	inflight *refreshCall
}

type refreshCall struct {
	done chan struct{}
	pair models.TokenPair
	err  error
}

func NewManager(store kvstore.Store, baseURL string, client *http.Client, logger *slog.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Manager{store: store, endpoint: baseURL + "/auth/refresh", client: client, logger: logger}
}

// AccessToken returns the cached access token, refreshing first when only a
// refresh token is on hand. An empty token with a nil error means the user
// has no session at all.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if err := m.loadLocked(ctx); err != nil {
		m.mu.Unlock()
		return "", err
	}
	if m.access != "" {
		tok := m.access
		m.mu.Unlock()
		return tok, nil
	}
	if m.refresh == "" {
		m.mu.Unlock()
		return "", nil
	}
	m.mu.Unlock()

	pair, err := m.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// Refresh exchanges the refresh token for a new pair. If a refresh is
// already in flight the caller awaits that same call instead of starting
// another. A failed refresh leaves the stored pair untouched.
func (m *Manager) Refresh(ctx context.Context) (models.TokenPair, error) {
	m.mu.Lock()
	if m.inflight != nil {
		call := m.inflight
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.pair, call.err
		case <-ctx.Done():
			return models.TokenPair{}, ctx.Err()
		}
	}
	if err := m.loadLocked(ctx); err != nil {
		m.mu.Unlock()
		return models.TokenPair{}, err
	}
	refreshToken := m.refresh
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	m.mu.Unlock()

	pair, err := m.doRefresh(ctx, refreshToken)

	m.mu.Lock()
	m.inflight = nil
	if err == nil {
		// Persist before updating the cache so a crash between the two
		// never leaves durable state ahead of memory.
		if perr := m.persistLocked(ctx, pair); perr != nil {
			m.logger.Error("token_persist_failed", "error", perr)
		}
		m.access = pair.AccessToken
		m.refresh = pair.RefreshToken
	}
	call.pair = pair
	call.err = err
	close(call.done)
	m.mu.Unlock()

	return pair, err
}

// SetTokens installs a pair obtained from an interactive login.
func (m *Manager) SetTokens(ctx context.Context, pair models.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persistLocked(ctx, pair); err != nil {
		return err
	}
	m.access = pair.AccessToken
	m.refresh = pair.RefreshToken
	m.loaded = true
	return nil
}

// Clear wipes the session on explicit logout.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := errors.Join(
		m.store.Delete(ctx, keyAccessToken),
		m.store.Delete(ctx, keyRefreshToken),
	)
	m.access = ""
	m.refresh = ""
	m.loaded = true
	return err
}

func (m *Manager) loadLocked(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	access, err := m.store.Get(ctx, keyAccessToken)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return err
	}
	refresh, err := m.store.Get(ctx, keyRefreshToken)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return err
	}
	m.access = access
	m.refresh = refresh
	m.loaded = true
	return nil
}

func (m *Manager) persistLocked(ctx context.Context, pair models.TokenPair) error {
	if err := m.store.Set(ctx, keyAccessToken, pair.AccessToken); err != nil {
		return err
	}
	return m.store.Set(ctx, keyRefreshToken, pair.RefreshToken)
}

func (m *Manager) doRefresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	observability.TokenRefreshes.Inc()
	if refreshToken == "" {
		observability.TokenRefreshFailures.Inc()
		return models.TokenPair{}, &AuthError{Op: "refresh", Err: errors.New("no refresh token")}
	}

	body, _ := json.Marshal(map[string]string{"refreshToken": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		observability.TokenRefreshFailures.Inc()
		return models.TokenPair{}, &AuthError{Op: "refresh", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		observability.TokenRefreshFailures.Inc()
		return models.TokenPair{}, &AuthError{Op: "refresh", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.TokenRefreshFailures.Inc()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.TokenPair{}, &AuthError{Op: "refresh", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(b))}
	}

	var pair models.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		observability.TokenRefreshFailures.Inc()
		return models.TokenPair{}, &AuthError{Op: "refresh", Err: err}
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		observability.TokenRefreshFailures.Inc()
		return models.TokenPair{}, &AuthError{Op: "refresh", Err: errors.New("incomplete token pair in response")}
	}

	m.logger.Info("token_refreshed")
	return pair, nil
}
