package history

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-client/internal/models"
)

// RideRecord is one finished ride, written when a session reaches a
// terminal phase.
type RideRecord struct {
	RideID     string               `json:"ride_id"`
	Pickup     models.LocationPoint `json:"pickup"`
	Dropoff    models.LocationPoint `json:"dropoff"`
	RideType   models.RideType      `json:"ride_type"`
	FareAmount float64              `json:"fare_amount"`
	Phase      models.RidePhase     `json:"phase"`
	StartedAt  time.Time            `json:"started_at"`
	EndedAt    time.Time            `json:"ended_at"`
}

// Store defines persistence operations for finished rides.
type Store interface {
	SaveRide(ctx context.Context, r *RideRecord) error
	ListRides(ctx context.Context, limit int) ([]*RideRecord, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records []*RideRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveRide(ctx context.Context, r *RideRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records = append(m.records, &cp)
	return nil
}

// ListRides returns the most recent rides first.
func (m *MemoryStore) ListRides(ctx context.Context, limit int) ([]*RideRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*RideRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		cp := *m.records[i]
		out = append(out, &cp)
	}
	return out, nil
}
