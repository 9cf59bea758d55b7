package history

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/ride-client/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *RideRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ride_history(ride_id, pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address, ride_type, fare_amount, phase, started_at, ended_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.RideID, r.Pickup.Lat, r.Pickup.Lng, r.Pickup.Address, r.Dropoff.Lat, r.Dropoff.Lng, r.Dropoff.Address,
		string(r.RideType), r.FareAmount, r.Phase.String(), r.StartedAt, r.EndedAt)
	return err
}

func (p *PostgresStore) ListRides(ctx context.Context, limit int) ([]*RideRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT ride_id, pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address, ride_type, fare_amount, phase, started_at, ended_at
		 FROM ride_history ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RideRecord
	for rows.Next() {
		var r RideRecord
		var rideType, phase string
		if err := rows.Scan(&r.RideID, &r.Pickup.Lat, &r.Pickup.Lng, &r.Pickup.Address,
			&r.Dropoff.Lat, &r.Dropoff.Lng, &r.Dropoff.Address,
			&rideType, &r.FareAmount, &phase, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		r.RideType = models.RideType(rideType)
		if phase == models.PhaseCancelled.String() {
			r.Phase = models.PhaseCancelled
		} else {
			r.Phase = models.PhaseArrived
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }
