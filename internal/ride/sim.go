package ride

import (
	"context"
	"time"

	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/route"
)

// simLoop interpolates the driver marker toward the pickup point between
// polls so the UI never visibly stalls. It only runs while the driver is on
// approach; live fixes from polls override whatever it produced.
func (o *Orchestrator) simLoop(ctx context.Context, gen uint64) {
	t := time.NewTicker(o.cfg.SimTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		o.advanceSim(gen)
	}
}

func (o *Orchestrator) advanceSim(gen uint64) {
	o.mu.Lock()
	s := o.s
	if s == nil || s.gen != gen {
		o.mu.Unlock()
		return
	}
	if s.phase != models.PhaseDriverFound && s.phase != models.PhaseArriving {
		o.mu.Unlock()
		return
	}
	if s.position == nil {
		// no fix reported yet, nothing to extrapolate from
		o.mu.Unlock()
		return
	}

	step := o.cfg.SimSpeedMps * o.cfg.SimTick.Seconds()
	next := stepToward(s.position.Loc, s.booking.Pickup, step)
	s.position = &models.DriverPosition{Source: models.PositionSimulated, Loc: next}

	var fired []func()
	if s.approachTotal > 0 && s.phase == models.PhaseDriverFound {
		remaining := route.Haversine(next, s.booking.Pickup)
		if remaining <= 0.1*s.approachTotal {
			fired = o.transitionLocked(models.PhaseArriving)
		}
	}
	s.updatedAt = time.Now()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	for _, f := range fired {
		f()
	}
	o.emit(snap)
}

// stepToward moves at most stepMeters from one point toward another along
// the straight line between them.
func stepToward(from, to models.LocationPoint, stepMeters float64) models.LocationPoint {
	d := route.Haversine(from, to)
	if d == 0 || d <= stepMeters {
		return to
	}
	f := stepMeters / d
	return models.LocationPoint{
		Lat: from.Lat + (to.Lat-from.Lat)*f,
		Lng: from.Lng + (to.Lng-from.Lng)*f,
	}
}
