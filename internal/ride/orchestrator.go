package ride

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-client/internal/booking"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
	"github.com/example/ride-client/internal/route"
)

// Poller is a single idempotent read of the ride's server-side state.
type Poller interface {
	Details(ctx context.Context, rideID string) (models.RideDetails, error)
}

// Canceller submits the cancellation for a ride.
type Canceller interface {
	CancelBooking(ctx context.Context, rideID string) error
}

// Config holds the orchestrator's timing knobs.
type Config struct {
	PollInterval  time.Duration
	SearchTimeout time.Duration
	HandoffDelay  time.Duration
	SimTick       time.Duration
	SimSpeedMps   float64
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 180 * time.Second
	}
	if c.HandoffDelay <= 0 {
		c.HandoffDelay = 2 * time.Second
	}
	if c.SimTick <= 0 {
		c.SimTick = time.Second
	}
	if c.SimSpeedMps <= 0 {
		c.SimSpeedMps = 8
	}
	return c
}

// Orchestrator drives one ride at a time through its phases. It owns the
// poll loop, the no-driver timeout guard, the driver-approach simulation,
// and the session they all mutate. External readers only ever get
// snapshots.
//
// Hooks are wired once at boot, before the first Start, and fire outside
// the session lock.
type Orchestrator struct {
	// OnChange receives a fresh snapshot after every observable update.
	OnChange func(models.RideSnapshot)
	// OnNoDriver fires at most once per session while still Searching.
	// The session keeps searching; giving up is the user's call.
	OnNoDriver func(rideID string)
	// OnHandoff fires once, HandoffDelay after entering Arrived, unless
	// the session is torn down first.
	OnHandoff func(models.RideSnapshot)
	// OnTransition fires on every applied phase transition.
	OnTransition func(snap models.RideSnapshot, from, to models.RidePhase)

	poller    Poller
	canceller Canceller
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	s       *session
	nextGen uint64
}

// session is the aggregate only the orchestrator mutates. Poll results and
// timer callbacks carry the generation they were started under; anything
// stale is discarded, never applied.
type session struct {
	gen     uint64
	booking models.Booking
	route   *models.RoutePath

	phase    models.RidePhase
	driver   *models.Driver
	position *models.DriverPosition

	// approachTotal is the driver's distance to pickup at the first
	// server fix; simulated progress is measured against it.
	approachTotal  float64
	noDriverNotice bool
	guardFired     bool
	updatedAt      time.Time

	cancelLoops context.CancelFunc
	guard       *time.Timer
	handoff     *time.Timer
}

func (s *session) stopGuard() {
	if s.guard != nil {
		s.guard.Stop()
		s.guard = nil
	}
}

func (s *session) stopHandoff() {
	if s.handoff != nil {
		s.handoff.Stop()
		s.handoff = nil
	}
}

func New(poller Poller, canceller Canceller, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{poller: poller, canceller: canceller, cfg: cfg.withDefaults(), logger: logger}
}

// Start installs a new session for a just-booked ride, discarding any prior
// one, and begins polling. The timeout guard starts with the poll loop.
func (o *Orchestrator) Start(b models.Booking, routePath *models.RoutePath) {
	o.mu.Lock()
	o.teardownLocked()
	o.nextGen++
	gen := o.nextGen

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		gen:         gen,
		booking:     b,
		route:       routePath,
		phase:       models.PhaseSearching,
		updatedAt:   time.Now(),
		cancelLoops: cancel,
	}
	s.guard = time.AfterFunc(o.cfg.SearchTimeout, func() { o.guardFire(gen) })
	o.s = s
	snap := o.snapshotLocked()
	o.mu.Unlock()

	observability.PhaseTransitions.WithLabelValues(models.PhaseSearching.String()).Inc()
	o.logger.Info("ride_session_started", "ride_id", b.RideID, "gen", gen)

	go o.pollLoop(ctx, gen, b.RideID)
	go o.simLoop(ctx, gen)
	o.emit(snap)
}

// Cancel marks the session terminal before the cancellation request goes
// out, so a poll result racing the cancel can never resurrect the ride.
// Cancelling with no active session is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	s := o.s
	if s == nil || s.phase.Terminal() {
		o.mu.Unlock()
		return nil
	}
	rideID := s.booking.RideID
	fired := o.transitionLocked(models.PhaseCancelled)
	s.updatedAt = time.Now()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	for _, f := range fired {
		f()
	}
	o.emit(snap)

	err := o.canceller.CancelBooking(ctx, rideID)
	if errors.Is(err, booking.ErrAlreadyTerminal) {
		return nil
	}
	return err
}

// Snapshot returns a copy of the current session state, if any.
func (o *Orchestrator) Snapshot() (models.RideSnapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s == nil {
		return models.RideSnapshot{}, false
	}
	return o.snapshotLocked(), true
}

// Stop tears the session down without cancelling the ride server-side.
// Used at process shutdown.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.teardownLocked()
	o.s = nil
	o.mu.Unlock()
}

func (o *Orchestrator) pollLoop(ctx context.Context, gen uint64, rideID string) {
	t := time.NewTicker(o.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		// The poll runs inline, so two polls for the same ride can
		// never overlap.
		observability.PollsTotal.Inc()
		d, err := o.poller.Details(ctx, rideID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			observability.PollErrors.Inc()
			o.logger.Warn("poll_failed", "ride_id", rideID, "error", err)
			continue
		}
		o.applyPoll(gen, d)
	}
}

func (o *Orchestrator) applyPoll(gen uint64, d models.RideDetails) {
	o.mu.Lock()
	s := o.s
	if s == nil || s.gen != gen || s.phase.Terminal() {
		o.mu.Unlock()
		observability.PollsDiscarded.Inc()
		return
	}

	if d.Driver != nil {
		drv := *d.Driver
		s.driver = &drv
		s.stopGuard()
		s.noDriverNotice = false
	}
	if d.DriverLocation != nil && s.driver != nil {
		// Server truth wins immediately; the simulation resumes from
		// this corrected position on its next tick.
		loc := *d.DriverLocation
		s.driver.LiveLocation = &loc
		s.position = &models.DriverPosition{Source: models.PositionLive, Loc: loc}
		if s.approachTotal == 0 {
			s.approachTotal = route.Haversine(loc, s.booking.Pickup)
		}
	}

	var fired []func()
	if target, ok := phaseForDetails(s.phase, d); ok {
		fired = o.transitionLocked(target)
	}
	s.updatedAt = time.Now()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	for _, f := range fired {
		f()
	}
	o.emit(snap)
}

// transitionLocked applies the monotonicity rules and returns the hook
// invocations to run once the lock is released.
func (o *Orchestrator) transitionLocked(to models.RidePhase) []func() {
	s := o.s
	from := s.phase
	if to == from || from.Terminal() {
		return nil
	}
	if to != models.PhaseCancelled && to < from {
		o.logger.Debug("phase_regression_ignored", "ride_id", s.booking.RideID, "from", from.String(), "to", to.String())
		return nil
	}

	s.phase = to
	observability.PhaseTransitions.WithLabelValues(to.String()).Inc()
	o.logger.Info("phase_transition", "ride_id", s.booking.RideID, "from", from.String(), "to", to.String())

	if to >= models.PhaseDriverFound {
		s.stopGuard()
		s.noDriverNotice = false
	}

	var fired []func()
	if o.OnTransition != nil {
		snap := o.snapshotLocked()
		hook := o.OnTransition
		fired = append(fired, func() { hook(snap, from, to) })
	}

	if to.Terminal() {
		s.cancelLoops()
		s.stopHandoff()
		if to == models.PhaseArrived {
			gen := s.gen
			s.handoff = time.AfterFunc(o.cfg.HandoffDelay, func() { o.handoffFire(gen) })
		}
	}
	return fired
}

func (o *Orchestrator) guardFire(gen uint64) {
	o.mu.Lock()
	s := o.s
	if s == nil || s.gen != gen || s.phase != models.PhaseSearching || s.guardFired {
		o.mu.Unlock()
		return
	}
	s.guardFired = true
	s.noDriverNotice = true
	s.updatedAt = time.Now()
	rideID := s.booking.RideID
	snap := o.snapshotLocked()
	o.mu.Unlock()

	observability.NoDriverTimeouts.Inc()
	o.logger.Warn("no_driver_timeout", "ride_id", rideID)
	if o.OnNoDriver != nil {
		o.OnNoDriver(rideID)
	}
	o.emit(snap)
}

func (o *Orchestrator) handoffFire(gen uint64) {
	o.mu.Lock()
	s := o.s
	if s == nil || s.gen != gen || s.phase != models.PhaseArrived {
		o.mu.Unlock()
		return
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.logger.Info("ride_handoff", "ride_id", snap.RideID)
	if o.OnHandoff != nil {
		o.OnHandoff(snap)
	}
}

func (o *Orchestrator) teardownLocked() {
	if o.s == nil {
		return
	}
	o.s.stopGuard()
	o.s.stopHandoff()
	o.s.cancelLoops()
}

func (o *Orchestrator) snapshotLocked() models.RideSnapshot {
	s := o.s
	snap := models.RideSnapshot{
		RideID:         s.booking.RideID,
		Phase:          s.phase,
		NoDriverNotice: s.noDriverNotice,
		UpdatedAt:      s.updatedAt,
	}
	fare := s.booking.Fare
	snap.Fare = &fare
	if s.driver != nil {
		drv := *s.driver
		if s.driver.LiveLocation != nil {
			loc := *s.driver.LiveLocation
			drv.LiveLocation = &loc
		}
		snap.Driver = &drv
	}
	if s.position != nil {
		pos := *s.position
		snap.Position = &pos
	}
	if s.route != nil {
		rp := *s.route
		rp.Points = append([]models.LocationPoint(nil), s.route.Points...)
		snap.Route = &rp
	}
	return snap
}

func (o *Orchestrator) emit(snap models.RideSnapshot) {
	if o.OnChange != nil {
		o.OnChange(snap)
	}
}

// phaseForDetails maps a poll payload onto a target phase. The Near flag
// only promotes to Arriving once a driver is known; Arrived wins over
// everything else in the payload.
func phaseForDetails(current models.RidePhase, d models.RideDetails) (models.RidePhase, bool) {
	target, ok := phaseForStatus(d.Status)
	if d.Arrived {
		return models.PhaseArrived, true
	}
	if !ok {
		return 0, false
	}
	if d.Near && target >= models.PhaseDriverFound && target < models.PhaseArriving {
		target = models.PhaseArriving
	}
	return target, true
}

func phaseForStatus(status string) (models.RidePhase, bool) {
	switch status {
	case "pending", "searching", "requested":
		return models.PhaseSearching, true
	case "confirmed", "accepted", "driver_found":
		return models.PhaseDriverFound, true
	case "driver_arriving", "arriving":
		return models.PhaseArriving, true
	case "in_progress", "started", "ongoing":
		return models.PhaseInProgress, true
	case "completed", "arrived":
		return models.PhaseArrived, true
	case "cancelled", "canceled":
		return models.PhaseCancelled, true
	}
	return 0, false
}
