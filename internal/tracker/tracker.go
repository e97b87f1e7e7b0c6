// Package tracker derives per-vehicle operational state from accepted
// readings and emits the events they trigger.
//
// Processing is serialized per vehicle: each vehicle has an exclusive
// lock and steps 1-9 of the pipeline run as one unit under it. Different
// vehicles process fully concurrently. The in-memory state only advances
// after persistence succeeds, so the store and the tracker never diverge.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/alerts"
	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/driving"
	"github.com/ukydev/fleet-telemetry/internal/fanout"
	"github.com/ukydev/fleet-telemetry/internal/geo"
	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/refdata"
	"github.com/ukydev/fleet-telemetry/internal/trips"
)

// Speed thresholds for the derived status, in m/s.
const (
	movingSpeed = 5.0
	idleSpeed   = 1.0
)

// ErrUnknownDevice means no vehicle in the registry carries the device.
var ErrUnknownDevice = errors.New("device not bound to any vehicle")

// ErrOutOfOrderReading marks a reading whose timestamp is not newer than
// the vehicle's last accepted one. Dropped and counted, never applied.
var ErrOutOfOrderReading = errors.New("out-of-order reading")

// PersistenceError wraps a store failure during processing. The state
// update was not applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Tracker owns all derived vehicle state.
type Tracker struct {
	store db.Store
	rm    *db.ResilienceManager
	ref   *refdata.Provider
	fan   *fanout.Manager

	mu       sync.Mutex
	vehicles map[string]*vehicleEntry

	processed  atomic.Uint64
	outOfOrder atomic.Uint64

	now func() time.Time
}

type vehicleEntry struct {
	mu     sync.Mutex
	loaded bool
	state  *models.VehicleState
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the tracker's time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New builds a tracker. The resilience manager and fan-out manager may be
// nil; persistence then runs unguarded and updates are not distributed.
func New(store db.Store, rm *db.ResilienceManager, ref *refdata.Provider, fan *fanout.Manager, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		rm:       rm,
		ref:      ref,
		fan:      fan,
		vehicles: make(map[string]*vehicleEntry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Processed reports how many readings were accepted and applied.
func (t *Tracker) Processed() uint64 { return t.processed.Load() }

// OutOfOrder reports how many readings were dropped as stale.
func (t *Tracker) OutOfOrder() uint64 { return t.outOfOrder.Load() }

// exec routes a store operation through the resilience manager when one
// is attached, so writes fail fast while the connection is down.
func (t *Tracker) exec(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	if t.rm != nil {
		err = t.rm.Do(ctx, fn)
	} else {
		err = fn(ctx)
	}
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (t *Tracker) entry(vehicleID string) *vehicleEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.vehicles[vehicleID]
	if !ok {
		e = &vehicleEntry{}
		t.vehicles[vehicleID] = e
	}
	return e
}

// load rebuilds the entry's state from the store on first touch, resuming
// any trip that was open when the service last stopped. Caller holds the
// entry lock.
func (t *Tracker) load(ctx context.Context, e *vehicleEntry, vehicle *models.Vehicle) error {
	if e.loaded {
		return nil
	}
	var state *models.VehicleState
	err := t.exec(ctx, "load vehicle state", func(ctx context.Context) error {
		var err error
		state, err = t.store.FindVehicleState(ctx, vehicle.VehicleID)
		return err
	})
	if err != nil {
		return err
	}
	if state == nil {
		state = &models.VehicleState{
			VehicleID:          vehicle.VehicleID,
			DeviceID:           vehicle.DeviceID,
			CustomerID:         vehicle.CustomerID,
			Status:             models.StatusStopped,
			GeofenceMembership: make(map[string]bool),
			AlertConfig:        vehicle.AlertConfig,
		}
	}
	if state.GeofenceMembership == nil {
		state.GeofenceMembership = make(map[string]bool)
	}
	if state.ActiveTrip == nil {
		var open *models.Trip
		err := t.exec(ctx, "load open trip", func(ctx context.Context) error {
			var err error
			open, err = t.store.FindOpenTrip(ctx, vehicle.VehicleID)
			return err
		})
		if err != nil {
			return err
		}
		state.ActiveTrip = open
	}
	e.state = state
	e.loaded = true
	return nil
}

// State returns a copy of the vehicle's current derived state, or nil if
// the tracker has not seen the vehicle.
func (t *Tracker) State(vehicleID string) *models.VehicleState {
	t.mu.Lock()
	e, ok := t.vehicles[vehicleID]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil
	}
	return e.state.Clone()
}

// Process applies one decoded reading. It resolves the owning vehicle,
// runs the full detection pipeline under the vehicle's lock, persists the
// results and hands the enriched update to the fan-out manager.
func (t *Tracker) Process(ctx context.Context, reading *models.DeviceReading) (*models.EnrichedUpdate, error) {
	snap := t.ref.Snapshot()
	vehicle := snap.VehicleByDevice(reading.DeviceID)
	if vehicle == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, reading.DeviceID)
	}

	e := t.entry(vehicle.VehicleID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := t.load(ctx, e, vehicle); err != nil {
		return nil, err
	}

	// Step 1: out-of-order readings never mutate state or emit events.
	prev := e.state.LastReading
	if prev != nil && !reading.Timestamp.After(prev.Timestamp) {
		t.outOfOrder.Add(1)
		log.WithFields(log.Fields{
			"vehicle":   vehicle.VehicleID,
			"device":    reading.DeviceID,
			"timestamp": reading.Timestamp,
		}).Debug("dropping out-of-order reading")
		return nil, ErrOutOfOrderReading
	}

	// Work on a clone; the entry's state is only replaced after
	// persistence succeeds.
	next := e.state.Clone()
	next.AlertConfig = vehicle.AlertConfig
	var events []models.Event

	// Step 2: derived status. Offline stays a lazily-read projection.
	next.Status = deriveStatus(reading)

	// Step 3: speeding.
	if limit := next.AlertConfig.SpeedLimit; limit > 0 && reading.Position.Speed > limit {
		severity := models.SeverityWarning
		if reading.Position.Speed >= limit*1.2 {
			severity = models.SeverityCritical
		}
		events = append(events, t.newEvent(vehicle, models.EventSpeedAlert, severity, reading, map[string]interface{}{
			"speed": reading.Position.Speed,
			"limit": limit,
		}))
	}

	// Step 4: ignition transitions.
	if prev != nil && prev.Metrics.IgnitionOn != reading.Metrics.IgnitionOn {
		typ := models.EventTripStop
		if reading.Metrics.IgnitionOn {
			typ = models.EventTripStart
		}
		events = append(events, t.newEvent(vehicle, typ, models.SeverityInfo, reading, nil))
	}

	// Step 5: geofence containment. The membership cache and the event
	// are updated together; a malformed geofence skips only itself.
	for _, fence := range snap.GeofencesFor(vehicle) {
		inside, err := geo.Contains(fence, reading.Position.Lat, reading.Position.Lon)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"vehicle":  vehicle.VehicleID,
				"geofence": fence.ID,
			}).Warn("skipping malformed geofence")
			continue
		}
		if inside != next.GeofenceMembership[fence.ID] {
			typ := models.EventGeofenceExit
			if inside {
				typ = models.EventGeofenceEnter
			}
			events = append(events, t.newEvent(vehicle, typ, models.SeverityInfo, reading, map[string]interface{}{
				"geofence_id":   fence.ID,
				"geofence_name": fence.Name,
			}))
		}
		next.GeofenceMembership[fence.ID] = inside
	}

	// Step 6: idle timeout, tracked by an idle-start marker on the state.
	events = append(events, t.trackIdle(next, vehicle, reading)...)

	// Step 7: harsh driving against the previous reading.
	for _, d := range driving.Detect(prev, reading) {
		events = append(events, t.newEvent(vehicle, d.Type, d.Severity, reading, map[string]interface{}{
			"value": d.Value,
		}))
	}

	// Step 8: trip accumulation.
	agg := trips.NewAggregator(vehicle.VehicleID)
	agg.Resume(next.ActiveTrip)
	started, closed := agg.Update(prev, reading)
	next.ActiveTrip = agg.Active()

	// Step 9: persist, then commit and distribute.
	next.LastReading = reading
	next.UpdatedAt = t.now()

	if err := t.persist(ctx, reading, events, started, closed, next); err != nil {
		return nil, err
	}
	e.state = next
	t.processed.Add(1)

	update := &models.EnrichedUpdate{
		VehicleID:  vehicle.VehicleID,
		CustomerID: vehicle.CustomerID,
		State:      next.Clone(),
		Events:     events,
		Alerts:     alerts.Evaluate(next, vehicle, t.now()),
		Timestamp:  t.now(),
	}
	if t.fan != nil {
		t.fan.Publish(update)
	}
	return update, nil
}

func (t *Tracker) persist(ctx context.Context, reading *models.DeviceReading, events []models.Event, started, closed *models.Trip, next *models.VehicleState) error {
	if err := t.exec(ctx, "reading", func(ctx context.Context) error {
		return t.store.InsertReading(ctx, *reading)
	}); err != nil {
		return err
	}
	if len(events) > 0 {
		if err := t.exec(ctx, "events", func(ctx context.Context) error {
			return t.store.InsertEvents(ctx, events)
		}); err != nil {
			return err
		}
	}
	if started != nil {
		if err := t.exec(ctx, "trip start", func(ctx context.Context) error {
			return t.store.InsertTrip(ctx, started)
		}); err != nil {
			return err
		}
	}
	if closed != nil {
		if err := t.exec(ctx, "trip close", func(ctx context.Context) error {
			return t.store.UpdateTrip(ctx, closed)
		}); err != nil {
			return err
		}
	}
	return t.exec(ctx, "vehicle state", func(ctx context.Context) error {
		return t.store.UpsertVehicleState(ctx, next)
	})
}

// trackIdle maintains the idle-start marker and emits at most one
// idle_timeout event per idle period.
func (t *Tracker) trackIdle(next *models.VehicleState, vehicle *models.Vehicle, reading *models.DeviceReading) []models.Event {
	idling := reading.Metrics.IgnitionOn && reading.Position.Speed < idleSpeed
	if !idling {
		next.IdleSince = nil
		next.IdleAlerted = false
		return nil
	}
	if next.IdleSince == nil {
		ts := reading.Timestamp
		next.IdleSince = &ts
		next.IdleAlerted = false
		return nil
	}
	timeout := time.Duration(next.AlertConfig.IdleTimeoutSeconds) * time.Second
	if timeout <= 0 || next.IdleAlerted {
		return nil
	}
	idleFor := reading.Timestamp.Sub(*next.IdleSince)
	if idleFor < timeout {
		return nil
	}
	next.IdleAlerted = true
	return []models.Event{t.newEvent(vehicle, models.EventIdleTimeout, models.SeverityWarning, reading, map[string]interface{}{
		"idle_seconds": idleFor.Seconds(),
	})}
}

func deriveStatus(reading *models.DeviceReading) models.VehicleStatus {
	switch {
	case reading.Position.Speed > movingSpeed:
		return models.StatusMoving
	case reading.Metrics.IgnitionOn:
		return models.StatusIdle
	default:
		return models.StatusStopped
	}
}

// newEvent builds an event stamped with the triggering location.
func (t *Tracker) newEvent(vehicle *models.Vehicle, typ models.EventType, severity models.Severity, reading *models.DeviceReading, extra map[string]interface{}) models.Event {
	payload := map[string]interface{}{
		"lat": reading.Position.Lat,
		"lon": reading.Position.Lon,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return models.Event{
		ID:         uuid.NewString(),
		VehicleID:  vehicle.VehicleID,
		DeviceID:   vehicle.DeviceID,
		CustomerID: vehicle.CustomerID,
		Type:       typ,
		Severity:   severity,
		Payload:    payload,
		Timestamp:  reading.Timestamp,
	}
}
