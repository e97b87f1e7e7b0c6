// Package trips accumulates per-vehicle trip statistics across ignition
// cycles.
package trips

import (
	"time"

	"github.com/ukydev/fleet-telemetry/internal/geo"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// Aggregator is the trip state machine for a single vehicle. It is owned
// by the tracker's per-vehicle writer and is not safe for concurrent use.
type Aggregator struct {
	vehicleID string
	active    *models.Trip
}

// NewAggregator returns an aggregator with no active trip.
func NewAggregator(vehicleID string) *Aggregator {
	return &Aggregator{vehicleID: vehicleID}
}

// Resume restores a previously persisted open trip, used when the tracker
// rebuilds vehicle state after a restart.
func (a *Aggregator) Resume(trip *models.Trip) {
	a.active = trip
}

// Active returns the open trip, or nil.
func (a *Aggregator) Active() *models.Trip {
	return a.active
}

// Update feeds the next accepted reading through the state machine.
// A trip starts on an ignition off-to-on transition and closes on
// on-to-off; a reading with no predecessor never starts a trip, so the
// first-ever reading from a device cannot fabricate one. Returns the
// trip that just started and/or the trip that just closed.
func (a *Aggregator) Update(prev, curr *models.DeviceReading) (started, closed *models.Trip) {
	if a.active != nil && prev != nil {
		a.active.DistanceMeters += geo.Haversine(
			prev.Position.Lat, prev.Position.Lon,
			curr.Position.Lat, curr.Position.Lon,
		)
		if curr.Position.Speed > a.active.MaxSpeed {
			a.active.MaxSpeed = curr.Position.Speed
		}
		a.active.UpdatedAt = curr.Timestamp
	}

	if prev == nil {
		return nil, nil
	}

	switch {
	case !prev.Metrics.IgnitionOn && curr.Metrics.IgnitionOn && a.active == nil:
		a.active = &models.Trip{
			VehicleID:     a.vehicleID,
			StartTime:     curr.Timestamp,
			StartLocation: models.Location{Lat: curr.Position.Lat, Lon: curr.Position.Lon},
			MaxSpeed:      curr.Position.Speed,
			Status:        "in_progress",
			CreatedAt:     curr.Timestamp,
			UpdatedAt:     curr.Timestamp,
		}
		return a.active, nil

	case prev.Metrics.IgnitionOn && !curr.Metrics.IgnitionOn && a.active != nil:
		end := curr.Timestamp
		a.active.EndTime = &end
		a.active.Status = "completed"
		closed = a.active
		a.active = nil
		return nil, closed
	}
	return nil, nil
}

// Snapshot reports the open trip's running statistics. Duration uses now
// since the trip has no end time yet.
func (a *Aggregator) Snapshot(now time.Time) (duration time.Duration, distanceMeters, maxSpeed float64) {
	if a.active == nil {
		return 0, 0, 0
	}
	return a.active.Duration(now), a.active.DistanceMeters, a.active.MaxSpeed
}
