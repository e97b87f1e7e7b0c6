// Package refdata caches the read-only configuration this core consumes:
// vehicle records, geofence definitions and alert thresholds. The cache is
// an immutable snapshot swapped atomically on reload, so every evaluation
// of a reading sees one consistent view.
package refdata

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// Snapshot is one consistent view of the reference data. Never mutated
// after construction.
type Snapshot struct {
	vehiclesByDevice map[string]*models.Vehicle
	vehiclesByID     map[string]*models.Vehicle
	geofences        map[string]*models.Geofence
	LoadedAt         time.Time
}

// VehicleByDevice resolves the vehicle a device is mounted on.
func (s *Snapshot) VehicleByDevice(deviceID string) *models.Vehicle {
	return s.vehiclesByDevice[deviceID]
}

// Vehicle resolves a vehicle record by vehicle id.
func (s *Snapshot) Vehicle(vehicleID string) *models.Vehicle {
	return s.vehiclesByID[vehicleID]
}

// Geofence resolves a geofence definition by id.
func (s *Snapshot) Geofence(id string) *models.Geofence {
	return s.geofences[id]
}

// GeofencesFor returns the geofences configured on a vehicle, skipping
// ids with no definition.
func (s *Snapshot) GeofencesFor(v *models.Vehicle) []*models.Geofence {
	if v == nil || len(v.GeofenceIDs) == 0 {
		return nil
	}
	out := make([]*models.Geofence, 0, len(v.GeofenceIDs))
	for _, id := range v.GeofenceIDs {
		if gf, ok := s.geofences[id]; ok {
			out = append(out, gf)
		}
	}
	return out
}

// VehicleCount reports how many vehicles the snapshot covers.
func (s *Snapshot) VehicleCount() int { return len(s.vehiclesByID) }

// Provider loads and periodically refreshes the reference snapshot. The
// admin service's change feed can nudge an early reload through Notify.
type Provider struct {
	store    db.ReferenceCollection
	interval time.Duration

	mu   sync.RWMutex
	snap *Snapshot

	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProvider builds a provider polling at the given interval.
func NewProvider(store db.ReferenceCollection, interval time.Duration) *Provider {
	return &Provider{
		store:    store,
		interval: interval,
		snap:     &Snapshot{},
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Load fetches a fresh snapshot and swaps it in.
func (p *Provider) Load(ctx context.Context) error {
	vehicles, err := p.store.FindVehicles(ctx)
	if err != nil {
		return err
	}
	geofences, err := p.store.FindGeofences(ctx)
	if err != nil {
		return err
	}

	snap := &Snapshot{
		vehiclesByDevice: make(map[string]*models.Vehicle, len(vehicles)),
		vehiclesByID:     make(map[string]*models.Vehicle, len(vehicles)),
		geofences:        make(map[string]*models.Geofence, len(geofences)),
		LoadedAt:         time.Now(),
	}
	for i := range vehicles {
		v := vehicles[i]
		snap.vehiclesByID[v.VehicleID] = &v
		snap.vehiclesByDevice[v.DeviceID] = &v
	}
	for i := range geofences {
		gf := geofences[i]
		snap.geofences[gf.ID] = &gf
	}

	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()

	log.WithFields(log.Fields{
		"vehicles":  len(vehicles),
		"geofences": len(geofences),
	}).Debug("reference data reloaded")
	return nil
}

// Snapshot returns the current immutable snapshot.
func (p *Provider) Snapshot() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Notify requests a reload ahead of the next poll tick.
func (p *Provider) Notify() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run polls until Close. A failed reload keeps the previous snapshot.
func (p *Provider) Run(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-p.kick:
			}
			if err := p.Load(ctx); err != nil {
				log.WithError(err).Warn("reference data reload failed, keeping previous snapshot")
			}
		}
	}()
}

// Close stops the polling loop.
func (p *Provider) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}
