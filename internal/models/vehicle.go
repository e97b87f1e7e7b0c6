package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VehicleStatus is the derived operational status of a vehicle.
type VehicleStatus string

const (
	StatusMoving  VehicleStatus = "moving"
	StatusIdle    VehicleStatus = "idle"
	StatusStopped VehicleStatus = "stopped"
	StatusOffline VehicleStatus = "offline"
)

// OfflineAfter is how long a vehicle may go without an accepted reading
// before readers derive its status as offline.
const OfflineAfter = 30 * time.Minute

// AlertConfig holds the per-vehicle thresholds used during processing.
type AlertConfig struct {
	SpeedLimit         float64 `bson:"speed_limit" json:"speed_limit"` // m/s
	IdleTimeoutSeconds int     `bson:"idle_timeout_seconds" json:"idle_timeout_seconds"`
}

// Vehicle is the read-only registry record for a fleet vehicle. Owned by the
// external configuration service; this core only reads it.
type Vehicle struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	VehicleID       string             `bson:"vehicle_id" json:"vehicle_id"`
	DeviceID        string             `bson:"device_id" json:"device_id"`
	CustomerID      string             `bson:"customer_id" json:"customer_id"`
	Make            string             `bson:"make" json:"make"`
	Model           string             `bson:"model" json:"model"`
	Year            int                `bson:"year" json:"year"`
	IngestKeyHash   string             `bson:"ingest_key_hash" json:"-"`
	GeofenceIDs     []string           `bson:"geofence_ids" json:"geofence_ids"`
	AlertConfig     AlertConfig        `bson:"alert_config" json:"alert_config"`
	NextServiceDate *time.Time         `bson:"next_service_date,omitempty" json:"next_service_date,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
}

// VehicleState is the derived per-vehicle state owned by the tracker. All
// mutation happens under the tracker's per-vehicle lock.
type VehicleState struct {
	VehicleID          string          `bson:"vehicle_id" json:"vehicle_id"`
	DeviceID           string          `bson:"device_id" json:"device_id"`
	CustomerID         string          `bson:"customer_id" json:"customer_id"`
	LastReading        *DeviceReading  `bson:"last_reading,omitempty" json:"last_reading,omitempty"`
	Status             VehicleStatus   `bson:"status" json:"status"`
	GeofenceMembership map[string]bool `bson:"geofence_membership" json:"geofence_membership"`
	ActiveTrip         *Trip           `bson:"active_trip,omitempty" json:"active_trip,omitempty"`
	IdleSince          *time.Time      `bson:"idle_since,omitempty" json:"idle_since,omitempty"`
	IdleAlerted        bool            `bson:"idle_alerted" json:"idle_alerted"`
	AlertConfig        AlertConfig     `bson:"alert_config" json:"alert_config"`
	UpdatedAt          time.Time       `bson:"updated_at" json:"updated_at"`
}

// EffectiveStatus derives the status as seen by a reader at now. Offline is
// never stored; it is always derived from the age of the last reading.
func (s *VehicleState) EffectiveStatus(now time.Time) VehicleStatus {
	if s.LastReading == nil || now.Sub(s.LastReading.Timestamp) > OfflineAfter {
		return StatusOffline
	}
	return s.Status
}

// Clone returns a deep copy of the state so a snapshot can leave the
// tracker's lock without aliasing the owned maps.
func (s *VehicleState) Clone() *VehicleState {
	out := *s
	out.GeofenceMembership = make(map[string]bool, len(s.GeofenceMembership))
	for k, v := range s.GeofenceMembership {
		out.GeofenceMembership[k] = v
	}
	if s.LastReading != nil {
		r := *s.LastReading
		out.LastReading = &r
	}
	if s.ActiveTrip != nil {
		t := *s.ActiveTrip
		out.ActiveTrip = &t
	}
	if s.IdleSince != nil {
		ts := *s.IdleSince
		out.IdleSince = &ts
	}
	return &out
}
