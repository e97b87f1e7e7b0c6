package models

import "time"

// EventType identifies the kind of operational or safety event.
type EventType string

const (
	EventTripStart         EventType = "start"
	EventTripStop          EventType = "stop"
	EventSpeedAlert        EventType = "speed_alert"
	EventGeofenceEnter     EventType = "geofence_enter"
	EventGeofenceExit      EventType = "geofence_exit"
	EventHarshAcceleration EventType = "harsh_acceleration"
	EventHarshBraking      EventType = "harsh_braking"
	EventSharpTurn         EventType = "sharp_turn"
	EventIdleTimeout       EventType = "idle_timeout"
)

// Severity grades an event or alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is an append-only record of something the tracker detected.
// Acknowledgement and resolution metadata is owned by the external
// alerting service and never touched here.
type Event struct {
	ID         string                 `bson:"event_id" json:"id"`
	VehicleID  string                 `bson:"vehicle_id" json:"vehicle_id"`
	DeviceID   string                 `bson:"device_id" json:"device_id"`
	CustomerID string                 `bson:"customer_id" json:"customer_id"`
	Type       EventType              `bson:"type" json:"type"`
	Severity   Severity               `bson:"severity" json:"severity"`
	Payload    map[string]interface{} `bson:"payload" json:"payload"`
	Timestamp  time.Time              `bson:"timestamp" json:"timestamp"`
}
