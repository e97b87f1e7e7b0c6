package models

import "time"

// AlertType identifies a point-in-time alert derived from current state.
type AlertType string

const (
	AlertLowBattery     AlertType = "low_battery"
	AlertPoorGPS        AlertType = "poor_gps"
	AlertMaintenanceDue AlertType = "maintenance_due"
	AlertSpeeding       AlertType = "speeding"
)

// Alert is a derived, display-oriented condition. Alerts are computed on
// demand from current state and never persisted as events.
type Alert struct {
	VehicleID string    `json:"vehicle_id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
