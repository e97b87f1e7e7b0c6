package models

import "time"

// EnrichedUpdate is what subscribers receive after each accepted reading:
// the refreshed state plus anything the reading produced. DeliverySkipped
// is set when the subscriber's queue overflowed and an older update was
// dropped before this one.
type EnrichedUpdate struct {
	VehicleID       string        `json:"vehicle_id"`
	CustomerID      string        `json:"customer_id"`
	State           *VehicleState `json:"state"`
	Events          []Event       `json:"events,omitempty"`
	Alerts          []Alert       `json:"alerts,omitempty"`
	DeliverySkipped bool          `json:"delivery_skipped,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}
