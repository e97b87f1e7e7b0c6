package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Trip represents a contiguous ignition-on interval with accumulated
// distance and speed statistics. At most one trip is active per vehicle.
type Trip struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	VehicleID      string             `bson:"vehicle_id" json:"vehicle_id"`
	StartTime      time.Time          `bson:"start_time" json:"start_time"`
	EndTime        *time.Time         `bson:"end_time,omitempty" json:"end_time,omitempty"`
	DistanceMeters float64            `bson:"distance_meters" json:"distance_meters"`
	MaxSpeed       float64            `bson:"max_speed" json:"max_speed"` // m/s
	StartLocation  Location           `bson:"start_location" json:"start_location"`
	Status         string             `bson:"status" json:"status"` // "in_progress" or "completed"
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}

// Duration returns the trip duration, using now for an open trip.
func (t *Trip) Duration(now time.Time) time.Duration {
	if t.EndTime != nil {
		return t.EndTime.Sub(t.StartTime)
	}
	return now.Sub(t.StartTime)
}
