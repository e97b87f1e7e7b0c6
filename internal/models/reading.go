package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Position is the positional fix carried by a device reading.
type Position struct {
	Lat      float64  `bson:"lat" json:"lat"`
	Lon      float64  `bson:"lon" json:"lon"`
	Altitude *float64 `bson:"altitude,omitempty" json:"altitude,omitempty"` // meters above sea level
	Accuracy float64  `bson:"accuracy" json:"accuracy"`                     // meters
	Heading  *float64 `bson:"heading,omitempty" json:"heading,omitempty"`   // degrees, 0-360
	Speed    float64  `bson:"speed" json:"speed"`                           // m/s, 0 when absent from the payload
}

// VehicleMetrics holds engine and drivetrain figures reported by the device.
type VehicleMetrics struct {
	Odometer       *float64 `bson:"odometer,omitempty" json:"odometer,omitempty"` // kilometers
	FuelLevel      *float64 `bson:"fuel_level,omitempty" json:"fuel_level,omitempty"`
	EngineRPM      *float64 `bson:"engine_rpm,omitempty" json:"engine_rpm,omitempty"`
	EngineTemp     *float64 `bson:"engine_temp,omitempty" json:"engine_temp,omitempty"`
	BatteryVoltage *float64 `bson:"battery_voltage,omitempty" json:"battery_voltage,omitempty"`
	IgnitionOn     bool     `bson:"ignition_on" json:"ignition_on"`
	EngineHours    *float64 `bson:"engine_hours,omitempty" json:"engine_hours,omitempty"`
}

// DeviceHealth holds the device's own health figures.
type DeviceHealth struct {
	BatteryLevel   float64  `bson:"battery_level" json:"battery_level"`     // percent
	SignalStrength float64  `bson:"signal_strength" json:"signal_strength"` // percent
	GPSSatellites  int      `bson:"gps_satellites" json:"gps_satellites"`
	Temperature    *float64 `bson:"temperature,omitempty" json:"temperature,omitempty"` // celsius
}

// DeviceReading is one decoded telemetry sample from a device at a point
// in time. Immutable once created.
type DeviceReading struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DeviceID  string             `bson:"device_id" json:"device_id"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
	Position  Position           `bson:"position" json:"position"`
	Metrics   VehicleMetrics     `bson:"metrics" json:"metrics"`
	Health    DeviceHealth       `bson:"health" json:"health"`
}
