package db

import (
	"context"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// ReadingCollection defines the operations on stored device readings.
type ReadingCollection interface {
	InsertReading(ctx context.Context, reading models.DeviceReading) error
	FindReadingsByDevice(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceReading, error)
}

// EventCollection defines the operations on detected events. Events are
// append-only; acknowledgement lives with the external alerting service.
type EventCollection interface {
	InsertEvents(ctx context.Context, events []models.Event) error
	FindEventsByVehicle(ctx context.Context, vehicleID string, from, to time.Time) ([]models.Event, error)
	FindEventsByCustomer(ctx context.Context, customerID string, from, to time.Time) ([]models.Event, error)
}

// TripCollection defines the operations on trips.
type TripCollection interface {
	InsertTrip(ctx context.Context, trip *models.Trip) error
	UpdateTrip(ctx context.Context, trip *models.Trip) error
	FindTripsByVehicle(ctx context.Context, vehicleID string, from, to time.Time) ([]models.Trip, error)
	FindOpenTrip(ctx context.Context, vehicleID string) (*models.Trip, error)
}

// StateCollection defines the operations on derived vehicle state.
type StateCollection interface {
	UpsertVehicleState(ctx context.Context, state *models.VehicleState) error
	FindVehicleState(ctx context.Context, vehicleID string) (*models.VehicleState, error)
	FindVehicleStatesByCustomer(ctx context.Context, customerID string) ([]models.VehicleState, error)
}

// ReferenceCollection is the read-only view of configuration records
// owned by the external admin service.
type ReferenceCollection interface {
	FindVehicles(ctx context.Context) ([]models.Vehicle, error)
	FindGeofences(ctx context.Context) ([]models.Geofence, error)
}

// Store bundles every collection the processing core touches.
type Store interface {
	ReadingCollection
	EventCollection
	TripCollection
	StateCollection
	ReferenceCollection
}
