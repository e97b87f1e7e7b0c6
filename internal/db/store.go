package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// Collection names within the fleet database.
const (
	CollReadings     = "readings"
	CollEvents       = "events"
	CollTrips        = "trips"
	CollVehicleState = "vehicle_state"
	CollVehicles     = "vehicles"
	CollGeofences    = "geofences"
)

// MongoStore implements Store on a MongoDB database.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore wraps the named database of a connected client.
func NewMongoStore(client *mongo.Client, name string) *MongoStore {
	return &MongoStore{db: client.Database(name)}
}

// InsertReading stores one accepted reading.
func (s *MongoStore) InsertReading(ctx context.Context, reading models.DeviceReading) error {
	_, err := s.db.Collection(CollReadings).InsertOne(ctx, reading)
	return err
}

// FindReadingsByDevice returns a device's readings in a time range,
// oldest first.
func (s *MongoStore) FindReadingsByDevice(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceReading, error) {
	filter := bson.M{
		"device_id": deviceID,
		"timestamp": bson.M{"$gte": from, "$lte": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.db.Collection(CollReadings).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []models.DeviceReading
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertEvents appends a batch of events.
func (s *MongoStore) InsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, len(events))
	for i := range events {
		docs[i] = events[i]
	}
	_, err := s.db.Collection(CollEvents).InsertMany(ctx, docs)
	return err
}

func (s *MongoStore) findEvents(ctx context.Context, filter bson.M, from, to time.Time) ([]models.Event, error) {
	filter["timestamp"] = bson.M{"$gte": from, "$lte": to}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := s.db.Collection(CollEvents).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []models.Event
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindEventsByVehicle returns a vehicle's events in a time range, newest first.
func (s *MongoStore) FindEventsByVehicle(ctx context.Context, vehicleID string, from, to time.Time) ([]models.Event, error) {
	return s.findEvents(ctx, bson.M{"vehicle_id": vehicleID}, from, to)
}

// FindEventsByCustomer returns a customer's events in a time range, newest first.
func (s *MongoStore) FindEventsByCustomer(ctx context.Context, customerID string, from, to time.Time) ([]models.Event, error) {
	return s.findEvents(ctx, bson.M{"customer_id": customerID}, from, to)
}

// InsertTrip stores a newly started trip.
func (s *MongoStore) InsertTrip(ctx context.Context, trip *models.Trip) error {
	_, err := s.db.Collection(CollTrips).InsertOne(ctx, trip)
	return err
}

// UpdateTrip rewrites an open trip's accumulated statistics, matching on
// vehicle and start time since the tracker does not hold the object ID.
func (s *MongoStore) UpdateTrip(ctx context.Context, trip *models.Trip) error {
	filter := bson.M{"vehicle_id": trip.VehicleID, "start_time": trip.StartTime}
	update := bson.M{"$set": bson.M{
		"end_time":        trip.EndTime,
		"distance_meters": trip.DistanceMeters,
		"max_speed":       trip.MaxSpeed,
		"status":          trip.Status,
		"updated_at":      trip.UpdatedAt,
	}}
	res, err := s.db.Collection(CollTrips).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("trip not found for vehicle %s at %s", trip.VehicleID, trip.StartTime)
	}
	return nil
}

// FindTripsByVehicle returns a vehicle's trips starting in a time range.
func (s *MongoStore) FindTripsByVehicle(ctx context.Context, vehicleID string, from, to time.Time) ([]models.Trip, error) {
	filter := bson.M{
		"vehicle_id": vehicleID,
		"start_time": bson.M{"$gte": from, "$lte": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}})
	cursor, err := s.db.Collection(CollTrips).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []models.Trip
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindOpenTrip returns the vehicle's in-progress trip, or nil.
func (s *MongoStore) FindOpenTrip(ctx context.Context, vehicleID string) (*models.Trip, error) {
	filter := bson.M{"vehicle_id": vehicleID, "status": "in_progress"}
	var trip models.Trip
	err := s.db.Collection(CollTrips).FindOne(ctx, filter).Decode(&trip)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

// UpsertVehicleState replaces the stored derived state for a vehicle.
func (s *MongoStore) UpsertVehicleState(ctx context.Context, state *models.VehicleState) error {
	filter := bson.M{"vehicle_id": state.VehicleID}
	opts := options.Replace().SetUpsert(true)
	_, err := s.db.Collection(CollVehicleState).ReplaceOne(ctx, filter, state, opts)
	return err
}

// FindVehicleState returns the stored state for a vehicle, or nil if the
// vehicle has never reported.
func (s *MongoStore) FindVehicleState(ctx context.Context, vehicleID string) (*models.VehicleState, error) {
	var state models.VehicleState
	err := s.db.Collection(CollVehicleState).FindOne(ctx, bson.M{"vehicle_id": vehicleID}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// FindVehicleStatesByCustomer returns the stored state of every vehicle
// belonging to a customer.
func (s *MongoStore) FindVehicleStatesByCustomer(ctx context.Context, customerID string) ([]models.VehicleState, error) {
	cursor, err := s.db.Collection(CollVehicleState).Find(ctx, bson.M{"customer_id": customerID})
	if err != nil {
		return nil, err
	}
	var out []models.VehicleState
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindVehicles returns every vehicle registry record.
func (s *MongoStore) FindVehicles(ctx context.Context) ([]models.Vehicle, error) {
	cursor, err := s.db.Collection(CollVehicles).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var out []models.Vehicle
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindGeofences returns every geofence definition.
func (s *MongoStore) FindGeofences(ctx context.Context) ([]models.Geofence, error) {
	cursor, err := s.db.Collection(CollGeofences).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var out []models.Geofence
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchReference opens a change stream over the configuration collections
// so reference data can be reloaded as the admin service edits it.
func (s *MongoStore) WatchReference(ctx context.Context) (*mongo.ChangeStream, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"ns.coll": bson.M{"$in": []string{CollVehicles, CollGeofences}},
		}}},
	}
	return s.db.Watch(ctx, pipeline)
}
