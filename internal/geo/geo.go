// Package geo provides the geometric predicates used for geofence
// evaluation and trip distance accumulation.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

const earthRadiusMeters = 6371000

// ErrInvalidGeofence marks a malformed geofence definition. The caller
// skips that geofence and continues with the rest.
var ErrInvalidGeofence = errors.New("invalid geofence")

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Distance returns the great-circle distance in meters between two locations.
func Distance(a, b models.Location) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Contains reports whether the point lies inside the geofence.
func Contains(fence *models.Geofence, lat, lon float64) (bool, error) {
	switch fence.Type {
	case models.GeofenceCircle:
		if fence.Circle == nil {
			return false, fmt.Errorf("%w %s: circle definition missing", ErrInvalidGeofence, fence.ID)
		}
		if fence.Circle.RadiusMeters <= 0 {
			return false, fmt.Errorf("%w %s: radius %v", ErrInvalidGeofence, fence.ID, fence.Circle.RadiusMeters)
		}
		d := Haversine(lat, lon, fence.Circle.Center.Lat, fence.Circle.Center.Lon)
		return d <= fence.Circle.RadiusMeters, nil
	case models.GeofencePolygon:
		if fence.Polygon == nil || len(fence.Polygon.Vertices) < 3 {
			return false, fmt.Errorf("%w %s: polygon needs at least 3 vertices", ErrInvalidGeofence, fence.ID)
		}
		return pointInPolygon(fence.Polygon.Vertices, lat, lon), nil
	default:
		return false, fmt.Errorf("%w %s: unknown type %q", ErrInvalidGeofence, fence.ID, fence.Type)
	}
}

// pointInPolygon is the ray-casting parity test over the vertex ring,
// with longitude as x and latitude as y.
func pointInPolygon(ring []models.Location, lat, lon float64) bool {
	x, y := lon, lat
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if ((yi > y) != (yj > y)) &&
			(x < (xj-xi)*(y-yi)/(yj-yi)+xi) {
			inside = !inside
		}
		j = i
	}
	return inside
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
