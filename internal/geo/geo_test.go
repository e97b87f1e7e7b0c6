package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

func TestHaversine(t *testing.T) {
	// London to Paris, roughly 344 km.
	d := Haversine(51.5074, -0.1278, 48.8566, 2.3522)
	if math.Abs(d-344000) > 5000 {
		t.Errorf("London-Paris distance = %v, want ~344000", d)
	}

	// Zero distance for identical points.
	if d := Haversine(40.0, -74.0, 40.0, -74.0); d != 0 {
		t.Errorf("distance between identical points = %v, want 0", d)
	}

	// 0.01 degrees of latitude is about 1.11 km.
	d = Haversine(40.0, -74.0, 40.01, -74.0)
	if math.Abs(d-1112) > 10 {
		t.Errorf("0.01 deg latitude = %v, want ~1112", d)
	}
}

func circleFence(lat, lon, radius float64) *models.Geofence {
	return &models.Geofence{
		ID:     "gf-circle",
		Type:   models.GeofenceCircle,
		Circle: &models.Circle{Center: models.Location{Lat: lat, Lon: lon}, RadiusMeters: radius},
	}
}

func TestContains_Circle(t *testing.T) {
	fence := circleFence(40.0, -74.0, 500)

	inside, err := Contains(fence, 40.001, -74.0) // ~111 m from center
	require.NoError(t, err)
	assert.True(t, inside)

	inside, err = Contains(fence, 40.01, -74.0) // ~1.1 km from center
	require.NoError(t, err)
	assert.False(t, inside)
}

func TestContains_Polygon(t *testing.T) {
	// Unit square around the origin.
	fence := &models.Geofence{
		ID:   "gf-square",
		Type: models.GeofencePolygon,
		Polygon: &models.Polygon{Vertices: []models.Location{
			{Lat: -1, Lon: -1},
			{Lat: -1, Lon: 1},
			{Lat: 1, Lon: 1},
			{Lat: 1, Lon: -1},
		}},
	}

	tests := []struct {
		name     string
		lat, lon float64
		inside   bool
	}{
		{"center", 0, 0, true},
		{"near corner inside", 0.9, 0.9, true},
		{"outside east", 0, 2, false},
		{"outside north", 2, 0, false},
		{"far away", 40, -74, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inside, err := Contains(fence, tt.lat, tt.lon)
			require.NoError(t, err)
			assert.Equal(t, tt.inside, inside)
		})
	}
}

func TestContains_Concave(t *testing.T) {
	// L-shaped ring; the notch at the upper right is outside.
	fence := &models.Geofence{
		ID:   "gf-L",
		Type: models.GeofencePolygon,
		Polygon: &models.Polygon{Vertices: []models.Location{
			{Lat: 0, Lon: 0},
			{Lat: 0, Lon: 4},
			{Lat: 2, Lon: 4},
			{Lat: 2, Lon: 2},
			{Lat: 4, Lon: 2},
			{Lat: 4, Lon: 0},
		}},
	}

	inside, err := Contains(fence, 1, 1)
	require.NoError(t, err)
	assert.True(t, inside)

	inside, err = Contains(fence, 3, 3) // inside the notch
	require.NoError(t, err)
	assert.False(t, inside)
}

func TestContains_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		fence *models.Geofence
	}{
		{"circle missing", &models.Geofence{ID: "a", Type: models.GeofenceCircle}},
		{"zero radius", circleFence(0, 0, 0)},
		{"short ring", &models.Geofence{
			ID: "b", Type: models.GeofencePolygon,
			Polygon: &models.Polygon{Vertices: []models.Location{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}}},
		}},
		{"unknown type", &models.Geofence{ID: "c", Type: "blob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Contains(tt.fence, 0, 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidGeofence))
		})
	}
}
