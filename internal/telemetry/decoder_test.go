package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullJSON = `{
	"timestamp": "2026-03-01T10:00:00Z",
	"location": {
		"latitude": 40.7128,
		"longitude": -74.0060,
		"altitude": 10.5,
		"accuracy": 4.2,
		"heading": 90,
		"speed": 12.5
	},
	"vehicle_metrics": {
		"odometer": 125000.5,
		"fuel_level": 62.0,
		"ignition_on": true
	},
	"device_health": {
		"battery_level": 85,
		"signal_strength": 70,
		"gps_satellites": 9,
		"temperature": 31.5
	}
}`

func TestDecodeJSON(t *testing.T) {
	reading, err := Decode("dev-1", []byte(fullJSON))
	require.NoError(t, err)

	assert.Equal(t, "dev-1", reading.DeviceID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), reading.Timestamp)
	assert.Equal(t, 40.7128, reading.Position.Lat)
	assert.Equal(t, -74.0060, reading.Position.Lon)
	assert.Equal(t, 12.5, reading.Position.Speed)
	require.NotNil(t, reading.Position.Heading)
	assert.Equal(t, 90.0, *reading.Position.Heading)
	assert.True(t, reading.Metrics.IgnitionOn)
	require.NotNil(t, reading.Metrics.FuelLevel)
	assert.Equal(t, 62.0, *reading.Metrics.FuelLevel)
	assert.Nil(t, reading.Metrics.EngineRPM)
	assert.Equal(t, 9, reading.Health.GPSSatellites)
}

func TestDecodeJSON_EpochTimestamp(t *testing.T) {
	payload := `{
		"timestamp": 1772000000,
		"location": {"latitude": 1, "longitude": 2, "accuracy": 5},
		"device_health": {"battery_level": 50, "signal_strength": 50, "gps_satellites": 6}
	}`
	reading, err := Decode("dev-1", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1772000000, 0).UTC(), reading.Timestamp)
}

func TestDecodeJSON_Defaults(t *testing.T) {
	payload := `{
		"timestamp": "2026-03-01T10:00:00Z",
		"location": {"latitude": 1, "longitude": 2, "accuracy": 5},
		"device_health": {"battery_level": 50, "signal_strength": 50, "gps_satellites": 6}
	}`
	reading, err := Decode("dev-1", []byte(payload))
	require.NoError(t, err)

	// Absent speed defaults to 0 and absent ignition to off; everything
	// else optional must stay absent, not zero.
	assert.Equal(t, 0.0, reading.Position.Speed)
	assert.False(t, reading.Metrics.IgnitionOn)
	assert.Nil(t, reading.Position.Heading)
	assert.Nil(t, reading.Metrics.Odometer)
	assert.Nil(t, reading.Metrics.FuelLevel)
	assert.Nil(t, reading.Health.Temperature)
}

func TestDecodeJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"not json", `{broken`, "payload"},
		{"no timestamp", `{"location": {"latitude": 1, "longitude": 2, "accuracy": 5}}`, "timestamp"},
		{"bad timestamp", `{"timestamp": "yesterday", "location": {"latitude": 1, "longitude": 2, "accuracy": 5}}`, "timestamp"},
		{"no location", `{"timestamp": 1772000000}`, "location"},
		{"no latitude", `{"timestamp": 1772000000, "location": {"longitude": 2, "accuracy": 5}}`, "location.latitude"},
		{"lat out of range", `{"timestamp": 1772000000, "location": {"latitude": 91, "longitude": 2, "accuracy": 5}}`, "latitude"},
		{"no accuracy", `{"timestamp": 1772000000, "location": {"latitude": 1, "longitude": 2}}`, "location.accuracy"},
		{"no health", `{"timestamp": 1772000000, "location": {"latitude": 1, "longitude": 2, "accuracy": 5}}`, "device_health"},
		{
			"bad heading",
			`{"timestamp": 1772000000, "location": {"latitude": 1, "longitude": 2, "accuracy": 5, "heading": 400},
			  "device_health": {"battery_level": 50, "signal_strength": 50, "gps_satellites": 6}}`,
			"location.heading",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("dev-1", []byte(tt.payload))
			require.Error(t, err)
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, tt.field, decodeErr.Field)
		})
	}
}

func TestDecodeDelimited(t *testing.T) {
	line := "2026-03-01T10:00:00Z,40.7128,-74.0060,12.5,90,1,85,70,9,62.0,125000.5"
	reading, err := Decode("dev-2", []byte(line))
	require.NoError(t, err)

	assert.Equal(t, "dev-2", reading.DeviceID)
	assert.Equal(t, 40.7128, reading.Position.Lat)
	assert.Equal(t, 12.5, reading.Position.Speed)
	require.NotNil(t, reading.Position.Heading)
	assert.Equal(t, 90.0, *reading.Position.Heading)
	assert.True(t, reading.Metrics.IgnitionOn)
	assert.Equal(t, 85.0, reading.Health.BatteryLevel)
	assert.Equal(t, 9, reading.Health.GPSSatellites)
	require.NotNil(t, reading.Metrics.FuelLevel)
	assert.Equal(t, 62.0, *reading.Metrics.FuelLevel)
	require.NotNil(t, reading.Metrics.Odometer)
	assert.Equal(t, 125000.5, *reading.Metrics.Odometer)
}

func TestDecodeDelimited_OptionalPositionsEmpty(t *testing.T) {
	line := "1772000000,40.7,-74.0,,,0,85,70,9"
	reading, err := Decode("dev-2", []byte(line))
	require.NoError(t, err)

	assert.Equal(t, 0.0, reading.Position.Speed)
	assert.Nil(t, reading.Position.Heading)
	assert.False(t, reading.Metrics.IgnitionOn)
	assert.Nil(t, reading.Metrics.FuelLevel)
}

func TestDecodeDelimited_Errors(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		field string
	}{
		{"too few fields", "1772000000,40.7,-74.0", "payload"},
		{"bad latitude", "1772000000,north,-74.0,,,0,85,70,9", "latitude"},
		{"missing longitude", "1772000000,40.7,,,,0,85,70,9", "longitude"},
		{"bad ignition", "1772000000,40.7,-74.0,,,maybe,85,70,9", "ignition"},
		{"bad satellites", "1772000000,40.7,-74.0,,,0,85,70,many", "gps_satellites"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("dev-2", []byte(tt.line))
			require.Error(t, err)
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, tt.field, decodeErr.Field)
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	_, err := Decode("dev-1", []byte("   "))
	if err == nil {
		t.Fatal("expected error for empty payload")
	}
}
