// Package telemetry normalizes raw device payloads into canonical readings.
//
// Devices report in one of two encodings: a JSON document, or the legacy
// comma-delimited line format older tracker firmware emits. Everything
// downstream depends only on models.DeviceReading.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// DecodeError reports a malformed or missing payload field. The reading is
// dropped; ingestion continues with the next payload.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Field, e.Reason)
}

func decodeErrf(field, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Decode converts a raw device payload into a DeviceReading. JSON payloads
// start with '{'; anything else is treated as the delimited line format.
func Decode(deviceID string, payload []byte) (*models.DeviceReading, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, decodeErrf("payload", "empty")
	}
	if trimmed[0] == '{' {
		return decodeJSON(deviceID, trimmed)
	}
	return decodeDelimited(deviceID, string(trimmed))
}

// jsonPayload mirrors the device JSON document. Pointer fields distinguish
// absent from zero.
type jsonPayload struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Location  *struct {
		Lat      *float64 `json:"latitude"`
		Lon      *float64 `json:"longitude"`
		Altitude *float64 `json:"altitude"`
		Accuracy *float64 `json:"accuracy"`
		Heading  *float64 `json:"heading"`
		Speed    *float64 `json:"speed"`
	} `json:"location"`
	Metrics *struct {
		Odometer       *float64 `json:"odometer"`
		FuelLevel      *float64 `json:"fuel_level"`
		EngineRPM      *float64 `json:"engine_rpm"`
		EngineTemp     *float64 `json:"engine_temp"`
		BatteryVoltage *float64 `json:"battery_voltage"`
		IgnitionOn     *bool    `json:"ignition_on"`
		EngineHours    *float64 `json:"engine_hours"`
	} `json:"vehicle_metrics"`
	Health *struct {
		BatteryLevel   *float64 `json:"battery_level"`
		SignalStrength *float64 `json:"signal_strength"`
		GPSSatellites  *int     `json:"gps_satellites"`
		Temperature    *float64 `json:"temperature"`
	} `json:"device_health"`
}

func decodeJSON(deviceID string, payload []byte) (*models.DeviceReading, error) {
	var p jsonPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, decodeErrf("payload", "invalid JSON: %v", err)
	}

	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return nil, err
	}

	if p.Location == nil {
		return nil, decodeErrf("location", "missing")
	}
	if p.Location.Lat == nil {
		return nil, decodeErrf("location.latitude", "missing")
	}
	if p.Location.Lon == nil {
		return nil, decodeErrf("location.longitude", "missing")
	}
	if err := checkLatLon(*p.Location.Lat, *p.Location.Lon); err != nil {
		return nil, err
	}
	if p.Location.Accuracy == nil {
		return nil, decodeErrf("location.accuracy", "missing")
	}
	if p.Health == nil {
		return nil, decodeErrf("device_health", "missing")
	}
	if p.Health.BatteryLevel == nil {
		return nil, decodeErrf("device_health.battery_level", "missing")
	}
	if p.Health.SignalStrength == nil {
		return nil, decodeErrf("device_health.signal_strength", "missing")
	}
	if p.Health.GPSSatellites == nil {
		return nil, decodeErrf("device_health.gps_satellites", "missing")
	}

	reading := &models.DeviceReading{
		DeviceID:  deviceID,
		Timestamp: ts,
		Position: models.Position{
			Lat:      *p.Location.Lat,
			Lon:      *p.Location.Lon,
			Altitude: p.Location.Altitude,
			Accuracy: *p.Location.Accuracy,
			Heading:  p.Location.Heading,
		},
		Health: models.DeviceHealth{
			BatteryLevel:   *p.Health.BatteryLevel,
			SignalStrength: *p.Health.SignalStrength,
			GPSSatellites:  *p.Health.GPSSatellites,
			Temperature:    p.Health.Temperature,
		},
	}
	// Absent speed means 0, absent ignition means off. Every other
	// optional stays nil so downstream code can tell absent from zero.
	if p.Location.Speed != nil {
		reading.Position.Speed = *p.Location.Speed
	}
	if p.Metrics != nil {
		reading.Metrics = models.VehicleMetrics{
			Odometer:       p.Metrics.Odometer,
			FuelLevel:      p.Metrics.FuelLevel,
			EngineRPM:      p.Metrics.EngineRPM,
			EngineTemp:     p.Metrics.EngineTemp,
			BatteryVoltage: p.Metrics.BatteryVoltage,
			EngineHours:    p.Metrics.EngineHours,
		}
		if p.Metrics.IgnitionOn != nil {
			reading.Metrics.IgnitionOn = *p.Metrics.IgnitionOn
		}
	}
	if reading.Position.Heading != nil {
		h := *reading.Position.Heading
		if h < 0 || h >= 360 {
			return nil, decodeErrf("location.heading", "out of range: %v", h)
		}
	}
	return reading, nil
}

// Delimited line format, fixed positions:
//
//	timestamp,lat,lon,speed,heading,ignition,battery,signal,sats[,fuel[,odometer]]
//
// Empty positions mean absent. Heading, fuel and odometer are optional.
const (
	fieldTimestamp = iota
	fieldLat
	fieldLon
	fieldSpeed
	fieldHeading
	fieldIgnition
	fieldBattery
	fieldSignal
	fieldSatellites
	fieldFuel
	fieldOdometer

	minDelimitedFields = fieldSatellites + 1
)

var delimitedNames = []string{
	"timestamp", "latitude", "longitude", "speed", "heading",
	"ignition", "battery_level", "signal_strength", "gps_satellites",
	"fuel_level", "odometer",
}

func decodeDelimited(deviceID, line string) (*models.DeviceReading, error) {
	parts := strings.Split(line, ",")
	if len(parts) < minDelimitedFields {
		return nil, decodeErrf("payload", "expected at least %d fields, got %d", minDelimitedFields, len(parts))
	}

	ts, err := parseTimestamp(json.RawMessage(strconv.Quote(strings.TrimSpace(parts[fieldTimestamp]))))
	if err != nil {
		return nil, err
	}

	lat, err := parseDelimitedFloat(parts, fieldLat, true)
	if err != nil {
		return nil, err
	}
	lon, err := parseDelimitedFloat(parts, fieldLon, true)
	if err != nil {
		return nil, err
	}
	if err := checkLatLon(*lat, *lon); err != nil {
		return nil, err
	}
	speed, err := parseDelimitedFloat(parts, fieldSpeed, false)
	if err != nil {
		return nil, err
	}
	heading, err := parseDelimitedFloat(parts, fieldHeading, false)
	if err != nil {
		return nil, err
	}
	battery, err := parseDelimitedFloat(parts, fieldBattery, true)
	if err != nil {
		return nil, err
	}
	signal, err := parseDelimitedFloat(parts, fieldSignal, true)
	if err != nil {
		return nil, err
	}
	satsStr := strings.TrimSpace(parts[fieldSatellites])
	sats, err := strconv.Atoi(satsStr)
	if err != nil {
		return nil, decodeErrf("gps_satellites", "not an integer: %q", satsStr)
	}

	reading := &models.DeviceReading{
		DeviceID:  deviceID,
		Timestamp: ts,
		Position: models.Position{
			Lat:     *lat,
			Lon:     *lon,
			Heading: heading,
		},
		Health: models.DeviceHealth{
			BatteryLevel:   *battery,
			SignalStrength: *signal,
			GPSSatellites:  sats,
		},
	}
	if speed != nil {
		reading.Position.Speed = *speed
	}
	switch strings.TrimSpace(parts[fieldIgnition]) {
	case "1", "on", "true":
		reading.Metrics.IgnitionOn = true
	case "", "0", "off", "false":
	default:
		return nil, decodeErrf("ignition", "unrecognized value: %q", parts[fieldIgnition])
	}
	if len(parts) > fieldFuel {
		reading.Metrics.FuelLevel, err = parseDelimitedFloat(parts, fieldFuel, false)
		if err != nil {
			return nil, err
		}
	}
	if len(parts) > fieldOdometer {
		reading.Metrics.Odometer, err = parseDelimitedFloat(parts, fieldOdometer, false)
		if err != nil {
			return nil, err
		}
	}
	return reading, nil
}

// parseDelimitedFloat parses one position of a delimited line. An empty
// position is an error for required fields and nil for optional ones.
func parseDelimitedFloat(parts []string, idx int, required bool) (*float64, error) {
	raw := strings.TrimSpace(parts[idx])
	if raw == "" {
		if required {
			return nil, decodeErrf(delimitedNames[idx], "missing")
		}
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, decodeErrf(delimitedNames[idx], "not a number: %q", raw)
	}
	return &v, nil
}

// parseTimestamp accepts RFC3339 strings or unix epoch seconds (integer or
// fractional, quoted or bare).
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, decodeErrf("timestamp", "missing")
	}
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	if s == "" {
		return time.Time{}, decodeErrf("timestamp", "missing")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if epoch, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, decodeErrf("timestamp", "unrecognized format: %q", s)
}

func checkLatLon(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return decodeErrf("latitude", "out of range: %v", lat)
	}
	if lon < -180 || lon > 180 {
		return decodeErrf("longitude", "out of range: %v", lon)
	}
	return nil
}
