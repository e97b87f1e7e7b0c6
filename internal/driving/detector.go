// Package driving detects harsh acceleration, harsh braking and sharp
// turns from pairs of consecutive readings.
package driving

import (
	"math"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

const (
	// MaxGap is the largest gap between readings that still allows
	// inferring behavior from the speed delta.
	MaxGap = 60 * time.Second

	harshAccelThreshold    = 2.5 // m/s^2
	criticalAccelThreshold = 4.0
	sharpTurnThreshold     = 30.0 // deg/s
	criticalTurnThreshold  = 60.0
	minTurnSpeed           = 10.0 // m/s; ignore heading jitter while crawling
)

// Detection is one detected behavior with its severity and the figure
// that triggered it.
type Detection struct {
	Type     models.EventType
	Severity models.Severity
	Value    float64 // m/s^2 for accel/braking, deg/s for turns
}

// Detect compares two consecutive readings from the same device and
// returns zero or more detections. Readings further than MaxGap apart
// produce nothing.
func Detect(prev, curr *models.DeviceReading) []Detection {
	if prev == nil || curr == nil {
		return nil
	}
	dt := curr.Timestamp.Sub(prev.Timestamp)
	if dt <= 0 || dt > MaxGap {
		return nil
	}
	seconds := dt.Seconds()

	var out []Detection

	accel := (curr.Position.Speed - prev.Position.Speed) / seconds
	if accel > harshAccelThreshold {
		severity := models.SeverityWarning
		if accel > criticalAccelThreshold {
			severity = models.SeverityCritical
		}
		out = append(out, Detection{Type: models.EventHarshAcceleration, Severity: severity, Value: accel})
	} else if accel < -harshAccelThreshold {
		severity := models.SeverityWarning
		if accel < -criticalAccelThreshold {
			severity = models.SeverityCritical
		}
		out = append(out, Detection{Type: models.EventHarshBraking, Severity: severity, Value: accel})
	}

	if prev.Position.Heading != nil && curr.Position.Heading != nil {
		turnRate := headingDelta(*prev.Position.Heading, *curr.Position.Heading) / seconds
		if turnRate > sharpTurnThreshold && curr.Position.Speed > minTurnSpeed {
			severity := models.SeverityWarning
			if turnRate > criticalTurnThreshold {
				severity = models.SeverityCritical
			}
			out = append(out, Detection{Type: models.EventSharpTurn, Severity: severity, Value: turnRate})
		}
	}
	return out
}

// headingDelta returns the shortest-arc absolute difference between two
// headings, wrapped at 180 degrees.
func headingDelta(a, b float64) float64 {
	d := math.Abs(b - a)
	if d > 180 {
		d = 360 - d
	}
	return d
}
