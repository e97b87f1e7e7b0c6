// Package alerts derives point-in-time alerts from current vehicle state
// and device health. Alerts are a display projection, computed on demand;
// unlike events they are never persisted.
package alerts

import (
	"fmt"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

const (
	lowBatteryWarning  = 20.0
	lowBatteryCritical = 10.0
	minSatellites      = 4
	maintenanceInfo    = 7 * 24 * time.Hour
	maintenanceWarning = 3 * 24 * time.Hour
)

type rule struct {
	evaluate func(in input) *models.Alert
}

type input struct {
	state   *models.VehicleState
	vehicle *models.Vehicle
	now     time.Time
}

var rules = []rule{
	{evaluate: lowBattery},
	{evaluate: poorGPS},
	{evaluate: maintenanceDue},
	{evaluate: speeding},
}

// Evaluate runs every rule against the current state. The vehicle record
// supplies the maintenance schedule and may be nil.
func Evaluate(state *models.VehicleState, vehicle *models.Vehicle, now time.Time) []models.Alert {
	if state == nil || state.LastReading == nil {
		return nil
	}
	in := input{state: state, vehicle: vehicle, now: now}
	var out []models.Alert
	for _, r := range rules {
		if a := r.evaluate(in); a != nil {
			a.VehicleID = state.VehicleID
			a.Timestamp = in.now
			out = append(out, *a)
		}
	}
	return out
}

func lowBattery(in input) *models.Alert {
	level := in.state.LastReading.Health.BatteryLevel
	if level >= lowBatteryWarning {
		return nil
	}
	severity := models.SeverityWarning
	if level < lowBatteryCritical {
		severity = models.SeverityCritical
	}
	return &models.Alert{
		Type:     models.AlertLowBattery,
		Severity: severity,
		Message:  fmt.Sprintf("device battery at %.0f%%", level),
		Value:    level,
	}
}

func poorGPS(in input) *models.Alert {
	sats := in.state.LastReading.Health.GPSSatellites
	if sats >= minSatellites {
		return nil
	}
	return &models.Alert{
		Type:     models.AlertPoorGPS,
		Severity: models.SeverityWarning,
		Message:  fmt.Sprintf("only %d GPS satellites in view", sats),
		Value:    float64(sats),
	}
}

func maintenanceDue(in input) *models.Alert {
	if in.vehicle == nil || in.vehicle.NextServiceDate == nil {
		return nil
	}
	until := in.vehicle.NextServiceDate.Sub(in.now)
	if until > maintenanceInfo {
		return nil
	}
	severity := models.SeverityInfo
	if until <= maintenanceWarning {
		severity = models.SeverityWarning
	}
	days := until.Hours() / 24
	if days < 0 {
		days = 0
	}
	return &models.Alert{
		Type:     models.AlertMaintenanceDue,
		Severity: severity,
		Message:  fmt.Sprintf("maintenance due in %.0f days", days),
		Value:    days,
	}
}

func speeding(in input) *models.Alert {
	limit := in.state.AlertConfig.SpeedLimit
	speed := in.state.LastReading.Position.Speed
	if limit <= 0 || speed <= limit {
		return nil
	}
	severity := models.SeverityWarning
	if speed >= limit*1.2 {
		severity = models.SeverityCritical
	}
	return &models.Alert{
		Type:     models.AlertSpeeding,
		Severity: severity,
		Message:  fmt.Sprintf("traveling at %.1f m/s, limit %.1f m/s", speed, limit),
		Value:    speed,
	}
}
