package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func healthyState() *models.VehicleState {
	return &models.VehicleState{
		VehicleID: "veh-1",
		LastReading: &models.DeviceReading{
			Timestamp: now,
			Position:  models.Position{Speed: 10},
			Health:    models.DeviceHealth{BatteryLevel: 90, SignalStrength: 80, GPSSatellites: 10},
		},
		AlertConfig: models.AlertConfig{SpeedLimit: 25},
	}
}

func findAlert(alerts []models.Alert, typ models.AlertType) *models.Alert {
	for i := range alerts {
		if alerts[i].Type == typ {
			return &alerts[i]
		}
	}
	return nil
}

func TestEvaluate_AllHealthy(t *testing.T) {
	assert.Empty(t, Evaluate(healthyState(), nil, now))
}

func TestEvaluate_NilState(t *testing.T) {
	assert.Nil(t, Evaluate(nil, nil, now))
	assert.Nil(t, Evaluate(&models.VehicleState{}, nil, now))
}

func TestLowBattery(t *testing.T) {
	tests := []struct {
		name     string
		level    float64
		severity models.Severity
		want     bool
	}{
		{"healthy", 50, "", false},
		{"at threshold", 20, "", false},
		{"warning", 15, models.SeverityWarning, true},
		{"critical", 5, models.SeverityCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := healthyState()
			state.LastReading.Health.BatteryLevel = tt.level
			a := findAlert(Evaluate(state, nil, now), models.AlertLowBattery)
			if !tt.want {
				assert.Nil(t, a)
				return
			}
			require.NotNil(t, a)
			assert.Equal(t, tt.severity, a.Severity)
			assert.Equal(t, tt.level, a.Value)
			assert.Equal(t, "veh-1", a.VehicleID)
		})
	}
}

func TestPoorGPS(t *testing.T) {
	state := healthyState()
	state.LastReading.Health.GPSSatellites = 3

	a := findAlert(Evaluate(state, nil, now), models.AlertPoorGPS)
	require.NotNil(t, a)
	assert.Equal(t, models.SeverityWarning, a.Severity)
}

func TestMaintenanceDue(t *testing.T) {
	tests := []struct {
		name     string
		due      time.Duration
		severity models.Severity
		want     bool
	}{
		{"far out", 30 * 24 * time.Hour, "", false},
		{"within a week", 5 * 24 * time.Hour, models.SeverityInfo, true},
		{"imminent", 2 * 24 * time.Hour, models.SeverityWarning, true},
		{"overdue", -24 * time.Hour, models.SeverityWarning, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due := now.Add(tt.due)
			vehicle := &models.Vehicle{VehicleID: "veh-1", NextServiceDate: &due}
			a := findAlert(Evaluate(healthyState(), vehicle, now), models.AlertMaintenanceDue)
			if !tt.want {
				assert.Nil(t, a)
				return
			}
			require.NotNil(t, a)
			assert.Equal(t, tt.severity, a.Severity)
		})
	}
}

func TestSpeeding(t *testing.T) {
	state := healthyState()
	state.LastReading.Position.Speed = 28 // limit 25

	a := findAlert(Evaluate(state, nil, now), models.AlertSpeeding)
	require.NotNil(t, a)
	assert.Equal(t, models.SeverityWarning, a.Severity)

	state.LastReading.Position.Speed = 31 // 24% over
	a = findAlert(Evaluate(state, nil, now), models.AlertSpeeding)
	require.NotNil(t, a)
	assert.Equal(t, models.SeverityCritical, a.Severity)

	// No configured limit means no speeding alert.
	state.AlertConfig.SpeedLimit = 0
	state.LastReading.Position.Speed = 50
	assert.Nil(t, findAlert(Evaluate(state, nil, now), models.AlertSpeeding))
}

func TestEvaluate_MultipleAlerts(t *testing.T) {
	state := healthyState()
	state.LastReading.Health.BatteryLevel = 8
	state.LastReading.Health.GPSSatellites = 2
	state.LastReading.Position.Speed = 40

	out := Evaluate(state, nil, now)
	assert.Len(t, out, 3)
}
