package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Location is a latitude/longitude pair.
type Location struct {
	Lat float64
	Lon float64
}

// Cities for realistic starting points
var cities = []Location{
	{Lat: 51.5074, Lon: -0.1278},   // London
	{Lat: 40.7128, Lon: -74.0060},  // New York
	{Lat: 40.4168, Lon: -3.7038},   // Madrid
	{Lat: 35.1856, Lon: 33.3823},   // Nicosia
	{Lat: 48.8566, Lon: 2.3522},    // Paris
	{Lat: 41.0082, Lon: 28.9784},   // Istanbul
	{Lat: 51.4816, Lon: -3.1791},   // Cardiff
	{Lat: 52.5200, Lon: 13.4050},   // Berlin
	{Lat: 35.6762, Lon: 139.6503},  // Tokyo
	{Lat: -33.8688, Lon: 151.2093}, // Sydney
	{Lat: 43.6532, Lon: -79.3832},  // Toronto
}

func jitterLocation(base Location, meters float64) Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func randomLocation() Location {
	base := cities[rand.Intn(len(cities))]
	return jitterLocation(base, 500)
}

// DeviceState drives one simulated tracker unit.
type DeviceState struct {
	DeviceID   string
	Position   Location
	SpeedMps   float64
	HeadingDeg float64
	IgnitionOn bool
	BatteryPct float64
	FuelPct    float64
	OdometerM  float64
	Legacy     bool // emits the comma-delimited line format
	// remaining ticks in the current driving or parked phase
	phaseTicks int
}

func (s *DeviceState) step(tickSec float64) {
	if s.phaseTicks <= 0 {
		// flip between driving and parked phases
		s.IgnitionOn = !s.IgnitionOn
		if s.IgnitionOn {
			s.phaseTicks = 30 + rand.Intn(120)
			s.SpeedMps = 5 + rand.Float64()*10
		} else {
			s.phaseTicks = 10 + rand.Intn(60)
			s.SpeedMps = 0
		}
	}
	s.phaseTicks--

	if !s.IgnitionOn {
		s.BatteryPct -= 0.01
		if s.BatteryPct < 3 {
			s.BatteryPct = 100
		}
		return
	}

	// speed noise, with the occasional hard stab on the pedal
	delta := (rand.Float64()*2 - 1) * 1.5
	if rand.Float64() < 0.02 {
		delta = 3.5 * tickSec // hard acceleration
	}
	s.SpeedMps += delta
	if s.SpeedMps < 0 {
		s.SpeedMps = 0
	}
	if s.SpeedMps > 33 {
		s.SpeedMps = 33
	}

	s.HeadingDeg += (rand.Float64()*2 - 1) * 10
	if rand.Float64() < 0.02 {
		s.HeadingDeg += 80 // sharp corner
	}
	s.HeadingDeg = math.Mod(s.HeadingDeg+360, 360)

	meters := s.SpeedMps * tickSec
	rad := s.HeadingDeg * math.Pi / 180
	s.Position.Lat += meters * math.Cos(rad) / 111320.0
	s.Position.Lon += meters * math.Sin(rad) / (111320.0 * math.Cos(s.Position.Lat*math.Pi/180))
	s.OdometerM += meters
	s.FuelPct -= meters * 0.00008
	if s.FuelPct < 5 {
		s.FuelPct = 100
	}
	s.BatteryPct -= 0.002
	if s.BatteryPct < 3 {
		s.BatteryPct = 100
	}
}

func (s *DeviceState) jsonPayload(now time.Time) []byte {
	ignition := s.IgnitionOn
	doc := map[string]interface{}{
		"timestamp": now.UTC().Format(time.RFC3339),
		"location": map[string]interface{}{
			"latitude":  s.Position.Lat,
			"longitude": s.Position.Lon,
			"accuracy":  3 + rand.Float64()*10,
			"heading":   s.HeadingDeg,
			"speed":     s.SpeedMps,
		},
		"vehicle_metrics": map[string]interface{}{
			"ignition_on": ignition,
			"fuel_level":  s.FuelPct,
			"odometer":    s.OdometerM,
		},
		"device_health": map[string]interface{}{
			"battery_level":   s.BatteryPct,
			"signal_strength": 40 + rand.Float64()*60,
			"gps_satellites":  5 + rand.Intn(8),
		},
	}
	data, _ := json.Marshal(doc)
	return data
}

func (s *DeviceState) delimitedPayload(now time.Time) []byte {
	ignition := "0"
	if s.IgnitionOn {
		ignition = "1"
	}
	line := fmt.Sprintf("%d,%.6f,%.6f,%.1f,%.0f,%s,%.0f,%.0f,%d,%.1f,%.0f",
		now.Unix(), s.Position.Lat, s.Position.Lon, s.SpeedMps, s.HeadingDeg,
		ignition, s.BatteryPct, 40+rand.Float64()*60, 5+rand.Intn(8),
		s.FuelPct, s.OdometerM)
	return []byte(line)
}

func (s *DeviceState) payload(now time.Time) []byte {
	if s.Legacy {
		return s.delimitedPayload(now)
	}
	return s.jsonPayload(now)
}

// sender delivers a raw payload for one device.
type sender func(deviceID string, payload []byte) error

func httpSender(apiURL string) sender {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(deviceID string, payload []byte) error {
		req, err := http.NewRequest(http.MethodPost, apiURL+"/api/telemetry", bytes.NewBuffer(payload))
		if err != nil {
			return err
		}
		req.Header.Set("X-Device-ID", deviceID)
		if key := os.Getenv("SIM_DEVICE_KEY"); key != "" {
			req.Header.Set("X-Device-Key", key)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %s", resp.Status)
		}
		return nil
	}
}

func mqttSender(broker string) (sender, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("fleet-telemetry-simulator").
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return func(deviceID string, payload []byte) error {
		topic := fmt.Sprintf("fleet/%s/telemetry", deviceID)
		token := client.Publish(topic, 1, false, payload)
		token.Wait()
		return token.Error()
	}, nil
}

func simulateDevice(s *DeviceState, send sender, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for range tick.C {
		s.step(interval.Seconds())
		if err := send(s.DeviceID, s.payload(time.Now())); err != nil {
			log.WithError(err).WithField("device", s.DeviceID).Error("Failed to send telemetry")
			continue
		}
		log.WithFields(log.Fields{
			"device":   s.DeviceID,
			"speed":    fmt.Sprintf("%.1f", s.SpeedMps),
			"ignition": s.IgnitionOn,
		}).Debug("Sent telemetry")
	}
}

func main() {
	if lvl, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	fleetSize := 10
	if val := os.Getenv("FLEET_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			fleetSize = n
		}
	}

	interval := 2 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	var send sender
	if broker := os.Getenv("SIM_MQTT_BROKER"); broker != "" {
		var err error
		send, err = mqttSender(broker)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		log.WithField("broker", broker).Info("Publishing over MQTT")
	} else {
		apiURL := os.Getenv("API_BASE_URL")
		if apiURL == "" {
			apiURL = "http://localhost:8080"
		}
		send = httpSender(apiURL)
		log.WithField("api_url", apiURL).Info("Publishing over HTTP")
	}

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"interval":   interval,
	}).Info("Starting telemetry simulation")

	for i := 0; i < fleetSize; i++ {
		state := &DeviceState{
			DeviceID:   fmt.Sprintf("dev-%03d", i+1),
			Position:   randomLocation(),
			HeadingDeg: rand.Float64() * 360,
			BatteryPct: 50 + rand.Float64()*50,
			FuelPct:    50 + rand.Float64()*50,
			OdometerM:  rand.Float64() * 2e8,
			Legacy:     i%4 == 3, // every fourth unit runs old firmware
		}
		go simulateDevice(state, send, interval)
	}

	log.Info("Telemetry simulation started")
	select {} // Block forever
}
