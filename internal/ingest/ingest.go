// Package ingest is the entry point raw device payloads come through,
// whatever transport carried them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/refdata"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
	"github.com/ukydev/fleet-telemetry/internal/tracker"
)

// ErrBadDeviceKey means the presented ingest key does not match the
// device's registered hash.
var ErrBadDeviceKey = errors.New("invalid device key")

// Ingestor decodes payloads and drives them through the tracker.
type Ingestor struct {
	tracker *tracker.Tracker
	ref     *refdata.Provider

	accepted       atomic.Uint64
	decodeFailures atomic.Uint64
}

// New builds an ingestor.
func New(tr *tracker.Tracker, ref *refdata.Provider) *Ingestor {
	return &Ingestor{tracker: tr, ref: ref}
}

// Accepted reports how many payloads decoded and applied successfully.
func (i *Ingestor) Accepted() uint64 { return i.accepted.Load() }

// DecodeFailures reports how many payloads were rejected at the decoder.
func (i *Ingestor) DecodeFailures() uint64 { return i.decodeFailures.Load() }

// Authenticate checks a device's ingest key against the registry. Devices
// with no registered key hash pass; ingest keys are optional per fleet.
func (i *Ingestor) Authenticate(deviceID, key string) error {
	vehicle := i.ref.Snapshot().VehicleByDevice(deviceID)
	if vehicle == nil {
		return fmt.Errorf("%w: %s", tracker.ErrUnknownDevice, deviceID)
	}
	if vehicle.IngestKeyHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(vehicle.IngestKeyHash), []byte(key)); err != nil {
		return ErrBadDeviceKey
	}
	return nil
}

// Ingest decodes one raw payload and applies it. Decode and validation
// failures come back to the caller; an out-of-order reading is dropped
// silently since the device did nothing wrong, it was just late.
func (i *Ingestor) Ingest(ctx context.Context, deviceID string, payload []byte) (*models.EnrichedUpdate, error) {
	reading, err := telemetry.Decode(deviceID, payload)
	if err != nil {
		i.decodeFailures.Add(1)
		log.WithError(err).WithField("device", deviceID).Warn("dropping undecodable payload")
		return nil, err
	}

	update, err := i.tracker.Process(ctx, reading)
	if errors.Is(err, tracker.ErrOutOfOrderReading) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	i.accepted.Add(1)
	return update, nil
}
