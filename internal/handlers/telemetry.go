package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/ingest"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
	"github.com/ukydev/fleet-telemetry/internal/tracker"
)

// TelemetryHandler accepts raw device payloads over HTTP. The device
// identifies itself with the X-Device-ID header and optionally proves
// itself with X-Device-Key; the body is the untouched payload in either
// device encoding.
type TelemetryHandler struct {
	ingestor *ingest.Ingestor
}

// NewTelemetryHandler creates the ingestion endpoint handler.
func NewTelemetryHandler(ingestor *ingest.Ingestor) *TelemetryHandler {
	return &TelemetryHandler{ingestor: ingestor}
}

// Ingest handles POST /api/telemetry.
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deviceID := r.Header.Get("X-Device-ID")
	if deviceID == "" {
		http.Error(w, "X-Device-ID header required", http.StatusBadRequest)
		return
	}
	if err := h.ingestor.Authenticate(deviceID, r.Header.Get("X-Device-Key")); err != nil {
		if errors.Is(err, tracker.ErrUnknownDevice) {
			http.Error(w, "Unknown device", http.StatusNotFound)
		} else {
			http.Error(w, "Invalid device key", http.StatusUnauthorized)
		}
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	update, err := h.ingestor.Ingest(r.Context(), deviceID, body)
	var decodeErr *telemetry.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		http.Error(w, decodeErr.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, tracker.ErrUnknownDevice):
		http.Error(w, "Unknown device", http.StatusNotFound)
		return
	case errors.Is(err, db.ErrNotConnected):
		http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		var perr *tracker.PersistenceError
		if errors.As(err, &perr) {
			http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{"status": "ok"}
	if update != nil {
		resp["events"] = len(update.Events)
	} else {
		resp["status"] = "dropped" // stale reading, not applied
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
