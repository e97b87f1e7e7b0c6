package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/fanout"
	"github.com/ukydev/fleet-telemetry/internal/ingest"
	"github.com/ukydev/fleet-telemetry/internal/tracker"
)

// StatusHandler exposes the observability surface: connection state,
// reconnection count and ingestion throughput.
type StatusHandler struct {
	rm       *db.ResilienceManager
	tracker  *tracker.Tracker
	ingestor *ingest.Ingestor
	fan      *fanout.Manager
}

// NewStatusHandler creates the monitoring endpoint handler.
func NewStatusHandler(rm *db.ResilienceManager, tr *tracker.Tracker, ing *ingest.Ingestor, fan *fanout.Manager) *StatusHandler {
	return &StatusHandler{rm: rm, tracker: tr, ingestor: ing, fan: fan}
}

type statusResponse struct {
	Store     db.Stats        `json:"store"`
	Ingestion ingestionStatus `json:"ingestion"`
}

type ingestionStatus struct {
	Accepted       uint64 `json:"accepted"`
	DecodeFailures uint64 `json:"decode_failures"`
	OutOfOrder     uint64 `json:"out_of_order"`
	Processed      uint64 `json:"processed"`
	Subscribers    int    `json:"subscribers"`
}

// Status handles GET /api/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		Store: h.rm.Stats(),
		Ingestion: ingestionStatus{
			Accepted:       h.ingestor.Accepted(),
			DecodeFailures: h.ingestor.DecodeFailures(),
			OutOfOrder:     h.tracker.OutOfOrder(),
			Processed:      h.tracker.Processed(),
			Subscribers:    h.fan.Count(),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
