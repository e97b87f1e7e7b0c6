package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/fanout"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
)

// SubscribeHandler upgrades dashboard and alerting clients to a websocket
// and streams enriched updates matching their filter.
type SubscribeHandler struct {
	fan      *fanout.Manager
	auth     *middleware.Auth
	upgrader websocket.Upgrader
}

// NewSubscribeHandler creates the live subscription endpoint.
func NewSubscribeHandler(fan *fanout.Manager, auth *middleware.Auth) *SubscribeHandler {
	return &SubscribeHandler{
		fan:  fan,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe handles GET /ws/subscribe?customer_id=...&devices=a,b,c.
// A customer-scoped token pins the filter to that customer regardless of
// what the query asks for.
func (h *SubscribeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.ValidateToken(middleware.TokenFrom(r))
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	filter := fanout.Filter{CustomerID: r.URL.Query().Get("customer_id")}
	if devices := r.URL.Query().Get("devices"); devices != "" {
		filter.DeviceIDs = strings.Split(devices, ",")
	}
	if customer, ok := claims["customer_id"].(string); ok && customer != "" {
		filter.CustomerID = customer
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := h.fan.Subscribe(filter)
	logger := log.WithFields(log.Fields{
		"subscription": sub.ID(),
		"customer":     filter.CustomerID,
	})
	logger.Info("subscriber connected")

	// Reader goroutine: its only job is noticing the peer went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.fan.Unsubscribe(sub.ID())
				return
			}
		}
	}()

	for update := range sub.Updates() {
		if err := conn.WriteJSON(update); err != nil {
			logger.WithError(err).Debug("subscriber write failed, dropping connection")
			h.fan.Unsubscribe(sub.ID())
			break
		}
	}
	conn.Close()
	logger.Info("subscriber disconnected")
}
