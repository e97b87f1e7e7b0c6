package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

// ConnState is the resilience manager's view of the store connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// ErrNotConnected is returned by Do while the connection is down. Pending
// writes fail fast instead of queueing behind a dead link.
var ErrNotConnected = errors.New("store connection unavailable")

// ErrMaxAttempts is surfaced on Terminal() once reconnection gives up.
var ErrMaxAttempts = errors.New("reconnection attempts exhausted")

// Pinger is the slice of the driver the manager monitors the connection
// through.
type Pinger interface {
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// DialFunc establishes the monitored connection.
type DialFunc func(ctx context.Context) (Pinger, error)

type mongoPinger struct{ client *mongo.Client }

func (p mongoPinger) Ping(ctx context.Context) error       { return p.client.Ping(ctx, nil) }
func (p mongoPinger) Disconnect(ctx context.Context) error { return p.client.Disconnect(ctx) }

// MongoDialer adapts Connect into a DialFunc.
func MongoDialer(uri string) DialFunc {
	return func(ctx context.Context) (Pinger, error) {
		client, err := Connect(ctx, uri)
		if err != nil {
			return nil, err
		}
		return mongoPinger{client: client}, nil
	}
}

// ClientDialer adapts an already-connected client into a DialFunc. The
// driver keeps its own connection pool, so "reconnecting" means waiting
// for the pool to come back, verified with a ping.
func ClientDialer(client *mongo.Client) DialFunc {
	return func(ctx context.Context) (Pinger, error) {
		p := mongoPinger{client: client}
		if err := p.Ping(ctx); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// ResilienceConfig tunes the reconnection state machine.
type ResilienceConfig struct {
	BaseDelay      time.Duration // first retry delay, doubled per attempt
	MaxAttempts    int           // attempts before surfacing a terminal failure
	HealthInterval time.Duration // period between liveness pings
	OpTimeout      time.Duration // bound on each dial or ping
}

// DefaultResilienceConfig matches the deployment defaults.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		BaseDelay:      500 * time.Millisecond,
		MaxAttempts:    8,
		HealthInterval: 15 * time.Second,
		OpTimeout:      5 * time.Second,
	}
}

// Stats is a point-in-time snapshot of the manager's counters.
type Stats struct {
	State            ConnState `json:"state"`
	QueriesExecuted  uint64    `json:"queries_executed"`
	QueriesSucceeded uint64    `json:"queries_succeeded"`
	QueriesFailed    uint64    `json:"queries_failed"`
	AvgLatencyMs     float64   `json:"avg_latency_ms"`
	Reconnects       uint64    `json:"reconnects"`
}

// ResilienceManager owns the single monitored connection to the store:
// it runs periodic health checks, drives exponential-backoff reconnection
// and keeps query statistics. Only one reconnect attempt is in flight at
// a time; queries proceed concurrently while connected.
type ResilienceManager struct {
	dial DialFunc
	cfg  ResilienceConfig

	mu           sync.Mutex
	state        ConnState
	conn         Pinger
	reconnecting bool

	executed  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	latencyNs atomic.Int64
	reconnect atomic.Uint64

	terminal chan error
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewResilienceManager builds a manager in the Disconnected state.
func NewResilienceManager(dial DialFunc, cfg ResilienceConfig) *ResilienceManager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	return &ResilienceManager{
		dial:     dial,
		cfg:      cfg,
		state:    StateDisconnected,
		terminal: make(chan error, 1),
		stop:     make(chan struct{}),
	}
}

/// Backoff returns the delay before the given 1-based reconnect attempt:
// base doubled per attempt, capped at 2^5.
func Backoff(base time.Duration, attempt int) time.Duration {
	exp := attempt - 1
	if exp > 5 {
		exp = 5
	}
	if exp < 0 {
		exp = 0
	}
	return base * (1 << uint(exp))
}

// Start dials the store and begins health checking. A failed initial dial
// is returned to the caller; the manager stays Disconnected.
func (m *ResilienceManager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateConnecting
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	conn, err := m.dial(dialCtx)
	cancel()
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	if m.cfg.HealthInterval > 0 {
		m.wg.Add(1)
		go m.healthLoop()
	}
	return nil
}

// Stop halts health checking and closes the connection.
func (m *ResilienceManager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Disconnect(ctx)
	}
}

// State returns the current connection state.
func (m *ResilienceManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Terminal delivers the error raised when reconnection gives up for good.
// A service-level health signal, not a crash.
func (m *ResilienceManager) Terminal() <-chan error { return m.terminal }

// Do runs one store operation, failing fast while disconnected and
// recording latency and outcome counters.
func (m *ResilienceManager) Do(ctx context.Context, op func(ctx context.Context) error) error {
	m.mu.Lock()
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	m.executed.Add(1)
	start := time.Now()
	err := op(ctx)
	m.latencyNs.Add(time.Since(start).Nanoseconds())
	if err != nil {
		m.failed.Add(1)
		return err
	}
	m.succeeded.Add(1)
	return nil
}

// ReportFailure tells the manager an external consumer (such as the
// change-feed reader) saw the connection die, triggering reconnection.
func (m *ResilienceManager) ReportFailure(err error) {
	log.WithError(err).Warn("store connection failure reported")
	m.triggerReconnect()
}

// Stats snapshots the counters.
func (m *ResilienceManager) Stats() Stats {
	executed := m.executed.Load()
	var avg float64
	if executed > 0 {
		avg = float64(m.latencyNs.Load()) / float64(executed) / float64(time.Millisecond)
	}
	return Stats{
		State:            m.State(),
		QueriesExecuted:  executed,
		QueriesSucceeded: m.succeeded.Load(),
		QueriesFailed:    m.failed.Load(),
		AvgLatencyMs:     avg,
		Reconnects:       m.reconnect.Load(),
	}
}

func (m *ResilienceManager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		conn := m.conn
		connected := m.state == StateConnected
		m.mu.Unlock()
		if !connected || conn == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
		err := conn.Ping(ctx)
		cancel()
		if err != nil {
			log.WithError(err).Warn("store health check failed")
			m.triggerReconnect()
		}
	}
}

// triggerReconnect moves to Reconnecting unless a reconnect is already in
// flight.
func (m *ResilienceManager) triggerReconnect() {
	m.mu.Lock()
	if m.reconnecting || m.state == StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.state = StateReconnecting
	m.mu.Unlock()

	m.wg.Add(1)
	go m.reconnectLoop()
}

// reconnectLoop re-establishes the connection with exponential backoff.
// An existing client is re-verified by ping; a missing one is re-dialed.
func (m *ResilienceManager) reconnectLoop() {
	defer m.wg.Done()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		delay := Backoff(m.cfg.BaseDelay, attempt)
		select {
		case <-m.stop:
			m.mu.Lock()
			m.reconnecting = false
			m.mu.Unlock()
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
		lastErr = m.attemptReconnect(ctx)
		cancel()
		if lastErr == nil {
			m.mu.Lock()
			m.state = StateConnected
			m.reconnecting = false
			m.mu.Unlock()
			m.reconnect.Add(1)
			log.WithField("attempt", attempt).Info("store connection re-established")
			return
		}
		log.WithError(lastErr).WithField("attempt", attempt).Warn("reconnect attempt failed")
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.reconnecting = false
	m.mu.Unlock()

	select {
	case m.terminal <- ErrMaxAttempts:
	default:
	}
	log.WithError(lastErr).Error("giving up on store reconnection")
}

func (m *ResilienceManager) attemptReconnect(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Ping(ctx); err == nil {
			return nil
		}
		// The session is gone; replace the whole connection.
		_ = conn.Disconnect(ctx)
	}

	fresh, err := m.dial(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.conn = fresh
	m.mu.Unlock()
	return nil
}
