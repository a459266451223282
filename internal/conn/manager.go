// Package conn owns the authenticated backend session and decides when it
// must be re-established.
package conn

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"rollbook/internal/clock"
	"rollbook/internal/gate"
	"rollbook/internal/metrics"
	"rollbook/internal/sheets"
)

type Config struct {
	// Window is how long a session is trusted before full re-authentication.
	Window time.Duration
	// ProbeInterval skips the liveness probe when the last successful one
	// is more recent. Zero probes on every call.
	ProbeInterval time.Duration
}

func DefaultConfig() Config {
	return Config{Window: time.Hour}
}

// Status is a point-in-time view of the connection.
type Status struct {
	Connected     bool          `json:"connected"`
	EstablishedAt time.Time     `json:"established_at,omitempty"`
	Age           time.Duration `json:"age"`
	Reconnects    int           `json:"reconnects"`
	LastError     string        `json:"last_error,omitempty"`
}

type Manager struct {
	connector sheets.Connector
	gate      *gate.Gate
	clock     clock.Clock
	metrics   *metrics.Recorder
	cfg       Config

	mu            sync.Mutex
	session       sheets.Session
	connected     bool
	establishedAt time.Time
	lastProbe     time.Time
	reconnects    int
	lastError     string
}

func New(connector sheets.Connector, g *gate.Gate, clk clock.Clock, rec *metrics.Recorder, cfg Config) *Manager {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Manager{connector: connector, gate: g, clock: clk, metrics: rec, cfg: cfg}
}

// EnsureConnected returns a live session. Within the window the existing
// session is probed and reused; otherwise, or when the probe fails, the
// manager re-authenticates once.
func (m *Manager) EnsureConnected(ctx context.Context) (sheets.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		now := m.clock.Now()
		switch {
		case now.Sub(m.establishedAt) >= m.cfg.Window:
			log.Printf("conn: session older than %s, re-authenticating", m.cfg.Window)
			m.disconnectLocked("connection window elapsed")
		case m.cfg.ProbeInterval > 0 && now.Sub(m.lastProbe) < m.cfg.ProbeInterval:
			return m.session, nil
		default:
			err := m.gate.Do(ctx, gate.Read, "probe", m.session.Probe)
			if err == nil {
				m.lastProbe = m.clock.Now()
				return m.session, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			log.Printf("conn: probe failed, re-authenticating: %v", err)
			m.disconnectLocked(err.Error())
		}
	}
	return m.connectLocked(ctx)
}

// MarkDisconnected forces the next EnsureConnected to re-authenticate.
func (m *Manager) MarkDisconnected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		log.Printf("conn: marked disconnected: %s", reason)
	}
	m.disconnectLocked(reason)
}

// Reconnect drops the current session and authenticates again.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked("reconnect requested")
	_, err := m.connectLocked(ctx)
	return err
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Reconnects: m.reconnects,
		LastError:  m.lastError,
	}
	if m.connected {
		st.EstablishedAt = m.establishedAt
		st.Age = m.clock.Now().Sub(m.establishedAt)
		st.Connected = st.Age < m.cfg.Window
	}
	return st
}

func (m *Manager) connectLocked(ctx context.Context) (sheets.Session, error) {
	s, err := gate.Call(ctx, m.gate, gate.Read, "connect", m.connector.Connect)
	if err != nil {
		m.lastError = err.Error()
		return nil, fmt.Errorf("conn: authenticate: %w", err)
	}
	now := m.clock.Now()
	m.session = s
	m.connected = true
	m.establishedAt = now
	m.lastProbe = now
	m.lastError = ""
	m.reconnects++
	m.metrics.Reconnect()
	log.Printf("conn: connected to backend (authentication #%d)", m.reconnects)
	return s, nil
}

func (m *Manager) disconnectLocked(reason string) {
	m.connected = false
	m.session = nil
	m.lastError = reason
}
