// Package watchdog terminates idle session processes. A session server is
// spawned per conversation by the lobby; when nobody shows up, everybody
// leaves, or the connected pair goes quiet, the process has no reason to
// live and the monitor fires its shutdown callback.
package watchdog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultTimeout       = 300 * time.Second
	DefaultCheckInterval = 30 * time.Second
)

// Monitor watches connection count and message activity and invokes its
// shutdown callback at most once when the session has been idle for the
// configured timeout.
type Monitor struct {
	timeout       time.Duration
	checkInterval time.Duration
	ignoreTypes   map[string]struct{}
	onShutdown    func(reason string)
	log           *slog.Logger
	now           func() time.Time

	mu            sync.Mutex
	startTime     time.Time
	lastActivity  time.Time
	connections   int
	everConnected bool
	fired         bool

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTimeout overrides the idle timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithCheckInterval overrides the periodic check interval.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) { m.checkInterval = d }
}

// WithIgnoredTypes excludes message kinds from activity tracking.
// Continuous streaming traffic such as hand-position updates would
// otherwise keep a dead session alive forever.
func WithIgnoredTypes(types ...string) Option {
	return func(m *Monitor) {
		for _, t := range types {
			m.ignoreTypes[t] = struct{}{}
		}
	}
}

// WithLogger sets the monitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithClock injects the clock, so tests can run on virtual time.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor that will call onShutdown with a human-readable
// reason. The callback fires at most once; the first firing stops the
// monitor.
func New(onShutdown func(reason string), opts ...Option) *Monitor {
	m := &Monitor{
		timeout:       DefaultTimeout,
		checkInterval: DefaultCheckInterval,
		ignoreTypes:   make(map[string]struct{}),
		onShutdown:    onShutdown,
		log:           slog.Default(),
		now:           time.Now,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	now := m.now()
	m.startTime = now
	m.lastActivity = now
	return m
}

// Start launches the periodic check loop.
func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.check()
			}
		}
	}()
}

// Stop halts the check loop. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// RecordConnect notes a new connection and counts as activity.
func (m *Monitor) RecordConnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections++
	m.everConnected = true
	m.lastActivity = m.now()
}

// RecordDisconnect notes a departure and counts as activity. The count
// never goes below zero.
func (m *Monitor) RecordDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections > 0 {
		m.connections--
	}
	m.lastActivity = m.now()
}

// RecordActivity refreshes the activity clock for one received message,
// unless its kind is in the ignore set.
func (m *Monitor) RecordActivity(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ignored := m.ignoreTypes[msgType]; ignored {
		return
	}
	m.lastActivity = m.now()
}

// check evaluates the three shutdown conditions and fires the callback on
// the first match.
func (m *Monitor) check() {
	m.mu.Lock()

	if m.fired {
		m.mu.Unlock()
		return
	}

	now := m.now()
	var reason string

	switch {
	case !m.everConnected && now.Sub(m.startTime) >= m.timeout:
		reason = fmt.Sprintf("No participants connected within %s", m.timeout)
	case m.everConnected && m.connections == 0 && now.Sub(m.lastActivity) >= m.timeout:
		reason = fmt.Sprintf("All participants disconnected for %s", m.timeout)
	case m.connections > 0 && now.Sub(m.lastActivity) >= m.timeout:
		reason = fmt.Sprintf("No activity for %s", m.timeout)
	default:
		m.mu.Unlock()
		return
	}

	m.fired = true
	m.mu.Unlock()

	m.log.Info("inactivity shutdown", "reason", reason)
	m.Stop()
	m.onShutdown(reason)
}
