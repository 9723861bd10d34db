package device

import (
	"context"
	"sync"
	"time"
)

// Shell probe timing.
const (
	// ShellProbeTimeout bounds a single shell round-trip.
	ShellProbeTimeout = 5 * time.Second

	// shellPollInterval is the pause between failed shell probes.
	shellPollInterval = 1 * time.Second
)

// ShellProber performs one shell round-trip against the device with the
// given serial, returning true when the command exits zero within timeout.
type ShellProber func(serial string, timeout time.Duration) bool

// StateMonitor observes a single device's reported state and lets callers
// block until the device reaches a wanted condition. State updates arrive
// exclusively from the bridge listener and the fastboot monitor.
type StateMonitor struct {
	serial string
	prober ShellProber

	mu    sync.Mutex
	cond  *sync.Cond
	state State
}

// NewStateMonitor creates a monitor for the given serial starting in the
// given state. The prober is used by WaitForShell; it may be nil, in which
// case shell waits always fail.
func NewStateMonitor(serial string, initial State, prober ShellProber) *StateMonitor {
	m := &StateMonitor{serial: serial, prober: prober, state: initial}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Serial returns the monitored device's serial.
func (m *StateMonitor) Serial() string { return m.serial }

// State returns the current reported state.
func (m *StateMonitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetState records a new reported state and wakes waiters.
func (m *StateMonitor) SetState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.cond.Broadcast()
}

// WaitForOnline blocks until the device reports Online, or timeout.
func (m *StateMonitor) WaitForOnline(timeout time.Duration) bool {
	return m.waitForState(timeout, StateOnline)
}

// WaitForNotAvailable blocks until the device disappears from the bridge,
// or timeout.
func (m *StateMonitor) WaitForNotAvailable(timeout time.Duration) bool {
	return m.waitForState(timeout, StateNotAvailable)
}

// WaitForShell blocks until a shell probe succeeds, or timeout. Each probe
// is bounded by ShellProbeTimeout; failed probes are retried after a short
// pause while time remains.
func (m *StateMonitor) WaitForShell(timeout time.Duration) bool {
	if m.prober == nil {
		return false
	}
	deadline := time.Now().Add(timeout)
	for {
		probeTimeout := ShellProbeTimeout
		if remaining := time.Until(deadline); remaining < probeTimeout {
			probeTimeout = remaining
		}
		if probeTimeout <= 0 {
			return false
		}
		if m.prober(m.serial, probeTimeout) {
			return true
		}
		if time.Now().Add(shellPollInterval).After(deadline) {
			return false
		}
		time.Sleep(shellPollInterval)
	}
}

// WaitForAvailable blocks until the device is Online and shell-responsive.
// The timeout covers both phases together.
func (m *StateMonitor) WaitForAvailable(timeout time.Duration) bool {
	start := time.Now()
	if !m.WaitForOnline(timeout) {
		return false
	}
	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		return false
	}
	return m.WaitForShell(remaining)
}

// waitForState blocks until the reported state equals wanted, or timeout.
func (m *StateMonitor) waitForState(timeout time.Duration, wanted State) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, m.cond.Broadcast)
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.state != wanted {
		if ctx.Err() != nil {
			return false
		}
		m.cond.Wait()
	}
	return true
}
