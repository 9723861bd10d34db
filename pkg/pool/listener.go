package pool

import (
	"sync"
	"time"

	"github.com/devpool-project/devpool-go/pkg/bridge"
	"github.com/devpool-project/devpool-go/pkg/device"
	"github.com/devpool-project/devpool-go/pkg/poollog"
)

// poolBridgeListener translates bridge events into manager operations.
// Callbacks run on the bridge's event goroutine. Admission probes are
// handed to the bounded worker pool; handing one over blocks the callback
// while every admission worker is busy.
type poolBridgeListener struct {
	m *Manager
}

// DeviceConnected routes a newly-visible device: refresh an existing
// lease, forward to an in-flight probe, or start admission for a valid
// online device.
func (l *poolBridgeListener) DeviceConnected(h *device.Handle) {
	m := l.m
	m.mu.Lock()
	if d, ok := m.allocated[h.Serial]; ok {
		m.mu.Unlock()
		d.SetHandle(h)
		d.SetState(h.State, "bridge")
		return
	}
	mon, checking := m.checking[h.Serial]
	m.mu.Unlock()

	if device.ValidSerial(h.Serial) && h.State == device.StateOnline {
		m.admitDevice(h)
		return
	}
	if checking {
		mon.SetState(h.State)
	}
}

// DeviceChanged handles attribute updates; only state transitions matter
// to the pool.
func (l *poolBridgeListener) DeviceChanged(h *device.Handle, mask bridge.ChangeMask) {
	if mask&bridge.ChangeState == 0 {
		return
	}
	l.DeviceConnected(h)
}

// DeviceDisconnected withdraws the device: out of the available queue,
// NotAvailable if leased, and the probe monitor informed if checking.
func (l *poolBridgeListener) DeviceDisconnected(h *device.Handle) {
	m := l.m
	if _, removed := m.available.RemoveMatch(serialMatcher(h.Serial)); removed {
		m.logger.Debug("device left available pool", "serial", h.Serial)
	}

	m.mu.Lock()
	d, allocated := m.allocated[h.Serial]
	mon, checking := m.checking[h.Serial]
	m.mu.Unlock()

	if allocated {
		d.SetState(device.StateNotAvailable, "bridge")
	}
	if checking {
		mon.SetState(device.StateNotAvailable)
	}
}

// admitDevice runs the responsiveness-check admission path. While the
// probe is in flight the serial sits in the checking set, which gates
// re-admission: the device is neither available nor allocated.
func (m *Manager) admitDevice(h *device.Handle) {
	m.mu.Lock()
	if mon, checking := m.checking[h.Serial]; checking {
		m.mu.Unlock()
		mon.SetState(h.State)
		return
	}
	if m.globalFilter != nil && !m.globalFilter.Matches(h) {
		m.mu.Unlock()
		m.logger.Debug("device rejected by global filter", "serial", h.Serial)
		return
	}
	mon := device.NewStateMonitor(h.Serial, h.State, m.shellProber())
	m.checking[h.Serial] = mon
	m.mu.Unlock()

	check := func() {
		m.runAdmissionCheck(h, mon)
	}
	if m.opts.SynchronousAdmission {
		check()
		return
	}
	if !m.admission.Submit(check) {
		// Pool is shutting down; release the gate.
		m.mu.Lock()
		delete(m.checking, h.Serial)
		m.mu.Unlock()
	}
}

// runAdmissionCheck probes the device and, when responsive, publishes it
// to the available queue. The checking entry is removed in all cases -
// after the publish, so no caller can observe the device in neither home.
func (m *Manager) runAdmissionCheck(h *device.Handle, mon *device.StateMonitor) {
	defer func() {
		m.mu.Lock()
		delete(m.checking, h.Serial)
		m.mu.Unlock()
	}()

	if !mon.WaitForShell(m.admissionWait) {
		m.logger.Warn("device failed responsiveness check", "serial", h.Serial,
			"waited", m.admissionWait)
		m.events.Log(poollog.Event{
			Timestamp: time.Now(),
			Category:  poollog.CategoryAllocation,
			Serial:    h.Serial,
			Allocation: &poollog.AllocationEvent{
				Action: poollog.ActionRejected,
			},
		})
		return
	}

	if m.opts.CaptureBattery {
		h.BatteryLevel = m.batteryLevel(h.Serial)
	}
	m.addAvailableDevice(h)
	m.events.Log(poollog.Event{
		Timestamp: time.Now(),
		Category:  poollog.CategoryAllocation,
		Serial:    h.Serial,
		Allocation: &poollog.AllocationEvent{
			Action: poollog.ActionAdmitted,
		},
	})
	m.logger.Debug("device admitted", "serial", h.Serial)
}

// Compile-time interface satisfaction check.
var _ bridge.Listener = (*poolBridgeListener)(nil)

// admissionPool bounds concurrent admission probes so a burst of bridge
// events cannot spawn unbounded workers, and makes shutdown tractable.
type admissionPool struct {
	sem  chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func newAdmissionPool(workers int) *admissionPool {
	return &admissionPool{
		sem:  make(chan struct{}, workers),
		quit: make(chan struct{}),
	}
}

// Submit runs the task on a pooled worker, blocking while all workers are
// busy. Reports false when the pool is stopped.
func (p *admissionPool) Submit(task func()) bool {
	select {
	case <-p.quit:
		return false
	case p.sem <- struct{}{}:
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		task()
	}()
	return true
}

// Stop rejects further submissions and waits for in-flight tasks.
// Idempotent.
func (p *admissionPool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.quit)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
