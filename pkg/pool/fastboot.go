package pool

import (
	"time"

	"github.com/devpool-project/devpool-go/pkg/device"
	"github.com/devpool-project/devpool-go/pkg/poollog"
)

// fastbootMonitor polls `fastboot devices` and reclassifies allocated
// devices that enter or leave fastboot mode. Ticks without subscribers are
// skipped: polling fastboot while idle can wedge real fastboot
// commands against the same device.
type fastbootMonitor struct {
	m        *Manager
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}
}

func newFastbootMonitor(m *Manager, interval time.Duration) *fastbootMonitor {
	return &fastbootMonitor{
		m:        m,
		interval: interval,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (f *fastbootMonitor) Start() {
	go f.loop()
}

// Stop terminates the loop and waits for it to exit. Idempotent via the
// manager (Terminate runs once).
func (f *fastbootMonitor) Stop() {
	close(f.quit)
	<-f.done
}

func (f *fastbootMonitor) loop() {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.quit:
			return
		case <-ticker.C:
			f.m.fastbootTick()
		}
	}
}

// fastbootTick performs one polling cycle: enumerate fastboot devices,
// reclassify allocated devices, notify subscribers exactly once each.
func (m *Manager) fastbootTick() {
	m.mu.Lock()
	subscribers := len(m.fastbootSubs)
	m.mu.Unlock()
	if subscribers == 0 {
		return
	}

	serials := m.listFastbootSerials()
	inFastboot := make(map[string]struct{}, len(serials))
	for _, s := range serials {
		inFastboot[s] = struct{}{}
	}

	m.mu.Lock()
	var toFastboot, toGone []*Managed
	for serial, d := range m.allocated {
		_, nowFastboot := inFastboot[serial]
		switch {
		case nowFastboot && d.State() != device.StateFastboot:
			toFastboot = append(toFastboot, d)
		case !nowFastboot && d.State() == device.StateFastboot:
			toGone = append(toGone, d)
		}
	}
	// Snapshot subscribers so reentrant subscription changes from a
	// callback cannot deadlock against m.mu.
	listeners := make([]FastbootListener, 0, len(m.fastbootSubs))
	for l := range m.fastbootSubs {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, d := range toFastboot {
		d.SetState(device.StateFastboot, "fastboot")
	}
	for _, d := range toGone {
		d.SetState(device.StateNotAvailable, "fastboot")
	}

	m.events.Log(poollog.Event{
		Timestamp: time.Now(),
		Category:  poollog.CategoryFastboot,
		Fastboot: &poollog.FastbootEvent{
			Serials:      serials,
			Reclassified: len(toFastboot) + len(toGone),
		},
	})

	for _, l := range listeners {
		l.StateUpdated()
	}
}
