package device

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStateMonitor_WaitForOnlineWakesOnSetState(t *testing.T) {
	m := NewStateMonitor("A1B2", StateOffline, nil)

	done := make(chan bool, 1)
	go func() {
		done <- m.WaitForOnline(5 * time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	m.SetState(StateOnline)

	select {
	case ok := <-done:
		if !ok {
			t.Error("WaitForOnline returned false after SetState(Online)")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForOnline did not wake")
	}
}

func TestStateMonitor_WaitForOnlineTimesOut(t *testing.T) {
	m := NewStateMonitor("A1B2", StateOffline, nil)
	start := time.Now()
	if m.WaitForOnline(50 * time.Millisecond) {
		t.Error("WaitForOnline succeeded without Online state")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timed wait overran: %v", elapsed)
	}
}

func TestStateMonitor_WaitForNotAvailable(t *testing.T) {
	m := NewStateMonitor("A1B2", StateOnline, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		m.SetState(StateNotAvailable)
	}()
	if !m.WaitForNotAvailable(5 * time.Second) {
		t.Error("WaitForNotAvailable returned false")
	}
}

func TestStateMonitor_WaitForShellSucceeds(t *testing.T) {
	var probes atomic.Int32
	prober := func(serial string, timeout time.Duration) bool {
		return probes.Add(1) >= 2
	}
	m := NewStateMonitor("A1B2", StateOnline, prober)

	if !m.WaitForShell(5 * time.Second) {
		t.Fatal("WaitForShell returned false with an eventually-passing prober")
	}
	if got := probes.Load(); got != 2 {
		t.Errorf("probes = %d, want 2", got)
	}
}

func TestStateMonitor_WaitForShellTimesOut(t *testing.T) {
	prober := func(serial string, timeout time.Duration) bool { return false }
	m := NewStateMonitor("A1B2", StateOnline, prober)

	start := time.Now()
	if m.WaitForShell(100 * time.Millisecond) {
		t.Error("WaitForShell succeeded with a failing prober")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("WaitForShell overran: %v", elapsed)
	}
}

func TestStateMonitor_WaitForShellNilProber(t *testing.T) {
	m := NewStateMonitor("A1B2", StateOnline, nil)
	if m.WaitForShell(10 * time.Millisecond) {
		t.Error("WaitForShell succeeded without a prober")
	}
}

func TestStateMonitor_WaitForAvailable(t *testing.T) {
	prober := func(serial string, timeout time.Duration) bool { return true }
	m := NewStateMonitor("A1B2", StateOffline, prober)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.SetState(StateOnline)
	}()
	if !m.WaitForAvailable(5 * time.Second) {
		t.Error("WaitForAvailable returned false")
	}
}
