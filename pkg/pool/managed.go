package pool

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devpool-project/devpool-go/pkg/command"
	"github.com/devpool-project/devpool-go/pkg/device"
	"github.com/devpool-project/devpool-go/pkg/poollog"
)

// adbTCPPort is the port devices listen on after switching adb to TCP.
const adbTCPPort = 5555

// Managed is a leased device. It is owned by the allocator from Allocate
// until Free, when ownership returns to the manager. The wrapper adds the
// recovery policy, logcat capture, and (for emulators) the child process.
type Managed struct {
	runner  command.Executor
	adbPath string
	logger  *slog.Logger
	events  poollog.Logger
	monitor *device.StateMonitor
	leaseID string

	mu           sync.Mutex
	handle       *device.Handle
	recovery     Recovery
	logcatProc   *exec.Cmd
	emulatorProc *exec.Cmd
}

// newManaged wraps a handle for lease. The monitor starts in the handle's
// reported state.
func newManaged(m *Manager, h *device.Handle) *Managed {
	return &Managed{
		runner:   m.runner,
		adbPath:  m.opts.AdbPath,
		logger:   m.opts.Logger,
		events:   m.opts.EventLogger,
		monitor:  device.NewStateMonitor(h.Serial, h.State, m.shellProber()),
		leaseID:  uuid.New().String(),
		handle:   h,
		recovery: WaitRecovery{},
	}
}

// Serial returns the device serial. Stable for the lease's lifetime.
func (d *Managed) Serial() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle.Serial
}

// LeaseID identifies this allocation.
func (d *Managed) LeaseID() string { return d.leaseID }

// Handle returns the current device handle.
func (d *Managed) Handle() *device.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

// SetHandle refreshes the underlying handle after a bridge reconnect.
// Identity may change; the serial does not. Refreshes with a different
// serial are ignored.
func (d *Managed) SetHandle(h *device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.Serial != d.handle.Serial {
		d.logger.Warn("refusing handle refresh with different serial",
			"have", d.handle.Serial, "got", h.Serial)
		return
	}
	d.handle = h
}

// State returns the device's current reported state.
func (d *Managed) State() device.State {
	return d.monitor.State()
}

// SetState records a state transition driven by the named source.
func (d *Managed) SetState(s device.State, source string) {
	old := d.monitor.State()
	if old == s {
		return
	}
	d.monitor.SetState(s)
	d.events.Log(poollog.Event{
		Timestamp: time.Now(),
		Category:  poollog.CategoryState,
		Serial:    d.Serial(),
		LeaseID:   d.leaseID,
		StateChange: &poollog.StateChangeEvent{
			OldState: old.String(),
			NewState: s.String(),
			Source:   source,
		},
	})
}

// Monitor exposes the per-device state monitor.
func (d *Managed) Monitor() *device.StateMonitor { return d.monitor }

// IsEmulator reports whether the lease names an emulator slot.
func (d *Managed) IsEmulator() bool {
	return d.Handle().IsEmulator()
}

// SetRecovery replaces the device's recovery policy.
func (d *Managed) SetRecovery(r Recovery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recovery = r
}

// Recover invokes the current recovery policy.
func (d *Managed) Recover() error {
	d.mu.Lock()
	r := d.recovery
	d.mu.Unlock()
	return r.RecoverDevice(d)
}

// StartLogcat begins background logcat capture for the device. No-op when
// capture is already running.
func (d *Managed) StartLogcat() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.logcatProc != nil {
		return
	}
	serial := d.handle.Serial
	cmd, err := d.runner.RunInBackground(d.adbPath, "-s", serial, "logcat", "-v", "threadtime")
	if err != nil {
		d.logger.Warn("starting logcat failed", "serial", serial, "err", err)
		return
	}
	d.logcatProc = cmd
	go func() { _ = cmd.Wait() }()
}

// StopLogcat terminates background logcat capture. No-op when capture is
// not running.
func (d *Managed) StopLogcat() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.logcatProc == nil {
		return
	}
	if d.logcatProc.Process != nil {
		_ = d.logcatProc.Process.Kill()
	}
	d.logcatProc = nil
}

// SetEmulatorProcess records the child process backing this emulator.
// The process is owned by the lease until Free kills it.
func (d *Managed) SetEmulatorProcess(cmd *exec.Cmd) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emulatorProc = cmd
}

// EmulatorProcess returns the recorded emulator child, or nil.
func (d *Managed) EmulatorProcess() *exec.Cmd {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emulatorProc
}

// WaitForOnline blocks until the device reports Online, or timeout.
func (d *Managed) WaitForOnline(timeout time.Duration) bool {
	return d.monitor.WaitForOnline(timeout)
}

// WaitForAvailable blocks until the device is Online and shell-responsive,
// or timeout.
func (d *Managed) WaitForAvailable(timeout time.Duration) bool {
	return d.monitor.WaitForAvailable(timeout)
}

// WaitForNotAvailable blocks until the device disappears, or timeout.
func (d *Managed) WaitForNotAvailable(timeout time.Duration) bool {
	return d.monitor.WaitForNotAvailable(timeout)
}

// SwitchToAdbTCP asks the device to listen for adb over TCP and returns
// the host:port it will be reachable on.
func (d *Managed) SwitchToAdbTCP() (string, error) {
	serial := d.Serial()
	ip, err := d.deviceIP()
	if err != nil {
		return "", err
	}
	res := d.runner.RunTimedCmd(device.ShellProbeTimeout, d.adbPath, "-s", serial,
		"tcpip", fmt.Sprintf("%d", adbTCPPort))
	if res.Status != command.StatusSuccess {
		return "", fmt.Errorf("switching %s to tcp: %s", serial, res.Status)
	}
	return fmt.Sprintf("%s:%d", ip, adbTCPPort), nil
}

// SwitchToAdbUSB asks a TCP-connected device to revert to USB.
func (d *Managed) SwitchToAdbUSB() error {
	serial := d.Serial()
	res := d.runner.RunTimedCmd(device.ShellProbeTimeout, d.adbPath, "-s", serial, "usb")
	if res.Status != command.StatusSuccess {
		return fmt.Errorf("switching %s to usb: %s", serial, res.Status)
	}
	return nil
}

// deviceIP queries the device's routable address from its routing table.
func (d *Managed) deviceIP() (string, error) {
	serial := d.Serial()
	res := d.runner.RunTimedCmdSilently(device.ShellProbeTimeout, d.adbPath, "-s", serial,
		"shell", "ip", "route")
	if res.Status != command.StatusSuccess {
		return "", fmt.Errorf("querying ip of %s: %s", serial, res.Status)
	}
	// Lines look like: "192.168.1.0/24 dev wlan0 proto kernel scope link src 192.168.1.17"
	fields := strings.Fields(res.Stdout)
	for i, f := range fields {
		if f == "src" && i+1 < len(fields) {
			return fields[i+1], nil
		}
	}
	return "", fmt.Errorf("no routable address for %s", serial)
}
