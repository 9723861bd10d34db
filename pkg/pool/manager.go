package pool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/devpool-project/devpool-go/pkg/bridge"
	"github.com/devpool-project/devpool-go/pkg/command"
	"github.com/devpool-project/devpool-go/pkg/device"
	"github.com/devpool-project/devpool-go/pkg/devicequeue"
	"github.com/devpool-project/devpool-go/pkg/poollog"
)

// Manager owns the device fleet: the available queue, the allocated map and
// the in-flight checking set. One Manager owns the bridge from Init to
// Terminate. All methods are safe for concurrent use after Init.
type Manager struct {
	opts   Options
	runner command.Executor
	bridge bridge.Bridge
	logger *slog.Logger
	events poollog.Logger

	// Timing knobs; defaults from the package constants. Instance fields
	// so tests can compress waits.
	admissionWait time.Duration
	tcpRetrySleep time.Duration

	mu             sync.Mutex
	initStarted    bool
	initialized    bool
	terminated     bool
	available      *devicequeue.Queue[*device.Handle]
	allocated      map[string]*Managed
	checking       map[string]*device.StateMonitor
	globalFilter   *device.Selection
	fastbootOn     bool
	fastbootSubs   map[FastbootListener]struct{}
	fastbootMon    *fastbootMonitor
	bridgeListener *poolBridgeListener
	admission      *admissionPool
}

// NewManager creates an uninitialized manager. Call Init before use.
func NewManager(opts Options, runner command.Executor, br bridge.Bridge) *Manager {
	opts.normalize()
	return &Manager{
		opts:          opts,
		runner:        runner,
		bridge:        br,
		logger:        opts.Logger,
		events:        opts.EventLogger,
		admissionWait: CheckWaitDeviceAvail,
		tcpRetrySleep: tcpConnectRetrySleep,
	}
}

// Init wires the manager to the bridge and seeds the pool. It must be
// called exactly once; a second call returns ErrAlreadyInitialized. The
// optional globalFilter gates admission: devices it rejects never enter the
// pool.
//
// Collaborators are fully populated before the initialized flag flips, so
// no caller can observe a half-built manager.
func (m *Manager) Init(globalFilter *device.Selection) error {
	m.mu.Lock()
	if m.initStarted {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.initStarted = true
	m.available = devicequeue.New[*device.Handle]()
	m.allocated = make(map[string]*Managed)
	m.checking = make(map[string]*device.StateMonitor)
	m.globalFilter = globalFilter
	m.admission = newAdmissionPool(m.opts.MaxAdmissionWorkers)
	m.bridgeListener = &poolBridgeListener{m: m}
	m.mu.Unlock()

	// Fastboot availability probe. Some fastboot builds print usage to
	// stderr and exit non-zero; that still counts as present.
	res := m.runner.RunTimedCmd(fastbootProbeTimeout, m.opts.FastbootPath, "help")
	fastbootOn := res.Status == command.StatusSuccess ||
		strings.Contains(res.Stderr, "usage: fastboot")

	if fastbootOn {
		m.mu.Lock()
		m.fastbootOn = true
		m.fastbootSubs = make(map[FastbootListener]struct{})
		m.fastbootMon = newFastbootMonitor(m, m.opts.FastbootPollInterval)
		m.mu.Unlock()
		m.fastbootMon.Start()
		for _, serial := range m.listFastbootSerials() {
			m.addAvailableDevice(device.NewFastbootStub(serial))
		}
	}

	m.bridge.SetTimeout(bridgeOperationTimeout)

	// Register before initializing the bridge so no early event is lost.
	m.bridge.AddListener(m.bridgeListener)

	if m.opts.DeviceListerHook != nil {
		m.opts.DeviceListerHook(m.ListBridgeDevices)
	}

	if err := m.bridge.Init(false, m.opts.AdbPath); err != nil {
		m.bridge.RemoveListener(m.bridgeListener)
		if m.fastbootMon != nil {
			m.fastbootMon.Stop()
		}
		m.admission.Stop()
		return fmt.Errorf("initializing bridge: %w", err)
	}

	for i := 0; i < m.opts.NumEmulators; i++ {
		m.addAvailableDevice(device.NewEmulatorStub(device.FirstEmulatorPort + 2*i))
	}
	for i := 0; i < m.opts.NumNullDevices; i++ {
		m.addAvailableDevice(device.NewNullStub(i))
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// requireInit gates the public API on lifecycle state.
func (m *Manager) requireInit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.terminated {
		return ErrTerminated
	}
	return nil
}

// Allocate blocks until any matching device is available and leases it.
// Returns the context's error if ctx ends first.
func (m *Manager) Allocate(ctx context.Context) (*Managed, error) {
	return m.allocate(ctx, nil)
}

// AllocateTimeout is Allocate bounded by a timeout. Returns
// ErrNoDeviceAvailable on expiry.
func (m *Manager) AllocateTimeout(timeout time.Duration) (*Managed, error) {
	return m.AllocateMatching(timeout, nil)
}

// AllocateMatching leases the earliest-enqueued device satisfying the
// selection, waiting up to timeout. A nil selection matches any real
// device or emulator slot. Returns ErrNoDeviceAvailable on expiry.
func (m *Manager) AllocateMatching(timeout time.Duration, sel *device.Selection) (*Managed, error) {
	if err := m.requireInit(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	d, err := m.allocate(ctx, sel)
	if err != nil {
		return nil, ErrNoDeviceAvailable
	}
	return d, nil
}

func (m *Manager) allocate(ctx context.Context, sel *device.Selection) (*Managed, error) {
	if err := m.requireInit(); err != nil {
		return nil, err
	}
	if sel == nil {
		sel = &device.Selection{}
	}
	for {
		h, err := m.available.Take(ctx, devicequeue.MatchFunc[*device.Handle](sel.Matches))
		if err != nil {
			return nil, err
		}
		if d := m.lease(h, false); d != nil {
			return d, nil
		}
		// Serial raced into the allocated map; keep waiting.
	}
}

// ForceAllocate leases the device with the given serial even if the bridge
// has not reported it yet. Returns ErrAlreadyAllocated when the serial is
// leased. If no matching device is available within a short poll, a stub
// handle is synthesized so the lease is valid before the device appears.
func (m *Manager) ForceAllocate(serial string) (*Managed, error) {
	if err := m.requireInit(); err != nil {
		return nil, err
	}
	if !device.ValidSerial(serial) {
		return nil, fmt.Errorf("%q: %w", serial, ErrInvalidSerial)
	}
	m.mu.Lock()
	_, taken := m.allocated[serial]
	m.mu.Unlock()
	if taken {
		return nil, fmt.Errorf("%s: %w", serial, ErrAlreadyAllocated)
	}

	h, ok := m.available.Poll(forceAllocatePoll, serialMatcher(serial))
	if !ok {
		h = device.NewStub(serial)
	}
	d := m.lease(h, true)
	if d == nil {
		return nil, fmt.Errorf("%s: %w", serial, ErrAlreadyAllocated)
	}
	return d, nil
}

// lease inserts the handle into the allocated map and wraps it. Returns
// nil when the serial is already leased.
func (m *Manager) lease(h *device.Handle, forced bool) *Managed {
	m.mu.Lock()
	if _, exists := m.allocated[h.Serial]; exists {
		m.mu.Unlock()
		return nil
	}
	d := newManaged(m, h)
	m.allocated[h.Serial] = d
	m.mu.Unlock()

	m.events.Log(poollog.Event{
		Timestamp: time.Now(),
		Category:  poollog.CategoryAllocation,
		Serial:    h.Serial,
		LeaseID:   d.LeaseID(),
		Allocation: &poollog.AllocationEvent{
			Action: poollog.ActionAllocated,
			Forced: forced,
		},
	})
	m.logger.Debug("device allocated", "serial", h.Serial, "lease_id", d.LeaseID(), "forced", forced)
	return d
}

// Free returns a lease. Devices freed Available or Unresponsive re-enter
// the pool; Unavailable and Ignore drop them. Freeing an emulator kills
// its process and replaces the handle with a fresh slot stub. When the kill
// succeeds (or no process was running) the terminal state is forced to
// Available, so the slot is immediately reusable; when the kill fails the
// slot is dropped as Unavailable and the kill error is returned.
func (m *Manager) Free(d *Managed, state FreeState) error {
	if err := m.requireInit(); err != nil {
		return err
	}
	d.StopLogcat()

	handle := d.Handle()
	var killErr error
	if d.IsEmulator() {
		if proc := d.EmulatorProcess(); proc != nil {
			killErr = m.killEmulator(d, proc)
			d.SetEmulatorProcess(nil)
		}
		if port, err := handle.EmulatorPort(); err == nil {
			handle = device.NewEmulatorStub(port)
		} else {
			handle = device.NewStub(handle.Serial)
		}
		if killErr == nil {
			state = FreeAvailable
		} else {
			state = FreeUnavailable
		}
	}

	m.mu.Lock()
	delete(m.allocated, handle.Serial)
	m.mu.Unlock()

	switch state {
	case FreeAvailable, FreeUnresponsive:
		m.addAvailableDevice(handle)
	}

	m.events.Log(poollog.Event{
		Timestamp: time.Now(),
		Category:  poollog.CategoryAllocation,
		Serial:    handle.Serial,
		LeaseID:   d.LeaseID(),
		Allocation: &poollog.AllocationEvent{
			Action:    poollog.ActionFreed,
			FreeState: state.String(),
		},
	})
	m.logger.Debug("device freed", "serial", handle.Serial, "state", state.String())
	return killErr
}

// killEmulator terminates a launched emulator, preferring the emulator
// console and falling back to destroying the process, then waits for the
// bridge to lose the device.
func (m *Manager) killEmulator(d *Managed, proc *exec.Cmd) error {
	consoleKilled := false
	if port, err := d.Handle().EmulatorPort(); err == nil {
		consoleKilled = consoleKill(port)
	}
	if !consoleKilled && proc.Process != nil {
		_ = proc.Process.Kill()
	}
	go func() { _ = proc.Wait() }()

	if !d.WaitForNotAvailable(emulatorKillWait) {
		// Console kill did not take; destroy the process outright.
		if proc.Process != nil {
			_ = proc.Process.Kill()
		}
		return fmt.Errorf("emulator %s did not die within %v: %w",
			d.Serial(), emulatorKillWait, ErrDeviceNotAvailable)
	}
	return nil
}

// consoleKill asks the emulator console on the given port to shut down.
func consoleKill(port int) bool {
	conn, err := net.DialTimeout("tcp",
		fmt.Sprintf("127.0.0.1:%d", port), emulatorConsoleDialTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_, err = fmt.Fprint(conn, "kill\n")
	return err == nil
}

// LaunchEmulator boots the emulator backing an allocated slot stub. The
// device must be an emulator in state NotAvailable. The console port is
// taken from the serial and appended to the launch arguments. The spawned
// process is owned by the lease until Free.
func (m *Manager) LaunchEmulator(d *Managed, bootTimeout time.Duration, runner command.Executor, args []string) error {
	h := d.Handle()
	if !h.IsEmulator() {
		return fmt.Errorf("%s is not an emulator: %w", h.Serial, ErrWrongDeviceState)
	}
	if d.State() != device.StateNotAvailable {
		return fmt.Errorf("%s is %s: %w", h.Serial, d.State(), ErrWrongDeviceState)
	}
	port, err := h.EmulatorPort()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSerial, err)
	}

	launchArgs := append(append([]string{}, args...), "-port", strconv.Itoa(port))
	proc, err := runner.RunInBackground(launchArgs...)
	if err != nil {
		return fmt.Errorf("launching emulator %s: %v: %w", h.Serial, err, ErrDeviceNotAvailable)
	}
	go func() { _ = proc.Wait() }()

	command.Sleep(emulatorLaunchSettle)
	if !processAlive(proc) {
		return fmt.Errorf("emulator %s exited during startup: %w", h.Serial, ErrDeviceNotAvailable)
	}

	d.SetEmulatorProcess(proc)
	d.StartLogcat()

	if !d.WaitForAvailable(bootTimeout) {
		return fmt.Errorf("emulator %s did not boot within %v: %w",
			h.Serial, bootTimeout, ErrDeviceNotAvailable)
	}
	return nil
}

// processAlive probes the child with signal 0.
func processAlive(cmd *exec.Cmd) bool {
	return cmd.Process != nil && cmd.Process.Signal(syscall.Signal(0)) == nil
}

// ConnectToTCPDevice attaches a device over TCP. A stub lease is created
// up front so the address is reserved; `adb connect` is attempted up to
// three times with a pause between failures. On any failure the stub is
// freed with Ignore and an error returned.
func (m *Manager) ConnectToTCPDevice(addr string) (*Managed, error) {
	if err := m.requireInit(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	_, taken := m.allocated[addr]
	m.mu.Unlock()
	if taken {
		return nil, fmt.Errorf("%s: %w", addr, ErrAlreadyAllocated)
	}

	d := m.lease(device.NewStub(addr), false)
	if d == nil {
		return nil, fmt.Errorf("%s: %w", addr, ErrAlreadyAllocated)
	}

	wantPrefix := "connected to " + addr
	for attempt := 1; attempt <= tcpConnectAttempts; attempt++ {
		res := m.runner.RunTimedCmd(tcpConnectTimeout, m.opts.AdbPath, "connect", addr)
		if strings.HasPrefix(res.Stdout, wantPrefix) {
			if d.WaitForOnline(tcpOnlineWait) {
				return d, nil
			}
			m.logger.Warn("tcp device connected but never came online", "addr", addr)
			break
		}
		m.logger.Debug("adb connect failed", "addr", addr, "attempt", attempt,
			"stdout", strings.TrimSpace(res.Stdout))
		if attempt < tcpConnectAttempts {
			command.Sleep(m.tcpRetrySleep)
		}
	}
	_ = m.Free(d, FreeIgnore)
	return nil, fmt.Errorf("connecting to %s: %w", addr, ErrDeviceNotAvailable)
}

// ReconnectDeviceToTCP switches an allocated USB device to TCP and
// connects to it. On failure the USB side is recovered and an error
// returned.
func (m *Manager) ReconnectDeviceToTCP(usb *Managed) (*Managed, error) {
	addr, err := usb.SwitchToAdbTCP()
	if err != nil {
		if rerr := usb.Recover(); rerr != nil {
			m.logger.Warn("usb device recovery failed", "serial", usb.Serial(), "err", rerr)
		}
		return nil, err
	}
	d, err := m.ConnectToTCPDevice(addr)
	if err != nil {
		if rerr := usb.Recover(); rerr != nil {
			m.logger.Warn("usb device recovery failed", "serial", usb.Serial(), "err", rerr)
		}
		return nil, err
	}
	return d, nil
}

// DisconnectFromTCPDevice reverts a TCP device to USB and drops the lease.
// Reports whether the switch back succeeded.
func (m *Manager) DisconnectFromTCPDevice(d *Managed) bool {
	err := d.SwitchToAdbUSB()
	_ = m.Free(d, FreeIgnore)
	return err == nil
}

// Terminate releases the bridge and stops the background loops. Safe to
// call multiple times.
func (m *Manager) Terminate() {
	m.mu.Lock()
	if !m.initialized || m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	listener := m.bridgeListener
	fb := m.fastbootMon
	adm := m.admission
	m.mu.Unlock()

	if listener != nil {
		m.bridge.RemoveListener(listener)
	}
	m.bridge.Terminate()
	if fb != nil {
		fb.Stop()
	}
	if adm != nil {
		adm.Stop()
	}
	m.logger.Debug("device manager terminated")
}

// TerminateHard aborts recovery on every allocated device, forcibly drops
// the bridge connection, then terminates.
func (m *Manager) TerminateHard() {
	m.mu.Lock()
	devices := make([]*Managed, 0, len(m.allocated))
	for _, d := range m.allocated {
		devices = append(devices, d)
	}
	m.mu.Unlock()

	for _, d := range devices {
		d.SetRecovery(AbortRecovery{})
	}
	m.bridge.Disconnect()
	m.Terminate()
}

// AllocatedDevices returns a snapshot of the current leases.
func (m *Manager) AllocatedDevices() []*Managed {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]*Managed, 0, len(m.allocated))
	for _, d := range m.allocated {
		devices = append(devices, d)
	}
	return devices
}

// AvailableDevices returns a snapshot of the available pool, excluding
// slot-reservation stubs.
func (m *Manager) AvailableDevices() []*device.Handle {
	var out []*device.Handle
	for _, h := range m.available.Copy() {
		if !h.IsStub() {
			out = append(out, h)
		}
	}
	return out
}

// AvailableCount returns the size of the available pool, stubs included.
func (m *Manager) AvailableCount() int {
	return m.available.Size()
}

// UnavailableDevices returns devices in the bridge's view that are neither
// available nor allocated.
func (m *Manager) UnavailableDevices() []*device.Handle {
	inPool := make(map[string]struct{})
	for _, h := range m.available.Copy() {
		inPool[h.Serial] = struct{}{}
	}
	m.mu.Lock()
	for serial := range m.allocated {
		inPool[serial] = struct{}{}
	}
	m.mu.Unlock()

	var out []*device.Handle
	for _, h := range m.bridge.Devices() {
		if _, ok := inPool[h.Serial]; !ok {
			out = append(out, h)
		}
	}
	return out
}

// ListBridgeDevices snapshots the bridge's current device view.
func (m *Manager) ListBridgeDevices() []*device.Handle {
	return m.bridge.Devices()
}

// AddFastbootListener subscribes to fastboot monitor ticks. Returns
// ErrFastbootDisabled when fastboot support was not detected at init.
func (m *Manager) AddFastbootListener(l FastbootListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fastbootOn {
		return ErrFastbootDisabled
	}
	m.fastbootSubs[l] = struct{}{}
	return nil
}

// RemoveFastbootListener unsubscribes. Safe for absent listeners.
func (m *Manager) RemoveFastbootListener(l FastbootListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fastbootSubs != nil {
		delete(m.fastbootSubs, l)
	}
}

// addAvailableDevice enqueues a handle, displacing any prior entry with
// the same serial. The device is visible to Allocate callers as soon as
// this returns.
func (m *Manager) addAvailableDevice(h *device.Handle) {
	if displaced, found := m.available.AddUnique(serialMatcher(h.Serial), h); found {
		m.logger.Debug("displaced stale pool entry", "serial", displaced.Serial)
	}
}

// shellProber returns the responsiveness probe used by admission and by
// managed-device monitors.
func (m *Manager) shellProber() device.ShellProber {
	if m.opts.ShellProber != nil {
		return m.opts.ShellProber
	}
	return func(serial string, timeout time.Duration) bool {
		res := m.runner.RunTimedCmdSilently(timeout, m.opts.AdbPath,
			"-s", serial, "shell", "echo", "alive")
		return res.Status == command.StatusSuccess
	}
}

// batteryLevel queries the device's charge percentage, or nil.
func (m *Manager) batteryLevel(serial string) *int {
	res := m.runner.RunTimedCmdSilently(device.ShellProbeTimeout, m.opts.AdbPath,
		"-s", serial, "shell", "dumpsys", "battery")
	if res.Status != command.StatusSuccess {
		return nil
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "level:"); ok {
			if level, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				return &level
			}
		}
	}
	return nil
}

// fastbootDeviceRe matches one line of `fastboot devices` output.
var fastbootDeviceRe = regexp.MustCompile(`([\w\d]+)\s+fastboot\s*`)

// listFastbootSerials enumerates devices currently in fastboot mode.
func (m *Manager) listFastbootSerials() []string {
	res := m.runner.RunTimedCmd(fastbootDevicesTimeout, m.opts.FastbootPath, "devices")
	if res.Status != command.StatusSuccess {
		return nil
	}
	var serials []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if match := fastbootDeviceRe.FindStringSubmatch(line); match != nil {
			serials = append(serials, match[1])
		}
	}
	return serials
}

// serialMatcher matches queue entries by serial.
func serialMatcher(serial string) devicequeue.Matcher[*device.Handle] {
	return devicequeue.MatchFunc[*device.Handle](func(h *device.Handle) bool {
		return h.Serial == serial
	})
}
