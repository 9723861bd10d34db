package pool

import (
	"errors"
	"time"
)

// Manager errors.
var (
	ErrAlreadyInitialized = errors.New("device manager already initialized")
	ErrNotInitialized     = errors.New("device manager not initialized")
	ErrTerminated         = errors.New("device manager terminated")
	ErrNoDeviceAvailable  = errors.New("no matching device available")
	ErrAlreadyAllocated   = errors.New("device already allocated")
	ErrInvalidSerial      = errors.New("invalid device serial")
	ErrWrongDeviceState   = errors.New("device is in the wrong state for this request")
	ErrDeviceNotAvailable = errors.New("device not available")
	ErrFastbootDisabled   = errors.New("fastboot support is not available")
	ErrRecoveryAborted    = errors.New("device recovery aborted")
)

// Pool timing constants.
const (
	// CheckWaitDeviceAvail is how long a newly-observed device has to
	// become shell-responsive before admission gives up on it.
	CheckWaitDeviceAvail = 30 * time.Second

	// FastbootPollWaitTime is the fastboot monitor's polling period.
	FastbootPollWaitTime = 5 * time.Second

	// fastbootProbeTimeout bounds the `fastboot help` availability probe.
	fastbootProbeTimeout = 5 * time.Second

	// fastbootDevicesTimeout bounds the periodic `fastboot devices` run.
	fastbootDevicesTimeout = 60 * time.Second

	// bridgeOperationTimeout is installed on the bridge at init.
	bridgeOperationTimeout = 30 * time.Second

	// tcpConnectAttempts is how many times `adb connect` is tried.
	tcpConnectAttempts = 3

	// tcpConnectRetrySleep is the pause between failed connect attempts.
	tcpConnectRetrySleep = 5 * time.Second

	// tcpConnectTimeout bounds a single `adb connect` run.
	tcpConnectTimeout = 60 * time.Second

	// tcpOnlineWait is how long a freshly-connected TCP device has to
	// come online.
	tcpOnlineWait = 30 * time.Second

	// emulatorLaunchSettle is the pause after spawning an emulator before
	// checking that the process survived startup.
	emulatorLaunchSettle = 500 * time.Millisecond

	// emulatorKillWait is how long a killed emulator has to disappear
	// from the bridge.
	emulatorKillWait = 20 * time.Second

	// emulatorConsoleDialTimeout bounds the dial to the emulator console,
	// which listens on the port embedded in the serial.
	emulatorConsoleDialTimeout = 2 * time.Second

	// forceAllocatePoll is the short queue poll performed before a
	// force-allocation synthesizes a stub. A matching device arriving
	// concurrently races this window; the stub path wins after it closes.
	forceAllocatePoll = 1 * time.Millisecond

	// defaultAdmissionWorkers bounds concurrent responsiveness probes.
	defaultAdmissionWorkers = 4
)

// FreeState is the terminal state a caller names when returning a lease.
type FreeState uint8

const (
	// FreeAvailable - the device worked; return it to the pool.
	FreeAvailable FreeState = iota

	// FreeUnresponsive - the device misbehaved but may recover; return it
	// to the pool.
	FreeUnresponsive

	// FreeUnavailable - the device is gone or broken; drop it.
	FreeUnavailable

	// FreeIgnore - drop the device without judgement (stubs, TCP
	// disconnects).
	FreeIgnore
)

// String returns a human-readable free-state name.
func (s FreeState) String() string {
	switch s {
	case FreeAvailable:
		return "AVAILABLE"
	case FreeUnresponsive:
		return "UNRESPONSIVE"
	case FreeUnavailable:
		return "UNAVAILABLE"
	case FreeIgnore:
		return "IGNORE"
	default:
		return "UNKNOWN"
	}
}

// FastbootListener is notified after every fastboot monitor tick.
type FastbootListener interface {
	// StateUpdated is called once per polling cycle, after allocated
	// devices have been reclassified.
	StateUpdated()
}
