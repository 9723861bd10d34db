package pool

import (
	"log/slog"
	"time"

	"github.com/devpool-project/devpool-go/pkg/device"
	"github.com/devpool-project/devpool-go/pkg/poollog"
)

// Options configures a Manager.
type Options struct {
	// AdbPath is the adb binary. Default "adb".
	AdbPath string

	// FastbootPath is the fastboot binary. Default "fastboot".
	FastbootPath string

	// NumEmulators is how many emulator slot stubs to seed the pool with.
	NumEmulators int

	// NumNullDevices is how many null-device stubs to seed the pool with.
	NumNullDevices int

	// MaxAdmissionWorkers bounds concurrent responsiveness probes.
	// Default 4.
	MaxAdmissionWorkers int

	// FastbootPollInterval overrides the fastboot monitor period.
	// Default FastbootPollWaitTime. Tests shrink it.
	FastbootPollInterval time.Duration

	// CaptureBattery queries the battery level during admission so
	// selections with battery bounds have something to match.
	CaptureBattery bool

	// SynchronousAdmission runs admission probes inline on the bridge
	// event goroutine instead of dispatching workers. Testing only.
	SynchronousAdmission bool

	// Logger is the operational logger. Default slog.Default().
	Logger *slog.Logger

	// EventLogger captures fleet events. Default NoopLogger.
	EventLogger poollog.Logger

	// DeviceListerHook, when set, receives a callback that snapshots the
	// bridge's device view. Used by external monitor subsystems.
	DeviceListerHook func(lister func() []*device.Handle)

	// ShellProber overrides the admission shell probe. Default runs
	// `adb -s <serial> shell echo alive` through the manager's executor.
	ShellProber device.ShellProber
}

// DefaultOptions returns the default manager configuration.
func DefaultOptions() Options {
	return Options{
		AdbPath:              "adb",
		FastbootPath:         "fastboot",
		MaxAdmissionWorkers:  defaultAdmissionWorkers,
		FastbootPollInterval: FastbootPollWaitTime,
	}
}

// normalize fills unset fields with defaults.
func (o *Options) normalize() {
	if o.AdbPath == "" {
		o.AdbPath = "adb"
	}
	if o.FastbootPath == "" {
		o.FastbootPath = "fastboot"
	}
	if o.MaxAdmissionWorkers <= 0 {
		o.MaxAdmissionWorkers = defaultAdmissionWorkers
	}
	if o.FastbootPollInterval <= 0 {
		o.FastbootPollInterval = FastbootPollWaitTime
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.EventLogger == nil {
		o.EventLogger = poollog.NoopLogger{}
	}
}
