package pool

import (
	"fmt"
	"time"
)

// Recovery decides how a misbehaving leased device is brought back.
type Recovery interface {
	// RecoverDevice attempts to restore the device to a usable state.
	RecoverDevice(d *Managed) error
}

// WaitRecovery waits for the device to come back online and answer shell.
type WaitRecovery struct {
	// Timeout bounds the whole recovery. Zero means DefaultRecoveryTimeout.
	Timeout time.Duration
}

// DefaultRecoveryTimeout bounds a WaitRecovery pass.
const DefaultRecoveryTimeout = 2 * time.Minute

// RecoverDevice waits for the device to report available.
func (r WaitRecovery) RecoverDevice(d *Managed) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRecoveryTimeout
	}
	if !d.WaitForAvailable(timeout) {
		return fmt.Errorf("recovering %s: %w", d.Serial(), ErrDeviceNotAvailable)
	}
	return nil
}

// AbortRecovery denies every recovery attempt. Installed on all allocated
// devices by TerminateHard so in-flight work fails fast instead of waiting
// on hardware that is being torn down.
type AbortRecovery struct{}

// RecoverDevice always fails.
func (AbortRecovery) RecoverDevice(d *Managed) error {
	return fmt.Errorf("recovering %s: %w", d.Serial(), ErrRecoveryAborted)
}
