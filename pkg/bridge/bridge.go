// Package bridge defines the debug-bridge contract consumed by the pool
// and provides the adb implementation of it.
//
// The bridge owns device enumeration: it reports every attached device and
// delivers connect/change/disconnect events to registered listeners on its
// own event goroutine. Listeners must not block; the pool delegates real
// work to background workers.
package bridge

import (
	"time"

	"github.com/devpool-project/devpool-go/pkg/device"
)

// ChangeMask flags which aspects of a device changed in a DeviceChanged
// event.
type ChangeMask int

const (
	// ChangeState signals a device mode transition.
	ChangeState ChangeMask = 1 << iota

	// ChangeBuildInfo signals updated build properties.
	ChangeBuildInfo
)

// Listener receives device events. All callbacks are dispatched on the
// bridge's event goroutine; implementations must return quickly.
type Listener interface {
	// DeviceConnected is fired when a device appears.
	DeviceConnected(h *device.Handle)

	// DeviceChanged is fired when an attribute of a known device changes;
	// the mask indicates what changed.
	DeviceChanged(h *device.Handle, mask ChangeMask)

	// DeviceDisconnected is fired when a device disappears.
	DeviceDisconnected(h *device.Handle)
}

// Bridge is the debug-bridge service contract. One manager owns the bridge
// from Init to Terminate.
type Bridge interface {
	// Init connects to the bridge service and begins delivering events.
	// Listeners registered before Init observe every device.
	Init(clientSupport bool, adbPath string) error

	// Terminate stops event delivery and releases the bridge. Idempotent.
	Terminate()

	// Disconnect forcibly drops the bridge connection without orderly
	// shutdown. Used by hard termination.
	Disconnect()

	// Devices returns a snapshot of the devices currently visible.
	Devices() []*device.Handle

	// AddListener registers a listener for device events.
	AddListener(l Listener)

	// RemoveListener deregisters a listener. Safe for absent listeners.
	RemoveListener(l Listener)

	// SetTimeout bounds individual bridge operations.
	SetTimeout(d time.Duration)
}
