package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates real hardware handles from the synthesized placeholder
// handles used to reserve allocation slots.
type Kind uint8

const (
	// KindPhysical is a device reported by the bridge.
	KindPhysical Kind = iota

	// KindEmulatorStub reserves a slot for an emulator that is not booted.
	KindEmulatorStub

	// KindNullStub reserves a slot that never corresponds to hardware.
	KindNullStub

	// KindStub reserves a slot for a device expected to appear later
	// (force-allocation, pre-connect TCP devices).
	KindStub

	// KindFastbootStub represents a device enumerated in fastboot mode.
	KindFastbootStub
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindPhysical:
		return "PHYSICAL"
	case KindEmulatorStub:
		return "EMULATOR_STUB"
	case KindNullStub:
		return "NULL_STUB"
	case KindStub:
		return "STUB"
	case KindFastbootStub:
		return "FASTBOOT_STUB"
	default:
		return "UNKNOWN"
	}
}

// EmulatorSerialPrefix prefixes every emulator serial; the remainder is the
// emulator console port.
const EmulatorSerialPrefix = "emulator-"

// FirstEmulatorPort is the console port of the first emulator slot.
// Consecutive slots use port + 2, matching the emulator's own allocation.
const FirstEmulatorPort = 5554

// Handle identifies a device known to the manager. Serial is the stable
// key; it is unique across the manager. A Handle is a value snapshot - the
// bridge delivers a fresh Handle on every event.
type Handle struct {
	// Serial uniquely identifies the device.
	Serial string

	// State is the mode the device reported when this handle was produced.
	State State

	// Kind distinguishes real devices from slot-reservation stubs.
	Kind Kind

	// Product is the build product name, when known.
	Product string

	// Variant is the product variant, when known.
	Variant string

	// BatteryLevel is the charge percentage captured at admission, or nil
	// when it was not queried.
	BatteryLevel *int
}

// NewHandle creates a physical device handle.
func NewHandle(serial string, state State) *Handle {
	return &Handle{Serial: serial, State: state, Kind: KindPhysical}
}

// NewEmulatorStub creates the slot-reservation handle for the emulator on
// the given console port.
func NewEmulatorStub(port int) *Handle {
	return &Handle{
		Serial: fmt.Sprintf("%s%d", EmulatorSerialPrefix, port),
		State:  StateNotAvailable,
		Kind:   KindEmulatorStub,
	}
}

// NewNullStub creates the i-th null-device placeholder handle.
func NewNullStub(i int) *Handle {
	return &Handle{
		Serial: fmt.Sprintf("null-device-%d", i),
		State:  StateNotAvailable,
		Kind:   KindNullStub,
	}
}

// NewStub creates a generic placeholder handle for a device expected to
// appear under the given serial.
func NewStub(serial string) *Handle {
	return &Handle{Serial: serial, State: StateNotAvailable, Kind: KindStub}
}

// NewFastbootStub creates a handle for a device enumerated in fastboot mode.
func NewFastbootStub(serial string) *Handle {
	return &Handle{Serial: serial, State: StateFastboot, Kind: KindFastbootStub}
}

// IsEmulator reports whether the handle names an emulator, booted or not.
func (h *Handle) IsEmulator() bool {
	return h.Kind == KindEmulatorStub || strings.HasPrefix(h.Serial, EmulatorSerialPrefix)
}

// IsStub reports whether the handle is a synthesized placeholder rather
// than a device reported by the bridge.
func (h *Handle) IsStub() bool {
	return h.Kind != KindPhysical
}

// EmulatorPort extracts the console port from an emulator serial.
func (h *Handle) EmulatorPort() (int, error) {
	if !strings.HasPrefix(h.Serial, EmulatorSerialPrefix) {
		return 0, fmt.Errorf("serial %q is not an emulator serial", h.Serial)
	}
	port, err := strconv.Atoi(strings.TrimPrefix(h.Serial, EmulatorSerialPrefix))
	if err != nil {
		return 0, fmt.Errorf("serial %q has unparsable port: %w", h.Serial, err)
	}
	return port, nil
}

// ValidSerial reports whether a bridge-reported serial identifies a usable
// device. The bridge surfaces partially-enumerated devices with single-char
// or "?"-containing serials; those are never admitted.
func ValidSerial(serial string) bool {
	return len(serial) > 1 && !strings.Contains(serial, "?")
}
