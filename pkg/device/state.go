package device

// State is the reported mode of a test device. Transitions are driven by
// bridge callbacks and by the fastboot monitor, never by the device itself.
type State uint8

const (
	// StateOnline - visible to the bridge and accepting commands.
	StateOnline State = iota

	// StateOffline - visible to the bridge but not accepting commands.
	StateOffline

	// StateRecovery - booted into recovery mode.
	StateRecovery

	// StateFastboot - booted into fastboot/bootloader mode; enumerated by
	// the fastboot monitor, or reported by the bridge as "bootloader".
	StateFastboot

	// StateNotAvailable - no longer visible to the bridge.
	StateNotAvailable
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateOnline:
		return "ONLINE"
	case StateOffline:
		return "OFFLINE"
	case StateRecovery:
		return "RECOVERY"
	case StateFastboot:
		return "FASTBOOT"
	case StateNotAvailable:
		return "NOT_AVAILABLE"
	default:
		return "UNKNOWN"
	}
}
