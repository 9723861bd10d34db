package device

// Selection is a stateless set of allocation criteria. The zero value
// matches any real device or emulator slot; placeholder stubs and null
// devices must be opted into.
type Selection struct {
	// Serials restricts matching to these serials, when non-empty.
	Serials []string

	// ExcludeSerials rejects these serials.
	ExcludeSerials []string

	// ProductType requires an exact build product match, when set.
	ProductType string

	// ProductVariant requires an exact variant match, when set.
	ProductVariant string

	// MinBattery rejects devices below this charge percentage. Devices
	// whose battery level is unknown do not match when a bound is set.
	MinBattery *int

	// MaxBattery rejects devices above this charge percentage.
	MaxBattery *int

	// EmulatorOnly restricts matching to emulators.
	EmulatorOnly bool

	// DeviceOnly restricts matching to non-emulators.
	DeviceOnly bool

	// NullDeviceAllowed admits null-device placeholders.
	NullDeviceAllowed bool

	// StubAllowed admits generic placeholder stubs (force-allocated or
	// pre-connect TCP reservations). Emulator slots are not gated by this;
	// they are the normal allocation path for launching emulators.
	StubAllowed bool
}

// Matches reports whether the handle satisfies every specified criterion.
func (s *Selection) Matches(h *Handle) bool {
	if len(s.Serials) > 0 && !containsString(s.Serials, h.Serial) {
		return false
	}
	if containsString(s.ExcludeSerials, h.Serial) {
		return false
	}
	if s.ProductType != "" && s.ProductType != h.Product {
		return false
	}
	if s.ProductVariant != "" && s.ProductVariant != h.Variant {
		return false
	}
	if s.MinBattery != nil && (h.BatteryLevel == nil || *h.BatteryLevel < *s.MinBattery) {
		return false
	}
	if s.MaxBattery != nil && (h.BatteryLevel == nil || *h.BatteryLevel > *s.MaxBattery) {
		return false
	}
	if s.EmulatorOnly && !h.IsEmulator() {
		return false
	}
	if s.DeviceOnly && h.IsEmulator() {
		return false
	}
	if h.Kind == KindNullStub && !s.NullDeviceAllowed {
		return false
	}
	if h.Kind == KindStub && !s.StubAllowed {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
