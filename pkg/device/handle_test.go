package device

import "testing"

func TestEmulatorStubSerials(t *testing.T) {
	h := NewEmulatorStub(5554)
	if h.Serial != "emulator-5554" {
		t.Errorf("Serial = %q, want emulator-5554", h.Serial)
	}
	if !h.IsEmulator() || !h.IsStub() {
		t.Error("emulator stub should be both emulator and stub")
	}
	port, err := h.EmulatorPort()
	if err != nil || port != 5554 {
		t.Errorf("EmulatorPort = %d, %v; want 5554, nil", port, err)
	}
}

func TestEmulatorPort_Errors(t *testing.T) {
	if _, err := NewHandle("A1B2", StateOnline).EmulatorPort(); err == nil {
		t.Error("expected error for non-emulator serial")
	}
	h := NewHandle("emulator-xyz", StateOnline)
	if _, err := h.EmulatorPort(); err == nil {
		t.Error("expected error for unparsable port")
	}
}

func TestPhysicalEmulatorSerialDetected(t *testing.T) {
	h := NewHandle("emulator-5556", StateOnline)
	if !h.IsEmulator() {
		t.Error("bridge-reported emulator serial not detected as emulator")
	}
	if h.IsStub() {
		t.Error("bridge-reported emulator should not be a stub")
	}
}

func TestNullStubSerials(t *testing.T) {
	h := NewNullStub(2)
	if h.Serial != "null-device-2" {
		t.Errorf("Serial = %q, want null-device-2", h.Serial)
	}
	if h.Kind != KindNullStub {
		t.Errorf("Kind = %v, want NULL_STUB", h.Kind)
	}
}

func TestValidSerial(t *testing.T) {
	cases := []struct {
		serial string
		want   bool
	}{
		{"A1B2C3", true},
		{"emulator-5554", true},
		{"", false},
		{"x", false},
		{"????????", false},
		{"ABC?DEF", false},
	}
	for _, tc := range cases {
		if got := ValidSerial(tc.serial); got != tc.want {
			t.Errorf("ValidSerial(%q) = %v, want %v", tc.serial, got, tc.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateFastboot.String() != "FASTBOOT" {
		t.Errorf("StateFastboot.String() = %q", StateFastboot.String())
	}
	if State(200).String() != "UNKNOWN" {
		t.Errorf("unknown state String() = %q", State(200).String())
	}
}
