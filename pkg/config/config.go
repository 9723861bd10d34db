// Package config loads the agent's yaml configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/devpool-project/devpool-go/pkg/device"
	"github.com/devpool-project/devpool-go/pkg/pool"
)

// Config errors.
var (
	ErrNegativeSlots = errors.New("slot counts must not be negative")
)

// Selection mirrors device.Selection with yaml tags.
type Selection struct {
	Serials           []string `yaml:"serials,omitempty"`
	ExcludeSerials    []string `yaml:"exclude_serials,omitempty"`
	ProductType       string   `yaml:"product_type,omitempty"`
	ProductVariant    string   `yaml:"product_variant,omitempty"`
	MinBattery        *int     `yaml:"min_battery,omitempty"`
	MaxBattery        *int     `yaml:"max_battery,omitempty"`
	EmulatorOnly      bool     `yaml:"emulator_only,omitempty"`
	DeviceOnly        bool     `yaml:"device_only,omitempty"`
	NullDeviceAllowed bool     `yaml:"null_device_allowed,omitempty"`
	StubAllowed       bool     `yaml:"stub_allowed,omitempty"`
}

// ToSelection converts to the pool's selection type.
func (s *Selection) ToSelection() *device.Selection {
	if s == nil {
		return nil
	}
	return &device.Selection{
		Serials:           s.Serials,
		ExcludeSerials:    s.ExcludeSerials,
		ProductType:       s.ProductType,
		ProductVariant:    s.ProductVariant,
		MinBattery:        s.MinBattery,
		MaxBattery:        s.MaxBattery,
		EmulatorOnly:      s.EmulatorOnly,
		DeviceOnly:        s.DeviceOnly,
		NullDeviceAllowed: s.NullDeviceAllowed,
		StubAllowed:       s.StubAllowed,
	}
}

// Discovery configures mDNS browsing for TCP connect candidates.
type Discovery struct {
	// Enabled turns on mDNS browsing.
	Enabled bool `yaml:"enabled"`

	// Interface restricts browsing to one network interface.
	Interface string `yaml:"interface,omitempty"`

	// IncludePlain also browses the legacy _adb._tcp service type.
	IncludePlain bool `yaml:"include_plain,omitempty"`
}

// Pool is the agent configuration.
type Pool struct {
	// AdbPath is the adb binary. Default "adb".
	AdbPath string `yaml:"adb_path,omitempty"`

	// FastbootPath is the fastboot binary. Default "fastboot".
	FastbootPath string `yaml:"fastboot_path,omitempty"`

	// NumEmulators seeds this many emulator slot stubs.
	NumEmulators int `yaml:"num_emulators,omitempty"`

	// NumNullDevices seeds this many null-device stubs.
	NumNullDevices int `yaml:"num_null_devices,omitempty"`

	// AdmissionWorkers bounds concurrent responsiveness probes.
	AdmissionWorkers int `yaml:"admission_workers,omitempty"`

	// CaptureBattery queries battery level during admission.
	CaptureBattery bool `yaml:"capture_battery,omitempty"`

	// EventLog is the fleet capture file path (.plog). Empty disables
	// file capture.
	EventLog string `yaml:"event_log,omitempty"`

	// GlobalSelection gates admission to the pool.
	GlobalSelection *Selection `yaml:"global_selection,omitempty"`

	// Discovery configures mDNS candidate browsing.
	Discovery Discovery `yaml:"discovery,omitempty"`
}

// Load reads and validates a yaml config file.
func Load(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Pool
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Pool) Validate() error {
	if c.NumEmulators < 0 || c.NumNullDevices < 0 {
		return ErrNegativeSlots
	}
	return nil
}

// Options converts the configuration into manager options.
func (c *Pool) Options() pool.Options {
	opts := pool.DefaultOptions()
	if c.AdbPath != "" {
		opts.AdbPath = c.AdbPath
	}
	if c.FastbootPath != "" {
		opts.FastbootPath = c.FastbootPath
	}
	opts.NumEmulators = c.NumEmulators
	opts.NumNullDevices = c.NumNullDevices
	if c.AdmissionWorkers > 0 {
		opts.MaxAdmissionWorkers = c.AdmissionWorkers
	}
	opts.CaptureBattery = c.CaptureBattery
	return opts
}
