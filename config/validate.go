package config

import (
	"fmt"

	"github.com/lsst-ts/ts-pmd/mitutoyo"
)

// hubTypes enumerates the supported hub families.
var hubTypes = map[string]bool{
	"Mitutoyo": true,
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if len(cfg.HubConfig) == 0 {
		return fmt.Errorf("hub_config must contain at least one entry")
	}

	indexes := make(map[int]bool)

	for i, e := range cfg.HubConfig {
		if e.SALIndex < 1 {
			return fmt.Errorf("hub_config[%d]: sal_index must be >= 1, got %d", i, e.SALIndex)
		}

		if indexes[e.SALIndex] {
			return fmt.Errorf("hub_config[%d]: duplicate sal_index %d", i, e.SALIndex)
		}
		indexes[e.SALIndex] = true

		if e.TelemetryInterval <= 0 {
			return fmt.Errorf("hub_config[%d]: telemetry_interval must be positive, got %v", i, e.TelemetryInterval)
		}

		if len(e.Devices) < 1 || len(e.Devices) > mitutoyo.NumSlots {
			return fmt.Errorf("hub_config[%d]: devices must contain 1 to %d names, got %d", i, mitutoyo.NumSlots, len(e.Devices))
		}

		if e.Host == "" {
			return fmt.Errorf("hub_config[%d]: host is required", i)
		}

		if e.Port < 1 || e.Port > 65535 {
			return fmt.Errorf("hub_config[%d]: port is out of range [1, 65535], got %d", i, e.Port)
		}

		if !hubTypes[e.HubType] {
			return fmt.Errorf("hub_config[%d]: unknown hub_type %q", i, e.HubType)
		}
	}

	return nil
}

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	for i := range cfg.HubConfig {
		e := &cfg.HubConfig[i]

		// Pad the device names to the fixed slot count; padded slots are unused.
		for len(e.Devices) < mitutoyo.NumSlots {
			e.Devices = append(e.Devices, "")
		}
	}
}
