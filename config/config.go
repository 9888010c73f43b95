// Package config loads and validates the deployment configuration of the PMD
// component, a YAML file with one entry per hub instance.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the PMD configuration file.
type Config struct {
	HubConfig []HubEntry `yaml:"hub_config"`
}

// HubEntry describes one hub instance.
type HubEntry struct {
	// SALIndex is the component index this entry belongs to.
	SALIndex int `yaml:"sal_index"`

	// TelemetryInterval is the interval at which telemetry is published, in seconds.
	TelemetryInterval float64 `yaml:"telemetry_interval"`

	// Devices holds the names of the devices, one per slot in order.
	// An empty name marks an unused slot.
	Devices []string `yaml:"devices"`

	// Units is the unit of measurement for the devices.
	Units string `yaml:"units"`

	// Location is the location of the device hub.
	Location string `yaml:"location"`

	// Host is the IP address or host of the terminal server.
	Host string `yaml:"host"`

	// Port is the TCP port of the terminal server.
	Port int `yaml:"port"`

	// HubType is the brand/type of the device hub.
	HubType string `yaml:"hub_type"`
}

// Interval returns the telemetry interval as a time.Duration.
func (e *HubEntry) Interval() time.Duration {
	return time.Duration(e.TelemetryInterval * float64(time.Second))
}

// Load reads and parses the configuration file at the given path.
// The result is not validated; call Validate before use.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration bytes.
// The result is not validated; call Validate before use.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// ForIndex returns the entry whose sal_index matches the running component's index.
func (c *Config) ForIndex(index int) (*HubEntry, error) {
	for i := range c.HubConfig {
		if c.HubConfig[i].SALIndex == index {
			return &c.HubConfig[i], nil
		}
	}

	return nil, fmt.Errorf("no hub_config entry with sal_index %d", index)
}
