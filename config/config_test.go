package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
hub_config:
  - sal_index: 1
    telemetry_interval: 1.5
    devices:
      - gauge1
      - gauge2
      - gauge3
      - gauge4
    units: um
    location: M2 surrogate
    host: 192.168.1.100
    port: 4001
    hub_type: Mitutoyo
  - sal_index: 2
    telemetry_interval: 0.5
    devices:
      - probe1
    units: mm
    location: lab bench
    host: 192.168.1.101
    port: 4001
    hub_type: Mitutoyo
`

func validConfig() *Config {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		panic(err)
	}

	return cfg
}

func TestParse(t *testing.T) {
	require := require.New(t)

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(err)
	require.Len(cfg.HubConfig, 2)

	e := cfg.HubConfig[0]
	require.Equal(1, e.SALIndex)
	require.InDelta(1.5, e.TelemetryInterval, 1e-12)
	require.Equal([]string{"gauge1", "gauge2", "gauge3", "gauge4"}, e.Devices)
	require.Equal("um", e.Units)
	require.Equal("M2 surrogate", e.Location)
	require.Equal("192.168.1.100", e.Host)
	require.Equal(4001, e.Port)
	require.Equal("Mitutoyo", e.HubType)

	require.Equal(1500*time.Millisecond, e.Interval())
	require.Equal(500*time.Millisecond, cfg.HubConfig[1].Interval())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("hub_config: {not: [valid"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "pmd.yaml")
	require.NoError(os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(err)
	require.Len(cfg.HubConfig, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		errMsg string
	}{
		{
			name:   "valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:   "empty hub_config",
			mutate: func(cfg *Config) { cfg.HubConfig = nil },
			errMsg: "at least one entry",
		},
		{
			name:   "sal_index below one",
			mutate: func(cfg *Config) { cfg.HubConfig[0].SALIndex = 0 },
			errMsg: "sal_index",
		},
		{
			name:   "duplicate sal_index",
			mutate: func(cfg *Config) { cfg.HubConfig[1].SALIndex = 1 },
			errMsg: "duplicate sal_index",
		},
		{
			name:   "zero telemetry_interval",
			mutate: func(cfg *Config) { cfg.HubConfig[0].TelemetryInterval = 0 },
			errMsg: "telemetry_interval",
		},
		{
			name:   "negative telemetry_interval",
			mutate: func(cfg *Config) { cfg.HubConfig[0].TelemetryInterval = -1 },
			errMsg: "telemetry_interval",
		},
		{
			name:   "no devices",
			mutate: func(cfg *Config) { cfg.HubConfig[0].Devices = nil },
			errMsg: "devices",
		},
		{
			name: "too many devices",
			mutate: func(cfg *Config) {
				cfg.HubConfig[0].Devices = []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
			},
			errMsg: "devices",
		},
		{
			name:   "missing host",
			mutate: func(cfg *Config) { cfg.HubConfig[0].Host = "" },
			errMsg: "host",
		},
		{
			name:   "port zero",
			mutate: func(cfg *Config) { cfg.HubConfig[0].Port = 0 },
			errMsg: "port",
		},
		{
			name:   "port too large",
			mutate: func(cfg *Config) { cfg.HubConfig[0].Port = 65536 },
			errMsg: "port",
		},
		{
			name:   "unknown hub_type",
			mutate: func(cfg *Config) { cfg.HubConfig[0].HubType = "Starrett" },
			errMsg: "hub_type",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig()
			test.mutate(cfg)

			err := Validate(cfg)
			if test.errMsg == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, test.errMsg)
			}
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	require.Error(t, Validate(nil))
}

func TestNormalize(t *testing.T) {
	require := require.New(t)

	cfg := validConfig()
	require.NoError(Validate(cfg))

	Normalize(cfg)

	require.Equal([]string{"gauge1", "gauge2", "gauge3", "gauge4", "", "", "", ""}, cfg.HubConfig[0].Devices)
	require.Equal([]string{"probe1", "", "", "", "", "", "", ""}, cfg.HubConfig[1].Devices)

	// normalizing twice changes nothing
	Normalize(cfg)
	require.Len(cfg.HubConfig[0].Devices, 8)

	Normalize(nil)
}

func TestForIndex(t *testing.T) {
	require := require.New(t)

	cfg := validConfig()

	entry, err := cfg.ForIndex(2)
	require.NoError(err)
	require.Equal("probe1", entry.Devices[0])

	_, err = cfg.ForIndex(99)
	require.ErrorContains(err, "sal_index 99")
}
