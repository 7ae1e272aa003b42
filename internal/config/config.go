// Package config loads the operator-tunable parameters of the flight
// core. Everything here is a constant in the original firmware; it is
// exposed as configuration so a test stand can adjust timing and
// thresholds without a firmware rebuild.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FlightConfig holds every tunable referenced by spec.md's constants
// table (§6) plus the engine/abort parameters needed to drive them.
type FlightConfig struct {
	LaunchSiteAltitudeM float64 `yaml:"launch_site_altitude_m"`

	ParachuteTick     time.Duration `yaml:"parachute_tick"`
	TelemetryTick     time.Duration `yaml:"telemetry_tick"`
	DescentsToApogee  int           `yaml:"descents_to_apogee"`
	MainDeployOffsetM float64       `yaml:"main_deploy_offset_m"`
	MainTimeout       time.Duration `yaml:"main_timeout"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`

	VentMaxOpen   time.Duration `yaml:"vent_max_open"`
	VentMinClosed time.Duration `yaml:"vent_min_closed"`

	OxidizerPressureCeilingPa float64 `yaml:"oxidizer_pressure_ceiling_pa"`
	VentSafePressurePa        float64 `yaml:"vent_safe_pressure_pa"`

	LaunchCmdThreshold          int           `yaml:"launch_cmd_threshold"`
	BurnTimeout                 time.Duration `yaml:"burn_timeout"`
	ChamberPressureAbortFloorPa float64       `yaml:"chamber_pressure_abort_floor_pa"`
	ChamberPressureDropTicks    int           `yaml:"chamber_pressure_drop_ticks"`

	NMEABufferLen int `yaml:"nmea_buffer_len"`

	PulseEMatches       bool          `yaml:"pulse_ematches"`
	EMatchPulseDuration time.Duration `yaml:"ematch_pulse_duration"`

	LogLevel  string `yaml:"log_level"`
	LogOutput string `yaml:"log_output"`
}

// Default returns the configuration matching spec.md §6's constants
// table exactly.
func Default() FlightConfig {
	return FlightConfig{
		LaunchSiteAltitudeM: 1401, // Spaceport America, meters ASL

		ParachuteTick:     200 * time.Millisecond,
		TelemetryTick:     1 * time.Second,
		DescentsToApogee:  3,
		MainDeployOffsetM: 457,
		MainTimeout:       10 * time.Minute,
		HeartbeatTimeout:  3 * time.Minute,

		VentMaxOpen:   8 * time.Second,
		VentMinClosed: 4 * time.Second,

		OxidizerPressureCeilingPa: 4_137_000, // ~600 psi
		VentSafePressurePa:        1_379_000, // ~200 psi

		LaunchCmdThreshold:          1,
		BurnTimeout:                 6 * time.Second,
		ChamberPressureAbortFloorPa: 50_000,
		ChamberPressureDropTicks:    3,

		NMEABufferLen: 82,

		PulseEMatches:       false,
		EMatchPulseDuration: 2 * time.Second,

		LogLevel:  "info",
		LogOutput: "stdout",
	}
}

// Load reads a YAML file at path and overlays it onto Default(). A
// missing file is not an error; Default() is returned unchanged.
func Load(path string) (FlightConfig, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
