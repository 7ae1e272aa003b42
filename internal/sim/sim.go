// Package sim provides host-side stand-ins for the hardware
// capability interfaces (GPIOWriter, sensor producers) so the flight
// core runs and tests on a development machine without real
// peripherals, per Design Notes §9. Grounded on the teacher's
// MAVLinkConfig.SimulationMode branch in internal/actuators/mavlink.go,
// which takes the same "connected but no hardware" shortcut.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/corvus-rocketry/avionics-core/internal/sensors"
)

// GPIO is a recording implementation of actuators.GPIOWriter: it keeps
// the line's state and a count of writes instead of touching hardware.
type GPIO struct {
	mu     sync.Mutex
	high   bool
	writes int
}

// NewGPIO creates a simulated, initially-low GPIO line.
func NewGPIO() *GPIO {
	return &GPIO{}
}

// Set implements actuators.GPIOWriter.
func (g *GPIO) Set(high bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.high = high
	g.writes++
	return nil
}

// High reports the simulated line's last commanded state.
func (g *GPIO) High() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.high
}

// Writes reports how many times Set was called, for test assertions
// about idempotent actuator behavior.
func (g *GPIO) Writes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes
}

// FlightProfile generates synthetic IMU/barometer samples approximating
// a ballistic flight: constant upward acceleration for boostSeconds,
// then free-fall deceleration, feeding spec.md §8's nominal-flight test
// scenario (boost, coast, descent).
type FlightProfile struct {
	BoostSeconds   float64
	BoostAccelMS2  float64
	LaunchSiteAltM float64

	elapsed  float64
	velocity float64
	altitude float64
}

// NewFlightProfile creates a profile starting at rest on the pad.
func NewFlightProfile(boostSeconds, boostAccelMS2, launchSiteAltM float64) *FlightProfile {
	return &FlightProfile{
		BoostSeconds:   boostSeconds,
		BoostAccelMS2:  boostAccelMS2,
		LaunchSiteAltM: launchSiteAltM,
		altitude:       launchSiteAltM,
	}
}

const gravityMS2 = 9.80665

// Advance steps the profile forward by dt seconds and returns the
// current net vertical acceleration (gravity already subtracted, as
// the sensor task's contract requires) and altitude.
func (p *FlightProfile) Advance(dt float64) (accel, altitude float64) {
	if p.elapsed < p.BoostSeconds {
		accel = p.BoostAccelMS2
	} else {
		accel = -gravityMS2
	}

	p.velocity += accel * dt
	p.altitude += p.velocity*dt + 0.5*accel*dt*dt
	if p.altitude < p.LaunchSiteAltM {
		p.altitude = p.LaunchSiteAltM
		p.velocity = 0
	}
	p.elapsed += dt

	return accel, p.altitude
}

// PressureForAltitude inverts the ISA barometric formula, letting a
// simulated barometer report a pressure consistent with a simulated
// altitude.
func PressureForAltitude(altitudeM float64) float64 {
	const (
		seaLevelPressurePa = 101325.0
		seaLevelTempK      = 288.15
		tempLapseRate      = 0.0065
		gasConstant        = 8.31446
		molarMassAir       = 0.0289644
		gravity            = 9.80665
	)
	exponent := gravity * molarMassAir / (gasConstant * tempLapseRate)
	ratio := 1 - (tempLapseRate*altitudeM)/seaLevelTempK
	return seaLevelPressurePa * math.Pow(ratio, exponent)
}

// Feeder publishes a FlightProfile into a sensors.Set at a fixed tick,
// standing in for the out-of-scope IMU and barometer driver tasks.
type Feeder struct {
	set     *sensors.Set
	profile *FlightProfile
	tick    time.Duration
}

// NewFeeder creates a sensor feeder.
func NewFeeder(set *sensors.Set, profile *FlightProfile, tick time.Duration) *Feeder {
	return &Feeder{set: set, profile: profile, tick: tick}
}

// Run publishes synthetic samples until ctx is cancelled.
func (f *Feeder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			accel, altitude := f.profile.Advance(f.tick.Seconds())
			f.set.IMU.Set(sensors.AccelGyroMagnetism{AccelZ: accel})
			f.set.Baro.Set(sensors.Barometer{PressurePa: PressureForAltitude(altitude)})
		}
	}
}
