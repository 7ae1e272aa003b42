package parachute

import (
	"testing"
	"time"

	"github.com/corvus-rocketry/avionics-core/internal/actuators"
	"github.com/corvus-rocketry/avionics-core/internal/config"
	"github.com/corvus-rocketry/avionics-core/internal/estimator"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
	"github.com/corvus-rocketry/avionics-core/internal/sim"
)

func newTestController(cfg config.FlightConfig) (*Controller, *phase.Registry, *sensors.Set, *sim.GPIO, *sim.GPIO) {
	phases := phase.New()
	sensorSet := sensors.NewSet()
	filter := estimator.New(estimator.DefaultGains(), cfg.LaunchSiteAltitudeM)

	drogueGPIO := sim.NewGPIO()
	mainGPIO := sim.NewGPIO()
	drogue := actuators.NewEMatch(actuators.NewLine("drogue", drogueGPIO, nil))
	main := actuators.NewEMatch(actuators.NewLine("main", mainGPIO, nil))

	c := New(phases, sensorSet, filter, drogue, main, cfg, nil)
	return c, phases, sensorSet, drogueGPIO, mainGPIO
}

func TestIdleInPrelaunchAndArm(t *testing.T) {
	cfg := config.Default()
	c, phases, _, drogueGPIO, _ := newTestController(cfg)

	phases.Transition(phase.Prelaunch)
	c.tick()
	phases.Transition(phase.Arm)
	c.tick()

	if drogueGPIO.Writes() != 0 {
		t.Fatalf("expected no drogue writes during prelaunch/arm, got %d", drogueGPIO.Writes())
	}
}

func TestCoastTriggersDrogueAfterThreeDescendingTicks(t *testing.T) {
	cfg := config.Default()
	c, phases, sensorSet, drogueGPIO, _ := newTestController(cfg)

	phases.Transition(phase.Coast)
	c.state = estimator.State{Altitude: 3000, Velocity: -10, Acceleration: -9.8}

	// Each tick must strictly decrease altitude to count as a descent.
	for i := 0; i < 3; i++ {
		sensorSet.IMU.Set(sensors.AccelGyroMagnetism{AccelZ: -9.8})
		sensorSet.Baro.Set(sensors.Barometer{PressurePa: sim.PressureForAltitude(3000 - float64(i)*50)})
		c.tick()
	}

	if phases.Current() != phase.DrogueDescent {
		t.Fatalf("expected DROGUE_DESCENT after 3 descending ticks, got %s", phases.Current())
	}
	if drogueGPIO.Writes() == 0 {
		t.Fatal("expected the drogue e-match to have fired")
	}
}

func TestCoastResetsDescentCounterOnAscendingTick(t *testing.T) {
	cfg := config.Default()
	c, phases, sensorSet, _, _ := newTestController(cfg)
	phases.Transition(phase.Coast)
	c.state = estimator.State{Altitude: 3000, Velocity: 10, Acceleration: 5}

	sensorSet.IMU.Set(sensors.AccelGyroMagnetism{AccelZ: -9.8})
	sensorSet.Baro.Set(sensors.Barometer{PressurePa: sim.PressureForAltitude(2950)})
	c.tick()
	if c.numDescents != 1 {
		t.Fatalf("expected 1 descent tick, got %d", c.numDescents)
	}

	sensorSet.Baro.Set(sensors.Barometer{PressurePa: sim.PressureForAltitude(3100)})
	sensorSet.IMU.Set(sensors.AccelGyroMagnetism{AccelZ: 20})
	c.tick()
	if c.numDescents != 0 {
		t.Fatalf("expected descent counter reset to 0 on an ascending tick, got %d", c.numDescents)
	}
}

func TestDrogueDescentDeploysMainBelowTargetAltitude(t *testing.T) {
	cfg := config.Default()
	c, phases, sensorSet, _, mainGPIO := newTestController(cfg)

	phases.Transition(phase.DrogueDescent)
	c.drogueSince = time.Now()
	targetAltitude := cfg.LaunchSiteAltitudeM + cfg.MainDeployOffsetM
	c.state = estimator.State{Altitude: targetAltitude + 100, Velocity: -5, Acceleration: 0}

	sensorSet.IMU.Set(sensors.AccelGyroMagnetism{AccelZ: -9.8})
	sensorSet.Baro.Set(sensors.Barometer{PressurePa: sim.PressureForAltitude(targetAltitude - 10)})
	c.tick()

	if phases.Current() != phase.MainDescent {
		t.Fatalf("expected MAIN_DESCENT, got %s", phases.Current())
	}
	if mainGPIO.Writes() == 0 {
		t.Fatal("expected the main e-match to have fired")
	}
}

func TestDrogueDescentTimesOutRegardlessOfAltitude(t *testing.T) {
	cfg := config.Default()
	cfg.MainTimeout = 10 * time.Millisecond
	c, phases, sensorSet, _, mainGPIO := newTestController(cfg)

	phases.Transition(phase.DrogueDescent)
	c.drogueSince = time.Now().Add(-1 * time.Second)
	c.state = estimator.State{Altitude: cfg.LaunchSiteAltitudeM + cfg.MainDeployOffsetM + 1000}

	sensorSet.IMU.Set(sensors.AccelGyroMagnetism{AccelZ: -9.8})
	sensorSet.Baro.Set(sensors.Barometer{PressurePa: sim.PressureForAltitude(c.state.Altitude)})
	c.tick()

	if phases.Current() != phase.MainDescent {
		t.Fatalf("expected timeout to force MAIN_DESCENT, got %s", phases.Current())
	}
	if mainGPIO.Writes() == 0 {
		t.Fatal("expected the main e-match to have fired on timeout")
	}
}

func TestAbortPhasesAreQuiescent(t *testing.T) {
	cfg := config.Default()
	c, phases, _, drogueGPIO, mainGPIO := newTestController(cfg)

	phases.Transition(phase.AbortOxidizerPressure)
	c.tick()

	if drogueGPIO.Writes() != 0 || mainGPIO.Writes() != 0 {
		t.Fatal("expected no actuator commands while in an abort phase")
	}
}
