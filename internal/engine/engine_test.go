package engine

import (
	"testing"
	"time"

	"github.com/corvus-rocketry/avionics-core/internal/actuators"
	"github.com/corvus-rocketry/avionics-core/internal/config"
	"github.com/corvus-rocketry/avionics-core/internal/control"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
	"github.com/corvus-rocketry/avionics-core/internal/sim"
)

func newTestController(cfg config.FlightConfig) (*Controller, *phase.Registry, *control.Flags, *sensors.Set, *sim.GPIO) {
	phases := phase.New()
	flags := control.NewFlags()
	sensorSet := sensors.NewSet()
	injGPIO := sim.NewGPIO()
	inj := actuators.NewValve(actuators.NewLine("injection", injGPIO, nil))
	c := New(phases, flags, sensorSet, inj, cfg, nil)
	return c, phases, flags, sensorSet, injGPIO
}

func TestInjectionValveHeldClosedInPrelaunchAndArm(t *testing.T) {
	cfg := config.Default()
	c, phases, _, _, injGPIO := newTestController(cfg)

	phases.Transition(phase.Prelaunch)
	c.tick()
	phases.Transition(phase.Arm)
	c.tick()

	if injGPIO.High() {
		t.Fatal("expected injection valve closed through prelaunch and arm")
	}
}

func TestLaunchHandshakeOpensValveAndEntersBurn(t *testing.T) {
	cfg := config.Default()
	c, phases, flags, _, injGPIO := newTestController(cfg)

	phases.Transition(phase.Arm)
	flags.IncrementLaunch()
	c.tick()

	if phases.Current() != phase.Burn {
		t.Fatalf("expected BURN after launch handshake, got %s", phases.Current())
	}
	if !injGPIO.High() {
		t.Fatal("expected injection valve open once in BURN")
	}
	if flags.LaunchCmdCount() != 0 {
		t.Fatalf("expected launch counter reset after consuming the handshake, got %d", flags.LaunchCmdCount())
	}
}

func TestLaunchHandshakeIgnoredBelowThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.LaunchCmdThreshold = 2
	c, phases, flags, _, _ := newTestController(cfg)

	phases.Transition(phase.Arm)
	flags.IncrementLaunch()
	c.tick()

	if phases.Current() != phase.Arm {
		t.Fatalf("expected to remain in ARM below the launch threshold, got %s", phases.Current())
	}
}

func TestSustainedChamberPressureDropTransitionsToCoast(t *testing.T) {
	cfg := config.Default()
	cfg.ChamberPressureDropTicks = 3
	c, phases, _, sensorSet, _ := newTestController(cfg)

	phases.Transition(phase.Burn)
	c.burnSince = time.Now()

	for i := 0; i < 3; i++ {
		sensorSet.Chamber.Set(sensors.CombustionChamberPressure{PressurePa: cfg.ChamberPressureAbortFloorPa - 1})
		c.tick()
	}

	if phases.Current() != phase.Coast {
		t.Fatalf("expected COAST after sustained chamber pressure drop, got %s", phases.Current())
	}
}

func TestTransientChamberPressureDropDoesNotTransition(t *testing.T) {
	cfg := config.Default()
	cfg.ChamberPressureDropTicks = 3
	c, phases, _, sensorSet, _ := newTestController(cfg)

	phases.Transition(phase.Burn)
	c.burnSince = time.Now()

	sensorSet.Chamber.Set(sensors.CombustionChamberPressure{PressurePa: cfg.ChamberPressureAbortFloorPa - 1})
	c.tick()
	sensorSet.Chamber.Set(sensors.CombustionChamberPressure{PressurePa: cfg.ChamberPressureAbortFloorPa + 1})
	c.tick()
	sensorSet.Chamber.Set(sensors.CombustionChamberPressure{PressurePa: cfg.ChamberPressureAbortFloorPa - 1})
	c.tick()

	if phases.Current() != phase.Burn {
		t.Fatalf("expected to remain in BURN when the pressure drop is not sustained, got %s", phases.Current())
	}
	if c.lowPressureTicks != 1 {
		t.Fatalf("expected the low-pressure counter reset by the intervening good tick, got %d", c.lowPressureTicks)
	}
}

func TestBurnTimeoutFallbackTransitionsToCoast(t *testing.T) {
	cfg := config.Default()
	cfg.BurnTimeout = 10 * time.Millisecond
	c, phases, _, _, _ := newTestController(cfg)

	phases.Transition(phase.Burn)
	c.burnSince = time.Now().Add(-1 * time.Second)
	c.tick()

	if phases.Current() != phase.Coast {
		t.Fatalf("expected COAST once the burn timeout elapses, got %s", phases.Current())
	}
}
