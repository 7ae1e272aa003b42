// Package engine implements the engine controller described in
// spec.md §4.7: holds the injection valve closed through
// PRELAUNCH/ARM, opens it and transitions to BURN once the launch
// handshake is satisfied, and moves BURN to COAST on a sustained
// combustion-chamber pressure drop or once the burn timeout elapses; it
// never requests an abort. Grounded on
// the original firmware's main.c LAUNCH-byte/ARM-guard dispatch and
// the teacher's capability-interface style for actuators.
package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvus-rocketry/avionics-core/internal/actuators"
	"github.com/corvus-rocketry/avionics-core/internal/config"
	"github.com/corvus-rocketry/avionics-core/internal/control"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
)

// Controller runs the arm-to-launch handshake and the BURN-phase
// chamber-pressure watchdog.
type Controller struct {
	phases  *phase.Registry
	flags   *control.Flags
	sensors *sensors.Set
	inj     *actuators.Valve
	cfg     config.FlightConfig
	logger  *logrus.Logger

	burnSince        time.Time
	lowPressureTicks int
}

// New creates an engine controller.
func New(phases *phase.Registry, flags *control.Flags, sensorSet *sensors.Set, inj *actuators.Valve, cfg config.FlightConfig, logger *logrus.Logger) *Controller {
	return &Controller{phases: phases, flags: flags, sensors: sensorSet, inj: inj, cfg: cfg, logger: logger}
}

// Run ticks the controller at cfg.ParachuteTick until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.ParachuteTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	switch c.phases.Current() {
	case phase.Prelaunch, phase.Arm:
		if err := c.inj.Close(); err != nil && c.logger != nil {
			c.logger.WithError(err).Error("injection valve close failed")
		}

		if c.phases.Current() == phase.Arm && c.flags.LaunchCmdCount() >= c.cfg.LaunchCmdThreshold {
			if err := c.inj.Open(); err != nil && c.logger != nil {
				c.logger.WithError(err).Error("injection valve open failed")
			}
			c.flags.ResetLaunchCmdCount()
			c.burnSince = time.Now()
			c.lowPressureTicks = 0
			c.phases.Transition(phase.Burn)
			if c.logger != nil {
				c.logger.Info("launch handshake satisfied, transitioning to BURN")
			}
		}

	case phase.Burn:
		reading, ok := c.sensors.Chamber.Get()
		if ok && reading.PressurePa < c.cfg.ChamberPressureAbortFloorPa {
			c.lowPressureTicks++
		} else {
			c.lowPressureTicks = 0
		}

		if c.lowPressureTicks >= c.cfg.ChamberPressureDropTicks {
			c.phases.Transition(phase.Coast)
			if c.logger != nil {
				c.logger.Info("sustained chamber pressure drop, transitioning to COAST")
			}
			return
		}

		if c.cfg.BurnTimeout > 0 && time.Since(c.burnSince) > c.cfg.BurnTimeout {
			c.phases.Transition(phase.Coast)
			if c.logger != nil {
				c.logger.Info("burn timeout elapsed, transitioning to COAST")
			}
		}

	default:
		// abort variants and descent phases: engine controller has
		// nothing to command.
	}
}
