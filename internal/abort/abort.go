// Package abort implements the vent-cycle controller activated by any
// abort phase variant (spec.md §4.6), grounded on Inc/ValveControl.h's
// MAX_DURATION_VENT_VALVE_OPEN / REQUIRED_DURATION_VENT_VALVE_CLOSED
// constants and adapted from the teacher's Procedure/ProcedureStep
// sequencing idiom in internal/failsafe into a repeating open/close
// cycle instead of a one-shot step list.
package abort

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvus-rocketry/avionics-core/internal/actuators"
	"github.com/corvus-rocketry/avionics-core/internal/config"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
)

// cyclePhase tracks where the controller is within one vent cycle.
type cyclePhase int

const (
	phaseIdle cyclePhase = iota
	phaseVenting
	phaseHolding
)

// Controller runs the vent cycle described in spec.md §4.6: open the
// vent valve for up to VentMaxOpen while monitoring tank pressure;
// once pressure falls below the safe threshold, close and hold for at
// least VentMinClosed before considering another open cycle. Cycles
// repeat until the phase leaves abort.
type Controller struct {
	phases  *phase.Registry
	sensors *sensors.Set
	vent    *actuators.Valve
	cfg     config.FlightConfig
	logger  *logrus.Logger

	step  cyclePhase
	since time.Time
}

// New creates an abort/vent controller.
func New(phases *phase.Registry, sensorSet *sensors.Set, vent *actuators.Valve, cfg config.FlightConfig, logger *logrus.Logger) *Controller {
	return &Controller{phases: phases, sensors: sensorSet, vent: vent, cfg: cfg, logger: logger, step: phaseIdle}
}

// Run ticks the controller at cfg.ParachuteTick until ctx is
// cancelled. It is a no-op outside any abort phase and resets to an
// idle, closed-valve state when it observes a phase leaving abort.
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
	if !c.phases.IsAbort() {
		if c.step != phaseIdle {
			if err := c.vent.Close(); err != nil && c.logger != nil {
				c.logger.WithError(err).Error("vent valve close on abort exit failed")
			}
			c.step = phaseIdle
		}
		return
	}

	switch c.step {
	case phaseIdle:
		c.startVenting()

	case phaseVenting:
		reading, ok := c.sensors.OxTank.Get()
		pressureSafe := ok && reading.PressurePa < c.cfg.VentSafePressurePa
		timedOut := time.Since(c.since) >= c.cfg.VentMaxOpen

		if pressureSafe || timedOut {
			if err := c.vent.Close(); err != nil && c.logger != nil {
				c.logger.WithError(err).Error("vent valve close failed")
			}
			c.step = phaseHolding
			c.since = time.Now()
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{
					"pressure_safe": pressureSafe,
					"timed_out":     timedOut,
				}).Info("vent valve closed")
			}
		}

	case phaseHolding:
		if time.Since(c.since) >= c.cfg.VentMinClosed {
			c.startVenting()
		}
	}
}

func (c *Controller) startVenting() {
	if err := c.vent.Open(); err != nil && c.logger != nil {
		c.logger.WithError(err).Error("vent valve open failed")
	}
	c.step = phaseVenting
	c.since = time.Now()
	if c.logger != nil {
		c.logger.Info("vent valve opened")
	}
}
