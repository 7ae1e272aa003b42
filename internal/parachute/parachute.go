// Package parachute implements the apogee-detection and
// parachute-deployment super-loop (spec.md §4.4), grounded directly on
// the original firmware's parachutesControlTask phase dispatch. Unlike
// that firmware, a single estimator.State is threaded explicitly
// through every tick; there is no file-scope kalmanFilterState shadow,
// which is what let detectMainDeploymentAltitude read a stale copy
// instead of the state its caller had just computed.
package parachute

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvus-rocketry/avionics-core/internal/actuators"
	"github.com/corvus-rocketry/avionics-core/internal/config"
	"github.com/corvus-rocketry/avionics-core/internal/estimator"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
)

// Controller runs the phase-aware parachute loop at the configured
// tick period, tracking a single authoritative estimator.State across
// ticks (spec.md §4.4).
type Controller struct {
	phases  *phase.Registry
	sensors *sensors.Set
	filter  *estimator.Filter
	drogue  *actuators.EMatch
	main    *actuators.EMatch
	cfg     config.FlightConfig
	logger  *logrus.Logger

	state        estimator.State
	numDescents  int
	drogueSince  time.Time
}

// New creates a parachute controller. The filter state is initialized
// to (launch_site_altitude, 0, 0) before the loop begins, per spec.md §3.
func New(phases *phase.Registry, sensorSet *sensors.Set, filter *estimator.Filter, drogue, main *actuators.EMatch, cfg config.FlightConfig, logger *logrus.Logger) *Controller {
	return &Controller{
		phases:  phases,
		sensors: sensorSet,
		filter:  filter,
		drogue:  drogue,
		main:    main,
		cfg:     cfg,
		logger:  logger,
		state:   estimator.NewState(cfg.LaunchSiteAltitudeM),
	}
}

// State returns the controller's current altitude/velocity/acceleration
// estimate, useful to telemetry encoders.
func (c *Controller) State() estimator.State {
	return c.state
}

// Run ticks the controller at cfg.ParachuteTick until ctx is cancelled,
// dispatching on the current flight phase exactly as
// parachutesControlTask's switch statement does.
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
	dt := c.cfg.ParachuteTick.Seconds()

	switch c.phases.Current() {
	case phase.Prelaunch, phase.Arm:
		// idle: ascent has not begun.
		return

	case phase.Burn:
		c.updateEstimate(dt)
		return

	case phase.Coast:
		oldAltitude := c.state.Altitude
		if !c.updateEstimate(dt) {
			// Either sample was missing this tick: prior state retained,
			// no descent-count side effects (spec.md §4.3).
			return
		}

		if c.state.Altitude < oldAltitude {
			c.numDescents++
		} else {
			c.numDescents = 0
		}

		if c.numDescents >= c.cfg.DescentsToApogee {
			var err error
			if c.cfg.PulseEMatches {
				err = c.drogue.PulseFire(c.cfg.EMatchPulseDuration)
			} else {
				err = c.drogue.Fire()
			}
			if err != nil && c.logger != nil {
				c.logger.WithError(err).Error("drogue e-match fire failed")
			}
			c.drogueSince = time.Now()
			c.phases.Transition(phase.DrogueDescent)
			if c.logger != nil {
				c.logger.WithField("altitude_m", c.state.Altitude).Info("apogee detected, drogue deployed")
			}
		}
		return

	case phase.DrogueDescent:
		c.updateEstimate(dt)

		mainDeployAltitude := c.cfg.LaunchSiteAltitudeM + c.cfg.MainDeployOffsetM
		timedOut := time.Since(c.drogueSince) > c.cfg.MainTimeout

		if c.state.Altitude < mainDeployAltitude || timedOut {
			var err error
			if c.cfg.PulseEMatches {
				err = c.main.PulseFire(c.cfg.EMatchPulseDuration)
			} else {
				err = c.main.Fire()
			}
			if err != nil && c.logger != nil {
				c.logger.WithError(err).Error("main e-match fire failed")
			}
			c.phases.Transition(phase.MainDescent)
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{
					"altitude_m": c.state.Altitude,
					"timed_out":  timedOut,
				}).Info("main deploy altitude reached")
			}
		}
		return

	case phase.MainDescent:
		// quiescent: recovery underway, nothing left to command.
		return

	default:
		// abort variants: do nothing, per the original firmware.
		return
	}
}

// updateEstimate advances the controller's estimator state by one tick
// and reports whether it actually ran (false when either sample was
// missing, in which case the prior state is left untouched).
func (c *Controller) updateEstimate(dt float64) bool {
	accel, accelOK := c.sensors.IMU.Get()
	baro, baroOK := c.sensors.Baro.Get()

	next, ok := c.filter.Step(c.state, dt, accel.AccelZ, accelOK, baro.PressurePa, baroOK)
	c.state = next
	return ok
}
