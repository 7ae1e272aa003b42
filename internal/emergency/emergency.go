// Package emergency implements the emergency-shutoff monitor (spec.md
// §4.5): heartbeat timeout, ground-commanded abort, oxidizer
// over-pressure, and reset-to-prelaunch, each checked once per tick in
// priority order. Grounded on the teacher's failsafe.EmergencySystem
// Monitor/checkSystemHealth ticker shape.
package emergency

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvus-rocketry/avionics-core/internal/config"
	"github.com/corvus-rocketry/avionics-core/internal/control"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
)

// Monitor runs the emergency-shutoff loop.
type Monitor struct {
	phases  *phase.Registry
	flags   *control.Flags
	hb      *control.HeartbeatTimer
	sensors *sensors.Set
	cfg     config.FlightConfig
	logger  *logrus.Logger
}

// New creates an emergency monitor.
func New(phases *phase.Registry, flags *control.Flags, hb *control.HeartbeatTimer, sensorSet *sensors.Set, cfg config.FlightConfig, logger *logrus.Logger) *Monitor {
	return &Monitor{phases: phases, flags: flags, hb: hb, sensors: sensorSet, cfg: cfg, logger: logger}
}

// Run ticks the monitor at cfg.ParachuteTick (spec.md §4.5 shares the
// parachute controller's tick period) until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ParachuteTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick implements spec.md §4.5's four checks, in order.
func (m *Monitor) tick() {
	if m.hb.Tick(m.cfg.ParachuteTick) {
		m.phases.Transition(phase.AbortCommunicationError)
		if m.logger != nil {
			m.logger.Warn("heartbeat timeout, entering ABORT_COMMUNICATION_ERROR")
		}
	}

	if m.flags.ConsumeAbort() {
		m.phases.Transition(phase.AbortCommandReceived)
		if m.logger != nil {
			m.logger.Warn("ground abort command received")
		}
	}

	if reading, ok := m.sensors.OxTank.Get(); ok && reading.PressurePa > m.cfg.OxidizerPressureCeilingPa {
		m.phases.Transition(phase.AbortOxidizerPressure)
		if m.logger != nil {
			m.logger.WithField("pressure_pa", reading.PressurePa).Error("oxidizer tank over pressure ceiling")
		}
	}

	if m.flags.ConsumeReset() {
		m.hb.Reload()
		m.flags.ResetLaunchCmdCount()
		m.phases.Transition(phase.Prelaunch)
		if m.logger != nil {
			m.logger.Info("avionics reset, returning to PRELAUNCH")
		}
	}
}
