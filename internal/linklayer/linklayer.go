// Package linklayer implements the two serial ingress paths described
// in spec.md §4.2 and §5: the ground-command byte dispatch over the
// command-link UART, and the GPS NMEA $GPGGA accumulator over the GPS
// UART. Both run as independent tasks reading from a go.bug.st/serial
// port, grounded on the teacher's internal/actuators/mavlink_protocol.go
// OpenSerialPort/ReadMessage pattern.
package linklayer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/corvus-rocketry/avionics-core/internal/control"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
)

// Command bytes, spec.md §4.2's dispatch table.
const (
	CmdLaunch    byte = 0x20
	CmdArm       byte = 0x21
	CmdAbort     byte = 0x2F
	CmdReset     byte = 0x4F
	CmdHeartbeat byte = 0x46
	CmdOpenInj   byte = 0x2A
	CmdCloseInj  byte = 0x2B
)

// InjectionValve is the narrow capability the command dispatcher needs
// for OPEN_INJ/CLOSE_INJ; satisfied by *actuators.Valve.
type InjectionValve interface {
	Open() error
	Close() error
}

// OpenPort opens portName at the given baud as 8N1, matching the
// teacher's MAVLinkProtocol.OpenSerialPort mode.
func OpenPort(portName string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return port, nil
}

// CommandIngress reads single command bytes off the ground link and
// dispatches them per spec.md §4.2's table. Each byte's precondition is
// enforced at the point of action, not at read time, so a byte that
// arrives with the wrong phase is simply ignored rather than buffered.
type CommandIngress struct {
	port   serial.Port
	phases *phase.Registry
	flags  *control.Flags
	hb     *control.HeartbeatTimer
	inj    InjectionValve
	logger *logrus.Logger
}

// NewCommandIngress creates a command-link reader.
func NewCommandIngress(port serial.Port, phases *phase.Registry, flags *control.Flags, hb *control.HeartbeatTimer, inj InjectionValve, logger *logrus.Logger) *CommandIngress {
	return &CommandIngress{port: port, phases: phases, flags: flags, hb: hb, inj: inj, logger: logger}
}

// Run reads and dispatches command bytes until ctx is cancelled or the
// port returns a persistent error.
func (c *CommandIngress) Run(ctx context.Context) error {
	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.port.SetReadTimeout(200 * time.Millisecond); err != nil {
			return fmt.Errorf("set read timeout: %w", err)
		}
		n, err := c.port.Read(buf)
		if err != nil {
			return fmt.Errorf("command link read: %w", err)
		}
		if n == 0 {
			continue
		}

		c.dispatch(buf[0])
	}
}

func (c *CommandIngress) dispatch(b byte) {
	switch b {
	case CmdLaunch:
		if c.phases.Current() == phase.Arm {
			c.flags.IncrementLaunch()
		}
	case CmdArm:
		if c.phases.Current() == phase.Prelaunch {
			c.phases.Transition(phase.Arm)
		}
	case CmdAbort:
		c.flags.SetAbort()
	case CmdReset:
		c.flags.SetReset()
	case CmdHeartbeat:
		c.hb.Reload()
	case CmdOpenInj:
		if c.phases.IsAbort() {
			if err := c.inj.Open(); err != nil && c.logger != nil {
				c.logger.WithError(err).Warn("open injection valve command failed")
			}
		}
	case CmdCloseInj:
		if c.phases.IsAbort() {
			if err := c.inj.Close(); err != nil && c.logger != nil {
				c.logger.WithError(err).Warn("close injection valve command failed")
			}
		}
	default:
		if c.logger != nil {
			c.logger.WithField("byte", fmt.Sprintf("0x%02x", b)).Debug("unrecognized command byte")
		}
	}
}

// GPSIngress accumulates NMEA text off the GPS serial channel and
// publishes only $GPGGA sentences into the GPS record, per spec.md §4.2
// and §5. Malformed frames (no $ start, overflow past maxLen) are
// dropped rather than published.
type GPSIngress struct {
	port   serial.Port
	record *sensors.Record[sensors.GPSFix]
	maxLen int
	logger *logrus.Logger
}

// NewGPSIngress creates a GPS NMEA reader. maxLen bounds the
// accumulator buffer per spec.md's configured NMEA buffer length.
func NewGPSIngress(port serial.Port, record *sensors.Record[sensors.GPSFix], maxLen int, logger *logrus.Logger) *GPSIngress {
	return &GPSIngress{port: port, record: record, maxLen: maxLen, logger: logger}
}

// Run accumulates characters until a line terminator, publishing
// well-formed $GPGGA sentences, until ctx is cancelled.
func (g *GPSIngress) Run(ctx context.Context) error {
	var line strings.Builder
	buf := make([]byte, 1)
	overflowed := false

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := g.port.SetReadTimeout(200 * time.Millisecond); err != nil {
			return fmt.Errorf("set read timeout: %w", err)
		}
		n, err := g.port.Read(buf)
		if err != nil {
			return fmt.Errorf("gps link read: %w", err)
		}
		if n == 0 {
			continue
		}

		ch := buf[0]
		if ch == '\r' {
			continue
		}
		if ch == '\n' {
			g.publish(line.String(), overflowed)
			line.Reset()
			overflowed = false
			continue
		}

		if line.Len() >= g.maxLen {
			overflowed = true
			continue
		}
		line.WriteByte(ch)
	}
}

func (g *GPSIngress) publish(sentence string, overflowed bool) {
	if overflowed || !strings.HasPrefix(sentence, "$GPGGA") {
		if g.logger != nil && sentence != "" {
			g.logger.WithField("sentence", sentence).Debug("dropped malformed NMEA frame")
		}
		return
	}
	g.record.Set(sensors.GPSFix{Raw: sentence, HasFix: true})
}
