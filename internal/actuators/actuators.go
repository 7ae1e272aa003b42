// Package actuators provides idempotent open/close operations on the
// vent valve, injection valve, drogue e-match, and main e-match
// (spec.md §4 component table). GPIO writes themselves are out of scope
// (spec.md §1); actuators here drive a capability interface so the core
// compiles and tests on host hardware with a simulator backing it
// (Design Notes §9).
package actuators

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GPIOWriter is the capability interface a real board's HAL/driver
// layer (out of scope here) must implement for each actuator line.
type GPIOWriter interface {
	// Set drives the line active-high (true) or low (false).
	Set(high bool) error
}

// Line is an idempotent digital-output actuator: repeated Open/Close
// calls while already in that state are no-ops on the GPIO, matching
// the "idempotent" requirement of spec.md's component table.
type Line struct {
	mu       sync.Mutex
	name     string
	writer   GPIOWriter
	logger   *logrus.Logger
	high     bool
	everHigh bool
}

// NewLine creates a Line backed by writer.
func NewLine(name string, writer GPIOWriter, logger *logrus.Logger) *Line {
	return &Line{name: name, writer: writer, logger: logger}
}

// Open drives the line high. Idempotent: a second call while already
// high does not re-write the GPIO.
func (l *Line) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.high {
		return nil
	}
	if err := l.writer.Set(true); err != nil {
		return err
	}
	l.high = true
	l.everHigh = true
	if l.logger != nil {
		l.logger.WithField("line", l.name).Info("actuator opened")
	}
	return nil
}

// Close drives the line low. Idempotent: a second call while already
// low does not re-write the GPIO.
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.high {
		return nil
	}
	if err := l.writer.Set(false); err != nil {
		return err
	}
	l.high = false
	if l.logger != nil {
		l.logger.WithField("line", l.name).Info("actuator closed")
	}
	return nil
}

// IsOpen reports the current commanded state.
func (l *Line) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high
}

// EverFired reports whether this line was ever driven high (spec.md §8
// invariant 3: main implies a prior drogue fire — callers compare
// EverFired() across the drogue and main lines).
func (l *Line) EverFired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.everHigh
}

// EMatch is a pyrotechnic initiator line. Per spec.md §4.4 / §9, the
// current (and original firmware's) behavior latches the line high for
// the remainder of flight; PulseFire offers the alternative bounded
// pulse the electrical team has not yet confirmed as safer (SPEC_FULL
// Open Question 2), gated behind config so the default stays latch-high.
type EMatch struct {
	line *Line
}

// NewEMatch wraps a Line as a pyrotechnic initiator.
func NewEMatch(line *Line) *EMatch {
	return &EMatch{line: line}
}

// Fire latches the e-match high. Idempotent.
func (e *EMatch) Fire() error {
	return e.line.Open()
}

// PulseFire drives the e-match high for duration then low. Not used by
// default (spec.md §4.4 keeps the latch-high behavior); available for
// a configuration that opts into bounded pulses.
func (e *EMatch) PulseFire(duration time.Duration) error {
	if err := e.line.Open(); err != nil {
		return err
	}
	time.AfterFunc(duration, func() {
		_ = e.line.Close()
	})
	return nil
}

// Fired reports whether this e-match has ever been commanded high.
func (e *EMatch) Fired() bool {
	return e.line.EverFired()
}

// Valve is a solenoid valve line (vent or injection).
type Valve struct {
	line *Line
}

// NewValve wraps a Line as a solenoid valve.
func NewValve(line *Line) *Valve {
	return &Valve{line: line}
}

// Open opens the valve. Idempotent.
func (v *Valve) Open() error { return v.line.Open() }

// Close closes the valve. Idempotent.
func (v *Valve) Close() error { return v.line.Close() }

// IsOpen reports the current commanded state.
func (v *Valve) IsOpen() bool { return v.line.IsOpen() }

// Set is the process-lifetime set of actuators, each owned by exactly
// one commanding task per spec.md §5 ("actuator GPIOs are effectively
// owned by a single commanding task each"): the parachute controller
// owns the chute e-matches; the abort controller owns the vent valve;
// the injection valve is shared between the engine controller (opens it
// at launch) and explicit ground OPEN_INJ/CLOSE_INJ commands, which is
// the one actuator spec.md's own interface table allows two writers for.
type Set struct {
	VentValve      *Valve
	InjectionValve *Valve
	Drogue         *EMatch
	Main           *EMatch
}

// NewSet builds a Set from four GPIOWriter backends.
func NewSet(vent, injection, drogue, main GPIOWriter, logger *logrus.Logger) *Set {
	return &Set{
		VentValve:      NewValve(NewLine("vent_valve", vent, logger)),
		InjectionValve: NewValve(NewLine("injection_valve", injection, logger)),
		Drogue:         NewEMatch(NewLine("drogue_ematch", drogue, logger)),
		Main:           NewEMatch(NewLine("main_ematch", main, logger)),
	}
}
