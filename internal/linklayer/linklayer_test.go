package linklayer

import (
	"errors"
	"testing"
	"time"

	"github.com/corvus-rocketry/avionics-core/internal/control"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
)

type fakeInjectionValve struct {
	open     bool
	opens    int
	closes   int
	failOpen bool
}

func (f *fakeInjectionValve) Open() error {
	if f.failOpen {
		return errors.New("simulated failure")
	}
	f.open = true
	f.opens++
	return nil
}

func (f *fakeInjectionValve) Close() error {
	f.open = false
	f.closes++
	return nil
}

func newTestIngress() (*CommandIngress, *phase.Registry, *control.Flags, *control.HeartbeatTimer, *fakeInjectionValve) {
	phases := phase.New()
	flags := control.NewFlags()
	hb := control.NewHeartbeatTimer(3 * time.Minute)
	inj := &fakeInjectionValve{}
	c := NewCommandIngress(nil, phases, flags, hb, inj, nil)
	return c, phases, flags, hb, inj
}

func TestLaunchOnlyTakesEffectInArm(t *testing.T) {
	c, phases, flags, _, _ := newTestIngress()

	phases.Transition(phase.Prelaunch)
	c.dispatch(CmdLaunch)
	if flags.LaunchCmdCount() != 0 {
		t.Fatalf("expected launch byte ignored outside ARM, got count %d", flags.LaunchCmdCount())
	}

	phases.Transition(phase.Arm)
	c.dispatch(CmdLaunch)
	if flags.LaunchCmdCount() != 1 {
		t.Fatalf("expected launch byte counted in ARM, got count %d", flags.LaunchCmdCount())
	}
}

func TestArmOnlyTakesEffectInPrelaunch(t *testing.T) {
	c, phases, _, _, _ := newTestIngress()

	phases.Transition(phase.Burn)
	c.dispatch(CmdArm)
	if phases.Current() != phase.Burn {
		t.Fatalf("expected ARM byte ignored outside PRELAUNCH, got %s", phases.Current())
	}

	phases.Transition(phase.Prelaunch)
	c.dispatch(CmdArm)
	if phases.Current() != phase.Arm {
		t.Fatalf("expected ARM byte to transition to ARM, got %s", phases.Current())
	}
}

func TestAbortAndResetAlwaysLatch(t *testing.T) {
	c, phases, flags, _, _ := newTestIngress()
	phases.Transition(phase.Burn)

	c.dispatch(CmdAbort)
	if !flags.ConsumeAbort() {
		t.Fatal("expected abort byte to latch regardless of phase")
	}

	c.dispatch(CmdReset)
	if !flags.ConsumeReset() {
		t.Fatal("expected reset byte to latch regardless of phase")
	}
}

func TestHeartbeatReloadsTimer(t *testing.T) {
	c, _, _, hb, _ := newTestIngress()
	hb.Tick(60 * time.Second)
	before := hb.Remaining()
	c.dispatch(CmdHeartbeat)
	if hb.Remaining() <= before {
		t.Fatal("expected heartbeat byte to reload the timer")
	}
}

func TestInjectionValveCommandsOnlyTakeEffectDuringAbort(t *testing.T) {
	c, phases, _, _, inj := newTestIngress()

	phases.Transition(phase.Burn)
	c.dispatch(CmdOpenInj)
	if inj.opens != 0 {
		t.Fatal("expected OPEN_INJ ignored outside abort")
	}

	phases.Transition(phase.AbortCommandReceived)
	c.dispatch(CmdOpenInj)
	if inj.opens != 1 {
		t.Fatalf("expected OPEN_INJ to open the valve during abort, opens=%d", inj.opens)
	}

	c.dispatch(CmdCloseInj)
	if inj.closes != 1 {
		t.Fatalf("expected CLOSE_INJ to close the valve during abort, closes=%d", inj.closes)
	}
}

func TestUnknownByteIsIgnored(t *testing.T) {
	c, phases, flags, _, inj := newTestIngress()
	before := phases.Current()

	c.dispatch(0x00)

	if phases.Current() != before {
		t.Fatal("expected unknown byte to leave phase unchanged")
	}
	if flags.ConsumeAbort() || flags.ConsumeReset() {
		t.Fatal("expected unknown byte to leave flags unchanged")
	}
	if inj.opens != 0 || inj.closes != 0 {
		t.Fatal("expected unknown byte to leave actuators unchanged")
	}
}

func TestGPSIngressKeepsOnlyGPGGA(t *testing.T) {
	record := sensors.NewRecord[sensors.GPSFix]()
	g := &GPSIngress{record: record, maxLen: 82}

	g.publish("$GPGGA,123456,...", false)
	fix, ok := record.Get()
	if !ok || fix.Raw != "$GPGGA,123456,..." {
		t.Fatalf("expected GPGGA sentence published, got %+v ok=%v", fix, ok)
	}

	g.publish("$GPRMC,should,be,dropped", false)
	fix2, _ := record.Get()
	if fix2.Raw != fix.Raw {
		t.Fatal("expected non-GPGGA sentence to be dropped, not overwrite the record")
	}
}

func TestGPSIngressDropsOverflow(t *testing.T) {
	record := sensors.NewRecord[sensors.GPSFix]()
	g := &GPSIngress{record: record, maxLen: 82}

	g.publish("$GPGGA,overflowed", true)
	if _, ok := record.Get(); ok {
		t.Fatal("expected overflowed frame to be dropped")
	}
}
