// Command avionics runs the flight-control core: the flight-phase
// registry, the altitude estimator and parachute controller, the
// emergency-shutoff monitor and abort/vent controller, the engine
// controller, ground-link and GPS ingress, and the telemetry and
// ground-ops HTTP surfaces. Modeled on the teacher's
// cmd/valkyrie/main.go Initialize/Start/Shutdown structure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/corvus-rocketry/avionics-core/internal/abort"
	"github.com/corvus-rocketry/avionics-core/internal/actuators"
	"github.com/corvus-rocketry/avionics-core/internal/config"
	"github.com/corvus-rocketry/avionics-core/internal/control"
	"github.com/corvus-rocketry/avionics-core/internal/emergency"
	"github.com/corvus-rocketry/avionics-core/internal/engine"
	"github.com/corvus-rocketry/avionics-core/internal/estimator"
	"github.com/corvus-rocketry/avionics-core/internal/groundapi"
	"github.com/corvus-rocketry/avionics-core/internal/linklayer"
	"github.com/corvus-rocketry/avionics-core/internal/logging"
	"github.com/corvus-rocketry/avionics-core/internal/parachute"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
	"github.com/corvus-rocketry/avionics-core/internal/sim"
	"github.com/corvus-rocketry/avionics-core/internal/telemetry"
	"github.com/sirupsen/logrus"
)

var (
	version = "1.0.0"

	configPath   = flag.String("config", "", "flight configuration YAML path")
	httpPort     = flag.Int("http-port", 8420, "ground-ops console port")
	simMode      = flag.Bool("sim", false, "run against the simulated sensor feeder instead of real serial links")
	cmdPort      = flag.String("cmd-port", "/dev/ttyUSB0", "ground command-link serial port")
	gpsPort      = flag.String("gps-port", "/dev/ttyUSB1", "GPS NMEA serial port")
	baud         = flag.Int("baud", 9600, "serial baud rate for both links")
	jwtSecretEnv = flag.String("jwt-secret-env", "GROUND_JWT_SECRET", "environment variable holding the ground-ops JWT signing secret")
)

// Avionics wires every task together and owns their lifetimes.
type Avionics struct {
	cfg    config.FlightConfig
	logger *logrus.Logger

	phases  *phase.Registry
	flags   *control.Flags
	hb      *control.HeartbeatTimer
	sensors *sensors.Set
	acts    *actuators.Set

	parachuteCtrl *parachute.Controller
	emergencyMon  *emergency.Monitor
	abortCtrl     *abort.Controller
	engineCtrl    *engine.Controller
	streamer      *telemetry.Streamer
	groundSrv     *groundapi.Server

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogOutput)
	logger.WithField("version", version).Info("avionics core starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	av := &Avionics{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
	av.initialize()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := av.start(); err != nil {
		logger.WithError(err).Fatal("failed to start avionics core")
	}

	logger.Info("avionics core operational")
	<-sigChan
	logger.Info("shutdown signal received")

	av.shutdown()
	logger.Info("avionics core shutdown complete")
}

func (a *Avionics) initialize() {
	a.phases = phase.New()
	a.flags = control.NewFlags()
	a.hb = control.NewHeartbeatTimer(a.cfg.HeartbeatTimeout)
	a.sensors = sensors.NewSet()

	// Real GPIO drivers are out of scope (spec.md §1); sim.GPIO records
	// writes in-process regardless of --sim, which only controls
	// whether sensor input is synthetic.
	vent := sim.NewGPIO()
	injection := sim.NewGPIO()
	drogue := sim.NewGPIO()
	mainChute := sim.NewGPIO()
	a.acts = actuators.NewSet(vent, injection, drogue, mainChute, a.logger)

	filter := estimator.New(estimator.DefaultGains(), a.cfg.LaunchSiteAltitudeM)
	a.parachuteCtrl = parachute.New(a.phases, a.sensors, filter, a.acts.Drogue, a.acts.Main, a.cfg, a.logger)
	a.emergencyMon = emergency.New(a.phases, a.flags, a.hb, a.sensors, a.cfg, a.logger)
	a.abortCtrl = abort.New(a.phases, a.sensors, a.acts.VentValve, a.cfg, a.logger)
	a.engineCtrl = engine.New(a.phases, a.flags, a.sensors, a.acts.InjectionValve, a.cfg, a.logger)
	a.streamer = telemetry.NewStreamer(a.logger)

	secret := []byte(os.Getenv(*jwtSecretEnv))
	if len(secret) == 0 {
		secret = []byte("development-only-insecure-secret")
		a.logger.Warn("ground-ops JWT secret not set, using an insecure development default")
	}
	a.groundSrv = groundapi.New(a.phases, a.flags, a.hb, a.parachuteCtrl.State, secret, a.logger)
}

func (a *Avionics) start() error {
	a.runTask(func(ctx context.Context) error { return a.parachuteCtrl.Run(ctx) })
	a.runTask(func(ctx context.Context) error { return a.emergencyMon.Run(ctx) })
	a.runTask(func(ctx context.Context) error { return a.abortCtrl.Run(ctx) })
	a.runTask(func(ctx context.Context) error { return a.engineCtrl.Run(ctx) })
	a.runTask(func(ctx context.Context) error { return a.streamer.Run(ctx) })
	a.runTask(func(ctx context.Context) error { a.broadcastTelemetry(ctx); return nil })

	if *simMode {
		profile := sim.NewFlightProfile(3, 40, a.cfg.LaunchSiteAltitudeM)
		feeder := sim.NewFeeder(a.sensors, profile, a.cfg.ParachuteTick)
		a.runTask(func(ctx context.Context) error { return feeder.Run(ctx) })
		a.logger.Warn("running with simulated sensors; command and GPS serial links are not opened")
	} else {
		cmdSerial, err := linklayer.OpenPort(*cmdPort, *baud)
		if err != nil {
			return fmt.Errorf("open command link: %w", err)
		}
		ingress := linklayer.NewCommandIngress(cmdSerial, a.phases, a.flags, a.hb, a.acts.InjectionValve, a.logger)
		a.runTask(func(ctx context.Context) error { return ingress.Run(ctx) })

		// Outbound telemetry (spec.md §6) shares the same bidirectional
		// ground-link UART that ingress just started reading commands from.
		transmitter := telemetry.NewTransmitter(cmdSerial, a.cfg.TelemetryTick, a.currentFrame, a.logger)
		a.runTask(func(ctx context.Context) error { return transmitter.Run(ctx) })

		gpsSerial, err := linklayer.OpenPort(*gpsPort, *baud)
		if err != nil {
			return fmt.Errorf("open GPS link: %w", err)
		}
		gpsIngress := linklayer.NewGPSIngress(gpsSerial, a.sensors.GPS, a.cfg.NMEABufferLen, a.logger)
		a.runTask(func(ctx context.Context) error { return gpsIngress.Run(ctx) })
	}

	mux := a.groundSrv.Mux()
	mux.HandleFunc("/ws/telemetry", a.streamer.HandleWebSocket)
	a.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", *httpPort), Handler: mux}

	go func() {
		a.logger.WithField("port", *httpPort).Info("ground-ops console listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.WithError(err).Error("ground-ops console stopped")
		}
	}()

	return nil
}

func (a *Avionics) runTask(fn func(ctx context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(a.ctx); err != nil {
			a.logger.WithError(err).Error("task exited with error")
		}
	}()
}

func (a *Avionics) broadcastTelemetry(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ParachuteTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := a.currentFrame()
			current := a.phases.Current()
			a.streamer.Broadcast(&telemetry.LiveMessage{
				Timestamp:    frame.Timestamp,
				Phase:        current.String(),
				AltitudeM:    frame.Estimate.Altitude,
				VelocityMS:   frame.Estimate.Velocity,
				Acceleration: frame.Estimate.Acceleration,
				OxTankPa:     frame.OxTankPa,
				ChamberPa:    frame.ChamberPa,
				GPSFix:       frame.GPS.Raw,
				BlinkCount:   current.BlinkCount(),
			})
		}
	}
}

// currentFrame snapshots every field spec.md §6 requires in the
// outbound ground-link telemetry frame (and, via broadcastTelemetry,
// the WebSocket live feed): current phase, estimator state, every
// sensor record, and both tank/chamber pressures.
func (a *Avionics) currentFrame() telemetry.Frame {
	imu, _ := a.sensors.IMU.Get()
	baro, _ := a.sensors.Baro.Get()
	oxTank, _ := a.sensors.OxTank.Get()
	chamber, _ := a.sensors.Chamber.Get()
	gps, _ := a.sensors.GPS.Get()

	return telemetry.Frame{
		Timestamp: time.Now(),
		Phase:     a.phases.Current(),
		Estimate:  a.parachuteCtrl.State(),
		IMU:       imu,
		Baro:      baro,
		OxTankPa:  oxTank.PressurePa,
		ChamberPa: chamber.PressurePa,
		GPS:       gps,
	}
}

func (a *Avionics) shutdown() {
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Error("ground-ops console shutdown error")
		}
	}

	a.wg.Wait()
}
