package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hexgrid-labs/field_computer/internal/calib"
	"github.com/hexgrid-labs/field_computer/internal/config"
	"github.com/hexgrid-labs/field_computer/internal/core"
	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
	"github.com/hexgrid-labs/field_computer/internal/sensors"
	"github.com/hexgrid-labs/field_computer/internal/triad"
)

// coreOptions maps the flat config onto engine options.
func coreOptions(cfg *config.Config) core.Options {
	opts := core.DefaultOptions()
	opts.ActivityThreshold = cfg.ActivityThreshold
	opts.PhaseAlpha = cfg.PhaseAlpha
	opts.PhaseHysteresis = cfg.PhaseHysteresis
	opts.PhaseStability = time.Duration(cfg.PhaseStabilityMS) * time.Millisecond
	opts.Triad = triad.Config{
		HighThreshold:   cfg.TriadHigh,
		LowThreshold:    cfg.TriadLow,
		PassesRequired:  cfg.TriadPasses,
		SequenceTimeout: time.Duration(cfg.TriadTimeoutMS) * time.Millisecond,
		LockoutDuration: time.Duration(cfg.TriadLockoutMS) * time.Millisecond,
		DebounceTime:    time.Duration(cfg.TriadDebounceMS) * time.Millisecond,
	}
	opts.OscBaseFreq = cfg.OscBaseFreq
	opts.OscCoupling = cfg.OscCoupling
	opts.SyncThreshold = cfg.SyncThreshold
	opts.FormationKappa = cfg.FormationKappa
	opts.FormationEta = cfg.FormationEta
	opts.FormationR = cfg.FormationR
	opts.FormationWindow = cfg.FormationWindow
	opts.FormationSigma = cfg.FormationSigma
	opts.MagDeclinationDeg = cfg.MagDeclinationDeg
	opts.SensorInterval = time.Duration(cfg.SensorInterval) * time.Millisecond
	opts.OscillatorInterval = time.Duration(cfg.OscillatorIntervalUS) * time.Microsecond
	opts.HousekeepingInterval = time.Duration(cfg.HousekeepingInterval) * time.Millisecond
	opts.MaxConservationViolations = cfg.MaxConservationViolations
	opts.EventQueueSize = cfg.EventQueueSize
	return opts
}

// RunFieldCore drives the hardware grid through the engine and publishes
// snapshots over MQTT.
func RunFieldCore() error {
	cfg := config.Get()

	grid, err := sensors.NewGridSource()
	if err != nil {
		return fmt.Errorf("fieldcore: grid init: %w", err)
	}

	var mag core.MagSource
	if cfg.MagEnabled {
		m, err := sensors.NewMagSource()
		if err != nil {
			// The reference is optional; the field runs without it.
			log.Printf("fieldcore: magnetometer unavailable: %v", err)
		} else {
			mag = m
		}
	}

	var envSrc sensors.EnvReader
	if cfg.EnvEnabled {
		e, err := sensors.NewEnvSource()
		if err != nil {
			log.Printf("fieldcore: environment sensor unavailable: %v", err)
		} else {
			envSrc = e
		}
	}

	engine := core.New(coreOptions(cfg), grid, mag)

	if file, err := calib.Load(cfg.CalibrationDir); err != nil {
		log.Printf("fieldcore: no stored calibration (%v), capturing baselines", err)
		if err := captureBaselines(engine, grid, cfg.CalibrationSamples); err != nil {
			return fmt.Errorf("fieldcore: baseline capture: %w", err)
		}
	} else {
		if baselines, ok := file.Baselines(); ok {
			engine.SetBaselines(baselines)
			log.Printf("fieldcore: loaded grid baselines (%d samples)", file.GridSampleCount)
		}
		if magCal, ok := file.MagCalibration(); ok {
			if engine.SetMagCalibration(magCal) {
				log.Println("fieldcore: loaded magnetometer calibration")
			}
		}
	}

	return runEngine(engine, cfg.MQTTClientIDCore, envSrc)
}

// captureBaselines fuses quiet frames into fresh baselines at startup. The
// pads must be untouched while it runs.
func captureBaselines(engine *core.Core, grid core.FrameSource, count int) error {
	log.Printf("fieldcore: capturing %d baseline frames, keep the pads clear", count)
	samples := make([]hexgrid.RawFrame, 0, count)
	for len(samples) < count {
		raw, err := grid.ReadFrame()
		if err != nil {
			return err
		}
		samples = append(samples, raw)
		time.Sleep(10 * time.Millisecond)
	}
	engine.CalibrateBaselines(samples)
	log.Println("fieldcore: baselines captured")
	return nil
}

// runEngine is the shared core loop behind RunFieldCore and RunProducer:
// tick fast, publish snapshots at the log interval, forward events as they
// drain.
func runEngine(engine *core.Core, clientID string, envSrc sensors.EnvReader) error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("fieldcore: connected to MQTT broker at %s", cfg.MQTTBroker)

	publish := func(topic string, v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			log.Printf("fieldcore: marshal error on %s: %v", topic, err)
			return
		}
		client.Publish(topic, 0, true, payload)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	logInterval := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	var lastPublish time.Time

	log.Println("fieldcore: starting engine loop")
	for {
		select {
		case <-sigCh:
			log.Println("fieldcore: shutting down")
			return nil
		case now := <-ticker.C:
			engine.Tick(now)

			for _, ev := range engine.DrainEvents() {
				log.Printf("fieldcore: event %s (z=%.3f)", ev.Kind, ev.Z)
				publish(cfg.TopicEvents, eventMsg(ev))
			}

			if engine.EmergencyStopped() {
				publish(cfg.TopicHealth, healthMsg(engine, now))
				return fmt.Errorf("fieldcore: emergency stop latched, %d consecutive invariant violations", cfg.MaxConservationViolations)
			}

			if now.Sub(lastPublish) >= logInterval {
				lastPublish = now
				publish(cfg.TopicField, fieldMsg(engine))
				publish(cfg.TopicPhase, phaseMsg(engine))
				publish(cfg.TopicTriad, triadMsg(engine))
				publish(cfg.TopicNetwork, networkMsg(engine))
				publish(cfg.TopicFormation, formationMsg(engine))

				health := healthMsg(engine, now)
				if envSrc != nil {
					if sample, err := envSrc.ReadEnv(); err != nil {
						log.Printf("fieldcore: env read failed: %v", err)
					} else {
						health.Env = &sample
					}
				}
				publish(cfg.TopicHealth, health)
			}
		}
	}
}
