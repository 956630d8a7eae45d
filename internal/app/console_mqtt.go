package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hexgrid-labs/field_computer/internal/config"
)

func RunConsoleMQTT() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	subscribe := func(topic string, handler mqtt.MessageHandler) error {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", topic)
		return nil
	}

	if err := subscribe(cfg.TopicField, func(_ mqtt.Client, msg mqtt.Message) {
		var f FieldMsg
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("console: field unmarshal error: %v", err)
			return
		}
		fmt.Printf(
			"[FIELD] z=%.3f theta=%.2f r=%.3f energy=%6.2f active=%2d\n",
			f.Z, f.Theta, f.R, f.TotalEnergy, f.ActiveCount,
		)
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicPhase, func(_ mqtt.Client, msg mqtt.Message) {
		var p PhaseMsg
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("console: phase unmarshal error: %v", err)
			return
		}
		fmt.Printf(
			"[PHASE] %-4s tier=%d z=%.3f smoothed=%.3f vel=%+.3f stable=%t\n",
			p.Phase, p.Tier, p.Z, p.ZSmoothed, p.ZVelocity, p.Stable,
		)
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicTriad, func(_ mqtt.Client, msg mqtt.Message) {
		var t TriadMsg
		if err := json.Unmarshal(msg.Payload(), &t); err != nil {
			log.Printf("console: triad unmarshal error: %v", err)
			return
		}
		fmt.Printf(
			"[TRIAD] %-10s crossings=%d unlocked=%t value=%.3f\n",
			t.State, t.CrossingCount, t.Unlocked, t.Value,
		)
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicNetwork, func(_ mqtt.Client, msg mqtt.Message) {
		var n NetworkMsg
		if err := json.Unmarshal(msg.Payload(), &n); err != nil {
			log.Printf("console: network unmarshal error: %v", err)
			return
		}
		fmt.Printf(
			"[NET ] r=%.3f lambda=%.3f ref=%.2fHz err=%+.3f locked=%t sync=%t\n",
			n.OrderParam, n.Lambda, n.ReferenceFreq, n.PhaseError, n.PLLLocked, n.Synchronized,
		)
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicFormation, func(_ mqtt.Client, msg mqtt.Message) {
		var f FormationMsg
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("console: formation unmarshal error: %v", err)
			return
		}
		fmt.Printf(
			"[FORM ] kappa=%.3f eta=%.3f R=%2d active=%t total=%d\n",
			f.Kappa, f.Eta, f.Resonance, f.Active, f.TotalFormations,
		)
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicEvents, func(_ mqtt.Client, msg mqtt.Message) {
		var e EventMsg
		if err := json.Unmarshal(msg.Payload(), &e); err != nil {
			log.Printf("console: event unmarshal error: %v", err)
			return
		}
		fmt.Printf("[EVENT] %s z=%.3f\n", e.Kind, e.Z)
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicHealth, func(_ mqtt.Client, msg mqtt.Message) {
		var h HealthMsg
		if err := json.Unmarshal(msg.Payload(), &h); err != nil {
			log.Printf("console: health unmarshal error: %v", err)
			return
		}
		if !h.Fresh || h.EmergencyStop {
			fmt.Printf(
				"[HLTH ] init=%t fresh=%t mag=%t rate=%.0fHz violations=%d ESTOP=%t\n",
				h.Initialized, h.Fresh, h.MagHealthy, h.UpdateRateHz, h.Violations, h.EmergencyStop,
			)
		}
	}); err != nil {
		return err
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
