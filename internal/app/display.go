package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/hexgrid-labs/field_computer/internal/config"
)

// displayData holds the latest message per topic for the render loop.
type displayData struct {
	mu sync.RWMutex

	field         FieldMsg
	haveField     bool
	phase         PhaseMsg
	havePhase     bool
	triad         TriadMsg
	haveTriad     bool
	network       NetworkMsg
	haveNetwork   bool
	formation     FormationMsg
	haveFormation bool
	health        HealthMsg
	haveHealth    bool
}

func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &displayData{}

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	if err := subscribeTopics(client, cfg, data); err != nil {
		return err
	}

	// Display update loop, cycling one page per interval
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	page := 0
	for range ticker.C {
		data.mu.RLock()
		snapshot := displayData{
			field:         data.field,
			haveField:     data.haveField,
			phase:         data.phase,
			havePhase:     data.havePhase,
			triad:         data.triad,
			haveTriad:     data.haveTriad,
			network:       data.network,
			haveNetwork:   data.haveNetwork,
			formation:     data.formation,
			haveFormation: data.haveFormation,
			health:        data.health,
			haveHealth:    data.haveHealth,
		}
		data.mu.RUnlock()

		var err error
		switch page % 4 {
		case 0:
			err = drawFieldPage(dev, &snapshot)
		case 1:
			err = drawTriadPage(dev, &snapshot)
		case 2:
			err = drawNetworkPage(dev, &snapshot)
		case 3:
			err = drawHealthPage(dev, &snapshot)
		}
		if err != nil {
			log.Printf("display: error updating display: %v", err)
		}
		page++
	}

	return nil
}

func subscribeTopics(client mqtt.Client, cfg *config.Config, data *displayData) error {
	subscribe := func(topic string, handler mqtt.MessageHandler) error {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("display: subscribed to %s", topic)
		return nil
	}

	if err := subscribe(cfg.TopicField, func(_ mqtt.Client, msg mqtt.Message) {
		var m FieldMsg
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("display: field unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.field, data.haveField = m, true
		data.mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicPhase, func(_ mqtt.Client, msg mqtt.Message) {
		var m PhaseMsg
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("display: phase unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.phase, data.havePhase = m, true
		data.mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicTriad, func(_ mqtt.Client, msg mqtt.Message) {
		var m TriadMsg
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("display: triad unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.triad, data.haveTriad = m, true
		data.mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicNetwork, func(_ mqtt.Client, msg mqtt.Message) {
		var m NetworkMsg
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("display: network unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.network, data.haveNetwork = m, true
		data.mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicFormation, func(_ mqtt.Client, msg mqtt.Message) {
		var m FormationMsg
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("display: formation unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.formation, data.haveFormation = m, true
		data.mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicHealth, func(_ mqtt.Client, msg mqtt.Message) {
		var m HealthMsg
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("display: health unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.health, data.haveHealth = m, true
		data.mu.Unlock()
	}); err != nil {
		return err
	}

	return nil
}

func newDrawer() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawFieldPage(dev *ssd1306.Dev, data *displayData) error {
	img, drawer := newDrawer()

	if !data.haveField || !data.havePhase {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Field"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
	} else {
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(fmt.Sprintf("z: %.3f  T%d", data.field.Z, data.phase.Tier)))

		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("th: %.2f r:%.2f", data.field.Theta, data.field.R)))

		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("active: %d/19", data.field.ActiveCount)))

		drawer.Dot = fixed.P(0, 52)
		drawer.DrawBytes([]byte(fmt.Sprintf("phase: %s", data.phase.Phase)))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func drawTriadPage(dev *ssd1306.Dev, data *displayData) error {
	img, drawer := newDrawer()

	if !data.haveTriad {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Triad"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
	} else {
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(data.triad.State))

		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("crossings: %d", data.triad.CrossingCount)))

		drawer.Dot = fixed.P(0, 39)
		if data.triad.Unlocked {
			drawer.DrawBytes([]byte("UNLOCKED"))
		} else {
			drawer.DrawBytes([]byte(fmt.Sprintf("value: %.3f", data.triad.Value)))
		}

		if data.haveFormation {
			drawer.Dot = fixed.P(0, 52)
			drawer.DrawBytes([]byte(fmt.Sprintf("forms: %d", data.formation.TotalFormations)))
		}
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func drawNetworkPage(dev *ssd1306.Dev, data *displayData) error {
	img, drawer := newDrawer()

	if !data.haveNetwork {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Network"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
	} else {
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(fmt.Sprintf("r: %.3f", data.network.OrderParam)))

		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("ref: %.2f Hz", data.network.ReferenceFreq)))

		drawer.Dot = fixed.P(0, 39)
		locked := "---"
		if data.network.PLLLocked {
			locked = "PLL"
		}
		sync := "---"
		if data.network.Synchronized {
			sync = "SYNC"
		}
		drawer.DrawBytes([]byte(fmt.Sprintf("%s  %s", locked, sync)))

		drawer.Dot = fixed.P(0, 52)
		drawer.DrawBytes([]byte(fmt.Sprintf("mod: %.2f", data.network.Modulation)))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func drawHealthPage(dev *ssd1306.Dev, data *displayData) error {
	img, drawer := newDrawer()

	if !data.haveHealth {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Health"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
	} else {
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(fmt.Sprintf("rate: %.0f Hz", data.health.UpdateRateHz)))

		drawer.Dot = fixed.P(0, 26)
		fresh := "STALE"
		if data.health.Fresh {
			fresh = "FRESH"
		}
		mag := "---"
		if data.health.MagHealthy {
			mag = "MAG"
		}
		drawer.DrawBytes([]byte(fmt.Sprintf("%s  %s", fresh, mag)))

		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("violations: %d", data.health.Violations)))

		if data.health.EmergencyStop {
			drawer.Dot = fixed.P(0, 52)
			drawer.DrawBytes([]byte("EMERGENCY STOP"))
		}
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showSplash(dev *ssd1306.Dev) error {
	img, drawer := newDrawer()

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Field Core"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Waiting for"))

	drawer.Dot = fixed.P(25, 56)
	drawer.DrawBytes([]byte("field"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
