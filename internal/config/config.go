package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDCore    string
	MQTTClientIDMock    string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string
	MQTTClientIDDisplay string

	// Topics
	TopicField     string
	TopicPhase     string
	TopicTriad     string
	TopicNetwork   string
	TopicFormation string
	TopicHealth    string
	TopicEvents    string

	// Grid Hardware
	GridI2CBus   string
	GridI2CAddrA uint16
	GridI2CAddrB uint16
	// MPR121 touch/release detection thresholds (counts)
	GridTouchThreshold   byte
	GridReleaseThreshold byte

	// Magnetometer
	MagEnabled        bool
	MagI2CAddr        uint16
	MagDeclinationDeg float64

	// Environment sensor
	EnvEnabled bool
	EnvI2CAddr uint16

	// Fusion
	ActivityThreshold float64

	// Phase estimation
	PhaseAlpha       float64
	PhaseHysteresis  float64
	PhaseStabilityMS int

	// Triad sequencer
	TriadHigh       float64
	TriadLow        float64
	TriadPasses     int
	TriadTimeoutMS  int
	TriadLockoutMS  int
	TriadDebounceMS int

	// Oscillator network
	OscBaseFreq   float64
	OscCoupling   float64
	SyncThreshold float64

	// Formation detection
	FormationKappa  float64
	FormationEta    float64
	FormationR      int
	FormationWindow int
	FormationSigma  float64

	// Health
	MaxConservationViolations int
	EventQueueSize            int

	// Timing
	SensorInterval       int // milliseconds
	OscillatorIntervalUS int // microseconds
	HousekeepingInterval int // milliseconds
	ConsoleLogInterval   int // milliseconds

	// Calibration
	CalibrationDir     string
	CalibrationSamples int

	// Web Server
	WebServerPort int

	// Display
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for the singleton:
//   - globalConfig is unexported so other packages cannot modify it without
//     going through InitGlobal/Get.
//   - configOnce ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu protects concurrent access: write lock for initialization,
//     read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults returns a Config prefilled with the stock tuning, so a minimal
// file only has to name the broker and anything it wants to override.
func defaults() *Config {
	return &Config{
		MQTTClientIDCore:    "field-core",
		MQTTClientIDMock:    "field-mock-producer",
		MQTTClientIDConsole: "field-console",
		MQTTClientIDWeb:     "field-web",
		MQTTClientIDDisplay: "field-display",

		TopicField:     "field/frame",
		TopicPhase:     "field/phase",
		TopicTriad:     "field/triad",
		TopicNetwork:   "field/network",
		TopicFormation: "field/formation",
		TopicHealth:    "field/health",
		TopicEvents:    "field/events",

		GridI2CBus:           "1",
		GridI2CAddrA:         0x5A,
		GridI2CAddrB:         0x5B,
		GridTouchThreshold:   12,
		GridReleaseThreshold: 6,

		MagI2CAddr: 0x1E,

		EnvI2CAddr: 0x76,

		ActivityThreshold: 0.3,

		PhaseAlpha:       0.1,
		PhaseHysteresis:  0.02,
		PhaseStabilityMS: 500,

		TriadHigh:       0.85,
		TriadLow:        0.82,
		TriadPasses:     3,
		TriadTimeoutMS:  10000,
		TriadLockoutMS:  5000,
		TriadDebounceMS: 100,

		OscBaseFreq:   1.0,
		OscCoupling:   0.3514,
		SyncThreshold: 0.9,

		FormationKappa:  0.92,
		FormationEta:    0.618,
		FormationR:      7,
		FormationWindow: 32,
		FormationSigma:  0.1667,

		MaxConservationViolations: 10,
		EventQueueSize:            64,

		SensorInterval:       10,
		OscillatorIntervalUS: 1000,
		HousekeepingInterval: 1000,
		ConsoleLogInterval:   1000,

		CalibrationDir:     "./calibration",
		CalibrationSamples: 64,

		WebServerPort: 8080,

		DisplayUpdateInterval: 250,
	}
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CORE":
		c.MQTTClientIDCore = value
	case "MQTT_CLIENT_ID_MOCK":
		c.MQTTClientIDMock = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_FIELD":
		c.TopicField = value
	case "TOPIC_PHASE":
		c.TopicPhase = value
	case "TOPIC_TRIAD":
		c.TopicTriad = value
	case "TOPIC_NETWORK":
		c.TopicNetwork = value
	case "TOPIC_FORMATION":
		c.TopicFormation = value
	case "TOPIC_HEALTH":
		c.TopicHealth = value
	case "TOPIC_EVENTS":
		c.TopicEvents = value

	// Grid hardware
	case "GRID_I2C_BUS":
		c.GridI2CBus = value
	case "GRID_I2C_ADDR_A":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid GRID_I2C_ADDR_A %q: %w", value, err)
		}
		c.GridI2CAddrA = uint16(addr)
	case "GRID_I2C_ADDR_B":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid GRID_I2C_ADDR_B %q: %w", value, err)
		}
		c.GridI2CAddrB = uint16(addr)
	case "GRID_TOUCH_THRESHOLD":
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GRID_TOUCH_THRESHOLD %q: %w", value, err)
		}
		if val < 0 || val > 255 {
			return fmt.Errorf("GRID_TOUCH_THRESHOLD must be 0-255, got %d", val)
		}
		c.GridTouchThreshold = byte(val)
	case "GRID_RELEASE_THRESHOLD":
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GRID_RELEASE_THRESHOLD %q: %w", value, err)
		}
		if val < 0 || val > 255 {
			return fmt.Errorf("GRID_RELEASE_THRESHOLD must be 0-255, got %d", val)
		}
		c.GridReleaseThreshold = byte(val)

	// Magnetometer
	case "MAG_ENABLED":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid MAG_ENABLED %q: %w", value, err)
		}
		c.MagEnabled = enabled
	case "MAG_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid MAG_I2C_ADDR %q: %w", value, err)
		}
		c.MagI2CAddr = uint16(addr)
	case "ENV_ENABLED":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid ENV_ENABLED %q: %w", value, err)
		}
		c.EnvEnabled = enabled
	case "ENV_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid ENV_I2C_ADDR %q: %w", value, err)
		}
		c.EnvI2CAddr = uint16(addr)
	case "MAG_DECLINATION_DEG":
		deg, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MAG_DECLINATION_DEG %q: %w", value, err)
		}
		if deg < -180 || deg > 180 {
			return fmt.Errorf("MAG_DECLINATION_DEG must be -180..180, got %v", deg)
		}
		c.MagDeclinationDeg = deg

	// Fusion
	case "ACTIVITY_THRESHOLD":
		v, err := parseUnitFloat(key, value)
		if err != nil {
			return err
		}
		c.ActivityThreshold = v

	// Phase estimation
	case "PHASE_ALPHA":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PHASE_ALPHA %q: %w", value, err)
		}
		if v < 0.01 || v > 1 {
			return fmt.Errorf("PHASE_ALPHA must be 0.01-1, got %v", v)
		}
		c.PhaseAlpha = v
	case "PHASE_HYSTERESIS":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PHASE_HYSTERESIS %q: %w", value, err)
		}
		if v < 0 || v > 0.1 {
			return fmt.Errorf("PHASE_HYSTERESIS must be 0-0.1, got %v", v)
		}
		c.PhaseHysteresis = v
	case "PHASE_STABILITY_MS":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.PhaseStabilityMS = v

	// Triad sequencer
	case "TRIAD_HIGH":
		v, err := parseUnitFloat(key, value)
		if err != nil {
			return err
		}
		c.TriadHigh = v
	case "TRIAD_LOW":
		v, err := parseUnitFloat(key, value)
		if err != nil {
			return err
		}
		c.TriadLow = v
	case "TRIAD_PASSES":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid TRIAD_PASSES %q: %w", value, err)
		}
		if v < 1 || v > 10 {
			return fmt.Errorf("TRIAD_PASSES must be 1-10, got %d", v)
		}
		c.TriadPasses = v
	case "TRIAD_TIMEOUT_MS":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.TriadTimeoutMS = v
	case "TRIAD_LOCKOUT_MS":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.TriadLockoutMS = v
	case "TRIAD_DEBOUNCE_MS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid TRIAD_DEBOUNCE_MS %q: %w", value, err)
		}
		if v < 0 {
			return fmt.Errorf("TRIAD_DEBOUNCE_MS must not be negative, got %d", v)
		}
		c.TriadDebounceMS = v

	// Oscillator network
	case "OSC_BASE_FREQ":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid OSC_BASE_FREQ %q: %w", value, err)
		}
		if v <= 0 || v >= 1000 {
			return fmt.Errorf("OSC_BASE_FREQ must be between 0 and 1000 Hz, got %v", v)
		}
		c.OscBaseFreq = v
	case "OSC_COUPLING":
		v, err := parseUnitFloat(key, value)
		if err != nil {
			return err
		}
		c.OscCoupling = v
	case "SYNC_THRESHOLD":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid SYNC_THRESHOLD %q: %w", value, err)
		}
		if v < 0.5 || v > 1 {
			return fmt.Errorf("SYNC_THRESHOLD must be 0.5-1, got %v", v)
		}
		c.SyncThreshold = v

	// Formation detection
	case "FORMATION_KAPPA":
		v, err := parseUnitFloat(key, value)
		if err != nil {
			return err
		}
		c.FormationKappa = v
	case "FORMATION_ETA":
		v, err := parseUnitFloat(key, value)
		if err != nil {
			return err
		}
		c.FormationEta = v
	case "FORMATION_R":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid FORMATION_R %q: %w", value, err)
		}
		if v < 1 || v > 19 {
			return fmt.Errorf("FORMATION_R must be 1-19, got %d", v)
		}
		c.FormationR = v
	case "FORMATION_WINDOW":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid FORMATION_WINDOW %q: %w", value, err)
		}
		if v < 1 || v > 64 {
			return fmt.Errorf("FORMATION_WINDOW must be 1-64, got %d", v)
		}
		c.FormationWindow = v
	case "FORMATION_SIGMA":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FORMATION_SIGMA %q: %w", value, err)
		}
		if v <= 0 || v > 1 {
			return fmt.Errorf("FORMATION_SIGMA must be in (0,1], got %v", v)
		}
		c.FormationSigma = v

	// Health
	case "MAX_CONSERVATION_VIOLATIONS":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.MaxConservationViolations = v
	case "EVENT_QUEUE_SIZE":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.EventQueueSize = v

	// Timing
	case "SENSOR_INTERVAL":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.SensorInterval = v
	case "OSCILLATOR_INTERVAL_US":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.OscillatorIntervalUS = v
	case "HOUSEKEEPING_INTERVAL":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.HousekeepingInterval = v
	case "CONSOLE_LOG_INTERVAL":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.ConsoleLogInterval = v

	// Calibration
	case "CALIBRATION_DIR":
		c.CalibrationDir = value
	case "CALIBRATION_SAMPLES":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.CalibrationSamples = v

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		v, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.DisplayUpdateInterval = v

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parsePositiveInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return v, nil
}

func parseUnitFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("%s must be 0-1, got %v", key, v)
	}
	return v, nil
}

// validate checks that all required fields are set and cross-field
// constraints hold.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TriadLow >= c.TriadHigh {
		return fmt.Errorf("TRIAD_LOW (%v) must be below TRIAD_HIGH (%v)", c.TriadLow, c.TriadHigh)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once so this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
