package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "field_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMinimalUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "MQTT_BROKER=tcp://localhost:1883\n"))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "field/frame", cfg.TopicField)
	assert.Equal(t, uint16(0x5A), cfg.GridI2CAddrA)
	assert.Equal(t, uint16(0x5B), cfg.GridI2CAddrB)
	assert.Equal(t, 10, cfg.SensorInterval)
	assert.Equal(t, 1000, cfg.OscillatorIntervalUS)
	assert.Equal(t, 0.85, cfg.TriadHigh)
	assert.Equal(t, 0.82, cfg.TriadLow)
	assert.Equal(t, 3, cfg.TriadPasses)
	assert.Equal(t, 0.3514, cfg.OscCoupling)
	assert.Equal(t, 0.92, cfg.FormationKappa)
	assert.Equal(t, 7, cfg.FormationR)
	assert.Equal(t, 10, cfg.MaxConservationViolations)
	assert.False(t, cfg.MagEnabled)
}

func TestLoadOverridesAndComments(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
# broker
MQTT_BROKER = tcp://broker:1883

TRIAD_HIGH=0.9
TRIAD_LOW=0.85
GRID_I2C_ADDR_A=0x5C
MAG_ENABLED=true
MAG_DECLINATION_DEG=-2.5
FORMATION_WINDOW=16
SENSOR_INTERVAL=20
`))
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.TriadHigh)
	assert.Equal(t, 0.85, cfg.TriadLow)
	assert.Equal(t, uint16(0x5C), cfg.GridI2CAddrA)
	assert.True(t, cfg.MagEnabled)
	assert.Equal(t, -2.5, cfg.MagDeclinationDeg)
	assert.Equal(t, 16, cfg.FormationWindow)
	assert.Equal(t, 20, cfg.SensorInterval)
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing broker", "SENSOR_INTERVAL=10\n"},
		{"unknown key", "MQTT_BROKER=x\nBOGUS_KEY=1\n"},
		{"malformed line", "MQTT_BROKER=x\nnot a pair\n"},
		{"threshold out of range", "MQTT_BROKER=x\nTRIAD_HIGH=1.5\n"},
		{"low above high", "MQTT_BROKER=x\nTRIAD_LOW=0.9\nTRIAD_HIGH=0.85\n"},
		{"alpha too small", "MQTT_BROKER=x\nPHASE_ALPHA=0.001\n"},
		{"negative interval", "MQTT_BROKER=x\nSENSOR_INTERVAL=-5\n"},
		{"zero passes", "MQTT_BROKER=x\nTRIAD_PASSES=0\n"},
		{"bad bool", "MQTT_BROKER=x\nMAG_ENABLED=maybe\n"},
		{"port out of range", "MQTT_BROKER=x\nWEB_SERVER_PORT=70000\n"},
		{"sigma zero", "MQTT_BROKER=x\nFORMATION_SIGMA=0\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
