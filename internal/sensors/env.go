package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"

	"github.com/hexgrid-labs/field_computer/internal/config"
	"github.com/hexgrid-labs/field_computer/internal/env"
)

// EnvReader delivers board environment samples. Capacitive baselines drift
// with temperature, so the core publishes these alongside its health data.
type EnvReader interface {
	ReadEnv() (env.Sample, error)
}

type envSource struct {
	dev *bmxx80.Dev
}

// NewEnvSource initializes the BMP280 on the shared bus.
func NewEnvSource() (EnvReader, error) {
	cfg := config.Get()
	b, err := openBus()
	if err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}
	dev, err := bmxx80.NewI2C(b, cfg.EnvI2CAddr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("env: bmp280 at 0x%02X: %w", cfg.EnvI2CAddr, err)
	}
	log.Printf("env: bmp280 ready at 0x%02X", cfg.EnvI2CAddr)
	return &envSource{dev: dev}, nil
}

func (s *envSource) ReadEnv() (env.Sample, error) {
	var e physic.Env
	if err := s.dev.Sense(&e); err != nil {
		return env.Sample{}, fmt.Errorf("env: bmp280 sense: %w", err)
	}

	pressurePa := float64(e.Pressure) / float64(physic.Pascal)
	return env.Sample{
		Temperature: e.Temperature.Celsius(),
		Pressure:    pressurePa,
		PressureHPa: pressurePa / 100.0, // 1 hPa = 100 Pa
	}, nil
}
