package app

import (
	"log"

	"github.com/hexgrid-labs/field_computer/internal/config"
	"github.com/hexgrid-labs/field_computer/internal/core"
	"github.com/hexgrid-labs/field_computer/internal/sensors"
)

// RunProducer runs the engine over synthetic sources and publishes the same
// topics as the hardware core, for bench work without a grid attached.
func RunProducer() error {
	cfg := config.Get()

	var mag core.MagSource
	if cfg.MagEnabled {
		mag = sensors.NewMockMag()
	}

	engine := core.New(coreOptions(cfg), sensors.NewMockGrid(), mag)
	engine.SetBaselines(sensors.MockBaselines())

	log.Println("producer: running on synthetic sources")
	return runEngine(engine, cfg.MQTTClientIDMock, nil)
}
