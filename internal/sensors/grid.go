package sensors

import (
	"fmt"
	"log"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/hexgrid-labs/field_computer/internal/config"
	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
	"github.com/hexgrid-labs/field_computer/internal/magref"
)

// GridReader reads one raw frame from the capacitive array.
type GridReader interface {
	ReadFrame() (hexgrid.RawFrame, error)
}

// MagReader reads one raw sample from the magnetometer.
type MagReader interface {
	ReadSample() (magref.RawSample, error)
}

// The array spans two controllers: A carries channels 0-11, B carries 12-18
// on its first seven electrodes.
const channelsOnB = hexgrid.ChannelCount - MPR121Channels

var (
	busOnce sync.Once
	busErr  error
	bus     i2c.BusCloser
)

// openBus initializes periph and opens the configured I2C bus once; every
// sensor on the board shares it.
func openBus() (i2c.Bus, error) {
	busOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			busErr = fmt.Errorf("periph host init: %w", err)
			return
		}
		cfg := config.Get()
		bus, busErr = i2creg.Open(cfg.GridI2CBus)
		if busErr != nil {
			busErr = fmt.Errorf("i2c bus %q: %w", cfg.GridI2CBus, busErr)
		}
	})
	return bus, busErr
}

type gridSource struct {
	a *MPR121
	b *MPR121
}

// NewGridSource initializes both touch controllers and returns a reader for
// the full 19-channel array.
func NewGridSource() (GridReader, error) {
	cfg := config.Get()
	b, err := openBus()
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}

	ctlA, err := NewMPR121(b, cfg.GridI2CAddrA, "grid A", cfg.GridTouchThreshold, cfg.GridReleaseThreshold)
	if err != nil {
		return nil, fmt.Errorf("grid: controller A: %w", err)
	}
	log.Printf("grid: controller A ready at 0x%02X", cfg.GridI2CAddrA)

	ctlB, err := NewMPR121(b, cfg.GridI2CAddrB, "grid B", cfg.GridTouchThreshold, cfg.GridReleaseThreshold)
	if err != nil {
		return nil, fmt.Errorf("grid: controller B: %w", err)
	}
	log.Printf("grid: controller B ready at 0x%02X", cfg.GridI2CAddrB)

	return &gridSource{a: ctlA, b: ctlB}, nil
}

func (g *gridSource) ReadFrame() (hexgrid.RawFrame, error) {
	var frame hexgrid.RawFrame

	a, err := g.a.ReadFiltered()
	if err != nil {
		return frame, err
	}
	b, err := g.b.ReadFiltered()
	if err != nil {
		return frame, err
	}

	copy(frame[:MPR121Channels], a[:])
	copy(frame[MPR121Channels:], b[:channelsOnB])
	return frame, nil
}

// NewMagSource initializes the magnetometer on the shared bus.
func NewMagSource() (MagReader, error) {
	cfg := config.Get()
	b, err := openBus()
	if err != nil {
		return nil, fmt.Errorf("mag: %w", err)
	}
	h, err := NewHMC5883L(b, cfg.MagI2CAddr)
	if err != nil {
		return nil, err
	}
	log.Printf("mag: magnetometer ready at 0x%02X", cfg.MagI2CAddr)
	return h, nil
}
