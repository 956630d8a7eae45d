package sensors

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"

	"github.com/hexgrid-labs/field_computer/internal/magref"
)

// HMC5883L register map.
const (
	hmcRegConfigA = 0x00
	hmcRegConfigB = 0x01
	hmcRegMode    = 0x02
	hmcRegDataXH  = 0x03
	hmcRegIDA     = 0x0A

	hmcConfigAValue = 0x70 // 8 samples averaged, 15 Hz, normal bias
	hmcConfigBValue = 0x20 // ±1.3 Ga range, 1090 LSB/Gauss
	hmcModeCont     = 0x00 // continuous measurement
)

// HMC5883L drives the 3-axis magnetometer over I2C.
type HMC5883L struct {
	dev i2c.Dev
}

// NewHMC5883L verifies the device identity and configures continuous
// measurement at the default gain.
func NewHMC5883L(bus i2c.Bus, addr uint16) (*HMC5883L, error) {
	h := &HMC5883L{dev: i2c.Dev{Bus: bus, Addr: addr}}

	var id [3]byte
	if err := h.dev.Tx([]byte{hmcRegIDA}, id[:]); err != nil {
		return nil, fmt.Errorf("magnetometer: read identity: %w", err)
	}
	if id[0] != 'H' || id[1] != '4' || id[2] != '3' {
		return nil, fmt.Errorf("magnetometer: unexpected identity %q at addr 0x%02X", id[:], addr)
	}

	setup := []struct{ reg, val byte }{
		{hmcRegConfigA, hmcConfigAValue},
		{hmcRegConfigB, hmcConfigBValue},
		{hmcRegMode, hmcModeCont},
	}
	for _, s := range setup {
		if err := h.dev.Tx([]byte{s.reg, s.val}, nil); err != nil {
			return nil, fmt.Errorf("magnetometer: write reg 0x%02X: %w", s.reg, err)
		}
	}
	return h, nil
}

// DumpRegisters reads the 13-register file, configuration through identity.
func (h *HMC5883L) DumpRegisters() (map[byte]byte, error) {
	out := make(map[byte]byte, 13)
	for reg := byte(0x00); reg <= 0x0C; reg++ {
		var buf [1]byte
		if err := h.dev.Tx([]byte{reg}, buf[:]); err != nil {
			return nil, fmt.Errorf("magnetometer: dump reg 0x%02X: %w", reg, err)
		}
		out[reg] = buf[0]
	}
	return out, nil
}

// ReadSample returns one set of raw counts. The device streams registers in
// X, Z, Y order.
func (h *HMC5883L) ReadSample() (magref.RawSample, error) {
	var buf [6]byte
	if err := h.dev.Tx([]byte{hmcRegDataXH}, buf[:]); err != nil {
		return magref.RawSample{}, fmt.Errorf("magnetometer: read data: %w", err)
	}
	return magref.RawSample{
		X: int16(uint16(buf[0])<<8 | uint16(buf[1])),
		Z: int16(uint16(buf[2])<<8 | uint16(buf[3])),
		Y: int16(uint16(buf[4])<<8 | uint16(buf[5])),
	}, nil
}
