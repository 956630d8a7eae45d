package sensors

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// MPR121 register map (subset used here).
const (
	mprTouchStatusL = 0x00
	mprFilteredBase = 0x04 // 2 bytes per channel, little-endian, 10-bit
	mprBaselineBase = 0x1E

	// Baseline filter tuning, rising / falling / touched
	mprMHDRising  = 0x2B
	mprNHDRising  = 0x2C
	mprNCLRising  = 0x2D
	mprFDLRising  = 0x2E
	mprMHDFalling = 0x2F
	mprNHDFalling = 0x30
	mprNCLFalling = 0x31
	mprFDLFalling = 0x32
	mprNHDTouched = 0x33
	mprNCLTouched = 0x34
	mprFDLTouched = 0x35

	mprTouchThresholdBase = 0x41 // 0x41 + 2*channel; release at +1
	mprDebounce           = 0x5B
	mprConfig1            = 0x5C
	mprConfig2            = 0x5D
	mprECR                = 0x5E
	mprSoftReset          = 0x80

	mprSoftResetMagic = 0x63
	mprConfig2Default = 0x24 // post-reset value, used as a presence check
	mprConfig1Value   = 0x10 // FFI 6 samples, CDC 16 µA
	mprConfig2Value   = 0x20 // CDT 0.5 µs, ESI 1 ms
	mprECRRunAll      = 0x8F // baseline tracking on, all 12 electrodes
)

// MPR121Channels is the electrode count per controller.
const MPR121Channels = 12

// MPR121 drives one capacitive touch controller over I2C.
type MPR121 struct {
	dev  i2c.Dev
	name string
}

// NewMPR121 resets and configures the controller at addr with the given
// touch/release detection thresholds. name tags error messages.
func NewMPR121(bus i2c.Bus, addr uint16, name string, touch, release byte) (*MPR121, error) {
	m := &MPR121{dev: i2c.Dev{Bus: bus, Addr: addr}, name: name}

	if err := m.writeReg(mprSoftReset, mprSoftResetMagic); err != nil {
		return nil, fmt.Errorf("%s: soft reset: %w", name, err)
	}
	if err := m.writeReg(mprECR, 0x00); err != nil {
		return nil, fmt.Errorf("%s: stop electrodes: %w", name, err)
	}

	// Presence check: CONFIG2 holds its documented default after reset.
	cfg2, err := m.readReg(mprConfig2)
	if err != nil {
		return nil, fmt.Errorf("%s: read CONFIG2: %w", name, err)
	}
	if cfg2 != mprConfig2Default {
		return nil, fmt.Errorf("%s: unexpected CONFIG2 0x%02X at addr 0x%02X, want 0x%02X",
			name, cfg2, addr, mprConfig2Default)
	}

	for ch := 0; ch < MPR121Channels; ch++ {
		if err := m.setThresholds(ch, touch, release); err != nil {
			return nil, err
		}
	}

	// Baseline tracking filter, per the datasheet quick-start values.
	filter := []struct{ reg, val byte }{
		{mprMHDRising, 0x01},
		{mprNHDRising, 0x01},
		{mprNCLRising, 0x0E},
		{mprFDLRising, 0x00},
		{mprMHDFalling, 0x01},
		{mprNHDFalling, 0x05},
		{mprNCLFalling, 0x01},
		{mprFDLFalling, 0x00},
		{mprNHDTouched, 0x00},
		{mprNCLTouched, 0x00},
		{mprFDLTouched, 0x00},
		{mprDebounce, 0x00},
		{mprConfig1, mprConfig1Value},
		{mprConfig2, mprConfig2Value},
	}
	for _, f := range filter {
		if err := m.writeReg(f.reg, f.val); err != nil {
			return nil, fmt.Errorf("%s: configure reg 0x%02X: %w", name, f.reg, err)
		}
	}

	if err := m.writeReg(mprECR, mprECRRunAll); err != nil {
		return nil, fmt.Errorf("%s: start electrodes: %w", name, err)
	}
	return m, nil
}

func (m *MPR121) writeReg(reg, val byte) error {
	return m.dev.Tx([]byte{reg, val}, nil)
}

func (m *MPR121) readReg(reg byte) (byte, error) {
	var buf [1]byte
	if err := m.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (m *MPR121) setThresholds(channel int, touch, release byte) error {
	base := byte(mprTouchThresholdBase + 2*channel)
	if err := m.writeReg(base, touch); err != nil {
		return fmt.Errorf("%s: touch threshold ch %d: %w", m.name, channel, err)
	}
	if err := m.writeReg(base+1, release); err != nil {
		return fmt.Errorf("%s: release threshold ch %d: %w", m.name, channel, err)
	}
	return nil
}

// ReadFiltered burst-reads the filtered 10-bit counts for all electrodes.
func (m *MPR121) ReadFiltered() ([MPR121Channels]uint16, error) {
	var out [MPR121Channels]uint16
	var buf [2 * MPR121Channels]byte
	if err := m.dev.Tx([]byte{mprFilteredBase}, buf[:]); err != nil {
		return out, fmt.Errorf("%s: read filtered data: %w", m.name, err)
	}
	for ch := 0; ch < MPR121Channels; ch++ {
		out[ch] = uint16(buf[2*ch]) | uint16(buf[2*ch+1])<<8
	}
	return out, nil
}

// DumpRegisters reads the full register file, 0x00 through 0x7F.
func (m *MPR121) DumpRegisters() (map[byte]byte, error) {
	out := make(map[byte]byte, 0x80)
	for reg := byte(0x00); reg < 0x80; reg++ {
		v, err := m.readReg(reg)
		if err != nil {
			return nil, fmt.Errorf("%s: dump reg 0x%02X: %w", m.name, reg, err)
		}
		out[reg] = v
	}
	return out, nil
}

// TouchStatus returns the 12-bit touched bitmap from the controller's own
// detector.
func (m *MPR121) TouchStatus() (uint16, error) {
	var buf [2]byte
	if err := m.dev.Tx([]byte{mprTouchStatusL}, buf[:]); err != nil {
		return 0, fmt.Errorf("%s: read touch status: %w", m.name, err)
	}
	return (uint16(buf[0]) | uint16(buf[1])<<8) & 0x0FFF, nil
}
