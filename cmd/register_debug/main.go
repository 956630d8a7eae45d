// Dumps the register files of every I2C device on the sensor bus: both
// MPR121 touch controllers and, when fitted, the HMC5883L magnetometer.
// Useful when a controller misbehaves after power-up or a threshold change
// did not take.
//
// Run:
//
//	go run ./cmd/register_debug
package main

import (
	"fmt"
	"log"
	"sort"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/hexgrid-labs/field_computer/internal/config"
	"github.com/hexgrid-labs/field_computer/internal/sensors"
)

func main() {
	log.Println("starting field-computer register debug tool")

	if err := config.InitGlobal("field_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		log.Fatalf("periph host init: %v", err)
	}
	bus, err := i2creg.Open(cfg.GridI2CBus)
	if err != nil {
		log.Fatalf("i2c bus %q: %v", cfg.GridI2CBus, err)
	}
	defer bus.Close()

	dumpController(bus, "grid A", cfg.GridI2CAddrA, cfg)
	dumpController(bus, "grid B", cfg.GridI2CAddrB, cfg)

	if cfg.MagEnabled {
		dumpMagnetometer(bus, cfg.MagI2CAddr)
	}
}

func dumpController(bus i2c.Bus, name string, addr uint16, cfg *config.Config) {
	ctl, err := sensors.NewMPR121(bus, addr, name, cfg.GridTouchThreshold, cfg.GridReleaseThreshold)
	if err != nil {
		log.Printf("%s at 0x%02X unavailable: %v", name, addr, err)
		return
	}

	regs, err := ctl.DumpRegisters()
	if err != nil {
		log.Printf("%s dump failed: %v", name, err)
		return
	}

	fmt.Printf("\n=== %s (MPR121 at 0x%02X) ===\n", name, addr)
	printRegisters(regs)

	touched, err := ctl.TouchStatus()
	if err == nil {
		fmt.Printf("touch status: %012b\n", touched)
	}
}

func dumpMagnetometer(bus i2c.Bus, addr uint16) {
	mag, err := sensors.NewHMC5883L(bus, addr)
	if err != nil {
		log.Printf("magnetometer at 0x%02X unavailable: %v", addr, err)
		return
	}

	regs, err := mag.DumpRegisters()
	if err != nil {
		log.Printf("magnetometer dump failed: %v", err)
		return
	}

	fmt.Printf("\n=== magnetometer (HMC5883L at 0x%02X) ===\n", addr)
	printRegisters(regs)
}

func printRegisters(regs map[byte]byte) {
	addrs := make([]int, 0, len(regs))
	for a := range regs {
		addrs = append(addrs, int(a))
	}
	sort.Ints(addrs)

	for i, a := range addrs {
		fmt.Printf("0x%02X=0x%02X  ", a, regs[byte(a)])
		if (i+1)%8 == 0 {
			fmt.Println()
		}
	}
	fmt.Println()
}
