package main

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/tidelog/tidelog/internal/flashdev"
)

var hostInitialized atomic.Bool

// openSPIDevice opens a real SPI NOR flash chip through periph.io, the
// same host.Init/spireg/gpioreg sequence the FTDI-backed programmer uses,
// generalized to whatever SPI port and CS pin the platform exposes.
func openSPIDevice(port, csPin string, sectorSize uint32) (*flashdev.SPIFlash, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("fieldlogctl: host init: %w", err)
		}
	}

	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("fieldlogctl: open spi port %s: %w", port, err)
	}
	conn, err := p.Connect(50*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("fieldlogctl: spi connect: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("fieldlogctl: no such GPIO pin %q", csPin)
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("fieldlogctl: init cs pin: %w", err)
	}

	dev := flashdev.NewSPIFlash(conn, cs, nil)
	if dev.SectorSize() != sectorSize {
		return nil, fmt.Errorf("fieldlogctl: --sector-size %d does not match device's %d", sectorSize, dev.SectorSize())
	}
	return dev, nil
}
