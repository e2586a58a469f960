// Command fieldlogctl drives a single flash FIFO region: formatting it,
// pushing and draining samples by hand, pulling a raw snapshot for
// offline inspection, and running an S4PP upload against a configured
// server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidelog/tidelog/internal/fifo"
	"github.com/tidelog/tidelog/internal/flashdev"
)

var (
	spiPort     string
	spiCSPin    string
	sectorSize  uint32
	dataSectors uint32
	firstSector uint32

	activeFIFO *fifo.FlashFIFO
)

var rootCmd = &cobra.Command{
	Use:   "fieldlogctl",
	Short: "Inspect and drive a field unit's flash-backed sample FIFO",
	Long: "fieldlogctl talks to a flash FIFO region either on real SPI NOR " +
		"(--spi) or, by default, an in-memory region seeded fresh on every " +
		"invocation, useful for trying commands out without hardware.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFIFO()
		if err != nil {
			return err
		}
		activeFIFO = f
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&spiPort, "spi", "", "SPI port name to use a real NOR device instead of the in-memory fake (e.g. /dev/spidev0.0)")
	rootCmd.PersistentFlags().StringVar(&spiCSPin, "cs", "GPIO24", "chip-select GPIO pin name, used only with --spi")
	rootCmd.PersistentFlags().Uint32Var(&sectorSize, "sector-size", 4096, "flash sector size in bytes")
	rootCmd.PersistentFlags().Uint32Var(&dataSectors, "data-sectors", 8, "number of data sectors in the FIFO region")
	rootCmd.PersistentFlags().Uint32Var(&firstSector, "first-sector", 2, "index of the region's first data sector (header/counters occupy the two sectors before it)")
}

// openFIFO builds the Device the persistent flags describe and wraps it
// in a FlashFIFO. It does not format the region, not even on first use;
// a header that fails its validity check is returned as an error.
func openFIFO() (*fifo.FlashFIFO, error) {
	dev, err := openDevice()
	if err != nil {
		return nil, err
	}
	h := fifo.NewHeader(sectorSize, firstSector, dataSectors)
	f := fifo.New(dev, h)
	if !f.Valid() {
		return nil, fmt.Errorf("fieldlogctl: header failed its magic check")
	}
	return f, nil
}

func openDevice() (flashdev.Device, error) {
	if spiPort == "" {
		return flashdev.NewMemDevice(sectorSize, firstSector+dataSectors), nil
	}
	return openSPIDevice(spiPort, spiCSPin, sectorSize)
}

// Execute runs the root command, matching floppy/cmd's Execute wrapper.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
