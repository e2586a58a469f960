package flashdev

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// SPI NOR flash commands ([W25Q128|8.1.2 Instruction Set Table 1] /
// [N25Q32|Table 16]), the same command set gice/flash.go targets.
const (
	cmdReadID             = 0x9F
	cmdRead               = 0x03
	cmdWriteEnable        = 0x06
	cmdPageProgram        = 0x02
	cmdErase4KB           = 0x20
	cmdReadStatusRegister = 0x05
)

const (
	pageSize   = 256
	statusBusy = 1 << 0
)

// SPIFlash is a real NOR-flash Device over a SPI bus, implementing the
// sector-erase/page-program/read command sequence a NOR flash part
// requires. It is the hardware counterpart to MemDevice, grounded on
// gice/flash.go's command table and chip-select transaction wrapper.
type SPIFlash struct {
	conn       spi.Conn
	cs         gpio.PinIO
	sectorSize uint32
	tickle     func()
}

// NewSPIFlash wires a SPI connection and chip-select pin into a 4KB-sector
// flash device. tickle, if non-nil, is invoked between polls of a pending
// erase/program to feed an external watchdog.
func NewSPIFlash(conn spi.Conn, cs gpio.PinIO, tickle func()) *SPIFlash {
	return &SPIFlash{conn: conn, cs: cs, sectorSize: 4096, tickle: tickle}
}

func (f *SPIFlash) TickleWatchdog() {
	if f.tickle != nil {
		f.tickle()
	}
}

func (f *SPIFlash) SectorSize() uint32 { return f.sectorSize }

func (f *SPIFlash) tx(buf []byte) (err error) {
	if err = f.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	return f.conn.Tx(buf, buf)
}

// ReadID issues the JEDEC read-ID command, used to confirm the chip is
// alive before trusting its contents as a flash FIFO region.
func (f *SPIFlash) ReadID() ([3]byte, error) {
	buf := make([]byte, 4)
	buf[0] = cmdReadID
	if err := f.tx(buf); err != nil {
		return [3]byte{}, err
	}
	return [3]byte(buf[1:]), nil
}

func (f *SPIFlash) readStatus() (byte, error) {
	buf := []byte{cmdReadStatusRegister, 0}
	if err := f.tx(buf); err != nil {
		return 0, err
	}
	return buf[1], nil
}

func (f *SPIFlash) writeEnable() error {
	return f.tx([]byte{cmdWriteEnable})
}

// busyWait polls the status register until the write-in-progress bit
// clears, tickling the watchdog between polls.
func (f *SPIFlash) busyWait(ctx context.Context, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		sr, err := f.readStatus()
		if err != nil {
			return err
		}
		if sr&statusBusy == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		f.TickleWatchdog()
		if time.Now().After(deadline) {
			return errors.New("flashdev: spi flash busy-wait timed out")
		}
		time.Sleep(interval)
	}
}

func (f *SPIFlash) Read(ctx context.Context, addr uint32, n int) ([]byte, error) {
	const (
		maxTx   = 65536
		cmdLen  = 4
		maxData = maxTx - cmdLen
	)
	out := make([]byte, n)
	off := 0
	for remaining := n; remaining > 0; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk := remaining
		if chunk > maxData {
			chunk = maxData
		}
		buf := make([]byte, cmdLen+chunk)
		buf[0] = cmdRead
		buf[1] = byte(addr >> 16)
		buf[2] = byte(addr >> 8)
		buf[3] = byte(addr)

		if err := f.tx(buf); err != nil {
			return nil, fmt.Errorf("flashdev: spi read at 0x%x: %w", addr, err)
		}
		copy(out[off:], buf[cmdLen:])

		addr += uint32(chunk)
		off += chunk
		remaining -= chunk
	}
	return out, nil
}

func (f *SPIFlash) pageProgram(ctx context.Context, addr uint32, data []byte) error {
	if len(data) > pageSize {
		return errors.New("flashdev: page program exceeds 256 bytes")
	}
	if err := f.writeEnable(); err != nil {
		return err
	}
	buf := make([]byte, 4+len(data))
	buf[0] = cmdPageProgram
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	copy(buf[4:], data)
	if err := f.tx(buf); err != nil {
		return fmt.Errorf("flashdev: spi page program at 0x%x: %w", addr, err)
	}
	return f.busyWait(ctx, 100*time.Microsecond, 10*time.Millisecond)
}

// Write clears bits by issuing page-program commands split at 256-byte
// page boundaries; a NOR page-program can only clear bits already within
// the destination page, matching the Device interface's bit-clear
// contract.
func (f *SPIFlash) Write(ctx context.Context, addr uint32, data []byte) error {
	if err := checkAlign(addr, len(data)); err != nil {
		return err
	}
	for off := 0; off < len(data); {
		pageOff := int(addr+uint32(off)) % pageSize
		chunk := pageSize - pageOff
		if chunk > len(data)-off {
			chunk = len(data) - off
		}
		if err := f.pageProgram(ctx, addr+uint32(off), data[off:off+chunk]); err != nil {
			return err
		}
		off += chunk
	}
	return nil
}

// EraseSector issues a 4KB subsector erase (command 0x20).
func (f *SPIFlash) EraseSector(ctx context.Context, index uint32) error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	addr := index * f.sectorSize
	buf := []byte{cmdErase4KB, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	if err := f.tx(buf); err != nil {
		return fmt.Errorf("flashdev: spi erase sector %d: %w", index, err)
	}
	return f.busyWait(ctx, 1*time.Millisecond, 100*time.Millisecond)
}
