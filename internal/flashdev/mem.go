package flashdev

import (
	"context"
	"sync"
)

// FailKind identifies which operation MemDevice.FailNextOp should fail,
// used by the flash FIFO's torn-state property tests (a single injected
// failure must never leave the FIFO in a state that is neither the
// pre-step nor the post-step state).
type FailKind int

const (
	FailNone FailKind = iota
	FailRead
	FailWrite
	FailErase
)

// MemDevice is an in-memory Device, the direct counterpart of
// original_source's fake_spi_flash_* functions: erase fills a sector with
// 0xFF, write ANDs bytes in place, read copies bytes.
type MemDevice struct {
	mu         sync.Mutex
	data       []byte
	sectorSize uint32
	failNext   FailKind
	ticks      int
}

// NewMemDevice allocates an in-memory region of sectorCount sectors, each
// sectorSize bytes, pre-erased (all 0xFF).
func NewMemDevice(sectorSize uint32, sectorCount uint32) *MemDevice {
	d := &MemDevice{
		data:       make([]byte, uint64(sectorSize)*uint64(sectorCount)),
		sectorSize: sectorSize,
	}
	for i := range d.data {
		d.data[i] = 0xFF
	}
	return d
}

// FailNextOp arranges for the next operation of the given kind to fail
// with an injected-fault error, once.
func (d *MemDevice) FailNextOp(kind FailKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = kind
}

// TickleWatchdog satisfies WatchdogTickler; MemDevice just counts ticks so
// tests can assert erases tickle it.
func (d *MemDevice) TickleWatchdog() {
	d.mu.Lock()
	d.ticks++
	d.mu.Unlock()
}

// Ticks returns how many times TickleWatchdog has been called.
func (d *MemDevice) Ticks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticks
}

func (d *MemDevice) SectorSize() uint32 { return d.sectorSize }

func (d *MemDevice) consumeFailure(kind FailKind) bool {
	if d.failNext != kind {
		return false
	}
	d.failNext = FailNone
	return true
}

var errInjectedFault = errInjected{}

type errInjected struct{}

func (errInjected) Error() string { return "flashdev: injected fault" }

func (d *MemDevice) EraseSector(ctx context.Context, index uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	start := uint64(index) * uint64(d.sectorSize)
	if start+uint64(d.sectorSize) > uint64(len(d.data)) {
		return ErrOutOfRange
	}
	if d.consumeFailure(FailErase) {
		return errInjectedFault
	}
	for i := uint64(0); i < uint64(d.sectorSize); i++ {
		d.data[start+i] = 0xFF
	}
	return nil
}

func (d *MemDevice) Write(ctx context.Context, addr uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkAlign(addr, len(data)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if uint64(addr)+uint64(len(data)) > uint64(len(d.data)) {
		return ErrOutOfRange
	}
	if d.consumeFailure(FailWrite) {
		return errInjectedFault
	}
	for i, b := range data {
		d.data[uint64(addr)+uint64(i)] &= b
	}
	return nil
}

func (d *MemDevice) Read(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if uint64(addr)+uint64(n) > uint64(len(d.data)) {
		return nil, ErrOutOfRange
	}
	if d.consumeFailure(FailRead) {
		return nil, errInjectedFault
	}
	out := make([]byte, n)
	copy(out, d.data[addr:uint64(addr)+uint64(n)])
	return out, nil
}
