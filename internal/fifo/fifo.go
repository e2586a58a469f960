// Package fifo implements the persistent flash FIFO: a journal-less,
// RAM-state-less ring of 16-byte sample records over a NOR flash
// region, built entirely from the monotone counter abstraction in
// internal/counter.
package fifo

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidelog/tidelog/internal/counter"
	"github.com/tidelog/tidelog/internal/flashdev"
	"github.com/tidelog/tidelog/internal/sample"
)

// ErrNotValid is returned by operations that require a prepared region
// when the header fails its magic check.
var ErrNotValid = errors.New("fifo: region not prepared (bad magic)")

// slot is a position within the ring: a data sector index relative to
// Header.FirstDataSector, and an entry index within that sector.
type slot struct {
	sector uint32
	index  uint32
}

// FlashFIFO is a persistent FIFO of sample.Sample records over a
// flashdev.Device.
type FlashFIFO struct {
	Dev    flashdev.Device
	Header Header
}

// New wraps dev with header h. The caller is responsible for having
// already written (or hard-coded) a valid header.
func New(dev flashdev.Device, h Header) *FlashFIFO {
	return &FlashFIFO{Dev: dev, Header: h}
}

// Valid reports whether the region's header passes its magic check.
func (f *FlashFIFO) Valid() bool {
	return f.Header.Valid()
}

// Capacity is the guaranteed sample count: E·(N-1).
func (f *FlashFIFO) Capacity() uint32 { return f.Header.Capacity() }

// MaxCapacity is the ceiling sample count: E·N - 1.
func (f *FlashFIFO) MaxCapacity() uint32 { return f.Header.MaxCapacity() }

// Format erases every data sector plus both sector-counter sectors,
// re-initializing the FIFO to empty.
func (f *FlashFIFO) Format(ctx context.Context) error {
	if !f.Valid() {
		return ErrNotValid
	}
	if tickler, ok := f.Dev.(flashdev.WatchdogTickler); ok {
		tickler.TickleWatchdog()
	}
	if err := f.Dev.EraseSector(ctx, f.Header.HeadCounterSector); err != nil {
		return fmt.Errorf("fifo: format head counter: %w", err)
	}
	if err := f.Dev.EraseSector(ctx, f.Header.TailCounterSector); err != nil {
		return fmt.Errorf("fifo: format tail counter: %w", err)
	}
	for s := uint32(0); s < f.Header.DataSectors; s++ {
		if tickler, ok := f.Dev.(flashdev.WatchdogTickler); ok {
			tickler.TickleWatchdog()
		}
		if err := f.Dev.EraseSector(ctx, f.Header.FirstDataSector+s); err != nil {
			return fmt.Errorf("fifo: format data sector %d: %w", s, err)
		}
	}
	return nil
}

func (f *FlashFIFO) headSectorCounter() counter.Counter {
	return counter.Counter{Dev: f.Dev, Sector: f.Header.HeadCounterSector, Offset: 0, Len: f.Header.SectorSize}
}

func (f *FlashFIFO) tailSectorCounter() counter.Counter {
	return counter.Counter{Dev: f.Dev, Sector: f.Header.TailCounterSector, Offset: 0, Len: f.Header.SectorSize}
}

func (f *FlashFIFO) headIndexCounter(sector uint32) counter.Counter {
	return counter.Counter{Dev: f.Dev, Sector: f.Header.FirstDataSector + sector, Offset: 0, Len: f.Header.TailByteOffset}
}

func (f *FlashFIFO) tailIndexCounter(sector uint32) counter.Counter {
	l := f.Header.DataByteOffset - f.Header.TailByteOffset
	return counter.Counter{Dev: f.Dev, Sector: f.Header.FirstDataSector + sector, Offset: f.Header.TailByteOffset, Len: l}
}

func (f *FlashFIFO) nextDataSector(sector uint32) uint32 {
	sector++
	if sector >= f.Header.DataSectors {
		sector = 0
	}
	return sector
}

// advanceHeadSector moves the head-sector counter past sector, resetting
// (erasing) the head-counter sectors on wraparound to 0.
func (f *FlashFIFO) advanceHeadSector(ctx context.Context, sector uint32) (uint32, error) {
	next := f.nextDataSector(sector)
	if next == 0 {
		if err := f.Dev.EraseSector(ctx, f.Header.HeadCounterSector); err != nil {
			return 0, err
		}
	} else if err := f.headSectorCounter().Mark(ctx, sector); err != nil {
		return 0, err
	}
	return next, nil
}

// advanceTailSector moves the tail-sector counter past sector, resetting
// (erasing) the tail-counter sectors on wraparound to 0.
func (f *FlashFIFO) advanceTailSector(ctx context.Context, sector uint32) (uint32, error) {
	next := f.nextDataSector(sector)
	if next == 0 {
		if err := f.Dev.EraseSector(ctx, f.Header.TailCounterSector); err != nil {
			return 0, err
		}
	} else if err := f.tailSectorCounter().Mark(ctx, sector); err != nil {
		return 0, err
	}
	return next, nil
}

// getHead resolves the current head slot, lazily advancing the head
// sector counter when the in-sector head index has run off the end of
// its sector.
func (f *FlashFIFO) getHead(ctx context.Context) (slot, error) {
	sec, err := f.headSectorCounter().Value(ctx)
	if err != nil {
		return slot{}, err
	}
	idx, err := f.headIndexCounter(sec).Value(ctx)
	if err != nil {
		return slot{}, err
	}
	if idx >= f.Header.EntriesPerSector {
		sec, err = f.advanceHeadSector(ctx, sec)
		if err != nil {
			return slot{}, err
		}
		idx = 0
	}
	return slot{sector: sec, index: idx}, nil
}

// getTail resolves the current tail slot. When the in-sector tail index
// has run off the end of its sector, it performs the pre-erase/eviction
// sequence: the next data sector is erased (evicting the head if it was
// sitting there), and the tail sector counter advances.
func (f *FlashFIFO) getTail(ctx context.Context) (slot, error) {
	sec, err := f.tailSectorCounter().Value(ctx)
	if err != nil {
		return slot{}, err
	}
	idx, err := f.tailIndexCounter(sec).Value(ctx)
	if err != nil {
		return slot{}, err
	}
	if idx < f.Header.EntriesPerSector {
		return slot{sector: sec, index: idx}, nil
	}

	nextTail := f.nextDataSector(sec)
	headSec, err := f.headSectorCounter().Value(ctx)
	if err != nil {
		return slot{}, err
	}
	if nextTail == headSec {
		if _, err := f.advanceHeadSector(ctx, headSec); err != nil {
			return slot{}, err
		}
	}
	if err := f.Dev.EraseSector(ctx, f.Header.FirstDataSector+nextTail); err != nil {
		return slot{}, err
	}
	newTail, err := f.advanceTailSector(ctx, sec)
	if err != nil {
		return slot{}, err
	}
	return slot{sector: newTail, index: 0}, nil
}

func (f *FlashFIFO) sampleAddr(sec, idx uint32) uint32 {
	return (f.Header.FirstDataSector+sec)*f.Header.SectorSize + f.Header.DataByteOffset + sample.Size*idx
}

// Push appends s to the tail of the FIFO. It returns false (with a nil
// error) only when the region is not valid; any flash failure is
// returned as an error and leaves the FIFO's persisted state consistent
// with either the pre- or post-step state.
func (f *FlashFIFO) Push(ctx context.Context, s sample.Sample) (bool, error) {
	if !f.Valid() {
		return false, nil
	}
	tail, err := f.getTail(ctx)
	if err != nil {
		return false, err
	}

	buf := make([]byte, sample.Size)
	s.Encode(buf)
	if err := f.Dev.Write(ctx, f.sampleAddr(tail.sector, tail.index), buf); err != nil {
		return false, err
	}
	if err := f.tailIndexCounter(tail.sector).Mark(ctx, tail.index); err != nil {
		return false, err
	}
	return true, nil
}

// Peek returns the sample offset entries past the current head without
// consuming it. It returns false when offset is at or beyond Count.
func (f *FlashFIFO) Peek(ctx context.Context, offset uint32) (sample.Sample, bool, error) {
	if !f.Valid() {
		return sample.Sample{}, false, nil
	}
	tail, err := f.getTail(ctx)
	if err != nil {
		return sample.Sample{}, false, err
	}
	head, err := f.getHead(ctx)
	if err != nil {
		return sample.Sample{}, false, err
	}

	for {
		head.index += offset
		offset = 0
		if head.sector == tail.sector && head.index >= tail.index {
			return sample.Sample{}, false, nil
		}
		if head.index >= f.Header.EntriesPerSector {
			offset = head.index - f.Header.EntriesPerSector
			head.index = 0
			head.sector = f.nextDataSector(head.sector)
			continue
		}
		break
	}

	raw, err := f.Dev.Read(ctx, f.sampleAddr(head.sector, head.index), sample.Size)
	if err != nil {
		return sample.Sample{}, false, err
	}
	return sample.Decode(raw), true, nil
}

// dropOne consumes the single oldest sample, without erasing the sector
// itself; sector-boundary crossing on head is left lazy for the next
// getHead call.
func (f *FlashFIFO) dropOne(ctx context.Context) (bool, error) {
	head, err := f.getHead(ctx)
	if err != nil {
		return false, err
	}
	tailIdx, err := f.tailIndexCounter(head.sector).Value(ctx)
	if err != nil {
		return false, err
	}
	if tailIdx <= head.index {
		return false, nil
	}
	if err := f.headIndexCounter(head.sector).Mark(ctx, head.index); err != nil {
		return false, err
	}
	return true, nil
}

// Pop consumes and returns the oldest sample.
func (f *FlashFIFO) Pop(ctx context.Context) (sample.Sample, bool, error) {
	s, ok, err := f.Peek(ctx, 0)
	if err != nil || !ok {
		return sample.Sample{}, false, err
	}
	dropped, err := f.dropOne(ctx)
	if err != nil {
		return sample.Sample{}, false, err
	}
	return s, dropped, nil
}

// Drop consumes up to n of the oldest samples, stopping early (and
// returning false) if the FIFO empties before n are dropped.
func (f *FlashFIFO) Drop(ctx context.Context, n uint32) (bool, error) {
	if !f.Valid() {
		return false, nil
	}
	for i := uint32(0); i < n; i++ {
		ok, err := f.dropOne(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Count returns the number of samples currently stored, computed
// modulo N·E over the head/tail positions.
func (f *FlashFIFO) Count(ctx context.Context) (uint32, error) {
	if !f.Valid() {
		return 0, nil
	}
	tail, err := f.getTail(ctx)
	if err != nil {
		return 0, err
	}
	head, err := f.getHead(ctx)
	if err != nil {
		return 0, err
	}

	eps := f.Header.EntriesPerSector
	headPos := head.sector*eps + head.index
	tailPos := tail.sector*eps + tail.index
	if tailPos >= headPos {
		return tailPos - headPos, nil
	}
	total := f.Header.DataSectors * eps
	return tailPos + total - headPos, nil
}
