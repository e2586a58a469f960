// Package rtcfifo implements the volatile front-cache FIFO: a fixed
// array of packed 32-bit entries meant to live in always-on, low-power
// memory ahead of the persistent flash FIFO, plus the facade that
// chains the two into a single push/pop surface. It is a direct
// transcription of rtcfifo.h and diusfifo.h, adapted from RTC-register
// storage to a plain in-process ring buffer.
package rtcfifo

import (
	"context"
	"errors"

	"github.com/cespare/xxhash/v2"

	"github.com/tidelog/tidelog/internal/fifo"
	"github.com/tidelog/tidelog/internal/sample"
)

// MaxDeltaT is the largest delta-t an entry can encode (9 bits). A sample
// whose delta-t from the tail timestamp exceeds this resets the FIFO
// ("explicit, documented data-loss point").
const MaxDeltaT = 0x1ff

const (
	valueMask    = 0xffff
	decimalsMask = 0x7
	tagIndexMask = 0xf
)

// ErrTagTableFull is returned when a sample's tag cannot be interned and a
// fresh delta-t reference couldn't rescue it either — the "should never
// happen" branch of rtc_fifo_store_sample.
var ErrTagTableFull = errors.New("rtcfifo: tag table full and reset did not help")

// entry packs (tagIndex:4 | decimals:3 | deltaT:9 | value:16) into a
// uint32, matching RTC_FIFO's bit layout exactly.
type entry uint32

func constructEntry(value int32, tagIndex int, decimals uint8, deltaT uint32) entry {
	v := uint32(uint16(value)) & valueMask
	d := uint32(deltaT&MaxDeltaT) << 16
	dec := uint32(decimals&decimalsMask) << 25
	t := uint32(tagIndex&tagIndexMask) << 28
	return entry(v | d | dec | t)
}

func (e entry) value() int32    { return int32(int16(uint16(e) & valueMask)) }
func (e entry) deltaT() uint32  { return (uint32(e) >> 16) & MaxDeltaT }
func (e entry) decimals() uint8 { return uint8((uint32(e) >> 25) & decimalsMask) }
func (e entry) tagIndex() int   { return int((uint32(e) >> 28) & tagIndexMask) }

// tagSlot is one entry of the per-FIFO tag table: the 4-byte tag value
// plus an xxhash fingerprint of it, so lookups can reject most candidates
// with a single uint64 compare before falling back to the real equality
// check (Domain stack).
type tagSlot struct {
	tag         sample.Tag
	fingerprint uint64
	used        bool
}

func fingerprintOf(t sample.Tag) uint64 {
	var buf [4]byte
	buf[0] = byte(t)
	buf[1] = byte(t >> 8)
	buf[2] = byte(t >> 16)
	buf[3] = byte(t >> 24)
	return xxhash.Sum64(buf[:])
}

// RTCFIFO is the volatile ring of packed entries plus its scoped tag
// table.
type RTCFIFO struct {
	entries []entry
	tags    []tagSlot

	head, tail, count uint32
	headT, tailT      uint32
}

// New allocates an RTCFIFO with room for capacity samples and a tag
// table of tagCount slots. The packed entry format budgets 4 bits of
// tag index, so tagCount must be at most 16.
func New(capacity, tagCount int) *RTCFIFO {
	if tagCount > 16 {
		tagCount = 16
	}
	return &RTCFIFO{
		entries: make([]entry, capacity),
		tags:    make([]tagSlot, tagCount),
	}
}

// Count returns the number of samples currently cached.
func (r *RTCFIFO) Count() uint32 { return r.count }

// Capacity is the fixed number of packed-entry slots.
func (r *RTCFIFO) Capacity() uint32 { return uint32(len(r.entries)) }

// Full reports whether the next Push would have to evict the oldest
// sample to make room ("when it is full the oldest sample is
// shuffled").
func (r *RTCFIFO) Full() bool { return r.count >= r.Capacity() }

func (r *RTCFIFO) normalize(i uint32) uint32 {
	if i >= r.Capacity() {
		return 0
	}
	return i
}

func (r *RTCFIFO) clear() {
	r.head, r.tail, r.count = 0, 0, 0
	r.headT, r.tailT = 0, 0
	for i := range r.tags {
		r.tags[i] = tagSlot{}
	}
}

// findOrAssignTag returns the tag table index for t, interning it into
// the first empty slot on a miss. ok is false when the table is full and
// t isn't already present.
func (r *RTCFIFO) findOrAssignTag(t sample.Tag) (idx int, ok bool) {
	fp := fingerprintOf(t)
	free := -1
	for i, slot := range r.tags {
		if !slot.used {
			if free < 0 {
				free = i
			}
			continue
		}
		if slot.fingerprint == fp && slot.tag == t {
			return i, true
		}
	}
	if free < 0 {
		return 0, false
	}
	r.tags[free] = tagSlot{tag: t, fingerprint: fp, used: true}
	return free, true
}

func (r *RTCFIFO) tagAt(idx int) sample.Tag { return r.tags[idx].tag }

// deltaT mirrors rtc_fifo_delta_t: a difference exceeding MaxDeltaT is
// reported as not representable.
func deltaT(t, ref uint32) (uint32, bool) {
	d := t - ref
	if d > MaxDeltaT {
		return 0, false
	}
	return d, true
}

func (r *RTCFIFO) fillSample(e entry, timestamp uint32) sample.Sample {
	return sample.Sample{
		Timestamp: timestamp,
		Value:     e.value(),
		Decimals:  e.decimals(),
		Tag:       r.tagAt(e.tagIndex()),
	}
}

// Push appends s, evicting the single oldest cached sample first if the
// ring is already full — a defensive fallback; callers layering this
// behind a facade are expected to shuffle proactively via Full() before
// this ever triggers. A delta-t overflow or tag-table exhaustion resets
// the whole cache before retrying once.
func (r *RTCFIFO) Push(s sample.Sample) error {
	tagIndex, tagOK := r.findOrAssignTag(s.Tag)

	if r.count == 0 {
		r.headT, r.tailT = s.Timestamp, s.Timestamp
	}
	dt, dtOK := deltaT(s.Timestamp, r.tailT)

	if !tagOK || !dtOK {
		r.clear()
		r.headT, r.tailT = s.Timestamp, s.Timestamp
		tagIndex, tagOK = r.findOrAssignTag(s.Tag)
		if !tagOK {
			return ErrTagTableFull
		}
		dt, _ = deltaT(s.Timestamp, r.tailT)
	}

	if r.head == r.tail && r.count > 0 {
		r.popLocked()
	}

	r.entries[r.tail] = constructEntry(s.Value, tagIndex, s.Decimals, dt)
	r.tail = r.normalize(r.tail + 1)
	r.tailT = s.Timestamp
	r.count++
	return nil
}

func (r *RTCFIFO) popLocked() (sample.Sample, bool) {
	if r.count == 0 {
		return sample.Sample{}, false
	}
	e := r.entries[r.head]
	ts := r.headT + e.deltaT()
	s := r.fillSample(e, ts)

	r.head = r.normalize(r.head + 1)
	r.headT = ts
	r.count--
	return s, true
}

// Pop removes and returns the oldest cached sample.
func (r *RTCFIFO) Pop() (sample.Sample, bool) { return r.popLocked() }

// Peek returns the sample offset entries past the current head without
// removing it.
func (r *RTCFIFO) Peek(offset uint32) (sample.Sample, bool) {
	if r.count <= offset {
		return sample.Sample{}, false
	}
	head := r.head
	e := r.entries[head]
	ts := r.headT + e.deltaT()
	for offset > 0 {
		offset--
		head = r.normalize(head + 1)
		e = r.entries[head]
		ts += e.deltaT()
	}
	return r.fillSample(e, ts), true
}

// Drop removes up to n of the oldest cached samples.
func (r *RTCFIFO) Drop(n uint32) bool {
	if r.count < n {
		n = r.count
	}
	head, headT := r.head, r.headT
	for ; n > 0; n-- {
		e := r.entries[head]
		headT += e.deltaT()
		head = r.normalize(head + 1)
		r.count--
	}
	r.head, r.headT = head, headT
	return true
}

// Facade implements the "one push/pop surface over two FIFOs" chaining
// rule of /Design Notes: producers always see a single FIFO, the
// RTC ring absorbs writes and spills its oldest sample into the backing
// flash FIFO on overflow, and consumers drain flash first, then RTC.
type Facade struct {
	RTC   *RTCFIFO
	Flash *fifo.FlashFIFO
}

// NewFacade chains rtc ahead of flash.
func NewFacade(rtc *RTCFIFO, flash *fifo.FlashFIFO) *Facade {
	return &Facade{RTC: rtc, Flash: flash}
}

// Push writes into the RTC ring, first shuffling as many oldest RTC
// entries into the flash FIFO as needed to make room (dius_fifo_store_sample's
// "while rtc_fifo_store_will_shuffle" loop — ordinarily zero or one
// iteration, since a single Push can grow the ring by at most one).
func (f *Facade) Push(ctx context.Context, s sample.Sample) error {
	for f.RTC.Full() {
		oldest, ok := f.RTC.Pop()
		if !ok {
			break
		}
		if _, err := f.Flash.Push(ctx, oldest); err != nil {
			return err
		}
	}
	return f.RTC.Push(s)
}

// Count is the combined sample count across both tiers.
func (f *Facade) Count(ctx context.Context) (uint32, error) {
	flashCount, err := f.Flash.Count(ctx)
	if err != nil {
		return 0, err
	}
	return flashCount + f.RTC.Count(), nil
}

// Peek returns the sample offset entries past the combined head, checking
// flash first and falling through into the RTC ring (dius_fifo_peek_sample).
func (f *Facade) Peek(ctx context.Context, offset uint32) (sample.Sample, bool, error) {
	flashCount, err := f.Flash.Count(ctx)
	if err != nil {
		return sample.Sample{}, false, err
	}
	if offset < flashCount {
		return f.Flash.Peek(ctx, offset)
	}
	s, ok := f.RTC.Peek(offset - flashCount)
	return s, ok, nil
}

// Pop removes and returns the combined head, preferring flash
// (dius_fifo_pop_sample).
func (f *Facade) Pop(ctx context.Context) (sample.Sample, bool, error) {
	flashCount, err := f.Flash.Count(ctx)
	if err != nil {
		return sample.Sample{}, false, err
	}
	if flashCount > 0 {
		return f.Flash.Pop(ctx)
	}
	s, ok := f.RTC.Pop()
	return s, ok, nil
}

// Drop removes up to n of the oldest combined samples, draining flash
// before touching the RTC ring (dius_fifo_drop_samples).
func (f *Facade) Drop(ctx context.Context, n uint32) (bool, error) {
	flashCount, err := f.Flash.Count(ctx)
	if err != nil {
		return false, err
	}
	if flashCount >= n {
		return f.Flash.Drop(ctx, n)
	}
	if flashCount > 0 {
		if ok, err := f.Flash.Drop(ctx, flashCount); err != nil || !ok {
			return false, err
		}
	}
	return f.RTC.Drop(n - flashCount), nil
}
