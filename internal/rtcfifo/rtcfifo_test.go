package rtcfifo

import (
	"context"
	"testing"

	"github.com/tidelog/tidelog/internal/fifo"
	"github.com/tidelog/tidelog/internal/flashdev"
	"github.com/tidelog/tidelog/internal/sample"
)

func mkSample(t uint32, v int32, tag string) sample.Sample {
	return sample.Sample{Timestamp: t, Value: v, Decimals: 1, Tag: sample.TagFromString(tag)}
}

func TestPushPeekPopOrder(t *testing.T) {
	r := New(4, 4)
	for i := uint32(0); i < 3; i++ {
		if err := r.Push(mkSample(1000+i, int32(i), "temp")); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if c := r.Count(); c != 3 {
		t.Fatalf("count = %d, want 3", c)
	}
	s, ok := r.Peek(0)
	if !ok || s.Value != 0 || s.Timestamp != 1000 {
		t.Fatalf("peek(0) = %+v, %v", s, ok)
	}
	s, ok = r.Pop()
	if !ok || s.Value != 0 {
		t.Fatalf("pop = %+v, %v, want value 0", s, ok)
	}
	if c := r.Count(); c != 2 {
		t.Fatalf("count after pop = %d, want 2", c)
	}
}

func TestOverflowEvictsOldest(t *testing.T) {
	r := New(2, 4)
	for i := uint32(0); i < 2; i++ {
		if err := r.Push(mkSample(1000+i, int32(i), "temp")); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if !r.Full() {
		t.Fatalf("expected ring to be full after 2 pushes into a capacity-2 ring")
	}
	if err := r.Push(mkSample(1002, 2, "temp")); err != nil {
		t.Fatalf("push overflow: %v", err)
	}
	if c := r.Count(); c != 2 {
		t.Fatalf("count after overflow push = %d, want 2", c)
	}
	s, ok := r.Peek(0)
	if !ok || s.Value != 1 {
		t.Fatalf("peek(0) after overflow = %+v, %v, want value 1 (sample 0 evicted)", s, ok)
	}
}

func TestDeltaTOverflowResets(t *testing.T) {
	r := New(4, 4)
	if err := r.Push(mkSample(1000, 1, "temp")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := r.Push(mkSample(1000+MaxDeltaT+1, 2, "temp")); err != nil {
		t.Fatalf("push after delta-t overflow: %v", err)
	}
	// Overflow clears the cache and starts fresh with only the new sample.
	if c := r.Count(); c != 1 {
		t.Fatalf("count after delta-t overflow = %d, want 1", c)
	}
	s, ok := r.Peek(0)
	if !ok || s.Value != 2 {
		t.Fatalf("peek(0) after delta-t overflow = %+v, %v, want value 2", s, ok)
	}
}

func TestTagTableReuse(t *testing.T) {
	r := New(8, 2)
	if err := r.Push(mkSample(1000, 1, "temp")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := r.Push(mkSample(1001, 2, "temp")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := r.Push(mkSample(1002, 3, "hum")); err != nil {
		t.Fatalf("push: %v", err)
	}
	// A third distinct tag does not fit the 2-slot table: Push resets the
	// whole cache and reuses the emptied table for the new tag.
	if err := r.Push(mkSample(1003, 4, "pres")); err != nil {
		t.Fatalf("push of a third distinct tag into a 2-slot table: %v", err)
	}
	if c := r.Count(); c != 1 {
		t.Fatalf("count after tag-table reset = %d, want 1", c)
	}
	if s, ok := r.Peek(0); !ok || s.Value != 4 || s.Tag != sample.TagFromString("pres") {
		t.Fatalf("peek(0) after tag-table reset = %+v, %v, want value 4 tagged pres", s, ok)
	}
}

func newTestFacade(t *testing.T, rtcCap int, dataSectors uint32) *Facade {
	t.Helper()
	const sectorSize = 4096
	dev := flashdev.NewMemDevice(sectorSize, dataSectors+2)
	h := fifo.NewHeader(sectorSize, 2, dataSectors)
	ff := fifo.New(dev, h)
	if err := ff.Format(context.Background()); err != nil {
		t.Fatalf("format: %v", err)
	}
	return NewFacade(New(rtcCap, 8), ff)
}

func TestFacadeShufflesIntoFlashOnOverflow(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, 2, 4)

	for i := uint32(0); i < 5; i++ {
		if err := f.Push(ctx, mkSample(1000+i, int32(i), "temp")); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	c, err := f.Count(ctx)
	if err != nil || c != 5 {
		t.Fatalf("count = %d, %v; want 5, nil", c, err)
	}

	for i := uint32(0); i < 5; i++ {
		s, ok, err := f.Pop(ctx)
		if err != nil || !ok {
			t.Fatalf("pop %d: ok=%v err=%v", i, ok, err)
		}
		if s.Value != int32(i) {
			t.Fatalf("pop %d = value %d, want %d (global FIFO order preserved across tiers)", i, s.Value, i)
		}
	}

	if c, err := f.Count(ctx); err != nil || c != 0 {
		t.Fatalf("count after draining = %d, %v; want 0, nil", c, err)
	}
}

func TestFacadeDropAcrossTiers(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, 2, 4)

	for i := uint32(0); i < 5; i++ {
		if err := f.Push(ctx, mkSample(1000+i, int32(i), "temp")); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	// Flash holds samples 0,1,2 (shuffled out as the ring overflowed);
	// RTC holds 3,4. Dropping 4 should drain flash and one RTC entry.
	if ok, err := f.Drop(ctx, 4); err != nil || !ok {
		t.Fatalf("drop: ok=%v err=%v", ok, err)
	}
	s, ok, err := f.Peek(ctx, 0)
	if err != nil || !ok || s.Value != 4 {
		t.Fatalf("peek(0) after drop = %+v, %v, %v; want value 4", s, ok, err)
	}
}
