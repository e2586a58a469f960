package fifo

import (
	"context"
	"testing"

	"github.com/tidelog/tidelog/internal/flashdev"
	"github.com/tidelog/tidelog/internal/sample"
)

const sectorSize = 4096

// newTestFIFO builds a FlashFIFO with dataSectors data sectors behind an
// in-memory device, already formatted to empty.
func newTestFIFO(t *testing.T, dataSectors uint32) (*FlashFIFO, *flashdev.MemDevice) {
	t.Helper()
	// sectors: 0=head counter, 1=tail counter, 2..2+dataSectors-1=data
	dev := flashdev.NewMemDevice(sectorSize, dataSectors+2)
	h := NewHeader(sectorSize, 2, dataSectors)
	f := New(dev, h)
	if err := f.Format(context.Background()); err != nil {
		t.Fatalf("Format: %v", err)
	}
	return f, dev
}

func mustSample(i int) sample.Sample {
	return sample.Sample{Timestamp: uint32(1000 + i), Value: int32(i), Decimals: 0, Tag: sample.TagFromString("t")}
}

func TestPushPopParity(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFIFO(t, 4)

	if c, err := f.Count(ctx); err != nil || c != 0 {
		t.Fatalf("initial count = %d, %v; want 0, nil", c, err)
	}

	s := sample.Sample{Timestamp: 1000, Value: 42, Decimals: 0, Tag: sample.TagFromString("t")}
	ok, err := f.Push(ctx, s)
	if err != nil || !ok {
		t.Fatalf("Push: ok=%v err=%v", ok, err)
	}

	if c, err := f.Count(ctx); err != nil || c != 1 {
		t.Fatalf("count after push = %d, %v; want 1, nil", c, err)
	}

	got, ok, err := f.Pop(ctx)
	if err != nil || !ok {
		t.Fatalf("Pop: ok=%v err=%v", ok, err)
	}
	if got != s {
		t.Fatalf("Pop returned %+v, want %+v", got, s)
	}

	if c, err := f.Count(ctx); err != nil || c != 0 {
		t.Fatalf("count after pop = %d, %v; want 0, nil", c, err)
	}
}

func TestPushFillsSectorAndPreErasesNext(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFIFO(t, 3)

	eps := f.Header.EntriesPerSector
	for i := uint32(0); i < eps; i++ {
		if ok, err := f.Push(ctx, mustSample(int(i))); err != nil || !ok {
			t.Fatalf("push %d: ok=%v err=%v", i, ok, err)
		}
	}
	// Sector 0 is now exactly full; sector 1 has not been touched by any
	// write yet, so it should still read as empty.
	s, ok, err := f.Peek(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("peek after filling a sector: ok=%v err=%v", ok, err)
	}
	if s != mustSample(0) {
		t.Fatalf("peek(0) = %+v, want sample 0", s)
	}

	if ok, err := f.Push(ctx, mustSample(int(eps))); err != nil || !ok {
		t.Fatalf("push %d (rolls tail into sector 1): ok=%v err=%v", eps, ok, err)
	}
	c, err := f.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if c != eps+1 {
		t.Fatalf("count = %d, want %d", c, eps+1)
	}
}

// TestWrapEviction exercises the wrap-eviction boundary case with N=3
// data sectors of E entries each. A faithful port of flashfifo.h
// resolves the tail lazily: pushing the (3E+1)th sample discovers the
// last data sector is full, finds that the next sector (0, wrapping) is
// still owned by the head, evicts exactly one E-sample block (samples
// 0..E-1) by erasing it, and advances the head out of it. 3E+1 pushed
// minus one evicted E-sample block leaves 2E+1 live samples, with the
// oldest being sample E (the first entry of the second sector written).
func TestWrapEviction(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFIFO(t, 3)
	eps := f.Header.EntriesPerSector // 4032/16 = 252 for a 4096-byte sector

	total := 3*eps + 1
	for i := uint32(0); i < total; i++ {
		if ok, err := f.Push(ctx, mustSample(int(i))); err != nil || !ok {
			t.Fatalf("push %d: ok=%v err=%v", i, ok, err)
		}
	}

	c, err := f.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if want := total - eps; c != want {
		t.Fatalf("count = %d, want %d (one E-sample block evicted)", c, want)
	}

	oldest, ok, err := f.Peek(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("peek(0): ok=%v err=%v", ok, err)
	}
	if want := mustSample(int(eps)); oldest != want {
		t.Fatalf("peek(0) = %+v, want %+v", oldest, want)
	}
}

func TestPeekBeyondCountFails(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFIFO(t, 4)

	if ok, err := f.Push(ctx, mustSample(0)); err != nil || !ok {
		t.Fatalf("push: ok=%v err=%v", ok, err)
	}

	if _, ok, err := f.Peek(ctx, 1); err != nil || ok {
		t.Fatalf("peek(1) with count=1: ok=%v err=%v, want false, nil", ok, err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := sample.Sample{Timestamp: 123456, Value: -99, Decimals: 3, Tag: sample.TagFromString("abcd")}
	var buf [sample.Size]byte
	s.Encode(buf[:])
	got := sample.Decode(buf[:])
	if got != s {
		t.Fatalf("decode(encode(s)) = %+v, want %+v", got, s)
	}
}

func TestInjectedFailureLeavesConsistentState(t *testing.T) {
	ctx := context.Background()
	f, dev := newTestFIFO(t, 4)

	if ok, err := f.Push(ctx, mustSample(0)); err != nil || !ok {
		t.Fatalf("push 0: ok=%v err=%v", ok, err)
	}

	dev.FailNextOp(flashdev.FailWrite)
	if ok, err := f.Push(ctx, mustSample(1)); err == nil || ok {
		t.Fatalf("push with injected write failure: ok=%v err=%v, want an error", ok, err)
	}

	// The failed push must not have been partially applied: count is
	// still exactly 1, and the one real sample is intact.
	c, err := f.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if c != 1 {
		t.Fatalf("count after failed push = %d, want 1", c)
	}
	got, ok, err := f.Peek(ctx, 0)
	if err != nil || !ok || got != mustSample(0) {
		t.Fatalf("peek(0) after failed push = %+v, %v, %v", got, ok, err)
	}
}
