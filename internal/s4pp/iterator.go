package s4pp

import (
	"context"

	"github.com/tidelog/tidelog/internal/fifo"
	"github.com/tidelog/tidelog/internal/sample"
)

// Item is one pending upload record, matching configuration
// iterator shape `{name, unit?, unitdiv?, time, value}`.
type Item struct {
	Name     string
	Unit     string
	UnitDiv  string
	Time     int64
	Value    int32
	Decimals uint8
}

// SampleIterator produces upload items in FIFO order. Next returns
// ok=false (with a nil error) once exhausted.
type SampleIterator interface {
	Next(ctx context.Context) (Item, bool, error)
}

// PeekIterator adapts a *fifo.FlashFIFO to SampleIterator without
// consuming entries: the session only learns how many samples were
// acknowledged, and it is the caller's job to Drop exactly that many
// once the completion callback fires.
type PeekIterator struct {
	Source   *fifo.FlashFIFO
	offset   uint32
	UnitDiv  string
	UnitName string
}

// NewPeekIterator wraps source, starting from its current head.
func NewPeekIterator(source *fifo.FlashFIFO) *PeekIterator {
	return &PeekIterator{Source: source, UnitDiv: "1"}
}

func (p *PeekIterator) Next(ctx context.Context) (Item, bool, error) {
	s, ok, err := p.Source.Peek(ctx, p.offset)
	if err != nil {
		return Item{}, false, &FlashError{Err: err}
	}
	if !ok {
		return Item{}, false, nil
	}
	p.offset++
	return Item{
		Name:     s.Tag.String(),
		Unit:     p.UnitName,
		UnitDiv:  p.UnitDiv,
		Time:     int64(s.Timestamp),
		Value:    s.Value,
		Decimals: s.Decimals,
	}, true, nil
}
