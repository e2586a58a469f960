package s4pp

import "github.com/tidelog/tidelog/internal/hmac256"

// DefaultPayloadLimit is the payload-size ceiling a sequence buffers up
// to before the buffered bytes are sent as one chunk. Crossing it does
// not end or commit the sequence: the sequence stays open and only the
// sample-count cap or the end of the iterator closes it with SIG.
const DefaultPayloadLimit = 1400

// maxBufferBytes is the hard allocation ceiling a single buffered
// sequence chunk may never cross, regardless of PayloadLimit: a field
// unit has a fixed heap, and one pathologically long DICT name must
// fail loudly rather than grow the buffer without bound.
const maxBufferBytes = 64 * 1024

// Payload accumulates one sequence's outgoing bytes (SEQ line, interleaved
// DICT/data lines, and finally SIG) while feeding every byte into the
// session's streaming HMAC as it is appended — never after it is sent.
type Payload struct {
	buf   []byte
	mac   *hmac256.Streaming
	limit int
	count int // samples buffered this sequence
}

// NewPayload starts a payload over mac, which must already have had
// StartSequence called for this sequence.
func NewPayload(mac *hmac256.Streaming, limit int) *Payload {
	if limit <= 0 {
		limit = DefaultPayloadLimit
	}
	return &Payload{mac: mac, limit: limit}
}

// WriteLine appends line, signing it as it goes. It fails with
// AllocationError if doing so would grow the buffer past its hard
// allocation ceiling.
func (p *Payload) WriteLine(line string) error {
	if len(p.buf)+len(line) > maxBufferBytes {
		return &AllocationError{Requested: len(p.buf) + len(line)}
	}
	p.buf = append(p.buf, line...)
	_, _ = p.mac.Write([]byte(line))
	return nil
}

// AddSample records that one more data line has been buffered, for the
// batch-size cap.
func (p *Payload) AddSample() { p.count++ }

// SampleCount is the number of data lines buffered so far this sequence.
func (p *Payload) SampleCount() int { return p.count }

// Full reports whether the buffered payload has crossed the size
// ceiling, independent of any sample-count batch cap the caller also
// enforces.
func (p *Payload) Full() bool { return len(p.buf) >= p.limit }

// Finalize appends the SIG line (whose value is NOT itself fed into the
// HMAC — the signature covers every byte through but not including the
// SIG line's value) and returns the complete sequence bytes.
func (p *Payload) Finalize() []byte {
	sig := "SIG:" + p.mac.FinalHex() + "\n"
	return append(p.buf, sig...)
}

// Bytes returns the buffered bytes without finalizing.
func (p *Payload) Bytes() []byte { return p.buf }

// ResetBuf clears the accumulated bytes after a mid-sequence flush,
// keeping the HMAC and sample count running across the flush boundary:
// the signature covers the whole sequence, not one chunk.
func (p *Payload) ResetBuf() { p.buf = p.buf[:0] }
