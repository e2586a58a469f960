// Package s4pp implements the S4PP upload protocol engine: the
// client-side hello/auth/sequence/signature/commit state machine that
// streams samples out of a FIFO to a server over a Transport,
// transcribed from app/modules/s4pp.c.
package s4pp

import "fmt"

// ConfigError reports a missing or invalid upload configuration,
// surfaced synchronously before any connection attempt.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("s4pp: config error: missing %s", e.Field)
}

// AllocationError reports a failure to grow the payload buffer past its
// hard allocation ceiling. On this path the sequence's SIG line is never
// sent, so it is not committed; chunks of it already flushed to the
// transport are not taken back.
type AllocationError struct {
	Requested int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("s4pp: allocation error: could not grow payload buffer to %d bytes", e.Requested)
}

// TransportError wraps a Send/Connect failure from the underlying
// Transport.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("s4pp: transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unexpected line from the server.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("s4pp: protocol error: %s", e.Reason) }

// CommitRejection reports a server NOK/REJ for a sequence.
type CommitRejection struct {
	Seq    int
	Reason string
}

func (e *CommitRejection) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("s4pp: sequence %d rejected: %s", e.Seq, e.Reason)
	}
	return fmt.Sprintf("s4pp: sequence %d rejected", e.Seq)
}

// IteratorError wraps a failure returned by a SampleIterator.
type IteratorError struct {
	Err error
}

func (e *IteratorError) Error() string { return fmt.Sprintf("s4pp: iterator error: %v", e.Err) }
func (e *IteratorError) Unwrap() error { return e.Err }

// FlashError wraps a failure from the backing FIFO layer, propagated
// verbatim as returned by the FIFO layer itself.
type FlashError struct {
	Err error
}

func (e *FlashError) Error() string { return fmt.Sprintf("s4pp: flash error: %v", e.Err) }
func (e *FlashError) Unwrap() error { return e.Err }
