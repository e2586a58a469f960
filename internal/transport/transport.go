// Package transport abstracts the byte-stream connection the S4PP engine
// speaks over, with implementations for a TCP/TLS socket and a serial
// debug-UART link.
package transport

import "context"

// Transport is a connection-oriented byte stream with asynchronous
// receive delivery, modeling the handler as something set on the
// transport rather than a pointer captured at registration time.
type Transport interface {
	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error
	// Send writes p in full or returns an error; the caller may have at
	// most MaxInFlight sends outstanding at once.
	Send(ctx context.Context, p []byte) error
	// SetRecvHandler installs the callback invoked with each chunk of
	// bytes received off the wire. It must be called before Connect.
	SetRecvHandler(func([]byte))
	// SetErrorHandler installs the callback invoked when the receive
	// loop or an async send observes a fatal transport error.
	SetErrorHandler(func(error))
	// Disconnect tears down the connection. It is safe to call more than
	// once.
	Disconnect() error
}
