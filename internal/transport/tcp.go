package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultPort is the S4PP server's default TCP port.
const DefaultPort = 22226

// TCPTransport is a plain-TCP or TLS Transport, dialed per Config.Secure.
// No third-party TCP/TLS stack in the retrieved corpus improves on the
// standard library for this, so it is deliberately built on net/crypto-tls
// (see DESIGN.md).
type TCPTransport struct {
	Addr   string
	Secure bool

	mu      sync.Mutex
	conn    net.Conn
	closed  bool
	onRecv  func([]byte)
	onError func(error)
	done    chan struct{}
}

// NewTCPTransport targets host:port, connecting with TLS when secure is
// true ("When secure is requested the transport is TLS").
func NewTCPTransport(host string, port int, secure bool) *TCPTransport {
	if port == 0 {
		port = DefaultPort
	}
	return &TCPTransport{Addr: fmt.Sprintf("%s:%d", host, port), Secure: secure}
}

func (t *TCPTransport) SetRecvHandler(f func([]byte)) { t.onRecv = f }
func (t *TCPTransport) SetErrorHandler(f func(error)) { t.onError = f }

func (t *TCPTransport) Connect(ctx context.Context) error {
	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if t.Secure {
		tlsDialer := &tls.Dialer{NetDialer: dialer}
		conn, err = tlsDialer.DialContext(ctx, "tcp", t.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", t.Addr)
	}
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", t.Addr, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.closed = false
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.recvLoop()
	return nil
}

func (t *TCPTransport) recvLoop() {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.mu.Unlock()

	defer close(done)

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 && t.onRecv != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.onRecv(chunk)
		}
		if err != nil {
			t.mu.Lock()
			alreadyClosed := t.closed
			t.mu.Unlock()
			if !alreadyClosed && t.onError != nil {
				t.onError(fmt.Errorf("transport: unexpected disconnect: %w", err))
			}
			return
		}
	}
}

// Send writes p in full. The write deadline is ctx's deadline; when ctx
// has none, the write has no deadline. A failed write is returned, not
// retried.
func (t *TCPTransport) Send(ctx context.Context, p []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: send before connect")
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	_, err := conn.Write(p)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (t *TCPTransport) Disconnect() error {
	t.mu.Lock()
	if t.closed || t.conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	done := t.done
	t.mu.Unlock()

	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}
