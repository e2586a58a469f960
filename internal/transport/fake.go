package transport

import "context"

// FakeTransport is an in-memory Transport for tests: Send appends to Sent
// and Deliver feeds bytes to the installed recv handler, without any real
// I/O.
type FakeTransport struct {
	Sent       [][]byte
	connected  bool
	onRecv     func([]byte)
	onError    func(error)
	ConnectErr error
	SendErr    error

	// SentCh, if non-nil, receives a copy of every payload passed to
	// Send, letting a test synchronize with a session running on
	// another goroutine instead of polling Sent.
	SentCh chan []byte
}

func (f *FakeTransport) SetRecvHandler(h func([]byte)) { f.onRecv = h }
func (f *FakeTransport) SetErrorHandler(h func(error)) { f.onError = h }

func (f *FakeTransport) Connect(ctx context.Context) error {
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *FakeTransport) Send(ctx context.Context, p []byte) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.Sent = append(f.Sent, cp)
	if f.SentCh != nil {
		f.SentCh <- cp
	}
	return nil
}

func (f *FakeTransport) Disconnect() error {
	f.connected = false
	return nil
}

// Deliver simulates bytes arriving from the peer.
func (f *FakeTransport) Deliver(p []byte) {
	if f.onRecv != nil {
		f.onRecv(p)
	}
}

// Fail simulates a fatal transport error being observed.
func (f *FakeTransport) Fail(err error) {
	if f.onError != nil {
		f.onError(err)
	}
}
