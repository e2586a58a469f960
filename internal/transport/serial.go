package transport

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// SerialTransport is a Transport over a debug UART link, for field units
// without a network stack.
type SerialTransport struct {
	PortName string
	BaudRate int

	mu      sync.Mutex
	port    serial.Port
	closed  bool
	onRecv  func([]byte)
	onError func(error)
	done    chan struct{}
}

// NewSerialTransport targets portName (e.g. "/dev/ttyUSB0") at baudRate
// (defaulting to 115200 when zero).
func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	if baudRate == 0 {
		baudRate = 115200
	}
	return &SerialTransport{PortName: portName, BaudRate: baudRate}
}

func (s *SerialTransport) SetRecvHandler(f func([]byte)) { s.onRecv = f }
func (s *SerialTransport) SetErrorHandler(f func(error)) { s.onError = f }

func (s *SerialTransport) Connect(ctx context.Context) error {
	port, err := serial.Open(s.PortName, &serial.Mode{BaudRate: s.BaudRate})
	if err != nil {
		return fmt.Errorf("transport: open serial port %s: %w", s.PortName, err)
	}

	s.mu.Lock()
	s.port = port
	s.closed = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.recvLoop()
	return nil
}

func (s *SerialTransport) recvLoop() {
	s.mu.Lock()
	port := s.port
	done := s.done
	s.mu.Unlock()

	defer close(done)

	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if n > 0 && s.onRecv != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.onRecv(chunk)
		}
		if err != nil {
			s.mu.Lock()
			alreadyClosed := s.closed
			s.mu.Unlock()
			if !alreadyClosed && s.onError != nil {
				s.onError(fmt.Errorf("transport: unexpected disconnect: %w", err))
			}
			return
		}
	}
}

func (s *SerialTransport) Send(ctx context.Context, p []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return fmt.Errorf("transport: serial send before connect")
	}
	if _, err := port.Write(p); err != nil {
		return fmt.Errorf("transport: serial send: %w", err)
	}
	return nil
}

func (s *SerialTransport) Disconnect() error {
	s.mu.Lock()
	if s.closed || s.port == nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	port := s.port
	done := s.done
	s.mu.Unlock()

	err := port.Close()
	if done != nil {
		<-done
	}
	return err
}
