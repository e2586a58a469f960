package transport

import (
	"context"
	"errors"
	"testing"
)

func TestFakeTransportSendRecordsBytes(t *testing.T) {
	ft := &FakeTransport{}
	if err := ft.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ft.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ft.Sent) != 1 || string(ft.Sent[0]) != "hello" {
		t.Fatalf("Sent = %v, want [hello]", ft.Sent)
	}
}

func TestFakeTransportDeliverInvokesRecvHandler(t *testing.T) {
	ft := &FakeTransport{}
	var got []byte
	ft.SetRecvHandler(func(p []byte) { got = p })
	ft.Deliver([]byte("S4PP/1.0 SHA256 100\n"))
	if string(got) != "S4PP/1.0 SHA256 100\n" {
		t.Fatalf("got = %q", got)
	}
}

func TestFakeTransportFailInvokesErrorHandler(t *testing.T) {
	ft := &FakeTransport{}
	var got error
	ft.SetErrorHandler(func(err error) { got = err })
	want := errors.New("connection reset")
	ft.Fail(want)
	if got != want {
		t.Fatalf("got = %v, want %v", got, want)
	}
}

func TestFakeTransportSendErrPropagates(t *testing.T) {
	ft := &FakeTransport{SendErr: errors.New("backpressure")}
	if err := ft.Send(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected send error")
	}
}
