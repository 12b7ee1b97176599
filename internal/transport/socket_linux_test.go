//go:build linux

package transport

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func acceptOne(t *testing.T, ln *Socket) Endpoint {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ep, err := ln.Accept()
		if err == nil {
			return ep
		}
		if !errors.Is(err, ErrWouldBlock) {
			t.Fatalf("accept: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("accept timed out")
	return nil
}

func TestSocketAcceptReadWrite(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if ln.Kind() != KindListener || ln.Fd() < 0 {
		t.Fatalf("unexpected listener %s fd=%d", ln.Kind(), ln.Fd())
	}
	if _, err := ln.Accept(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("empty accept should would-block, got %v", err)
	}

	conn, err := net.Dial("tcp", ln.LocalAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ep := acceptOne(t, ln)
	defer ep.Close()
	if ep.Kind() != KindStream || ep.RemoteAddr() != conn.LocalAddr().String() {
		t.Fatalf("unexpected stream kind=%s remote=%s", ep.Kind(), ep.RemoteAddr())
	}

	buf := make([]byte, 16)
	if _, err := ep.Read(buf); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("idle read should would-block, got %v", err)
	}

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	var n int
	for time.Now().Before(deadline) {
		n, err = ep.Read(buf)
		if err == nil {
			break
		}
		if Classify(err) != Transient {
			t.Fatalf("read: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("read %q", buf[:n])
	}

	if _, err := ep.Write([]byte("pong")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, 4)
	if _, err := io.ReadFull(conn, got); err != nil || string(got) != "pong" {
		t.Fatalf("client read %q err=%v", got, err)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err = ep.Read(buf)
		if Classify(err) == Closed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected closed after peer close, last err %v", err)
}

func TestSocketKindMismatch(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if _, err := ln.Read(make([]byte, 1)); !errors.Is(err, ErrNotStream) {
		t.Fatalf("expected ErrNotStream, got %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestListenInvalidAddr(t *testing.T) {
	if _, err := Listen("not-an-addr"); !errors.Is(err, ErrInvalidAddr) {
		t.Fatalf("expected ErrInvalidAddr, got %v", err)
	}
}
