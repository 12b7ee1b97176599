package server

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/lilith645/Maat-Network/internal/client"
	"github.com/lilith645/Maat-Network/internal/config"
	"github.com/lilith645/Maat-Network/internal/protocol"
)

func startService(t *testing.T, mutate func(*config.Relay)) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.PollTimeout = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	svc := NewService(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.RunContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("service stopped with err=%v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("service did not stop")
		}
	})
	waitFor(t, 2*time.Second, "service ready", svc.Ready)
	return svc
}

func waitFor(t *testing.T, within time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func dial(t *testing.T, addr string, enc protocol.Encoding) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, client.Config{Addr: addr, Encoding: enc, DialAttempts: 3})
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func join(t *testing.T, c *client.Client, name string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Join(ctx, name); err != nil {
		t.Fatalf("join %q: %v", name, err)
	}
}

func expectNext(t *testing.T, label string, c *client.Client, want protocol.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("%s: next: %v", label, err)
	}
	if !got.Equal(want) {
		t.Fatalf("%s: got %s want %s", label, got, want)
	}
}

func expectEOF(t *testing.T, label string, c *client.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := c.Next(ctx)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("%s: expected EOF, got msg=%s err=%v", label, m, err)
	}
}

func expectQuiet(t *testing.T, label string, c *client.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if m, err := c.Next(ctx); err == nil {
		t.Fatalf("%s: unexpected message %s", label, m)
	}
}

// room1 runs the basic two-party flow against a running service.
func room1(t *testing.T, svc *Service, hostAddr, guestAddr string, hostEnc, guestEnc protocol.Encoding) {
	t.Helper()
	host := dial(t, hostAddr, hostEnc)
	join(t, host, "room1")
	guest := dial(t, guestAddr, guestEnc)
	join(t, guest, "room1")
	expectNext(t, "host peer joined", host, protocol.PeerJoined())

	if err := guest.SendData("hello"); err != nil {
		t.Fatalf("guest send: %v", err)
	}
	expectNext(t, "host data", host, protocol.Data("hello"))
	if err := host.SendRaw([]byte{0x00, 0x01, 0xFF}); err != nil {
		t.Fatalf("host send raw: %v", err)
	}
	expectNext(t, "guest raw", guest, protocol.RawData([]byte{0x00, 0x01, 0xFF}))
	expectQuiet(t, "host has no echo", host)

	info, ok := svc.Table().Lookup("room1")
	if !ok || len(info.Members) != 2 {
		t.Fatalf("room1 lookup = %+v ok=%v", info, ok)
	}

	if err := guest.EndSession(); err != nil {
		t.Fatalf("end session: %v", err)
	}
	expectNext(t, "guest end ack", guest, protocol.Success())
	expectNext(t, "guest shutdown", guest, protocol.Shutdown())
	expectEOF(t, "guest closed", guest)
	expectNext(t, "host shutdown", host, protocol.Shutdown())
	expectEOF(t, "host closed", host)

	waitFor(t, 2*time.Second, "room1 removed", func() bool {
		_, ok := svc.Table().Lookup("room1")
		return !ok
	})
}
