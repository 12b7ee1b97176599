package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lilith645/Maat-Network/internal/client"
	"github.com/lilith645/Maat-Network/internal/config"
	"github.com/lilith645/Maat-Network/internal/protocol"
	"github.com/lilith645/Maat-Network/internal/server"
	"github.com/lilith645/Maat-Network/internal/testutil/testlog"
)

func startRelay(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	svc := server.NewService(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.RunContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(2 * time.Second)
	for !svc.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("relay not ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return svc.Addr("relay")
}

func TestRunForwardsLinesAndEndsSession(t *testing.T) {
	testlog.Start(t)
	addr := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host, err := client.Dial(ctx, client.Config{Addr: addr})
	if err != nil {
		t.Fatalf("dial host: %v", err)
	}
	defer host.Close()
	if err := host.Join(ctx, "cli"); err != nil {
		t.Fatalf("host join: %v", err)
	}

	cfg := client.DefaultConfig()
	cfg.Addr = addr
	cfg.Encoding = protocol.EncodingCBOR
	var out bytes.Buffer
	if err := run(ctx, cfg, "cli", false, true, strings.NewReader("hello\nworld\n"), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "* session closed") {
		t.Fatalf("output = %q", out.String())
	}

	want := []protocol.Message{
		protocol.PeerJoined(),
		protocol.Data("hello"),
		protocol.Data("world"),
		protocol.Shutdown(),
	}
	for i, w := range want {
		got, err := host.Next(ctx)
		if err != nil {
			t.Fatalf("host next %d: %v", i, err)
		}
		if !got.Equal(w) {
			t.Fatalf("host message %d = %s want %s", i, got, w)
		}
	}
}
