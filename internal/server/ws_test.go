package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/lilith645/Maat-Network/internal/config"
	"github.com/lilith645/Maat-Network/internal/protocol"
	"github.com/lilith645/Maat-Network/internal/testutil/testlog"
)

func withWS(c *config.Relay) { c.WSListenAddr = "127.0.0.1:0" }

func TestWebSocketRoom1(t *testing.T) {
	testlog.Start(t)
	svc := startService(t, withWS)
	wsURL := "ws://" + svc.Addr("ws") + config.DefaultWSPath
	room1(t, svc, svc.Addr("relay"), wsURL, protocol.EncodingTLV, protocol.EncodingCBOR)
}

func TestWebSocketPeersAreDistinctFromTCP(t *testing.T) {
	testlog.Start(t)
	svc := startService(t, withWS)
	host := dial(t, svc.Addr("relay"), protocol.EncodingTLV)
	join(t, host, "mixed")
	guest := dial(t, "ws://"+svc.Addr("ws")+config.DefaultWSPath, protocol.EncodingTLV)
	join(t, guest, "mixed")
	expectNext(t, "host peer joined", host, protocol.PeerJoined())

	info, ok := svc.Table().Lookup("mixed")
	if !ok || len(info.Members) != 2 {
		t.Fatalf("lookup = %+v ok=%v", info, ok)
	}
	if !strings.HasPrefix(info.Members[1], wsAddrPrefix) {
		t.Fatalf("ws member addr = %q", info.Members[1])
	}
	if info.Host != info.Members[0] || strings.HasPrefix(info.Host, wsAddrPrefix) {
		t.Fatalf("host = %q members = %v", info.Host, info.Members)
	}
}

func TestCheckOrigin(t *testing.T) {
	testlog.Start(t)
	open := NewService(config.Default())
	restricted := NewService(func() config.Relay {
		c := config.Default()
		c.CORSOrigins = []string{"https://app.example.com", "tools.example.com"}
		return c
	}())

	cases := []struct {
		name   string
		svc    *Service
		host   string
		origin string
		want   bool
	}{
		{"no origin", restricted, "relay:6768", "", true},
		{"listed origin", restricted, "relay:6768", "https://app.example.com", true},
		{"listed host", restricted, "relay:6768", "http://tools.example.com", true},
		{"unlisted", restricted, "relay:6768", "https://evil.example.com", false},
		{"same host", open, "relay:6768", "http://relay:6768", true},
		{"cross host", open, "relay:6768", "http://other:6768", false},
		{"garbage", open, "relay:6768", "::::", false},
	}
	for _, tc := range cases {
		r, _ := http.NewRequest(http.MethodGet, "http://"+tc.host+"/ws", nil)
		r.Host = tc.host
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := tc.svc.checkOrigin(r); got != tc.want {
			t.Fatalf("%s: checkOrigin = %v want %v", tc.name, got, tc.want)
		}
	}
}
