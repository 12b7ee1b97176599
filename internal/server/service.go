package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lilith645/Maat-Network/internal/config"
	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/observability"
	"github.com/lilith645/Maat-Network/internal/relay"
	"github.com/lilith645/Maat-Network/internal/transport"
	"golang.org/x/sync/errgroup"
)

// Service is one relay node: a session table shared by every client
// transport, plus the optional admin surface.
type Service struct {
	cfg     config.Relay
	table   *relay.Table
	handler *relay.Handler

	peers      *peerSet
	reactorEng *reactorEngine
	active     atomic.Int64

	ready   atomic.Bool
	started time.Time

	addrMu sync.Mutex
	addrs  map[string]string
}

func NewService(cfg config.Relay) *Service {
	s := &Service{
		cfg:     cfg,
		peers:   newPeerSet(),
		started: time.Now(),
		addrs:   make(map[string]string),
	}
	s.table = relay.NewTable(
		relay.WithObserver(observability.RelayMetrics{}),
		relay.WithNotifier(s.notify),
	)
	s.handler = relay.NewHandler(s.table)
	s.reactorEng = newReactorEngine(s.handler)
	return s
}

func (s *Service) Table() *relay.Table { return s.table }

func (s *Service) Config() config.Relay { return s.cfg }

// Addr returns the bound address of a listener ("relay", "ws" or "admin")
// once RunContext has opened it.
func (s *Service) Addr(name string) string {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addrs[name]
}

func (s *Service) setAddr(name, addr string) {
	s.addrMu.Lock()
	s.addrs[name] = addr
	s.addrMu.Unlock()
}

func (s *Service) notify(addrs []string) {
	s.peers.notify(addrs)
	s.reactorEng.notify(addrs)
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext binds every configured listener, then serves them until ctx is
// cancelled or one of them fails.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	observability.RegisterMetrics()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	var closers []func() error
	fail := func(err error) error {
		cancel()
		for _, c := range closers {
			_ = c()
		}
		_ = g.Wait()
		return err
	}

	switch s.cfg.Engine {
	case config.EngineReactor:
		ln, err := transport.Listen(s.cfg.ListenAddr)
		if err != nil {
			return fail(fmt.Errorf("relay listen %s: %w", s.cfg.ListenAddr, err))
		}
		closers = append(closers, ln.Close)
		s.setAddr("relay", ln.LocalAddr())
		g.Go(func() error { return s.serveReactor(gctx, ln) })
	default:
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fail(fmt.Errorf("relay listen %s: %w", s.cfg.ListenAddr, err))
		}
		closers = append(closers, ln.Close)
		s.setAddr("relay", ln.Addr().String())
		g.Go(func() error { return s.Serve(gctx, ln) })
	}

	if addr := s.cfg.WSListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fail(fmt.Errorf("ws listen %s: %w", addr, err))
		}
		closers = append(closers, ln.Close)
		s.setAddr("ws", ln.Addr().String())
		g.Go(func() error { return s.ServeWebSocket(gctx, ln) })
	}

	if addr := s.cfg.AdminListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fail(fmt.Errorf("admin listen %s: %w", addr, err))
		}
		closers = append(closers, ln.Close)
		s.setAddr("admin", ln.Addr().String())
		g.Go(func() error { return s.ServeAdmin(gctx, ln) })
	}

	s.ready.Store(true)
	defer s.ready.Store(false)
	logs.Infof("relay.Service.Run started node=%q engine=%s relay=%q ws=%q admin=%q",
		s.cfg.NodeID, s.cfg.Engine, s.Addr("relay"), s.Addr("ws"), s.Addr("admin"))
	err := g.Wait()
	logs.Infof("relay.Service.Run stopped node=%q err=%v", s.cfg.NodeID, err)
	return err
}

// Serve runs the worker engine accept loop on ln until ctx is cancelled.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.peers.closeAll()
	})
	defer stop()
	logs.Warnf("relay.Service.Serve listening addr=%q", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if !s.admit() {
			logs.Warnf("relay.Service.Serve connection limit reached remote=%q max=%d",
				conn.RemoteAddr().String(), s.cfg.MaxConnections)
			_ = conn.Close()
			continue
		}
		w := newTCPWire(conn)
		go s.servePeer(w, w.RemoteAddr())
	}
}

// admit reserves a connection slot; servePeer releases it.
func (s *Service) admit() bool {
	n := s.active.Add(1)
	if s.cfg.MaxConnections > 0 && n > int64(s.cfg.MaxConnections) {
		s.active.Add(-1)
		return false
	}
	return true
}

// servePeer runs one worker connection to completion on the caller's goroutine.
func (s *Service) servePeer(w wire, addr string) {
	pc := newPeerConn(w, s.handler, addr)
	s.peers.add(pc)
	observability.RecordConnectionOpened(w.Transport())
	logs.Infof("relay.worker client connected remote=%q transport=%s active=%d", addr, w.Transport(), s.active.Load())
	defer func() {
		pc.close()
		s.peers.remove(pc)
		remaining := s.active.Add(-1)
		observability.RecordConnectionClosed(w.Transport())
		logs.Infof("relay.worker client disconnected remote=%q transport=%s active=%d", addr, w.Transport(), remaining)
	}()

	go pc.writeLoop()
	pc.readLoop()
}

// maxRegistrations converts the client limit to a reactor registry bound,
// which also counts the listener.
func (s *Service) maxRegistrations() int {
	if s.cfg.MaxConnections <= 0 {
		return 0
	}
	return s.cfg.MaxConnections + 1
}

// Ready reports whether every listener is bound and serving.
func (s *Service) Ready() bool { return s.ready.Load() }
