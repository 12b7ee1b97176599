package server

import (
	"context"
	"sync"

	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/observability"
	"github.com/lilith645/Maat-Network/internal/protocol"
	"github.com/lilith645/Maat-Network/internal/reactor"
	"github.com/lilith645/Maat-Network/internal/relay"
	"github.com/lilith645/Maat-Network/internal/transport"
)

type reactorPeer struct {
	peer   *relay.Peer
	enc    protocol.Encoding
	encSet bool
}

// reactorEngine binds the relay handler to a single-threaded reactor. Every
// method except notify runs on the reactor loop goroutine.
type reactorEngine struct {
	handler *relay.Handler
	r       *reactor.Reactor

	peers  map[reactor.Token]*reactorPeer
	byAddr map[string]reactor.Token

	dirtyMu sync.Mutex
	dirty   map[string]struct{}
}

func newReactorEngine(h *relay.Handler) *reactorEngine {
	return &reactorEngine{
		handler: h,
		peers:   make(map[reactor.Token]*reactorPeer),
		byAddr:  make(map[string]reactor.Token),
		dirty:   make(map[string]struct{}),
	}
}

// notify marks addrs for draining and wakes the loop. Safe from any goroutine.
func (e *reactorEngine) notify(addrs []string) {
	e.dirtyMu.Lock()
	r := e.r
	if r == nil {
		e.dirtyMu.Unlock()
		return
	}
	for _, addr := range addrs {
		e.dirty[addr] = struct{}{}
	}
	e.dirtyMu.Unlock()
	r.Wake()
}

func (e *reactorEngine) OnOpen(tok reactor.Token, remote string) {
	p := &reactorPeer{peer: relay.NewPeer(remote)}
	e.peers[tok] = p
	e.byAddr[remote] = tok
	observability.RecordConnectionOpened(transportTCP)
	logs.Infof("relay.reactor client connected remote=%q token=%d", remote, tok)
}

func (e *reactorEngine) OnData(tok reactor.Token, buf []byte) (int, error) {
	p, ok := e.peers[tok]
	if !ok {
		return len(buf), nil
	}
	used := 0
	for used < len(buf) {
		m, enc, n, err := protocol.Split(buf[used:])
		if err != nil {
			if !protocol.IsFatal(err) {
				break
			}
			observability.RecordDecodeError(transportTCP)
			logs.Warnf("relay.reactor decode remote=%q err=%v", p.peer.Addr, err)
			return used, err
		}
		used += n
		if !p.encSet {
			p.enc, p.encSet = enc, true
		}
		if e.apply(tok, p, e.handler.Handle(p.peer, m)) {
			break
		}
	}
	observability.RecordBytes(transportTCP, "in", used)
	return used, nil
}

func (e *reactorEngine) OnWake() {
	e.dirtyMu.Lock()
	if len(e.dirty) == 0 {
		e.dirtyMu.Unlock()
		return
	}
	addrs := make([]string, 0, len(e.dirty))
	for addr := range e.dirty {
		addrs = append(addrs, addr)
	}
	clear(e.dirty)
	e.dirtyMu.Unlock()

	for _, addr := range addrs {
		tok, ok := e.byAddr[addr]
		if !ok {
			continue
		}
		p := e.peers[tok]
		e.apply(tok, p, e.handler.Drain(p.peer))
	}
}

func (e *reactorEngine) OnClose(tok reactor.Token, remote string) {
	p, ok := e.peers[tok]
	if !ok {
		return
	}
	delete(e.peers, tok)
	if e.byAddr[remote] == tok {
		delete(e.byAddr, remote)
	}
	e.handler.Disconnect(p.peer)
	observability.RecordConnectionClosed(transportTCP)
	logs.Infof("relay.reactor client disconnected remote=%q token=%d", remote, tok)
}

// apply queues the outcome's replies and reports whether the connection is
// now closing.
func (e *reactorEngine) apply(tok reactor.Token, p *reactorPeer, out relay.Outcome) bool {
	for _, m := range out.Replies {
		b, err := protocol.Encode(m, p.enc)
		if err != nil {
			logs.Errf("relay.reactor encode remote=%q msg=%s err=%v", p.peer.Addr, m, err)
			continue
		}
		if err := e.r.Send(tok, b); err != nil {
			return true
		}
		observability.RecordBytes(transportTCP, "out", len(b))
	}
	if out.Close {
		e.r.CloseAfterFlush(tok)
		return true
	}
	return false
}

// serveReactor runs the reactor engine on ln until ctx is cancelled.
func (s *Service) serveReactor(ctx context.Context, ln *transport.Socket) error {
	poller, err := reactor.NewPoller()
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer poller.Close()

	eng := s.reactorEng
	r := reactor.New(poller, eng, reactor.Options{
		MaxConnections: s.maxRegistrations(),
		ReadChunkLimit: s.cfg.ReadChunkLimit,
	}, s.cfg.PollTimeout)
	eng.dirtyMu.Lock()
	eng.r = r
	eng.dirtyMu.Unlock()
	defer func() {
		eng.dirtyMu.Lock()
		eng.r = nil
		eng.dirtyMu.Unlock()
	}()

	if _, err := r.Listen(ln); err != nil {
		_ = ln.Close()
		return err
	}
	logs.Warnf("relay.Service.serveReactor listening addr=%q", ln.LocalAddr())
	return r.Run(ctx)
}
