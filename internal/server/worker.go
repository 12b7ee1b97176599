package server

import (
	"sync"

	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/observability"
	"github.com/lilith645/Maat-Network/internal/protocol"
	"github.com/lilith645/Maat-Network/internal/relay"
	"github.com/lilith645/Maat-Network/internal/transport"
)

// peerConn drives one client in the worker engine: the caller's goroutine
// reads, a writer goroutine sleeps on wake and drains the peer's queue. mu
// serialises Handle, Drain and writes so each recipient sees FIFO order.
type peerConn struct {
	w       wire
	handler *relay.Handler
	peer    *relay.Peer

	mu     sync.Mutex
	enc    protocol.Encoding
	encSet bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newPeerConn(w wire, h *relay.Handler, addr string) *peerConn {
	return &peerConn{
		w:       w,
		handler: h,
		peer:    relay.NewPeer(addr),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// signal asks the writer to drain. It never blocks.
func (pc *peerConn) signal() {
	select {
	case pc.wake <- struct{}{}:
	default:
	}
}

func (pc *peerConn) readLoop() {
	for {
		m, enc, err := pc.w.ReadMessage()
		if err != nil {
			pc.logReadErr(err)
			return
		}
		pc.mu.Lock()
		if !pc.encSet {
			pc.enc, pc.encSet = enc, true
		}
		out := pc.handler.Handle(pc.peer, m)
		werr := pc.deliver(out)
		pc.mu.Unlock()
		if werr != nil {
			logs.Debugf("relay.worker write remote=%q err=%v", pc.peer.Addr, werr)
			return
		}
		if out.Close {
			return
		}
	}
}

func (pc *peerConn) writeLoop() {
	for {
		select {
		case <-pc.done:
			return
		case <-pc.wake:
		}
		pc.mu.Lock()
		out := pc.handler.Drain(pc.peer)
		werr := pc.deliver(out)
		pc.mu.Unlock()
		if werr != nil || out.Close {
			if werr != nil {
				logs.Debugf("relay.worker drain write remote=%q err=%v", pc.peer.Addr, werr)
			}
			pc.close()
			return
		}
	}
}

// deliver writes replies in order. Caller holds mu.
func (pc *peerConn) deliver(out relay.Outcome) error {
	for _, m := range out.Replies {
		b, err := protocol.Encode(m, pc.enc)
		if err != nil {
			return err
		}
		if err := pc.w.WriteFrame(b); err != nil {
			return err
		}
	}
	return nil
}

// close tears the connection down once and runs the relay cleanup path.
func (pc *peerConn) close() {
	pc.closeOnce.Do(func() {
		close(pc.done)
		_ = pc.w.Close()
		pc.mu.Lock()
		pc.handler.Disconnect(pc.peer)
		pc.mu.Unlock()
	})
}

func (pc *peerConn) logReadErr(err error) {
	switch {
	case transport.IsExpectedClose(err):
	case protocol.IsMalformed(err):
		observability.RecordDecodeError(pc.w.Transport())
		logs.Warnf("relay.worker decode remote=%q err=%v", pc.peer.Addr, err)
	default:
		logs.Debugf("relay.worker read remote=%q err=%v", pc.peer.Addr, err)
	}
}

// peerSet maps relay addresses to live worker connections for the notifier.
type peerSet struct {
	mu    sync.RWMutex
	peers map[string]*peerConn
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[string]*peerConn)}
}

func (s *peerSet) add(pc *peerConn) {
	s.mu.Lock()
	s.peers[pc.peer.Addr] = pc
	s.mu.Unlock()
}

func (s *peerSet) remove(pc *peerConn) {
	s.mu.Lock()
	if s.peers[pc.peer.Addr] == pc {
		delete(s.peers, pc.peer.Addr)
	}
	s.mu.Unlock()
}

func (s *peerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *peerSet) notify(addrs []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, addr := range addrs {
		if pc, ok := s.peers[addr]; ok {
			pc.signal()
		}
	}
}

func (s *peerSet) closeAll() {
	s.mu.RLock()
	all := make([]*peerConn, 0, len(s.peers))
	for _, pc := range s.peers {
		all = append(all, pc)
	}
	s.mu.RUnlock()
	for _, pc := range all {
		pc.close()
	}
}
