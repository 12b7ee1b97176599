package reactor

import (
	"context"
	"errors"
	"time"

	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/transport"
)

// Handler receives connection lifecycle callbacks from the reactor loop. All
// callbacks run on the loop goroutine and may call Send, CloseAfterFlush and
// Close on the reactor.
type Handler interface {
	OnOpen(tok Token, remote string)
	// OnData sees every unconsumed inbound byte and returns how many it used.
	// A non-nil error closes the connection.
	OnData(tok Token, buf []byte) (int, error)
	// OnWake runs after every poll batch, and promptly after Wake.
	OnWake()
	OnClose(tok Token, remote string)
}

type Reactor struct {
	reg     *Registry
	handler Handler
	timeout time.Duration
	remotes map[Token]string
}

// New builds a reactor over p. pollTimeout is passed to every Poll: zero
// busy-polls, negative blocks until readiness or Wake.
func New(p Poller, h Handler, opts Options, pollTimeout time.Duration) *Reactor {
	return &Reactor{
		reg:     NewRegistry(p, opts),
		handler: h,
		timeout: pollTimeout,
		remotes: make(map[Token]string),
	}
}

// Registry exposes the underlying registry for inspection.
func (r *Reactor) Registry() *Registry { return r.reg }

// Listen registers a listening endpoint for accept readiness.
func (r *Reactor) Listen(ln transport.Endpoint) (Token, error) {
	if ln.Kind() != transport.KindListener {
		return 0, transport.ErrNotListener
	}
	return r.reg.Register(ln, transport.InterestRead)
}

// Send queues b for tok. Loop goroutine only.
func (r *Reactor) Send(tok Token, b []byte) error {
	return r.reg.Queue(tok, b)
}

// CloseAfterFlush closes tok once its queued bytes are written. Loop
// goroutine only.
func (r *Reactor) CloseAfterFlush(tok Token) {
	closed, err := r.reg.CloseAfterFlush(tok)
	if err != nil {
		if !errors.Is(err, ErrUnknownToken) {
			logs.Warnf("reactor.CloseAfterFlush token=%d err=%v", tok, err)
		}
		return
	}
	if closed {
		r.finish(tok)
	}
}

// Close deregisters tok at once, dropping anything unwritten. Loop goroutine only.
func (r *Reactor) Close(tok Token) {
	if err := r.reg.Deregister(tok); err != nil {
		if errors.Is(err, ErrUnknownToken) {
			return
		}
		logs.Debugf("reactor.Close token=%d err=%v", tok, err)
	}
	r.finish(tok)
}

// Wake interrupts a blocked poll. Safe from any goroutine.
func (r *Reactor) Wake() {
	if err := r.reg.Wake(); err != nil {
		logs.Warnf("reactor.Wake err=%v", err)
	}
}

// Run drives the loop until ctx is cancelled, then closes every registration.
func (r *Reactor) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, r.Wake)
	defer stop()
	defer r.closeAll()

	for {
		if ctx.Err() != nil {
			return nil
		}
		events, err := r.reg.Poll(r.timeout)
		if err != nil {
			return err
		}
		for _, ev := range events {
			r.dispatch(ev)
		}
		r.handler.OnWake()
	}
}

// RunOnce performs a single poll and dispatch; used by tests.
func (r *Reactor) RunOnce(timeout time.Duration) error {
	events, err := r.reg.Poll(timeout)
	if err != nil {
		return err
	}
	for _, ev := range events {
		r.dispatch(ev)
	}
	r.handler.OnWake()
	return nil
}

func (r *Reactor) dispatch(ev Event) {
	kind, err := r.reg.Kind(ev.Token)
	if err != nil {
		return
	}
	if kind == transport.KindListener {
		r.accept(ev.Token)
		return
	}
	if ev.Readable || ev.Hangup {
		if !r.readable(ev.Token) {
			return
		}
	}
	if ev.Writable {
		r.writable(ev.Token)
	}
}

func (r *Reactor) accept(ln Token) {
	toks, err := r.reg.Accept(ln)
	for _, tok := range toks {
		remote, _ := r.reg.RemoteAddr(tok)
		r.remotes[tok] = remote
		r.handler.OnOpen(tok, remote)
	}
	if err != nil {
		logs.Warnf("reactor.accept listener=%d err=%v", ln, err)
	}
}

// readable returns false when the connection was closed.
func (r *Reactor) readable(tok Token) bool {
	res, err := r.reg.Read(tok)
	if err != nil {
		logs.Debugf("reactor.read token=%d err=%v", tok, err)
		r.Close(tok)
		return false
	}
	if res.N > 0 {
		if !r.deliver(tok) {
			return false
		}
	}
	if res.Closed {
		r.Close(tok)
		return false
	}
	return true
}

func (r *Reactor) deliver(tok Token) bool {
	buf, err := r.reg.Inbound(tok)
	if err != nil {
		return false
	}
	used, herr := r.handler.OnData(tok, buf)
	if used > 0 {
		if err := r.reg.Consume(tok, used); err != nil {
			// handler already closed the connection
			return false
		}
	}
	if herr != nil {
		logs.Debugf("reactor.deliver token=%d err=%v", tok, herr)
		r.Close(tok)
		return false
	}
	if _, err := r.reg.Kind(tok); err != nil {
		return false
	}
	return true
}

func (r *Reactor) writable(tok Token) {
	res, err := r.reg.Flush(tok)
	if err != nil {
		logs.Debugf("reactor.flush token=%d err=%v", tok, err)
		r.Close(tok)
		return
	}
	if res.Closed {
		r.finish(tok)
	}
}

func (r *Reactor) finish(tok Token) {
	remote, ok := r.remotes[tok]
	if !ok {
		return
	}
	delete(r.remotes, tok)
	r.handler.OnClose(tok, remote)
}

func (r *Reactor) closeAll() {
	for tok := range r.reg.index {
		r.Close(tok)
	}
}
