package reactor

import (
	"errors"
	"fmt"
	"time"

	"github.com/eapache/queue"
	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/transport"
)

var (
	ErrRegistryFull  = errors.New("reactor: registry full")
	ErrUnknownToken  = errors.New("reactor: unknown token")
	ErrNotRegistered = errors.New("reactor: endpoint not registered")
	ErrPeerClosed    = errors.New("reactor: peer closed")
)

const (
	// DefaultReadChunkLimit caps bytes taken from one connection per readiness event.
	DefaultReadChunkLimit = 64 * 1024
	initialReadBuf        = 4096
	readBufStep           = 1024
	maxPollEvents         = 256
	idleReadBufLimit      = 64 * 1024 // largest inbound buffer kept once drained
)

// Token identifies one registration. Tokens increase monotonically and are
// never handed out twice within a process.
type Token uint64

// Event is one readiness report for a live registration.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
	Hangup   bool
}

// Status is the one-way registration lifecycle.
type Status uint8

const (
	StatusUnregistered Status = iota
	StatusRegistered
	StatusDeregistered
)

type entry struct {
	token    Token
	ep       transport.Endpoint
	interest transport.Interest
	status   Status

	inbound []byte

	// partial is the unwritten tail of a short write; it always goes out
	// before anything still in outbound.
	partial         []byte
	outbound        *queue.Queue
	queuedBytes     int
	closeAfterFlush bool
}

// ReadResult reports what the read path did for one readiness event.
type ReadResult struct {
	N      int
	Closed bool
}

// FlushResult reports what the write path did for one writable event.
type FlushResult struct {
	N       int
	Drained bool
	// Closed is set when a close-after-flush entry finished draining and
	// was deregistered.
	Closed bool
}

// Registry owns every registered endpoint in one arena. It is not safe for
// concurrent use; the reactor loop is its only caller.
type Registry struct {
	poller     Poller
	slots      []entry
	free       []uint32
	retired    []uint32
	index      map[Token]uint32
	nextToken  Token
	live       int
	maxConns   int
	chunkLimit int
	events     []PollEvent
}

type Options struct {
	// MaxConnections bounds live registrations, listeners included. Zero
	// means unbounded.
	MaxConnections int
	ReadChunkLimit int
}

func NewRegistry(p Poller, opts Options) *Registry {
	chunk := opts.ReadChunkLimit
	if chunk <= 0 {
		chunk = DefaultReadChunkLimit
	}
	return &Registry{
		poller:     p,
		index:      make(map[Token]uint32),
		maxConns:   opts.MaxConnections,
		chunkLimit: chunk,
		events:     make([]PollEvent, maxPollEvents),
	}
}

// Len returns the number of live registrations.
func (r *Registry) Len() int { return r.live }

// Register adds ep with the given interest and returns its fresh token.
func (r *Registry) Register(ep transport.Endpoint, interest transport.Interest) (Token, error) {
	if r.maxConns > 0 && r.live >= r.maxConns {
		return 0, ErrRegistryFull
	}
	var slot uint32
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		slot = uint32(len(r.slots))
		r.slots = append(r.slots, entry{})
	}
	if err := r.poller.Add(ep.Fd(), slot, interest); err != nil {
		r.free = append(r.free, slot)
		return 0, err
	}
	r.nextToken++
	tok := r.nextToken
	r.slots[slot] = entry{
		token:    tok,
		ep:       ep,
		interest: interest,
		status:   StatusRegistered,
		outbound: queue.New(),
	}
	r.index[tok] = slot
	r.live++
	logs.Debugf("reactor.Register token=%d kind=%s fd=%d slot=%d interest=%s", tok, ep.Kind(), ep.Fd(), slot, interest)
	return tok, nil
}

// Reregister replaces the interest set of a live registration.
func (r *Registry) Reregister(tok Token, interest transport.Interest) error {
	slot, e, err := r.lookup(tok)
	if err != nil {
		return err
	}
	if e.interest == interest {
		return nil
	}
	if err := r.poller.Modify(e.ep.Fd(), slot, interest); err != nil {
		return err
	}
	e.interest = interest
	return nil
}

// Deregister removes the registration and closes its endpoint. The slot is
// reused only after the next Poll, so events already returned for it are
// still recognised as stale.
func (r *Registry) Deregister(tok Token) error {
	slot, e, err := r.lookup(tok)
	if err != nil {
		return err
	}
	delErr := r.poller.Delete(e.ep.Fd())
	closeErr := e.ep.Close()
	e.status = StatusDeregistered
	e.ep = nil
	e.inbound = nil
	e.partial = nil
	e.outbound = nil
	delete(r.index, tok)
	r.retired = append(r.retired, slot)
	r.live--
	logs.Debugf("reactor.Deregister token=%d slot=%d", tok, slot)
	if delErr != nil {
		return delErr
	}
	if closeErr != nil && !transport.IsExpectedClose(closeErr) {
		return closeErr
	}
	return nil
}

// Poll waits for readiness. timeout < 0 blocks, 0 returns at once.
func (r *Registry) Poll(timeout time.Duration) ([]Event, error) {
	r.free = append(r.free, r.retired...)
	r.retired = r.retired[:0]

	n, err := r.poller.Wait(r.events, timeout)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, n)
	for _, pe := range r.events[:n] {
		if int(pe.Slot) >= len(r.slots) {
			continue
		}
		e := &r.slots[pe.Slot]
		if e.status != StatusRegistered || e.ep.Fd() != pe.Fd {
			continue
		}
		out = append(out, Event{
			Token:    e.token,
			Readable: pe.Readable,
			Writable: pe.Writable,
			Hangup:   pe.Hangup,
		})
	}
	return out, nil
}

// Wake interrupts a blocked Poll from any goroutine.
func (r *Registry) Wake() error { return r.poller.Wake() }

func (r *Registry) Kind(tok Token) (transport.Kind, error) {
	_, e, err := r.lookup(tok)
	if err != nil {
		return 0, err
	}
	return e.ep.Kind(), nil
}

func (r *Registry) RemoteAddr(tok Token) (string, error) {
	_, e, err := r.lookup(tok)
	if err != nil {
		return "", err
	}
	return e.ep.RemoteAddr(), nil
}

func (r *Registry) Interest(tok Token) (transport.Interest, error) {
	_, e, err := r.lookup(tok)
	if err != nil {
		return 0, err
	}
	return e.interest, nil
}

// Pending returns the number of bytes still waiting to be written.
func (r *Registry) Pending(tok Token) (int, error) {
	_, e, err := r.lookup(tok)
	if err != nil {
		return 0, err
	}
	return len(e.partial) + e.queuedBytes, nil
}

// Queue appends b to the outbound queue and arms write interest. b is owned
// by the registry afterwards.
func (r *Registry) Queue(tok Token, b []byte) error {
	_, e, err := r.lookup(tok)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	e.outbound.Add(b)
	e.queuedBytes += len(b)
	if !e.interest.Writable() {
		return r.Reregister(tok, e.interest|transport.InterestWrite)
	}
	return nil
}

// CloseAfterFlush marks tok to be deregistered once its outbound queue empties.
// With nothing queued it is deregistered at once.
func (r *Registry) CloseAfterFlush(tok Token) (bool, error) {
	_, e, err := r.lookup(tok)
	if err != nil {
		return false, err
	}
	e.closeAfterFlush = true
	if len(e.partial) == 0 && e.outbound.Length() == 0 {
		return true, r.Deregister(tok)
	}
	if e.interest.Readable() || !e.interest.Writable() {
		return false, r.Reregister(tok, transport.InterestWrite)
	}
	return false, nil
}

// Inbound returns the bytes read so far and not yet consumed.
func (r *Registry) Inbound(tok Token) ([]byte, error) {
	_, e, err := r.lookup(tok)
	if err != nil {
		return nil, err
	}
	return e.inbound, nil
}

// Consume drops the first n inbound bytes.
func (r *Registry) Consume(tok Token, n int) error {
	_, e, err := r.lookup(tok)
	if err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}
	if n >= len(e.inbound) {
		if cap(e.inbound) > idleReadBufLimit {
			e.inbound = nil
			return nil
		}
		e.inbound = e.inbound[:0]
		return nil
	}
	rest := copy(e.inbound, e.inbound[n:])
	e.inbound = e.inbound[:rest]
	return nil
}

// Read runs the read path: read until the socket would block or the chunk
// limit is reached. A zero-byte read or a reset reports Closed. Terminal
// errors are returned; transient ones are swallowed.
func (r *Registry) Read(tok Token) (ReadResult, error) {
	_, e, err := r.lookup(tok)
	if err != nil {
		return ReadResult{}, err
	}
	var res ReadResult
	for res.N < r.chunkLimit {
		if cap(e.inbound)-len(e.inbound) == 0 {
			e.inbound = growInbound(e.inbound)
		}
		room := cap(e.inbound) - len(e.inbound)
		if left := r.chunkLimit - res.N; room > left {
			room = left
		}
		buf := e.inbound[len(e.inbound) : len(e.inbound)+room]
		n, rerr := e.ep.Read(buf)
		if n > 0 {
			e.inbound = e.inbound[:len(e.inbound)+n]
			res.N += n
		}
		switch transport.Classify(rerr) {
		case transport.None:
			continue
		case transport.Transient:
			if errors.Is(rerr, transport.ErrInterrupted) {
				continue
			}
			return res, nil
		case transport.Closed:
			res.Closed = true
			return res, nil
		default:
			return res, fmt.Errorf("reactor: read token=%d: %w", tok, rerr)
		}
	}
	return res, nil
}

// Flush runs the write path. A short write keeps the unwritten remainder at
// the head of the queue. Write interest is dropped once everything is out.
func (r *Registry) Flush(tok Token) (FlushResult, error) {
	_, e, err := r.lookup(tok)
	if err != nil {
		return FlushResult{}, err
	}
	var res FlushResult
	for {
		if len(e.partial) == 0 {
			if e.outbound.Length() == 0 {
				break
			}
			e.partial = e.outbound.Remove().([]byte)
			e.queuedBytes -= len(e.partial)
		}
		n, werr := e.ep.Write(e.partial)
		if n > 0 {
			res.N += n
			e.partial = e.partial[n:]
		}
		switch transport.Classify(werr) {
		case transport.None:
			continue
		case transport.Transient:
			if errors.Is(werr, transport.ErrInterrupted) {
				continue
			}
			return res, nil
		case transport.Closed:
			return res, fmt.Errorf("reactor: write token=%d: %w", tok, ErrPeerClosed)
		default:
			return res, fmt.Errorf("reactor: write token=%d: %w", tok, werr)
		}
	}
	res.Drained = true
	if e.closeAfterFlush {
		res.Closed = true
		return res, r.Deregister(tok)
	}
	if e.interest.Writable() {
		return res, r.Reregister(tok, e.interest&^transport.InterestWrite)
	}
	return res, nil
}

// Accept runs the accept path on a listener: accept until would-block,
// registering each stream for read and write. When the registry is full the
// extra stream is closed and ErrRegistryFull is returned with the tokens
// accepted so far.
func (r *Registry) Accept(tok Token) ([]Token, error) {
	_, e, err := r.lookup(tok)
	if err != nil {
		return nil, err
	}
	if e.ep.Kind() != transport.KindListener {
		return nil, transport.ErrNotListener
	}
	ln := e.ep
	var accepted []Token
	for {
		conn, aerr := ln.Accept()
		switch transport.Classify(aerr) {
		case transport.None:
		case transport.Transient:
			if errors.Is(aerr, transport.ErrInterrupted) {
				continue
			}
			return accepted, nil
		default:
			return accepted, fmt.Errorf("reactor: accept: %w", aerr)
		}
		ctok, rerr := r.Register(conn, transport.InterestBoth)
		if rerr != nil {
			logs.Warnf("reactor.Accept register failed remote=%q err=%v", conn.RemoteAddr(), rerr)
			_ = conn.Close()
			if errors.Is(rerr, ErrRegistryFull) {
				return accepted, rerr
			}
			continue
		}
		accepted = append(accepted, ctok)
	}
}

// growInbound doubles the buffer, so a frame of n bytes costs O(n) copying.
func growInbound(b []byte) []byte {
	if cap(b) == 0 {
		return make([]byte, 0, initialReadBuf)
	}
	next := make([]byte, len(b), max(2*cap(b), cap(b)+readBufStep))
	copy(next, b)
	return next
}

func (r *Registry) lookup(tok Token) (uint32, *entry, error) {
	slot, ok := r.index[tok]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownToken, tok)
	}
	e := &r.slots[slot]
	if e.status != StatusRegistered {
		return 0, nil, fmt.Errorf("%w: %d", ErrNotRegistered, tok)
	}
	return slot, e, nil
}
