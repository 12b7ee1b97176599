package reactor

import (
	"bytes"
	"io"
	"sort"
	"time"

	"github.com/lilith645/Maat-Network/internal/transport"
)

// fakeConn is an in-memory endpoint with scriptable readiness.
type fakeConn struct {
	fd     int
	kind   transport.Kind
	remote string

	in  []byte
	eof bool
	out bytes.Buffer

	// perWrite caps bytes taken per Write call; budget caps the total until
	// the test raises it. budget < 0 means unlimited.
	perWrite int
	budget   int

	backlog []*fakeConn
	closed  bool
}

func newStream(fd int, remote string) *fakeConn {
	return &fakeConn{fd: fd, kind: transport.KindStream, remote: remote, budget: -1}
}

func newListener(fd int) *fakeConn {
	return &fakeConn{fd: fd, kind: transport.KindListener, remote: ""}
}

func (c *fakeConn) Kind() transport.Kind { return c.kind }
func (c *fakeConn) Fd() int              { return c.fd }
func (c *fakeConn) RemoteAddr() string   { return c.remote }
func (c *fakeConn) LocalAddr() string    { return "fake" }

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.closed {
		return 0, transport.ErrClosed
	}
	if len(c.in) > 0 {
		n := copy(p, c.in)
		c.in = c.in[n:]
		return n, nil
	}
	if c.eof {
		return 0, io.EOF
	}
	return 0, transport.ErrWouldBlock
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, transport.ErrClosed
	}
	n := len(p)
	if c.perWrite > 0 && n > c.perWrite {
		n = c.perWrite
	}
	if c.budget >= 0 && n > c.budget {
		n = c.budget
	}
	if n == 0 {
		return 0, transport.ErrWouldBlock
	}
	c.out.Write(p[:n])
	if c.budget >= 0 {
		c.budget -= n
	}
	return n, nil
}

func (c *fakeConn) Accept() (transport.Endpoint, error) {
	if c.kind != transport.KindListener {
		return nil, transport.ErrNotListener
	}
	if len(c.backlog) == 0 {
		return nil, transport.ErrWouldBlock
	}
	next := c.backlog[0]
	c.backlog = c.backlog[1:]
	return next, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeReg struct {
	slot     uint32
	interest transport.Interest
}

// fakePoller synthesises level-triggered readiness from fakeConn state.
type fakePoller struct {
	conns map[int]*fakeConn
	regs  map[int]fakeReg
	wakes int
	// extra events returned verbatim by the next Wait.
	inject []PollEvent
}

func newFakePoller() *fakePoller {
	return &fakePoller{conns: make(map[int]*fakeConn), regs: make(map[int]fakeReg)}
}

func (p *fakePoller) attach(c *fakeConn) *fakeConn {
	p.conns[c.fd] = c
	for _, b := range c.backlog {
		p.conns[b.fd] = b
	}
	return c
}

func (p *fakePoller) Add(fd int, slot uint32, interest transport.Interest) error {
	p.regs[fd] = fakeReg{slot: slot, interest: interest}
	return nil
}

func (p *fakePoller) Modify(fd int, slot uint32, interest transport.Interest) error {
	p.regs[fd] = fakeReg{slot: slot, interest: interest}
	return nil
}

func (p *fakePoller) Delete(fd int) error {
	delete(p.regs, fd)
	return nil
}

func (p *fakePoller) Wait(dst []PollEvent, _ time.Duration) (int, error) {
	n := copy(dst, p.inject)
	p.inject = nil
	fds := make([]int, 0, len(p.regs))
	for fd := range p.regs {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	for _, fd := range fds {
		if n >= len(dst) {
			break
		}
		reg := p.regs[fd]
		c := p.conns[fd]
		if c == nil {
			continue
		}
		ev := PollEvent{Slot: reg.slot, Fd: fd}
		if reg.interest.Readable() {
			ev.Readable = len(c.in) > 0 || c.eof || len(c.backlog) > 0
		}
		if reg.interest.Writable() {
			ev.Writable = c.budget != 0
		}
		ev.Hangup = c.eof
		if ev.Readable || ev.Writable {
			dst[n] = ev
			n++
		}
	}
	return n, nil
}

func (p *fakePoller) Wake() error {
	p.wakes++
	return nil
}

func (p *fakePoller) Close() error { return nil }
