package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/protocol"
)

var (
	ErrClosed    = errors.New("client: closed")
	ErrRejected  = errors.New("client: relay rejected request")
	ErrNotJoined = errors.New("client: not joined to a session")
)

// conn is one framed stream to the relay.
type conn interface {
	read() (protocol.Message, error)
	send(m protocol.Message, enc protocol.Encoding, deadline time.Time) error
	close() error
	remote() string
}

// Client is a relay session participant. Next is meant for a single reader;
// the send methods may be called from any goroutine.
type Client struct {
	cfg  Config
	conn conn

	wmu     sync.Mutex
	session string

	inbox   chan protocol.Message
	backlog []protocol.Message

	errMu   sync.Mutex
	readErr error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to cfg.Addr, retrying with backoff up to cfg.DialAttempts
// times.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		c, err := dialOnce(ctx, cfg)
		if err == nil {
			cl := newClient(cfg, c)
			logs.Debugf("client.Dial connected addr=%q attempt=%d", cfg.Addr, attempt)
			return cl, nil
		}
		lastErr = err
		if attempt == cfg.DialAttempts {
			break
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		logs.Debugf("client.Dial retry addr=%q attempt=%d delay=%s err=%v", cfg.Addr, attempt, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("client: dial %s: %w", cfg.Addr, lastErr)
}

func dialOnce(ctx context.Context, cfg Config) (conn, error) {
	dctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if strings.HasPrefix(cfg.Addr, "ws://") || strings.HasPrefix(cfg.Addr, "wss://") {
		d := websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
		ws, _, err := d.DialContext(dctx, cfg.Addr, nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{ws: ws}, nil
	}
	var d net.Dialer
	nc, err := d.DialContext(dctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return &tcpConn{nc: nc, r: bufio.NewReader(nc)}, nil
}

func newClient(cfg Config, c conn) *Client {
	cl := &Client{
		cfg:   cfg,
		conn:  c,
		inbox: make(chan protocol.Message, cfg.InboxSize),
		done:  make(chan struct{}),
	}
	go cl.readLoop()
	return cl
}

func (c *Client) readLoop() {
	defer close(c.inbox)
	for {
		m, err := c.conn.read()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		select {
		case c.inbox <- m:
		case <-c.done:
			return
		}
	}
}

// RemoteAddr is the relay address this client is connected to.
func (c *Client) RemoteAddr() string { return c.conn.remote() }

// Session is the joined session name, or "" before Join succeeds.
func (c *Client) Session() string {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.session
}

// Send writes one message in the client's configured encoding.
func (c *Client) Send(m protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.conn.send(m, c.cfg.Encoding, time.Now().Add(c.cfg.WriteTimeout))
}

// Join asks the relay to join or create name and waits for its verdict.
// Messages that arrive before the verdict stay queued for Next.
func (c *Client) Join(ctx context.Context, name string) error {
	if err := c.Send(protocol.NewSession(name)); err != nil {
		return err
	}
	var held []protocol.Message
	defer func() { c.backlog = append(c.backlog, held...) }()
	for {
		m, err := c.recv(ctx)
		if err != nil {
			return err
		}
		switch m.Kind {
		case protocol.KindSuccess:
			c.wmu.Lock()
			c.session = name
			c.wmu.Unlock()
			return nil
		case protocol.KindError:
			return fmt.Errorf("%w: join %q: %s", ErrRejected, name, m.Err)
		default:
			held = append(held, m)
		}
	}
}

func (c *Client) SendData(text string) error { return c.Send(protocol.Data(text)) }
func (c *Client) SendRaw(b []byte) error     { return c.Send(protocol.RawData(b)) }

// EndSession dissolves the joined session for every member.
func (c *Client) EndSession() error {
	if c.Session() == "" {
		return ErrNotJoined
	}
	return c.Send(protocol.EndSession())
}

// Shutdown announces departure, waits for the relay's Shutdown reply and
// closes the connection.
func (c *Client) Shutdown(ctx context.Context) error {
	defer c.Close()
	if err := c.Send(protocol.Shutdown()); err != nil {
		return err
	}
	for {
		m, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if m.Kind == protocol.KindShutdown {
			return nil
		}
	}
}

// Next returns the next message from the relay. io.EOF means the relay
// closed the connection cleanly.
func (c *Client) Next(ctx context.Context) (protocol.Message, error) {
	return c.recv(ctx)
}

func (c *Client) recv(ctx context.Context) (protocol.Message, error) {
	if len(c.backlog) > 0 {
		m := c.backlog[0]
		c.backlog = c.backlog[1:]
		return m, nil
	}
	select {
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case m, ok := <-c.inbox:
		if !ok {
			return protocol.Message{}, c.err()
		}
		return m, nil
	}
}

func (c *Client) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil || isEOF(c.readErr) {
		return io.EOF
	}
	return c.readErr
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.close()
	})
	return err
}

func isEOF(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

type tcpConn struct {
	nc net.Conn
	r  *bufio.Reader
}

func (t *tcpConn) read() (protocol.Message, error) {
	m, _, err := protocol.Decode(t.r)
	return m, err
}

func (t *tcpConn) send(m protocol.Message, enc protocol.Encoding, deadline time.Time) error {
	_ = t.nc.SetWriteDeadline(deadline)
	return protocol.Write(t.nc, m, enc)
}

func (t *tcpConn) close() error   { return t.nc.Close() }
func (t *tcpConn) remote() string { return t.nc.RemoteAddr().String() }

type wsConn struct {
	ws *websocket.Conn
}

func (w *wsConn) read() (protocol.Message, error) {
	for {
		kind, data, err := w.ws.ReadMessage()
		if err != nil {
			return protocol.Message{}, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		m, _, _, err := protocol.Split(data)
		return m, err
	}
}

func (w *wsConn) send(m protocol.Message, enc protocol.Encoding, deadline time.Time) error {
	b, err := protocol.Encode(m, enc)
	if err != nil {
		return err
	}
	_ = w.ws.SetWriteDeadline(deadline)
	return w.ws.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsConn) close() error   { return w.ws.Close() }
func (w *wsConn) remote() string { return w.ws.RemoteAddr().String() }
