package server

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lilith645/Maat-Network/internal/observability"
	"github.com/lilith645/Maat-Network/internal/protocol"
	"github.com/lilith645/Maat-Network/internal/protocol/frame"
)

const (
	transportTCP = "tcp"
	transportWS  = "ws"
)

// wire is one blocking client stream as the worker engine sees it.
type wire interface {
	ReadMessage() (protocol.Message, protocol.Encoding, error)
	WriteFrame(b []byte) error
	RemoteAddr() string
	Transport() string
	Close() error
}

type tcpWire struct {
	conn net.Conn
	r    *bufio.Reader
	once sync.Once
	err  error
}

func newTCPWire(conn net.Conn) *tcpWire {
	return &tcpWire{conn: conn, r: bufio.NewReader(conn)}
}

func (w *tcpWire) ReadMessage() (protocol.Message, protocol.Encoding, error) {
	return protocol.Decode(countingReader{r: w.r, transport: transportTCP})
}

func (w *tcpWire) WriteFrame(b []byte) error {
	n, err := w.conn.Write(b)
	observability.RecordBytes(transportTCP, "out", n)
	return err
}

func (w *tcpWire) RemoteAddr() string { return w.conn.RemoteAddr().String() }
func (w *tcpWire) Transport() string  { return transportTCP }

func (w *tcpWire) Close() error {
	w.once.Do(func() { w.err = w.conn.Close() })
	return w.err
}

type countingReader struct {
	r         *bufio.Reader
	transport string
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	observability.RecordBytes(c.transport, "in", n)
	return n, err
}

// wsWire carries exactly one frame per binary WebSocket message.
type wsWire struct {
	conn   *websocket.Conn
	remote string
	once   sync.Once
	err    error
}

func newWSWire(conn *websocket.Conn, remote string) *wsWire {
	return &wsWire{conn: conn, remote: remote}
}

func (w *wsWire) ReadMessage() (protocol.Message, protocol.Encoding, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return protocol.Message{}, 0, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		observability.RecordBytes(transportWS, "in", len(data))
		m, enc, n, err := protocol.Split(data)
		if err != nil {
			return protocol.Message{}, enc, err
		}
		if n != len(data) {
			return protocol.Message{}, enc, fmt.Errorf("%w: %d trailing bytes in websocket message",
				protocol.ErrInvalidPayload, len(data)-n)
		}
		return m, enc, nil
	}
}

func (w *wsWire) WriteFrame(b []byte) error {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return err
	}
	observability.RecordBytes(transportWS, "out", len(b))
	return nil
}

func (w *wsWire) RemoteAddr() string { return w.remote }
func (w *wsWire) Transport() string  { return transportWS }

func (w *wsWire) Close() error {
	w.once.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadlineSoon())
		w.err = w.conn.Close()
	})
	return w.err
}

func deadlineSoon() time.Time { return time.Now().Add(time.Second) }

// maxFrameBytes is the largest single frame a client may send.
func maxFrameBytes() int {
	return int(frame.HeaderLen) + int(frame.DefaultLimits().MaxPayloadBytes)
}
