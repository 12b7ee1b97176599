// Package transport wraps non-blocking stream sockets behind a small
// Endpoint interface the reactor can register by file descriptor.
package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// Kind tags what an endpoint is for.
type Kind uint8

const (
	KindListener Kind = iota + 1
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindListener:
		return "listener"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Interest is the readiness an endpoint is registered for.
type Interest uint8

const (
	InterestNone  Interest = 0
	InterestRead  Interest = 1 << 0
	InterestWrite Interest = 1 << 1
	InterestBoth  Interest = InterestRead | InterestWrite
)

func (i Interest) Readable() bool { return i&InterestRead != 0 }
func (i Interest) Writable() bool { return i&InterestWrite != 0 }

func (i Interest) String() string {
	switch i {
	case InterestNone:
		return "none"
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	case InterestBoth:
		return "read|write"
	default:
		return "invalid"
	}
}

var (
	ErrWouldBlock  = errors.New("transport: operation would block")
	ErrInterrupted = errors.New("transport: interrupted")
	ErrClosed      = net.ErrClosed
	ErrNotListener = errors.New("transport: endpoint is not a listener")
	ErrNotStream   = errors.New("transport: endpoint is not a stream")
	ErrUnsupported = errors.New("transport: raw sockets not supported on this platform")
	ErrInvalidAddr = errors.New("transport: invalid address")
)

// Endpoint is one raw connection handle. Read and Write never block: they
// return ErrWouldBlock when the socket is not ready. A zero-length Read with
// a nil error does not happen; end of stream is io.EOF.
type Endpoint interface {
	Kind() Kind
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Accept() (Endpoint, error)
	RemoteAddr() string
	LocalAddr() string
	Close() error
}

// Class groups I/O errors by what the caller should do next.
type Class uint8

const (
	// None means no error.
	None Class = iota
	// Transient errors are retried on the next readiness event.
	Transient
	// Closed means the peer went away normally.
	Closed
	// Terminal means the connection is unusable.
	Terminal
)

func (c Class) String() string {
	switch c {
	case None:
		return "none"
	case Transient:
		return "transient"
	case Closed:
		return "closed"
	default:
		return "terminal"
	}
}

// Classify maps an I/O error to its Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return None
	case errors.Is(err, ErrWouldBlock), errors.Is(err, ErrInterrupted):
		return Transient
	case IsExpectedClose(err):
		return Closed
	default:
		return Terminal
	}
}

// IsExpectedClose reports whether err is a normal connection termination:
// EOF, a closed connection, broken pipe, or connection reset.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
