//go:build linux

package transport

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// Socket is a non-blocking TCP socket owned through its raw descriptor.
type Socket struct {
	kind   Kind
	fd     int
	local  string
	remote string

	closeOnce sync.Once
	closeErr  error
}

// Listen binds a non-blocking TCP listener on addr ("host:port").
func Listen(addr string) (*Socket, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	family := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("transport: setsockopt: %w", err)
	}
	sa, err := toSockaddr(family, tcpAddr)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("transport: getsockname: %w", err)
	}
	return &Socket{kind: KindListener, fd: fd, local: sockaddrString(bound)}, nil
}

func (s *Socket) Kind() Kind         { return s.kind }
func (s *Socket) Fd() int            { return s.fd }
func (s *Socket) RemoteAddr() string { return s.remote }
func (s *Socket) LocalAddr() string  { return s.local }

func (s *Socket) Read(p []byte) (int, error) {
	if s.kind != KindStream {
		return 0, ErrNotStream
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Read(s.fd, p)
	if err != nil {
		return 0, mapErrno(err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *Socket) Write(p []byte) (int, error) {
	if s.kind != KindStream {
		return 0, ErrNotStream
	}
	n, err := unix.Write(s.fd, p)
	if err != nil {
		if n < 0 {
			n = 0
		}
		return n, mapErrno(err)
	}
	return n, nil
}

// Accept returns the next pending stream, or ErrWouldBlock when none is queued.
func (s *Socket) Accept() (Endpoint, error) {
	if s.kind != KindListener {
		return nil, ErrNotListener
	}
	nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, mapErrno(err)
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	local := ""
	if ls, err := unix.Getsockname(nfd); err == nil {
		local = sockaddrString(ls)
	}
	return &Socket{kind: KindStream, fd: nfd, local: local, remote: sockaddrString(sa)}, nil
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = unix.Close(s.fd)
	})
	return s.closeErr
}

func mapErrno(err error) error {
	switch err {
	case unix.EAGAIN:
		return ErrWouldBlock
	case unix.EINTR:
		return ErrInterrupted
	case unix.EBADF:
		return ErrClosed
	default:
		return err
	}
}

func toSockaddr(family int, addr *net.TCPAddr) (unix.Sockaddr, error) {
	switch family {
	case unix.AF_INET:
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To4())
		}
		return sa, nil
	case unix.AF_INET6:
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], addr.IP.To16())
		return sa, nil
	default:
		return nil, fmt.Errorf("%w: family %d", ErrInvalidAddr, family)
	}
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	default:
		return ""
	}
}
