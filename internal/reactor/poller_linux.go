//go:build linux

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lilith645/Maat-Network/internal/transport"
	"golang.org/x/sys/unix"
)

// wakePad marks the eventfd in the epoll set. Registry slots never reach it.
const wakePad int32 = -1

type epollPoller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent

	closeOnce sync.Once
}

// NewPoller returns an epoll-backed Poller with an eventfd for wakeups.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	p := &epollPoller{epfd: epfd, wakefd: wakefd, raw: make([]unix.EpollEvent, 128)}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd), Pad: wakePad}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: epoll add eventfd: %w", err)
	}
	return p, nil
}

func epollMask(interest transport.Interest) uint32 {
	mask := uint32(unix.EPOLLRDHUP)
	if interest.Readable() {
		mask |= unix.EPOLLIN
	}
	if interest.Writable() {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *epollPoller) Add(fd int, slot uint32, interest transport.Interest) error {
	ev := unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd), Pad: int32(slot)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) Modify(fd int, slot uint32, interest transport.Interest) error {
	ev := unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd), Pad: int32(slot)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll ctl mod: %w", err)
	}
	return nil
}

func (p *epollPoller) Delete(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("reactor: epoll ctl del: %w", err)
	}
	return nil
}

func (p *epollPoller) Wait(dst []PollEvent, timeout time.Duration) (int, error) {
	if len(p.raw) < len(dst) {
		p.raw = make([]unix.EpollEvent, len(dst))
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}
	n, err := unix.EpollWait(p.epfd, p.raw[:len(dst)], ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("reactor: epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		ev := p.raw[i]
		if ev.Pad == wakePad && int(ev.Fd) == p.wakefd {
			p.drainWake()
			continue
		}
		dst[out] = PollEvent{
			Slot:     uint32(ev.Pad),
			Fd:       int(ev.Fd),
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Hangup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
		}
		out++
	}
	return out, nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("reactor: wake: %w", err)
	}
	return nil
}

func (p *epollPoller) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
	})
	return err
}
