package reactor

import (
	"time"

	"github.com/lilith645/Maat-Network/internal/transport"
)

// PollEvent is one raw readiness report. Slot and Fd identify the registry
// entry; the registry checks both before trusting the event.
type PollEvent struct {
	Slot     uint32
	Fd       int
	Readable bool
	Writable bool
	Hangup   bool
}

// Poller is the OS readiness facility behind a Registry.
type Poller interface {
	Add(fd int, slot uint32, interest transport.Interest) error
	Modify(fd int, slot uint32, interest transport.Interest) error
	Delete(fd int) error
	// Wait fills dst with ready events. timeout < 0 blocks, 0 returns at
	// once. A Wake call makes a blocked Wait return, possibly with no events.
	Wait(dst []PollEvent, timeout time.Duration) (int, error)
	// Wake is safe to call from any goroutine.
	Wake() error
	Close() error
}
