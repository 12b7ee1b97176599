package relay

import (
	"sort"
	"sync"
	"time"

	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/protocol"
)

// Notifier is told which addresses gained pending messages. It is called
// after the table lock is released and must not block for long.
type Notifier func(addrs []string)

// Observer receives session lifecycle and relay counts. All methods are
// called outside the table lock.
type Observer interface {
	SessionOpened(name string)
	SessionClosed(name string)
	MessageRelayed(kind protocol.Kind, recipients int)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(string)              {}
func (nopObserver) SessionClosed(string)              {}
func (nopObserver) MessageRelayed(protocol.Kind, int) {}

// Table maps session names to sessions. Every method is one critical section
// under a single mutex; no I/O happens while it is held.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session

	notify   Notifier
	observer Observer
	now      func() time.Time
}

type TableOption func(*Table)

func WithNotifier(fn Notifier) TableOption {
	return func(t *Table) { t.notify = fn }
}

func WithObserver(o Observer) TableOption {
	return func(t *Table) {
		if o != nil {
			t.observer = o
		}
	}
}

func NewTable(opts ...TableOption) *Table {
	t := &Table{
		sessions: make(map[string]*Session),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FindOrCreate joins creator to name, creating the session with creator as
// host when it does not exist. created reports whether a new session was made.
func (t *Table) FindOrCreate(name, creator string) (info SessionInfo, created bool) {
	t.mu.Lock()
	s, ok := t.sessions[name]
	if !ok {
		s = newSession(name, creator, t.now())
		t.sessions[name] = s
		created = true
	} else {
		s.addMember(creator)
	}
	info = s.info()
	t.mu.Unlock()

	if created {
		logs.Infof("relay.Table session created name=%q id=%s host=%q", name, info.ID, creator)
		t.observer.SessionOpened(name)
	} else {
		logs.Debugf("relay.Table session joined name=%q member=%q members=%d", name, creator, len(info.Members))
	}
	return info, created
}

func (t *Table) HasMember(name, addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[name]
	return ok && s.hasMember(addr)
}

// RemoveMember drops addr and its pending queue. The session is deleted when
// it becomes empty; empty reports that, and is also true for a missing session.
func (t *Table) RemoveMember(name, addr string) (empty bool) {
	t.mu.Lock()
	s, ok := t.sessions[name]
	if !ok {
		t.mu.Unlock()
		return true
	}
	s.removeMember(addr)
	empty = len(s.members) == 0
	if empty {
		delete(t.sessions, name)
	}
	t.mu.Unlock()

	if empty {
		logs.Infof("relay.Table session closed name=%q id=%s", name, s.ID)
		t.observer.SessionClosed(name)
	}
	return empty
}

// Enqueue appends m to the queue of every member except from and returns the
// number of recipients.
func (t *Table) Enqueue(name, from string, m protocol.Message) int {
	t.mu.Lock()
	s, ok := t.sessions[name]
	if !ok {
		t.mu.Unlock()
		return 0
	}
	targets := make([]string, 0, len(s.members))
	for _, addr := range s.members {
		if addr == from {
			continue
		}
		s.push(addr, m)
		targets = append(targets, addr)
	}
	t.mu.Unlock()

	t.signal(targets)
	t.observer.MessageRelayed(m.Kind, len(targets))
	return len(targets)
}

// EnqueueTo appends m to the queue of one member.
func (t *Table) EnqueueTo(name, to string, m protocol.Message) bool {
	t.mu.Lock()
	s, ok := t.sessions[name]
	pushed := ok && s.push(to, m)
	t.mu.Unlock()

	if pushed {
		t.signal([]string{to})
	}
	return pushed
}

// EnqueueAll appends m to every member's queue, the sender included.
func (t *Table) EnqueueAll(name string, m protocol.Message) int {
	return t.Enqueue(name, "", m)
}

// Dequeue pops the oldest pending message for addr.
func (t *Table) Dequeue(name, addr string) (protocol.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[name]
	if !ok {
		return protocol.Message{}, false
	}
	return s.pop(addr)
}

// DequeueAll pops every pending message for addr, oldest first.
func (t *Table) DequeueAll(name, addr string) []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[name]
	if !ok {
		return nil
	}
	var out []protocol.Message
	for {
		m, ok := s.pop(addr)
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

func (t *Table) Lookup(name string) (SessionInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[name]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Snapshot returns every session sorted by name.
func (t *Table) Snapshot() []SessionInfo {
	t.mu.Lock()
	out := make([]SessionInfo, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s.info())
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Table) signal(addrs []string) {
	if len(addrs) == 0 {
		return
	}
	t.mu.Lock()
	fn := t.notify
	t.mu.Unlock()
	if fn != nil {
		fn(addrs)
	}
}
