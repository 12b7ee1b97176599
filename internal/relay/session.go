package relay

import (
	"slices"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/lilith645/Maat-Network/internal/protocol"
)

// Session is one named relay group. The first member is the host. A session
// with no members is never kept in a Table.
type Session struct {
	ID      uuid.UUID
	Name    string
	Created time.Time

	members []string
	pending map[string]*queue.Queue
}

func newSession(name, host string, now time.Time) *Session {
	s := &Session{
		ID:      uuid.New(),
		Name:    name,
		Created: now,
		pending: make(map[string]*queue.Queue),
	}
	s.addMember(host)
	return s
}

func (s *Session) host() string {
	if len(s.members) == 0 {
		return ""
	}
	return s.members[0]
}

func (s *Session) hasMember(addr string) bool {
	return slices.Contains(s.members, addr)
}

// addMember reports false when addr was already a member.
func (s *Session) addMember(addr string) bool {
	if s.hasMember(addr) {
		return false
	}
	s.members = append(s.members, addr)
	s.pending[addr] = queue.New()
	return true
}

func (s *Session) removeMember(addr string) bool {
	i := slices.Index(s.members, addr)
	if i < 0 {
		return false
	}
	s.members = slices.Delete(s.members, i, i+1)
	delete(s.pending, addr)
	return true
}

func (s *Session) push(addr string, m protocol.Message) bool {
	q, ok := s.pending[addr]
	if !ok {
		return false
	}
	q.Add(m)
	return true
}

func (s *Session) pop(addr string) (protocol.Message, bool) {
	q, ok := s.pending[addr]
	if !ok || q.Length() == 0 {
		return protocol.Message{}, false
	}
	return q.Remove().(protocol.Message), true
}

func (s *Session) info() SessionInfo {
	pending := make(map[string]int, len(s.pending))
	for addr, q := range s.pending {
		pending[addr] = q.Length()
	}
	return SessionInfo{
		ID:      s.ID.String(),
		Name:    s.Name,
		Host:    s.host(),
		Members: slices.Clone(s.members),
		Pending: pending,
		Created: s.Created,
	}
}

// SessionInfo is a point-in-time copy of a Session, safe to hand out.
type SessionInfo struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Host    string         `json:"host"`
	Members []string       `json:"members"`
	Pending map[string]int `json:"pending"`
	Created time.Time      `json:"created"`
}
