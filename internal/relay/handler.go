package relay

import (
	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/protocol"
)

// State is where a connection sits in the relay protocol.
type State uint8

const (
	StateUnjoined State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Peer is the relay-side view of one connection. Engines own it and must
// serialise calls that share a Peer.
type Peer struct {
	Addr    string
	State   State
	Session string
}

func NewPeer(addr string) *Peer {
	return &Peer{Addr: addr, State: StateUnjoined}
}

// Outcome is what the engine must do after a Handle or Drain call: write
// Replies in order, then close the connection once they are flushed if Close
// is set.
type Outcome struct {
	Replies []protocol.Message
	Close   bool
}

func (o *Outcome) reply(m protocol.Message) {
	o.Replies = append(o.Replies, m)
}

type action func(h *Handler, p *Peer, m protocol.Message, out *Outcome)

// dispatch maps (state, kind) to an action. Missing entries are ignored.
var dispatch = map[State]map[protocol.Kind]action{
	StateUnjoined: {
		protocol.KindNull:       nil,
		protocol.KindNewSession: (*Handler).join,
		protocol.KindShutdown:   (*Handler).shutdown,
	},
	StateJoined: {
		protocol.KindNull:       nil,
		protocol.KindNewSession: (*Handler).alreadyJoined,
		protocol.KindData:       (*Handler).relay,
		protocol.KindRawData:    (*Handler).relay,
		protocol.KindEndSession: (*Handler).endSession,
		protocol.KindShutdown:   (*Handler).shutdown,
	},
}

// Handler runs the relay state machine against a Table.
type Handler struct {
	table *Table
}

func NewHandler(t *Table) *Handler {
	return &Handler{table: t}
}

func (h *Handler) Table() *Table { return h.table }

// Handle applies one inbound message, then drains the peer's own pending
// queue behind any direct replies.
func (h *Handler) Handle(p *Peer, m protocol.Message) Outcome {
	var out Outcome
	if p.State == StateClosed {
		return out
	}
	act, ok := dispatch[p.State][m.Kind]
	if !ok {
		logs.Debugf("relay.Handle ignored peer=%q state=%s msg=%s", p.Addr, p.State, m)
	} else if act != nil {
		act(h, p, m, &out)
	}
	if p.State == StateJoined {
		h.drainInto(p, &out)
	}
	return out
}

// Drain moves the peer's pending messages into an Outcome. Delivering a
// Shutdown the relay queued for this peer ends the connection: the peer is
// removed from its session and Close is set.
func (h *Handler) Drain(p *Peer) Outcome {
	var out Outcome
	if p.State == StateJoined {
		h.drainInto(p, &out)
	}
	return out
}

// Disconnect runs the cleanup path for a transport close. Remaining members
// are sent Shutdown. Calling it on a closed peer does nothing.
func (h *Handler) Disconnect(p *Peer) {
	if p.State == StateJoined {
		name := p.Session
		h.leave(p)
		if n := h.table.EnqueueAll(name, protocol.Shutdown()); n > 0 {
			logs.Debugf("relay.Disconnect peer=%q session=%q notified=%d", p.Addr, name, n)
		}
	}
	p.State = StateClosed
}

func (h *Handler) drainInto(p *Peer, out *Outcome) {
	for _, m := range h.table.DequeueAll(p.Session, p.Addr) {
		out.reply(m)
		if m.Kind == protocol.KindShutdown {
			h.leave(p)
			p.State = StateClosed
			out.Close = true
			return
		}
	}
}

func (h *Handler) join(p *Peer, m protocol.Message, out *Outcome) {
	if m.Name == "" {
		out.reply(protocol.Error(protocol.ErrUnknown))
		return
	}
	info, created := h.table.FindOrCreate(m.Name, p.Addr)
	p.State = StateJoined
	p.Session = m.Name
	out.reply(protocol.Success())
	if !created && info.Host != p.Addr {
		h.table.EnqueueTo(m.Name, info.Host, protocol.PeerJoined())
	}
	logs.Infof("relay.join peer=%q session=%q created=%t members=%d", p.Addr, m.Name, created, len(info.Members))
}

func (h *Handler) alreadyJoined(p *Peer, m protocol.Message, out *Outcome) {
	out.reply(protocol.Error(protocol.ErrClientAlreadyConnected))
}

func (h *Handler) relay(p *Peer, m protocol.Message, out *Outcome) {
	h.table.Enqueue(p.Session, p.Addr, m)
}

func (h *Handler) endSession(p *Peer, m protocol.Message, out *Outcome) {
	n := h.table.EnqueueAll(p.Session, protocol.Shutdown())
	out.reply(protocol.Success())
	logs.Infof("relay.endSession peer=%q session=%q notified=%d", p.Addr, p.Session, n)
}

func (h *Handler) shutdown(p *Peer, m protocol.Message, out *Outcome) {
	out.reply(protocol.Shutdown())
	out.Close = true
	if p.State == StateJoined {
		name := p.Session
		h.leave(p)
		h.table.EnqueueAll(name, protocol.Shutdown())
	}
	p.State = StateClosed
}

func (h *Handler) leave(p *Peer) {
	if p.Session == "" {
		return
	}
	h.table.RemoveMember(p.Session, p.Addr)
	p.Session = ""
}
