package protocol

import (
	"bytes"
	"fmt"

	"github.com/lilith645/Maat-Network/internal/protocol/schema"
)

// Kind selects the active variant of a Message.
type Kind uint32

const (
	KindNull       = Kind(schema.MsgNull)
	KindSuccess    = Kind(schema.MsgSuccess)
	KindShutdown   = Kind(schema.MsgShutdown)
	KindError      = Kind(schema.MsgError)
	KindNewSession = Kind(schema.MsgNewSession)
	KindPeerJoined = Kind(schema.MsgPeerJoined)
	KindEndSession = Kind(schema.MsgEndSession)
	KindData       = Kind(schema.MsgData)
	KindRawData    = Kind(schema.MsgRawData)
)

// KindClientConnected is the older wire name for the host join notification.
const KindClientConnected = KindPeerJoined

var kindNames = map[Kind]string{
	KindNull:       "null",
	KindSuccess:    "success",
	KindShutdown:   "shutdown",
	KindError:      "error",
	KindNewSession: "new_session",
	KindPeerJoined: "peer_joined",
	KindEndSession: "end_session",
	KindData:       "data",
	KindRawData:    "raw_data",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// ErrorKind is the in-protocol error carried by an Error message.
type ErrorKind uint8

const (
	ErrClientAlreadyConnected ErrorKind = 0
	ErrUnknown                ErrorKind = 1
)

func (e ErrorKind) String() string {
	switch e {
	case ErrClientAlreadyConnected:
		return "client_already_connected"
	case ErrUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("error_kind(%d)", uint8(e))
	}
}

// Message is one protocol message. Only the field belonging to Kind is
// meaningful; the constructors below leave the others zero.
type Message struct {
	Kind Kind
	Name string
	Text string
	Raw  []byte
	Err  ErrorKind
}

func Null() Message       { return Message{Kind: KindNull} }
func Success() Message    { return Message{Kind: KindSuccess} }
func Shutdown() Message   { return Message{Kind: KindShutdown} }
func PeerJoined() Message { return Message{Kind: KindPeerJoined} }
func EndSession() Message { return Message{Kind: KindEndSession} }

func Error(kind ErrorKind) Message {
	return Message{Kind: KindError, Err: kind}
}

func NewSession(name string) Message {
	return Message{Kind: KindNewSession, Name: name}
}

func Data(text string) Message {
	return Message{Kind: KindData, Text: text}
}

func RawData(b []byte) Message {
	raw := make([]byte, len(b))
	copy(raw, b)
	return Message{Kind: KindRawData, Raw: raw}
}

// Equal compares the active variant only.
func (m Message) Equal(o Message) bool {
	if m.Kind != o.Kind {
		return false
	}
	switch m.Kind {
	case KindError:
		return m.Err == o.Err
	case KindNewSession:
		return m.Name == o.Name
	case KindData:
		return m.Text == o.Text
	case KindRawData:
		return bytes.Equal(m.Raw, o.Raw)
	default:
		return true
	}
}

func (m Message) String() string {
	switch m.Kind {
	case KindError:
		return fmt.Sprintf("error(%s)", m.Err)
	case KindNewSession:
		return fmt.Sprintf("new_session(%q)", m.Name)
	case KindData:
		return fmt.Sprintf("data(%d chars)", len(m.Text))
	case KindRawData:
		return fmt.Sprintf("raw_data(%d bytes)", len(m.Raw))
	default:
		return m.Kind.String()
	}
}
