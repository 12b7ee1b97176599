package schema

import (
	"fmt"

	"github.com/lilith645/Maat-Network/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message kind IDs carried in the frame header.
const (
	MsgNull       uint32 = 0
	MsgSuccess    uint32 = 1
	MsgShutdown   uint32 = 2
	MsgError      uint32 = 3
	MsgNewSession uint32 = 4
	MsgPeerJoined uint32 = 5
	MsgEndSession uint32 = 6
	MsgData       uint32 = 7
	MsgRawData    uint32 = 8
)

// Field IDs carried in TLV payloads.
const (
	FieldName      uint16 = 1
	FieldText      uint16 = 2
	FieldRaw       uint16 = 3
	FieldErrorKind uint16 = 4
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgNull:       nil,
	MsgSuccess:    nil,
	MsgShutdown:   nil,
	MsgError:      {{FieldErrorKind, tlv.TypeU8}},
	MsgNewSession: {{FieldName, tlv.TypeString}},
	MsgPeerJoined: nil,
	MsgEndSession: nil,
	MsgData:       {{FieldText, tlv.TypeString}},
	MsgRawData:    {{FieldRaw, tlv.TypeBytes}},
}

// Known reports whether messageType is part of the message vocabulary.
func Known(messageType uint32) bool {
	_, ok := requirements[messageType]
	return ok
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if err := tlv.MustType(f, req.Type); err != nil {
			log.Debug().
				Uint32("message_type", messageType).
				Err(err).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
