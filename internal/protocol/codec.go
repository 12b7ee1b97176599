package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/lilith645/Maat-Network/internal/protocol/frame"
	"github.com/lilith645/Maat-Network/internal/protocol/schema"
	"github.com/lilith645/Maat-Network/internal/protocol/tlv"
)

// Encoding selects how a frame payload is laid out.
type Encoding uint8

const (
	EncodingTLV Encoding = iota
	EncodingCBOR
)

func (e Encoding) String() string {
	switch e {
	case EncodingTLV:
		return "tlv"
	case EncodingCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// ParseEncoding accepts "tlv" and "cbor" (case-insensitive). Empty means tlv.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tlv":
		return EncodingTLV, nil
	case "cbor":
		return EncodingCBOR, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
	}
}

var defaultLimits = frame.DefaultLimits()

// Encode returns the complete wire frame for m.
func Encode(m Message, enc Encoding) ([]byte, error) {
	return AppendEncode(nil, m, enc)
}

// AppendEncode appends the wire frame for m to dst.
func AppendEncode(dst []byte, m Message, enc Encoding) ([]byte, error) {
	f, err := toFrame(m, enc)
	if err != nil {
		return dst, err
	}
	return frame.AppendFrame(dst, f, defaultLimits)
}

// Write encodes m and writes the frame to w in one call.
func Write(w io.Writer, m Message, enc Encoding) error {
	f, err := toFrame(m, enc)
	if err != nil {
		return err
	}
	return frame.WriteFrame(w, f, defaultLimits)
}

func toFrame(m Message, enc Encoding) (frame.Frame, error) {
	if !schema.Known(uint32(m.Kind)) {
		return frame.Frame{}, fmt.Errorf("%w: %s", ErrUnknownKind, m.Kind)
	}
	if err := checkText(m.Kind, m.Name, m.Text); err != nil {
		return frame.Frame{}, err
	}
	fields := fieldsOf(m)
	var (
		payload []byte
		flags   uint32
		err     error
	)
	switch enc {
	case EncodingTLV:
		payload = tlv.EncodeFields(fields)
	case EncodingCBOR:
		if len(fields) > 0 {
			payload, err = marshalCBOR(fields)
			if err != nil {
				return frame.Frame{}, fmt.Errorf("%w: cbor: %v", ErrInvalidPayload, err)
			}
		}
		flags |= frame.FlagCBOR
	default:
		return frame.Frame{}, fmt.Errorf("%w: %s", ErrUnknownEncoding, enc)
	}
	return frame.Frame{
		Header:  frame.Header{Kind: uint32(m.Kind), Flags: flags},
		Payload: payload,
	}, nil
}

// Decode reads one frame from a blocking stream.
func Decode(r io.Reader) (Message, Encoding, error) {
	f, err := frame.ReadFrame(r, defaultLimits)
	if err != nil {
		return Message{}, 0, err
	}
	return FromFrame(f)
}

// Split decodes the first message held in buf. It returns frame.ErrIncomplete
// (aliased as ErrIncomplete) while buf holds less than one frame; n is the
// number of bytes the message used.
func Split(buf []byte) (Message, Encoding, int, error) {
	f, n, err := frame.Split(buf, defaultLimits)
	if err != nil {
		return Message{}, 0, 0, err
	}
	m, enc, err := FromFrame(f)
	if err != nil {
		return Message{}, 0, n, err
	}
	return m, enc, n, nil
}

// FromFrame turns a decoded frame into a Message, validating required fields.
func FromFrame(f frame.Frame) (Message, Encoding, error) {
	kind := f.Header.Kind
	if !schema.Known(kind) {
		return Message{}, 0, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	enc := EncodingTLV
	var (
		fields []tlv.Field
		err    error
	)
	if f.Header.Flags&frame.FlagCBOR != 0 {
		enc = EncodingCBOR
		fields, err = unmarshalCBOR(f.Payload)
	} else {
		fields, err = tlv.DecodeFields(f.Payload)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if err != nil {
		return Message{}, enc, err
	}
	if err := schema.Validate(kind, fields); err != nil {
		return Message{}, enc, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	m, err := fromFields(Kind(kind), fields)
	if err != nil {
		return Message{}, enc, err
	}
	return m, enc, nil
}

// IsFatal reports whether err means the stream can no longer be trusted.
// Everything Decode and Split return is fatal except ErrIncomplete.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrIncomplete)
}

func fieldsOf(m Message) []tlv.Field {
	switch m.Kind {
	case KindError:
		return []tlv.Field{tlv.U8(schema.FieldErrorKind, uint8(m.Err))}
	case KindNewSession:
		return []tlv.Field{tlv.String(schema.FieldName, m.Name)}
	case KindData:
		return []tlv.Field{tlv.String(schema.FieldText, m.Text)}
	case KindRawData:
		return []tlv.Field{tlv.Bytes(schema.FieldRaw, m.Raw)}
	default:
		return nil
	}
}

func fromFields(kind Kind, fields []tlv.Field) (Message, error) {
	m := Message{Kind: kind}
	switch kind {
	case KindError:
		f, _ := tlv.GetField(fields, schema.FieldErrorKind)
		v, err := tlv.U8FromBytes(f.Value)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		m.Err = ErrorKind(v)
	case KindNewSession:
		f, _ := tlv.GetField(fields, schema.FieldName)
		m.Name = string(f.Value)
	case KindData:
		f, _ := tlv.GetField(fields, schema.FieldText)
		m.Text = string(f.Value)
	case KindRawData:
		f, _ := tlv.GetField(fields, schema.FieldRaw)
		m.Raw = make([]byte, len(f.Value))
		copy(m.Raw, f.Value)
	}
	if err := checkText(kind, m.Name, m.Text); err != nil {
		return Message{}, err
	}
	return m, nil
}

// checkText rejects names and text that are not valid UTF-8. CBOR text
// strings must be, and a message relayed between encodings has to survive
// both.
func checkText(kind Kind, name, text string) error {
	switch {
	case kind == KindNewSession && !utf8.ValidString(name):
		return fmt.Errorf("%w: session name is not valid UTF-8", ErrInvalidPayload)
	case kind == KindData && !utf8.ValidString(text):
		return fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidPayload)
	}
	return nil
}
