package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen uint16 = 24
	Magic     uint32 = 0x4D414154 // "MAAT"
	Version   uint16 = 1

	// FlagCBOR marks a payload encoded as CBOR instead of TLV fields.
	FlagCBOR uint32 = 0x01
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrInvalidHeaderLen   = errors.New("frame: invalid header_len")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrTruncated          = errors.New("frame: truncated payload")

	// ErrIncomplete is returned by Split when buf does not yet hold a whole frame.
	ErrIncomplete = errors.New("frame: incomplete")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	Kind       uint32
	Flags      uint32
	PayloadLen uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// ReadFrame reads exactly one frame from a blocking stream.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, ErrTruncated
			}
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// Split decodes the first frame held in buf and reports how many bytes it
// used. It never blocks: a partial frame yields ErrIncomplete and the caller
// keeps the bytes for the next read.
func Split(buf []byte, limits Limits) (Frame, int, error) {
	if len(buf) < int(HeaderLen) {
		return Frame{}, 0, ErrIncomplete
	}
	h, err := DecodeHeader(buf[:HeaderLen])
	if err != nil {
		return Frame{}, 0, err
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, 0, ErrPayloadTooLarge
	}
	total := int(HeaderLen) + int(h.PayloadLen)
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, buf[HeaderLen:total])
	return Frame{Header: h, Payload: payload}, total, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	out, err := AppendFrame(nil, f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// AppendFrame appends the encoded frame to dst. Magic, version and lengths are
// always filled in from the frame itself.
func AppendFrame(dst []byte, f Frame, limits Limits) ([]byte, error) {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return dst, ErrPayloadTooLarge
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = HeaderLen
	h.PayloadLen = payloadLen

	dst = append(dst, EncodeHeader(h)...)
	dst = append(dst, f.Payload...)
	return dst, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint32(buf[8:12], h.Kind)
	binary.BigEndian.PutUint32(buf[12:16], h.Flags)
	binary.BigEndian.PutUint64(buf[16:24], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(HeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	h := Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		Kind:       binary.BigEndian.Uint32(b[8:12]),
		Flags:      binary.BigEndian.Uint32(b[12:16]),
		PayloadLen: binary.BigEndian.Uint64(b[16:24]),
	}
	if h.Magic != Magic {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Header{}, ErrUnsupportedVersion
	}
	if h.HeaderLen != HeaderLen {
		return Header{}, ErrInvalidHeaderLen
	}
	return h, nil
}
