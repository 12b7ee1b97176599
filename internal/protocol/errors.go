package protocol

import (
	"errors"

	"github.com/lilith645/Maat-Network/internal/protocol/frame"
)

var (
	ErrUnknownKind     = errors.New("protocol: unknown message kind")
	ErrInvalidPayload  = errors.New("protocol: invalid payload")
	ErrUnknownEncoding = errors.New("protocol: unknown payload encoding")
	ErrPayloadTooLarge = frame.ErrPayloadTooLarge
	ErrIncomplete      = frame.ErrIncomplete
)

// IsMalformed reports whether err came from bytes that do not form a valid
// frame or message, as opposed to the stream ending.
func IsMalformed(err error) bool {
	for _, target := range []error{
		ErrUnknownKind,
		ErrInvalidPayload,
		ErrUnknownEncoding,
		frame.ErrPayloadTooLarge,
		frame.ErrInvalidMagic,
		frame.ErrUnsupportedVersion,
		frame.ErrInvalidHeaderLen,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
