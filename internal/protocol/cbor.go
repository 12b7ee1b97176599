package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/lilith645/Maat-Network/internal/protocol/schema"
	"github.com/lilith645/Maat-Network/internal/protocol/tlv"
)

// encMode uses Core Deterministic Encoding so the same message always
// produces the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	// Payload size is already capped by the frame limits; these bound the
	// structure. A message body is one flat map with at most four keys.
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:  4,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// cborBody is the CBOR payload shape. Pointers keep field presence so the
// same schema requirements apply to both encodings.
type cborBody struct {
	Name *string `cbor:"name,omitempty"`
	Text *string `cbor:"text,omitempty"`
	Raw  *[]byte `cbor:"raw,omitempty"`
	Err  *uint8  `cbor:"error,omitempty"`
}

func marshalCBOR(fields []tlv.Field) ([]byte, error) {
	var body cborBody
	for _, f := range fields {
		switch f.ID {
		case schema.FieldName:
			v := string(f.Value)
			body.Name = &v
		case schema.FieldText:
			v := string(f.Value)
			body.Text = &v
		case schema.FieldRaw:
			v := f.Value
			if v == nil {
				v = []byte{}
			}
			body.Raw = &v
		case schema.FieldErrorKind:
			v := f.Value[0]
			body.Err = &v
		}
	}
	return encMode.Marshal(body)
}

func unmarshalCBOR(payload []byte) ([]tlv.Field, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var body cborBody
	if err := decMode.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: cbor: %v", ErrInvalidPayload, err)
	}
	fields := make([]tlv.Field, 0, 1)
	if body.Name != nil {
		fields = append(fields, tlv.String(schema.FieldName, *body.Name))
	}
	if body.Text != nil {
		fields = append(fields, tlv.String(schema.FieldText, *body.Text))
	}
	if body.Raw != nil {
		fields = append(fields, tlv.Bytes(schema.FieldRaw, *body.Raw))
	}
	if body.Err != nil {
		fields = append(fields, tlv.U8(schema.FieldErrorKind, *body.Err))
	}
	return fields, nil
}
