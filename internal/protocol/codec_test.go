package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/lilith645/Maat-Network/internal/protocol/frame"
	"github.com/lilith645/Maat-Network/internal/protocol/schema"
	"github.com/lilith645/Maat-Network/internal/protocol/tlv"
	"github.com/lilith645/Maat-Network/internal/testutil/testlog"
)

func allVariants() []Message {
	return []Message{
		Null(),
		Success(),
		Shutdown(),
		Error(ErrClientAlreadyConnected),
		Error(ErrUnknown),
		NewSession("room1"),
		NewSession(""),
		PeerJoined(),
		EndSession(),
		Data("hi"),
		Data(""),
		RawData([]byte{0x00, 0xFF, 0x10}),
		RawData(nil),
	}
}

func TestEncodeDecodeRoundTripEveryVariant(t *testing.T) {
	testlog.Start(t)
	for _, enc := range []Encoding{EncodingTLV, EncodingCBOR} {
		for _, m := range allVariants() {
			wire, err := Encode(m, enc)
			if err != nil {
				t.Fatalf("%s/%s encode: %v", enc, m, err)
			}
			got, gotEnc, err := Decode(bytes.NewReader(wire))
			if err != nil {
				t.Fatalf("%s/%s decode: %v", enc, m, err)
			}
			if gotEnc != enc {
				t.Fatalf("%s/%s: decoded encoding %s", enc, m, gotEnc)
			}
			if !got.Equal(m) {
				t.Fatalf("%s: round trip mismatch: got %s want %s", enc, got, m)
			}
		}
	}
}

func TestSplitBackToBackAndPartial(t *testing.T) {
	testlog.Start(t)
	var buf []byte
	var err error
	buf, err = AppendEncode(buf, NewSession("room1"), EncodingTLV)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf, err = AppendEncode(buf, Data("hello"), EncodingCBOR)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, _, _, err := Split(buf[:10]); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if IsFatal(ErrIncomplete) {
		t.Fatalf("ErrIncomplete must not be fatal")
	}

	m, enc, n, err := Split(buf)
	if err != nil {
		t.Fatalf("split first: %v", err)
	}
	if enc != EncodingTLV || !m.Equal(NewSession("room1")) {
		t.Fatalf("unexpected first message %s (%s)", m, enc)
	}
	m, enc, n2, err := Split(buf[n:])
	if err != nil {
		t.Fatalf("split second: %v", err)
	}
	if enc != EncodingCBOR || !m.Equal(Data("hello")) {
		t.Fatalf("unexpected second message %s (%s)", m, enc)
	}
	if n+n2 != len(buf) {
		t.Fatalf("consumed %d of %d bytes", n+n2, len(buf))
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	testlog.Start(t)
	wire, err := frame.AppendFrame(nil, frame.Frame{Header: frame.Header{Kind: 99}}, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("append frame: %v", err)
	}
	_, _, err = Decode(bytes.NewReader(wire))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if !IsFatal(err) {
		t.Fatalf("unknown kind should be fatal")
	}
}

func TestDecodeMissingRequiredField(t *testing.T) {
	testlog.Start(t)
	payload := tlv.EncodeFields([]tlv.Field{tlv.String(schema.FieldName, "wrong field")})
	wire, err := frame.AppendFrame(nil, frame.Frame{
		Header:  frame.Header{Kind: schema.MsgData},
		Payload: payload,
	}, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("append frame: %v", err)
	}
	_, _, err = Decode(bytes.NewReader(wire))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	var verr schema.ValidationError
	if errors.As(err, &verr) {
		t.Fatalf("validation error should be flattened into ErrInvalidPayload, got %+v", verr)
	}
}

func TestDecodeMalformedCBOR(t *testing.T) {
	testlog.Start(t)
	wire, err := frame.AppendFrame(nil, frame.Frame{
		Header:  frame.Header{Kind: schema.MsgNewSession, Flags: frame.FlagCBOR},
		Payload: []byte{0xFF, 0x00},
	}, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("append frame: %v", err)
	}
	_, enc, err := Decode(bytes.NewReader(wire))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if enc != EncodingCBOR {
		t.Fatalf("encoding should still be reported, got %s", enc)
	}
}

func TestDecodeCBORDuplicateKey(t *testing.T) {
	testlog.Start(t)
	// {"name": "a", "name": "b"}
	payload := []byte{0xA2, 0x64, 'n', 'a', 'm', 'e', 0x61, 'a', 0x64, 'n', 'a', 'm', 'e', 0x61, 'b'}
	wire, err := frame.AppendFrame(nil, frame.Frame{
		Header:  frame.Header{Kind: schema.MsgNewSession, Flags: frame.FlagCBOR},
		Payload: payload,
	}, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("append frame: %v", err)
	}
	if _, _, _, err := Split(wire); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name  string
		kind  uint32
		field uint16
	}{
		{name: "data", kind: schema.MsgData, field: schema.FieldText},
		{name: "new session", kind: schema.MsgNewSession, field: schema.FieldName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := tlv.EncodeFields([]tlv.Field{tlv.String(tc.field, "ok\xff")})
			wire, err := frame.AppendFrame(nil, frame.Frame{
				Header:  frame.Header{Kind: tc.kind},
				Payload: payload,
			}, frame.DefaultLimits())
			if err != nil {
				t.Fatalf("append frame: %v", err)
			}
			if _, _, _, err := Split(wire); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	testlog.Start(t)
	for _, enc := range []Encoding{EncodingTLV, EncodingCBOR} {
		for _, m := range []Message{Data("ok\xff"), NewSession("r\xff")} {
			if _, err := Encode(m, enc); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("%s/%s: expected ErrInvalidPayload, got %v", enc, m.Kind, err)
			}
		}
	}
	if _, err := Encode(RawData([]byte("ok\xff")), EncodingCBOR); err != nil {
		t.Fatalf("raw bytes carry no text constraint: %v", err)
	}
}

func TestWriteMatchesEncode(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := Write(&buf, Data("hello"), EncodingCBOR); err != nil {
		t.Fatalf("write: %v", err)
	}
	want, err := Encode(Data("hello"), EncodingCBOR)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("write and encode disagree")
	}
	if err := Write(&buf, Data("bad\xff"), EncodingTLV); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestEncodeRejectsUnknownKindAndEncoding(t *testing.T) {
	testlog.Start(t)
	if _, err := Encode(Message{Kind: 77}, EncodingTLV); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := Encode(Null(), Encoding(9)); !errors.Is(err, ErrUnknownEncoding) {
		t.Fatalf("expected ErrUnknownEncoding, got %v", err)
	}
}

func TestCBOREncodingIsDeterministic(t *testing.T) {
	testlog.Start(t)
	a, err := Encode(RawData([]byte("abc")), EncodingCBOR)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := Encode(RawData([]byte("abc")), EncodingCBOR)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("cbor encoding not deterministic")
	}
}

func TestParseEncoding(t *testing.T) {
	cases := map[string]Encoding{"": EncodingTLV, "tlv": EncodingTLV, "CBOR": EncodingCBOR}
	for in, want := range cases {
		got, err := ParseEncoding(in)
		if err != nil || got != want {
			t.Fatalf("ParseEncoding(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseEncoding("json"); !errors.Is(err, ErrUnknownEncoding) {
		t.Fatalf("expected ErrUnknownEncoding, got %v", err)
	}
}

func TestIsMalformed(t *testing.T) {
	if !IsMalformed(frame.ErrInvalidMagic) || !IsMalformed(ErrUnknownKind) {
		t.Fatalf("header and kind errors are malformed")
	}
	if IsMalformed(frame.ErrTruncated) || IsMalformed(ErrIncomplete) || IsMalformed(nil) {
		t.Fatalf("truncation is a stream error, not malformed input")
	}
}
