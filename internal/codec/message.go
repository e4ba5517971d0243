package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field is one decoded protobuf wire field: a tag number, its wire type, and
// whatever payload matched that wire type. Only one of the payload members
// is meaningful, selected by Type.
//
// This is the module's "protobuf-as-dict" representation: since no .proto
// schema is compiled in (schema generation is out of scope), every message
// body — RPC requests/responses and Notify envelopes alike — decodes into a
// Message of Fields rather than a generated struct. Decoding is lossless:
// Encode(Decode(b)) == b for any well-formed protobuf message, field order
// and wire types preserved.
type Field struct {
	Number  protowire.Number
	Type    protowire.Type
	Varint  uint64
	Fixed32 uint32
	Fixed64 uint64
	Bytes   []byte
}

// Message is an ordered list of decoded fields. Repeated field numbers are
// preserved as repeated entries, matching protobuf's wire semantics.
type Message struct {
	Fields []Field
}

// DecodeMessage parses b as a generic protobuf message. It never fails on
// valid wire bytes; malformed input surfaces ErrMalformedFrame.
func DecodeMessage(b []byte) (*Message, error) {
	m := &Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		f := Field{Number: num, Type: typ}
		var consumed int
		switch typ {
		case protowire.VarintType:
			f.Varint, consumed = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.Fixed32, consumed = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			f.Fixed64, consumed = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.Bytes, consumed = protowire.ConsumeBytes(b)
		case protowire.StartGroupType:
			consumed = protowire.ConsumeFieldValue(num, typ, b)
			f.Bytes = b[:consumed]
		default:
			return nil, fmt.Errorf("%w: unsupported wire type %d", ErrMalformedFrame, typ)
		}
		if consumed < 0 {
			return nil, fmt.Errorf("%w: bad field %d: %v", ErrMalformedFrame, num, protowire.ParseError(consumed))
		}
		b = b[consumed:]
		m.Fields = append(m.Fields, f)
	}
	return m, nil
}

// Encode re-serializes m, preserving field order and wire types.
func (m *Message) Encode() []byte {
	if m == nil {
		return nil
	}
	var out []byte
	for _, f := range m.Fields {
		out = protowire.AppendTag(out, f.Number, f.Type)
		switch f.Type {
		case protowire.VarintType:
			out = protowire.AppendVarint(out, f.Varint)
		case protowire.Fixed32Type:
			out = protowire.AppendFixed32(out, f.Fixed32)
		case protowire.Fixed64Type:
			out = protowire.AppendFixed64(out, f.Fixed64)
		case protowire.BytesType:
			out = protowire.AppendBytes(out, f.Bytes)
		case protowire.StartGroupType:
			// Bytes holds the group body and its end tag as read, unprefixed.
			out = append(out, f.Bytes...)
		}
	}
	return out
}

// String returns the first string-typed (bytes-wire) value for num, if any.
func (m *Message) String(num protowire.Number) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, f := range m.Fields {
		if f.Number == num && f.Type == protowire.BytesType {
			return string(f.Bytes), true
		}
	}
	return "", false
}

// Bytes returns the first bytes-wire value for num, if any.
func (m *Message) Bytes(num protowire.Number) ([]byte, bool) {
	if m == nil {
		return nil, false
	}
	for _, f := range m.Fields {
		if f.Number == num && f.Type == protowire.BytesType {
			return f.Bytes, true
		}
	}
	return nil, false
}

// Varint returns the first varint-wire value for num, if any.
func (m *Message) Varint(num protowire.Number) (uint64, bool) {
	if m == nil {
		return 0, false
	}
	for _, f := range m.Fields {
		if f.Number == num && f.Type == protowire.VarintType {
			return f.Varint, true
		}
	}
	return 0, false
}

// Int64 is Varint cast to a signed 64-bit value.
func (m *Message) Int64(num protowire.Number) (int64, bool) {
	v, ok := m.Varint(num)
	return int64(v), ok
}

// Int64s returns every varint-wire value at num, in field order.
func (m *Message) Int64s(num protowire.Number) []int64 {
	if m == nil {
		return nil
	}
	var out []int64
	for _, f := range m.Fields {
		if f.Number == num && f.Type == protowire.VarintType {
			out = append(out, int64(f.Varint))
		}
	}
	return out
}

// Message decodes the first bytes-wire field at num as a nested Message.
func (m *Message) Message(num protowire.Number) (*Message, bool) {
	b, ok := m.Bytes(num)
	if !ok {
		return nil, false
	}
	nested, err := DecodeMessage(b)
	if err != nil {
		return nil, false
	}
	return nested, true
}

// Messages decodes every bytes-wire field at num as a nested Message,
// skipping any entry that fails to decode rather than failing the whole
// list — a malformed repeated entry should not hide its well-formed
// siblings.
func (m *Message) Messages(num protowire.Number) []*Message {
	if m == nil {
		return nil
	}
	var out []*Message
	for _, f := range m.Fields {
		if f.Number != num || f.Type != protowire.BytesType {
			continue
		}
		nested, err := DecodeMessage(f.Bytes)
		if err != nil {
			continue
		}
		out = append(out, nested)
	}
	return out
}

// WithBytes returns a shallow copy of m with the bytes-wire field num set to
// data, replacing the first match or appending if absent. Used by Hook
// engine "modify" actions that only touch the payload field.
func (m *Message) WithBytes(num protowire.Number, data []byte) *Message {
	out := &Message{Fields: make([]Field, len(m.Fields))}
	copy(out.Fields, m.Fields)
	for i, f := range out.Fields {
		if f.Number == num && f.Type == protowire.BytesType {
			out.Fields[i].Bytes = data
			return out
		}
	}
	out.Fields = append(out.Fields, Field{Number: num, Type: protowire.BytesType, Bytes: data})
	return out
}

// NewEnvelope builds the two-field (method, payload) envelope used for the
// outer wrapper of every Req/Res/Notify frame.
func NewEnvelope(method string, payload []byte) *Message {
	return &Message{Fields: []Field{
		{Number: 1, Type: protowire.BytesType, Bytes: []byte(method)},
		{Number: 2, Type: protowire.BytesType, Bytes: payload},
	}}
}
