package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// PendingReq is a resp_map entry: what response a given msg_id expects.
type PendingReq struct {
	Method       string
	ResponseType string
}

// Codec translates between Liqi wire bytes and Frame views. One Codec
// instance is owned per connection (the per-connection resp_map and
// last_client_req_id live here); the RPC descriptor table itself may be
// shared across connections since it is read-mostly.
type Codec struct {
	descriptor *Descriptor

	mu              sync.Mutex
	respMap         map[uint16]PendingReq
	lastClientReqID uint16
	haveLastReqID   bool
}

// New returns a Codec bound to the given descriptor table.
func New(descriptor *Descriptor) *Codec {
	return &Codec{
		descriptor: descriptor,
		respMap:    make(map[uint16]PendingReq),
	}
}

// ParseFrame decodes raw wire bytes into a Frame. It never returns a hard
// failure for a Res with no matching resp_map entry or an unrecognized
// method — those decode with Frame.Opaque set — matching the spec's
// "parse failures never crash the pipeline" rule. Only truncation, an
// unknown kind byte, a non-parseable envelope, or a non-parseable body
// payload produce ErrMalformedFrame.
func (c *Codec) ParseFrame(raw []byte, fromClient bool) (*Frame, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	kind := Kind(raw[0])
	var msgID uint16
	hasMsgID := kind == KindReq || kind == KindRes
	envelope := raw[1:]
	if hasMsgID {
		if len(raw) < 3 {
			return nil, fmt.Errorf("%w: truncated msg_id", ErrMalformedFrame)
		}
		msgID = binary.LittleEndian.Uint16(raw[1:3])
		envelope = raw[3:]
	}
	if kind != KindNotify && kind != KindReq && kind != KindRes {
		return nil, fmt.Errorf("%w: unknown kind byte %d", ErrMalformedFrame, raw[0])
	}

	outer, err := DecodeMessage(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformedFrame, err)
	}
	method, _ := outer.String(1)
	payload, _ := outer.Bytes(2)

	body, err := DecodeMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformedFrame, err)
	}

	f := &Frame{
		Kind:       kind,
		HasMsgID:   hasMsgID,
		MsgID:      msgID,
		Method:     method,
		Body:       body,
		FromClient: fromClient,
		Raw:        raw,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case KindReq:
		info, known := c.descriptor.Lookup(method)
		respType := info.ResponseType
		if !known {
			f.Opaque = true
		}
		c.respMap[msgID] = PendingReq{Method: method, ResponseType: respType}
		if fromClient {
			c.lastClientReqID = msgID
			c.haveLastReqID = true
		}
	case KindRes:
		if _, ok := c.respMap[msgID]; ok {
			delete(c.respMap, msgID)
		} else {
			f.Opaque = true
		}
	case KindNotify:
		_, service := splitMethod(method)
		f.InnerName = service
		if name, ok := body.String(1); ok {
			if data, ok := body.Bytes(2); ok {
				plain := xorNotifyPayload(data)
				if inner, err := DecodeMessage(plain); err == nil {
					f.Inner = inner
					f.InnerName = name
				}
			}
		}
	}

	return f, nil
}

// BuildFrame re-serializes a Frame. It round-trips any Frame produced by
// ParseFrame and also accepts synthetic frames (Method + Body, or
// Method + InnerName + Inner for a synthetic Notify) that lack a source
// Raw buffer. For injected Req frames the caller supplies MsgID directly;
// BuildFrame never allocates ids itself (see AllocateInjectID).
func (c *Codec) BuildFrame(f *Frame) ([]byte, error) {
	body := f.Body
	if body == nil {
		switch f.Kind {
		case KindNotify:
			if f.Inner == nil {
				return nil, fmt.Errorf("%w: notify frame has neither Body nor Inner", ErrBuildFailure)
			}
			obfuscated := xorNotifyPayload(f.Inner.Encode())
			body = &Message{Fields: []Field{
				{Number: 1, Type: protowire.BytesType, Bytes: []byte(f.InnerName)},
				{Number: 2, Type: protowire.BytesType, Bytes: obfuscated},
			}}
		default:
			body = &Message{}
		}
	} else if f.Kind == KindNotify && f.Inner != nil {
		// Body carries the name/data wrapper from a parse; if Inner was
		// mutated by a hook, re-obfuscate it into the wrapper before encode.
		obfuscated := xorNotifyPayload(f.Inner.Encode())
		body = body.WithBytes(2, obfuscated)
	}

	envelope := NewEnvelope(f.Method, body.Encode())
	outer := envelope.Encode()

	out := make([]byte, 0, len(outer)+3)
	out = append(out, byte(f.Kind))
	if f.Kind == KindReq || f.Kind == KindRes {
		var idBuf [2]byte
		binary.LittleEndian.PutUint16(idBuf[:], f.MsgID)
		out = append(out, idBuf[:]...)
	}
	out = append(out, outer...)
	return out, nil
}

// AllocateInjectID deterministically picks an unused msg_id for injection.
// It starts at last_client_req_id-1 (mod 2^16) and decrements, probing the
// resp_map, for at most 16 attempts. If every probed id is busy it still
// returns the last candidate (the caller copes with the collision risk).
func (c *Codec) AllocateInjectID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.lastClientReqID - 1 // unsigned wraparound mirrors mod 2^16
	var candidate uint16
	for i := 0; i < 16; i++ {
		candidate = cur
		if _, busy := c.respMap[candidate]; !busy {
			return candidate
		}
		cur--
	}
	return candidate
}

// RegisterPending records a resp_map entry directly, used when a caller
// builds a Req frame out-of-band (e.g. PacketBot injection) and needs the
// codec to recognize the eventual Res. It mirrors what ParseFrame(..., from
// the client) would have recorded had the bytes actually been observed on
// the wire.
func (c *Codec) RegisterPending(msgID uint16, method, responseType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respMap[msgID] = PendingReq{Method: method, ResponseType: responseType}
	c.lastClientReqID = msgID
	c.haveLastReqID = true
}

// PendingCount returns the current resp_map size, mostly for tests
// asserting the round-trip invariant in SPEC_FULL.md §8.
func (c *Codec) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.respMap)
}

// LastClientReqID returns the last Req msg_id observed from the client and
// whether one has been observed at all.
func (c *Codec) LastClientReqID() (uint16, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastClientReqID, c.haveLastReqID
}
