package codec

import (
	"bytes"
	"testing"
)

func newTestDescriptor() *Descriptor {
	d := NewDescriptor()
	d.Register(MethodInfo{Method: ".lq.Lobby.amuletActivityBuy", RequestType: "ReqAmuletBuy", ResponseType: "ResAmuletBuy"})
	d.Register(MethodInfo{Method: ".lq.Lobby.oauth2Login", RequestType: "ReqOauth2Login", ResponseType: "ResOauth2Login"})
	return d
}

func TestFrameRoundTrip_Notify(t *testing.T) {
	c := New(newTestDescriptor())

	view := &Frame{
		Kind:   KindNotify,
		Method: ".lq.NotifyTest",
		Body:   &Message{},
	}
	raw, err := c.BuildFrame(view)
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}

	reparsed, err := c.ParseFrame(raw, false)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if reparsed.Kind != KindNotify || reparsed.Method != ".lq.NotifyTest" {
		t.Fatalf("round-trip mismatch: %+v", reparsed)
	}

	rebuilt, err := c.BuildFrame(reparsed)
	if err != nil {
		t.Fatalf("BuildFrame (2nd): %v", err)
	}
	again, err := c.ParseFrame(rebuilt, false)
	if err != nil {
		t.Fatalf("ParseFrame (2nd): %v", err)
	}
	if again.Method != reparsed.Method || again.Kind != reparsed.Kind {
		t.Fatalf("parse . build . parse != parse: %+v vs %+v", again, reparsed)
	}
}

func TestResponseCorrelation(t *testing.T) {
	c := New(newTestDescriptor())

	reqRaw, err := c.BuildFrame(&Frame{
		Kind:   KindReq,
		MsgID:  0x1234,
		Method: ".lq.Lobby.amuletActivityBuy",
		Body:   &Message{},
	})
	if err != nil {
		t.Fatalf("build req: %v", err)
	}
	if _, err := c.ParseFrame(reqRaw, true); err != nil {
		t.Fatalf("parse req: %v", err)
	}
	if c.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", c.PendingCount())
	}

	resRaw, err := c.BuildFrame(&Frame{
		Kind:   KindRes,
		MsgID:  0x1234,
		Method: "",
		Body:   &Message{},
	})
	if err != nil {
		t.Fatalf("build res: %v", err)
	}
	res, err := c.ParseFrame(resRaw, false)
	if err != nil {
		t.Fatalf("parse res: %v", err)
	}
	if res.MsgID != 0x1234 {
		t.Fatalf("expected msg_id 0x1234, got %x", res.MsgID)
	}
	if res.Opaque {
		t.Fatalf("expected a known resp_map entry, got opaque")
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected resp_map to return to 0, got %d", c.PendingCount())
	}
}

func TestUnknownResponseIsOpaqueNotFatal(t *testing.T) {
	c := New(newTestDescriptor())
	resRaw, _ := c.BuildFrame(&Frame{Kind: KindRes, MsgID: 0x9, Body: &Message{}})
	res, err := c.ParseFrame(resRaw, false)
	if err != nil {
		t.Fatalf("unexpected error for unmatched Res: %v", err)
	}
	if !res.Opaque {
		t.Fatalf("expected opaque result for unmatched msg_id")
	}
}

func TestBuildSyntheticReqPreservesMsgID(t *testing.T) {
	c := New(newTestDescriptor())
	raw, err := c.BuildFrame(&Frame{
		Kind:   KindReq,
		MsgID:  7,
		Method: ".lq.Lobby.oauth2Login",
		Body:   &Message{},
	})
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	f, err := c.ParseFrame(raw, true)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Kind != KindReq || f.MsgID != 7 || f.Method != ".lq.Lobby.oauth2Login" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestAllocateInjectIDAvoidsCollision(t *testing.T) {
	c := New(newTestDescriptor())
	c.lastClientReqID = 100
	c.haveLastReqID = true
	c.respMap[99] = PendingReq{Method: "x"}
	c.respMap[98] = PendingReq{Method: "y"}

	id := c.AllocateInjectID()
	if id != 97 {
		t.Fatalf("expected 97, got %d", id)
	}
}

func TestNotifyXORRoundTrip(t *testing.T) {
	inner := &Message{Fields: []Field{{Number: 1, Type: 0, Varint: 42}}}
	obfuscated := xorNotifyPayload(inner.Encode())
	plain := xorNotifyPayload(obfuscated)
	if !bytes.Equal(plain, inner.Encode()) {
		t.Fatalf("XOR is not self-inverse")
	}
}

func TestNotifyInnerDecode(t *testing.T) {
	c := New(newTestDescriptor())
	inner := &Message{Fields: []Field{{Number: 3, Type: 0, Varint: 123}}}
	obfuscated := xorNotifyPayload(inner.Encode())
	wrapper := &Message{Fields: []Field{
		{Number: 1, Type: 2, Bytes: []byte(".lq.NotifyGameEnd")},
		{Number: 2, Type: 2, Bytes: obfuscated},
	}}
	raw, err := c.BuildFrame(&Frame{Kind: KindNotify, Method: ".lq.NotifyGameEnd", Body: wrapper})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	f, err := c.ParseFrame(raw, false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Inner == nil {
		t.Fatalf("expected decoded inner message")
	}
	if f.InnerName != ".lq.NotifyGameEnd" {
		t.Fatalf("expected inner name to come from wrapper's name field, got %q", f.InnerName)
	}
	if len(f.Inner.Fields) != 1 || f.Inner.Fields[0].Varint != 123 {
		t.Fatalf("unexpected inner fields: %+v", f.Inner.Fields)
	}
}
