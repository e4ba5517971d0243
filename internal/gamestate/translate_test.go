package gamestate

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/liqi-mitm/core/internal/codec"
)

func msg(fields ...codec.Field) *codec.Message { return &codec.Message{Fields: fields} }

func TestTranslateStageChangeEvent(t *testing.T) {
	evBody := msg(codec.Field{Number: fieldListEntry, Type: protowire.VarintType, Varint: uint64(StagePlay)})
	evMsg := msg(
		codec.Field{Number: fieldEvType, Type: protowire.VarintType, Varint: uint64(EventStageChange)},
		codec.Field{Number: fieldEvBody, Type: protowire.BytesType, Bytes: evBody.Encode()},
	)
	respBody := msg(codec.Field{Number: fieldEvents, Type: protowire.BytesType, Bytes: evMsg.Encode()})

	f := &codec.Frame{Kind: codec.KindRes, Method: ".lq.Lobby.amuletActivityOperate", Body: respBody}
	evs := Translate(f)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Kind != EventStageChange || evs[0].NewStage != StagePlay {
		t.Fatalf("unexpected event %+v", evs[0])
	}
}

func TestTranslateFetchSnapshotIsFullRecordPatch(t *testing.T) {
	valueMsg := msg(codec.Field{Number: fieldListEntry, Type: protowire.VarintType, Varint: 500})
	entry := msg(
		codec.Field{Number: fieldRecordKey, Type: protowire.BytesType, Bytes: []byte("coin")},
		codec.Field{Number: fieldRecordDirty, Type: protowire.VarintType, Varint: 1},
		codec.Field{Number: fieldRecordValue, Type: protowire.BytesType, Bytes: valueMsg.Encode()},
	)
	body := msg(codec.Field{Number: fieldRecordEntries, Type: protowire.BytesType, Bytes: entry.Encode()})

	f := &codec.Frame{Kind: codec.KindRes, Method: ".lq.Lobby.fetchAmuletActivityData", Body: body}
	evs := Translate(f)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.Kind != EventRecordPatch || !ev.Full {
		t.Fatalf("expected full record patch, got %+v", ev)
	}
	field, ok := ev.RecordPatch["coin"]
	if !ok || !field.Dirty || field.Value != int64(500) {
		t.Fatalf("unexpected coin field %+v", field)
	}
}

func TestTranslateIgnoresClientFrames(t *testing.T) {
	f := &codec.Frame{Kind: codec.KindRes, Method: ".lq.Lobby.amuletActivityOperate", Body: msg(), FromClient: true}
	if evs := Translate(f); evs != nil {
		t.Fatalf("expected nil events for client-originated frame, got %+v", evs)
	}
}

func TestTranslateIgnoresUnrelatedMethods(t *testing.T) {
	f := &codec.Frame{Kind: codec.KindRes, Method: ".lq.Lobby.heartbeat", Body: msg()}
	if evs := Translate(f); evs != nil {
		t.Fatalf("expected nil events for unrelated method, got %+v", evs)
	}
}

func TestTranslateApplyFeedsProjector(t *testing.T) {
	evBody := msg(codec.Field{Number: fieldListEntry, Type: protowire.VarintType, Varint: 42})
	evMsg := msg(
		codec.Field{Number: fieldEvType, Type: protowire.VarintType, Varint: uint64(EventDraw)},
		codec.Field{Number: fieldEvBody, Type: protowire.BytesType, Bytes: evBody.Encode()},
	)
	respBody := msg(codec.Field{Number: fieldEvents, Type: protowire.BytesType, Bytes: evMsg.Encode()})
	f := &codec.Frame{Kind: codec.KindRes, Method: ".lq.Lobby.amuletActivityOperate", Body: respBody}

	var got Snapshot
	p := NewProjector(func(s Snapshot) { got = s })
	sub := Subscribe(p)
	sub(f)

	found := false
	for _, id := range got.HandTiles {
		if id == 42 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected drawn tile 42 in hand, got %+v", got.HandTiles)
	}
}
