package gamestate

import (
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/liqi-mitm/core/internal/codec"
	"github.com/liqi-mitm/core/internal/hook"
)

// Field numbers below are a documented decode convention, not numbers read
// from a compiled .proto — this module never compiles the real amulet
// activity schema (see codec.Message), so every nested message here is
// addressed the same way packetbot's errorCodeField addresses its replies:
// by a fixed, commented field number chosen to match the reference
// client's event shape rather than a generated descriptor.
const (
	fieldEvents protowire.Number = 10 // amuletActivity* response: repeated event sub-message
	fieldEvType protowire.Number = 1  // event sub-message: type (varint)
	fieldEvBody protowire.Number = 2  // event sub-message: nested payload

	fieldRecordEntries protowire.Number = 1 // record-patch container: repeated entry sub-message
	fieldRecordKey      protowire.Number = 1 // record entry: key (string)
	fieldRecordDirty     protowire.Number = 2 // record entry: dirty flag (varint bool)
	fieldRecordValue     protowire.Number = 3 // record entry: value sub-message

	fieldTileID protowire.Number = 1 // tile sub-message: id
	fieldTileFace protowire.Number = 2 // tile sub-message: face string

	fieldAmuletUID    protowire.Number = 1
	fieldAmuletID     protowire.Number = 2
	fieldAmuletBadge  protowire.Number = 3
	fieldAmuletVolume protowire.Number = 4
	fieldAmuletStore  protowire.Number = 5

	fieldCandRaw    protowire.Number = 1
	fieldCandReg    protowire.Number = 2
	fieldCandPlus   protowire.Number = 3
	fieldCandBadge  protowire.Number = 4
	fieldCandRarity protowire.Number = 5

	fieldGoodID      protowire.Number = 1
	fieldGoodGoodsID protowire.Number = 2
	fieldGoodPrice   protowire.Number = 3
	fieldGoodSold    protowire.Number = 4

	fieldTargetKind  protowire.Number = 1
	fieldTargetID    protowire.Number = 2
	fieldTargetPlus  protowire.Number = 3
	fieldTargetBadge protowire.Number = 4
	fieldTargetValue protowire.Number = 5

	fieldRefreshPrice protowire.Number = 2 // EventRefreshShop body
	fieldRefreshCoin  protowire.Number = 3 // EventRefreshShop body
	fieldListEntry    protowire.Number = 1 // shared: repeated list entry number
)

// Translate decodes the amuletActivity response family carried by f into
// zero or more Events a Projector can Apply. Every other frame — requests,
// Notify frames, and responses outside this family — yields no events;
// nothing in this package infers state from a frame it doesn't recognize.
func Translate(f *codec.Frame) []Event {
	if f == nil || f.FromClient || f.Kind != codec.KindRes || f.Body == nil {
		return nil
	}
	rpc := rpcName(f.Method)
	if rpc == "fetchAmuletActivityData" {
		return []Event{translateRecordPatch(true, f.Method, f.Body)}
	}
	if !strings.HasPrefix(rpc, "amuletActivity") {
		return nil
	}

	var out []Event
	for _, evMsg := range f.Body.Messages(fieldEvents) {
		typ, ok := evMsg.Varint(fieldEvType)
		if !ok {
			continue
		}
		payload, _ := evMsg.Message(fieldEvBody)
		if ev, ok := translateEvent(f.Method, EventKind(typ), payload); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe returns a hook.Subscriber that translates every parsed frame
// and applies the resulting events to p. Register it once per connection
// with Engine.Subscribe so the projector actually sees live traffic.
func Subscribe(p *Projector) hook.Subscriber {
	return func(f *codec.Frame) {
		if evs := Translate(f); len(evs) > 0 {
			p.Apply(evs...)
		}
	}
}

func rpcName(method string) string {
	if i := strings.LastIndexByte(method, '.'); i >= 0 {
		return method[i+1:]
	}
	return method
}

func translateEvent(method string, kind EventKind, body *codec.Message) (Event, bool) {
	switch kind {
	case EventPoolData:
		return Event{Kind: kind, Method: method, Pool: decodeTileList(body)}, true
	case EventDraw:
		id, _ := body.Int64(fieldListEntry)
		return Event{Kind: kind, Method: method, DrawnTileID: id}, true
	case EventStageChange:
		s, _ := body.Int64(fieldListEntry)
		return Event{Kind: kind, Method: method, NewStage: Stage(s)}, true
	case EventFreeEffectOffer, EventRewardPackOffer:
		return Event{Kind: kind, Method: method, CandidateList: decodeCandidateList(body)}, true
	case EventBuy, EventSell, EventSortEffect:
		return Event{Kind: kind, Method: method, EffectList: decodeAmuletList(body)}, true
	case EventRefreshShop:
		price, _ := body.Int64(fieldRefreshPrice)
		coin, _ := body.Int64(fieldRefreshCoin)
		return Event{Kind: kind, Method: method, Goods: decodeGoodsList(body), RefreshPrice: price, Coin: coin}, true
	case EventShopEnd, EventEndShopping:
		return Event{Kind: kind, Method: method}, true
	case EventGameOver, EventGiveup:
		return Event{Kind: kind, Method: method, Ended: true}, true
	case EventLevelUp:
		return Event{Kind: kind, Method: method}, true
	case EventAnnouncement:
		return Event{Kind: kind, Method: method}, true
	case EventRecordPatch:
		return translateRecordPatch(false, method, body), true
	default:
		return Event{}, false
	}
}

func translateRecordPatch(full bool, method string, rec *codec.Message) Event {
	patch := make(map[string]RecordField)
	sawDirtyKey := false
	if rec != nil {
		for _, entry := range rec.Messages(fieldRecordEntries) {
			key, ok := entry.String(fieldRecordKey)
			if !ok || key == "" {
				continue
			}
			dirty, hasDirty := entry.Varint(fieldRecordDirty)
			if hasDirty {
				sawDirtyKey = true
			}
			value, _ := entry.Message(fieldRecordValue)
			patch[key] = RecordField{Dirty: dirty != 0, Value: decodeRecordValue(key, value)}
		}
	}
	// A record with no dirty key on any entry is a full snapshot.
	return Event{Kind: EventRecordPatch, Method: method, RecordPatch: patch, Full: full || !sawDirtyKey}
}

func decodeRecordValue(key string, v *codec.Message) any {
	if v == nil {
		return nil
	}
	switch key {
	case "coin", "level", "refresh_price", "max_effect_volume", "change_tile_count", "total_change_tile_count":
		n, _ := v.Int64(fieldListEntry)
		return n
	case "next_operation":
		return v.Int64s(fieldListEntry)
	case "effect_list":
		return decodeAmuletList(v)
	case "candidate_effect_list":
		return decodeCandidateList(v)
	case "goods":
		return decodeGoodsList(v)
	case "targets":
		return decodeTargetList(v)
	default:
		return nil
	}
}

func decodeTileList(body *codec.Message) []TileFace {
	if body == nil {
		return nil
	}
	var out []TileFace
	for _, t := range body.Messages(fieldListEntry) {
		id, _ := t.Int64(fieldTileID)
		face, _ := t.String(fieldTileFace)
		out = append(out, TileFace{ID: id, Face: face})
	}
	return out
}

func decodeAmuletList(body *codec.Message) []Amulet {
	if body == nil {
		return nil
	}
	var out []Amulet
	for _, a := range body.Messages(fieldListEntry) {
		uid, _ := a.Int64(fieldAmuletUID)
		id, _ := a.Int64(fieldAmuletID)
		volume, _ := a.Int64(fieldAmuletVolume)
		am := Amulet{UID: uid, ID: id, Volume: volume, Store: a.Int64s(fieldAmuletStore)}
		if badge, ok := a.Int64(fieldAmuletBadge); ok {
			am.Badge = &badge
		}
		out = append(out, am)
	}
	return out
}

func decodeCandidateList(body *codec.Message) []PackCandidate {
	if body == nil {
		return nil
	}
	var out []PackCandidate
	for _, c := range body.Messages(fieldListEntry) {
		raw, _ := c.Int64(fieldCandRaw)
		reg, _ := c.Int64(fieldCandReg)
		plusV, _ := c.Varint(fieldCandPlus)
		rarity, _ := c.Int64(fieldCandRarity)
		cand := PackCandidate{Raw: raw, Reg: reg, Plus: plusV != 0, Rarity: rarity}
		if badge, ok := c.Int64(fieldCandBadge); ok {
			cand.Badge = &badge
		}
		out = append(out, cand)
	}
	return out
}

func decodeGoodsList(body *codec.Message) []ShopGood {
	if body == nil {
		return nil
	}
	var out []ShopGood
	for _, g := range body.Messages(fieldListEntry) {
		id, _ := g.Int64(fieldGoodID)
		goodsID, _ := g.Int64(fieldGoodGoodsID)
		price, _ := g.Int64(fieldGoodPrice)
		sold, _ := g.Varint(fieldGoodSold)
		out = append(out, ShopGood{ID: id, GoodsID: goodsID, Price: price, Sold: sold != 0})
	}
	return out
}

func decodeTargetList(body *codec.Message) []Target {
	if body == nil {
		return nil
	}
	var out []Target
	for _, t := range body.Messages(fieldListEntry) {
		kind, _ := t.String(fieldTargetKind)
		id, _ := t.Int64(fieldTargetID)
		value, _ := t.Int64(fieldTargetValue)
		tg := Target{Kind: kind, ID: id, Value: int(value)}
		if plusV, ok := t.Varint(fieldTargetPlus); ok {
			b := plusV != 0
			tg.Plus = &b
		}
		if badge, ok := t.Int64(fieldTargetBadge); ok {
			tg.Badge = &badge
		}
		out = append(out, tg)
	}
	return out
}
