package packetbot

import (
	"context"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/liqi-mitm/core/internal/codec"
	"github.com/liqi-mitm/core/internal/gamestate"
)

// Method names for the RPC operation catalogue named in SPEC_FULL.md
// §4.6. All "operate" style calls (discard/tsumo/change/skip-change)
// share one method, carrying their op_type in field opTypeField and a
// repeated tile-id field — the same "one method, many op codes" design
// the operation catalogue's op_code map implies.
const (
	methodStartGame         = ".lq.Lobby.amuletActivityStartGame"
	methodGiveup             = ".lq.Lobby.amuletActivityGiveup"
	methodNextLevel          = ".lq.Lobby.amuletActivityUpgrade"
	methodEndShopping        = ".lq.Lobby.amuletActivityEndShopping"
	methodRefreshShop        = ".lq.Lobby.amuletActivityRefreshShop"
	methodBuyPack            = ".lq.Lobby.amuletActivityBuy"
	methodSelectFreeEffect   = ".lq.Lobby.amuletActivitySelectFreeEffect"
	methodSelectEffect       = ".lq.Lobby.amuletActivitySelectPack"
	methodSelectRewardEffect = ".lq.Lobby.amuletActivitySelectRewardPack"
	methodSellEffect         = ".lq.Lobby.amuletActivitySellEffect"
	methodSortEffect         = ".lq.Lobby.amuletActivityEffectSort"
	methodOperate            = ".lq.Lobby.amuletActivityOperate"
	methodFetchGameData      = ".lq.Lobby.fetchAmuletActivityData"
	methodHeartbeat          = ".lq.Lobby.amuletActivityHeartbeat"
)

// Operation codes for methodOperate, matching the op_code map recovered
// from the original packet driver.
const (
	opDiscard     int64 = 1
	opKan         int64 = 4
	opTsumo       int64 = 8
	opSkipReplace int64 = 100
	opReplace     int64 = 101
)

const (
	opTypeField protowire.Number = 1
	tileIDField protowire.Number = 2
)

func tileListBody(opType int64, tileIDs ...int64) *codec.Message {
	fields := []codec.Field{{Number: opTypeField, Type: protowire.VarintType, Varint: uint64(opType)}}
	for _, id := range tileIDs {
		fields = append(fields, codec.Field{Number: tileIDField, Type: protowire.VarintType, Varint: uint64(id)})
	}
	return &codec.Message{Fields: fields}
}

func rawIDBody(raw int64) *codec.Message {
	return &codec.Message{Fields: []codec.Field{{Number: 1, Type: protowire.VarintType, Varint: uint64(raw)}}}
}

func uidBody(uid int64) *codec.Message {
	return &codec.Message{Fields: []codec.Field{{Number: 1, Type: protowire.VarintType, Varint: uint64(uid)}}}
}

func orderBody(uids []int64) *codec.Message {
	fields := make([]codec.Field, 0, len(uids))
	for _, u := range uids {
		fields = append(fields, codec.Field{Number: 1, Type: protowire.VarintType, Varint: uint64(u)})
	}
	return &codec.Message{Fields: fields}
}

// StartGame issues the start-game RPC. No stage precondition: the run may
// start from whatever idle state precedes FreeEffect.
func (b *Bot) StartGame(ctx context.Context) Result {
	return b.call(ctx, methodStartGame, &codec.Message{}, nil)
}

// Giveup abandons the current run.
func (b *Bot) Giveup(ctx context.Context) Result {
	return b.call(ctx, methodGiveup, &codec.Message{}, nil)
}

// NextLevel confirms the current level and advances. Requires stage ==
// LevelConfirm.
func (b *Bot) NextLevel(ctx context.Context) Result {
	return b.call(ctx, methodNextLevel, &codec.Message{}, stageIs(gamestate.StageLevelConfirm))
}

// EndShopping closes the shop. Requires stage == Shop.
func (b *Bot) EndShopping(ctx context.Context) Result {
	return b.call(ctx, methodEndShopping, &codec.Message{}, stageIs(gamestate.StageShop))
}

// RefreshShop pays to reroll the shop listing. Requires stage == Shop and
// affordability (coin >= refresh price).
func (b *Bot) RefreshShop(ctx context.Context) Result {
	pre := allOf(stageIs(gamestate.StageShop), func(s gamestate.Snapshot) (bool, string) {
		if s.Coin < s.RefreshPrice {
			return false, "precondition: cannot afford shop refresh"
		}
		return true, ""
	})
	return b.call(ctx, methodRefreshShop, &codec.Message{}, pre)
}

// BuyPack buys one shop good by id. Requires stage == Shop, the good
// exists, is unsold, and is affordable.
func (b *Bot) BuyPack(ctx context.Context, goodsID int64) Result {
	pre := allOf(stageIs(gamestate.StageShop), func(s gamestate.Snapshot) (bool, string) {
		for _, g := range s.Goods {
			if g.GoodsID == goodsID {
				if g.Sold {
					return false, "precondition: good already sold"
				}
				if s.Coin < g.Price {
					return false, "precondition: cannot afford good"
				}
				return true, ""
			}
		}
		return false, "precondition: no such good"
	})
	return b.call(ctx, methodBuyPack, rawIDBody(goodsID), pre)
}

// SelectFreeEffect picks a candidate from the free-effect offer (raw == 0
// means skip). Requires stage == FreeEffect.
func (b *Bot) SelectFreeEffect(ctx context.Context, raw int64) Result {
	return b.call(ctx, methodSelectFreeEffect, rawIDBody(raw), stageIs(gamestate.StageFreeEffect))
}

// SelectEffect picks (or skips, raw==0) a candidate from a shop pack
// selection. Requires stage == SelectPack.
func (b *Bot) SelectEffect(ctx context.Context, raw int64) Result {
	return b.call(ctx, methodSelectEffect, rawIDBody(raw), stageIs(gamestate.StageSelectPack))
}

// SelectRewardEffect picks (or skips) a candidate from a reward pack.
// Requires stage == RewardPack.
func (b *Bot) SelectRewardEffect(ctx context.Context, raw int64) Result {
	return b.call(ctx, methodSelectRewardEffect, rawIDBody(raw), stageIs(gamestate.StageRewardPack))
}

// SellEffect sells one owned amulet by uid. Requires the uid to exist in
// the current effect list.
func (b *Bot) SellEffect(ctx context.Context, uid int64) Result {
	pre := func(s gamestate.Snapshot) (bool, string) {
		for _, a := range s.EffectList {
			if a.UID == uid {
				return true, ""
			}
		}
		return false, "precondition: no such owned amulet"
	}
	return b.call(ctx, methodSellEffect, uidBody(uid), pre)
}

// SortEffect reorders owned amulets. Requires the proposed order to be a
// permutation of the currently owned uids (same multiset, different
// order) — callers (AutoRunner) are expected to have already checked that
// the order actually changed before calling this.
func (b *Bot) SortEffect(ctx context.Context, newUIDOrder []int64) Result {
	pre := func(s gamestate.Snapshot) (bool, string) {
		if len(newUIDOrder) != len(s.EffectList) {
			return false, "precondition: sort order size mismatch"
		}
		have := make(map[int64]int, len(s.EffectList))
		for _, a := range s.EffectList {
			have[a.UID]++
		}
		for _, u := range newUIDOrder {
			have[u]--
		}
		for _, n := range have {
			if n != 0 {
				return false, "precondition: sort order is not a permutation of owned amulets"
			}
		}
		return true, ""
	}
	return b.call(ctx, methodSortEffect, orderBody(newUIDOrder), pre)
}

// OpChange submits the tile-swap selection for the Change stage. Requires
// stage == Change and the "replace" operation to be currently permitted.
func (b *Bot) OpChange(ctx context.Context, tileIDs []int64) Result {
	pre := allOf(stageIs(gamestate.StageChange), requireOp(opReplace))
	return b.call(ctx, methodOperate, tileListBody(opReplace, tileIDs...), pre)
}

// OpSkipChange declines the Change-stage swap. Requires stage == Change
// and "skip_replace" to be permitted.
func (b *Bot) OpSkipChange(ctx context.Context) Result {
	pre := allOf(stageIs(gamestate.StageChange), requireOp(opSkipReplace))
	return b.call(ctx, methodOperate, tileListBody(opSkipReplace), pre)
}

// OpTsumo declares a self-draw win. Requires stage == Play and "tsumo" to
// be permitted.
func (b *Bot) OpTsumo(ctx context.Context) Result {
	pre := allOf(stageIs(gamestate.StagePlay), requireOp(opTsumo))
	return b.call(ctx, methodOperate, tileListBody(opTsumo), pre)
}

// OpKan declares a concealed/added kan using the given tiles. Requires
// stage == Play and "kan" to be permitted.
func (b *Bot) OpKan(ctx context.Context, tileIDs ...int64) Result {
	pre := allOf(stageIs(gamestate.StagePlay), requireOp(opKan))
	return b.call(ctx, methodOperate, tileListBody(opKan, tileIDs...), pre)
}

// DiscardByTileID discards one tile from the hand. Requires stage == Play,
// "discard" permitted, and the tile to actually be in hand.
func (b *Bot) DiscardByTileID(ctx context.Context, tileID int64) Result {
	pre := allOf(stageIs(gamestate.StagePlay), requireOp(opDiscard), func(s gamestate.Snapshot) (bool, string) {
		for _, id := range s.HandTiles {
			if id == tileID {
				return true, ""
			}
		}
		return false, "precondition: tile not in hand"
	})
	return b.call(ctx, methodOperate, tileListBody(opDiscard, tileID), pre)
}

// FetchGameData requests a fresh full snapshot from the server.
func (b *Bot) FetchGameData(ctx context.Context) Result {
	return b.call(ctx, methodFetchGameData, &codec.Message{}, nil)
}

// Heartbeat keeps the session alive.
func (b *Bot) Heartbeat(ctx context.Context) Result {
	return b.call(ctx, methodHeartbeat, &codec.Message{}, nil)
}
