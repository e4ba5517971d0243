package gamestate

// applyPool implements pool ingestion: given the dealt (tile_id, face)
// sequence and the already-known hand, partition the ids not already in
// hand into dora (first 10), wall (next 36), replacement (rest), then
// remove any locked ids from the wall. This fixes the deterministic draw
// order the AutoRunner's planners rely on.
func (s *State) applyPool(ev Event) {
	for _, tf := range ev.Pool {
		s.Deck.Put(tf.ID, tf.Face)
	}

	inHand := make(map[int64]struct{}, len(s.HandTiles))
	for _, id := range s.HandTiles {
		inHand[id] = struct{}{}
	}

	var remaining []int64
	for _, tf := range ev.Pool {
		if _, ok := inHand[tf.ID]; ok {
			continue
		}
		remaining = append(remaining, tf.ID)
	}

	dora := remaining
	if len(dora) > 10 {
		dora = dora[:10]
	}
	var rest []int64
	if len(remaining) > 10 {
		rest = remaining[10:]
	}
	wall := rest
	if len(wall) > 36 {
		wall = wall[:36]
	}
	var replacement []int64
	if len(rest) > 36 {
		replacement = rest[36:]
	}

	wall = removeLocked(wall, s.LockedTiles)

	s.DoraTiles = dora
	s.WallTiles = wall
	s.ReplacementTiles = replacement
}

func removeLocked(ids []int64, locked map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := locked[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// applyDraw removes the drawn id from the head of the wall and appends it
// to the hand.
func (s *State) applyDraw(ev Event) {
	if len(s.WallTiles) > 0 && s.WallTiles[0] == ev.DrawnTileID {
		s.WallTiles = s.WallTiles[1:]
	} else {
		// Drawn id wasn't at the head (e.g. replacement draw); remove it
		// wherever it is rather than desynchronizing the wall.
		for i, id := range s.WallTiles {
			if id == ev.DrawnTileID {
				s.WallTiles = append(s.WallTiles[:i], s.WallTiles[i+1:]...)
				break
			}
		}
	}
	s.HandTiles = append(s.HandTiles, ev.DrawnTileID)
}

// applyRecordPatch merges a "patch" style record update: a full snapshot
// applies every key it carries; a set of dirty-flagged fields overlays
// only those fields. Detection is by the caller (ev.Full): Translate marks
// fetchAmuletActivityData records, and any record with no dirty key on
// any entry, as full.
func (s *State) applyRecordPatch(ev Event) {
	for k, f := range ev.RecordPatch {
		if ev.Full || f.Dirty {
			applyRecordKey(s, k, f.Value)
		}
	}
}

func applyRecordKey(s *State, key string, value any) {
	switch key {
	case "coin":
		if v, ok := value.(int64); ok {
			s.Coin = v
		}
	case "level":
		if v, ok := value.(int64); ok {
			s.Level = v
		}
	case "refresh_price":
		if v, ok := value.(int64); ok {
			s.RefreshPrice = v
		}
	case "max_effect_volume":
		if v, ok := value.(int64); ok {
			s.MaxEffectVolume = v
		}
	case "change_tile_count":
		if v, ok := value.(int64); ok {
			s.ChangeTileCount = v
		}
	case "total_change_tile_count":
		if v, ok := value.(int64); ok {
			s.TotalChangeCount = v
		}
	case "next_operation":
		if v, ok := value.([]int64); ok {
			s.NextOperation = v
		}
	case "effect_list":
		if v, ok := value.([]Amulet); ok {
			s.EffectList = v
		}
	case "candidate_effect_list":
		if v, ok := value.([]PackCandidate); ok {
			s.CandidateEffectList = v
		}
	case "goods":
		if v, ok := value.([]ShopGood); ok {
			s.Goods = v
		}
	case "targets":
		if v, ok := value.([]Target); ok {
			s.Targets = v
		}
	}
}

// applyStageChange records a stage transition verbatim; the projector
// never infers a missing transition.
func (s *State) applyStageChange(ev Event) {
	s.Stage = ev.NewStage
}

// applyCandidateOffer replaces the candidate pack list, used by both
// free-effect and reward-pack/shop-refresh offers.
func (s *State) applyCandidateOffer(ev Event) {
	s.CandidateEffectList = ev.CandidateList
}

// applyEffectListReplace replaces the owned amulet list, used after buy,
// sell, and sort-effect operations.
func (s *State) applyEffectListReplace(ev Event) {
	s.EffectList = ev.EffectList
}

// applyShopRefresh updates shop goods and price after a refresh.
func (s *State) applyShopRefresh(ev Event) {
	s.Goods = ev.Goods
	s.RefreshPrice = ev.RefreshPrice
	s.Coin = ev.Coin
}

// applyShopEnd clears the shop goods listing.
func (s *State) applyShopEnd(ev Event) {
	s.Goods = nil
}

// applyGameOver marks the run ended.
func (s *State) applyGameOver(ev Event) {
	s.Ended = true
}

// apply dispatches ev to the reducer for its Kind. It reports whether any
// field actually changed shape (used by the projector's dedup-within-event
// broadcast rule) — conservatively true for anything but an empty/unknown
// event.
func (s *State) apply(ev Event) bool {
	switch ev.Kind {
	case EventPoolData:
		s.applyPool(ev)
	case EventDraw:
		s.applyDraw(ev)
	case EventRecordPatch:
		s.applyRecordPatch(ev)
	case EventStageChange:
		s.applyStageChange(ev)
	case EventFreeEffectOffer, EventRewardPackOffer:
		s.applyCandidateOffer(ev)
	case EventBuy, EventSell, EventSortEffect:
		s.applyEffectListReplace(ev)
	case EventRefreshShop:
		s.applyShopRefresh(ev)
	case EventShopEnd, EventEndShopping:
		s.applyShopEnd(ev)
	case EventGameOver, EventGiveup:
		s.applyGameOver(ev)
	case EventLevelUp:
		s.Level++
	case EventAnnouncement:
		// no state field corresponds to announcements; reserved for a
		// future UI-facing channel.
	default:
		return false
	}
	return true
}
