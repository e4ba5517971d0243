package gamestate

import "testing"

func TestPoolIngestionPartition(t *testing.T) {
	const deckSize = 60
	pool := make([]TileFace, 0, deckSize)
	for i := int64(0); i < deckSize; i++ {
		pool = append(pool, TileFace{ID: i, Face: "1p"})
	}

	hand := []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12} // 13 tiles
	locked := map[int64]struct{}{23: {}, 24: {}}               // 2 ids inside the next-36 window

	p := NewProjector(nil)
	p.state.HandTiles = hand
	p.state.LockedTiles = locked

	p.Apply(Event{Kind: EventPoolData, Pool: pool})

	snap := p.State().Snapshot()
	if len(snap.DoraTiles) != 10 {
		t.Fatalf("expected 10 dora tiles, got %d", len(snap.DoraTiles))
	}
	if len(snap.WallTiles) != 34 {
		t.Fatalf("expected 34 wall tiles (36 - 2 locked), got %d", len(snap.WallTiles))
	}
	wantReplacement := deckSize - len(hand) - 10 - 34 - len(locked)
	if len(snap.ReplacementTiles) != wantReplacement {
		t.Fatalf("expected %d replacement tiles, got %d", wantReplacement, len(snap.ReplacementTiles))
	}

	seen := make(map[int64]int)
	for _, id := range hand {
		seen[id]++
	}
	for _, id := range snap.DoraTiles {
		seen[id]++
	}
	for _, id := range snap.WallTiles {
		seen[id]++
	}
	for _, id := range snap.ReplacementTiles {
		seen[id]++
	}
	for id := range locked {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("tile %d appears %d times across partition (want exactly 1)", id, n)
		}
	}
}

func TestDrawRemovesHeadOfWallAndAppendsToHand(t *testing.T) {
	p := NewProjector(nil)
	p.state.WallTiles = []int64{100, 101, 102}
	p.state.HandTiles = []int64{1, 2, 3}

	p.Apply(Event{Kind: EventDraw, DrawnTileID: 100})

	snap := p.State().Snapshot()
	if len(snap.WallTiles) != 2 || snap.WallTiles[0] != 101 {
		t.Fatalf("unexpected wall after draw: %v", snap.WallTiles)
	}
	if snap.HandTiles[len(snap.HandTiles)-1] != 100 {
		t.Fatalf("expected drawn tile appended to hand, got %v", snap.HandTiles)
	}
}

func TestRecordPatchMergeOnlyAppliesDirtyFields(t *testing.T) {
	p := NewProjector(nil)
	p.state.Coin = 10
	p.state.Level = 1

	p.Apply(Event{
		Kind: EventRecordPatch,
		RecordPatch: map[string]RecordField{
			"coin":  {Dirty: true, Value: int64(99)},
			"level": {Dirty: false, Value: int64(5)},
		},
	})

	snap := p.State().Snapshot()
	if snap.Coin != 99 {
		t.Fatalf("expected dirty field coin to apply, got %d", snap.Coin)
	}
	if snap.Level != 1 {
		t.Fatalf("expected non-dirty field level to be left alone, got %d", snap.Level)
	}
}

func TestStageTransitionRecordedVerbatim(t *testing.T) {
	p := NewProjector(nil)
	p.Apply(Event{Kind: EventStageChange, NewStage: StageShop})
	if p.State().Snapshot().Stage != StageShop {
		t.Fatalf("expected stage to be recorded verbatim")
	}
}

func TestBroadcastDedupedWithinOneFrame(t *testing.T) {
	calls := 0
	p := NewProjector(func(Snapshot) { calls++ })

	p.Apply(
		Event{Kind: EventStageChange, NewStage: StagePlay},
		Event{Kind: EventDraw, DrawnTileID: 5},
	)

	if calls != 1 {
		t.Fatalf("expected exactly 1 broadcast for 2 reducers firing on one frame, got %d", calls)
	}
}
