// Package gamestate implements the incremental reducer (C5) that turns
// parsed inbound Liqi events into the in-memory game state the automation
// state machine (C7) consumes.
package gamestate

import "sync"

// Stage is the game's top-level phase, carried verbatim from server
// events — the projector never infers a missing transition.
type Stage int

const (
	StageFreeEffect   Stage = 1
	StageChange       Stage = 2
	StagePlay         Stage = 3
	StageShop         Stage = 4
	StageSelectPack   Stage = 5
	StageLevelConfirm Stage = 6
	StageRewardPack   Stage = 7
	StageEnd          Stage = 100
)

// Amulet is one owned or candidate amulet. ID is reg*10 + (1 if plus else
// 0); Badge is nil when the amulet carries no badge decoration. Store
// holds the amulet's declared "store" reg-id chain, used by the
// theft-like/kavi effect-ordering policies in AutoRunner.
type Amulet struct {
	UID    int64
	ID     int64
	Badge  *int64
	Volume int64
	Store  []int64
}

// Reg returns the amulet's base registry id (ID without the plus digit).
func (a Amulet) Reg() int64 { return a.ID / 10 }

// Plus reports whether the amulet is the "plus" variant of its reg.
func (a Amulet) Plus() bool { return a.ID%10 == 1 }

// PackCandidate is one offer in a shop/reward pack selection.
type PackCandidate struct {
	Raw    int64 // the raw id used to select this candidate (0 = skip)
	Reg    int64
	Plus   bool
	Badge  *int64
	Rarity int64
}

// ShopGood is one entry in the current shop listing.
type ShopGood struct {
	ID      int64
	GoodsID int64
	Price   int64
	Sold    bool
}

// Target is a user-declared automation goal.
type Target struct {
	Kind  string // "badge" or "amulet"
	ID    int64  // reg id when Kind == "amulet"; badge id when Kind == "badge"
	Plus  *bool
	Badge *int64
	Value int
}

// TileFace names a tile id's face, e.g. "1p", "0p", "bd".
type TileFace struct {
	ID   int64
	Face string
}

// DeckMap is an insertion-ordered tile_id -> face mapping — order is the
// dealt deck order and is load-bearing for planning.
type DeckMap struct {
	order []int64
	faces map[int64]string
}

// NewDeckMap returns an empty deck map.
func NewDeckMap() *DeckMap {
	return &DeckMap{faces: make(map[int64]string)}
}

// Put records id's face, preserving first-seen insertion order.
func (d *DeckMap) Put(id int64, face string) {
	if _, exists := d.faces[id]; !exists {
		d.order = append(d.order, id)
	}
	d.faces[id] = face
}

// Face returns id's face and whether it is known.
func (d *DeckMap) Face(id int64) (string, bool) {
	f, ok := d.faces[id]
	return f, ok
}

// Len reports how many tile ids are known.
func (d *DeckMap) Len() int { return len(d.order) }

// Keys returns a copy of the insertion-ordered tile ids.
func (d *DeckMap) Keys() []int64 {
	out := make([]int64, len(d.order))
	copy(out, d.order)
	return out
}

// snapshotFaces returns a defensive copy of the id -> face mapping.
func (d *DeckMap) snapshotFaces() map[int64]string {
	out := make(map[int64]string, len(d.faces))
	for k, v := range d.faces {
		out[k] = v
	}
	return out
}

// State is the full mutable game state a single projector owns. All
// access outside the owning projector goroutine must go through Snapshot.
type State struct {
	mu sync.RWMutex

	Stage Stage
	Deck  *DeckMap

	HandTiles        []int64
	WallTiles        []int64
	DoraTiles        []int64
	ReplacementTiles []int64
	LockedTiles      map[int64]struct{}

	EffectList          []Amulet
	CandidateEffectList []PackCandidate

	Coin             int64
	Level            int64
	RefreshPrice     int64
	MaxEffectVolume  int64
	ChangeTileCount  int64
	TotalChangeCount int64

	NextOperation []int64
	Goods         []ShopGood
	Targets       []Target
	Ended         bool
}

// New returns a zeroed State with an empty deck map.
func New() *State {
	return &State{
		Deck:        NewDeckMap(),
		LockedTiles: make(map[int64]struct{}),
	}
}

// Snapshot is an immutable, independently-readable copy of State, safe to
// hand to the UI loop or AutoRunner without holding the projector's lock.
type Snapshot struct {
	Stage               Stage
	HandTiles           []int64
	WallTiles           []int64
	DoraTiles           []int64
	ReplacementTiles    []int64
	LockedTiles         []int64
	EffectList          []Amulet
	CandidateEffectList []PackCandidate
	Coin                int64
	Level               int64
	RefreshPrice        int64
	MaxEffectVolume     int64
	ChangeTileCount     int64
	TotalChangeCount    int64
	NextOperation       []int64
	Goods               []ShopGood
	Targets             []Target
	Ended               bool
	DeckFaces           map[int64]string
}

// Face returns tile id's known face, if any.
func (s Snapshot) Face(id int64) (string, bool) {
	f, ok := s.DeckFaces[id]
	return f, ok
}

// Snapshot returns a defensive copy of the current state, matching the
// teacher's RLock-then-copy-out idiom.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locked := make([]int64, 0, len(s.LockedTiles))
	for id := range s.LockedTiles {
		locked = append(locked, id)
	}

	return Snapshot{
		Stage:               s.Stage,
		HandTiles:           append([]int64(nil), s.HandTiles...),
		WallTiles:           append([]int64(nil), s.WallTiles...),
		DoraTiles:           append([]int64(nil), s.DoraTiles...),
		ReplacementTiles:    append([]int64(nil), s.ReplacementTiles...),
		LockedTiles:         locked,
		EffectList:          append([]Amulet(nil), s.EffectList...),
		CandidateEffectList: append([]PackCandidate(nil), s.CandidateEffectList...),
		Coin:                s.Coin,
		Level:               s.Level,
		RefreshPrice:        s.RefreshPrice,
		MaxEffectVolume:     s.MaxEffectVolume,
		ChangeTileCount:     s.ChangeTileCount,
		TotalChangeCount:    s.TotalChangeCount,
		NextOperation:       append([]int64(nil), s.NextOperation...),
		Goods:               append([]ShopGood(nil), s.Goods...),
		Targets:             append([]Target(nil), s.Targets...),
		Ended:               s.Ended,
		DeckFaces:           s.Deck.snapshotFaces(),
	}
}
