package gamestate

// EventKind enumerates the server event subtypes the projector reducers
// dispatch on. Numeric values match the nested `event.type` values
// recovered from the amuletActivity* response family (see SPEC_FULL.md
// §3 supplement): 4, 6, 11, 13, 14, 16, 17, 18, 19, 20, 21, 22, 23, 48,
// 49, 100.
type EventKind int

const (
	EventFreeEffectOffer EventKind = 4
	EventDraw            EventKind = 6
	EventBuy             EventKind = 11
	EventSell            EventKind = 13
	EventRefreshShop     EventKind = 14
	EventSortEffect      EventKind = 16
	EventRewardPackOffer EventKind = 17
	EventShopEnd         EventKind = 18
	EventAnnouncement    EventKind = 19
	EventStageChange     EventKind = 20
	EventRecordPatch     EventKind = 21
	EventGameOver        EventKind = 22
	EventLevelUp         EventKind = 23
	EventPoolData        EventKind = 48
	EventGiveup          EventKind = 49
	EventEndShopping     EventKind = 100
)

// Event is the semantic, already-demultiplexed payload one reducer
// operates on. The Codec's generic Message decode (field-number based)
// is translated into one or more Events per inbound frame by the layer
// that owns the real RPC schema; gamestate itself is schema-agnostic and
// only needs the fields below populated for the EventKind in question.
type Event struct {
	Kind   EventKind
	Method string

	// EventPoolData
	Pool []TileFace

	// EventDraw
	DrawnTileID int64

	// EventRecordPatch: raw key -> {dirty, value} patch, or a full
	// snapshot replacement when Full is true.
	RecordPatch map[string]RecordField
	Full        bool

	// EventStageChange
	NewStage Stage

	// EventFreeEffectOffer / EventRewardPackOffer / shop refresh
	CandidateList []PackCandidate

	// EventBuy / EventSell / EventSortEffect: full replacement snapshot
	// of owned amulets after the operation.
	EffectList []Amulet

	// EventRefreshShop / EventEndShopping / generic shop state
	Goods        []ShopGood
	RefreshPrice int64
	Coin         int64
	Level        int64

	// Operations currently permitted (stage-scoped)
	NextOperation []int64

	ChangeTileCount  int64
	TotalChangeCount int64

	// EventGameOver
	Ended bool
}

// RecordField is one entry of a "patch" style record update: the server
// may send either a full value or a dirty-flagged delta.
type RecordField struct {
	Dirty bool
	Value any
}
