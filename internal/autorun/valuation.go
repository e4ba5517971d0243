package autorun

import "github.com/liqi-mitm/core/internal/gamestate"

// badgeStackWant is the badge id AutoRunner treats as a "guide" stack it
// wants up to needPioneerBadgeCount copies of even without an explicit
// target.
const badgeStackWant = 600070

// needPioneerBadgeCount is the ownership cap on badgeStackWant copies.
const needPioneerBadgeCount = 4

// badgeGuideSingle is a badge the runner values modestly on sight.
const badgeGuideSingle = 600110

// badgePioneerRarityBoost triples an amulet's rarity-derived base value
// when it carries this badge.
const badgePioneerRarityBoost = 600050

// pairSpaceBadge is the badge whose amulets need 2 effect-volume slots
// instead of the usual 1.
const pairSpaceBadge = 600160

// RegistryLookup looks up an amulet's base registry rarity. Without a bundled
// amulet registry (schema generation is out of scope), callers supply it
// via RegistryLookup.
type RegistryLookup func(reg int64) (rarity int64, ok bool)

func amuletSignature(a gamestate.Amulet) (reg int64, plus bool, badge *int64) {
	return a.Reg(), a.Plus(), a.Badge
}

// amuletMatchesTarget reports whether an owned amulet satisfies one
// automation goal.
func amuletMatchesTarget(a gamestate.Amulet, t gamestate.Target) bool {
	reg, plus, badge := amuletSignature(a)
	switch t.Kind {
	case "badge":
		return badge != nil && *badge == t.ID
	case "amulet":
		if reg != t.ID {
			return false
		}
		wantPlus := t.Plus != nil && *t.Plus
		if t.Badge == nil {
			return plus == wantPlus
		}
		if badge == nil || *badge != *t.Badge {
			return false
		}
		return plus == wantPlus
	default:
		return false
	}
}

// matchedTargets returns the indices of every target an owned amulet
// satisfies.
func matchedTargets(a gamestate.Amulet, targets []gamestate.Target) []int {
	var hits []int
	for i, t := range targets {
		if amuletMatchesTarget(a, t) {
			hits = append(hits, i)
		}
	}
	return hits
}

// countAchieved value-weights each satisfied target by its Value (default
// 1 when unset) and sums them, deduplicating so one amulet can't double
// count the same target twice.
func countAchieved(effectList []gamestate.Amulet, targets []gamestate.Target) int {
	hit := make(map[int]struct{})
	for _, a := range effectList {
		for _, idx := range matchedTargets(a, targets) {
			hit[idx] = struct{}{}
		}
	}
	total := 0
	for idx := range hit {
		v := targets[idx].Value
		if v <= 0 {
			v = 1
		}
		total += v
	}
	return total
}

// candidateValue scores a pack candidate purely on rarity (amplified for
// the pioneer badge); used only once no explicit target or guide badge
// matched.
func candidateValue(reg int64, badge *int64, lookup RegistryLookup) int {
	base := 0
	if lookup != nil {
		if rarity, ok := lookup(reg); ok {
			base = int(rarity) * 3
		}
	}
	if badge != nil && *badge == badgePioneerRarityBoost {
		base *= 3
	}
	return base
}

// selectionValue labels how important the runner judges a picked
// candidate: 99 = explicit target, 2 = guide-stack badge while under the
// cap, 1 = guide-single badge, 0 = ordinary rarity pick.
const (
	valueTarget       = 99
	valueGuideStack   = 2
	valueGuideSingle  = 1
	valueOrdinary     = 0
)

// selectAmuletFromCandidates implements the candidate-pick policy: first
// any candidate whose reg id is an amulet target's id or whose badge is a
// badge target's id, then up to needPioneerBadgeCount copies of the
// guide-stack badge, then one guide-single badge, then the highest-rarity
// candidate. The target match ignores an amulet target's Plus and Badge
// fields, and no sell suggestion is produced. Returns (rawID, badge,
// value); rawID is 0 if the candidate list is empty or no candidate has a
// positive raw id.
func selectAmuletFromCandidates(
	candidates []gamestate.PackCandidate,
	owned []gamestate.Amulet,
	targets []gamestate.Target,
	lookup RegistryLookup,
) (raw int64, badge *int64, value int) {
	if len(candidates) == 0 {
		return 0, nil, 0
	}

	wantBadges := make(map[int64]struct{})
	wantRegs := make(map[int64]struct{})
	for _, t := range targets {
		switch t.Kind {
		case "badge":
			wantBadges[t.ID] = struct{}{}
		case "amulet":
			wantRegs[t.ID] = struct{}{}
		}
	}

	for _, c := range candidates {
		if c.Raw <= 0 {
			continue
		}
		_, inBadge := wantBadges[derefBadge(c.Badge, -1)]
		_, inReg := wantRegs[c.Reg]
		if inReg || (c.Badge != nil && inBadge) {
			return c.Raw, c.Badge, valueTarget
		}
	}

	if ownedCountWithBadge(owned, badgeStackWant) < needPioneerBadgeCount {
		for _, c := range candidates {
			if c.Badge != nil && *c.Badge == badgeStackWant {
				return c.Raw, c.Badge, valueGuideStack
			}
		}
	}

	for _, c := range candidates {
		if c.Badge != nil && *c.Badge == badgeGuideSingle {
			return c.Raw, c.Badge, valueGuideSingle
		}
	}

	var bestRaw int64
	var bestBadge *int64
	bestVal := -(1 << 30)
	found := false
	for _, c := range candidates {
		if c.Raw <= 0 {
			continue
		}
		val := candidateValue(c.Reg, c.Badge, lookup)
		if val > bestVal {
			bestVal = val
			bestRaw = c.Raw
			bestBadge = c.Badge
			found = true
		}
	}
	if !found {
		return 0, nil, 0
	}
	return bestRaw, bestBadge, valueOrdinary
}

func derefBadge(b *int64, def int64) int64 {
	if b == nil {
		return def
	}
	return *b
}

func ownedCountWithBadge(owned []gamestate.Amulet, want int64) int {
	n := 0
	for _, a := range owned {
		if a.Badge != nil && *a.Badge == want {
			n++
		}
	}
	return n
}

// totalVolume sums the declared effect-volume cost of every owned amulet.
func totalVolume(owned []gamestate.Amulet) int64 {
	var s int64
	for _, a := range owned {
		if a.Volume > 0 {
			s += a.Volume
		}
	}
	return s
}

// neededSpaceFor reports how many effect-volume slots a freshly picked
// candidate needs, accounting for the double-slot badge.
func neededSpaceFor(badge *int64) int64 {
	if badge != nil && *badge == pairSpaceBadge {
		return 2
	}
	return 1
}

// findUIDForRawOrPlus locates the owned amulet whose id is raw itself or
// the plus form (reg*10+1) of raw's registry id, used right after a pick to find
// what to sell if it turned out to be worthless.
func findUIDForRawOrPlus(owned []gamestate.Amulet, raw int64) (int64, bool) {
	if raw <= 0 {
		return 0, false
	}
	reg := raw / 10
	for _, a := range owned {
		if a.ID == raw || a.ID == reg*10+1 {
			return a.UID, true
		}
	}
	return 0, false
}

// isNeededForAnyTarget reports whether an owned amulet matches any
// declared target (by reg id or badge), used to protect it from the
// sell-priority list.
func isNeededForAnyTarget(a gamestate.Amulet, targets []gamestate.Target) bool {
	reg, _, badge := amuletSignature(a)
	for _, t := range targets {
		switch t.Kind {
		case "badge":
			if badge != nil && *badge == t.ID {
				return true
			}
		case "amulet":
			if reg == t.ID {
				return true
			}
		}
	}
	return false
}

// sortSellPriority orders owned amulets by how safe they are to sell:
// anything a target needs is dropped from consideration entirely; up to
// needPioneerBadgeCount copies of the guide-stack badge are demoted to the
// very end (sold only as a last resort); everything else keeps natural
// order.
func sortSellPriority(owned []gamestate.Amulet, targets []gamestate.Target) []gamestate.Amulet {
	if len(owned) == 0 {
		return nil
	}
	var normal, demoted []gamestate.Amulet
	demotedTaken := 0
	for _, a := range owned {
		if isNeededForAnyTarget(a, targets) {
			continue
		}
		if a.Badge != nil && *a.Badge == badgeStackWant && demotedTaken < needPioneerBadgeCount {
			demoted = append(demoted, a)
			demotedTaken++
			continue
		}
		normal = append(normal, a)
	}
	return append(normal, demoted...)
}

// kaviReg is the base registry id of the "kavi" amulet.
const kaviReg = 230

// theftLikeReg is the base registry id of the direct "theft-like" amulet;
// 228 and 232 are also theft-like when their first store entry is this reg.
const theftLikeReg = 229

// bossDebuffReg is the owned-effect registry id signaling the active boss
// debuff that caps tile-change replacements.
const bossDebuffReg = 901

func isKavi(a gamestate.Amulet) bool {
	return a.Reg() == kaviReg
}

func isTheftLike(a gamestate.Amulet) bool {
	switch a.Reg() {
	case theftLikeReg:
		return true
	case 228, 232:
		return len(a.Store) > 0 && a.Store[0] == theftLikeReg
	default:
		return false
	}
}

// hasBossDebuff reports whether effectList carries the boss debuff that
// caps the Change-stage replacement count.
func hasBossDebuff(effectList []gamestate.Amulet) bool {
	for _, a := range effectList {
		if a.Reg() == bossDebuffReg {
			return true
		}
	}
	return false
}

// EffectOrderPolicy selects which ordering rule sortEffectOrder applies.
type EffectOrderPolicy int

const (
	PreStartOrder EffectOrderPolicy = iota
	PreWinOrder
)

// sortEffectOrder returns the uid order effectList should be resorted to
// under policy — kavi and theft-like amulets moved to the front, in the
// order the policy names, everything else left in place behind them — or
// nil if the proposed order is identical to the current one, in which case
// sort_effect must not be called.
func sortEffectOrder(effectList []gamestate.Amulet, policy EffectOrderPolicy) []int64 {
	if len(effectList) == 0 {
		return nil
	}

	var kavi, theft, others []int64
	current := make([]int64, len(effectList))
	for i, a := range effectList {
		current[i] = a.UID
		switch {
		case isKavi(a):
			kavi = append(kavi, a.UID)
		case isTheftLike(a):
			theft = append(theft, a.UID)
		default:
			others = append(others, a.UID)
		}
	}

	order := make([]int64, 0, len(effectList))
	if policy == PreWinOrder {
		order = append(order, theft...)
		order = append(order, kavi...)
	} else {
		order = append(order, kavi...)
		order = append(order, theft...)
	}
	order = append(order, others...)

	if int64SliceEqual(order, current) {
		return nil
	}
	return order
}

func int64SliceEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// selectItemsToSellForPurchase greedily sells from candidates (already in
// sell-priority order) until freeSpace+freed covers needSpace, reporting
// whether the target was reachable at all from this candidate list.
func selectItemsToSellForPurchase(freeSpace, needSpace int64, candidates []gamestate.Amulet) (chosen []gamestate.Amulet, freed int64, enough bool) {
	if needSpace <= freeSpace {
		return nil, 0, true
	}
	gap := needSpace - freeSpace
	for _, a := range candidates {
		if a.Volume <= 0 {
			continue
		}
		chosen = append(chosen, a)
		freed += a.Volume
		if freed >= gap {
			return chosen, freed, true
		}
	}
	return chosen, freed, false
}
