package autorun

import (
	"sort"
)

// PlanStatus is the three-state contract the pinzu-ankou planner returns:
// the run either cannot reach a pure-pinzu four-concealed-triplets hand no
// matter what gets drawn, can win immediately, or has a concrete plan that
// needs more draws first.
type PlanStatus int

const (
	PlanImpossible PlanStatus = iota
	PlanWinNow
	PlanInProgress
)

// Plan is the pinzu-ankou planner's result. Discards is only meaningful
// when Status == PlanInProgress: Discards[0] is the tile to discard right
// now and each later entry is the planned discard after the next future
// draw, DrawsNeeded entries in all.
type Plan struct {
	Status      PlanStatus
	DrawsNeeded int
	Discards    []int64
	TargetFace  []string
}

const pinSuitSize = 9

func pinRank(face string) (int, bool) {
	if face == "0p" {
		return 5, true
	}
	if len(face) == 2 && face[1] == 'p' && face[0] >= '1' && face[0] <= '9' {
		return int(face[0] - '0'), true
	}
	return 0, false
}

func isPinzuOrRedFive(face string) bool {
	_, ok := pinRank(face)
	return ok
}

// countPinAndBd tallies natural pinzu-rank counts (red fives folded into
// rank 5) and standalone "bd" wildcards across ids, using face for lookup.
func countPinAndBd(ids []int64, face func(int64) (string, bool)) (counts [pinSuitSize + 1]int, bdCount int) {
	for _, id := range ids {
		f, ok := face(id)
		if !ok {
			continue
		}
		if f == "bd" {
			bdCount++
			continue
		}
		if r, ok := pinRank(f); ok {
			counts[r]++
		}
	}
	return counts, bdCount
}

// suuankouTarget names the 4 triplet ranks plus 1 pair rank a candidate
// pure-pinzu four-concealed-triplets hand is built from.
type suuankouTarget struct {
	need   [pinSuitSize + 1]int // rank -> tiles required (3 for triplet ranks, 2 for the pair rank)
	bdUsed int
}

func combinations4(ranks []int) [][4]int {
	var out [][4]int
	n := len(ranks)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			for c := b + 1; c < n; c++ {
				for d := c + 1; d < n; d++ {
					out = append(out, [4]int{ranks[a], ranks[b], ranks[c], ranks[d]})
				}
			}
		}
	}
	return out
}

func existsPureSuuankou(counts [pinSuitSize + 1]int, bdCount int) (*suuankouTarget, bool) {
	ranks := []int{1, 2, 3, 4, 5, 6, 7, 8, 9}
	for _, quad := range combinations4(ranks) {
		for _, pairRank := range ranks {
			var need [pinSuitSize + 1]int
			for _, tr := range quad {
				need[tr] += 3
			}
			need[pairRank] += 2

			deficit := 0
			for r := 1; r <= pinSuitSize; r++ {
				if need[r] > counts[r] {
					deficit += need[r] - counts[r]
				}
			}
			if deficit <= bdCount {
				return &suuankouTarget{need: need, bdUsed: deficit}, true
			}
		}
	}
	return nil, false
}

// PlanPureSuuankou ports the original combinatorial planner: given the
// current hand, the deterministic future draw order (the snapshot's
// WallTiles), and a tile-id -> face lookup, it finds the fewest future
// draws needed to complete a pure-pinzu four-concealed-triplets hand and,
// if any draws are needed, the discard sequence described on Plan.
func PlanPureSuuankou(hand []int64, futureDraws []int64, face func(int64) (string, bool)) Plan {
	var (
		kFound = -1
		target *suuankouTarget
	)
	for k := 0; k <= len(futureDraws); k++ {
		pool := append(append([]int64(nil), hand...), futureDraws[:k]...)
		counts, bdCount := countPinAndBd(pool, face)
		if t, ok := existsPureSuuankou(counts, bdCount); ok {
			kFound, target = k, t
			break
		}
	}

	if target == nil {
		return Plan{Status: PlanImpossible}
	}

	targetFace := make([]string, 0, 14)
	for r := 1; r <= pinSuitSize; r++ {
		for i := 0; i < target.need[r]; i++ {
			targetFace = append(targetFace, faceName(r))
		}
	}

	if kFound == 0 {
		return Plan{Status: PlanWinNow, DrawsNeeded: 0, TargetFace: targetFace}
	}

	natNeed := target.need
	allPool := append(append([]int64(nil), hand...), futureDraws[:kFound]...)
	allCounts, _ := countPinAndBd(allPool, face)
	for r := 1; r <= pinSuitSize; r++ {
		use := min(natNeed[r], allCounts[r])
		natNeed[r] = use
	}

	futureRest := futureDraws[:kFound]
	curIDs := append([]int64(nil), hand...)

	stillFeasible := func(discardID int64, rest []int64) bool {
		tmp := removeOne(curIDs, discardID)
		pinC, bdC := countPinAndBd(append(append([]int64(nil), tmp...), rest...), face)
		for r := 1; r <= pinSuitSize; r++ {
			if pinC[r] < natNeed[r] {
				return false
			}
		}
		deficit := 0
		for r := 1; r <= pinSuitSize; r++ {
			if target.need[r] > pinC[r] {
				deficit += target.need[r] - pinC[r]
			}
		}
		return deficit <= bdC
	}

	discardScore := func(tileID int64, rest []int64) [4]int {
		f, _ := face(tileID)
		if f != "bd" && !isPinzuOrRedFive(f) {
			return [4]int{0, 0, 0, int(tileID)}
		}
		if f == "bd" {
			return [4]int{3, 0, 0, int(tileID)}
		}
		r, _ := pinRank(f)
		needTotal := target.need[r]

		curCounts, _ := countPinAndBd(curIDs, face)
		futCounts, _ := countPinAndBd(rest, face)
		naturalsTotal := curCounts[r] + futCounts[r]

		over := naturalsTotal - needTotal
		base := 2
		if over > 0 {
			base = 1
		}
		redBias := 0
		if r == 5 && f == "0p" {
			redBias = 1
		}
		return [4]int{base, redBias, 0, int(tileID)}
	}

	pickDiscard := func(rest []int64) int64 {
		uniq := uniqueIDs(curIDs)
		candidates := make([]int64, 0, len(uniq))
		for _, id := range uniq {
			if stillFeasible(id, rest) {
				candidates = append(candidates, id)
			}
		}
		if len(candidates) == 0 {
			candidates = uniq
		}
		sort.Slice(candidates, func(i, j int) bool {
			si, sj := discardScore(candidates[i], rest), discardScore(candidates[j], rest)
			return lessTuple4(si, sj)
		})
		return candidates[0]
	}

	var discards []int64
	best := pickDiscard(futureRest)
	discards = append(discards, best)
	curIDs = removeOne(curIDs, best)

	for j := 0; j < kFound; j++ {
		curIDs = append(curIDs, futureDraws[j])
		rest := futureDraws[j+1 : kFound]
		if j == kFound-1 {
			break
		}
		best := pickDiscard(rest)
		discards = append(discards, best)
		curIDs = removeOne(curIDs, best)
	}

	return Plan{Status: PlanInProgress, DrawsNeeded: kFound, Discards: discards, TargetFace: targetFace}
}

func faceName(rank int) string {
	return string(rune('0'+rank)) + "p"
}

func removeOne(ids []int64, target int64) []int64 {
	out := make([]int64, 0, len(ids))
	removed := false
	for _, id := range ids {
		if !removed && id == target {
			removed = true
			continue
		}
		out = append(out, id)
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func lessTuple4(a, b [4]int) bool {
	for i := 0; i < 4; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
