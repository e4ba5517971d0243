package autorun

import (
	"testing"

	"github.com/liqi-mitm/core/internal/gamestate"
)

func badge(id int64) *int64 { return &id }

func TestSelectAmuletPrefersExplicitTarget(t *testing.T) {
	targets := []gamestate.Target{{Kind: "amulet", ID: 42, Value: 1}}
	candidates := []gamestate.PackCandidate{
		{Raw: 10, Reg: 1},
		{Raw: 421, Reg: 42}, // plus variant of the wanted reg
	}
	raw, _, value := selectAmuletFromCandidates(candidates, nil, targets, nil)
	if raw != 421 || value != valueTarget {
		t.Fatalf("expected the target-matching candidate to win, got raw=%d value=%d", raw, value)
	}
}

func TestSelectAmuletFallsBackToGuideStackUnderCap(t *testing.T) {
	owned := []gamestate.Amulet{{UID: 1, Badge: badge(badgeStackWant)}}
	candidates := []gamestate.PackCandidate{{Raw: 100, Reg: 7, Badge: badge(badgeStackWant)}}
	raw, _, value := selectAmuletFromCandidates(candidates, owned, nil, nil)
	if raw != 100 || value != valueGuideStack {
		t.Fatalf("expected guide-stack candidate to be picked below the cap, got raw=%d value=%d", raw, value)
	}
}

func TestSelectAmuletSkipsGuideStackAtCap(t *testing.T) {
	owned := []gamestate.Amulet{
		{UID: 1, Badge: badge(badgeStackWant)},
		{UID: 2, Badge: badge(badgeStackWant)},
		{UID: 3, Badge: badge(badgeStackWant)},
		{UID: 4, Badge: badge(badgeStackWant)},
	}
	candidates := []gamestate.PackCandidate{{Raw: 100, Reg: 7, Badge: badge(badgeStackWant)}}
	lookup := func(reg int64) (int64, bool) { return 2, true }
	raw, _, value := selectAmuletFromCandidates(candidates, owned, nil, lookup)
	if raw != 100 || value != valueOrdinary {
		t.Fatalf("expected fallthrough to rarity valuation once the guide-stack cap is reached, got raw=%d value=%d", raw, value)
	}
}

func TestCandidateValueTriplesForPioneerBadge(t *testing.T) {
	lookup := func(reg int64) (int64, bool) { return 4, true }
	plain := candidateValue(1, nil, lookup)
	boosted := candidateValue(1, badge(badgePioneerRarityBoost), lookup)
	if boosted != plain*3 {
		t.Fatalf("expected pioneer badge to triple rarity value: plain=%d boosted=%d", plain, boosted)
	}
}

func TestCountAchievedIsValueWeightedAndDeduplicated(t *testing.T) {
	targets := []gamestate.Target{
		{Kind: "amulet", ID: 5, Value: 3},
		{Kind: "badge", ID: 600070, Value: 2},
		{Kind: "amulet", ID: 9, Value: 1},
	}
	owned := []gamestate.Amulet{
		{UID: 1, ID: 50, Badge: badge(600070)}, // satisfies BOTH target 0 (reg 5) and target 1 (badge)
	}
	got := countAchieved(owned, targets)
	if got != 5 {
		t.Fatalf("expected value-weighted sum 3+2=5 for one amulet matching two targets, got %d", got)
	}
}

func TestCountAchievedDefaultsValueToOne(t *testing.T) {
	targets := []gamestate.Target{{Kind: "amulet", ID: 5}} // Value left zero
	owned := []gamestate.Amulet{{UID: 1, ID: 50}}
	if got := countAchieved(owned, targets); got != 1 {
		t.Fatalf("expected default value of 1, got %d", got)
	}
}

func TestSortSellPriorityProtectsTargetsAndDemotesGuideStack(t *testing.T) {
	targets := []gamestate.Target{{Kind: "amulet", ID: 1}}
	owned := []gamestate.Amulet{
		{UID: 1, ID: 10},                      // needed by target -> excluded entirely
		{UID: 2, ID: 20, Badge: badge(badgeStackWant)}, // demoted
		{UID: 3, ID: 30},                      // normal
	}
	order := sortSellPriority(owned, targets)
	if len(order) != 2 {
		t.Fatalf("expected the target-needed amulet to be excluded, got %d entries", len(order))
	}
	if order[0].UID != 3 || order[1].UID != 2 {
		t.Fatalf("expected normal amulets before demoted guide-stack ones, got order %+v", order)
	}
}

func TestSelectItemsToSellForPurchaseStopsAsSoonAsEnough(t *testing.T) {
	candidates := []gamestate.Amulet{
		{UID: 1, Volume: 1},
		{UID: 2, Volume: 3},
		{UID: 3, Volume: 5},
	}
	chosen, freed, enough := selectItemsToSellForPurchase(0, 3, candidates)
	if !enough || freed < 3 {
		t.Fatalf("expected selling to reach the gap, got chosen=%+v freed=%d enough=%v", chosen, freed, enough)
	}
	if len(chosen) != 2 {
		t.Fatalf("expected exactly 2 items sold to cover a gap of 3 (1+3), got %d", len(chosen))
	}
}

func TestSelectItemsToSellForPurchaseReportsInsufficient(t *testing.T) {
	candidates := []gamestate.Amulet{{UID: 1, Volume: 1}}
	_, _, enough := selectItemsToSellForPurchase(0, 10, candidates)
	if enough {
		t.Fatalf("expected insufficient total volume to report enough=false")
	}
}

func TestSortEffectOrderPreStartPutsKaviBeforeTheftLike(t *testing.T) {
	owned := []gamestate.Amulet{
		{UID: 1, ID: theftLikeReg * 10},
		{UID: 2, ID: 999 * 10},
		{UID: 3, ID: kaviReg * 10},
	}
	order := sortEffectOrder(owned, PreStartOrder)
	if order == nil || order[0] != 3 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("expected [kavi, theft-like, other] = [3,1,2], got %v", order)
	}
}

func TestSortEffectOrderPreWinPutsTheftLikeBeforeKavi(t *testing.T) {
	owned := []gamestate.Amulet{
		{UID: 1, ID: kaviReg * 10},
		{UID: 2, ID: theftLikeReg * 10},
	}
	order := sortEffectOrder(owned, PreWinOrder)
	if order == nil || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected [theft-like, kavi] = [2,1], got %v", order)
	}
}

func TestSortEffectOrderDetectsTheftLikeViaStore(t *testing.T) {
	owned := []gamestate.Amulet{
		{UID: 1, ID: 228 * 10, Store: []int64{theftLikeReg}},
		{UID: 2, ID: kaviReg * 10},
	}
	order := sortEffectOrder(owned, PreStartOrder)
	if order == nil || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected store-derived theft-like amulet ordered after kavi, got %v", order)
	}
}

func TestSortEffectOrderNilWhenAlreadyOrdered(t *testing.T) {
	owned := []gamestate.Amulet{{UID: 1, ID: kaviReg * 10}, {UID: 2, ID: 999 * 10}}
	if order := sortEffectOrder(owned, PreStartOrder); order != nil {
		t.Fatalf("expected nil when the proposed order matches the current one, got %v", order)
	}
}

func TestHasBossDebuffDetectsReg901(t *testing.T) {
	if hasBossDebuff([]gamestate.Amulet{{ID: 999 * 10}}) {
		t.Fatalf("expected no boss debuff without a reg-901 entry")
	}
	if !hasBossDebuff([]gamestate.Amulet{{ID: bossDebuffReg * 10}}) {
		t.Fatalf("expected a reg-901 entry to be detected as the boss debuff")
	}
}

func faceTable(m map[int64]string) func(int64) (string, bool) {
	return func(id int64) (string, bool) {
		f, ok := m[id]
		return f, ok
	}
}

func TestPlanPureSuuankouWinNow(t *testing.T) {
	faces := map[int64]string{}
	hand := make([]int64, 0, 14)
	id := int64(0)
	addN := func(face string, n int) {
		for i := 0; i < n; i++ {
			faces[id] = face
			hand = append(hand, id)
			id++
		}
	}
	addN("1p", 3)
	addN("3p", 3)
	addN("5p", 3)
	addN("7p", 3)
	addN("9p", 2)

	plan := PlanPureSuuankou(hand, nil, faceTable(faces))
	if plan.Status != PlanWinNow {
		t.Fatalf("expected win_now, got %v (discards=%v)", plan.Status, plan.Discards)
	}
}

func TestPlanPureSuuankouImpossibleWithNoPinzu(t *testing.T) {
	faces := map[int64]string{}
	hand := make([]int64, 0, 13)
	for i := int64(0); i < 13; i++ {
		faces[i] = "1s"
		hand = append(hand, i)
	}
	plan := PlanPureSuuankou(hand, nil, faceTable(faces))
	if plan.Status != PlanImpossible {
		t.Fatalf("expected impossible with no pinzu/bd tiles at all, got %v", plan.Status)
	}
}

func TestPlanPureSuuankouNeedsADraw(t *testing.T) {
	faces := map[int64]string{}
	hand := make([]int64, 0, 13)
	id := int64(0)
	addN := func(face string, n int) {
		for i := 0; i < n; i++ {
			faces[id] = face
			hand = append(hand, id)
			id++
		}
	}
	// 13 tiles, one short of four triplets + pair; needs exactly one more 9p.
	addN("1p", 3)
	addN("3p", 3)
	addN("5p", 3)
	addN("7p", 3)
	addN("9p", 1)

	wall := []int64{id}
	faces[id] = "9p"

	plan := PlanPureSuuankou(hand, wall, faceTable(faces))
	if plan.Status != PlanInProgress {
		t.Fatalf("expected an in-progress plan needing exactly one draw, got %v", plan.Status)
	}
	if plan.DrawsNeeded != 1 {
		t.Fatalf("expected 1 draw needed, got %d", plan.DrawsNeeded)
	}
	if len(plan.Discards) != 1 {
		t.Fatalf("expected exactly one discard recommendation, got %v", plan.Discards)
	}
}

func TestCheckAndFinishIfDoneStopsOnceGoalMet(t *testing.T) {
	snap := gamestate.Snapshot{EffectList: []gamestate.Amulet{{UID: 1, ID: 50}}}
	r := New(nil, func() gamestate.Snapshot { return snap }, nil, nil, nil)
	r.UpdateConfig(Config{EndCount: 2, Targets: []gamestate.Target{
		{Kind: "amulet", ID: 5, Value: 2},
	}})
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	done := r.checkAndFinishIfDone()
	if !done {
		t.Fatalf("expected goal to be met with a value-2 target satisfied against end_count=2")
	}
	if r.Status().BestAchievedCount != 2 {
		t.Fatalf("expected best_achieved_count to record 2, got %d", r.Status().BestAchievedCount)
	}
}
