// Package autorun implements the supervised automation state machine (C7)
// that drives PacketBot through a full amulet run: stage dispatch, amulet
// valuation, goal tracking, and a heartbeat status broadcast.
package autorun

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/liqi-mitm/core/internal/gamestate"
	"github.com/liqi-mitm/core/internal/packetbot"
	"github.com/liqi-mitm/core/internal/retry"
	"github.com/liqi-mitm/core/internal/tracing"
)

// Mode selects whether the runner drives itself continuously or only
// advances one tick at a time under external control.
type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeStep       Mode = "step"
)

const heartbeatInterval = time.Second
const tickPause = 50 * time.Millisecond

// Config is the user-tunable automation goal: how many value-weighted
// targets must be satisfied before stopping, the target list itself, and
// the level past which the runner gives up a run instead of continuing to
// shop (0 disables the cutoff).
type Config struct {
	EndCount    int
	Targets     []gamestate.Target
	CutoffLevel int64
}

// ProbeResult is the outcome of the last readiness probe (fetch_game_data
// used purely as a liveness check).
type ProbeResult struct {
	OK     bool
	Reason string
	At     time.Time
}

// Status is the snapshot the control channel broadcasts on every
// heartbeat and after every state transition.
type Status struct {
	Mode              Mode
	Running           bool
	Runs              int
	ElapsedMS         int64
	BestAchievedCount int
	CurrentStep       string
	LastError         string
	StartedAt         int64
	GameReady         bool
	HasLiveGame       bool
	GameReadyReason   string
	GameReadyCode     string
	ProbeFailCount    int
	ProbeOK           *bool
	ProbeReason       string
	ProbeAtMS         int64
}

// BroadcastFunc publishes a Status to the control channel.
type BroadcastFunc func(Status)

// AutoRunner drives one PacketBot through a full run. One AutoRunner binds
// to one live flow's Bot for its lifetime.
type AutoRunner struct {
	mu sync.Mutex

	bot       *packetbot.Bot
	state     func() gamestate.Snapshot
	broadcast BroadcastFunc
	lookup    RegistryLookup
	logger    *slog.Logger
	limiter   *rate.Limiter

	// Tracer, if set, wraps each tick in a span. Left nil by New; callers
	// that want tracing set it directly before calling Start.
	Tracer *tracing.Tracer

	mode Mode

	running       bool
	startedAt     time.Time
	startedMono   time.Time
	elapsed       time.Duration
	runs          int
	bestAchieved  int
	currentStep   string
	lastError     string
	needStartGame bool

	probe          ProbeResult
	probeFailCount int
	probeClassify  retry.ProbeStatus

	cfg Config

	loopCancel      context.CancelFunc
	heartbeatCancel context.CancelFunc
}

// New returns a stopped AutoRunner. lookup may be nil if no amulet rarity
// registry is available; ordinary-rarity valuation then always scores 0,
// falling through to badge-based and target-based picks only.
func New(bot *packetbot.Bot, state func() gamestate.Snapshot, broadcast BroadcastFunc, lookup RegistryLookup, logger *slog.Logger) *AutoRunner {
	if broadcast == nil {
		broadcast = func(Status) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoRunner{
		bot:       bot,
		state:     state,
		broadcast: broadcast,
		lookup:    lookup,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(tickPause), 1),
		mode:          ModeContinuous,
		probe:         ProbeResult{Reason: "not-probed"},
		probeClassify: retry.GameNotReady,
	}
}

// UpdateConfig applies a new automation goal. end_count is clamped to at
// least 1.
func (r *AutoRunner) UpdateConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.EndCount < 1 {
		cfg.EndCount = 1
	}
	r.cfg = cfg
	r.logger.Info("autorun.config.updated", "end_count", cfg.EndCount, "targets", len(cfg.Targets), "cutoff_level", cfg.CutoffLevel)
}

func (r *AutoRunner) calcElapsed() time.Duration {
	if !r.running {
		return r.elapsed
	}
	return r.elapsed + time.Since(r.startedMono)
}

// InvalidateProbe discards the last probe result, forcing callers back to
// NOT_PROBED until RefreshProbe runs again.
func (r *AutoRunner) InvalidateProbe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probe = ProbeResult{Reason: "not-probed"}
	r.probeFailCount = 0
	r.probeClassify = retry.GameNotReady
}

// RefreshProbe issues one fetch_game_data call purely to classify
// readiness, independent of whether the runner is running.
func (r *AutoRunner) RefreshProbe(ctx context.Context) ProbeResult {
	res := r.bot.FetchGameData(ctx)
	pr := ProbeResult{OK: res.OK, Reason: res.Reason, At: time.Now()}

	r.mu.Lock()
	r.probe = pr
	if res.OK || retry.ClassifyProbeReason(res.Reason) == retry.BusinessRefused {
		r.probeClassify = retry.Ready
		r.probeFailCount = 0
	} else {
		r.probeClassify = retry.ClassifyProbeReason(res.Reason)
		r.probeFailCount++
	}
	r.mu.Unlock()

	r.broadcastStatus()
	return pr
}

func (r *AutoRunner) isGameReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probeClassify == retry.Ready
}

// SetMode switches between continuous and step mode. Switching to step
// while a continuous loop is running stops the loop but preserves
// Running/state.
func (r *AutoRunner) SetMode(mode Mode) {
	if mode != ModeContinuous && mode != ModeStep {
		return
	}
	r.mu.Lock()
	r.mode = mode
	if mode == ModeStep && r.loopCancel != nil {
		r.loopCancel()
		r.loopCancel = nil
	}
	r.mu.Unlock()
	r.broadcastStatus()
}

// Start begins a run. It fails if the last probe classified the game as
// not ready; callers are expected to RefreshProbe first.
func (r *AutoRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	if r.probeClassify != retry.Ready {
		reason := r.probe.Reason
		r.mu.Unlock()
		return fmt.Errorf("autorun: not ready: %s", reason)
	}

	r.running = true
	r.startedAt = time.Now()
	r.startedMono = time.Now()
	r.elapsed = 0
	r.currentStep = "init"
	r.lastError = ""
	r.runs = 0
	r.needStartGame = true

	hbCtx, hbCancel := context.WithCancel(ctx)
	r.heartbeatCancel = hbCancel
	go r.heartbeatLoop(hbCtx)

	if r.mode == ModeContinuous {
		loopCtx, loopCancel := context.WithCancel(ctx)
		r.loopCancel = loopCancel
		go r.mainLoop(loopCtx)
	}
	r.mu.Unlock()

	r.broadcastStatus()
	r.logger.Info("autorun.started", "mode", r.mode)
	return nil
}

// Stop halts the runner and cancels its background loops. It does not
// reset accumulated progress (runs, best_achieved_count).
func (r *AutoRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.elapsed = r.calcElapsed()
	r.startedMono = time.Time{}
	if r.loopCancel != nil {
		r.loopCancel()
		r.loopCancel = nil
	}
	if r.heartbeatCancel != nil {
		r.heartbeatCancel()
		r.heartbeatCancel = nil
	}
	r.currentStep = "stopped"
	r.mu.Unlock()
	r.broadcastStatus()
	r.logger.Info("autorun.stopped")
}

// Abort stops the runner and records a terminal error, mirroring a fatal
// RPC failure the dispatch loop could not recover from.
func (r *AutoRunner) Abort(reason string) {
	r.mu.Lock()
	if reason == "" {
		reason = "fatal error"
	}
	r.lastError = reason
	r.running = false
	r.elapsed = r.calcElapsed()
	r.startedMono = time.Time{}
	if r.loopCancel != nil {
		r.loopCancel()
		r.loopCancel = nil
	}
	if r.heartbeatCancel != nil {
		r.heartbeatCancel()
		r.heartbeatCancel = nil
	}
	r.mu.Unlock()
	r.broadcastStatus()
	r.logger.Warn("autorun.aborted", "reason", reason)
}

// StepOnce runs exactly one tick; only valid while Running and in step
// mode.
func (r *AutoRunner) StepOnce(ctx context.Context) error {
	r.mu.Lock()
	running, mode := r.running, r.mode
	r.mu.Unlock()
	if !running {
		return fmt.Errorf("autorun: not running")
	}
	if mode != ModeStep {
		return fmt.Errorf("autorun: not in step mode")
	}
	r.runTick(ctx)
	r.broadcastStatus()
	return nil
}

func (r *AutoRunner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.broadcastStatus()
		}
	}
}

func (r *AutoRunner) mainLoop(ctx context.Context) {
	for {
		r.mu.Lock()
		running, mode := r.running, r.mode
		r.mu.Unlock()
		if !running || mode != ModeContinuous {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		r.runTick(ctx)
		time.Sleep(tickPause)
	}
}

// fatal records reason as the run's terminal error and aborts, returning
// true so callers can `return` immediately after calling it.
func (r *AutoRunner) fatal(reason string) bool {
	r.Abort(fmt.Sprintf("fatal: %s", reason))
	return true
}

func retryOpts() retry.Options {
	return retry.Options{Interval: 400 * time.Millisecond, Timeout: 30 * time.Second}
}

// runTick advances the state machine exactly one decision. It is the Go
// counterpart of the original per-tick dispatch: check goal completion,
// then route on the current stage.
func (r *AutoRunner) runTick(ctx context.Context) {
	if r.Tracer != nil {
		var span trace.Span
		ctx, span = r.Tracer.Start(ctx, "autorun.tick", "mode", string(r.mode))
		defer span.End()
	}

	time.Sleep(100 * time.Millisecond)

	if r.checkAndFinishIfDone() {
		return
	}

	snap := r.state()

	r.mu.Lock()
	needStart := r.needStartGame
	r.mu.Unlock()

	if needStart {
		r.setStep("start_game")
		res := retry.Call(ctx, func(ctx context.Context) retry.Result {
			br := r.bot.StartGame(ctx)
			return retry.Result{OK: br.OK, Reason: br.Reason, Resp: br.Resp}
		}, retryOpts())
		if res.OK {
			r.mu.Lock()
			r.runs++
			r.needStartGame = false
			r.mu.Unlock()
			return
		}
		r.fatal(res.Reason)
		return
	}

	switch snap.Stage {
	case gamestate.StageFreeEffect:
		r.tickFreeEffect(ctx, snap)
	case gamestate.StageLevelConfirm:
		r.tickLevelConfirm(ctx, snap)
	case gamestate.StageChange:
		r.tickChange(ctx, snap)
	case gamestate.StagePlay:
		r.tickPlay(ctx, snap)
	case gamestate.StageShop:
		r.tickShop(ctx, snap)
	case gamestate.StageSelectPack, gamestate.StageRewardPack:
		r.tickSelectEffect(ctx, snap)
	}
}

func (r *AutoRunner) setStep(step string) {
	r.mu.Lock()
	r.currentStep = step
	r.mu.Unlock()
	r.broadcastStatus()
}

func (r *AutoRunner) call(ctx context.Context, step string, fn func(context.Context) packetbot.Result) (ok bool) {
	r.setStep(step)
	res := retry.Call(ctx, func(ctx context.Context) retry.Result {
		br := fn(ctx)
		return retry.Result{OK: br.OK, Reason: br.Reason, Resp: br.Resp}
	}, retryOpts())
	if res.OK {
		return true
	}
	r.fatal(res.Reason)
	return false
}

func (r *AutoRunner) tickFreeEffect(ctx context.Context, snap gamestate.Snapshot) {
	var raw int64
	if len(snap.CandidateEffectList) > 0 {
		raw = snap.CandidateEffectList[0].Raw
	}
	r.call(ctx, "game.select_free_effect", func(ctx context.Context) packetbot.Result {
		return r.bot.SelectFreeEffect(ctx, raw)
	})
}

func (r *AutoRunner) tickLevelConfirm(ctx context.Context, snap gamestate.Snapshot) {
	if order := sortEffectOrder(snap.EffectList, PreStartOrder); order != nil {
		if !r.call(ctx, "game.sort_effect", func(ctx context.Context) packetbot.Result {
			return r.bot.SortEffect(ctx, order)
		}) {
			return
		}
	}
	r.call(ctx, "game.level_confirm", r.bot.NextLevel)
}

func (r *AutoRunner) tickChange(ctx context.Context, snap gamestate.Snapshot) {
	step := fmt.Sprintf("game.change_tile(%d/%d)", snap.ChangeTileCount, snap.TotalChangeCount)
	r.setStep(step)

	if snap.ChangeTileCount >= snap.TotalChangeCount {
		r.call(ctx, step, func(ctx context.Context) packetbot.Result {
			return r.bot.OpSkipChange(ctx)
		})
		return
	}

	var filtered []int64
	for _, id := range snap.HandTiles {
		face, ok := snap.Face(id)
		if !ok {
			continue
		}
		if face == "bd" || strings.HasSuffix(face, "p") {
			filtered = append(filtered, id)
		}
	}
	if hasBossDebuff(snap.EffectList) && len(filtered) > 3 {
		filtered = filtered[:3]
	}
	r.call(ctx, step, func(ctx context.Context) packetbot.Result {
		return r.bot.OpChange(ctx, filtered)
	})
}

func (r *AutoRunner) tickPlay(ctx context.Context, snap gamestate.Snapshot) {
	r.setStep("game.discard")
	plan := PlanPureSuuankou(snap.HandTiles, snap.WallTiles, snap.Face)

	switch plan.Status {
	case PlanImpossible:
		r.setStep("game.remake")
		r.mu.Lock()
		r.needStartGame = true
		r.mu.Unlock()
		r.call(ctx, "game.remake", r.bot.Giveup)
	case PlanWinNow:
		r.setStep("game.tsumo")
		if order := sortEffectOrder(snap.EffectList, PreWinOrder); order != nil {
			if !r.call(ctx, "game.sort_effect", func(ctx context.Context) packetbot.Result {
				return r.bot.SortEffect(ctx, order)
			}) {
				return
			}
		}
		r.call(ctx, "game.tsumo", func(ctx context.Context) packetbot.Result {
			return r.bot.OpTsumo(ctx)
		})
	case PlanInProgress:
		if len(plan.Discards) == 0 {
			return
		}
		discard := plan.Discards[0]
		r.call(ctx, "game.discard", func(ctx context.Context) packetbot.Result {
			return r.bot.DiscardByTileID(ctx, discard)
		})
	}
}

func (r *AutoRunner) tickShop(ctx context.Context, snap gamestate.Snapshot) {
	r.setStep("game.buy_pack")

	var unsold []gamestate.ShopGood
	for _, g := range snap.Goods {
		if !g.Sold {
			unsold = append(unsold, g)
		}
	}

	if len(unsold) == 0 {
		if snap.RefreshPrice > snap.Coin {
			r.mu.Lock()
			cutoff := r.cfg.CutoffLevel
			r.mu.Unlock()
			if cutoff > 0 && snap.Level > cutoff {
				r.setStep("game.remake")
				r.mu.Lock()
				r.needStartGame = true
				r.mu.Unlock()
				r.call(ctx, "game.remake", r.bot.Giveup)
				return
			}
			r.call(ctx, "game.end_shopping", r.bot.EndShopping)
			return
		}
		if r.call(ctx, "game.refresh_shop", r.bot.RefreshShop) {
			r.sellHappinessAfterRefresh(ctx, snap)
		}
		return
	}

	sortShopGoods(unsold)
	cheapest := unsold[0]
	if cheapest.Price > snap.Coin {
		if snap.RefreshPrice > snap.Coin {
			r.call(ctx, "game.end_shopping", r.bot.EndShopping)
			return
		}
		if r.call(ctx, "game.refresh_shop", r.bot.RefreshShop) {
			r.sellHappinessAfterRefresh(ctx, snap)
		}
		return
	}

	r.call(ctx, "game.buy_pack", func(ctx context.Context) packetbot.Result {
		return r.bot.BuyPack(ctx, cheapest.GoodsID)
	})
}

// sellHappinessAfterRefresh sells the first owned "happiness"-badged
// (600110) amulet not needed by any declared target, per the post-refresh
// shop policy.
func (r *AutoRunner) sellHappinessAfterRefresh(ctx context.Context, snap gamestate.Snapshot) {
	targets := r.currentTargets()
	for _, a := range snap.EffectList {
		if a.Badge == nil || *a.Badge != badgeGuideSingle {
			continue
		}
		if isNeededForAnyTarget(a, targets) {
			continue
		}
		r.call(ctx, "game.sell_happiness_after_refresh", func(ctx context.Context) packetbot.Result {
			return r.bot.SellEffect(ctx, a.UID)
		})
		return
	}
}

func sortShopGoods(goods []gamestate.ShopGood) {
	for i := 1; i < len(goods); i++ {
		for j := i; j > 0; j-- {
			if goodsLess(goods[j], goods[j-1]) {
				goods[j], goods[j-1] = goods[j-1], goods[j]
			} else {
				break
			}
		}
	}
}

func goodsLess(a, b gamestate.ShopGood) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if a.GoodsID != b.GoodsID {
		return a.GoodsID < b.GoodsID
	}
	return a.ID < b.ID
}

func (r *AutoRunner) tickSelectEffect(ctx context.Context, snap gamestate.Snapshot) {
	r.setStep("game.select_effect")

	r.mu.Lock()
	targets := r.cfg.Targets
	r.mu.Unlock()

	raw, badge, value := selectAmuletFromCandidates(snap.CandidateEffectList, snap.EffectList, targets, r.lookup)
	if raw == 0 {
		return
	}

	needSpace := neededSpaceFor(badge)
	usedSpace := totalVolume(snap.EffectList)
	freeSpace := snap.MaxEffectVolume - usedSpace

	pick := func(ctx context.Context, selected int64) packetbot.Result {
		if snap.Stage == gamestate.StageSelectPack {
			return r.bot.SelectEffect(ctx, selected)
		}
		return r.bot.SelectRewardEffect(ctx, selected)
	}

	if freeSpace >= needSpace {
		if !r.call(ctx, "game.select_effect", func(ctx context.Context) packetbot.Result { return pick(ctx, raw) }) {
			return
		}
		if value == valueOrdinary {
			if uid, ok := findUIDForRawOrPlus(snap.EffectList, raw); ok {
				r.call(ctx, "game.sell_useless_effect", func(ctx context.Context) packetbot.Result {
					return r.bot.SellEffect(ctx, uid)
				})
			}
		}
		return
	}

	if value >= valueTarget {
		sellList := sortSellPriority(snap.EffectList, targets)
		toSell, _, enough := selectItemsToSellForPurchase(freeSpace, needSpace, sellList)
		if enough {
			for _, a := range toSell {
				if !r.call(ctx, "game.sell_for_space", func(ctx context.Context) packetbot.Result {
					return r.bot.SellEffect(ctx, a.UID)
				}) {
					return
				}
			}
			return
		}
		r.setStep("game.skip_buy_insufficient_space0")
		r.call(ctx, "game.skip_buy_insufficient_space0", func(ctx context.Context) packetbot.Result { return pick(ctx, 0) })
		return
	}

	r.setStep("game.skip_buy_insufficient_space1")
	r.call(ctx, "game.skip_buy_insufficient_space1", func(ctx context.Context) packetbot.Result { return pick(ctx, 0) })
}

func (r *AutoRunner) checkAndFinishIfDone() bool {
	snap := r.state()
	achieved := countAchieved(snap.EffectList, r.currentTargets())

	r.mu.Lock()
	if achieved > r.bestAchieved {
		r.bestAchieved = achieved
	}
	done := achieved >= r.cfg.EndCount
	r.mu.Unlock()

	if done {
		r.setStep("goal_met")
		r.Stop()
		return true
	}
	return false
}

func (r *AutoRunner) currentTargets() []gamestate.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Targets
}

// Status returns the current broadcastable status snapshot.
func (r *AutoRunner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	var startedAtMS int64
	if !r.startedAt.IsZero() {
		startedAtMS = r.startedAt.UnixMilli()
	}
	var probeOK *bool
	if r.probe.Reason != "not-probed" {
		ok := r.probe.OK
		probeOK = &ok
	}
	var probeAtMS int64
	if !r.probe.At.IsZero() {
		probeAtMS = r.probe.At.UnixMilli()
	}

	return Status{
		Mode:              r.mode,
		Running:           r.running,
		Runs:              r.runs,
		ElapsedMS:         r.calcElapsed().Milliseconds(),
		BestAchievedCount: r.bestAchieved,
		CurrentStep:       valueOrDash(r.currentStep),
		LastError:         r.lastError,
		StartedAt:         startedAtMS,
		GameReady:         r.probeClassify == retry.Ready,
		GameReadyReason:   r.probe.Reason,
		GameReadyCode:     r.probeClassify.String(),
		ProbeFailCount:    r.probeFailCount,
		ProbeOK:           probeOK,
		ProbeReason:       r.probe.Reason,
		ProbeAtMS:         probeAtMS,
	}
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (r *AutoRunner) broadcastStatus() {
	r.broadcast(r.Status())
}
