package gamestate

import "sync"

// BroadcastFunc publishes a state snapshot to subscribers (the UI/control
// channel). It is expected to be cheap and non-blocking; a slow
// subscriber should buffer on its own side.
type BroadcastFunc func(Snapshot)

// Projector is the single owner of a State: it applies inbound events and
// schedules a broadcast after any mutation, deduplicating within a single
// inbound frame (several reducers firing off one frame still yield one
// broadcast).
type Projector struct {
	mu        sync.Mutex
	state     *State
	broadcast BroadcastFunc
}

// NewProjector returns a Projector over a fresh State.
func NewProjector(broadcast BroadcastFunc) *Projector {
	if broadcast == nil {
		broadcast = func(Snapshot) {}
	}
	return &Projector{state: New(), broadcast: broadcast}
}

// State returns the owned State for direct snapshotting by readers.
func (p *Projector) State() *State { return p.state }

// Apply runs every event in evs against the state under a single lock,
// then broadcasts at most once if anything changed.
func (p *Projector) Apply(evs ...Event) {
	p.mu.Lock()
	p.state.mu.Lock()
	changed := false
	for _, ev := range evs {
		if p.state.apply(ev) {
			changed = true
		}
	}
	p.state.mu.Unlock()
	p.mu.Unlock()

	if changed {
		p.broadcast(p.state.Snapshot())
	}
}
