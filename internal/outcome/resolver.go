package outcome

import (
	"context"
	"fmt"

	"gridclash/internal/replication"
	"gridclash/logging"
	matchlog "gridclash/logging/match"
)

const (
	// Path is the replicated path of the committed outcome.
	Path = "match/outcome"
	// BroadcastKind tags the one-shot outcome message in a journal frame.
	BroadcastKind = "outcome"

	CauseCoreDestroyed = "core_destroyed"
	CauseForfeit       = "forfeit"
)

// Outcome is written once per match. Committed flips false to true in the
// same write that sets WinnerID and LoserID, so an observer that sees
// Committed can rely on both ids.
type Outcome struct {
	WinnerID  string `json:"winnerId"`
	LoserID   string `json:"loserId"`
	Committed bool   `json:"committed"`
	Cause     string `json:"cause,omitempty"`
	Tick      uint64 `json:"tick,omitempty"`
}

// TerminalEvent names a participant that can no longer continue.
type TerminalEvent struct {
	LoserID string
	Cause   string
	Tick    uint64
}

// Broadcaster carries the one-shot outcome message.
type Broadcaster interface {
	RecordBroadcast(kind string, payload any)
}

// Resolver commits the first terminal event of a match and ignores the rest.
// When two events land in the same tick the one processed first wins.
type Resolver struct {
	value       *replication.Value[Outcome]
	broadcaster Broadcaster
	publisher   logging.Publisher

	matchID      string
	tick         uint64
	participants map[string]func()
	order        []string
}

func NewResolver(reg *replication.Registry, broadcaster Broadcaster, publisher logging.Publisher) (*Resolver, error) {
	value, err := replication.Register(reg, Path, replication.RoleAuthority, "", Outcome{})
	if err != nil {
		return nil, fmt.Errorf("outcome resolver: %w", err)
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Resolver{
		value:        value,
		broadcaster:  broadcaster,
		publisher:    publisher,
		participants: make(map[string]func()),
	}, nil
}

// SetMatchID labels published events.
func (r *Resolver) SetMatchID(id string) {
	if r != nil {
		r.matchID = id
	}
}

// SetTick stamps events submitted by watched values.
func (r *Resolver) SetTick(tick uint64) {
	if r != nil {
		r.tick = tick
	}
}

// Value exposes the replicated outcome for subscribers.
func (r *Resolver) Value() *replication.Value[Outcome] {
	if r == nil {
		return nil
	}
	return r.value
}

// Watch adds playerID as a participant and submits a terminal event the
// first time health drops to zero or below.
func (r *Resolver) Watch(playerID string, health *replication.Value[int]) {
	if r == nil || playerID == "" {
		return
	}
	r.Unwatch(playerID)
	cancel := func() {}
	if health != nil {
		cancel = health.OnChanged(func(old, next int) {
			if old > 0 && next <= 0 {
				r.Submit(context.Background(), TerminalEvent{LoserID: playerID, Cause: CauseCoreDestroyed, Tick: r.tick})
			}
		})
	}
	r.participants[playerID] = cancel
	r.order = append(r.order, playerID)
}

// Unwatch drops playerID. A committed outcome is unaffected.
func (r *Resolver) Unwatch(playerID string) {
	if r == nil {
		return
	}
	cancel, ok := r.participants[playerID]
	if !ok {
		return
	}
	cancel()
	delete(r.participants, playerID)
	for i, id := range r.order {
		if id == playerID {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// Participants lists watched players in watch order.
func (r *Resolver) Participants() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Submit commits ev if the match is unresolved and reports whether it did.
// Later events are logged and ignored.
func (r *Resolver) Submit(ctx context.Context, ev TerminalEvent) bool {
	if r == nil || ev.LoserID == "" {
		return false
	}
	if ev.Tick == 0 {
		ev.Tick = r.tick
	}
	if r.value.Read().Committed {
		matchlog.DuplicateOutcome(ctx, r.publisher, ev.Tick, logging.PlayerRef(ev.LoserID), ev.Cause)
		return false
	}
	next := Outcome{
		WinnerID:  r.winnerAgainst(ev.LoserID),
		LoserID:   ev.LoserID,
		Committed: true,
		Cause:     ev.Cause,
		Tick:      ev.Tick,
	}
	if err := r.value.Write(next); err != nil {
		return false
	}
	if r.broadcaster != nil {
		r.broadcaster.RecordBroadcast(BroadcastKind, next)
	}
	matchlog.OutcomeCommitted(ctx, r.publisher, ev.Tick, matchlog.OutcomePayload{
		MatchID:  r.matchID,
		WinnerID: next.WinnerID,
		LoserID:  next.LoserID,
		Cause:    next.Cause,
	})
	return true
}

// Outcome returns the current outcome.
func (r *Resolver) Outcome() Outcome {
	if r == nil {
		return Outcome{}
	}
	return r.value.Read()
}

// Resolved reports whether an outcome has been committed.
func (r *Resolver) Resolved() bool {
	return r.Outcome().Committed
}

// Reset clears the outcome for a new match. Watches are kept.
func (r *Resolver) Reset() error {
	if r == nil {
		return nil
	}
	return r.value.Write(Outcome{})
}

func (r *Resolver) winnerAgainst(loser string) string {
	for _, id := range r.order {
		if id != loser {
			return id
		}
	}
	return ""
}
