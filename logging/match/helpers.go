package match

import (
	"context"

	"gridclash/logging"
)

const (
	// EventOutcomeCommitted is emitted exactly once per match.
	EventOutcomeCommitted logging.EventType = "match.outcome_committed"
	// EventDuplicateOutcome is emitted for terminal events that arrive after resolution.
	EventDuplicateOutcome logging.EventType = "match.duplicate_outcome"
	// EventAuthorityViolation is emitted when a write is attempted from the wrong role.
	EventAuthorityViolation logging.EventType = "match.authority_violation"
)

// OutcomePayload names both participants of a committed outcome.
type OutcomePayload struct {
	MatchID  string `json:"matchId,omitempty"`
	WinnerID string `json:"winnerId"`
	LoserID  string `json:"loserId"`
	Cause    string `json:"cause,omitempty"`
}

// AuthorityViolationPayload describes the rejected write.
type AuthorityViolationPayload struct {
	Path   string `json:"path"`
	Writer string `json:"writer"`
	Node   string `json:"node"`
}

func OutcomeCommitted(ctx context.Context, pub logging.Publisher, tick uint64, payload OutcomePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventOutcomeCommitted,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: payload.MatchID, Kind: logging.EntityKindMatch},
		Targets:  []logging.EntityRef{logging.PlayerRef(payload.WinnerID), logging.PlayerRef(payload.LoserID)},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMatch,
		Payload:  payload,
	})
}

func DuplicateOutcome(ctx context.Context, pub logging.Publisher, tick uint64, loser logging.EntityRef, cause string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDuplicateOutcome,
		Tick:     tick,
		Actor:    loser,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryMatch,
		Payload:  map[string]string{"cause": cause},
	})
}

func AuthorityViolation(ctx context.Context, pub logging.Publisher, tick uint64, payload AuthorityViolationPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAuthorityViolation,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: payload.Node, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}
