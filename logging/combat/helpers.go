package combat

import (
	"context"

	"gridclash/logging"
)

const (
	// EventCellFlipped is emitted when a projectile converts a cell.
	EventCellFlipped logging.EventType = "combat.cell_flipped"
	// EventCoreDamaged is emitted when a projectile reaches an opposing core.
	EventCoreDamaged logging.EventType = "combat.core_damaged"
)

// CellFlippedPayload records the ownership transition of a single cell.
type CellFlippedPayload struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	PrevOwner string `json:"prevOwner,omitempty"`
}

// CoreDamagedPayload records the damage applied and the remaining health.
type CoreDamagedPayload struct {
	Amount    int `json:"amount"`
	Remaining int `json:"remaining"`
}

// CellFlipped publishes a debug event for a converted cell.
func CellFlipped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, cell logging.EntityRef, payload CellFlippedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCellFlipped,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{cell},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

// CoreDamaged publishes a core hit.
func CoreDamaged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, core logging.EntityRef, payload CoreDamagedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCoreDamaged,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{core},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}
