package sim

import (
	"context"

	"gridclash/internal/replication"
)

// EngineCore is the authoritative simulation driven by Loop. Apply and Step
// run on the loop goroutine; Drain hands the tick's replicated output over.
type EngineCore interface {
	Deps() Deps
	Apply(ctx context.Context, tick uint64, cmds []Command) error
	Step(ctx context.Context, tc LoopTickContext)
	Drain() replication.Frame
}
