package match

import (
	"context"
	"errors"
	"sync"

	"gridclash/internal/collision"
	"gridclash/internal/replication"
	"gridclash/internal/request"
	"gridclash/internal/sim"
)

// Engine adapts a Coordinator to the simulation loop. Apply and Step run on
// the loop goroutine; Snapshot and Status may be called from HTTP handlers.
type Engine struct {
	mu       sync.Mutex
	coord    *Coordinator
	detector *collision.Detector
	deps     sim.Deps
}

func NewEngine(coord *Coordinator, detector *collision.Detector, deps sim.Deps) *Engine {
	return &Engine{coord: coord, detector: detector, deps: deps}
}

func (e *Engine) Deps() sim.Deps { return e.deps }

// Apply stages the tick's commands. Command failures are reported to the
// requester through the coordinator's reject hook and never stop the tick.
func (e *Engine) Apply(ctx context.Context, tick uint64, cmds []sim.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.coord
	c.BeginTick(tick)
	for _, cmd := range cmds {
		switch cmd.Type {
		case sim.CommandJoin:
			if _, err := c.Join(ctx, cmd.ActorID); err != nil {
				reason := request.RejectInvalid
				if errors.Is(err, ErrMatchFull) {
					reason = "match_full"
				}
				e.reject(cmd, reason)
			}
		case sim.CommandLeave:
			reason := "left"
			if cmd.Leave != nil && cmd.Leave.Reason != "" {
				reason = cmd.Leave.Reason
			}
			c.Leave(ctx, cmd.ActorID, reason)
		case sim.CommandFire:
			params := map[string]any{}
			if cmd.Fire != nil {
				params["claimed"] = cmd.Fire.Claimed
				params["dirX"] = cmd.Fire.DirX
				params["dirY"] = cmd.Fire.DirY
			}
			c.Fire(request.ActionRequest{
				ID:          cmd.RequestID,
				RequesterID: cmd.ActorID,
				Kind:        KindFire,
				Params:      params,
				Tick:        tick,
			})
		case sim.CommandRematch:
			if err := c.Rematch(ctx); err != nil {
				e.reject(cmd, "match_in_progress")
			}
		default:
			e.reject(cmd, "unknown_command")
		}
	}
	return nil
}

func (e *Engine) reject(cmd sim.Command, reason string) {
	if e.coord.onReject != nil {
		e.coord.onReject(cmd.ActorID, cmd.RequestID, reason)
	}
	if e.deps.Logger != nil {
		e.deps.Logger.Printf("[match] %s from %s rejected: %s", cmd.Type, cmd.ActorID, reason)
	}
}

// Step advances the match, resolves this tick's overlaps and settles the
// derived values.
func (e *Engine) Step(ctx context.Context, tc sim.LoopTickContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.coord
	c.Step(ctx, tc.Tick, tc.Delta)
	if e.detector != nil {
		for _, ov := range e.detector.Detect(c.Movers(), c.Targets()) {
			c.HandleOverlap(ctx, ov)
		}
	}
	c.Settle(ctx)
}

func (e *Engine) Drain() replication.Frame {
	return e.coord.journal.Drain()
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.Snapshot()
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.Status()
}

// Coordinator exposes the wrapped coordinator for tests and wiring.
func (e *Engine) Coordinator() *Coordinator { return e.coord }
