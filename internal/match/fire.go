package match

import (
	"context"
	"fmt"

	"gridclash/internal/actor"
	"gridclash/internal/geom"
	"gridclash/internal/request"
	"gridclash/logging"
	"gridclash/logging/requests"
)

// KindFire is the request kind that converts owned cells into projectiles.
const KindFire = "fire"

// Fire proposes a fire action for req.RequesterID. The request is acted on at
// the next Step; the returned reason explains an up-front drop.
func (c *Coordinator) Fire(req request.ActionRequest) (bool, string) {
	if req.Kind == "" {
		req.Kind = KindFire
	}
	return c.requests.Request(req)
}

// handleFire re-derives the ammunition from the terrain and starts a release
// sequence on the requester's launcher. The claimed count is only logged.
func (c *Coordinator) handleFire(ctx context.Context, req request.ActionRequest) (request.Sequence, error) {
	slot, ok := c.slots[req.RequesterID]
	if !ok {
		return nil, fmt.Errorf("fire from %q: %w", req.RequesterID, ErrUnknownPlayer)
	}
	if c.resolver.Resolved() {
		return nil, fmt.Errorf("fire from %q: match resolved: %w", req.RequesterID, request.ErrInvalidRequest)
	}
	launcher := c.launcherOf(slot)
	if launcher == nil || launcher.State() != actor.StateReady {
		return nil, fmt.Errorf("fire from %q: launcher not ready: %w", req.RequesterID, request.ErrInvalidRequest)
	}

	ammo := c.terrain.CountOwnedBy(slot.PlayerID)
	_ = slot.OwnedResourceCount.Write(ammo)
	if claimed, ok := intParam(req.Params, "claimed"); ok && claimed != ammo && c.logger != nil {
		c.logger.Printf("[match] fire claim mismatch player=%s claimed=%d owned=%d", slot.PlayerID, claimed, ammo)
	}
	if ammo == 0 {
		return nil, fmt.Errorf("fire from %q: no owned cells: %w", req.RequesterID, request.ErrInvalidRequest)
	}

	heading := c.defaultHeading(slot)
	if dx, okx := floatParam(req.Params, "dirX"); okx {
		dy, _ := floatParam(req.Params, "dirY")
		if d := (geom.Vec2{X: dx, Y: dy}); d.Len() > 0 {
			heading = d
		}
	}
	if err := launcher.Launch(ammo, heading); err != nil {
		return nil, fmt.Errorf("fire from %q: %w: %w", req.RequesterID, request.ErrInvalidRequest, err)
	}
	return &fireSequence{c: c, slot: slot, launcher: launcher, req: req}, nil
}

func (c *Coordinator) defaultHeading(s *Slot) geom.Vec2 {
	if s.Index == 0 {
		return geom.Vec2{X: 1}
	}
	return geom.Vec2{X: -1}
}

// fireSequence releases the launcher's units a few per tick, acquiring one
// pooled projectile per unit. Units the pool cannot serve are counted as
// exhausted and produce nothing.
type fireSequence struct {
	c        *Coordinator
	slot     *Slot
	launcher *actor.Launcher
	req      request.ActionRequest

	produced  int
	exhausted int
	finished  bool
}

func (s *fireSequence) Step(ctx context.Context, tick uint64) bool {
	if s.finished {
		return true
	}
	perTick := s.c.cfg.ReleasePerTick
	if perTick <= 0 {
		perTick = 1
	}
	for i := 0; i < perTick; i++ {
		if !s.launcher.ReleaseNext() {
			break
		}
		s.releaseOne(tick)
	}
	if s.launcher.State() == actor.StateLaunching {
		return false
	}
	s.complete(ctx, tick, false)
	return true
}

func (s *fireSequence) releaseOne(tick uint64) {
	c := s.c
	e, err := c.projectiles.Acquire(s.slot.PlayerID, s.launcher.Position())
	if err != nil {
		s.exhausted++
		return
	}
	e.Tag = KindFire
	e.Data = Projectile{
		Direction: s.launcher.Heading(),
		Speed:     c.cfg.ProjectileSpeed,
		OwnerID:   s.slot.PlayerID,
		Damage:    c.cfg.ProjectileDamage,
		SpawnTick: tick,
	}
	c.projectiles.Spawn(e.Handle)
	s.produced++
}

func (s *fireSequence) Abort(reason string) {
	if s.finished {
		return
	}
	s.launcher.Abort()
	s.complete(context.Background(), s.c.tick, true)
}

func (s *fireSequence) complete(ctx context.Context, tick uint64, aborted bool) {
	s.finished = true
	actorRef := logging.PlayerRef(s.slot.PlayerID)
	if s.exhausted > 0 {
		stats := s.c.projectiles.Stats()
		requests.PoolExhausted(ctx, s.c.publisher, tick, actorRef, requests.PoolExhaustedPayload{
			Pool:    stats.Name,
			Ceiling: stats.Max,
			Missing: s.exhausted,
		})
	}
	requests.SequenceCompleted(ctx, s.c.publisher, tick, actorRef, s.req.ID, requests.SequenceCompletedPayload{
		Kind:      s.req.Kind,
		Produced:  s.produced,
		Exhausted: s.exhausted,
		Aborted:   aborted,
	})
	if s.c.metrics != nil {
		s.c.metrics.Add("match_projectiles_fired_total", uint64(s.produced))
	}
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
