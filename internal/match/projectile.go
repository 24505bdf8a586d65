package match

import (
	"strings"

	"gridclash/internal/collision"
	"gridclash/internal/geom"
	"gridclash/internal/pool"
	"gridclash/internal/replication"
)

const projectileIDPrefix = "projectile:"

const (
	ReasonImpact    = "impact"
	ReasonExpired   = "expired"
	ReasonOwnerLeft = "owner_left"
	ReasonRematch   = "rematch"
)

// Projectile is the payload of a pooled projectile. Once Destroying is set
// the projectile neither moves nor resolves hits.
type Projectile struct {
	Direction  geom.Vec2
	Speed      float64
	OwnerID    string
	Damage     int
	SpawnTick  uint64
	Destroying bool
}

func resetProjectile(p *Projectile) { *p = Projectile{} }

// ProjectileID is the replicated id of one projectile activation.
func ProjectileID(h pool.Handle) string {
	return projectileIDPrefix + h.String()
}

func parseProjectileID(id string) (pool.Handle, bool) {
	raw, ok := strings.CutPrefix(id, projectileIDPrefix)
	if !ok {
		return pool.Handle{}, false
	}
	return pool.ParseHandle(raw)
}

func projectileHooks(journal *replication.Journal) pool.Hooks[Projectile] {
	return pool.Hooks[Projectile]{
		OnSpawn: func(e *pool.Entity[Projectile]) {
			journal.RecordSpawn(replication.EntityEvent{
				ID:    ProjectileID(e.Handle),
				Kind:  string(collision.KindProjectile),
				Owner: e.Owner,
				X:     e.Pos.X,
				Y:     e.Pos.Y,
				DirX:  e.Data.Direction.X,
				DirY:  e.Data.Direction.Y,
				Speed: e.Data.Speed,
			})
		},
		OnDespawn: func(e *pool.Entity[Projectile], reason string) {
			journal.RecordDespawn(ProjectileID(e.Handle), reason)
		},
	}
}

// destroyProjectile tears a projectile down exactly once. A stale handle or
// a projectile already being destroyed is left alone.
func (c *Coordinator) destroyProjectile(h pool.Handle, reason string) bool {
	e, ok := c.projectiles.Get(h)
	if !ok || e.Data.Destroying {
		return false
	}
	e.Data.Destroying = true
	return c.projectiles.Release(h, reason)
}

func (c *Coordinator) advanceProjectiles(dt float64) {
	ttl := c.cfg.ProjectileTTL
	c.projectiles.ForEachActive(func(e *pool.Entity[Projectile]) {
		if e.Data.Destroying {
			return
		}
		e.Pos = e.Pos.Add(e.Data.Direction.Scale(e.Data.Speed * dt))
		expired := ttl > 0 && c.tick-e.Data.SpawnTick >= ttl
		if expired || !c.cfg.Arena.Contains(e.Pos) {
			c.destroyProjectile(e.Handle, ReasonExpired)
		}
	})
}

// Movers lists live projectiles for the collision collaborator.
func (c *Coordinator) Movers() []collision.Body {
	out := make([]collision.Body, 0, c.projectiles.Stats().Active)
	c.projectiles.ForEachActive(func(e *pool.Entity[Projectile]) {
		if e.Data.Destroying || !e.Visible() {
			return
		}
		out = append(out, collision.Body{
			Ref:    collision.Ref{Kind: collision.KindProjectile, ID: ProjectileID(e.Handle), Owner: e.Owner},
			Pos:    e.Pos,
			Radius: c.cfg.ProjectileRadius,
		})
	})
	return out
}

// Targets lists the cores for the collision collaborator.
func (c *Coordinator) Targets() []collision.Body {
	out := make([]collision.Body, 0, len(c.slots))
	for _, s := range c.AllSlots() {
		out = append(out, collision.Body{
			Ref:    collision.Ref{Kind: collision.KindCore, ID: s.PlayerID, Owner: s.PlayerID},
			Pos:    s.Core,
			Radius: c.cfg.CoreRadius,
		})
	}
	return out
}
