package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"gridclash/internal/actor"
	"gridclash/internal/collision"
	"gridclash/internal/cosmetic"
	"gridclash/internal/geom"
	"gridclash/internal/grid"
	"gridclash/internal/outcome"
	"gridclash/internal/pool"
	"gridclash/internal/replication"
	"gridclash/internal/request"
	"gridclash/internal/telemetry"
	"gridclash/logging"
	"gridclash/logging/combat"
	"gridclash/logging/lifecycle"
	matchlog "gridclash/logging/match"
	"gridclash/logging/requests"
)

// MaxSlots is the number of participants a match holds.
const MaxSlots = 2

var (
	// ErrMatchFull is returned by Join when every slot is taken.
	ErrMatchFull = errors.New("match full")
	// ErrUnknownPlayer is returned for player ids without a slot.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrMatchInProgress is returned by Rematch before an outcome exists.
	ErrMatchInProgress = errors.New("match in progress")
)

// Terrain is the cell ownership the coordinator reads and writes.
type Terrain interface {
	GetOwner(id grid.CellID) string
	SetOwner(id grid.CellID, owner string) (string, bool)
	CountOwnedBy(owner string) int
}

// RegionSeeder is implemented by terrains that hand each region an initial
// set of cells.
type RegionSeeder interface {
	SeedRegion(index int, owner string) int
	ClearOwner(owner string) int
}

// Config holds the gameplay tuning of a match.
type Config struct {
	Arena             geom.Rect
	CoreHealth        int
	CoreRadius        float64
	ProjectileDamage  int
	ProjectileSpeed   float64
	ProjectileRadius  float64
	ProjectileTTL     uint64
	ProjectilePrewarm int
	ProjectileCeiling int
	ReleasePerTick    int
	LauncherSpeed     float64
	TerritoryAlpha    float64
	EchoCount         int
}

// DefaultConfig matches the default grid of 32x16 unit cells.
func DefaultConfig() Config {
	return Config{
		Arena:             geom.Rect{Max: geom.Vec2{X: 32, Y: 16}},
		CoreHealth:        10,
		CoreRadius:        1,
		ProjectileDamage:  1,
		ProjectileSpeed:   12,
		ProjectileRadius:  0.2,
		ProjectileTTL:     90,
		ProjectilePrewarm: 500,
		ProjectileCeiling: 3000,
		ReleasePerTick:    8,
		LauncherSpeed:     6,
		TerritoryAlpha:    0.2,
		EchoCount:         12,
	}
}

// Deps are the collaborators a coordinator drives. Registry, Journal,
// Terrain and Resolver are required.
type Deps struct {
	Registry  *replication.Registry
	Journal   *replication.Journal
	Terrain   Terrain
	Resolver  *outcome.Resolver
	Echoes    *cosmetic.Channel
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	RNG       *rand.Rand
	// OnReject is told about every request the authority dropped.
	OnReject func(playerID, requestID, reason string)
}

// Coordinator owns the per-player slots of one match and every pooled
// entity they own. It runs on the authority tick and is not safe for
// concurrent use apart from Fire.
type Coordinator struct {
	cfg       Config
	reg       *replication.Registry
	journal   *replication.Journal
	terrain   Terrain
	resolver  *outcome.Resolver
	echoes    *cosmetic.Channel
	publisher logging.Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	rng       *rand.Rand
	onReject  func(playerID, requestID, reason string)

	projectiles *pool.Pool[Projectile]
	launchers   *pool.Pool[*actor.Launcher]
	requests    *request.Channel
	territory   *Territory

	slots   map[string]*Slot
	tick    uint64
	matchID string
	started bool
}

func NewCoordinator(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Registry == nil || deps.Journal == nil || deps.Terrain == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("new coordinator: registry, journal, terrain and resolver are required")
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.RNG == nil {
		deps.RNG = rand.New(rand.NewSource(1))
	}
	c := &Coordinator{
		cfg:       cfg,
		reg:       deps.Registry,
		journal:   deps.Journal,
		terrain:   deps.Terrain,
		resolver:  deps.Resolver,
		echoes:    deps.Echoes,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		rng:       deps.RNG,
		onReject:  deps.OnReject,
		slots:     make(map[string]*Slot),
	}

	var poolMetrics pool.Metrics
	if deps.Metrics != nil {
		poolMetrics = deps.Metrics
	}
	c.projectiles = pool.New(pool.Config[Projectile]{
		Name:     "projectiles",
		Prewarm:  cfg.ProjectilePrewarm,
		MaxSize:  cfg.ProjectileCeiling,
		GrowStep: 256,
		Reset:    resetProjectile,
		Hooks:    projectileHooks(deps.Journal),
		Metrics:  poolMetrics,
	})
	c.launchers = pool.New(pool.Config[*actor.Launcher]{
		Name:    "launchers",
		Prewarm: MaxSlots,
		MaxSize: MaxSlots,
		Reset:   func(l **actor.Launcher) { *l = nil },
		Hooks: pool.Hooks[*actor.Launcher]{
			OnSpawn: func(e *pool.Entity[*actor.Launcher]) {
				deps.Journal.RecordSpawn(replication.EntityEvent{
					ID:    e.Data.ID(),
					Kind:  string(logging.EntityKindLauncher),
					Owner: e.Owner,
					X:     e.Pos.X,
					Y:     e.Pos.Y,
				})
			},
			OnDespawn: func(e *pool.Entity[*actor.Launcher], reason string) {
				deps.Journal.RecordDespawn(e.Data.ID(), reason)
			},
		},
		Metrics: poolMetrics,
	})

	c.requests = request.NewChannel(deps.Registry.Node(), request.Hooks{OnRejected: c.onRejected})
	c.requests.Handle(KindFire, c.handleFire)

	territory, err := newTerritory(deps.Registry, cfg.TerritoryAlpha)
	if err != nil {
		return nil, fmt.Errorf("new coordinator: %w", err)
	}
	c.territory = territory

	deps.Registry.OnViolation(func(v replication.Violation) {
		matchlog.AuthorityViolation(context.Background(), c.publisher, c.tick, matchlog.AuthorityViolationPayload{
			Path:   v.Path,
			Writer: v.Role.String(),
			Node:   v.Node.PeerID,
		})
	})

	c.matchID = uuid.NewString()
	c.resolver.SetMatchID(c.matchID)
	return c, nil
}

func (c *Coordinator) onRejected(r request.Rejection) {
	claimed, _ := intParam(r.Request.Params, "claimed")
	requests.Rejected(context.Background(), c.publisher, c.tick, logging.PlayerRef(r.Request.RequesterID), r.Request.ID, requests.RejectedPayload{
		Kind:    r.Request.Kind,
		Reason:  r.Reason,
		Claimed: claimed,
	})
	if r.Err != nil && c.logger != nil {
		c.logger.Printf("[match] request %s from %s rejected: %v", r.Request.Kind, r.Request.RequesterID, r.Err)
	}
	if c.onReject != nil {
		c.onReject(r.Request.RequesterID, r.Request.ID, r.Reason)
	}
}

// MatchID identifies the current match; it changes on Rematch.
func (c *Coordinator) MatchID() string { return c.matchID }

// Tick is the last tick passed to BeginTick.
func (c *Coordinator) Tick() uint64 { return c.tick }

// Territory exposes the smoothed share.
func (c *Coordinator) Territory() *Territory { return c.territory }

// Resolver exposes the outcome resolver.
func (c *Coordinator) Resolver() *outcome.Resolver { return c.resolver }

// Projectiles exposes the projectile pool census.
func (c *Coordinator) Projectiles() pool.Stats { return c.projectiles.Stats() }

// BeginTick stamps everything recorded from here on with tick.
func (c *Coordinator) BeginTick(tick uint64) {
	c.tick = tick
	c.reg.SetTick(tick)
	c.journal.SetTick(tick)
	c.resolver.SetTick(tick)
}

// Join gives playerID a slot and a region. Joining twice returns the
// existing slot.
func (c *Coordinator) Join(ctx context.Context, playerID string) (*Slot, error) {
	if playerID == "" {
		return nil, fmt.Errorf("join: empty player id: %w", ErrUnknownPlayer)
	}
	if slot, ok := c.slots[playerID]; ok {
		return slot, nil
	}
	if len(c.slots) >= MaxSlots {
		return nil, fmt.Errorf("join %s: %w", playerID, ErrMatchFull)
	}
	index := c.freeIndex()
	region := c.regionOf(index)
	core := c.coreOf(index, region)

	slot, err := newSlot(c.reg, playerID, index, region, core, c.cfg.CoreHealth)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	seeded := 0
	if seeder, ok := c.terrain.(RegionSeeder); ok {
		seeded = seeder.SeedRegion(index, playerID)
	}

	e, err := c.launchers.Acquire(playerID, core)
	if err != nil {
		c.abandonSlot(slot)
		return nil, fmt.Errorf("join %s: %w", playerID, err)
	}
	launcher, err := actor.New(c.reg, "launcher-"+e.Handle.String(), playerID, actor.Config{Bounds: region, Speed: c.cfg.LauncherSpeed})
	if err == nil {
		err = launcher.Attach(core)
	}
	if err != nil {
		launcher.Teardown()
		c.launchers.Release(e.Handle, ReasonOwnerLeft)
		c.abandonSlot(slot)
		return nil, fmt.Errorf("join %s: %w", playerID, err)
	}
	e.Data = launcher
	c.launchers.Spawn(e.Handle)
	slot.launcher = e.Handle
	slot.joinedTick = c.tick
	_ = slot.OwnedResourceCount.Write(seeded)

	c.slots[playerID] = slot
	c.resolver.Watch(playerID, slot.CoreHealth)
	if len(c.slots) == MaxSlots {
		c.started = true
	}
	c.updateTerritory()

	lifecycle.PlayerJoined(ctx, c.publisher, c.tick, logging.PlayerRef(playerID), lifecycle.PlayerJoinedPayload{
		Region:     index,
		LaunchX:    core.X,
		LaunchY:    core.Y,
		CoreHealth: c.cfg.CoreHealth,
	}, map[string]any{"matchId": c.matchID, "seededCells": seeded})
	if c.metrics != nil {
		c.metrics.Store("match_slots", uint64(len(c.slots)))
	}
	return slot, nil
}

func (c *Coordinator) abandonSlot(slot *Slot) {
	slot.release(c.reg)
	if seeder, ok := c.terrain.(RegionSeeder); ok {
		seeder.ClearOwner(slot.PlayerID)
	}
}

// Leave tears playerID's slot down, releasing every pooled entity it owns
// and aborting its running actions. Leaving a live match forfeits it.
func (c *Coordinator) Leave(ctx context.Context, playerID, reason string) bool {
	slot, ok := c.slots[playerID]
	if !ok {
		return false
	}
	forfeit := false
	if c.started && len(c.slots) == MaxSlots && !c.resolver.Resolved() {
		forfeit = c.resolver.Submit(ctx, outcome.TerminalEvent{LoserID: playerID, Cause: outcome.CauseForfeit, Tick: c.tick})
	}

	aborted := c.requests.Cancel(playerID, ReasonOwnerLeft)
	released := c.projectiles.ReleaseOwnedBy(playerID, ReasonOwnerLeft)
	if launcher := c.launcherOf(slot); launcher != nil {
		launcher.Teardown()
	}
	if c.launchers.Release(slot.launcher, ReasonOwnerLeft) {
		released++
	}
	c.resolver.Unwatch(playerID)
	c.abandonSlot(slot)
	delete(c.slots, playerID)

	if len(c.slots) == 0 {
		c.started = false
		_ = c.resolver.Reset()
		c.matchID = uuid.NewString()
		c.resolver.SetMatchID(c.matchID)
	}
	c.updateTerritory()

	lifecycle.PlayerLeft(ctx, c.publisher, c.tick, logging.PlayerRef(playerID), lifecycle.PlayerLeftPayload{
		Reason:           reason,
		ReleasedEntities: released,
		AbortedSequences: aborted,
		ForfeitSubmitted: forfeit,
	}, map[string]any{"matchId": c.matchID})
	if c.metrics != nil {
		c.metrics.Store("match_slots", uint64(len(c.slots)))
	}
	return true
}

// GetSlot returns the slot of playerID.
func (c *Coordinator) GetSlot(playerID string) (*Slot, bool) {
	slot, ok := c.slots[playerID]
	return slot, ok
}

// AllSlots lists slots by region index.
func (c *Coordinator) AllSlots() []*Slot {
	out := make([]*Slot, 0, len(c.slots))
	for _, s := range c.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Launcher returns the launch actor of playerID.
func (c *Coordinator) Launcher(playerID string) (*actor.Launcher, bool) {
	slot, ok := c.slots[playerID]
	if !ok {
		return nil, false
	}
	l := c.launcherOf(slot)
	return l, l != nil
}

func (c *Coordinator) launcherOf(slot *Slot) *actor.Launcher {
	e, ok := c.launchers.Get(slot.launcher)
	if !ok {
		return nil
	}
	return e.Data
}

func (c *Coordinator) freeIndex() int {
	used := make(map[int]bool, len(c.slots))
	for _, s := range c.slots {
		used[s.Index] = true
	}
	for i := 0; i < MaxSlots; i++ {
		if !used[i] {
			return i
		}
	}
	return len(c.slots)
}

func (c *Coordinator) regionOf(index int) geom.Rect {
	a := c.cfg.Arena
	mid := a.Min.X + a.Width()/2
	if index == 0 {
		return geom.Rect{Min: a.Min, Max: geom.Vec2{X: mid, Y: a.Max.Y}}
	}
	return geom.Rect{Min: geom.Vec2{X: mid, Y: a.Min.Y}, Max: a.Max}
}

// coreOf places the core near the outer edge of the region.
func (c *Coordinator) coreOf(index int, region geom.Rect) geom.Vec2 {
	inset := region.Width() * 0.15
	y := region.Center().Y
	if index == 0 {
		return geom.Vec2{X: region.Min.X + inset, Y: y}
	}
	return geom.Vec2{X: region.Max.X - inset, Y: y}
}

// HandleOverlap applies a projectile hit. Exactly one side must be a live
// projectile; hits on the shooter's own cells or core are ignored. It
// reports whether authority state changed.
func (c *Coordinator) HandleOverlap(ctx context.Context, ov collision.Overlap) bool {
	proj, other := ov.A, ov.B
	if proj.Kind != collision.KindProjectile {
		proj, other = other, proj
	}
	if proj.Kind != collision.KindProjectile || other.Kind == collision.KindProjectile {
		return false
	}
	h, ok := parseProjectileID(proj.ID)
	if !ok {
		return false
	}
	e, ok := c.projectiles.Get(h)
	if !ok || e.Data.Destroying || c.resolver.Resolved() {
		return false
	}
	shooter, ok := c.slots[e.Data.OwnerID]
	if !ok {
		return false
	}
	pos, dir, damage := e.Pos, e.Data.Direction, e.Data.Damage

	switch other.Kind {
	case collision.KindCell:
		cell, ok := grid.ParseCellID(other.ID)
		if !ok || c.terrain.GetOwner(cell) == shooter.PlayerID {
			return false
		}
		prev, changed := c.terrain.SetOwner(cell, shooter.PlayerID)
		if !changed {
			return false
		}
		c.destroyProjectile(h, ReasonImpact)
		_ = shooter.Score.Write(shooter.Score.Read() + 1)
		c.updateTerritory()
		c.echo(pos, dir, "flip")
		combat.CellFlipped(ctx, c.publisher, c.tick, logging.PlayerRef(shooter.PlayerID),
			logging.EntityRef{ID: cell.String(), Kind: logging.EntityKindCell},
			combat.CellFlippedPayload{X: cell.X, Y: cell.Y, PrevOwner: prev})
		return true
	case collision.KindCore:
		target, ok := c.slots[other.ID]
		if !ok || target.PlayerID == shooter.PlayerID {
			return false
		}
		health := target.CoreHealth.Read()
		if health <= 0 {
			return false
		}
		c.destroyProjectile(h, ReasonImpact)
		next := health - damage
		if next < 0 {
			next = 0
		}
		c.echo(pos, dir, "core_hit")
		combat.CoreDamaged(ctx, c.publisher, c.tick, logging.PlayerRef(shooter.PlayerID),
			logging.EntityRef{ID: target.PlayerID, Kind: logging.EntityKindCore},
			combat.CoreDamagedPayload{Amount: health - next, Remaining: next})
		if next == 0 {
			_ = target.IsEliminated.Write(true)
		}
		// The resolver watches core health, so this write may commit the outcome.
		_ = target.CoreHealth.Write(next)
		return true
	default:
		return false
	}
}

func (c *Coordinator) echo(origin, dir geom.Vec2, style string) {
	if c.echoes == nil || c.cfg.EchoCount <= 0 {
		return
	}
	c.echoes.Broadcast(cosmetic.Echo{
		Origin:        origin,
		BaseDirection: dir.Scale(-1),
		Count:         c.cfg.EchoCount,
		Speed:         3,
		Spread:        math.Pi / 2,
		SpeedJitter:   0.3,
		Lifetime:      0.4,
		Style:         style,
		Seed:          c.rng.Int63(),
		Tick:          c.tick,
	})
}

// Step runs one authority tick of the match: requests, projectile motion
// and launcher drift. Overlaps are applied by the caller afterwards.
func (c *Coordinator) Step(ctx context.Context, tick uint64, dt float64) {
	if tick != c.tick {
		c.BeginTick(tick)
	}
	c.requests.Step(ctx, tick)
	c.advanceProjectiles(dt)
	for _, slot := range c.AllSlots() {
		if launcher := c.launcherOf(slot); launcher != nil {
			launcher.Advance(dt)
		}
	}
}

// Settle refreshes derived slot values and takes one territory smoothing
// step. It runs once per tick after overlaps.
func (c *Coordinator) Settle(ctx context.Context) {
	total := 0
	owned := make(map[string]int, len(c.slots))
	for id := range c.slots {
		n := c.terrain.CountOwnedBy(id)
		owned[id] = n
		total += n
	}
	for id, slot := range c.slots {
		_ = slot.OwnedResourceCount.Write(owned[id])
		share := 0.0
		if total > 0 {
			share = float64(owned[id]) / float64(total)
		}
		_ = slot.TerritoryContribution.Write(share)
	}
	c.territory.Step()
	if c.metrics != nil {
		c.metrics.Store("match_requests_running", uint64(c.requests.Running()))
	}
}

func (c *Coordinator) updateTerritory() {
	var s0, s1 int
	for _, slot := range c.slots {
		if slot.Index == 0 {
			s0 = slot.Score.Read()
		} else {
			s1 = slot.Score.Read()
		}
	}
	c.territory.Update(s0, s1)
}

// Rematch starts a new match between the current participants once the
// previous one has an outcome.
func (c *Coordinator) Rematch(ctx context.Context) error {
	if !c.resolver.Resolved() {
		return fmt.Errorf("rematch: %w", ErrMatchInProgress)
	}
	seeder, canSeed := c.terrain.(RegionSeeder)
	for _, slot := range c.AllSlots() {
		c.requests.Cancel(slot.PlayerID, ReasonRematch)
		c.projectiles.ReleaseOwnedBy(slot.PlayerID, ReasonRematch)
		if launcher := c.launcherOf(slot); launcher != nil && launcher.State() == actor.StateMoving {
			_ = launcher.Recover()
		}
		_ = slot.Score.Write(0)
		_ = slot.IsEliminated.Write(false)
		_ = slot.CoreHealth.Write(c.cfg.CoreHealth)
		if canSeed {
			seeder.ClearOwner(slot.PlayerID)
			_ = slot.OwnedResourceCount.Write(seeder.SeedRegion(slot.Index, slot.PlayerID))
		}
	}
	if err := c.resolver.Reset(); err != nil {
		return fmt.Errorf("rematch: %w", err)
	}
	c.matchID = uuid.NewString()
	c.resolver.SetMatchID(c.matchID)
	c.started = len(c.slots) == MaxSlots
	c.updateTerritory()
	if c.logger != nil {
		c.logger.Printf("[match] rematch started match=%s", c.matchID)
	}
	return nil
}

// Snapshot is what a late observer needs before incremental frames.
type Snapshot struct {
	MatchID  string                    `json:"matchId"`
	Tick     uint64                    `json:"tick"`
	Values   []replication.Change      `json:"values"`
	Entities []replication.EntityEvent `json:"entities"`
	Outcome  outcome.Outcome           `json:"outcome"`
}

func (c *Coordinator) Snapshot() Snapshot {
	entities := c.journal.Live()
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return Snapshot{
		MatchID:  c.matchID,
		Tick:     c.tick,
		Values:   c.reg.Snapshot(),
		Entities: entities,
		Outcome:  c.resolver.Outcome(),
	}
}

// Status is the operator view served over HTTP.
type Status struct {
	MatchID         string          `json:"matchId"`
	Tick            uint64          `json:"tick"`
	Started         bool            `json:"started"`
	Slots           []SlotState     `json:"slots"`
	Territory       float64         `json:"territory"`
	Outcome         outcome.Outcome `json:"outcome"`
	Pools           []pool.Stats    `json:"pools"`
	RequestsRunning int             `json:"requestsRunning"`
}

func (c *Coordinator) Status() Status {
	slots := c.AllSlots()
	states := make([]SlotState, 0, len(slots))
	for _, s := range slots {
		st := s.state()
		if l := c.launcherOf(s); l != nil {
			st.LauncherState = l.State().String()
		}
		states = append(states, st)
	}
	return Status{
		MatchID:         c.matchID,
		Tick:            c.tick,
		Started:         c.started,
		Slots:           states,
		Territory:       c.territory.Ratio(),
		Outcome:         c.resolver.Outcome(),
		Pools:           []pool.Stats{c.projectiles.Stats(), c.launchers.Stats()},
		RequestsRunning: c.requests.Running(),
	}
}
