package pool

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gridclash/internal/geom"
)

// ErrPoolExhausted is returned by Acquire when no entity is available and
// the pool already holds its configured ceiling.
var ErrPoolExhausted = errors.New("pool exhausted")

// Handle addresses one activation of a pooled entity. The generation changes
// on every release, so a handle kept past its release never matches again.
type Handle struct {
	Index uint32 `json:"index"`
	Gen   uint32 `json:"gen"`
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.Gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.Index, h.Gen)
}

// ParseHandle reverses String.
func ParseHandle(raw string) (Handle, bool) {
	idx, gen, ok := strings.Cut(raw, ":")
	if !ok {
		return Handle{}, false
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Handle{}, false
	}
	g, err := strconv.ParseUint(gen, 10, 32)
	if err != nil || g == 0 {
		return Handle{}, false
	}
	return Handle{Index: uint32(i), Gen: uint32(g)}, true
}

// Phase is the lifecycle position of a pool slot.
type Phase uint8

const (
	// PhaseAvailable slots sit on the free list.
	PhaseAvailable Phase = iota
	// PhaseAcquired slots are active but not yet visible to observers.
	PhaseAcquired
	// PhaseSpawned slots are active and announced to observers.
	PhaseSpawned
)

func (p Phase) String() string {
	switch p {
	case PhaseAvailable:
		return "available"
	case PhaseAcquired:
		return "acquired"
	case PhaseSpawned:
		return "spawned"
	default:
		return "unknown"
	}
}

// Entity is the pooled header plus the caller's payload.
type Entity[T any] struct {
	Handle Handle
	Owner  string
	Tag    string
	Pos    geom.Vec2
	Data   T
	phase  Phase
}

// Active reports whether the entity is currently acquired.
func (e *Entity[T]) Active() bool { return e != nil && e.phase != PhaseAvailable }

// Visible reports whether observers have been told about the entity.
func (e *Entity[T]) Visible() bool { return e != nil && e.phase == PhaseSpawned }

// Phase exposes the lifecycle position.
func (e *Entity[T]) Phase() Phase {
	if e == nil {
		return PhaseAvailable
	}
	return e.phase
}

// Metrics is the telemetry subset the pool reports into.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// Hooks observe visibility transitions. OnDespawn runs only for entities
// that were spawned.
type Hooks[T any] struct {
	OnSpawn   func(e *Entity[T])
	OnDespawn func(e *Entity[T], reason string)
}

// Config sizes the pool.
type Config[T any] struct {
	Name     string
	Prewarm  int
	MaxSize  int
	GrowStep int
	// Reset clears transient payload fields on release.
	Reset   func(*T)
	Hooks   Hooks[T]
	Metrics Metrics
}

// Stats is a point-in-time census; Available+Active == Total always holds.
type Stats struct {
	Name      string `json:"name"`
	Available int    `json:"available"`
	Active    int    `json:"active"`
	Total     int    `json:"total"`
	Max       int    `json:"max"`
	Exhausted uint64 `json:"exhausted"`
}

// Pool reuses entities whose creation and destruction are observable
// events. It is driven from the authority tick only and takes no locks.
type Pool[T any] struct {
	cfg       Config[T]
	slots     []*Entity[T]
	free      []uint32
	owned     map[string]map[uint32]struct{}
	active    int
	exhausted uint64
}

// New builds a pool and pre-warms it. MaxSize below Prewarm is raised to it.
func New[T any](cfg Config[T]) *Pool[T] {
	if cfg.Prewarm < 0 {
		cfg.Prewarm = 0
	}
	if cfg.MaxSize < cfg.Prewarm {
		cfg.MaxSize = cfg.Prewarm
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if cfg.GrowStep <= 0 {
		cfg.GrowStep = 64
	}
	if cfg.Name == "" {
		cfg.Name = "entities"
	}
	p := &Pool[T]{
		cfg:   cfg,
		slots: make([]*Entity[T], 0, cfg.Prewarm),
		free:  make([]uint32, 0, cfg.Prewarm),
		owned: make(map[string]map[uint32]struct{}),
	}
	p.grow(cfg.Prewarm)
	p.storeGauges()
	return p
}

// Name returns the configured pool name.
func (p *Pool[T]) Name() string {
	if p == nil {
		return ""
	}
	return p.cfg.Name
}

// Acquire takes an available entity for owner at pos, growing the pool up to
// its ceiling. The entity stays invisible until Spawn.
func (p *Pool[T]) Acquire(owner string, pos geom.Vec2) (*Entity[T], error) {
	if p == nil {
		return nil, fmt.Errorf("acquire from nil pool: %w", ErrPoolExhausted)
	}
	if len(p.free) == 0 {
		room := p.cfg.MaxSize - len(p.slots)
		if room <= 0 {
			p.exhausted++
			p.add("exhausted_total", 1)
			return nil, fmt.Errorf("acquire %s (ceiling %d): %w", p.cfg.Name, p.cfg.MaxSize, ErrPoolExhausted)
		}
		step := p.cfg.GrowStep
		if step > room {
			step = room
		}
		p.grow(step)
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	e := p.slots[idx]
	e.phase = PhaseAcquired
	e.Owner = owner
	e.Pos = pos
	e.Handle = Handle{Index: idx, Gen: e.Handle.Gen}
	p.active++
	if owner != "" {
		set := p.owned[owner]
		if set == nil {
			set = make(map[uint32]struct{})
			p.owned[owner] = set
		}
		set[idx] = struct{}{}
	}
	p.storeGauges()
	return e, nil
}

// Spawn makes an acquired entity visible. It reports false for stale
// handles and for entities that are already visible.
func (p *Pool[T]) Spawn(h Handle) bool {
	e := p.lookup(h)
	if e == nil || e.phase != PhaseAcquired {
		return false
	}
	e.phase = PhaseSpawned
	if p.cfg.Hooks.OnSpawn != nil {
		p.cfg.Hooks.OnSpawn(e)
	}
	return true
}

// Release returns an entity to the free list. Releasing a stale or already
// released handle is a no-op and reports false.
func (p *Pool[T]) Release(h Handle, reason string) bool {
	e := p.lookup(h)
	if e == nil {
		return false
	}
	if e.phase == PhaseSpawned && p.cfg.Hooks.OnDespawn != nil {
		p.cfg.Hooks.OnDespawn(e, reason)
	}
	if set := p.owned[e.Owner]; set != nil {
		delete(set, h.Index)
		if len(set) == 0 {
			delete(p.owned, e.Owner)
		}
	}
	if p.cfg.Reset != nil {
		p.cfg.Reset(&e.Data)
	}
	e.phase = PhaseAvailable
	e.Owner = ""
	e.Tag = ""
	e.Pos = geom.Vec2{}
	e.Handle.Gen = nextGen(e.Handle.Gen)
	p.free = append(p.free, h.Index)
	p.active--
	p.storeGauges()
	return true
}

// ReleaseOwnedBy releases every active entity owned by owner and returns how
// many were released.
func (p *Pool[T]) ReleaseOwnedBy(owner, reason string) int {
	if p == nil || owner == "" {
		return 0
	}
	set := p.owned[owner]
	if len(set) == 0 {
		return 0
	}
	indices := make([]uint32, 0, len(set))
	for idx := range set {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	released := 0
	for _, idx := range indices {
		if p.Release(p.slots[idx].Handle, reason) {
			released++
		}
	}
	return released
}

// Get resolves a live handle.
func (p *Pool[T]) Get(h Handle) (*Entity[T], bool) {
	e := p.lookup(h)
	return e, e != nil
}

// OwnedBy counts the active entities owned by owner.
func (p *Pool[T]) OwnedBy(owner string) int {
	if p == nil {
		return 0
	}
	return len(p.owned[owner])
}

// ForEachActive visits active entities in slot order. fn may release the
// entity it is given.
func (p *Pool[T]) ForEachActive(fn func(e *Entity[T])) {
	if p == nil || fn == nil {
		return
	}
	n := len(p.slots)
	for i := 0; i < n; i++ {
		if e := p.slots[i]; e.phase != PhaseAvailable {
			fn(e)
		}
	}
}

// Stats reports the current census.
func (p *Pool[T]) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return Stats{
		Name:      p.cfg.Name,
		Available: len(p.free),
		Active:    p.active,
		Total:     len(p.slots),
		Max:       p.cfg.MaxSize,
		Exhausted: p.exhausted,
	}
}

func (p *Pool[T]) lookup(h Handle) *Entity[T] {
	if p == nil || h.IsZero() || int(h.Index) >= len(p.slots) {
		return nil
	}
	e := p.slots[h.Index]
	if e.phase == PhaseAvailable || e.Handle.Gen != h.Gen {
		return nil
	}
	return e
}

func (p *Pool[T]) grow(n int) {
	for i := 0; i < n && len(p.slots) < p.cfg.MaxSize; i++ {
		idx := uint32(len(p.slots))
		p.slots = append(p.slots, &Entity[T]{Handle: Handle{Index: idx, Gen: 1}})
		p.free = append(p.free, idx)
	}
	// Pop order hands out low indices first.
	sort.Slice(p.free, func(i, j int) bool { return p.free[i] > p.free[j] })
}

func (p *Pool[T]) storeGauges() {
	if p.cfg.Metrics == nil {
		return
	}
	p.cfg.Metrics.Store("pool_"+p.cfg.Name+"_active", uint64(p.active))
	p.cfg.Metrics.Store("pool_"+p.cfg.Name+"_total", uint64(len(p.slots)))
}

func (p *Pool[T]) add(suffix string, delta uint64) {
	if p.cfg.Metrics == nil {
		return
	}
	p.cfg.Metrics.Add("pool_"+p.cfg.Name+"_"+suffix, delta)
}

func nextGen(gen uint32) uint32 {
	gen++
	if gen == 0 {
		gen = 1
	}
	return gen
}
