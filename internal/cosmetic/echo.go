package cosmetic

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"gridclash/internal/geom"
)

const metricEchoDropped = "cosmetic_echo_dropped_total"

// Echo describes a burst of purely visual markers. Observers rebuild the
// markers from Seed, so nothing per marker is ever replicated.
type Echo struct {
	Origin        geom.Vec2 `json:"origin"`
	BaseDirection geom.Vec2 `json:"baseDirection"`
	Count         int       `json:"count"`
	Speed         float64   `json:"speed"`
	// Spread is the total cone angle in radians around BaseDirection.
	Spread float64 `json:"spread"`
	// SpeedJitter scales speed by a factor in [1-SpeedJitter, 1+SpeedJitter].
	SpeedJitter float64 `json:"speedJitter,omitempty"`
	Lifetime    float64 `json:"lifetime"`
	Style       string  `json:"style"`
	Seed        int64   `json:"seed"`
	Tick        uint64  `json:"tick,omitempty"`
}

// Marker is one regenerated particle.
type Marker struct {
	Pos      geom.Vec2 `json:"pos"`
	Velocity geom.Vec2 `json:"velocity"`
	Lifetime float64   `json:"lifetime"`
	Style    string    `json:"style"`
}

// MaxMarkers caps regeneration for a single echo.
const MaxMarkers = 256

// Regenerate expands e into its markers. The same echo always yields the
// same markers on every node.
func Regenerate(e Echo) []Marker {
	count := e.Count
	if count <= 0 {
		return nil
	}
	if count > MaxMarkers {
		count = MaxMarkers
	}
	rng := rand.New(rand.NewSource(e.Seed))
	base := e.BaseDirection.Normalize()
	if base == (geom.Vec2{}) {
		base = geom.Vec2{X: 1}
	}
	jitter := math.Max(0, math.Min(e.SpeedJitter, 1))
	markers := make([]Marker, count)
	for i := range markers {
		angle := (rng.Float64() - 0.5) * e.Spread
		speed := e.Speed * (1 + (rng.Float64()*2-1)*jitter)
		lifetime := e.Lifetime * (0.75 + rng.Float64()*0.5)
		markers[i] = Marker{
			Pos:      e.Origin,
			Velocity: base.Rotate(angle).Scale(speed),
			Lifetime: lifetime,
			Style:    e.Style,
		}
	}
	return markers
}

// Metrics is the subset of telemetry the channel reports into.
type Metrics interface {
	Add(key string, delta uint64)
}

// Channel fans echoes out to subscribers without ever blocking the sender.
// A subscriber whose buffer is full misses the echo.
type Channel struct {
	mu      sync.RWMutex
	subs    map[int]chan Echo
	next    int
	dropped atomic.Uint64
	metrics Metrics
}

func NewChannel(metrics Metrics) *Channel {
	return &Channel{subs: make(map[int]chan Echo), metrics: metrics}
}

// Subscribe returns a receive channel and a cancel function that closes it.
func (c *Channel) Subscribe(buffer int) (<-chan Echo, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Echo, buffer)
	c.mu.Lock()
	c.next++
	id := c.next
	c.subs[id] = ch
	c.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast offers e to every subscriber and returns how many accepted it.
func (c *Channel) Broadcast(e Echo) int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	delivered := 0
	for _, ch := range c.subs {
		select {
		case ch <- e:
			delivered++
		default:
			c.dropped.Add(1)
			if c.metrics != nil {
				c.metrics.Add(metricEchoDropped, 1)
			}
		}
	}
	return delivered
}

// Dropped reports how many deliveries were skipped.
func (c *Channel) Dropped() uint64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}
