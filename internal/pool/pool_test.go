package pool

import (
	"errors"
	"testing"

	"gridclash/internal/geom"
)

type payload struct {
	Damage     int
	Destroying bool
}

func checkConservation(t *testing.T, p *Pool[payload]) {
	t.Helper()
	stats := p.Stats()
	if stats.Available+stats.Active != stats.Total {
		t.Fatalf("conservation broken: available=%d active=%d total=%d", stats.Available, stats.Active, stats.Total)
	}
	if stats.Total > stats.Max {
		t.Fatalf("total %d exceeds ceiling %d", stats.Total, stats.Max)
	}
}

func TestPoolGrowsToCeilingThenReportsExhaustion(t *testing.T) {
	p := New(Config[payload]{Name: "projectiles", Prewarm: 500, MaxSize: 3000, GrowStep: 256})
	if stats := p.Stats(); stats.Total != 500 || stats.Available != 500 {
		t.Fatalf("expected pre-warmed pool of 500, got %+v", stats)
	}

	produced := 0
	exhausted := 0
	for i := 0; i < 4000; i++ {
		_, err := p.Acquire("a", geom.Vec2{})
		switch {
		case err == nil:
			produced++
		case errors.Is(err, ErrPoolExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if produced != 3000 || exhausted != 1000 {
		t.Fatalf("expected 3000 produced and 1000 exhausted, got %d/%d", produced, exhausted)
	}
	stats := p.Stats()
	if stats.Total != 3000 || stats.Active != 3000 || stats.Exhausted != 1000 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	checkConservation(t, p)
}

func TestReleaseIsIdempotentAndClearsTransientFields(t *testing.T) {
	p := New(Config[payload]{
		Prewarm: 2,
		MaxSize: 2,
		Reset:   func(d *payload) { *d = payload{} },
	})
	e, err := p.Acquire("a", geom.Vec2{X: 1, Y: 2})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	e.Data.Damage = 5
	e.Data.Destroying = true
	h := e.Handle

	if !p.Release(h, "impact") {
		t.Fatalf("expected first release to succeed")
	}
	before := p.Stats()
	if p.Release(h, "impact") {
		t.Fatalf("expected double release to be a no-op")
	}
	if after := p.Stats(); after != before {
		t.Fatalf("double release changed stats: %+v -> %+v", before, after)
	}
	checkConservation(t, p)

	again, err := p.Acquire("b", geom.Vec2{})
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	if again.Data.Damage != 0 || again.Data.Destroying {
		t.Fatalf("expected transient fields cleared, got %+v", again.Data)
	}
	if again.Handle == h {
		t.Fatalf("expected a new generation for the reacquired slot")
	}
	if p.Release(h, "late") {
		t.Fatalf("expected stale handle release to be ignored")
	}
	if !again.Active() {
		t.Fatalf("stale release must not deactivate the new activation")
	}
}

func TestSpawnIsObservedExactlyOnce(t *testing.T) {
	var spawns, despawns []string
	p := New(Config[payload]{
		Prewarm: 1,
		MaxSize: 4,
		Hooks: Hooks[payload]{
			OnSpawn:   func(e *Entity[payload]) { spawns = append(spawns, e.Handle.String()) },
			OnDespawn: func(e *Entity[payload], reason string) { despawns = append(despawns, reason) },
		},
	})
	e, _ := p.Acquire("a", geom.Vec2{})
	if e.Visible() {
		t.Fatalf("acquired entity must start invisible")
	}
	if !p.Spawn(e.Handle) {
		t.Fatalf("expected spawn to succeed")
	}
	if p.Spawn(e.Handle) {
		t.Fatalf("expected second spawn to be refused")
	}
	if len(spawns) != 1 {
		t.Fatalf("expected one spawn notification, got %v", spawns)
	}

	hidden, _ := p.Acquire("a", geom.Vec2{})
	p.Release(hidden.Handle, "cancelled")
	p.Release(e.Handle, "expired")
	if len(despawns) != 1 || despawns[0] != "expired" {
		t.Fatalf("expected despawn only for the visible entity, got %v", despawns)
	}
}

func TestReleaseOwnedByTearsDownOnlyThatOwner(t *testing.T) {
	p := New(Config[payload]{Prewarm: 8, MaxSize: 8})
	for i := 0; i < 3; i++ {
		e, _ := p.Acquire("a", geom.Vec2{})
		p.Spawn(e.Handle)
	}
	keep, _ := p.Acquire("b", geom.Vec2{})

	if got := p.ReleaseOwnedBy("a", "owner_left"); got != 3 {
		t.Fatalf("expected 3 released, got %d", got)
	}
	if p.OwnedBy("a") != 0 {
		t.Fatalf("expected no entity left for a")
	}
	if !keep.Active() || p.OwnedBy("b") != 1 {
		t.Fatalf("expected b's entity untouched")
	}
	active := 0
	p.ForEachActive(func(e *Entity[payload]) {
		if e.Owner == "" {
			t.Fatalf("active entity without owner: %+v", e.Handle)
		}
		active++
	})
	if active != 1 {
		t.Fatalf("expected one active entity, got %d", active)
	}
	checkConservation(t, p)
}

func TestForEachActiveAllowsRelease(t *testing.T) {
	p := New(Config[payload]{Prewarm: 4, MaxSize: 4})
	for i := 0; i < 4; i++ {
		p.Acquire("a", geom.Vec2{})
	}
	p.ForEachActive(func(e *Entity[payload]) {
		p.Release(e.Handle, "sweep")
	})
	if stats := p.Stats(); stats.Active != 0 || stats.Available != 4 {
		t.Fatalf("expected all released, got %+v", stats)
	}
}

type gaugeMetrics struct {
	stored map[string]uint64
	added  map[string]uint64
}

func (m *gaugeMetrics) Add(key string, delta uint64)   { m.added[key] += delta }
func (m *gaugeMetrics) Store(key string, value uint64) { m.stored[key] = value }

func TestPoolReportsGauges(t *testing.T) {
	metrics := &gaugeMetrics{stored: map[string]uint64{}, added: map[string]uint64{}}
	p := New(Config[payload]{Name: "shots", Prewarm: 1, MaxSize: 1, Metrics: metrics})
	p.Acquire("a", geom.Vec2{})
	p.Acquire("a", geom.Vec2{})
	if metrics.stored["pool_shots_active"] != 1 || metrics.stored["pool_shots_total"] != 1 {
		t.Fatalf("unexpected gauges %+v", metrics.stored)
	}
	if metrics.added["pool_shots_exhausted_total"] != 1 {
		t.Fatalf("expected exhaustion counter, got %+v", metrics.added)
	}
}

func TestParseHandleRoundTrip(t *testing.T) {
	h := Handle{Index: 12, Gen: 3}
	got, ok := ParseHandle(h.String())
	if !ok || got != h {
		t.Fatalf("expected %v back, got %v ok=%v", h, got, ok)
	}
	for _, raw := range []string{"", "12", "a:1", "1:0", "1:b"} {
		if _, ok := ParseHandle(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
