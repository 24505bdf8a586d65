// Package observer keeps a read-only copy of the authority's replicated state
// on a passive peer. Duplicate, stale and reordered notifications are
// dropped by per-path and per-entity sequence numbers.
package observer

import (
	"encoding/json"
	"sort"
	"sync"

	"gridclash/internal/outcome"
	"gridclash/internal/replication"
)

// TombstoneTicks is how long a despawned id is remembered so a spawn that
// arrives after its despawn is still dropped.
const TombstoneTicks = 300

// Hooks observe accepted state. Callbacks run on the applying goroutine
// after the mirror has been updated.
type Hooks struct {
	OnChange  func(replication.Change)
	OnSpawn   func(replication.EntityEvent)
	OnDespawn func(replication.EntityEvent)
	// OnOutcome fires once per committed outcome.
	OnOutcome func(outcome.Outcome)
}

type valueEntry struct {
	seq   uint64
	tick  uint64
	value any
	live  bool
}

type tombstone struct {
	seq  uint64
	tick uint64
}

// FrameResult counts what ApplyFrame kept and dropped.
type FrameResult struct {
	Applied int
	Dropped int
}

// Mirror is safe for concurrent use.
type Mirror struct {
	mu        sync.RWMutex
	hooks     Hooks
	values    map[string]valueEntry
	entities  map[string]replication.EntityEvent
	entitySeq map[string]uint64
	// tombstones are pruned in despawn order once TombstoneTicks old.
	tombstones map[string]tombstone
	graveyard  []string
	tick       uint64
	outcome    outcome.Outcome
	dropped    uint64
}

func New(hooks Hooks) *Mirror {
	return &Mirror{
		hooks:      hooks,
		values:     make(map[string]valueEntry),
		entities:   make(map[string]replication.EntityEvent),
		entitySeq:  make(map[string]uint64),
		tombstones: make(map[string]tombstone),
	}
}

// ApplySnapshot seeds the mirror for a late joiner. Entries already newer
// than the snapshot are kept.
func (m *Mirror) ApplySnapshot(values []replication.Change, entities []replication.EntityEvent) {
	for _, change := range values {
		m.ApplyChange(change)
	}
	for _, ev := range entities {
		m.ApplySpawn(ev)
	}
}

// ApplyFrame applies one authority frame in the order the authority
// recorded it: changes, spawns, despawns, broadcasts.
func (m *Mirror) ApplyFrame(frame replication.Frame) FrameResult {
	var res FrameResult
	count := func(ok bool) {
		if ok {
			res.Applied++
		} else {
			res.Dropped++
		}
	}
	for _, change := range frame.Changes {
		count(m.ApplyChange(change))
	}
	for _, ev := range frame.Spawns {
		count(m.ApplySpawn(ev))
	}
	for _, ev := range frame.Despawns {
		count(m.ApplyDespawn(ev))
	}
	for _, b := range frame.Broadcasts {
		count(m.ApplyBroadcast(b))
	}
	m.mu.Lock()
	m.advanceLocked(frame.Tick)
	m.mu.Unlock()
	return res
}

// ApplyChange stores change if it is newer than what the mirror holds for
// its path. A nil New removes the path.
func (m *Mirror) ApplyChange(change replication.Change) bool {
	if change.Path == "" {
		return false
	}
	m.mu.Lock()
	current, known := m.values[change.Path]
	if known && change.Seq <= current.seq {
		m.dropped++
		m.mu.Unlock()
		return false
	}
	m.values[change.Path] = valueEntry{seq: change.Seq, tick: change.Tick, value: change.New, live: change.New != nil}
	var committed *outcome.Outcome
	if change.Path == outcome.Path {
		if next, ok := DecodeOutcome(change.New); ok {
			committed = m.setOutcomeLocked(next)
		}
	}
	m.mu.Unlock()

	if m.hooks.OnChange != nil {
		m.hooks.OnChange(change)
	}
	if committed != nil && m.hooks.OnOutcome != nil {
		m.hooks.OnOutcome(*committed)
	}
	return true
}

// ApplySpawn records a newly visible entity. A spawn at or below the last
// sequence seen for its id is a duplicate or arrived after its despawn.
func (m *Mirror) ApplySpawn(ev replication.EntityEvent) bool {
	if ev.ID == "" {
		return false
	}
	m.mu.Lock()
	if ev.Seq != 0 && ev.Seq <= m.lastSeqLocked(ev.ID) {
		m.dropped++
		m.mu.Unlock()
		return false
	}
	if _, live := m.entities[ev.ID]; live && ev.Seq == 0 {
		m.dropped++
		m.mu.Unlock()
		return false
	}
	delete(m.tombstones, ev.ID)
	m.entitySeq[ev.ID] = ev.Seq
	m.entities[ev.ID] = ev
	m.advanceLocked(ev.Tick)
	m.mu.Unlock()
	if m.hooks.OnSpawn != nil {
		m.hooks.OnSpawn(ev)
	}
	return true
}

// ApplyDespawn removes an entity. The sequence is remembered for
// TombstoneTicks so a late spawn for the same id stays dropped.
func (m *Mirror) ApplyDespawn(ev replication.EntityEvent) bool {
	if ev.ID == "" {
		return false
	}
	m.mu.Lock()
	if ev.Seq != 0 && ev.Seq <= m.lastSeqLocked(ev.ID) {
		m.dropped++
		m.mu.Unlock()
		return false
	}
	_, live := m.entities[ev.ID]
	if !live && ev.Seq == 0 {
		m.dropped++
		m.mu.Unlock()
		return false
	}
	delete(m.entitySeq, ev.ID)
	delete(m.entities, ev.ID)
	m.advanceLocked(ev.Tick)
	m.tombstones[ev.ID] = tombstone{seq: ev.Seq, tick: m.tick}
	m.graveyard = append(m.graveyard, ev.ID)
	m.mu.Unlock()
	if m.hooks.OnDespawn != nil {
		m.hooks.OnDespawn(ev)
	}
	return true
}

func (m *Mirror) lastSeqLocked(id string) uint64 {
	if seq, ok := m.entitySeq[id]; ok {
		return seq
	}
	return m.tombstones[id].seq
}

// advanceLocked moves the mirror clock forward and forgets tombstones older
// than TombstoneTicks.
func (m *Mirror) advanceLocked(tick uint64) {
	if tick > m.tick {
		m.tick = tick
	}
	for len(m.graveyard) > 0 {
		id := m.graveyard[0]
		if ts, ok := m.tombstones[id]; ok {
			if ts.tick+TombstoneTicks > m.tick {
				return
			}
			delete(m.tombstones, id)
		}
		m.graveyard = m.graveyard[1:]
	}
}

// ApplyBroadcast handles one-shot messages. Only the outcome broadcast is
// understood; it is a second carrier of the replicated outcome value.
func (m *Mirror) ApplyBroadcast(b replication.Broadcast) bool {
	if b.Kind != outcome.BroadcastKind {
		return false
	}
	next, ok := DecodeOutcome(b.Payload)
	if !ok || !next.Committed {
		return false
	}
	m.mu.Lock()
	committed := m.setOutcomeLocked(next)
	m.mu.Unlock()
	if committed == nil {
		return false
	}
	if m.hooks.OnOutcome != nil {
		m.hooks.OnOutcome(*committed)
	}
	return true
}

// setOutcomeLocked adopts next and returns it when it newly commits.
func (m *Mirror) setOutcomeLocked(next outcome.Outcome) *outcome.Outcome {
	if next == m.outcome {
		return nil
	}
	wasCommitted := m.outcome.Committed
	m.outcome = next
	if next.Committed && !wasCommitted {
		return &next
	}
	return nil
}

// Outcome returns the mirrored outcome and whether it is committed. Winner
// and loser are only meaningful when committed is true.
func (m *Mirror) Outcome() (outcome.Outcome, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.outcome.Committed {
		return outcome.Outcome{}, false
	}
	return m.outcome, true
}

// Value returns the mirrored value at path.
func (m *Mirror) Value(path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.values[path]
	if !ok || !entry.live {
		return nil, false
	}
	return entry.value, true
}

// Int reads a numeric value whether it arrived typed or decoded from JSON.
func (m *Mirror) Int(path string) (int, bool) {
	raw, ok := m.Value(path)
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// Seq is the last accepted sequence for path.
func (m *Mirror) Seq(path string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[path].seq
}

// Paths lists live paths in sorted order.
func (m *Mirror) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.values))
	for path, entry := range m.values {
		if entry.live {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Entity returns a live entity by id.
func (m *Mirror) Entity(id string) (replication.EntityEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.entities[id]
	return ev, ok
}

// Entities lists live entities sorted by id.
func (m *Mirror) Entities() []replication.EntityEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]replication.EntityEvent, 0, len(m.entities))
	for _, ev := range m.entities {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dropped counts notifications discarded as duplicate or stale.
func (m *Mirror) Dropped() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}

// DecodeOutcome accepts the outcome as written in process or as decoded
// from a wire payload.
func DecodeOutcome(raw any) (outcome.Outcome, bool) {
	switch v := raw.(type) {
	case outcome.Outcome:
		return v, true
	case *outcome.Outcome:
		if v == nil {
			return outcome.Outcome{}, false
		}
		return *v, true
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return outcome.Outcome{}, false
		}
		var out outcome.Outcome
		if err := json.Unmarshal(data, &out); err != nil {
			return outcome.Outcome{}, false
		}
		return out, true
	default:
		return outcome.Outcome{}, false
	}
}
