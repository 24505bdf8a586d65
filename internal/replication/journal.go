package replication

import "sync"

const (
	metricJournalDuplicateSpawn = "journal_duplicate_spawn_total"
	metricJournalUnknownDespawn = "journal_unknown_despawn_total"
	metricJournalChanges        = "journal_changes_total"
)

// Metrics is the subset of telemetry the journal reports into.
type Metrics interface {
	Add(key string, delta uint64)
}

// EntityEvent announces that a pooled entity became visible or went away.
// ID is stable for the lifetime of one activation and never reused.
type EntityEvent struct {
	ID     string  `json:"id"`
	Kind   string  `json:"kind"`
	Owner  string  `json:"owner,omitempty"`
	Tick   uint64  `json:"tick"`
	Seq    uint64  `json:"seq"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	DirX   float64 `json:"dirX,omitempty"`
	DirY   float64 `json:"dirY,omitempty"`
	Speed  float64 `json:"speed,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// Broadcast is a one-shot message such as the match outcome.
type Broadcast struct {
	Kind    string `json:"kind"`
	Tick    uint64 `json:"tick"`
	Payload any    `json:"payload"`
}

// Frame is everything recorded during one authority tick, in record order
// within each list.
type Frame struct {
	Tick       uint64        `json:"tick"`
	Changes    []Change      `json:"changes,omitempty"`
	Spawns     []EntityEvent `json:"spawns,omitempty"`
	Despawns   []EntityEvent `json:"despawns,omitempty"`
	Broadcasts []Broadcast   `json:"broadcasts,omitempty"`
}

// Empty reports whether the frame carries nothing worth sending.
func (f Frame) Empty() bool {
	return len(f.Changes) == 0 && len(f.Spawns) == 0 && len(f.Despawns) == 0 && len(f.Broadcasts) == 0
}

// Journal accumulates the replicated output of a tick until the transport
// drains it. A spawn is recorded at most once per activation and a despawn
// only for a live entity, so observers see creation exactly once.
type Journal struct {
	mu         sync.Mutex
	tick       uint64
	changes    []Change
	spawns     []EntityEvent
	despawns   []EntityEvent
	broadcasts []Broadcast
	live       map[string]EntityEvent
	// seq holds live ids only; an id is dropped once its despawn is recorded.
	seq     map[string]uint64
	metrics Metrics
}

func NewJournal(metrics Metrics) *Journal {
	return &Journal{
		live:    make(map[string]EntityEvent),
		seq:     make(map[string]uint64),
		metrics: metrics,
	}
}

// SetTick stamps subsequent entity events and broadcasts.
func (j *Journal) SetTick(tick uint64) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.tick = tick
	j.mu.Unlock()
}

// RecordChange implements Sink.
func (j *Journal) RecordChange(change Change) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.changes = append(j.changes, change)
	j.mu.Unlock()
	j.add(metricJournalChanges, 1)
}

// RecordSpawn stores a spawn envelope and returns it with its sequence
// assigned. A second spawn for a live id is dropped and reported false.
func (j *Journal) RecordSpawn(event EntityEvent) (EntityEvent, bool) {
	if j == nil || event.ID == "" {
		return EntityEvent{}, false
	}
	j.mu.Lock()
	if _, exists := j.live[event.ID]; exists {
		j.mu.Unlock()
		j.add(metricJournalDuplicateSpawn, 1)
		return EntityEvent{}, false
	}
	j.seq[event.ID]++
	event.Seq = j.seq[event.ID]
	event.Tick = j.tick
	j.live[event.ID] = event
	j.spawns = append(j.spawns, event)
	j.mu.Unlock()
	return event, true
}

// RecordDespawn stores a despawn envelope for a live id. Unknown or already
// despawned ids are dropped and reported false.
func (j *Journal) RecordDespawn(id, reason string) (EntityEvent, bool) {
	if j == nil || id == "" {
		return EntityEvent{}, false
	}
	j.mu.Lock()
	spawned, exists := j.live[id]
	if !exists {
		j.mu.Unlock()
		j.add(metricJournalUnknownDespawn, 1)
		return EntityEvent{}, false
	}
	delete(j.live, id)
	j.seq[id]++
	event := EntityEvent{ID: id, Kind: spawned.Kind, Owner: spawned.Owner, Tick: j.tick, Seq: j.seq[id], Reason: reason}
	delete(j.seq, id)
	j.despawns = append(j.despawns, event)
	j.mu.Unlock()
	return event, true
}

// RecordBroadcast appends a one-shot message to the frame.
func (j *Journal) RecordBroadcast(kind string, payload any) {
	if j == nil || kind == "" {
		return
	}
	j.mu.Lock()
	j.broadcasts = append(j.broadcasts, Broadcast{Kind: kind, Tick: j.tick, Payload: payload})
	j.mu.Unlock()
}

// Drain returns the accumulated frame and resets the buffers.
func (j *Journal) Drain() Frame {
	if j == nil {
		return Frame{}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	frame := Frame{
		Tick:       j.tick,
		Changes:    j.changes,
		Spawns:     j.spawns,
		Despawns:   j.despawns,
		Broadcasts: j.broadcasts,
	}
	j.changes = nil
	j.spawns = nil
	j.despawns = nil
	j.broadcasts = nil
	return frame
}

// Live lists the currently spawned entities for late-joining observers.
func (j *Journal) Live() []EntityEvent {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]EntityEvent, 0, len(j.live))
	for _, event := range j.live {
		out = append(out, event)
	}
	return out
}

func (j *Journal) add(key string, delta uint64) {
	if j.metrics == nil {
		return
	}
	j.metrics.Add(key, delta)
}
