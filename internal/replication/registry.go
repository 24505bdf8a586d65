package replication

import (
	"fmt"
	"sort"
)

// Sink receives every accepted change in write order.
type Sink interface {
	RecordChange(Change)
}

// Violation describes a rejected write for reporting.
type Violation struct {
	Path string
	Role Role
	Node Node
}

type entry interface {
	snapshot() Change
	applyRemote(change Change, from string) error
}

type emitted struct {
	seq   uint64
	value any
}

// Registry binds replicated values to the local node and routes their
// changes to a sink. It is not safe for concurrent use; the authority drives
// it from its tick goroutine.
type Registry struct {
	node        Node
	sink        Sink
	tick        uint64
	entries     map[string]entry
	emitted     map[string]emitted
	retired     map[string]uint64
	onViolation func(Violation)
}

func NewRegistry(node Node, sink Sink) *Registry {
	return &Registry{
		node:    node,
		sink:    sink,
		entries: make(map[string]entry),
		emitted: make(map[string]emitted),
		retired: make(map[string]uint64),
	}
}

// Node returns the local identity.
func (r *Registry) Node() Node {
	if r == nil {
		return Node{}
	}
	return r.node
}

// SetTick stamps subsequent changes with tick.
func (r *Registry) SetTick(tick uint64) {
	if r == nil {
		return
	}
	r.tick = tick
}

// OnViolation installs a reporter for rejected writes.
func (r *Registry) OnViolation(fn func(Violation)) {
	if r == nil {
		return
	}
	r.onViolation = fn
}

// Register creates a value at path with the given writer role. owner is only
// meaningful for RoleOwner.
func Register[T comparable](r *Registry, path string, role Role, owner string, initial T) (*Value[T], error) {
	if r == nil {
		return nil, fmt.Errorf("register %s: nil registry", path)
	}
	if _, exists := r.entries[path]; exists {
		return nil, fmt.Errorf("register %s: %w", path, ErrDuplicatePath)
	}
	// A re-registered path continues its sequence so observers that saw the
	// earlier incarnation do not treat the new one as stale.
	v := &Value[T]{registry: r, path: path, role: role, owner: owner, value: initial, seq: r.retired[path]}
	delete(r.retired, path)
	r.entries[path] = v
	// Observers attached before registration learn the initial value here.
	// Owner-role values are announced by their owner.
	if r.node.Authority && role == RoleAuthority {
		v.seq++
		r.record(Change{Path: path, Seq: v.seq, Tick: r.tick, New: initial})
	}
	return v, nil
}

// Unregister forgets path. On the authority the removal is recorded as a
// change with a nil New so observers drop the path too. Existing subscribers
// keep their handle but the value no longer appears in snapshots.
func (r *Registry) Unregister(path string) {
	if r == nil {
		return
	}
	var last Change
	if e, ok := r.entries[path]; ok {
		last = e.snapshot()
	} else if state, ok := r.emitted[path]; ok {
		last = Change{Path: path, Seq: state.seq, New: state.value}
	} else {
		return
	}
	delete(r.entries, path)
	delete(r.emitted, path)
	r.retired[path] = last.Seq + 1
	if r.node.Authority {
		r.record(Change{Path: path, Seq: last.Seq + 1, Tick: r.tick, Old: last.New})
	}
}

// Has reports whether path is registered or has been emitted.
func (r *Registry) Has(path string) bool {
	if r == nil {
		return false
	}
	if _, ok := r.entries[path]; ok {
		return true
	}
	_, ok := r.emitted[path]
	return ok
}

// Emit records a change for state owned by a collaborator rather than a
// Value, such as cell ownership held by the terrain. Only the authority emits.
func (r *Registry) Emit(path string, old, next any) error {
	if r == nil {
		return nil
	}
	if !r.node.Authority {
		r.reportViolation(path, RoleAuthority, r.node)
		return fmt.Errorf("emit %s from %q: %w", path, r.node.PeerID, ErrAuthorityViolation)
	}
	state, ok := r.emitted[path]
	if !ok {
		state.seq = r.retired[path]
		delete(r.retired, path)
	}
	state.seq++
	state.value = next
	r.emitted[path] = state
	r.record(Change{Path: path, Seq: state.seq, Tick: r.tick, Old: old, New: next})
	return nil
}

// ApplyRemote routes a change received from peer from to the addressed value.
func (r *Registry) ApplyRemote(change Change, from string) error {
	if r == nil {
		return nil
	}
	e, ok := r.entries[change.Path]
	if !ok {
		return fmt.Errorf("apply %s: %w", change.Path, ErrUnknownPath)
	}
	return e.applyRemote(change, from)
}

// Snapshot lists the current value of every path, sorted by path, so a late
// observer can be brought up to date before incremental changes.
func (r *Registry) Snapshot() []Change {
	if r == nil {
		return nil
	}
	out := make([]Change, 0, len(r.entries)+len(r.emitted))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	for path, state := range r.emitted {
		out = append(out, Change{Path: path, Seq: state.seq, Tick: r.tick, New: state.value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (r *Registry) currentTick() uint64 {
	if r == nil {
		return 0
	}
	return r.tick
}

func (r *Registry) record(change Change) {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.RecordChange(change)
}

func (r *Registry) reportViolation(path string, role Role, node Node) {
	if r == nil || r.onViolation == nil {
		return
	}
	r.onViolation(Violation{Path: path, Role: role, Node: node})
}
