package replication

import (
	"errors"
	"fmt"
)

// Role names the single side allowed to write a value.
type Role uint8

const (
	// RoleAuthority values are written by the authoritative simulation only.
	RoleAuthority Role = iota
	// RoleOwner values are written by the peer that owns them.
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleAuthority:
		return "authority"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

var (
	// ErrAuthorityViolation is returned when a write comes from a side that
	// does not hold the value's writer role. Local state is left untouched.
	ErrAuthorityViolation = errors.New("authority violation")
	// ErrDuplicatePath is returned when registering a path twice.
	ErrDuplicatePath = errors.New("duplicate replicated path")
	// ErrUnknownPath is returned for remote changes addressed to no value.
	ErrUnknownPath = errors.New("unknown replicated path")
	// ErrTypeMismatch is returned when a remote change carries the wrong type.
	ErrTypeMismatch = errors.New("replicated value type mismatch")
)

// Node identifies the local side of the replication boundary.
type Node struct {
	PeerID    string
	Authority bool
}

// CanWrite reports whether this node holds the writer role.
func (n Node) CanWrite(role Role, owner string) bool {
	switch role {
	case RoleAuthority:
		return n.Authority
	case RoleOwner:
		return owner != "" && n.PeerID == owner
	default:
		return false
	}
}

// Change is the ValueChanged notification carried to observers. Seq is
// monotonic per path; nothing orders changes across paths.
type Change struct {
	Path string `json:"path"`
	Seq  uint64 `json:"seq"`
	Tick uint64 `json:"tick"`
	Old  any    `json:"old"`
	New  any    `json:"new"`
}

type subscriber[T comparable] struct {
	id int
	fn func(old, new T)
}

// Value is a single replicated field with a declared writer role. Every side
// may read it; only the writer side may mutate it.
type Value[T comparable] struct {
	registry *Registry
	path     string
	role     Role
	owner    string
	value    T
	seq      uint64
	subs     []subscriber[T]
	nextSub  int
}

func (v *Value[T]) Path() string {
	if v == nil {
		return ""
	}
	return v.path
}

func (v *Value[T]) Role() Role {
	if v == nil {
		return RoleAuthority
	}
	return v.role
}

func (v *Value[T]) Owner() string {
	if v == nil {
		return ""
	}
	return v.owner
}

// Seq is the sequence of the last accepted change. On the authority the
// registration of an authority-role value is the first change.
func (v *Value[T]) Seq() uint64 {
	if v == nil {
		return 0
	}
	return v.seq
}

// Read returns the current value. Legal on every side.
func (v *Value[T]) Read() T {
	var zero T
	if v == nil {
		return zero
	}
	return v.value
}

// Write stores next if the local node holds the writer role. Unchanged values
// are accepted without notification.
func (v *Value[T]) Write(next T) error {
	if v == nil {
		return fmt.Errorf("write nil value: %w", ErrUnknownPath)
	}
	node := v.registry.node
	if !node.CanWrite(v.role, v.owner) {
		v.registry.reportViolation(v.path, v.role, node)
		return fmt.Errorf("write %s as %s from %q: %w", v.path, v.role, node.PeerID, ErrAuthorityViolation)
	}
	v.set(next, v.seq+1)
	return nil
}

// OnChanged registers fn for every accepted change. The returned function
// removes the subscription.
func (v *Value[T]) OnChanged(fn func(old, new T)) func() {
	if v == nil || fn == nil {
		return func() {}
	}
	v.nextSub++
	id := v.nextSub
	v.subs = append(v.subs, subscriber[T]{id: id, fn: fn})
	return func() {
		for i, sub := range v.subs {
			if sub.id == id {
				v.subs = append(v.subs[:i:i], v.subs[i+1:]...)
				return
			}
		}
	}
}

func (v *Value[T]) set(next T, seq uint64) {
	old := v.value
	if old == next {
		return
	}
	v.value = next
	v.seq = seq
	change := Change{Path: v.path, Seq: seq, Tick: v.registry.currentTick(), Old: old, New: next}
	subs := append([]subscriber[T](nil), v.subs...)
	for _, sub := range subs {
		sub.fn(old, next)
	}
	v.registry.record(change)
}

func (v *Value[T]) snapshot() Change {
	return Change{Path: v.path, Seq: v.seq, Tick: v.registry.currentTick(), New: v.value}
}

func (v *Value[T]) applyRemote(change Change, from string) error {
	if v.role != RoleOwner || from == "" || from != v.owner {
		v.registry.reportViolation(v.path, v.role, Node{PeerID: from})
		return fmt.Errorf("remote write %s from %q: %w", v.path, from, ErrAuthorityViolation)
	}
	if change.Seq != 0 && change.Seq <= v.seq {
		return nil
	}
	next, ok := change.New.(T)
	if !ok {
		return fmt.Errorf("remote write %s: %w", v.path, ErrTypeMismatch)
	}
	seq := change.Seq
	if seq == 0 {
		seq = v.seq + 1
	}
	v.set(next, seq)
	return nil
}
