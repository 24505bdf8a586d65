package actor

import (
	"errors"
	"fmt"

	"gridclash/internal/geom"
	"gridclash/internal/replication"
)

// State is the replicated lifecycle position of a launch actor.
type State uint8

const (
	StateUninitialized State = iota
	StateReady
	StateLaunching
	StateMoving
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateLaunching:
		return "launching"
	case StateMoving:
		return "moving"
	default:
		return "unknown"
	}
}

// ParseState reverses String for values read off the wire.
func ParseState(raw string) (State, bool) {
	for _, s := range []State{StateUninitialized, StateReady, StateLaunching, StateMoving} {
		if s.String() == raw {
			return s, true
		}
	}
	return StateUninitialized, false
}

// ErrInvalidTransition is returned when a transition is requested from a
// state that does not allow it.
var ErrInvalidTransition = errors.New("invalid launcher transition")

// StatePath is the replicated path carrying the state of launcher id.
func StatePath(id string) string {
	return "actor/" + id + "/state"
}

// Config fixes the geometry a launcher is built with.
type Config struct {
	// Bounds is the area the launcher may drift in before it is recovered.
	Bounds geom.Rect
	// Speed is the drift speed after the last unit leaves.
	Speed float64
}

// Launcher releases a fixed number of units one at a time and then drifts
// until it leaves its bounds. Every transition is written to a replicated
// value, so only the authority can drive it; observers copy the value.
type Launcher struct {
	id    string
	owner string
	cfg   Config
	state *replication.Value[State]
	reg   *replication.Registry

	launchPoint geom.Vec2
	pos         geom.Vec2
	heading     geom.Vec2
	vel         geom.Vec2
	assigned    int
	released    int
}

// New registers the launcher's state value at StatePath(id).
func New(reg *replication.Registry, id, owner string, cfg Config) (*Launcher, error) {
	if id == "" {
		return nil, fmt.Errorf("new launcher: empty id")
	}
	state, err := replication.Register(reg, StatePath(id), replication.RoleAuthority, "", StateUninitialized)
	if err != nil {
		return nil, fmt.Errorf("new launcher %s: %w", id, err)
	}
	return &Launcher{id: id, owner: owner, cfg: cfg, state: state, reg: reg}, nil
}

func (l *Launcher) ID() string {
	if l == nil {
		return ""
	}
	return l.id
}

func (l *Launcher) Owner() string {
	if l == nil {
		return ""
	}
	return l.owner
}

// State reads the replicated state.
func (l *Launcher) State() State {
	if l == nil {
		return StateUninitialized
	}
	return l.state.Read()
}

// StateValue exposes the replicated value for subscribers.
func (l *Launcher) StateValue() *replication.Value[State] {
	if l == nil {
		return nil
	}
	return l.state
}

func (l *Launcher) Position() geom.Vec2 {
	if l == nil {
		return geom.Vec2{}
	}
	return l.pos
}

func (l *Launcher) LaunchPoint() geom.Vec2 {
	if l == nil {
		return geom.Vec2{}
	}
	return l.launchPoint
}

// Heading is the direction units leave in during the current launch.
func (l *Launcher) Heading() geom.Vec2 {
	if l == nil {
		return geom.Vec2{}
	}
	return l.heading
}

func (l *Launcher) Assigned() int {
	if l == nil {
		return 0
	}
	return l.assigned
}

func (l *Launcher) Released() int {
	if l == nil {
		return 0
	}
	return l.released
}

// Remaining is the number of assigned units not yet released.
func (l *Launcher) Remaining() int {
	if l == nil {
		return 0
	}
	return l.assigned - l.released
}

// Attach pins the launcher to point and makes it Ready.
func (l *Launcher) Attach(point geom.Vec2) error {
	if l == nil {
		return fmt.Errorf("attach: %w", ErrInvalidTransition)
	}
	if current := l.state.Read(); current != StateUninitialized {
		return fmt.Errorf("attach from %s: %w", current, ErrInvalidTransition)
	}
	if err := l.state.Write(StateReady); err != nil {
		return err
	}
	l.launchPoint = point
	l.pos = point
	return nil
}

// Launch assigns units to release along heading. Only a Ready launcher can
// launch and at least one unit is required.
func (l *Launcher) Launch(units int, heading geom.Vec2) error {
	if l == nil {
		return fmt.Errorf("launch: %w", ErrInvalidTransition)
	}
	if current := l.state.Read(); current != StateReady {
		return fmt.Errorf("launch from %s: %w", current, ErrInvalidTransition)
	}
	if units <= 0 {
		return fmt.Errorf("launch %d units: %w", units, ErrInvalidTransition)
	}
	if err := l.state.Write(StateLaunching); err != nil {
		return err
	}
	l.assigned = units
	l.released = 0
	l.heading = heading.Normalize()
	return nil
}

// ReleaseNext releases one unit. It reports false once every assigned unit
// has left, so fan-out is capped at the assignment. Releasing the last unit
// moves the launcher to Moving.
func (l *Launcher) ReleaseNext() bool {
	if l == nil || l.state.Read() != StateLaunching || l.released >= l.assigned {
		return false
	}
	l.released++
	if l.released == l.assigned {
		l.startMoving()
	}
	return true
}

// Abort ends a launch early, keeping the units already released.
func (l *Launcher) Abort() {
	if l == nil || l.state.Read() != StateLaunching {
		return
	}
	l.assigned = l.released
	l.startMoving()
}

func (l *Launcher) startMoving() {
	if err := l.state.Write(StateMoving); err != nil {
		return
	}
	l.vel = l.heading.Scale(l.cfg.Speed)
}

// Advance drifts a Moving launcher and recovers it once it leaves its
// bounds. It reports whether a recovery happened.
func (l *Launcher) Advance(dt float64) bool {
	if l == nil || l.state.Read() != StateMoving {
		return false
	}
	l.pos = l.pos.Add(l.vel.Scale(dt))
	if l.cfg.Bounds.Contains(l.pos) && l.vel != (geom.Vec2{}) {
		return false
	}
	return l.Recover() == nil
}

// Recover returns a Moving launcher to its launch point.
func (l *Launcher) Recover() error {
	if l == nil {
		return fmt.Errorf("recover: %w", ErrInvalidTransition)
	}
	if current := l.state.Read(); current != StateMoving {
		return fmt.Errorf("recover from %s: %w", current, ErrInvalidTransition)
	}
	if err := l.state.Write(StateReady); err != nil {
		return err
	}
	l.pos = l.launchPoint
	l.vel = geom.Vec2{}
	l.assigned = 0
	l.released = 0
	return nil
}

// Teardown destroys the launcher from any state and retires its replicated
// path.
func (l *Launcher) Teardown() {
	if l == nil {
		return
	}
	_ = l.state.Write(StateUninitialized)
	l.reg.Unregister(StatePath(l.id))
	l.assigned = 0
	l.released = 0
	l.vel = geom.Vec2{}
}
