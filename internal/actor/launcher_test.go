package actor

import (
	"errors"
	"testing"

	"gridclash/internal/geom"
	"gridclash/internal/replication"
)

func newTestLauncher(t *testing.T, reg *replication.Registry) *Launcher {
	t.Helper()
	l, err := New(reg, "launcher-1", "a", Config{
		Bounds: geom.Rect{Max: geom.Vec2{X: 10, Y: 10}},
		Speed:  4,
	})
	if err != nil {
		t.Fatalf("new launcher: %v", err)
	}
	return l
}

func TestLauncherLifecycle(t *testing.T) {
	reg := replication.NewRegistry(replication.Node{Authority: true}, nil)
	l := newTestLauncher(t, reg)

	var transitions []State
	l.StateValue().OnChanged(func(_, next State) { transitions = append(transitions, next) })

	if err := l.Launch(3, geom.Vec2{X: 1}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected launch before attach to fail, got %v", err)
	}
	if err := l.Attach(geom.Vec2{X: 5, Y: 5}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := l.Launch(3, geom.Vec2{X: 2}); err != nil {
		t.Fatalf("launch: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !l.ReleaseNext() {
			t.Fatalf("expected release %d to succeed", i+1)
		}
	}
	if l.ReleaseNext() {
		t.Fatalf("expected release past the assignment to be a no-op")
	}
	if l.Released() != 3 || l.State() != StateMoving {
		t.Fatalf("expected 3 released and moving, got %d %s", l.Released(), l.State())
	}

	// Speed 4 from x=5 leaves the 10-wide bounds after two seconds.
	if l.Advance(1) {
		t.Fatalf("expected launcher still inside bounds")
	}
	if !l.Advance(1) {
		t.Fatalf("expected recovery once outside bounds")
	}
	if l.State() != StateReady || l.Position() != l.LaunchPoint() {
		t.Fatalf("expected ready at launch point, got %s at %+v", l.State(), l.Position())
	}

	want := []State{StateReady, StateLaunching, StateMoving, StateReady}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, transitions)
		}
	}
}

func TestLauncherAbortKeepsReleasedUnits(t *testing.T) {
	reg := replication.NewRegistry(replication.Node{Authority: true}, nil)
	l := newTestLauncher(t, reg)
	_ = l.Attach(geom.Vec2{X: 1, Y: 1})
	_ = l.Launch(5, geom.Vec2{Y: 1})
	l.ReleaseNext()
	l.ReleaseNext()
	l.Abort()
	if l.State() != StateMoving || l.Assigned() != 2 || l.Remaining() != 0 {
		t.Fatalf("expected moving with assignment trimmed to 2, got %s assigned=%d", l.State(), l.Assigned())
	}
	if l.ReleaseNext() {
		t.Fatalf("expected no release after abort")
	}
}

func TestObserverCannotDriveLauncher(t *testing.T) {
	reg := replication.NewRegistry(replication.Node{PeerID: "a"}, nil)
	l := newTestLauncher(t, reg)
	if err := l.Attach(geom.Vec2{}); !errors.Is(err, replication.ErrAuthorityViolation) {
		t.Fatalf("expected authority violation, got %v", err)
	}
	if l.State() != StateUninitialized {
		t.Fatalf("expected state untouched, got %s", l.State())
	}
}

func TestTeardownRetiresStatePath(t *testing.T) {
	reg := replication.NewRegistry(replication.Node{Authority: true}, nil)
	l := newTestLauncher(t, reg)
	_ = l.Attach(geom.Vec2{})
	_ = l.Launch(2, geom.Vec2{X: 1})
	l.Teardown()
	if reg.Has(StatePath("launcher-1")) {
		t.Fatalf("expected state path unregistered")
	}
	if l.ReleaseNext() {
		t.Fatalf("expected torn down launcher to release nothing")
	}
}

func TestParseStateRoundTrip(t *testing.T) {
	for _, s := range []State{StateUninitialized, StateReady, StateLaunching, StateMoving} {
		got, ok := ParseState(s.String())
		if !ok || got != s {
			t.Fatalf("expected %s to parse back, got %s ok=%v", s, got, ok)
		}
	}
	if _, ok := ParseState("flying"); ok {
		t.Fatalf("expected unknown state to fail")
	}
}
