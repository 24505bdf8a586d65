package replication

import (
	"errors"
	"testing"
)

type recordingSink struct {
	changes []Change
}

func (s *recordingSink) RecordChange(c Change) {
	s.changes = append(s.changes, c)
}

func mustRegister[T comparable](t *testing.T, r *Registry, path string, role Role, owner string, initial T) *Value[T] {
	t.Helper()
	v, err := Register(r, path, role, owner, initial)
	if err != nil {
		t.Fatalf("register %s: %v", path, err)
	}
	return v
}

func TestAuthorityWriteNotifiesSubscribersAndSink(t *testing.T) {
	sink := &recordingSink{}
	reg := NewRegistry(Node{PeerID: "host", Authority: true}, sink)
	reg.SetTick(9)
	health := mustRegister(t, reg, "slot/a/health", RoleAuthority, "", 10)

	var seen [][2]int
	health.OnChanged(func(old, new int) {
		seen = append(seen, [2]int{old, new})
	})

	if err := health.Write(7); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if health.Read() != 7 {
		t.Fatalf("expected value 7, got %d", health.Read())
	}
	if len(seen) != 1 || seen[0] != [2]int{10, 7} {
		t.Fatalf("expected one (10,7) notification, got %v", seen)
	}
	if len(sink.changes) != 2 {
		t.Fatalf("expected registration and write recorded, got %d", len(sink.changes))
	}
	change := sink.changes[1]
	if change.Path != "slot/a/health" || change.Seq != 2 || change.Tick != 9 || change.Old != 10 || change.New != 7 {
		t.Fatalf("unexpected change %+v", change)
	}
}

func TestAuthorityRegistrationIsRecorded(t *testing.T) {
	sink := &recordingSink{}
	reg := NewRegistry(Node{PeerID: "host", Authority: true}, sink)
	reg.SetTick(4)
	health := mustRegister(t, reg, "slot/b/coreHealth", RoleAuthority, "", 3)

	if len(sink.changes) != 1 {
		t.Fatalf("expected registration recorded, got %+v", sink.changes)
	}
	announced := sink.changes[0]
	if announced.Path != "slot/b/coreHealth" || announced.Seq != 1 || announced.Tick != 4 || announced.Old != nil || announced.New != 3 {
		t.Fatalf("unexpected registration change %+v", announced)
	}
	if health.Seq() != 1 {
		t.Fatalf("expected value seq 1 after registration, got %d", health.Seq())
	}

	observerReg := NewRegistry(Node{PeerID: "p1"}, sink)
	mustRegister(t, observerReg, "slot/b/coreHealth", RoleAuthority, "", 3)
	ownerReg := NewRegistry(Node{PeerID: "host", Authority: true}, sink)
	mustRegister(t, ownerReg, "slot/p1/aim", RoleOwner, "p1", 0.0)
	if len(sink.changes) != 1 {
		t.Fatalf("expected observer and owner-role registrations to stay local, got %+v", sink.changes)
	}
}

func TestWriteOfSameValueIsSilent(t *testing.T) {
	sink := &recordingSink{}
	reg := NewRegistry(Node{Authority: true}, sink)
	v := mustRegister(t, reg, "x", RoleAuthority, "", "a")
	calls := 0
	v.OnChanged(func(string, string) { calls++ })
	if err := v.Write("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 || len(sink.changes) != 1 || v.Seq() != 1 {
		t.Fatalf("expected no notification for unchanged write, calls=%d changes=%d seq=%d", calls, len(sink.changes), v.Seq())
	}
}

func TestObserverWriteIsRejectedWithoutCorruption(t *testing.T) {
	sink := &recordingSink{}
	reg := NewRegistry(Node{PeerID: "p1"}, sink)
	var violations []Violation
	reg.OnViolation(func(v Violation) { violations = append(violations, v) })
	score := mustRegister(t, reg, "slot/p1/score", RoleAuthority, "", 3)

	err := score.Write(99)
	if !errors.Is(err, ErrAuthorityViolation) {
		t.Fatalf("expected authority violation, got %v", err)
	}
	if score.Read() != 3 || score.Seq() != 0 {
		t.Fatalf("expected local state untouched, got value=%d seq=%d", score.Read(), score.Seq())
	}
	if len(sink.changes) != 0 {
		t.Fatalf("expected no change recorded")
	}
	if len(violations) != 1 || violations[0].Path != "slot/p1/score" {
		t.Fatalf("expected violation report, got %+v", violations)
	}
}

func TestOwnerRoleWrites(t *testing.T) {
	owner := NewRegistry(Node{PeerID: "p1"}, nil)
	aim := mustRegister(t, owner, "slot/p1/aim", RoleOwner, "p1", 0.0)
	if err := aim.Write(1.5); err != nil {
		t.Fatalf("expected owner write to succeed: %v", err)
	}

	authority := NewRegistry(Node{PeerID: "host", Authority: true}, nil)
	mirrored := mustRegister(t, authority, "slot/p1/aim", RoleOwner, "p1", 0.0)
	if err := mirrored.Write(2.0); !errors.Is(err, ErrAuthorityViolation) {
		t.Fatalf("expected authority to be rejected on owner value, got %v", err)
	}
	if err := authority.ApplyRemote(Change{Path: "slot/p1/aim", Seq: 1, New: 1.5}, "p2"); !errors.Is(err, ErrAuthorityViolation) {
		t.Fatalf("expected non-owner remote write rejected, got %v", err)
	}
	if err := authority.ApplyRemote(Change{Path: "slot/p1/aim", Seq: 1, New: 1.5}, "p1"); err != nil {
		t.Fatalf("expected owner remote write accepted: %v", err)
	}
	if mirrored.Read() != 1.5 {
		t.Fatalf("expected mirrored value 1.5, got %v", mirrored.Read())
	}
	// Replayed seq is ignored.
	if err := authority.ApplyRemote(Change{Path: "slot/p1/aim", Seq: 1, New: 9.0}, "p1"); err != nil {
		t.Fatalf("unexpected error on duplicate: %v", err)
	}
	if mirrored.Read() != 1.5 {
		t.Fatalf("expected duplicate remote change to be dropped, got %v", mirrored.Read())
	}
	if err := authority.ApplyRemote(Change{Path: "slot/p1/aim", Seq: 2, New: "bad"}, "p1"); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	reg := NewRegistry(Node{Authority: true}, nil)
	v := mustRegister(t, reg, "x", RoleAuthority, "", 0)
	calls := 0
	cancel := v.OnChanged(func(int, int) { calls++ })
	_ = v.Write(1)
	cancel()
	_ = v.Write(2)
	if calls != 1 {
		t.Fatalf("expected one notification before unsubscribe, got %d", calls)
	}
}

func TestRegisterRejectsDuplicatePath(t *testing.T) {
	reg := NewRegistry(Node{Authority: true}, nil)
	mustRegister(t, reg, "dup", RoleAuthority, "", 1)
	if _, err := Register(reg, "dup", RoleAuthority, "", 2); !errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("expected duplicate path error, got %v", err)
	}
}

func TestEmitAndSnapshot(t *testing.T) {
	sink := &recordingSink{}
	reg := NewRegistry(Node{Authority: true}, sink)
	mustRegister(t, reg, "b", RoleAuthority, "", 2)
	if err := reg.Emit("a/cell", "", "p1"); err != nil {
		t.Fatalf("unexpected emit error: %v", err)
	}
	if err := reg.Emit("a/cell", "p1", "p2"); err != nil {
		t.Fatalf("unexpected emit error: %v", err)
	}
	if len(sink.changes) != 3 || sink.changes[1].Seq != 1 || sink.changes[2].Seq != 2 {
		t.Fatalf("expected two emitted changes with increasing seq, got %+v", sink.changes)
	}
	snap := reg.Snapshot()
	if len(snap) != 2 || snap[0].Path != "a/cell" || snap[0].New != "p2" || snap[1].Path != "b" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	observer := NewRegistry(Node{PeerID: "p1"}, nil)
	if err := observer.Emit("a/cell", "", "p1"); !errors.Is(err, ErrAuthorityViolation) {
		t.Fatalf("expected observer emit rejected, got %v", err)
	}
}

func TestReRegisteredPathContinuesSequence(t *testing.T) {
	sink := &recordingSink{}
	reg := NewRegistry(Node{Authority: true}, sink)
	score := mustRegister(t, reg, "slot/a/score", RoleAuthority, "", 0)
	_ = score.Write(4)
	reg.Unregister("slot/a/score")

	if reg.Has("slot/a/score") {
		t.Fatalf("expected path to be forgotten")
	}
	if len(sink.changes) != 3 {
		t.Fatalf("expected registration, write and removal changes, got %+v", sink.changes)
	}
	removal := sink.changes[2]
	if removal.Seq != 3 || removal.New != nil || removal.Old != 4 {
		t.Fatalf("unexpected removal change %+v", removal)
	}

	again := mustRegister(t, reg, "slot/a/score", RoleAuthority, "", 0)
	announced := sink.changes[len(sink.changes)-1]
	if announced.Seq != 4 || announced.New != 0 {
		t.Fatalf("expected re-registration announced at seq 4, got %+v", announced)
	}
	_ = again.Write(1)
	if got := sink.changes[len(sink.changes)-1].Seq; got != 5 {
		t.Fatalf("expected sequence to continue at 5, got %d", got)
	}
}
