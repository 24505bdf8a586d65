package grid

import (
	"testing"

	"gridclash/internal/geom"
	"gridclash/internal/replication"
)

type changeLog struct{ changes []replication.Change }

func (l *changeLog) RecordChange(c replication.Change) { l.changes = append(l.changes, c) }

func TestSetOwnerTracksCountsAndEmits(t *testing.T) {
	log := &changeLog{}
	g := New(Config{Columns: 4, Rows: 2, CellSize: 1}, replication.NewRegistry(replication.Node{Authority: true}, log))

	if _, changed := g.SetOwner(CellID{X: 1, Y: 1}, "a"); !changed {
		t.Fatalf("expected first assignment to change the cell")
	}
	if _, changed := g.SetOwner(CellID{X: 1, Y: 1}, "a"); changed {
		t.Fatalf("expected repeated assignment to be a no-op")
	}
	prev, _ := g.SetOwner(CellID{X: 1, Y: 1}, "b")
	if prev != "a" {
		t.Fatalf("expected previous owner a, got %q", prev)
	}
	if g.CountOwnedBy("a") != 0 || g.CountOwnedBy("b") != 1 {
		t.Fatalf("unexpected counts a=%d b=%d", g.CountOwnedBy("a"), g.CountOwnedBy("b"))
	}
	if len(log.changes) != 2 || log.changes[1].Path != "cell/1,1" || log.changes[1].New != "b" || log.changes[1].Seq != 2 {
		t.Fatalf("unexpected emitted changes %+v", log.changes)
	}
	if _, changed := g.SetOwner(CellID{X: 9, Y: 0}, "a"); changed {
		t.Fatalf("expected out of range cell to be ignored")
	}
}

func TestSeedRegionUsesOuterColumns(t *testing.T) {
	g := New(Config{Columns: 8, Rows: 3, CellSize: 2, SeedColumns: 2}, replication.NewRegistry(replication.Node{Authority: true}, nil))
	if got := g.SeedRegion(0, "a"); got != 6 {
		t.Fatalf("expected 6 cells seeded, got %d", got)
	}
	g.SeedRegion(1, "b")
	if g.GetOwner(CellID{X: 0, Y: 0}) != "a" || g.GetOwner(CellID{X: 7, Y: 2}) != "b" {
		t.Fatalf("expected outer columns seeded")
	}
	if g.GetOwner(CellID{X: 3, Y: 1}) != "" {
		t.Fatalf("expected middle cells neutral")
	}
	if got := g.ClearOwner("a"); got != 6 || g.CountOwnedBy("a") != 0 {
		t.Fatalf("expected a's cells cleared, got %d", got)
	}
	if r := g.Region(1); r.Min.X != 8 || r.Max.X != 16 {
		t.Fatalf("unexpected right region %+v", r)
	}
}

func TestCellAtMapsWorldPoints(t *testing.T) {
	g := New(Config{Columns: 4, Rows: 4, CellSize: 2}, nil)
	id, ok := g.CellAt(geom.Vec2{X: 5.5, Y: 0.1})
	if !ok || id != (CellID{X: 2, Y: 0}) {
		t.Fatalf("unexpected cell %+v ok=%v", id, ok)
	}
	if _, ok := g.CellAt(geom.Vec2{X: -0.1, Y: 1}); ok {
		t.Fatalf("expected point left of the grid to miss")
	}
	if c := g.CellCenter(CellID{X: 1, Y: 1}); c != (geom.Vec2{X: 3, Y: 3}) {
		t.Fatalf("unexpected center %+v", c)
	}
}

func TestParseCellID(t *testing.T) {
	id, ok := ParseCellID("3,12")
	if !ok || id != (CellID{X: 3, Y: 12}) {
		t.Fatalf("unexpected parse %+v ok=%v", id, ok)
	}
	if _, ok := ParseCellID("3;12"); ok {
		t.Fatalf("expected malformed id rejected")
	}
}
