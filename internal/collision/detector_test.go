package collision

import (
	"testing"

	"gridclash/internal/geom"
	"gridclash/internal/grid"
)

func TestDetectPrefersTargetsOverCells(t *testing.T) {
	g := grid.New(grid.Config{Columns: 4, Rows: 4, CellSize: 1}, nil)
	g.SetOwner(grid.CellID{X: 1, Y: 1}, "b")
	d := NewDetector(g)

	movers := []Body{
		{Ref: Ref{Kind: KindProjectile, ID: "p1", Owner: "a"}, Pos: geom.Vec2{X: 1.5, Y: 1.5}},
		{Ref: Ref{Kind: KindProjectile, ID: "p2", Owner: "a"}, Pos: geom.Vec2{X: 3.2, Y: 3.2}},
		{Ref: Ref{Kind: KindProjectile, ID: "p3", Owner: "a"}, Pos: geom.Vec2{X: -4, Y: 0}},
	}
	targets := []Body{{Ref: Ref{Kind: KindCore, ID: "b", Owner: "b"}, Pos: geom.Vec2{X: 3.5, Y: 3.5}, Radius: 0.5}}

	overlaps := d.Detect(movers, targets)
	if len(overlaps) != 2 {
		t.Fatalf("expected two overlaps, got %+v", overlaps)
	}
	if overlaps[0].B.Kind != KindCell || overlaps[0].B.ID != "1,1" || overlaps[0].B.Owner != "b" {
		t.Fatalf("unexpected cell overlap %+v", overlaps[0])
	}
	if overlaps[1].A.ID != "p2" || overlaps[1].B.Kind != KindCore {
		t.Fatalf("unexpected core overlap %+v", overlaps[1])
	}
}
