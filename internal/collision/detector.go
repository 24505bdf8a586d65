package collision

import (
	"gridclash/internal/geom"
	"gridclash/internal/grid"
)

// Kind tags the participants of an overlap.
type Kind string

const (
	KindProjectile Kind = "projectile"
	KindCell       Kind = "cell"
	KindCore       Kind = "core"
	KindActor      Kind = "actor"
)

// Ref names one participant. Owner is informational; consumers re-read
// ownership from their own state.
type Ref struct {
	Kind  Kind   `json:"kind"`
	ID    string `json:"id"`
	Owner string `json:"owner,omitempty"`
}

// Overlap is the single event this collaborator delivers.
type Overlap struct {
	A Ref `json:"a"`
	B Ref `json:"b"`
}

// Body is a positioned participant. Radius is used for circular targets.
type Body struct {
	Ref    Ref
	Pos    geom.Vec2
	Radius float64
}

// Terrain is the lookup the detector needs from the grid.
type Terrain interface {
	CellAt(p geom.Vec2) (grid.CellID, bool)
	GetOwner(id grid.CellID) string
}

// Detector is a point-in-cell and point-in-circle test over one frame of
// positions. It emits at most one overlap per mover, preferring targets over
// cells.
type Detector struct {
	terrain Terrain
}

func NewDetector(terrain Terrain) *Detector {
	return &Detector{terrain: terrain}
}

// Detect pairs every mover with the first target whose radius it is inside,
// or with the cell under it.
func (d *Detector) Detect(movers []Body, targets []Body) []Overlap {
	if d == nil || len(movers) == 0 {
		return nil
	}
	out := make([]Overlap, 0, len(movers))
	for _, m := range movers {
		if hit, ok := firstTarget(m, targets); ok {
			out = append(out, Overlap{A: m.Ref, B: hit.Ref})
			continue
		}
		if d.terrain == nil {
			continue
		}
		id, ok := d.terrain.CellAt(m.Pos)
		if !ok {
			continue
		}
		out = append(out, Overlap{A: m.Ref, B: Ref{Kind: KindCell, ID: id.String(), Owner: d.terrain.GetOwner(id)}})
	}
	return out
}

func firstTarget(m Body, targets []Body) (Body, bool) {
	for _, t := range targets {
		reach := t.Radius + m.Radius
		if m.Pos.Sub(t.Pos).Len() <= reach {
			return t, true
		}
	}
	return Body{}, false
}
