package match

import (
	"math"

	"gridclash/internal/geom"
	"gridclash/internal/replication"
)

// TerritoryPath carries the smoothed share held by the region-1 player.
const TerritoryPath = "match/territory"

const territorySnap = 1e-4

// Territory smooths the score share of the two regions. Each update moves
// the published ratio a fraction alpha toward the raw share, so it never
// jumps and never overshoots.
type Territory struct {
	value *replication.Value[float64]
	alpha float64
	raw   float64
}

func newTerritory(reg *replication.Registry, alpha float64) (*Territory, error) {
	if alpha <= 0 || alpha > 1 || math.IsNaN(alpha) {
		alpha = 0.2
	}
	value, err := replication.Register(reg, TerritoryPath, replication.RoleAuthority, "", 0.5)
	if err != nil {
		return nil, err
	}
	return &Territory{value: value, alpha: alpha, raw: 0.5}, nil
}

// RawShare is the unsmoothed share of s1 in s0+s1, 0.5 when both are zero.
func RawShare(s0, s1 int) float64 {
	if s0 < 0 {
		s0 = 0
	}
	if s1 < 0 {
		s1 = 0
	}
	if s0+s1 == 0 {
		return 0.5
	}
	return float64(s1) / float64(s0+s1)
}

// Update retargets the ratio at the new scores and takes one smoothing step.
func (t *Territory) Update(s0, s1 int) {
	t.raw = RawShare(s0, s1)
	t.Step()
}

// Step moves the ratio one smoothing step toward the current target.
func (t *Territory) Step() {
	current := t.value.Read()
	if current == t.raw {
		return
	}
	next := geom.Lerp(current, t.raw, t.alpha)
	if math.Abs(next-t.raw) < territorySnap {
		next = t.raw
	}
	_ = t.value.Write(geom.Clamp(next, 0, 1))
}

// Ratio is the published smoothed ratio.
func (t *Territory) Ratio() float64 { return t.value.Read() }

// Target is the raw ratio the smoothing converges to.
func (t *Territory) Target() float64 { return t.raw }

// Value exposes the replicated ratio.
func (t *Territory) Value() *replication.Value[float64] { return t.value }
