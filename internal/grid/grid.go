package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gridclash/internal/geom"
	"gridclash/internal/replication"
)

// CellID addresses one cell by column and row.
type CellID struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c CellID) String() string {
	return fmt.Sprintf("%d,%d", c.X, c.Y)
}

// ParseCellID reverses String.
func ParseCellID(raw string) (CellID, bool) {
	xs, ys, ok := strings.Cut(raw, ",")
	if !ok {
		return CellID{}, false
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return CellID{}, false
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return CellID{}, false
	}
	return CellID{X: x, Y: y}, true
}

// Path is the replicated path carrying the owner of the cell.
func (c CellID) Path() string {
	return "cell/" + c.String()
}

// Config sizes the grid.
type Config struct {
	Columns  int
	Rows     int
	CellSize float64
	// SeedColumns is how many columns each region hands its owner on seed,
	// counted from the region's outer edge.
	SeedColumns int
}

// DefaultConfig returns a 32x16 grid of unit cells, 6 columns seeded per side.
func DefaultConfig() Config {
	return Config{Columns: 32, Rows: 16, CellSize: 1, SeedColumns: 6}
}

// Grid is the reference terrain: a rectangle of cells split into two halves,
// each cell owned by a player id or neutral (""). Ownership changes are
// emitted through the registry so observers see them as ordinary values.
type Grid struct {
	cfg    Config
	owners []string
	counts map[string]int
	reg    *replication.Registry
}

func New(cfg Config, reg *replication.Registry) *Grid {
	if cfg.Columns <= 0 {
		cfg.Columns = 1
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 1
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = 1
	}
	return &Grid{
		cfg:    cfg,
		owners: make([]string, cfg.Columns*cfg.Rows),
		counts: make(map[string]int),
		reg:    reg,
	}
}

func (g *Grid) Config() Config { return g.cfg }

// Bounds is the world rectangle covered by the grid.
func (g *Grid) Bounds() geom.Rect {
	return geom.Rect{Max: geom.Vec2{X: float64(g.cfg.Columns) * g.cfg.CellSize, Y: float64(g.cfg.Rows) * g.cfg.CellSize}}
}

// Region returns the world rectangle of half index (0 left, 1 right).
func (g *Grid) Region(index int) geom.Rect {
	b := g.Bounds()
	mid := float64(g.cfg.Columns/2) * g.cfg.CellSize
	if index == 0 {
		return geom.Rect{Min: b.Min, Max: geom.Vec2{X: mid, Y: b.Max.Y}}
	}
	return geom.Rect{Min: geom.Vec2{X: mid, Y: b.Min.Y}, Max: b.Max}
}

func (g *Grid) Contains(id CellID) bool {
	return id.X >= 0 && id.Y >= 0 && id.X < g.cfg.Columns && id.Y < g.cfg.Rows
}

// CellAt maps a world point to the cell under it.
func (g *Grid) CellAt(p geom.Vec2) (CellID, bool) {
	id := CellID{X: int(math.Floor(p.X / g.cfg.CellSize)), Y: int(math.Floor(p.Y / g.cfg.CellSize))}
	return id, g.Contains(id)
}

// CellCenter is the world position at the middle of id.
func (g *Grid) CellCenter(id CellID) geom.Vec2 {
	return geom.Vec2{X: (float64(id.X) + 0.5) * g.cfg.CellSize, Y: (float64(id.Y) + 0.5) * g.cfg.CellSize}
}

// GetOwner returns the owner of id, "" for neutral or out-of-range cells.
func (g *Grid) GetOwner(id CellID) string {
	if !g.Contains(id) {
		return ""
	}
	return g.owners[g.index(id)]
}

// SetOwner assigns id to owner and reports the previous owner and whether
// anything changed.
func (g *Grid) SetOwner(id CellID, owner string) (string, bool) {
	if !g.Contains(id) {
		return "", false
	}
	i := g.index(id)
	prev := g.owners[i]
	if prev == owner {
		return prev, false
	}
	g.owners[i] = owner
	if prev != "" {
		g.counts[prev]--
		if g.counts[prev] == 0 {
			delete(g.counts, prev)
		}
	}
	if owner != "" {
		g.counts[owner]++
	}
	_ = g.reg.Emit(id.Path(), prev, owner)
	return prev, true
}

// CountOwnedBy is the ground-truth cell count for owner.
func (g *Grid) CountOwnedBy(owner string) int {
	if owner == "" {
		return 0
	}
	return g.counts[owner]
}

// SeedRegion hands owner the outer SeedColumns of half index and returns how
// many cells it now holds there.
func (g *Grid) SeedRegion(index int, owner string) int {
	cols := g.cfg.SeedColumns
	half := g.cfg.Columns / 2
	if cols > half {
		cols = half
	}
	seeded := 0
	for dx := 0; dx < cols; dx++ {
		x := dx
		if index != 0 {
			x = g.cfg.Columns - 1 - dx
		}
		for y := 0; y < g.cfg.Rows; y++ {
			g.SetOwner(CellID{X: x, Y: y}, owner)
			seeded++
		}
	}
	return seeded
}

// ClearOwner returns every cell of owner to neutral.
func (g *Grid) ClearOwner(owner string) int {
	if owner == "" {
		return 0
	}
	cleared := 0
	for i, current := range g.owners {
		if current != owner {
			continue
		}
		g.SetOwner(CellID{X: i % g.cfg.Columns, Y: i / g.cfg.Columns}, "")
		cleared++
	}
	return cleared
}

// Owners lists the cell owners row by row.
func (g *Grid) Owners() []string {
	out := make([]string, len(g.owners))
	copy(out, g.owners)
	return out
}

func (g *Grid) index(id CellID) int {
	return id.Y*g.cfg.Columns + id.X
}
