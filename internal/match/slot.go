package match

import (
	"fmt"

	"gridclash/internal/geom"
	"gridclash/internal/pool"
	"gridclash/internal/replication"
)

// Slot is one participant's sub-simulation. Every gameplay field is a
// replicated value written by the coordinator only.
type Slot struct {
	PlayerID string
	Index    int
	Region   geom.Rect
	Core     geom.Vec2

	Score                 *replication.Value[int]
	TerritoryContribution *replication.Value[float64]
	OwnedResourceCount    *replication.Value[int]
	CoreHealth            *replication.Value[int]
	IsEliminated          *replication.Value[bool]

	launcher   pool.Handle
	joinedTick uint64
}

// SlotPath is the replicated path of field for playerID.
func SlotPath(playerID, field string) string {
	return "slot/" + playerID + "/" + field
}

var slotFields = []string{"score", "territoryContribution", "ownedResourceCount", "coreHealth", "isEliminated"}

func newSlot(reg *replication.Registry, playerID string, index int, region geom.Rect, core geom.Vec2, health int) (*Slot, error) {
	s := &Slot{PlayerID: playerID, Index: index, Region: region, Core: core}
	var err error
	if s.Score, err = replication.Register(reg, SlotPath(playerID, "score"), replication.RoleAuthority, "", 0); err != nil {
		return nil, fmt.Errorf("slot %s: %w", playerID, err)
	}
	if s.TerritoryContribution, err = replication.Register(reg, SlotPath(playerID, "territoryContribution"), replication.RoleAuthority, "", 0.0); err != nil {
		s.release(reg)
		return nil, fmt.Errorf("slot %s: %w", playerID, err)
	}
	if s.OwnedResourceCount, err = replication.Register(reg, SlotPath(playerID, "ownedResourceCount"), replication.RoleAuthority, "", 0); err != nil {
		s.release(reg)
		return nil, fmt.Errorf("slot %s: %w", playerID, err)
	}
	if s.CoreHealth, err = replication.Register(reg, SlotPath(playerID, "coreHealth"), replication.RoleAuthority, "", health); err != nil {
		s.release(reg)
		return nil, fmt.Errorf("slot %s: %w", playerID, err)
	}
	if s.IsEliminated, err = replication.Register(reg, SlotPath(playerID, "isEliminated"), replication.RoleAuthority, "", false); err != nil {
		s.release(reg)
		return nil, fmt.Errorf("slot %s: %w", playerID, err)
	}
	return s, nil
}

func (s *Slot) release(reg *replication.Registry) {
	for _, field := range slotFields {
		reg.Unregister(SlotPath(s.PlayerID, field))
	}
}

// Launcher is the pool handle of the slot's launch actor.
func (s *Slot) Launcher() pool.Handle { return s.launcher }

// SlotState is a read-only copy of a slot for status endpoints.
type SlotState struct {
	PlayerID              string  `json:"playerId"`
	Index                 int     `json:"index"`
	Score                 int     `json:"score"`
	TerritoryContribution float64 `json:"territoryContribution"`
	OwnedResourceCount    int     `json:"ownedResourceCount"`
	CoreHealth            int     `json:"coreHealth"`
	IsEliminated          bool    `json:"isEliminated"`
	LauncherState         string  `json:"launcherState,omitempty"`
}

func (s *Slot) state() SlotState {
	return SlotState{
		PlayerID:              s.PlayerID,
		Index:                 s.Index,
		Score:                 s.Score.Read(),
		TerritoryContribution: s.TerritoryContribution.Read(),
		OwnedResourceCount:    s.OwnedResourceCount.Read(),
		CoreHealth:            s.CoreHealth.Read(),
		IsEliminated:          s.IsEliminated.Read(),
	}
}
