package sim

import "time"

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandJoin    CommandType = "Join"
	CommandLeave   CommandType = "Leave"
	CommandFire    CommandType = "Fire"
	CommandRematch CommandType = "Rematch"
)

// FireCommand carries the client's fire proposal. Claimed is what the client
// believes it can fire; the authority recounts it.
type FireCommand struct {
	Claimed int     `json:"claimed"`
	DirX    float64 `json:"dirX"`
	DirY    float64 `json:"dirY"`
}

// LeaveCommand records why a participant left.
type LeaveCommand struct {
	Reason string `json:"reason"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	OriginTick uint64        `json:"originTick"`
	ActorID    string        `json:"actorId"`
	Type       CommandType   `json:"type"`
	IssuedAt   time.Time     `json:"issuedAt"`
	RequestID  string        `json:"requestId,omitempty"`
	Fire       *FireCommand  `json:"fire,omitempty"`
	Leave      *LeaveCommand `json:"leave,omitempty"`
}
