package proto

import (
	"encoding/json"
	"fmt"

	"gridclash/internal/cosmetic"
	"gridclash/internal/outcome"
	"gridclash/internal/replication"
	"gridclash/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	typeCommandAck    = "commandAck"
	typeCommandReject = "commandReject"
	typeHeartbeat     = "heartbeat"
)

// Client message type identifiers.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeFire      = "fire"
	TypeRematch   = "rematch"
	TypeHeartbeat = typeHeartbeat
)

// Server message type identifiers.
const (
	TypeSnapshot      = "snapshot"
	TypeFrame         = "frame"
	TypeCosmeticEcho  = "cosmeticEcho"
	TypeCommandAck    = typeCommandAck
	TypeCommandReject = typeCommandReject
)

// ClientMessage captures an inbound websocket message from a participant.
type ClientMessage struct {
	Ver     int     `json:"ver,omitempty"`
	Type    string  `json:"type" jsonschema:"enum=join,enum=leave,enum=fire,enum=rematch,enum=heartbeat"`
	Seq     uint64  `json:"seq,omitempty"`
	Claimed int     `json:"claimed,omitempty"`
	DirX    float64 `json:"dirX,omitempty"`
	DirY    float64 `json:"dirY,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	SentAt  int64   `json:"sentAt,omitempty"`
}

// DecodeClientMessage converts a JSON payload into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	return normalizeClientMessage(msg)
}

func normalizeClientMessage(msg ClientMessage) (ClientMessage, error) {
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// ClientCommand maps a client message onto a simulation command. Origin
// metadata is filled in by the hub.
func ClientCommand(msg ClientMessage) (sim.Command, bool) {
	switch msg.Type {
	case TypeLeave:
		return sim.Command{Type: sim.CommandLeave, Leave: &sim.LeaveCommand{Reason: msg.Reason}}, true
	case TypeFire:
		return sim.Command{
			Type: sim.CommandFire,
			Fire: &sim.FireCommand{Claimed: msg.Claimed, DirX: msg.DirX, DirY: msg.DirY},
		}, true
	case TypeRematch:
		return sim.Command{Type: sim.CommandRematch}, true
	default:
		return sim.Command{}, false
	}
}

// ValueChanged is the wire form of one replicated value change. A null New
// removes the path.
type ValueChanged struct {
	Path string `json:"path"`
	Seq  uint64 `json:"seq"`
	Tick uint64 `json:"tick,omitempty"`
	Old  any    `json:"old,omitempty"`
	New  any    `json:"new"`
}

// ActionRequest is the wire form of a proposal sent to the authority.
type ActionRequest struct {
	RequesterID string         `json:"requesterId"`
	Kind        string         `json:"kind"`
	Params      map[string]any `json:"params,omitempty"`
}

// OutcomeBroadcast announces the committed match result.
type OutcomeBroadcast struct {
	WinnerID string `json:"winnerId"`
	LoserID  string `json:"loserId"`
	Cause    string `json:"cause,omitempty"`
	Tick     uint64 `json:"tick,omitempty"`
}

// FrameMessage carries everything the authority recorded in one tick.
type FrameMessage struct {
	Ver      int                       `json:"ver"`
	Type     string                    `json:"type"`
	Tick     uint64                    `json:"tick"`
	Changes  []ValueChanged            `json:"changes,omitempty"`
	Spawns   []replication.EntityEvent `json:"spawns,omitempty"`
	Despawns []replication.EntityEvent `json:"despawns,omitempty"`
	Outcome  *OutcomeBroadcast         `json:"outcome,omitempty"`
}

// FromFrame renders a journal frame for the wire.
func FromFrame(frame replication.Frame) FrameMessage {
	msg := FrameMessage{
		Ver:      Version,
		Type:     TypeFrame,
		Tick:     frame.Tick,
		Spawns:   frame.Spawns,
		Despawns: frame.Despawns,
	}
	if len(frame.Changes) > 0 {
		msg.Changes = make([]ValueChanged, 0, len(frame.Changes))
		for _, c := range frame.Changes {
			msg.Changes = append(msg.Changes, ValueChanged{Path: c.Path, Seq: c.Seq, Tick: c.Tick, Old: c.Old, New: c.New})
		}
	}
	for _, b := range frame.Broadcasts {
		if b.Kind != outcome.BroadcastKind {
			continue
		}
		if o, ok := b.Payload.(outcome.Outcome); ok {
			msg.Outcome = &OutcomeBroadcast{WinnerID: o.WinnerID, LoserID: o.LoserID, Cause: o.Cause, Tick: o.Tick}
		}
	}
	return msg
}

// Frame converts a decoded wire frame back into journal form for an
// observer mirror.
func (m FrameMessage) Frame() replication.Frame {
	frame := replication.Frame{Tick: m.Tick, Spawns: m.Spawns, Despawns: m.Despawns}
	for _, c := range m.Changes {
		frame.Changes = append(frame.Changes, replication.Change{Path: c.Path, Seq: c.Seq, Tick: c.Tick, Old: c.Old, New: c.New})
	}
	if m.Outcome != nil {
		frame.Broadcasts = append(frame.Broadcasts, replication.Broadcast{
			Kind: outcome.BroadcastKind,
			Tick: m.Outcome.Tick,
			Payload: outcome.Outcome{
				WinnerID:  m.Outcome.WinnerID,
				LoserID:   m.Outcome.LoserID,
				Committed: true,
				Cause:     m.Outcome.Cause,
				Tick:      m.Outcome.Tick,
			},
		})
	}
	return frame
}

// SnapshotMessage brings a newly connected observer up to date.
type SnapshotMessage struct {
	Ver      int                       `json:"ver"`
	Type     string                    `json:"type"`
	PlayerID string                    `json:"playerId"`
	MatchID  string                    `json:"matchId"`
	Tick     uint64                    `json:"tick"`
	Values   []ValueChanged            `json:"values"`
	Entities []replication.EntityEvent `json:"entities"`
	Outcome  *OutcomeBroadcast         `json:"outcome,omitempty"`
}

// NewSnapshot renders the authority state for playerID.
func NewSnapshot(playerID, matchID string, tick uint64, values []replication.Change, entities []replication.EntityEvent, result outcome.Outcome) SnapshotMessage {
	msg := SnapshotMessage{
		Ver:      Version,
		Type:     TypeSnapshot,
		PlayerID: playerID,
		MatchID:  matchID,
		Tick:     tick,
		Values:   make([]ValueChanged, 0, len(values)),
		Entities: entities,
	}
	if msg.Entities == nil {
		msg.Entities = []replication.EntityEvent{}
	}
	for _, c := range values {
		msg.Values = append(msg.Values, ValueChanged{Path: c.Path, Seq: c.Seq, Tick: c.Tick, New: c.New})
	}
	if result.Committed {
		msg.Outcome = &OutcomeBroadcast{WinnerID: result.WinnerID, LoserID: result.LoserID, Cause: result.Cause, Tick: result.Tick}
	}
	return msg
}

// Changes returns the snapshot values in journal form.
func (m SnapshotMessage) Changes() []replication.Change {
	out := make([]replication.Change, 0, len(m.Values))
	for _, v := range m.Values {
		out = append(out, replication.Change{Path: v.Path, Seq: v.Seq, Tick: v.Tick, New: v.New})
	}
	return out
}

// CosmeticEchoMessage carries a best-effort visual burst.
type CosmeticEchoMessage struct {
	Ver  int           `json:"ver"`
	Type string        `json:"type"`
	Echo cosmetic.Echo `json:"echo"`
}

func NewCosmeticEcho(e cosmetic.Echo) CosmeticEchoMessage {
	return CosmeticEchoMessage{Ver: Version, Type: TypeCosmeticEcho, Echo: e}
}

// CommandAck acknowledges a staged command.
type CommandAck struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Tick uint64 `json:"tick,omitempty"`
}

func NewCommandAck(seq, tick uint64) CommandAck {
	return CommandAck{Ver: Version, Type: typeCommandAck, Seq: seq, Tick: tick}
}

// CommandReject tells the requester its command produced nothing. It is
// never sent to other participants.
type CommandReject struct {
	Ver       int    `json:"ver"`
	Type      string `json:"type"`
	Seq       uint64 `json:"seq,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Reason    string `json:"reason"`
	Retry     bool   `json:"retry,omitempty"`
	Tick      uint64 `json:"tick,omitempty"`
}

func NewCommandReject(seq uint64, requestID, reason string, retry bool, tick uint64) CommandReject {
	return CommandReject{Ver: Version, Type: typeCommandReject, Seq: seq, RequestID: requestID, Reason: reason, Retry: retry, Tick: tick}
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}

func NewHeartbeat(serverTime, clientTime int64) Heartbeat {
	return Heartbeat{Ver: Version, Type: typeHeartbeat, ServerTime: serverTime, ClientTime: clientTime}
}

// Envelope peeks at the type of a server message before decoding it fully.
type Envelope struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
}
