package proto

import (
	"github.com/invopop/jsonschema"
)

// Protocol lists every message exchanged over the websocket, for schema
// generation only.
type Protocol struct {
	Client        ClientMessage       `json:"client"`
	Snapshot      SnapshotMessage     `json:"snapshot"`
	Frame         FrameMessage        `json:"frame"`
	CosmeticEcho  CosmeticEchoMessage `json:"cosmeticEcho"`
	CommandAck    CommandAck          `json:"commandAck"`
	CommandReject CommandReject       `json:"commandReject"`
	Heartbeat     Heartbeat           `json:"heartbeat"`
	ActionRequest ActionRequest       `json:"actionRequest"`
}

// Schema describes the wire protocol as JSON schema.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(Protocol))
	schema.Title = "gridclash wire protocol"
	schema.Description = "Messages exchanged between the match authority and its observers"
	return schema
}
