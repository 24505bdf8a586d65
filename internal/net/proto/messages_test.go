package proto

import (
	"encoding/json"
	"errors"
	"testing"

	"gridclash/internal/outcome"
	"gridclash/internal/replication"
	"gridclash/internal/sim"
)

func TestDecodeClientMessageDefaultsVersion(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"fire","seq":4,"claimed":7,"dirX":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Ver != Version || msg.Seq != 4 || msg.Claimed != 7 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, err := DecodeClientMessage([]byte(`{"ver":9,"type":"fire"}`)); err == nil {
		t.Fatalf("expected unsupported version to fail")
	}
}

func TestClientCommandMapsMessages(t *testing.T) {
	cmd, ok := ClientCommand(ClientMessage{Type: TypeFire, Claimed: 3, DirX: -1})
	if !ok || cmd.Type != sim.CommandFire || cmd.Fire == nil || cmd.Fire.Claimed != 3 || cmd.Fire.DirX != -1 {
		t.Fatalf("unexpected fire command %+v", cmd)
	}
	cmd, ok = ClientCommand(ClientMessage{Type: TypeLeave, Reason: "quit"})
	if !ok || cmd.Leave == nil || cmd.Leave.Reason != "quit" {
		t.Fatalf("unexpected leave command %+v", cmd)
	}
	if _, ok := ClientCommand(ClientMessage{Type: TypeHeartbeat}); ok {
		t.Fatalf("expected heartbeat not to become a command")
	}
}

func TestFrameMessageRoundTripsOutcome(t *testing.T) {
	frame := replication.Frame{
		Tick: 12,
		Changes: []replication.Change{
			{Path: "slot/b/coreHealth", Seq: 4, Tick: 12, Old: 1, New: 0},
			{Path: "slot/c/score", Seq: 2, Tick: 12, Old: 3},
		},
		Spawns: []replication.EntityEvent{{ID: "projectile:0:1", Kind: "projectile", Owner: "a", Seq: 1}},
		Broadcasts: []replication.Broadcast{
			{Kind: outcome.BroadcastKind, Tick: 12, Payload: outcome.Outcome{WinnerID: "a", LoserID: "b", Committed: true, Tick: 12}},
		},
	}
	msg := FromFrame(frame)
	if msg.Type != TypeFrame || msg.Outcome == nil || msg.Outcome.WinnerID != "a" {
		t.Fatalf("unexpected frame message %+v", msg)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded FrameMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	back := decoded.Frame()
	if len(back.Changes) != 2 || back.Changes[1].New != nil || back.Changes[0].New != float64(0) {
		t.Fatalf("unexpected changes %+v", back.Changes)
	}
	if len(back.Broadcasts) != 1 {
		t.Fatalf("expected outcome broadcast restored")
	}
	if o := back.Broadcasts[0].Payload.(outcome.Outcome); !o.Committed || o.LoserID != "b" {
		t.Fatalf("unexpected outcome %+v", o)
	}
}

func TestProtobufCodecMatchesJSON(t *testing.T) {
	codec, err := CodecByName("protobuf")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	if !codec.Binary() {
		t.Fatalf("expected protobuf to use binary frames")
	}
	msg := NewSnapshot("a", "m-1", 9, []replication.Change{{Path: "match/territory", Seq: 3, New: 0.25}}, nil, outcome.Outcome{})
	data, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded SnapshotMessage
	if err := codec.Decode(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.PlayerID != "a" || decoded.Tick != 9 || len(decoded.Values) != 1 || decoded.Values[0].New != 0.25 {
		t.Fatalf("unexpected snapshot %+v", decoded)
	}

	client, err := DecodeClient(codec, mustEncode(t, codec, ClientMessage{Type: TypeFire, Seq: 2}))
	if err != nil || client.Type != TypeFire || client.Seq != 2 || client.Ver != Version {
		t.Fatalf("unexpected client message %+v err=%v", client, err)
	}
}

func mustEncode(t *testing.T, codec Codec, v any) []byte {
	t.Helper()
	data, err := codec.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestCodecByName(t *testing.T) {
	if c, err := CodecByName(""); err != nil || c.Name() != "json" {
		t.Fatalf("expected json default")
	}
	if _, err := CodecByName("xml"); !errors.Is(err, ErrUnknownCodec) {
		t.Fatalf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestSchemaDescribesProtocol(t *testing.T) {
	schema := Schema()
	data, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	defs, ok := doc["definitions"].(map[string]any)
	if !ok {
		t.Fatalf("expected definitions in schema")
	}
	for _, name := range []string{"ClientMessage", "FrameMessage", "SnapshotMessage"} {
		if _, ok := defs[name]; !ok {
			t.Fatalf("expected %s in schema definitions", name)
		}
	}
}
