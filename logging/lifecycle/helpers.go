package lifecycle

import (
	"context"

	"gridclash/logging"
)

const (
	// EventPlayerJoined is emitted when a participant is given a slot.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerLeft is emitted after a participant's slot has been torn down.
	EventPlayerLeft logging.EventType = "lifecycle.player_left"
)

// PlayerJoinedPayload captures the region assigned to a new participant.
type PlayerJoinedPayload struct {
	Region     int     `json:"region"`
	LaunchX    float64 `json:"launchX"`
	LaunchY    float64 `json:"launchY"`
	CoreHealth int     `json:"coreHealth"`
}

// PlayerLeftPayload captures what teardown reclaimed.
type PlayerLeftPayload struct {
	Reason           string `json:"reason"`
	ReleasedEntities int    `json:"releasedEntities"`
	AbortedSequences int    `json:"abortedSequences"`
	ForfeitSubmitted bool   `json:"forfeitSubmitted,omitempty"`
}

// PlayerJoined publishes a join event.
func PlayerJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerJoinedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// PlayerLeft publishes a leave event.
func PlayerLeft(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerLeftPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerLeft,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
