package requests

import (
	"context"

	"gridclash/logging"
)

const (
	// EventRequestRejected is emitted when the authority drops an action request.
	EventRequestRejected logging.EventType = "requests.rejected"
	// EventSequenceCompleted is emitted when a multi-tick action finishes or aborts.
	EventSequenceCompleted logging.EventType = "requests.sequence_completed"
	// EventPoolExhausted is emitted when a spawn could not be served by the pool.
	EventPoolExhausted logging.EventType = "requests.pool_exhausted"
)

// RejectedPayload describes why a request produced nothing.
type RejectedPayload struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	Claimed int    `json:"claimed,omitempty"`
}

// SequenceCompletedPayload summarises a finished action sequence.
type SequenceCompletedPayload struct {
	Kind      string `json:"kind"`
	Produced  int    `json:"produced"`
	Exhausted int    `json:"exhausted,omitempty"`
	Aborted   bool   `json:"aborted,omitempty"`
}

// PoolExhaustedPayload reports the pool ceiling that was hit.
type PoolExhaustedPayload struct {
	Pool    string `json:"pool"`
	Ceiling int    `json:"ceiling"`
	Missing int    `json:"missing"`
}

// Rejected publishes a request rejection.
func Rejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, requestID string, payload RejectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:      EventRequestRejected,
		Tick:      tick,
		Actor:     actor,
		Severity:  logging.SeverityInfo,
		Category:  logging.CategoryRequests,
		Payload:   payload,
		RequestID: requestID,
	})
}

// SequenceCompleted publishes the end of an action sequence.
func SequenceCompleted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, requestID string, payload SequenceCompletedPayload) {
	if pub == nil {
		return
	}
	severity := logging.SeverityInfo
	if payload.Aborted {
		severity = logging.SeverityWarn
	}
	pub.Publish(ctx, logging.Event{
		Type:      EventSequenceCompleted,
		Tick:      tick,
		Actor:     actor,
		Severity:  severity,
		Category:  logging.CategoryRequests,
		Payload:   payload,
		RequestID: requestID,
	})
}

// PoolExhausted publishes a warning when spawns were refused at the ceiling.
func PoolExhausted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PoolExhaustedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPoolExhausted,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryRequests,
		Payload:  payload,
	})
}
