package request

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gridclash/internal/replication"
	"gridclash/internal/telemetry"
)

const (
	// RejectInFlight drops a request while the same action runs for the requester.
	RejectInFlight = "in_flight"
	// RejectInvalid drops a request the authority could not validate.
	RejectInvalid = "invalid_request"
	// RejectNotAuthority marks a request made on a node that cannot act on it.
	RejectNotAuthority = "not_authority"
	// RejectUnknownKind marks a request no handler is registered for.
	RejectUnknownKind = "unknown_kind"
	// RejectCancelled marks a queued request dropped by Cancel.
	RejectCancelled = "cancelled"
)

// ErrInvalidRequest is returned by handlers when a request references state
// the authority does not recognise. It aborts that request only.
var ErrInvalidRequest = errors.New("invalid request")

// ActionRequest is a proposal from any side. The authority ignores any
// counts the proposal carries and re-derives them from its own state.
type ActionRequest struct {
	ID          string         `json:"id,omitempty"`
	RequesterID string         `json:"requesterId"`
	Kind        string         `json:"kind"`
	Params      map[string]any `json:"params,omitempty"`
	Tick        uint64         `json:"tick,omitempty"`
}

// Sequence is a multi-tick action. Step runs once per authority tick until it
// reports done; Abort ends it early and must release anything it holds.
type Sequence interface {
	Step(ctx context.Context, tick uint64) (done bool)
	Abort(reason string)
}

// Handler validates a request against authority state and starts it. A nil
// Sequence with a nil error means the action completed immediately.
type Handler func(ctx context.Context, req ActionRequest) (Sequence, error)

// Rejection describes a request that produced nothing.
type Rejection struct {
	Request ActionRequest
	Reason  string
	Err     error
}

// Hooks observe the channel. Callbacks run on the goroutine that calls Step,
// except OnRejected for requests refused inside Request.
type Hooks struct {
	OnRejected  func(Rejection)
	OnCompleted func(req ActionRequest, aborted bool)
}

type flightKey struct {
	requester string
	kind      string
}

type flight struct {
	req     ActionRequest
	seq     Sequence
	started uint64
	order   uint64
}

// Channel implements request, validate and execute on the authority. At
// most one request per (requester, kind) is queued or running at a time.
type Channel struct {
	node     replication.Node
	hooks    Hooks
	handlers map[string]Handler

	mu       sync.Mutex
	pending  []ActionRequest
	queued   map[flightKey]struct{}
	inFlight map[flightKey]*flight
	started  uint64
}

func NewChannel(node replication.Node, hooks Hooks) *Channel {
	return &Channel{
		node:     node,
		hooks:    hooks,
		handlers: make(map[string]Handler),
		queued:   make(map[flightKey]struct{}),
		inFlight: make(map[flightKey]*flight),
	}
}

// Handle registers the handler for kind. It must be called before the
// channel is shared.
func (c *Channel) Handle(kind string, h Handler) {
	if c == nil || kind == "" || h == nil {
		return
	}
	c.handlers[kind] = h
}

// Request queues req for the next Step. It reports false with a reason when
// the request is dropped up front.
func (c *Channel) Request(req ActionRequest) (bool, string) {
	if c == nil {
		return false, RejectNotAuthority
	}
	if !c.node.Authority {
		c.reject(Rejection{Request: req, Reason: RejectNotAuthority})
		return false, RejectNotAuthority
	}
	if _, ok := c.handlers[req.Kind]; !ok {
		c.reject(Rejection{Request: req, Reason: RejectUnknownKind})
		return false, RejectUnknownKind
	}
	key := flightKey{requester: req.RequesterID, kind: req.Kind}
	c.mu.Lock()
	_, queued := c.queued[key]
	_, running := c.inFlight[key]
	if queued || running {
		c.mu.Unlock()
		c.reject(Rejection{Request: req, Reason: RejectInFlight})
		return false, RejectInFlight
	}
	c.queued[key] = struct{}{}
	c.pending = append(c.pending, req)
	c.mu.Unlock()
	return true, ""
}

// Step starts queued requests and then advances every running sequence once,
// oldest first. A sequence started this tick is stepped this tick.
func (c *Channel) Step(ctx context.Context, tick uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	for _, req := range pending {
		delete(c.queued, flightKey{requester: req.RequesterID, kind: req.Kind})
	}
	c.mu.Unlock()

	for _, req := range pending {
		c.start(ctx, tick, req)
	}

	for _, f := range c.running() {
		if f.seq.Step(ctx, tick) {
			c.finish(f, false)
		}
	}
}

func (c *Channel) start(ctx context.Context, tick uint64, req ActionRequest) {
	key := flightKey{requester: req.RequesterID, kind: req.Kind}
	c.mu.Lock()
	_, running := c.inFlight[key]
	c.mu.Unlock()
	if running {
		c.reject(Rejection{Request: req, Reason: RejectInFlight})
		return
	}
	handler := c.handlers[req.Kind]
	if req.Tick == 0 {
		req.Tick = tick
	}
	ctx, span := telemetry.Tracer().Start(ctx, "request.handle", trace.WithAttributes(
		attribute.String("request.kind", req.Kind),
		attribute.String("request.requester", req.RequesterID),
	))
	seq, err := handler(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if err != nil {
		if !errors.Is(err, ErrInvalidRequest) {
			err = fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		c.reject(Rejection{Request: req, Reason: RejectInvalid, Err: err})
		return
	}
	if seq == nil {
		if c.hooks.OnCompleted != nil {
			c.hooks.OnCompleted(req, false)
		}
		return
	}
	c.mu.Lock()
	c.started++
	c.inFlight[key] = &flight{req: req, seq: seq, started: tick, order: c.started}
	c.mu.Unlock()
}

func (c *Channel) running() []*flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*flight, 0, len(c.inFlight))
	for _, f := range c.inFlight {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

func (c *Channel) finish(f *flight, aborted bool) {
	key := flightKey{requester: f.req.RequesterID, kind: f.req.Kind}
	c.mu.Lock()
	if current, ok := c.inFlight[key]; !ok || current != f {
		c.mu.Unlock()
		return
	}
	delete(c.inFlight, key)
	c.mu.Unlock()
	if c.hooks.OnCompleted != nil {
		c.hooks.OnCompleted(f.req, aborted)
	}
}

// Cancel aborts every running sequence of requester and drops its queued
// requests. It returns the number of sequences aborted.
func (c *Channel) Cancel(requester, reason string) int {
	if c == nil || requester == "" {
		return 0
	}
	c.mu.Lock()
	kept := c.pending[:0]
	var dropped []ActionRequest
	for _, req := range c.pending {
		if req.RequesterID == requester {
			dropped = append(dropped, req)
			delete(c.queued, flightKey{requester: req.RequesterID, kind: req.Kind})
			continue
		}
		kept = append(kept, req)
	}
	c.pending = kept
	c.mu.Unlock()

	for _, req := range dropped {
		c.reject(Rejection{Request: req, Reason: RejectCancelled})
	}

	aborted := 0
	for _, f := range c.running() {
		if f.req.RequesterID != requester {
			continue
		}
		f.seq.Abort(reason)
		c.finish(f, true)
		aborted++
	}
	return aborted
}

// InFlight reports whether an action of kind is queued or running for requester.
func (c *Channel) InFlight(requester, kind string) bool {
	if c == nil {
		return false
	}
	key := flightKey{requester: requester, kind: kind}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, queued := c.queued[key]
	_, running := c.inFlight[key]
	return queued || running
}

// Running reports the number of sequences in flight.
func (c *Channel) Running() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Pending reports the number of queued requests.
func (c *Channel) Pending() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Channel) reject(r Rejection) {
	if c.hooks.OnRejected != nil {
		c.hooks.OnRejected(r)
	}
}
