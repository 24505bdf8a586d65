package ws

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridclash/internal/cosmetic"
	"gridclash/internal/match"
	"gridclash/internal/net/proto"
	"gridclash/internal/replication"
	"gridclash/internal/sim"
	"gridclash/internal/telemetry"
)

const (
	metricSessions      = "ws_sessions"
	metricFramesSent    = "ws_frames_sent_total"
	metricEchoesSent    = "ws_echoes_sent_total"
	metricSendFailures  = "ws_send_failures_total"
	metricRejectsRouted = "ws_rejects_routed_total"
)

// Loop is the command intake of the simulation.
type Loop interface {
	Enqueue(cmd sim.Command) (bool, string)
	Tick() uint64
}

// SnapshotSource provides the catch-up state for a new session.
type SnapshotSource interface {
	Snapshot() match.Snapshot
}

// HubConfig configures a Hub.
type HubConfig struct {
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	SendBuffer int
	Now        func() time.Time
}

// Hub tracks one session per participant, stages their commands on the loop
// and fans authority frames out to every session.
type Hub struct {
	loop      Loop
	snapshots SnapshotSource
	cfg       HubConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub(loop Loop, snapshots SnapshotSource, cfg HubConfig) *Hub {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{loop: loop, snapshots: snapshots, cfg: cfg, sessions: make(map[string]*Session)}
}

// Attach registers conn for playerID, stages its join and queues the
// catch-up snapshot ahead of any later frame. A previous session of the same
// player is replaced without leaving the match.
func (h *Hub) Attach(playerID string, conn Conn, codec proto.Codec) (*Session, error) {
	session := newSession(uuid.NewString(), playerID, conn, codec, h.cfg.SendBuffer, func(s *Session) {
		h.Detach(s, "disconnect")
	})

	h.mu.Lock()
	previous := h.sessions[playerID]
	h.sessions[playerID] = session
	count := len(h.sessions)
	if h.snapshots != nil {
		snap := h.snapshots.Snapshot()
		if err := session.Send(proto.NewSnapshot(playerID, snap.MatchID, snap.Tick, snap.Values, snap.Entities, snap.Outcome)); err != nil {
			delete(h.sessions, playerID)
			h.mu.Unlock()
			session.closeQuietly()
			return nil, err
		}
	}
	h.mu.Unlock()

	if previous != nil {
		previous.closeQuietly()
	}
	h.store(metricSessions, uint64(count))
	if ok, reason := h.loop.Enqueue(sim.Command{ActorID: playerID, Type: sim.CommandJoin, IssuedAt: h.cfg.Now()}); !ok {
		h.logf("[ws] join for %s not staged: %s", playerID, reason)
	}
	return session, nil
}

// Detach removes session if it is still current for its player and stages a
// leave. It is safe to call more than once.
func (h *Hub) Detach(session *Session, reason string) bool {
	if session == nil {
		return false
	}
	h.mu.Lock()
	current, ok := h.sessions[session.PlayerID]
	if !ok || current != session {
		h.mu.Unlock()
		return false
	}
	delete(h.sessions, session.PlayerID)
	count := len(h.sessions)
	h.mu.Unlock()

	session.closeQuietly()
	h.store(metricSessions, uint64(count))
	h.loop.Enqueue(sim.Command{
		ActorID:  session.PlayerID,
		Type:     sim.CommandLeave,
		IssuedAt: h.cfg.Now(),
		Leave:    &sim.LeaveCommand{Reason: reason},
	})
	return true
}

// Submit stages a decoded client message and answers with an ack or a
// reject when the message carries a sequence number.
func (h *Hub) Submit(session *Session, msg proto.ClientMessage) {
	seq := msg.Seq
	if msg.Type == proto.TypeHeartbeat {
		_ = session.Send(proto.NewHeartbeat(h.cfg.Now().UnixMilli(), msg.SentAt))
		return
	}
	if seq > 0 {
		if last := session.LastCommandSeq(); last > 0 && seq <= last {
			_ = session.Send(proto.NewCommandAck(seq, 0))
			return
		}
	}
	if msg.Type == proto.TypeJoin {
		if seq > 0 {
			session.StoreLastCommandSeq(seq)
			_ = session.Send(proto.NewCommandAck(seq, h.loop.Tick()))
		}
		return
	}
	cmd, ok := proto.ClientCommand(msg)
	if !ok {
		if seq > 0 {
			_ = session.Send(proto.NewCommandReject(seq, "", "unknown_command", false, h.loop.Tick()))
		}
		return
	}
	cmd.ActorID = session.PlayerID
	cmd.IssuedAt = h.cfg.Now()
	if seq > 0 {
		cmd.RequestID = requestID(session.PlayerID, seq)
	}
	staged, reason := h.loop.Enqueue(cmd)
	if seq == 0 {
		return
	}
	if !staged {
		_ = session.Send(proto.NewCommandReject(seq, cmd.RequestID, reason, reason == sim.CommandRejectQueueLimit, h.loop.Tick()))
		return
	}
	session.StoreLastCommandSeq(seq)
	_ = session.Send(proto.NewCommandAck(seq, h.loop.Tick()))
}

// Reject routes an authority rejection to the requester only.
func (h *Hub) Reject(playerID, requestID, reason string) {
	session := h.session(playerID)
	if session == nil {
		return
	}
	_ = session.Send(proto.NewCommandReject(parseRequestSeq(playerID, requestID), requestID, reason, false, h.loop.Tick()))
	h.add(metricRejectsRouted, 1)
}

// BroadcastFrame sends a drained journal frame to every session. Empty
// frames are skipped.
func (h *Hub) BroadcastFrame(frame replication.Frame) int {
	if frame.Empty() {
		return 0
	}
	return h.broadcast(proto.FromFrame(frame), metricFramesSent)
}

// BroadcastEcho forwards a cosmetic echo best-effort.
func (h *Hub) BroadcastEcho(e cosmetic.Echo) int {
	return h.broadcast(proto.NewCosmeticEcho(e), metricEchoesSent)
}

// ForwardEchoes relays echoes from ch until ctx ends or ch closes.
func (h *Hub) ForwardEchoes(ctx context.Context, ch <-chan cosmetic.Echo) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.BroadcastEcho(e)
		}
	}
}

// broadcast encodes msg once per codec and queues it on every session.
func (h *Hub) broadcast(msg any, metric string) int {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	encoded := make(map[string][]byte, 2)
	sent := 0
	for _, s := range sessions {
		name := s.Codec().Name()
		data, ok := encoded[name]
		if !ok {
			var err error
			data, err = s.Codec().Encode(msg)
			if err != nil {
				h.logf("[ws] encode %s: %v", name, err)
				continue
			}
			encoded[name] = data
		}
		if err := s.SendRaw(data); err != nil {
			h.add(metricSendFailures, 1)
			continue
		}
		sent++
	}
	h.add(metric, uint64(sent))
	return sent
}

// Sessions reports the number of connected participants.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close ends every session without staging leaves.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()
	for _, s := range sessions {
		s.closeQuietly()
	}
}

func (h *Hub) session(playerID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[playerID]
}

func (h *Hub) logf(format string, args ...any) {
	if h.cfg.Logger != nil {
		h.cfg.Logger.Printf(format, args...)
	}
}

func (h *Hub) add(key string, delta uint64) {
	if h.cfg.Metrics != nil && delta > 0 {
		h.cfg.Metrics.Add(key, delta)
	}
}

func (h *Hub) store(key string, value uint64) {
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.Store(key, value)
	}
}

func requestID(playerID string, seq uint64) string {
	return playerID + ":" + strconv.FormatUint(seq, 10)
}

func parseRequestSeq(playerID, id string) uint64 {
	raw, ok := strings.CutPrefix(id, playerID+":")
	if !ok {
		return 0
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
