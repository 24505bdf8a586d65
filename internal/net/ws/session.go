package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gridclash/internal/net/proto"
)

var errSessionClosed = errors.New("session closed")

const writeWait = 5 * time.Second

// Conn is the part of *websocket.Conn a session writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one participant connection. Outbound messages are queued and
// written by a dedicated goroutine so the simulation never blocks on a slow
// socket; a session whose queue overflows is closed and must resync.
type Session struct {
	ID       string
	PlayerID string

	conn    Conn
	codec   proto.Codec
	out     chan []byte
	done    chan struct{}
	once    sync.Once
	lastSeq atomic.Uint64

	mu      sync.Mutex
	onClose func(*Session)
}

func newSession(id, playerID string, conn Conn, codec proto.Codec, buffer int, onClose func(*Session)) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	if codec == nil {
		codec = proto.JSON{}
	}
	s := &Session{
		ID:       id,
		PlayerID: playerID,
		conn:     conn,
		codec:    codec,
		out:      make(chan []byte, buffer),
		done:     make(chan struct{}),
		onClose:  onClose,
	}
	go s.writePump()
	return s
}

// Codec is the encoding negotiated for this session.
func (s *Session) Codec() proto.Codec { return s.codec }

func (s *Session) messageType() int {
	if s.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Send encodes v with the session codec and queues it.
func (s *Session) Send(v any) error {
	data, err := s.codec.Encode(v)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw queues an already encoded message. It never blocks.
func (s *Session) SendRaw(data []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.out <- data:
		return nil
	default:
		s.Close()
		return errSessionClosed
	}
}

func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(s.messageType(), data); err != nil {
				s.Close()
				return
			}
		}
	}
}

// LastCommandSeq is the highest command sequence acknowledged.
func (s *Session) LastCommandSeq() uint64 { return s.lastSeq.Load() }

// StoreLastCommandSeq records an acknowledged sequence.
func (s *Session) StoreLastCommandSeq(seq uint64) {
	for {
		current := s.lastSeq.Load()
		if seq <= current || s.lastSeq.CompareAndSwap(current, seq) {
			return
		}
	}
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session once and closes the connection.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		s.mu.Lock()
		onClose := s.onClose
		s.mu.Unlock()
		if onClose != nil {
			onClose(s)
		}
	})
}

// closeQuietly ends the session without running its close callback.
func (s *Session) closeQuietly() {
	s.mu.Lock()
	s.onClose = nil
	s.mu.Unlock()
	s.Close()
}
