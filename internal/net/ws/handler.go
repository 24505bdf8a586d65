package ws

import (
	nethttp "net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridclash/internal/net/proto"
	"gridclash/internal/telemetry"
)

const maxMessageSize = 4096

type HandlerConfig struct {
	Logger telemetry.Logger
	// Codec is used when the client does not ask for one.
	Codec proto.Codec
}

type Handler struct {
	hub      *Hub
	logger   telemetry.Logger
	codec    proto.Codec
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	codec := cfg.Codec
	if codec == nil {
		codec = proto.JSON{}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		codec:    codec,
		upgrader: upgrader,
	}
}

// Handle upgrades the request and serves one participant until the
// connection drops. The participant id comes from the id query parameter;
// a fresh one is assigned when it is missing.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	query := r.URL.Query()
	playerID := query.Get("id")
	if playerID == "" {
		playerID = uuid.NewString()
	}

	codec := h.codec
	if name := query.Get("codec"); name != "" {
		resolved, err := proto.CodecByName(name)
		if err != nil {
			nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
			return
		}
		codec = resolved
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", playerID, err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	session, err := h.hub.Attach(playerID, conn, codec)
	if err != nil {
		h.logger.Printf("failed to send initial snapshot to %s: %v", playerID, err)
		message := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot failed")
		_ = conn.WriteMessage(websocket.CloseMessage, message)
		_ = conn.Close()
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Detach(session, "disconnect")
			return
		}

		msg, err := proto.DecodeClient(session.Codec(), payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", playerID, err)
			continue
		}
		h.hub.Submit(session, msg)
	}
}
