package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"xox/internal/game"
)

const (
	msgJoinQueue = "join_queue"
	msgMakeMove  = "make_move"
	msgError     = "error"

	sendBuffer = 64
)

// WSMessage is the JSON envelope for WebSocket messages.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinQueuePayload struct {
	PlayerID string `json:"playerId"`
	Size     int    `json:"size"`
}

type makeMovePayload struct {
	SessionID string `json:"sessionId"`
	CellIndex *int   `json:"cellIndex"`
	PlayerID  string `json:"playerId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wsConn is the engine's handle on one websocket. Send never blocks: the
// reactor must not stall on a slow client, so a full buffer drops the message.
type wsConn struct {
	id   string
	send chan []byte
	done <-chan struct{}
	log  *zap.Logger
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msgType string, payload any) {
	msg, err := encodeWS(msgType, payload)
	if err != nil {
		c.log.Error("encode ws message", zap.String("type", msgType), zap.Error(err))
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn("send buffer full, dropping message", zap.String("type", msgType))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.AllowedOrigins,
	})
	if err != nil {
		s.log.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
		done: ctx.Done(),
	}
	c.log = s.log.With(zap.String("conn", c.id))
	c.log.Debug("connected")

	// Writer goroutine: send queued messages to the websocket
	go func() {
		for {
			select {
			case msg := <-c.send:
				if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Reader loop: handle incoming messages
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				c.log.Debug("read", zap.Error(err))
			}
			break
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(msgError, errorPayload{Message: "invalid message"})
			continue
		}
		s.handleMessage(c, msg)
	}

	s.engine.Disconnect(c.id)
	c.log.Debug("disconnected")
}

func (s *Server) handleMessage(c *wsConn, msg WSMessage) {
	switch msg.Type {
	case msgJoinQueue:
		var p joinQueuePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.Send(msgError, errorPayload{Message: "invalid join_queue payload"})
			return
		}
		if p.Size == 0 {
			p.Size = game.Classic.Size
		}
		s.engine.JoinQueue(c, p.PlayerID, p.Size)

	case msgMakeMove:
		var p makeMovePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.CellIndex == nil {
			c.Send(msgError, errorPayload{Message: "invalid make_move payload"})
			return
		}
		s.engine.MakeMove(p.SessionID, *p.CellIndex, p.PlayerID)

	default:
		c.Send(msgError, errorPayload{Message: "unknown message type: " + msg.Type})
	}
}

func encodeWS(msgType string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: msgType, Payload: p})
}
