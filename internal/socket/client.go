// internal/socket/client.go
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/identity"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
)

// WebSocket connection constants
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer (16KB)
	maxMessageSize int64 = 16 * 1024

	// Outbound messages buffered per connection
	sendBufferSize = 256
)

// Inbound actions
const (
	ActionJoinMeeting = "join_meeting"
	ActionAddMember   = "add_member"
	ActionOpenMotion  = "open_motion"
	ActionSubmitVote  = "submit_vote"
	ActionRevokeVote  = "revoke_vote"
	ActionPing        = "ping"
	ActionPong        = "pong"
)

// Client is one authenticated WebSocket connection. Commands it sends are
// handled one at a time, in arrival order.
type Client struct {
	ID       string
	Identity identity.Identity
	Conn     *websocket.Conn
	Hub      *Hub
	Send     chan []byte

	svc service.MeetingService
	ctx context.Context
	log *zap.Logger
	now func() time.Time

	mu       sync.Mutex
	closed   bool
	lastSeen time.Time
}

// NewClient creates a client bound to ctx; commands still in flight when ctx
// ends are cut short.
func NewClient(ctx context.Context, id string, caller identity.Identity, conn *websocket.Conn, hub *Hub, svc service.MeetingService, log *zap.Logger) *Client {
	return &Client{
		ID:       id,
		Identity: caller,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan []byte, sendBufferSize),
		svc:      svc,
		ctx:      ctx,
		log:      log.With(zap.String("conn", id), zap.String("user", caller.UserID)),
		now:      time.Now,
		lastSeen: time.Now(),
	}
}

// ConnID identifies the connection in its room.
func (c *Client) ConnID() string { return c.ID }

// Deliver queues msg for the write pump without blocking.
func (c *Client) Deliver(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// ReadPump reads commands from the connection until it fails, then detaches
// the client from its meeting and the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.svc.LeaveMeeting(c)
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump pumps queued messages to the WebSocket connection. Each message
// is written as its own frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// touch records that the peer answered.
func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = c.now()
	c.mu.Unlock()
}

func (c *Client) idleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSeen)
}

// ============================================
// Command dispatch
// ============================================

var errEmptyPayload = errors.New("payload is required")

// handleMessage decodes one inbound message, runs it against the meeting
// service and answers with an ack or an error.
func (c *Client) handleMessage(message []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.Debug("malformed message", zap.Error(err))
		c.replyError(msg, service.ErrValidation, "malformed message", false)
		return
	}

	c.log.Debug("received action", zap.String("action", msg.Action), zap.String("request", msg.RequestID))

	var (
		result any
		err    error
	)

	switch msg.Action {
	case ActionJoinMeeting:
		var req models.JoinMeetingRequest
		if err = decodePayload(msg.Payload, &req); err == nil {
			_, err = c.svc.JoinMeeting(c.ctx, c.Identity, req, c)
			result = map[string]string{"meetingId": req.MeetingID}
		}

	case ActionAddMember:
		var req models.AddMemberRequest
		if err = decodePayload(msg.Payload, &req); err == nil {
			result, err = c.svc.AddMember(c.ctx, c.Identity, req)
		}

	case ActionOpenMotion:
		var req models.OpenMotionRequest
		if err = decodePayload(msg.Payload, &req); err == nil {
			result, err = c.svc.OpenMotion(c.ctx, c.Identity, req)
		}

	case ActionSubmitVote:
		var req models.SubmitVoteRequest
		if err = decodePayload(msg.Payload, &req); err == nil {
			result, err = c.svc.SubmitVote(c.ctx, c.Identity, req)
		}

	case ActionRevokeVote:
		var req models.RevokeVoteRequest
		if err = decodePayload(msg.Payload, &req); err == nil {
			result, err = c.svc.RevokeVote(c.ctx, c.Identity, req)
		}

	case ActionPing:
		c.touch()
		c.sendPong()
		return

	case ActionPong:
		c.touch()
		return

	default:
		c.log.Debug("unknown action", zap.String("action", msg.Action))
		c.replyError(msg, service.ErrValidation, "unknown action: "+msg.Action, false)
		return
	}

	if err != nil {
		if errors.Is(err, errEmptyPayload) || isDecodeError(err) {
			c.replyError(msg, service.ErrValidation, "invalid payload: "+err.Error(), false)
			return
		}
		c.replyError(msg, service.KindOf(err), errorMessage(err), service.IsDegraded(err))
		return
	}

	c.reply(models.MessageCommandAck, models.CommandAck{
		RequestID: msg.RequestID,
		Action:    msg.Action,
		Result:    result,
	})
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errEmptyPayload
	}
	return json.Unmarshal(raw, dst)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// errorMessage prefers the service's client-facing message over the wrapped
// cause, which may name storage internals.
func errorMessage(err error) string {
	var svcErr *service.Error
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message
	}
	return service.KindOf(err).Error()
}

func (c *Client) replyError(msg models.ClientMessage, kind service.Kind, text string, degraded bool) {
	c.reply(models.MessageCommandError, models.CommandError{
		RequestID: msg.RequestID,
		Action:    msg.Action,
		Kind:      string(kind),
		Message:   text,
		Degraded:  degraded,
	})
}

func (c *Client) reply(t models.MessageType, payload any) {
	data, err := models.EncodeMessage(t, payload, c.now())
	if err != nil {
		c.log.Error("encode reply", zap.Error(err))
		return
	}
	if !c.Deliver(data) {
		c.log.Warn("failed to queue reply", zap.String("type", string(t)))
	}
}

func (c *Client) sendPong() {
	c.reply(models.MessagePong, map[string]int64{"time": c.now().Unix()})
}
