package ws

import (
	"context"
	"encoding/json"
	"strings"

	"animehub-be/internal/apperr"
	"animehub-be/internal/chat"
	"animehub-be/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// roomRequest identifies a conversation. Clients may send a bare id string
// instead of an object, and chatId is accepted as an alias.
type roomRequest struct {
	ConversationID string `json:"conversationId"`
	ChatID         string `json:"chatId"`
	Kind           string `json:"kind"`
}

func (r *roomRequest) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		r.ConversationID = id
		return nil
	}
	type plain roomRequest
	return json.Unmarshal(b, (*plain)(r))
}

func (r roomRequest) ref() (models.ConversationRef, error) {
	id := r.ConversationID
	if id == "" {
		id = r.ChatID
	}
	return chat.ParseRef(r.Kind, id)
}

type sendRequest struct {
	roomRequest
	Content string `json:"content"`
}

func (r *sendRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		ConversationID string `json:"conversationId"`
		ChatID         string `json:"chatId"`
		Kind           string `json:"kind"`
		Content        string `json:"content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.ConversationID, r.ChatID, r.Kind, r.Content = raw.ConversationID, raw.ChatID, raw.Kind, raw.Content
	return nil
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RoomPayload struct {
	ConversationID uuid.UUID               `json:"conversationId"`
	Kind           models.ConversationKind `json:"kind"`
}

// Serve runs conn for userID until the peer disconnects or ctx ends.
func (h *Hub) Serve(ctx context.Context, userID uuid.UUID, conn *websocket.Conn) {
	c := h.AddClient(userID, conn)
	if c == nil {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.RemoveClient(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	for {
		typ, b, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.log.Debug("ws read failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		var in inbound
		if typ != websocket.MessageText || json.Unmarshal(b, &in) != nil || in.Type == "" {
			h.fail(c, "", apperr.Validation("malformed event"))
			continue
		}
		if h.metrics != nil {
			h.metrics.WSEvents.WithLabelValues(in.Type, "in").Inc()
		}
		h.dispatch(ctx, c, in)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, in inbound) {
	switch in.Type {
	case EventJoinChat:
		var req roomRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			h.fail(c, in.Type, apperr.Validation("invalid joinChat payload"))
			return
		}
		ref, err := req.ref()
		if err == nil {
			err = h.Join(ctx, c, ref)
		}
		if err != nil {
			h.fail(c, in.Type, err)
			return
		}
		h.reply(c, EventJoined, RoomPayload{ConversationID: ref.ID, Kind: ref.Kind})

	case EventLeaveChat:
		var req roomRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			h.fail(c, in.Type, apperr.Validation("invalid leaveChat payload"))
			return
		}
		ref, err := req.ref()
		if err != nil {
			h.fail(c, in.Type, err)
			return
		}
		h.Leave(c, ref)
		h.reply(c, EventLeft, RoomPayload{ConversationID: ref.ID, Kind: ref.Kind})

	case EventSendMessage:
		if !c.limiter.Allow() {
			h.fail(c, in.Type, apperr.New(apperr.KindTooManyRequests, "rate_limited"))
			return
		}
		var req sendRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			h.fail(c, in.Type, apperr.Validation("invalid sendMessage payload"))
			return
		}
		ref, err := req.ref()
		if err == nil {
			// The stored message reaches the room through MessageCreated.
			_, err = h.sender.Send(ctx, chat.SendInput{Conversation: ref, SenderID: c.UserID, Content: req.Content})
		}
		if err != nil {
			h.fail(c, in.Type, err)
		}

	default:
		h.fail(c, in.Type, apperr.Validation("unknown event "+strings.TrimSpace(in.Type)))
	}
}

func (h *Hub) reply(c *Client, typ string, data interface{}) {
	h.enqueue(c, Event{Type: typ, Data: data})
}

func (h *Hub) fail(c *Client, event string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.log.Error("ws event failed", zap.String("event", event), zap.String("client_id", c.ID), zap.Error(err))
	}
	h.reply(c, EventError, ErrorPayload{Event: event, Code: string(apperr.KindOf(err)), Message: apperr.Message(err)})
}
