package ws

import (
	"context"
	"sync"
	"time"

	"animehub-be/internal/chat"
	"animehub-be/internal/metrics"
	"animehub-be/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	EventJoinChat       = "joinChat"
	EventLeaveChat      = "leaveChat"
	EventSendMessage    = "sendMessage"
	EventJoined         = "joined"
	EventLeft           = "left"
	EventReceiveMessage = "receiveMessage"
	EventMessageRead    = "messageRead"
	EventMessageDeleted = "messageDeleted"
	EventError          = "error"
)

const (
	sendQueueSize = 64
	writeTimeout  = 10 * time.Second
	pingInterval  = 25 * time.Second
)

type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Authorizer checks room membership. *chat.Resolver satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, ref models.ConversationRef, userID uuid.UUID) (*chat.Conversation, error)
}

// Sender stores messages. *chat.MessageService satisfies it.
type Sender interface {
	Send(ctx context.Context, in chat.SendInput) (*models.Message, error)
}

type Options struct {
	Authorizer Authorizer
	Sender     Sender
	Metrics    *metrics.Metrics
	Log        *zap.Logger
	// MessageRate and MessageBurst bound sendMessage events per connection.
	MessageRate  float64
	MessageBurst int
}

type Client struct {
	ID     string
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan Event

	limiter *rate.Limiter
	rooms   map[models.ConversationRef]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
	rooms   map[models.ConversationRef]map[*Client]struct{}

	auth    Authorizer
	sender  Sender
	metrics *metrics.Metrics
	log     *zap.Logger
	rps     rate.Limit
	burst   int
	now     func() time.Time
	closed  bool
}

var _ chat.Publisher = (*Hub)(nil)

func NewHub(opts Options) *Hub {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.MessageRate <= 0 {
		opts.MessageRate = 5
	}
	if opts.MessageBurst < 1 {
		opts.MessageBurst = 10
	}
	return &Hub{
		clients: map[uuid.UUID]map[*Client]struct{}{},
		rooms:   map[models.ConversationRef]map[*Client]struct{}{},
		auth:    opts.Authorizer,
		sender:  opts.Sender,
		metrics: opts.Metrics,
		log:     opts.Log,
		rps:     rate.Limit(opts.MessageRate),
		burst:   opts.MessageBurst,
		now:     time.Now,
	}
}

// AddClient registers conn for userID. It returns nil once the hub is closed.
func (h *Hub) AddClient(userID uuid.UUID, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		Conn:    conn,
		Send:    make(chan Event, sendQueueSize),
		limiter: rate.NewLimiter(h.rps, h.burst),
		rooms:   map[models.ConversationRef]struct{}{},
		ctx:     ctx,
		cancel:  cancel,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil
	}
	if h.clients[userID] == nil {
		h.clients[userID] = map[*Client]struct{}{}
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.log.Debug("ws client connected", zap.String("client_id", c.ID), zap.String("user_id", userID.String()))

	go h.writeLoop(c)
	go c.keepAliveLoop()

	return c
}

// RemoveClient drops c from every room and closes its socket.
func (h *Hub) RemoveClient(c *Client) {
	c.cancel()

	h.mu.Lock()
	if set, ok := h.clients[c.UserID]; ok {
		if _, present := set[c]; present && h.metrics != nil {
			h.metrics.WSConnections.Dec()
		}
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
	for ref := range c.rooms {
		h.leaveLocked(c, ref)
	}
	h.mu.Unlock()

	_ = c.Conn.Close(websocket.StatusNormalClosure, "bye")
	h.log.Debug("ws client disconnected", zap.String("client_id", c.ID))
}

// Close disconnects every client with StatusGoingAway and refuses new ones.
// It returns when all sockets are closed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_ = c.Conn.Close(websocket.StatusGoingAway, "server shutting down")
			c.cancel()
		}(c)
	}
	wg.Wait()
	h.log.Info("ws hub closed", zap.Int("clients", len(all)))
}

// Join authorizes c for ref and adds it to the room.
func (h *Hub) Join(ctx context.Context, c *Client, ref models.ConversationRef) error {
	if _, err := h.auth.Authorize(ctx, ref, c.UserID); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.ctx.Err() != nil {
		return nil
	}
	room := h.rooms[ref]
	if room == nil {
		room = map[*Client]struct{}{}
		h.rooms[ref] = room
	}
	room[c] = struct{}{}
	c.rooms[ref] = struct{}{}
	return nil
}

func (h *Hub) Leave(c *Client, ref models.ConversationRef) {
	h.mu.Lock()
	h.leaveLocked(c, ref)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(c *Client, ref models.ConversationRef) {
	delete(c.rooms, ref)
	if room, ok := h.rooms[ref]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, ref)
		}
	}
}

// evict removes from the room for ref every connection whose user keep
// rejects, and tells it so with a left event.
func (h *Hub) evict(ref models.ConversationRef, keep func(uuid.UUID) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[ref] {
		if keep(c.UserID) {
			continue
		}
		h.leaveLocked(c, ref)
		h.enqueue(c, Event{Type: EventLeft, Data: RoomPayload{ConversationID: ref.ID, Kind: ref.Kind}})
	}
}

// RoomSize reports how many connections are in the room for ref.
func (h *Hub) RoomSize(ref models.ConversationRef) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[ref])
}

// BroadcastToRoom queues ev for every connection in the room. Connections
// whose queue is full miss the event.
func (h *Hub) BroadcastToRoom(ref models.ConversationRef, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[ref] {
		h.enqueue(c, ev)
	}
}

func (h *Hub) BroadcastToUsers(userIDs []uuid.UUID, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, uid := range userIDs {
		for c := range h.clients[uid] {
			h.enqueue(c, ev)
		}
	}
}

func (h *Hub) enqueue(c *Client, ev Event) {
	select {
	case c.Send <- ev:
	default:
		h.log.Warn("ws send queue full, dropping event",
			zap.String("client_id", c.ID), zap.String("type", ev.Type))
	}
}

func (h *Hub) writeLoop(c *Client) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.Send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.Conn, ev)
			cancel()
			if err != nil {
				h.log.Debug("ws write failed", zap.String("client_id", c.ID), zap.Error(err))
				continue
			}
			if h.metrics != nil {
				h.metrics.WSEvents.WithLabelValues(ev.Type, "out").Inc()
			}
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			_ = c.Conn.Ping(pingCtx)
			cancel()
		}
	}
}

// ReceivedMessage is the receiveMessage payload: the stored message plus
// the fields chat clients render directly.
type ReceivedMessage struct {
	*models.Message
	ChatID         uuid.UUID  `json:"chatId"`
	SenderName     string     `json:"senderName"`
	Username       string     `json:"username"`
	ProfilePicture string     `json:"profilePicture"`
	ReceiverID     *uuid.UUID `json:"receiverId"`
	Timestamp      time.Time  `json:"timestamp"`
}

type DeletedMessage struct {
	MessageID      uuid.UUID               `json:"messageId"`
	ConversationID uuid.UUID               `json:"conversationId"`
	Kind           models.ConversationKind `json:"kind"`
}

func (h *Hub) MessageCreated(conv *chat.Conversation, msg *models.Message) {
	if h.metrics != nil {
		h.metrics.MessagesSent.WithLabelValues(string(conv.Ref.Kind)).Inc()
	}
	out := ReceivedMessage{Message: msg, ChatID: conv.Ref.ID, Timestamp: h.now()}
	if msg.Sender != nil {
		out.SenderName = msg.Sender.Username
		out.Username = msg.Sender.Username
		out.ProfilePicture = msg.Sender.ProfilePicture
	}
	if r := conv.Receiver(msg.SenderID); r != uuid.Nil {
		out.ReceiverID = &r
	}
	h.BroadcastToRoom(conv.Ref, Event{Type: EventReceiveMessage, Data: out})
}

func (h *Hub) MessageRead(conv *chat.Conversation, msg *models.Message) {
	h.BroadcastToRoom(conv.Ref, Event{Type: EventMessageRead, Data: msg})
}

func (h *Hub) MessageDeleted(conv *chat.Conversation, msgID uuid.UUID) {
	h.BroadcastToRoom(conv.Ref, Event{Type: EventMessageDeleted, Data: DeletedMessage{
		MessageID:      msgID,
		ConversationID: conv.Ref.ID,
		Kind:           conv.Ref.Kind,
	}})
}

// MembersChanged drops connections of users no longer in conv.
func (h *Hub) MembersChanged(conv *chat.Conversation) {
	h.evict(conv.Ref, conv.HasMember)
}

// ConversationClosed empties the room of a deleted conversation.
func (h *Hub) ConversationClosed(ref models.ConversationRef) {
	h.evict(ref, func(uuid.UUID) bool { return false })
}
