package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"Palaver/internal/event"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load

	opTimeout = 5 * time.Second // budget for one storage collaborator call
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

// topicBucket holds one shard of the room membership registry:
// topic -> connection id -> client.
type topicBucket struct {
	sync.RWMutex
	rooms map[event.Topic]map[string]*Client
}

// presenceBucket holds one shard of the connection registry:
// user id -> connection id -> client.
type presenceBucket struct {
	sync.RWMutex
	users map[string]map[string]*Client
}

// Options carries the collaborators and knobs the hub needs. One Hub is
// built at process startup and injected into every connection handler.
type Options struct {
	Logger     *zap.Logger
	Authorizer Authorizer
	Messages   MessageStore
	Calls      CallDirectory
	Users      UserDirectory

	LiveKit LiveKitConfig

	TypingTTL           time.Duration
	TypingSweepInterval time.Duration
	Clock               clock.Clock
}

type Hub struct {
	logger     *zap.Logger
	authorizer Authorizer
	messages   MessageStore
	users      UserDirectory

	shards   [shardCount]*topicBucket
	presence [shardCount]*presenceBucket

	typing      *TypingStore
	callHandler *CallHandler

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = defaultTypingTTL
	}
	if opts.TypingSweepInterval <= 0 {
		opts.TypingSweepInterval = defaultTypingSweepInterval
	}

	h := &Hub{
		logger:     opts.Logger,
		authorizer: opts.Authorizer,
		messages:   opts.Messages,
		users:      opts.Users,
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		inbound:    make(chan inboundMessage, 4096), // buffer for burst handling
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &topicBucket{rooms: make(map[event.Topic]map[string]*Client)}
		h.presence[i] = &presenceBucket{users: make(map[string]map[string]*Client)}
	}

	h.typing = NewTypingStore(opts.Clock, opts.TypingTTL, opts.TypingSweepInterval)
	h.callHandler = NewCallHandler(h, opts.Calls, opts.LiveKit)

	// run manager loop
	go h.run()

	// typing TTL sweeper, stops with the hub context
	go h.typing.Run(ctx)

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}

					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

// run serializes register/unregister so that a flapping connection
// cannot interleave its online and offline transitions.
func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.registerConnection(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// handleEvent is the single boundary adapter per connection event. Any
// panic from one connection's bad input is caught and logged here so it
// cannot take down dispatch for other connections.
func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in event handler",
				zap.String("event", ev.Event),
				zap.String("client_id", c.ID),
				zap.Any("panic", r),
			)
		}
	}()

	switch ev.Event {
	case event.OpJoinConversation:
		h.handleJoinRoom(ev, c)
	case event.OpLeaveConversation:
		h.handleLeaveRoom(ev, c)
	case event.OpSetTyping:
		h.handleSetTyping(ev, c)
	case event.OpSendMessage:
		h.handleSendMessage(ev, c)
	case event.OpUpdateStatus:
		h.handleUpdateStatus(ev, c)
	case event.OpMarkRead:
		h.handleMarkRead(ev, c)
	case event.OpJoinCall:
		h.callHandler.handleJoinCall(ev, c)
	case event.OpLeaveCall:
		h.callHandler.handleLeaveCall(ev, c)
	case event.OpSignal:
		h.callHandler.handleSignal(ev, c)
	case event.OpCallStatus:
		h.callHandler.handleCallStatus(ev, c)
	case event.OpInvite:
		h.callHandler.handleInvite(ev, c)
	case event.OpRespond:
		h.callHandler.handleRespond(ev, c)
	default:
		h.logger.Warn("unknown event type", zap.String("event", ev.Event))
		c.SafeSend(event.NewError(event.EventChatError, event.CodeValidationFailed, "unknown event"), sendTimeout)
	}
}

// opContext returns the context used for one collaborator call.
func (h *Hub) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, opTimeout)
}

func topicShard(t event.Topic) uint32 {
	sum := sha1.Sum([]byte(t.String()))
	return binary.BigEndian.Uint32(sum[:4]) % shardCount
}

func userShard(userID string) uint32 {
	sum := sha1.Sum([]byte(userID))
	return binary.BigEndian.Uint32(sum[:4]) % shardCount
}

func (h *Hub) bucket(t event.Topic) *topicBucket {
	return h.shards[topicShard(t)]
}

// addToTopic subscribes a connection to a topic.
func (h *Hub) addToTopic(t event.Topic, c *Client) {
	b := h.bucket(t)
	b.Lock()
	defer b.Unlock()

	room, ok := b.rooms[t]
	if !ok {
		room = make(map[string]*Client)
		b.rooms[t] = room
	}
	room[c.ID] = c
}

// removeFromTopic unsubscribes a connection; an emptied topic is pruned
// outright so no dangling room sets accumulate.
func (h *Hub) removeFromTopic(t event.Topic, c *Client) {
	b := h.bucket(t)
	b.Lock()
	defer b.Unlock()

	room, ok := b.rooms[t]
	if !ok {
		return
	}
	delete(room, c.ID)
	if len(room) == 0 {
		delete(b.rooms, t)
	}
}

// snapshotTopic collects the topic's members while holding only a read
// lock, so delivery never serializes against membership changes.
func (h *Hub) snapshotTopic(t event.Topic) []*Client {
	b := h.bucket(t)
	b.RLock()
	defer b.RUnlock()

	room, ok := b.rooms[t]
	if !ok || len(room) == 0 {
		return nil
	}
	clients := make([]*Client, 0, len(room))
	for _, c := range room {
		clients = append(clients, c)
	}
	return clients
}

// broadcastTopic fans an event out to every subscriber of the topic,
// skipping connections of the excluded users. Delivery is best-effort;
// a dead connection is skipped and reaped by its own disconnect path.
func (h *Hub) broadcastTopic(t event.Topic, ev event.WsEvent, excludeUsers ...string) {
	clients := h.snapshotTopic(t)
	for _, c := range clients {
		if containsUser(excludeUsers, c.userID) {
			continue
		}
		if !c.SafeSend(ev, sendTimeout) {
			h.logger.Debug("egress full or closed, skipping delivery",
				zap.String("client_id", c.ID),
				zap.String("topic", t.String()),
			)
			if kickOnFull && !c.IsClosed() {
				select {
				case h.unregister <- c:
				default:
				}
			}
		}
	}
}

func containsUser(users []string, userID string) bool {
	for _, u := range users {
		if u == userID {
			return true
		}
	}
	return false
}

// removeClient runs the full disconnect cascade: rooms and typing
// first, then call rooms, then presence. The cascade is idempotent so
// an immediate rejoin under a fresh connection id observes no stale
// membership.
func (h *Hub) removeClient(c *Client) {
	for _, conversationID := range c.snapshotRooms() {
		h.removeFromTopic(event.ConversationTopic(conversationID), c)
		c.untrackRoom(conversationID)
		if h.typing.Clear(conversationID, c.userID) {
			h.broadcastStoppedTyping(conversationID, c.userID)
		}
	}

	for _, callID := range c.snapshotCalls() {
		h.callHandler.dropConnection(callID, c)
		c.untrackCall(callID)
	}

	h.deregisterConnection(c)
	c.Close()
	h.logger.Info("client removed", zap.String("client_id", c.ID), zap.String("user_id", c.userID))
}

// Stop shuts the hub down: closes every client, stops the workers and
// the typing sweeper.
func (h *Hub) Stop() {
	h.cancel()

	for _, shard := range h.presence {
		shard.RLock()
		for _, conns := range shard.users {
			for _, client := range conns {
				client.Close()
			}
		}
		shard.RUnlock()
	}

	close(h.inbound)
	h.wg.Wait()
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

var allowedOrigins = map[string]bool{}

// SetAllowedOrigins configures the websocket origin allowlist. Called
// once from the container before the server starts accepting upgrades.
func SetAllowedOrigins(origins []string) {
	m := make(map[string]bool, len(origins))
	for _, o := range origins {
		m[o] = true
	}
	allowedOrigins = m
}

func checkOrigin(r *http.Request) bool {
	return allowedOrigins[r.Header.Get("Origin")]
}

// ServeWS upgrades the request and registers the connection. The userID
// must be resolved by the identity layer before this point.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(userID, conn, h)
}
