package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"social_backend/internal/logger"
	"social_backend/internal/presence"
	"social_backend/internal/services"
	"social_backend/internal/services/dto"
	"social_backend/internal/validator"

	"gorm.io/gorm"
)

type HubConfig struct {
	SendBuffer     int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	Now            func() time.Time
}

func (c *HubConfig) setDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Hub owns every live connection on this instance, the chat rooms they
// joined and the per-chat ordering locks. Frames reach connections only
// through the broker, so several instances can share one audience.
type Hub struct {
	db       *gorm.DB
	chats    services.ChatService
	tracker  presence.Tracker
	typing   *presence.TypingTimers
	broker   Broker
	validate *validator.Validator
	cfg      HubConfig

	mu      sync.RWMutex
	clients map[string]*Client
	users   map[uint]map[string]*Client
	rooms   map[uint]map[string]*Client

	locks *chatLocks

	register   chan *Client
	unregister chan *Client

	// ctx is the base context for service calls. It outlives individual
	// connections and is cancelled by Shutdown.
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewHub(
	db *gorm.DB,
	chats services.ChatService,
	tracker presence.Tracker,
	typing *presence.TypingTimers,
	broker Broker,
	cfg HubConfig,
) *Hub {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		db:         db,
		chats:      chats,
		tracker:    tracker,
		typing:     typing,
		broker:     broker,
		validate:   validator.New(),
		cfg:        cfg,
		clients:    make(map[string]*Client),
		users:      make(map[uint]map[string]*Client),
		rooms:      make(map[uint]map[string]*Client),
		locks:      newChatLocks(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run subscribes to the broker and processes connects and disconnects until
// ctx is cancelled or Shutdown is called.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.broker.Subscribe(h.ctx, h.deliver); err != nil {
		return err
	}
	logger.Info("Realtime hub started")

	for {
		select {
		case client := <-h.register:
			h.onRegister(client)
		case client := <-h.unregister:
			h.onUnregister(client)
		case <-ctx.Done():
			h.Shutdown()
			return nil
		case <-h.ctx.Done():
			return nil
		}
	}
}

// Shutdown closes every connection and releases the typing timers, the
// broker and the tracker. It is safe to call more than once.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		h.cancel()

		h.mu.Lock()
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.clients = make(map[string]*Client)
		h.users = make(map[uint]map[string]*Client)
		h.rooms = make(map[uint]map[string]*Client)
		h.mu.Unlock()

		for _, c := range clients {
			c.close()
		}
		h.typing.Close()
		if err := h.broker.Close(); err != nil {
			logger.Warn("Failed to close realtime broker", "error", err)
		}
		if err := h.tracker.Close(); err != nil {
			logger.Warn("Failed to close presence tracker", "error", err)
		}
		logger.Info("Realtime hub stopped", "connections", len(clients))
	})
}

// ClientCount is the number of connections on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) onRegister(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()

	if err := h.tracker.Register(h.ctx, c.UserID, c.ID); err != nil {
		c.log.Warn("Failed to register presence", "error", err)
	}
	c.log.Info("Realtime client connected")

	h.publish(Envelope{Target: TargetAll}, EventUserOnline, userOnlineEvent{
		UserID:    c.UserID,
		Timestamp: h.cfg.Now(),
	})
}

func (h *Hub) onUnregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	if conns := h.users[c.UserID]; conns != nil {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.users, c.UserID)
		}
	}
	for chatID := range c.rooms {
		h.removeFromRoomLocked(chatID, c)
	}
	h.mu.Unlock()

	c.close()
	c.log.Info("Realtime client disconnected")

	lastSeen, wasCurrent, err := h.tracker.Unregister(h.ctx, c.UserID, c.ID)
	if err != nil {
		c.log.Warn("Failed to unregister presence", "error", err)
		return
	}
	// A newer connection of the same user is still live.
	if !wasCurrent {
		return
	}
	// The newest connection closed but an older one is still open.
	if other := h.anyConnection(c.UserID); other != nil {
		if err := h.tracker.Register(h.ctx, c.UserID, other.ID); err != nil {
			c.log.Warn("Failed to hand presence to remaining connection", "error", err)
		}
		return
	}

	for _, chatID := range h.typing.StopUser(c.UserID) {
		h.publish(Envelope{Target: TargetRoom, ChatID: chatID}, EventUserTyping, userTypingEvent{
			ChatID: chatID,
			UserID: c.UserID,
			Typing: false,
		})
	}
	h.publish(Envelope{Target: TargetAll}, EventUserOffline, userOfflineEvent{
		UserID:   c.UserID,
		LastSeen: lastSeen,
	})
}

func (h *Hub) anyConnection(userID uint) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		return c
	}
	return nil
}

func (h *Hub) joinRoom(chatID uint, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		// Disconnect already processed.
		return
	}
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[string]*Client)
	}
	h.rooms[chatID][c.ID] = c
	c.rooms[chatID] = struct{}{}
}

func (h *Hub) leaveRoom(chatID uint, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[chatID]; !ok {
		return false
	}
	h.removeFromRoomLocked(chatID, c)
	delete(c.rooms, chatID)
	return true
}

func (h *Hub) removeFromRoomLocked(chatID uint, c *Client) {
	if room := h.rooms[chatID]; room != nil {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

func (h *Hub) inRoom(chatID uint, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[chatID]
	return ok
}

// deliver hands an envelope to the matching local connections.
func (h *Hub) deliver(env Envelope) {
	h.mu.RLock()
	var targets []*Client
	switch env.Target {
	case TargetAll:
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	case TargetRoom:
		for id, c := range h.rooms[env.ChatID] {
			if id != env.ExcludeConn {
				targets = append(targets, c)
			}
		}
	case TargetUsers:
		for _, userID := range env.UserIDs {
			for _, c := range h.users[userID] {
				targets = append(targets, c)
			}
		}
	case TargetConn:
		if c, ok := h.clients[env.ConnID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(env.Frame)
	}
}

func (h *Hub) publish(env Envelope, event string, data interface{}) {
	frame, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		logger.Error("Failed to encode realtime event", "event", event, "error", err)
		return
	}
	env.Frame = frame
	if err := h.broker.Publish(h.ctx, env); err != nil {
		logger.Warn("Failed to publish realtime event", "event", event, "error", err)
	}
}

// session is the database handle for service calls made by the hub.
func (h *Hub) session() *gorm.DB {
	return h.db.WithContext(h.ctx)
}

// InChat runs fn while holding the chat's ordering lock. Callers that mutate
// a chat and then notify must do both inside fn so that listeners see events
// in commit order.
func (h *Hub) InChat(chatID uint, fn func() error) error {
	unlock := h.locks.lock(chatID)
	defer unlock()
	return fn()
}

// InMessageChat runs fn under the ordering lock of the chat messageID
// belongs to.
func (h *Hub) InMessageChat(messageID uint, fn func(chatID uint) error) error {
	chatID, err := h.chats.MessageChatID(h.session(), messageID)
	if err != nil {
		return err
	}
	return h.InChat(chatID, func() error { return fn(chatID) })
}

// --- notifications, shared by the gateway and the REST handlers ---

// NotifyNewMessage sends new_message to the room (minus excludeConn) and
// chat_updated to every connection of the chat's participants.
func (h *Hub) NotifyNewMessage(msg *dto.MessageResponse, excludeConn string) {
	h.publish(Envelope{Target: TargetRoom, ChatID: msg.ChatID, ExcludeConn: excludeConn}, EventNewMessage, msg)
	h.notifyChatUpdated(msg)
}

// NotifyForwarded sends new_message to the destination room only.
func (h *Hub) NotifyForwarded(msg *dto.MessageResponse) {
	h.publish(Envelope{Target: TargetRoom, ChatID: msg.ChatID}, EventNewMessage, msg)
}

func (h *Hub) NotifyMessageEdited(msg *dto.MessageResponse) {
	h.publish(Envelope{Target: TargetRoom, ChatID: msg.ChatID}, EventMessageEdited, msg)
	h.notifyChatUpdated(msg)
}

func (h *Hub) NotifyMessageDeleted(msg *dto.MessageResponse) {
	h.publish(Envelope{Target: TargetRoom, ChatID: msg.ChatID}, EventMessageDeleted, msg)
}

func (h *Hub) NotifyMessageRead(receipt *dto.ReadReceipt) {
	h.publish(Envelope{Target: TargetRoom, ChatID: receipt.ChatID}, EventMessageRead, receipt)
}

func (h *Hub) NotifyAllRead(result *dto.ReadAllResult) {
	h.publish(Envelope{Target: TargetRoom, ChatID: result.ChatID}, EventAllMessagesRead, result)
}

func (h *Hub) NotifyDelivered(receipt *dto.DeliveryReceipt) {
	h.publish(Envelope{Target: TargetRoom, ChatID: receipt.ChatID}, EventMessageDelivered, receipt)
}

func (h *Hub) notifyChatUpdated(msg *dto.MessageResponse) {
	audience, err := h.chats.ChatAudience(h.session(), msg.ChatID)
	if err != nil {
		logger.Warn("Failed to load chat audience", "chat_id", msg.ChatID, "error", err)
		return
	}
	if len(audience) == 0 {
		return
	}
	h.publish(Envelope{Target: TargetUsers, UserIDs: audience}, EventChatUpdated, chatUpdatedEvent{
		ChatID:      msg.ChatID,
		LastMessage: msg,
	})
}

// chatLocks hands out one mutex per chat, dropped once nobody holds or waits
// for it.
type chatLocks struct {
	mu    sync.Mutex
	locks map[uint]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[uint]*chatLock)}
}

func (l *chatLocks) lock(chatID uint) func() {
	l.mu.Lock()
	cl, ok := l.locks[chatID]
	if !ok {
		cl = &chatLock{}
		l.locks[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, chatID)
		}
		l.mu.Unlock()
	}
}
