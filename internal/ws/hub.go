// Package ws is the realtime gateway. Each connection walks a small state
// machine: unauthenticated, then bound to a user id, then joined to zero or
// more rooms. Rooms exist per chat id plus one personal room per user id.
package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/reportdesk/internal/apperr"
	"github.com/reportdesk/internal/logger"
	"github.com/reportdesk/internal/model"
	"github.com/reportdesk/internal/service"
)

// PushNotifier delivers out-of-band notifications. A nil notifier disables
// push.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Hub struct {
	mu sync.RWMutex
	// rooms is keyed by chat id, plus one personal room per user (userRoom).
	rooms       map[string]map[*Client]struct{}
	clientRooms map[*Client]map[string]struct{}
	// users maps a user id to its connection. Last writer wins on
	// multi-connect; earlier connections keep their room subscriptions but
	// lose direct addressing. Known limitation, kept deliberately.
	users map[string]*Client
	total int

	maxConns int
	chat     *service.ChatService
	push     PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(chat *service.ChatService, push PushNotifier, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		rooms:       make(map[string]map[*Client]struct{}),
		clientRooms: make(map[*Client]map[string]struct{}),
		users:       make(map[string]*Client),
		maxConns:    maxConns,
		chat:        chat,
		push:        push,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func userRoom(userID string) string { return "user:" + userID }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect clients under the lock; never do I/O while holding it.
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for c := range h.clientRooms {
		all = append(all, c)
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.clientRooms = make(map[*Client]map[string]struct{})
	h.users = make(map[string]*Client)
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting connection", h.maxConns)
		c.Close()
		return
	}
	h.clientRooms[c] = make(map[string]struct{})
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	userID := c.UserID()

	h.mu.Lock()
	joined, ok := h.clientRooms[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clientRooms, c)
	h.total--
	roomIDs := make([]string, 0, len(joined))
	for roomID := range joined {
		if members, ok := h.rooms[roomID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
		roomIDs = append(roomIDs, roomID)
	}
	if userID != "" && h.users[userID] == c {
		delete(h.users, userID)
	}
	h.mu.Unlock()

	c.Close()

	// user_offline goes to every chat room the connection was in, not to the
	// personal channel.
	if userID != "" {
		out := OutgoingMessage{Type: EventUserOffline, Payload: UserStatusPayload{UserID: userID, Online: false}}
		for _, roomID := range roomIDs {
			if strings.HasPrefix(roomID, "user:") {
				continue
			}
			h.broadcastRoom(roomID, out, c)
		}
	}
}

// HandleMessage dispatches one client event. Everything except authenticate
// requires a bound user id.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.Type == EventAuthenticate {
		h.handleAuthenticate(c, msg)
		return
	}
	if c.UserID() == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "authenticate first"}})
		return
	}

	switch msg.Type {
	case EventJoinChat:
		h.handleJoinChat(ctx, c, msg)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg)
	case EventEditMessage:
		h.handleEditMessage(ctx, c, msg)
	case EventDeleteMessage:
		h.handleDeleteMessage(ctx, c, msg)
	case EventAddReaction:
		h.handleAddReaction(ctx, c, msg)
	case EventRemoveReaction:
		h.handleRemoveReaction(ctx, c, msg)
	case EventTypingStart, EventTypingStop:
		h.handleTyping(c, msg)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "unknown event type"}})
	}
}

// handleAuthenticate binds the connection to a user id. The id is trusted
// from the upstream auth layer; no directory lookup happens here.
func (h *Hub) handleAuthenticate(c *Client, msg IncomingMessage) {
	if msg.UserID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "user_id required"}})
		return
	}
	c.setUserID(msg.UserID)

	h.mu.Lock()
	h.users[msg.UserID] = c
	h.mu.Unlock()
}

func (h *Hub) handleJoinChat(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleJoinChat", time.Now())()
	if msg.ChatID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "chat_id required"}})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	userID := c.UserID()
	if _, err := h.chat.GetChat(ctx, msg.ChatID, userID); err != nil {
		h.sendError(c, err, "")
		return
	}

	h.joinRoom(c, msg.ChatID)
	h.joinRoom(c, userRoom(userID))

	h.broadcastRoom(msg.ChatID, OutgoingMessage{
		Type:    EventUserOnline,
		Payload: UserStatusPayload{UserID: userID, Online: true},
	}, c)
	h.sendToClient(c, OutgoingMessage{Type: EventJoinedChat, Payload: JoinedChatPayload{ChatID: msg.ChatID}})
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var replyTo *string
	if msg.ReplyToID != "" {
		replyTo = &msg.ReplyToID
	}
	mt := msg.MessageType
	if mt == "" {
		mt = model.MessageTypeText
	}
	m, err := h.chat.CreateMessage(ctx, service.CreateMessageInput{
		ChatID:      msg.ChatID,
		SenderID:    c.UserID(),
		Content:     msg.Content,
		MessageType: mt,
		ReplyToID:   replyTo,
		File:        msg.FileData,
		Mentions:    msg.Mentions,
	})
	if err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: errorMessage(err), TempID: msg.TempID}})
		return
	}

	h.broadcastRoom(m.ChatID, OutgoingMessage{Type: EventNewMessage, Payload: m}, nil)
	h.sendToClient(c, OutgoingMessage{Type: EventMessageDelivered, Payload: DeliveredPayload{MessageID: m.ID, TempID: msg.TempID}})

	// Push for participants without a live connection, queued after the send
	// has committed so delivery never adds to send latency.
	if h.push != nil {
		go h.dispatchPush(m)
	}
}

func (h *Hub) handleEditMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleEditMessage", time.Now())()
	if msg.MessageID == "" || msg.Content == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "message_id and content required"}})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, err := h.chat.EditMessage(ctx, msg.MessageID, c.UserID(), msg.Content)
	if err != nil {
		h.sendError(c, err, "")
		return
	}
	h.broadcastRoom(m.ChatID, OutgoingMessage{Type: EventMessageEdited, Payload: MessageEditedPayload{
		MessageID: m.ID, ChatID: m.ChatID, Content: m.Content,
	}}, nil)
}

func (h *Hub) handleDeleteMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleDeleteMessage", time.Now())()
	if msg.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, err := h.chat.DeleteMessage(ctx, msg.MessageID, c.UserID())
	if err != nil {
		h.sendError(c, err, "")
		return
	}
	h.broadcastRoom(m.ChatID, OutgoingMessage{Type: EventMessageDeleted, Payload: MessageDeletedPayload{
		MessageID: m.ID, ChatID: m.ChatID,
	}}, nil)
}

func (h *Hub) handleAddReaction(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" || msg.Emoji == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, err := h.chat.AddReaction(ctx, msg.MessageID, c.UserID(), msg.Emoji)
	if err != nil {
		h.sendError(c, err, "")
		return
	}
	h.broadcastRoom(m.ChatID, OutgoingMessage{Type: EventReactionAdded, Payload: ReactionPayload{
		MessageID: m.ID, ChatID: m.ChatID, UserID: c.UserID(), Emoji: msg.Emoji,
	}}, nil)
}

func (h *Hub) handleRemoveReaction(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, err := h.chat.RemoveReaction(ctx, msg.MessageID, c.UserID())
	if err != nil {
		h.sendError(c, err, "")
		return
	}
	h.broadcastRoom(m.ChatID, OutgoingMessage{Type: EventReactionRemoved, Payload: ReactionPayload{
		MessageID: m.ID, ChatID: m.ChatID, UserID: c.UserID(),
	}}, nil)
}

// handleTyping relays a typing signal to the room, sender excluded. Nothing
// is persisted.
func (h *Hub) handleTyping(c *Client, msg IncomingMessage) {
	if msg.ChatID == "" {
		return
	}
	h.broadcastRoom(msg.ChatID, OutgoingMessage{Type: EventUserTyping, Payload: TypingPayload{
		ChatID:   msg.ChatID,
		UserID:   c.UserID(),
		IsTyping: msg.Type == EventTypingStart,
	}}, c)
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, err := h.chat.MarkMessageRead(ctx, msg.MessageID, c.UserID())
	if err != nil {
		h.sendError(c, err, "")
		return
	}
	h.broadcastRoom(m.ChatID, OutgoingMessage{Type: EventMessageRead, Payload: MessageReadPayload{
		MessageID: m.ID, ChatID: m.ChatID, UserID: c.UserID(),
	}}, nil)
}

// dispatchPush notifies every active participant other than the sender who
// has no live connection and has not muted the chat. Failures stay inside the
// notifier.
func (h *Hub) dispatchPush(m *model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chat, err := h.chat.GetChat(ctx, m.ChatID, m.SenderID)
	if err != nil {
		logger.Errorf("ws push chat lookup chat=%s: %v", m.ChatID, err)
		return
	}

	title := "New message"
	if m.Sender != nil {
		title = strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName)
	}
	body := m.Content
	if m.MessageType.IsMedia() {
		body = "Attachment"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{"chat_id": m.ChatID, "message_id": m.ID}

	for _, p := range chat.Participants {
		if p.UserID == m.SenderID || !p.IsActive || p.Muted {
			continue
		}
		if h.IsOnline(p.UserID) {
			continue
		}
		h.push.Notify(ctx, p.UserID, title, body, data)
	}
}

// IsOnline reports whether the user currently has a mapped connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// RoomSize returns how many connections a room currently has.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) joinRoom(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clientRooms[c]; !ok {
		// Client already unregistered; do not resurrect its bookkeeping.
		return
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	h.clientRooms[c][roomID] = struct{}{}
}

// broadcastRoom sends to every connection in the room except `except`.
// Targets are collected under the read lock; sends happen outside it.
func (h *Hub) broadcastRoom(roomID string, msg OutgoingMessage, except *Client) {
	h.mu.RLock()
	members := h.rooms[roomID]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

// SendToUser addresses the user's current connection directly, bypassing
// rooms.
func (h *Hub) SendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	c, ok := h.users[userID]
	h.mu.RUnlock()
	if ok {
		h.sendToClient(c, msg)
	}
}

// BroadcastToChat lets the REST side fan out an event to a chat room.
func (h *Hub) BroadcastToChat(chatID string, msg OutgoingMessage) {
	h.broadcastRoom(chatID, msg, nil)
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close the slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.UserID())
		c.Close()
	}
}

func (h *Hub) sendError(c *Client, err error, tempID string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: errorMessage(err), TempID: tempID}})
}

func errorMessage(err error) string {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) && appErr.Code != "UPSTREAM_ERROR" {
		return appErr.Message
	}
	return "internal error"
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
