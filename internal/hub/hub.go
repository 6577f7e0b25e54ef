package hub

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"palaver/internal/content"
	"palaver/internal/models"
	"palaver/internal/storage"
)

const sessionBuffer = 100

// Notifier delivers an out-of-band notification for a private message
// whose target is offline. Implementations must not block the caller.
type Notifier interface {
	NotifyOffline(userID string, msg models.Message)
}

// IdentityResolver maps a username to its registered identity. The hub
// uses it to stamp the user id of a private-message target that has no
// live connection to resolve against.
type IdentityResolver interface {
	LookupIdentity(username string) (models.Identity, bool)
}

// Hub is the message router. It owns the presence, room and typing
// registries, fans events out to connected sessions and goes through the
// message store for anything persistent.
type Hub struct {
	store    storage.MessageStore
	notifier Notifier
	resolver IdentityResolver

	presence *presenceRegistry
	rooms    *roomRegistry
	typing   *typingAggregator

	// sessions maps connection id to its outbound event channel.
	mu       sync.RWMutex
	sessions map[string]chan models.ServerEvent

	// roomSends serializes append+fan-out per room so every member
	// observes one room's messages in the same order.
	sendMu    sync.Mutex
	roomSends map[string]*sync.Mutex
}

func NewHub(store storage.MessageStore, notifier Notifier, resolver IdentityResolver) *Hub {
	return &Hub{
		store:     store,
		notifier:  notifier,
		resolver:  resolver,
		presence:  newPresenceRegistry(),
		rooms:     newRoomRegistry(),
		typing:    newTypingAggregator(),
		sessions:  make(map[string]chan models.ServerEvent),
		roomSends: make(map[string]*sync.Mutex),
	}
}

// Register binds an authenticated identity to a connection, places it in
// the default room and announces it. It returns the channel the
// connection's writer loop drains. Binding the same identity twice for one
// connection is idempotent; a different identity is rejected.
func (h *Hub) Register(connID string, identity models.Identity) (chan models.ServerEvent, error) {
	if err := h.presence.Bind(connID, identity); err != nil {
		return nil, err
	}

	h.mu.Lock()
	// A replayed registration keeps the existing session instead of
	// orphaning its channel.
	if existing, ok := h.sessions[connID]; ok {
		h.mu.Unlock()
		return existing, nil
	}
	ch := make(chan models.ServerEvent, sessionBuffer)
	h.sessions[connID] = ch
	h.mu.Unlock()

	room := h.rooms.Join(connID, models.DefaultRoom)

	h.broadcastAll(models.ServerEvent{Type: models.ServerEventUserList, Roster: h.presence.ListActive()})
	h.broadcastAll(models.ServerEvent{
		Type:         models.ServerEventUserJoined,
		Username:     identity.Username,
		ConnectionID: connID,
	})
	h.broadcastRoom(room, models.ServerEvent{Type: models.ServerEventRoomsList, Rooms: h.rooms.List()})

	slog.Info("user connected", "username", identity.Username, "conn_id", connID)
	return ch, nil
}

// Unregister removes the connection from every registry and announces the
// departure. It is unconditional: it runs even when a send from the same
// connection is still in flight, and afterwards the connection is absent
// from presence, room membership and typing state.
func (h *Hub) Unregister(connID string) {
	if room, wasTyping := h.typing.Clear(connID); wasTyping {
		h.broadcastRoom(room, models.ServerEvent{
			Type:        models.ServerEventTypingUsers,
			TypingUsers: h.typing.Snapshot(room),
		})
	}

	h.rooms.Leave(connID)

	identity, wasBound := h.presence.Unbind(connID)

	h.mu.Lock()
	if ch, ok := h.sessions[connID]; ok {
		close(ch)
		delete(h.sessions, connID)
	}
	h.mu.Unlock()

	if wasBound {
		h.broadcastAll(models.ServerEvent{
			Type:         models.ServerEventUserLeft,
			Username:     identity.Username,
			ConnectionID: connID,
		})
		h.broadcastAll(models.ServerEvent{Type: models.ServerEventUserList, Roster: h.presence.ListActive()})
		slog.Info("user disconnected", "username", identity.Username, "conn_id", connID)
	}
}

// JoinRoom moves the connection into the room (leaving its previous one)
// and pushes the rooms list to the room it joined.
func (h *Hub) JoinRoom(connID, room string) {
	// Moving rooms must not leave the username stuck in the old room's
	// typing set.
	if prevRoom, wasTyping := h.typing.Clear(connID); wasTyping {
		h.broadcastRoom(prevRoom, models.ServerEvent{
			Type:        models.ServerEventTypingUsers,
			TypingUsers: h.typing.Snapshot(prevRoom),
		})
	}

	joined := h.rooms.Join(connID, room)
	h.broadcastRoom(joined, models.ServerEvent{Type: models.ServerEventRoomsList, Rooms: h.rooms.List()})
}

// SendToRoom persists and fans a message out to the sender's current room,
// returning the delivery acknowledgment. A persistence failure is logged
// and the message is still delivered under a locally generated id.
func (h *Hub) SendToRoom(connID, body string, attachments []models.Attachment) models.Ack {
	identity, ok := h.presence.Get(connID)
	if !ok {
		return models.Ack{}
	}

	room := h.rooms.RoomOf(connID)

	lock := h.roomSendLock(room)
	lock.Lock()
	defer lock.Unlock()

	msg, err := h.store.Append(models.MessageDraft{
		Kind:        models.MessageKindRoom,
		Body:        body,
		Sender:      identity.Username,
		SenderID:    identity.UserID,
		Room:        room,
		Attachments: attachments,
	})
	if err != nil {
		slog.Error("failed to persist room message", "room", room, "error", err)
		msg = h.fallbackStamp(models.MessageKindRoom, body, identity, attachments)
		msg.Room = room
	}
	msg.HTML = content.RenderMarkdown(msg.Body)

	h.broadcastRoom(room, models.ServerEvent{Type: models.ServerEventReceiveMessage, Message: &msg})

	return models.Ack{OK: true, ID: msg.ID, Timestamp: msg.Timestamp}
}

// SendPrivate persists a private message and delivers it to the target
// connection if one is online. The stamped copy is always echoed back to
// the sender. Resolution by connection id takes precedence; otherwise the
// username is used, and an offline target still gets the message persisted
// under its username so history queries find it.
func (h *Hub) SendPrivate(connID, toConn, toUsername, body string, attachments []models.Attachment) {
	identity, ok := h.presence.Get(connID)
	if !ok {
		return
	}

	targetConn := ""
	targetIdentity, targetOnline := models.Identity{}, false
	if toConn != "" {
		if id, found := h.presence.Get(toConn); found {
			targetConn, targetIdentity, targetOnline = toConn, id, true
		}
	}
	if !targetOnline && toUsername != "" {
		targetConn, targetIdentity, targetOnline = h.presence.FindByUsername(toUsername)
	}

	draft := models.MessageDraft{
		Kind:        models.MessageKindPrivate,
		Body:        body,
		Sender:      identity.Username,
		SenderID:    identity.UserID,
		ToUsername:  toUsername,
		Attachments: attachments,
	}
	if targetOnline {
		draft.ToUsername = targetIdentity.Username
		draft.ToUserID = targetIdentity.UserID
	} else if toUsername != "" && h.resolver != nil {
		// Offline target: resolve the registered account so the
		// persisted message and the push notification carry its user id.
		if id, ok := h.resolver.LookupIdentity(toUsername); ok {
			draft.ToUsername = id.Username
			draft.ToUserID = id.UserID
		}
	}

	msg, err := h.store.Append(draft)
	if err != nil {
		slog.Error("failed to persist private message", "to", draft.ToUsername, "error", err)
		msg = h.fallbackStamp(models.MessageKindPrivate, body, identity, attachments)
		msg.ToUsername = draft.ToUsername
		msg.ToUserID = draft.ToUserID
	}
	msg.HTML = content.RenderMarkdown(msg.Body)

	ev := models.ServerEvent{Type: models.ServerEventPrivateMessage, Message: &msg}
	if targetOnline && targetConn != connID {
		h.sendTo(targetConn, ev)
	}
	h.sendTo(connID, ev)

	if !targetOnline && h.notifier != nil && msg.ToUsername != "" {
		h.notifier.NotifyOffline(msg.ToUserID, msg)
	}
}

// SetTyping updates the sender's typing state and pushes the room's full
// typing snapshot on every change.
func (h *Hub) SetTyping(connID string, typing bool) {
	identity, ok := h.presence.Get(connID)
	if !ok {
		return
	}

	room := h.rooms.RoomOf(connID)
	if !h.typing.Set(connID, identity.Username, room, typing) {
		return
	}

	h.broadcastRoom(room, models.ServerEvent{
		Type:        models.ServerEventTypingUsers,
		TypingUsers: h.typing.Snapshot(room),
	})
}

// MarkRead adds the reader to a message's read-by set and broadcasts a
// read event only when the set actually changed. Unknown or malformed
// message ids are ignored.
func (h *Hub) MarkRead(connID, messageID string) {
	identity, ok := h.presence.Get(connID)
	if !ok {
		return
	}

	changed, err := h.store.UpdateReadBy(messageID, identity.UserID)
	if err != nil {
		slog.Debug("read receipt ignored", "message_id", messageID, "error", err)
		return
	}
	if !changed {
		return
	}

	h.broadcastAll(models.ServerEvent{
		Type:      models.ServerEventMessageRead,
		MessageID: messageID,
		UserID:    identity.UserID,
	})
}

// React toggles the (user, type) reaction pair and always broadcasts the
// resulting reaction list, whichever direction the toggle went.
func (h *Hub) React(connID, messageID, reaction string) {
	identity, ok := h.presence.Get(connID)
	if !ok {
		return
	}

	snapshot, err := h.store.UpdateReaction(messageID, identity.UserID, reaction)
	if err != nil {
		slog.Debug("reaction ignored", "message_id", messageID, "error", err)
		return
	}

	h.broadcastAll(models.ServerEvent{
		Type:      models.ServerEventMessageReaction,
		MessageID: messageID,
		Reactions: snapshot,
	})
}

// Roster returns the current active-user snapshot.
func (h *Hub) Roster() []models.RosterEntry {
	return h.presence.ListActive()
}

// Rooms returns the known room names.
func (h *Hub) Rooms() []string {
	return h.rooms.List()
}

// IsOnline reports whether any connection is bound to the username.
func (h *Hub) IsOnline(username string) bool {
	_, _, online := h.presence.FindByUsername(username)
	return online
}

func (h *Hub) fallbackStamp(kind models.MessageKind, body string, sender models.Identity, attachments []models.Attachment) models.Message {
	ts := time.Now()
	return models.Message{
		ID:          strconv.FormatInt(ts.UnixMilli(), 10),
		Kind:        kind,
		Body:        body,
		Sender:      sender.Username,
		SenderID:    sender.UserID,
		Timestamp:   ts.UTC(),
		Attachments: attachments,
	}
}

func (h *Hub) roomSendLock(room string) *sync.Mutex {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	lock, ok := h.roomSends[room]
	if !ok {
		lock = &sync.Mutex{}
		h.roomSends[room] = lock
	}
	return lock
}

// sendTo delivers without blocking, dropping the event when the session
// buffer is full. The read lock is held across the send so a concurrent
// Unregister cannot close the channel mid-send.
func (h *Hub) sendTo(connID string, ev models.ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.sessions[connID]
	if !ok {
		return
	}

	select {
	case ch <- ev:
	default:
		slog.Warn("dropping event for slow connection", "conn_id", connID, "event", ev.Type)
	}
}

func (h *Hub) broadcastRoom(room string, ev models.ServerEvent) {
	for _, connID := range h.rooms.Members(room) {
		h.sendTo(connID, ev)
	}
}

func (h *Hub) broadcastAll(ev models.ServerEvent) {
	h.mu.RLock()
	conns := make([]string, 0, len(h.sessions))
	for connID := range h.sessions {
		conns = append(conns, connID)
	}
	h.mu.RUnlock()

	for _, connID := range conns {
		h.sendTo(connID, ev)
	}
}
