package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// DefaultRoom is the room every connection starts in. It always exists.
const DefaultRoom = "global"

// Identity is a verified {username, userId} pair bound to a connection.
// It is established by the auth service and treated as opaque afterwards.
type Identity struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type MessageKind string

const (
	MessageKindRoom    MessageKind = "room"
	MessageKindPrivate MessageKind = "private"
)

// Message is a stamped chat message. Kind tags the target variant:
// room messages carry Room, private messages carry ToUsername/ToUserID.
// The target is immutable after creation; ReadBy and Reactions are the
// only fields mutated post-creation.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"message"`
	HTML      string      `json:"html,omitempty"`
	Sender    string      `json:"sender"`
	SenderID  string      `json:"senderId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`

	// Room target fields.
	Room string `json:"room,omitempty"`

	// Private target fields.
	ToUsername string `json:"toUsername,omitempty"`
	ToUserID   string `json:"toUserId,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
	ReadBy      []string     `json:"readBy,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
}

// MessageDraft is a message before the store assigns id and timestamp.
type MessageDraft struct {
	Kind        MessageKind
	Body        string
	Sender      string
	SenderID    string
	Room        string
	ToUsername  string
	ToUserID    string
	Attachments []Attachment
}

// Attachment is opaque upload metadata carried on a message. The server
// neither validates nor interprets it beyond its shape.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Reaction is one (user, type) reaction entry. A message holds at most
// one entry per pair; toggling an existing pair removes it.
type Reaction struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// RosterEntry is one line of the live-user roster.
type RosterEntry struct {
	Username     string `json:"username"`
	ConnectionID string `json:"id"`
	UserID       string `json:"userId,omitempty"`
}

// Ack acknowledges a send_message event back to the sender.
type Ack struct {
	OK        bool      `json:"ok"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientEventType string

const (
	ClientEventJoinRoom       ClientEventType = "join_room"
	ClientEventSendMessage    ClientEventType = "send_message"
	ClientEventPrivateMessage ClientEventType = "private_message"
	ClientEventTyping         ClientEventType = "typing"
	ClientEventReadMessage    ClientEventType = "read_message"
	ClientEventReactMessage   ClientEventType = "react_message"
)

// ClientEvent is a message sent from the client to the server.
// Ref, when set, is echoed back on the ack for send_message.
type ClientEvent struct {
	Type        ClientEventType `json:"type"`
	Ref         string          `json:"ref,omitempty"`
	Room        string          `json:"room,omitempty"`
	Body        string          `json:"message,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	To          string          `json:"to,omitempty"`
	ToUsername  string          `json:"toUsername,omitempty"`
	Typing      bool            `json:"isTyping,omitempty"`
	MessageID   string          `json:"messageId,omitempty"`
	Reaction    string          `json:"reaction,omitempty"`
}

type ServerEventType string

const (
	ServerEventReceiveMessage  ServerEventType = "receive_message"
	ServerEventPrivateMessage  ServerEventType = "private_message"
	ServerEventUserList        ServerEventType = "user_list"
	ServerEventUserJoined      ServerEventType = "user_joined"
	ServerEventUserLeft        ServerEventType = "user_left"
	ServerEventTypingUsers     ServerEventType = "typing_users"
	ServerEventRoomsList       ServerEventType = "rooms_list"
	ServerEventMessageRead     ServerEventType = "message_read"
	ServerEventMessageReaction ServerEventType = "message_reaction"
	ServerEventAck             ServerEventType = "ack"
)

// ServerEvent is a message pushed from the server to a client.
type ServerEvent struct {
	Type         ServerEventType `json:"type"`
	Ref          string          `json:"ref,omitempty"`
	Message      *Message        `json:"payload,omitempty"`
	Roster       []RosterEntry   `json:"users,omitempty"`
	Username     string          `json:"username,omitempty"`
	ConnectionID string          `json:"id,omitempty"`
	TypingUsers  []string        `json:"typingUsers,omitempty"`
	Rooms        []string        `json:"rooms,omitempty"`
	MessageID    string          `json:"messageId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Reactions    []Reaction      `json:"reactions,omitempty"`
	Ack          *Ack            `json:"ack,omitempty"`
}

// APIResponse is the generic success/message envelope for REST handlers.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
