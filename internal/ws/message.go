package ws

import "github.com/reportdesk/internal/model"

type EventType string

// Client -> server events.
const (
	EventAuthenticate   EventType = "authenticate"
	EventJoinChat       EventType = "join_chat"
	EventSendMessage    EventType = "send_message"
	EventEditMessage    EventType = "edit_message"
	EventDeleteMessage  EventType = "delete_message"
	EventAddReaction    EventType = "add_reaction"
	EventRemoveReaction EventType = "remove_reaction"
	EventTypingStart    EventType = "typing_start"
	EventTypingStop     EventType = "typing_stop"
	EventMarkRead       EventType = "mark_message_read"
)

// Server -> client events.
const (
	EventJoinedChat       EventType = "joined_chat"
	EventNewMessage       EventType = "new_message"
	EventMessageDelivered EventType = "message_delivered"
	EventMessageError     EventType = "message_error"
	EventMessageEdited    EventType = "message_edited"
	EventMessageDeleted   EventType = "message_deleted"
	EventReactionAdded    EventType = "reaction_added"
	EventReactionRemoved  EventType = "reaction_removed"
	EventMessageRead      EventType = "message_read"
	EventUserTyping       EventType = "user_typing"
	EventUserOnline       EventType = "user_online"
	EventUserOffline      EventType = "user_offline"
	EventError            EventType = "error"
)

// IncomingMessage is the envelope for every client-sent event.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// authenticate
	UserID string `json:"user_id,omitempty"`

	// join_chat / send_message / typing / read
	ChatID string `json:"chat_id,omitempty"`

	// send_message
	Content     string            `json:"content,omitempty"`
	MessageType model.MessageType `json:"message_type,omitempty"`
	ReplyToID   string            `json:"reply_to_id,omitempty"`
	FileData    *model.FileData   `json:"file_data,omitempty"`
	Mentions    []model.Mention   `json:"mentions,omitempty"`
	// TempID is the client-side correlation id echoed back on
	// message_delivered / message_error so optimistic UI state can reconcile.
	TempID string `json:"temp_id,omitempty"`

	// edit/delete/reactions/read
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}

// OutgoingMessage is the envelope for every server-sent event. Payloads are
// typed structs, not maps.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type JoinedChatPayload struct {
	ChatID string `json:"chat_id"`
}

type ErrorPayload struct {
	Error  string `json:"error"`
	TempID string `json:"temp_id,omitempty"`
}

type DeliveredPayload struct {
	MessageID string `json:"message_id"`
	TempID    string `json:"temp_id,omitempty"`
}

type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type TypingPayload struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type MessageEditedPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	Content   string `json:"content"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

type ReactionPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji,omitempty"`
}

type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
}
