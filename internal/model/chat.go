package model

import "time"

type ChatType string

const (
	ChatTypeIndividual ChatType = "individual"
	ChatTypeGroup      ChatType = "group"
	ChatTypeGeneral    ChatType = "general"
)

type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusArchived ChatStatus = "archived"
	ChatStatusDeleted  ChatStatus = "deleted"
)

type ParticipantRole string

const (
	RoleMember ParticipantRole = "member"
	RoleAdmin  ParticipantRole = "admin"
	RoleOwner  ParticipantRole = "owner"
)

// ChatSettings is persisted as-is; ApprovalRequired is not consulted by the
// core logic but kept for clients.
type ChatSettings struct {
	ApprovalRequired  bool `json:"approval_required"`
	OnlyAdminsCanSend bool `json:"only_admins_can_send"`
}

type Chat struct {
	ID            string       `json:"id"`
	ChatType      ChatType     `json:"chat_type"`
	Status        ChatStatus   `json:"status"`
	Name          string       `json:"name"`
	AvatarURL     string       `json:"avatar_url,omitempty"`
	CreatedBy     string       `json:"created_by"`
	IsPublic      bool         `json:"is_public"`
	Settings      ChatSettings `json:"settings"`
	LastMessageID *string      `json:"last_message_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`

	// Participants is populated on single-chat reads; list queries leave it nil.
	Participants []Participant `json:"participants,omitempty"`
}

// Participant is a user's membership record within a chat. Exactly one record
// exists per (chat, user); removal flips IsActive, reactivation reuses the row.
type Participant struct {
	ChatID      string          `json:"chat_id"`
	UserID      string          `json:"user_id"`
	Role        ParticipantRole `json:"role"`
	IsActive    bool            `json:"is_active"`
	UnreadCount int             `json:"unread_count"`
	LastSeen    time.Time       `json:"last_seen"`
	Muted       bool            `json:"muted"`
	JoinedAt    time.Time       `json:"joined_at"`
}

// ChatSummary is a chat as returned by the user's chat list: annotated with a
// freshly computed unread count (authoritative, not the cached field) and the
// caller's own read state.
type ChatSummary struct {
	Chat        Chat      `json:"chat"`
	UnreadCount int       `json:"unread_count"`
	LastSeen    time.Time `json:"last_seen"`
	LastMessage *Message  `json:"last_message,omitempty"`
}
