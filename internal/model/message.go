package model

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypePhoto  MessageType = "photo"
	MessageTypeVideo  MessageType = "video"
	MessageTypeVoice  MessageType = "voice"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// IsMedia reports whether the type carries a file descriptor.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypePhoto, MessageTypeVideo, MessageTypeVoice, MessageTypeFile:
		return true
	}
	return false
}

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypePhoto, MessageTypeVideo, MessageTypeVoice, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// FileData describes the stored blob behind a media message. All fields are
// required together when the message type is a media type.
type FileData struct {
	FileName     string  `json:"file_name"`
	OriginalName string  `json:"original_name"`
	Size         int64   `json:"size"`
	MimeType     string  `json:"mime_type"`
	URL          string  `json:"url"`
	Duration     float64 `json:"duration,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

type Mention struct {
	UserID   string `json:"user_id"`
	Position int    `json:"position"`
}

// Reaction holds at most one emoji per user per message; a new reaction from
// the same user replaces the prior one.
type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	ReactedAt time.Time `json:"reacted_at"`
}

// ReadReceipt entries are append-only and unique per user.
type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type Message struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chat_id"`
	SenderID    string        `json:"sender_id"`
	Content     string        `json:"content"`
	MessageType MessageType   `json:"message_type"`
	ReplyToID   *string       `json:"reply_to_id,omitempty"`
	File        *FileData     `json:"file_data,omitempty"`
	Mentions    []Mention     `json:"mentions,omitempty"`
	Reactions   []Reaction    `json:"reactions,omitempty"`
	ReadBy      []ReadReceipt `json:"read_by,omitempty"`
	IsEdited    bool          `json:"is_edited"`
	IsDeleted   bool          `json:"is_deleted"`
	DeletedAt   *time.Time    `json:"deleted_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`

	Sender *UserPublic `json:"sender,omitempty"`
}
