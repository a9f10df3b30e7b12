// Package service holds the chat business logic: chat and message lifecycle,
// authorization rules and unread accounting. It is transport-agnostic; the
// REST handlers and the websocket gateway both call into it.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reportdesk/internal/apperr"
	"github.com/reportdesk/internal/model"
	"github.com/reportdesk/internal/repository"
)

// ChatStore is the persistence surface the chat service needs. Implemented by
// repository.ChatRepository and by the in-memory store used in tests.
type ChatStore interface {
	Create(ctx context.Context, c *model.Chat, participants []model.Participant) error
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	FindDirectChat(ctx context.Context, userID1, userID2 string) (*model.Chat, error)
	ListUserChats(ctx context.Context, userID string) ([]model.Chat, error)
	GetParticipant(ctx context.Context, chatID, userID string) (*model.Participant, error)
	AddParticipant(ctx context.Context, p *model.Participant) error
	ReactivateParticipant(ctx context.Context, chatID, userID string, at time.Time) error
	DeactivateParticipant(ctx context.Context, chatID, userID string) error
	TouchLastSeen(ctx context.Context, chatID, userID string, at time.Time) error
	ResetUnread(ctx context.Context, chatID, userID string) error
	IncrementUnread(ctx context.Context, chatID, exceptUserID string) error
	SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error
	SetMuted(ctx context.Context, chatID, userID string, muted bool) error
	UnreadCount(ctx context.Context, chatID, userID string) (int, error)
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error)
	UpdateContent(ctx context.Context, id, content string) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	UpsertReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) error
	RemoveReaction(ctx context.Context, messageID, userID string) error
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) error
}

// UserDirectory resolves user ids to identity records. Identity lives in an
// upstream service; the chat core only checks existence and reads names.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type ChatService struct {
	chats    ChatStore
	messages MessageStore
	users    UserDirectory
}

func NewChatService(chats ChatStore, messages MessageStore, users UserDirectory) *ChatService {
	return &ChatService{chats: chats, messages: messages, users: users}
}

const defaultGroupName = "New Group"

// GetOrCreateDirectChat returns the active individual chat between the two
// users, creating it on first contact. Calling it twice yields the same chat.
// The caller's lastSeen is refreshed either way.
func (s *ChatService) GetOrCreateDirectChat(ctx context.Context, userID, recipientID string) (*model.Chat, error) {
	if userID == "" || recipientID == "" {
		return nil, apperr.Validation("user id and recipient id are required")
	}
	if userID == recipientID {
		return nil, apperr.Validation("cannot open a direct chat with yourself")
	}
	for _, id := range []string{userID, recipientID} {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.NotFound("user " + id + " not found")
			}
			return nil, apperr.Upstream("user lookup failed", err)
		}
	}

	now := time.Now().UTC()
	chat, err := s.chats.FindDirectChat(ctx, userID, recipientID)
	if err == nil {
		if err := s.chats.TouchLastSeen(ctx, chat.ID, userID, now); err != nil {
			return nil, apperr.Upstream("update last seen failed", err)
		}
		return chat, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Upstream("direct chat lookup failed", err)
	}

	chat = &model.Chat{
		ID:        uuid.NewString(),
		ChatType:  model.ChatTypeIndividual,
		Status:    model.ChatStatusActive,
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	participants := []model.Participant{
		{ChatID: chat.ID, UserID: userID, Role: model.RoleMember, IsActive: true, LastSeen: now, JoinedAt: now},
		{ChatID: chat.ID, UserID: recipientID, Role: model.RoleMember, IsActive: true, LastSeen: now, JoinedAt: now},
	}
	if err := s.chats.Create(ctx, chat, participants); err != nil {
		return nil, apperr.Upstream("create direct chat failed", err)
	}
	chat.Participants = participants
	return chat, nil
}

type GroupChatInput struct {
	Name           string
	AvatarURL      string
	IsPublic       bool
	ParticipantIDs []string
	Settings       model.ChatSettings
}

// CreateGroupChat creates a group with the creator as owner and the given
// users as members. Participant ids are deduplicated against the creator and
// each other.
func (s *ChatService) CreateGroupChat(ctx context.Context, creatorID string, in GroupChatInput) (*model.Chat, error) {
	if creatorID == "" {
		return nil, apperr.Validation("creator id is required")
	}
	if _, err := s.users.GetByID(ctx, creatorID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("user " + creatorID + " not found")
		}
		return nil, apperr.Upstream("user lookup failed", err)
	}

	seen := map[string]bool{creatorID: true}
	members := make([]string, 0, len(in.ParticipantIDs))
	for _, id := range in.ParticipantIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.users.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.NotFound("user " + id + " not found")
			}
			return nil, apperr.Upstream("user lookup failed", err)
		}
		members = append(members, id)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = defaultGroupName
	}

	now := time.Now().UTC()
	chat := &model.Chat{
		ID:        uuid.NewString(),
		ChatType:  model.ChatTypeGroup,
		Status:    model.ChatStatusActive,
		Name:      name,
		AvatarURL: in.AvatarURL,
		CreatedBy: creatorID,
		IsPublic:  in.IsPublic,
		Settings:  in.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	participants := make([]model.Participant, 0, len(members)+1)
	participants = append(participants, model.Participant{
		ChatID: chat.ID, UserID: creatorID, Role: model.RoleOwner, IsActive: true, LastSeen: now, JoinedAt: now,
	})
	for _, id := range members {
		participants = append(participants, model.Participant{
			ChatID: chat.ID, UserID: id, Role: model.RoleMember, IsActive: true, LastSeen: now, JoinedAt: now,
		})
	}
	if err := s.chats.Create(ctx, chat, participants); err != nil {
		return nil, apperr.Upstream("create group chat failed", err)
	}
	chat.Participants = participants
	return chat, nil
}

// GetUserChats lists the user's active chats, most recently updated first.
// The unread count on each entry is recomputed from message timestamps, not
// read from the cached counter.
func (s *ChatService) GetUserChats(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	chats, err := s.chats.ListUserChats(ctx, userID)
	if err != nil {
		return nil, apperr.Upstream("list chats failed", err)
	}
	summaries := make([]model.ChatSummary, 0, len(chats))
	for i := range chats {
		c := chats[i]
		unread, err := s.chats.UnreadCount(ctx, c.ID, userID)
		if err != nil {
			return nil, apperr.Upstream("unread count failed", err)
		}
		p, err := s.chats.GetParticipant(ctx, c.ID, userID)
		if err != nil {
			return nil, apperr.Upstream("participant lookup failed", err)
		}
		summary := model.ChatSummary{Chat: c, UnreadCount: unread, LastSeen: p.LastSeen}
		if c.LastMessageID != nil {
			if msg, err := s.messages.GetByID(ctx, *c.LastMessageID); err == nil {
				summary.LastMessage = msg
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetChatMessages returns up to limit non-deleted messages in chronological
// order. Requires the caller to be an active participant; the chat itself may
// be archived. Reading marks the chat seen: lastSeen moves to now and the
// cached unread counter resets.
func (s *ChatService) GetChatMessages(ctx context.Context, chatID, userID string, page, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	p, err := s.chats.GetParticipant(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Forbidden("not a participant of this chat")
		}
		return nil, apperr.Upstream("participant lookup failed", err)
	}
	if !p.IsActive {
		return nil, apperr.Forbidden("not a participant of this chat")
	}

	messages, err := s.messages.ListChat(ctx, chatID, limit, (page-1)*limit)
	if err != nil {
		return nil, apperr.Upstream("list messages failed", err)
	}
	// Store order is newest-first; clients want chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	now := time.Now().UTC()
	if err := s.chats.TouchLastSeen(ctx, chatID, userID, now); err != nil {
		return nil, apperr.Upstream("update last seen failed", err)
	}
	if err := s.chats.ResetUnread(ctx, chatID, userID); err != nil {
		return nil, apperr.Upstream("reset unread failed", err)
	}
	return messages, nil
}

type CreateMessageInput struct {
	ChatID      string
	SenderID    string
	Content     string
	MessageType model.MessageType
	ReplyToID   *string
	File        *model.FileData
	Mentions    []model.Mention
}

func validateMessageInput(in CreateMessageInput) error {
	if !in.MessageType.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown message type %q", in.MessageType))
	}
	if strings.TrimSpace(in.Content) == "" {
		return apperr.Validation("message content is required")
	}
	if in.MessageType.IsMedia() {
		f := in.File
		if f == nil || f.FileName == "" || f.URL == "" || f.MimeType == "" || f.Size <= 0 {
			return apperr.Validation("media messages require complete file data")
		}
	} else if in.File != nil {
		return apperr.Validation(fmt.Sprintf("message type %q does not carry file data", in.MessageType))
	}
	return nil
}

// CreateMessage persists a message in an active chat, bumps the chat summary
// and increments the unread cache for every other participant. The summary
// update and the unread increment are independent writes; readers must not
// assume they land together.
func (s *ChatService) CreateMessage(ctx context.Context, in CreateMessageInput) (*model.Message, error) {
	if in.MessageType == "" {
		in.MessageType = model.MessageTypeText
	}
	if err := validateMessageInput(in); err != nil {
		return nil, err
	}

	chat, err := s.chats.GetByID(ctx, in.ChatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("chat not found")
		}
		return nil, apperr.Upstream("chat lookup failed", err)
	}
	if chat.Status != model.ChatStatusActive {
		return nil, apperr.NotFound("chat not found")
	}
	p, err := s.chats.GetParticipant(ctx, in.ChatID, in.SenderID)
	if err != nil || !p.IsActive {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Upstream("participant lookup failed", err)
		}
		return nil, apperr.NotFound("not a participant of this chat")
	}
	if chat.ChatType == model.ChatTypeGroup && chat.Settings.OnlyAdminsCanSend {
		if p.Role != model.RoleAdmin && p.Role != model.RoleOwner {
			return nil, apperr.Forbidden("only admins can send messages in this chat")
		}
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:          uuid.NewString(),
		ChatID:      in.ChatID,
		SenderID:    in.SenderID,
		Content:     in.Content,
		MessageType: in.MessageType,
		ReplyToID:   in.ReplyToID,
		File:        in.File,
		Mentions:    in.Mentions,
		CreatedAt:   now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperr.Upstream("create message failed", err)
	}
	// Summary fields are caches: a failure past this point leaves the message
	// persisted and the counters recomputable, so nothing is rolled back.
	if err := s.chats.SetLastMessage(ctx, in.ChatID, msg.ID, now); err != nil {
		return nil, apperr.Upstream("update chat summary failed", err)
	}
	if err := s.chats.IncrementUnread(ctx, in.ChatID, in.SenderID); err != nil {
		return nil, apperr.Upstream("increment unread failed", err)
	}
	return s.materialized(ctx, msg.ID)
}

func (s *ChatService) materialized(ctx context.Context, messageID string) (*model.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, apperr.Upstream("message lookup failed", err)
	}
	return msg, nil
}

// EditMessage changes the content of the caller's own, not yet deleted
// message and flags it edited.
func (s *ChatService) EditMessage(ctx context.Context, messageID, userID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("message content is required")
	}
	msg, err := s.materialized(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, apperr.Forbidden("only the sender can edit a message")
	}
	if msg.IsDeleted {
		return nil, apperr.NotFound("message not found")
	}
	if err := s.messages.UpdateContent(ctx, messageID, content); err != nil {
		return nil, apperr.Upstream("edit message failed", err)
	}
	return s.materialized(ctx, messageID)
}

// DeleteMessage soft-deletes the caller's own message. The row stays so that
// replyTo and lastMessage references keep resolving.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID, userID string) (*model.Message, error) {
	msg, err := s.materialized(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, apperr.Forbidden("only the sender can delete a message")
	}
	if msg.IsDeleted {
		return msg, nil
	}
	if err := s.messages.SoftDelete(ctx, messageID, time.Now().UTC()); err != nil {
		return nil, apperr.Upstream("delete message failed", err)
	}
	return s.materialized(ctx, messageID)
}

// AddReaction sets the user's reaction on a message. A user holds at most one
// reaction per message; a new emoji replaces the prior one.
func (s *ChatService) AddReaction(ctx context.Context, messageID, userID, emoji string) (*model.Message, error) {
	if emoji == "" {
		return nil, apperr.Validation("emoji is required")
	}
	msg, err := s.materialized(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, apperr.NotFound("message not found")
	}
	if err := s.requireActiveParticipant(ctx, msg.ChatID, userID); err != nil {
		return nil, err
	}
	if err := s.messages.UpsertReaction(ctx, messageID, userID, emoji, time.Now().UTC()); err != nil {
		return nil, apperr.Upstream("add reaction failed", err)
	}
	return s.materialized(ctx, messageID)
}

func (s *ChatService) RemoveReaction(ctx context.Context, messageID, userID string) (*model.Message, error) {
	msg, err := s.materialized(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireActiveParticipant(ctx, msg.ChatID, userID); err != nil {
		return nil, err
	}
	if err := s.messages.RemoveReaction(ctx, messageID, userID); err != nil {
		return nil, apperr.Upstream("remove reaction failed", err)
	}
	return s.materialized(ctx, messageID)
}

// MarkMessageRead records a read receipt. Idempotent: a second call for the
// same (message, user) changes nothing.
func (s *ChatService) MarkMessageRead(ctx context.Context, messageID, userID string) (*model.Message, error) {
	msg, err := s.materialized(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireActiveParticipant(ctx, msg.ChatID, userID); err != nil {
		return nil, err
	}
	if err := s.messages.MarkRead(ctx, messageID, userID, time.Now().UTC()); err != nil {
		return nil, apperr.Upstream("mark read failed", err)
	}
	return s.materialized(ctx, messageID)
}

// UnreadCount is the authoritative unread number: non-deleted messages from
// other senders newer than the participant's lastSeen. The cached counter on
// the participant row is never consulted.
func (s *ChatService) UnreadCount(ctx context.Context, chatID, userID string) (int, error) {
	if _, err := s.chats.GetParticipant(ctx, chatID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, apperr.NotFound("not a participant of this chat")
		}
		return 0, apperr.Upstream("participant lookup failed", err)
	}
	count, err := s.chats.UnreadCount(ctx, chatID, userID)
	if err != nil {
		return 0, apperr.Upstream("unread count failed", err)
	}
	return count, nil
}

// AddParticipant adds a user to a chat, reusing the retained row if the user
// was previously removed. Requires admin or owner role, checked at call time.
func (s *ChatService) AddParticipant(ctx context.Context, chatID, newParticipantID, addedBy string) (*model.Chat, error) {
	if err := s.requireRole(ctx, chatID, addedBy, model.RoleAdmin, model.RoleOwner); err != nil {
		return nil, err
	}
	if _, err := s.users.GetByID(ctx, newParticipantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("user " + newParticipantID + " not found")
		}
		return nil, apperr.Upstream("user lookup failed", err)
	}

	now := time.Now().UTC()
	existing, err := s.chats.GetParticipant(ctx, chatID, newParticipantID)
	switch {
	case err == nil && existing.IsActive:
		return nil, apperr.Conflict("user is already a participant")
	case err == nil:
		if err := s.chats.ReactivateParticipant(ctx, chatID, newParticipantID, now); err != nil {
			return nil, apperr.Upstream("reactivate participant failed", err)
		}
	case errors.Is(err, repository.ErrNotFound):
		p := &model.Participant{
			ChatID: chatID, UserID: newParticipantID, Role: model.RoleMember,
			IsActive: true, LastSeen: now, JoinedAt: now,
		}
		if err := s.chats.AddParticipant(ctx, p); err != nil {
			return nil, apperr.Upstream("add participant failed", err)
		}
	default:
		return nil, apperr.Upstream("participant lookup failed", err)
	}

	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, apperr.Upstream("chat lookup failed", err)
	}
	return chat, nil
}

// RemoveParticipant soft-removes a user from a chat, preserving history.
func (s *ChatService) RemoveParticipant(ctx context.Context, chatID, participantID, removedBy string) error {
	if err := s.requireRole(ctx, chatID, removedBy, model.RoleAdmin, model.RoleOwner); err != nil {
		return err
	}
	if _, err := s.chats.GetParticipant(ctx, chatID, participantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("participant not found")
		}
		return apperr.Upstream("participant lookup failed", err)
	}
	if err := s.chats.DeactivateParticipant(ctx, chatID, participantID); err != nil {
		return apperr.Upstream("remove participant failed", err)
	}
	return nil
}

// UpdateNotificationSettings flips the caller's own mute flag for a chat.
func (s *ChatService) UpdateNotificationSettings(ctx context.Context, chatID, userID string, muted bool) error {
	if err := s.requireActiveParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.chats.SetMuted(ctx, chatID, userID, muted); err != nil {
		return apperr.Upstream("update notification settings failed", err)
	}
	return nil
}

// GetChat returns a chat with participants, for callers already known to be
// members (the gateway's join verification).
func (s *ChatService) GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	if err := s.requireActiveParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("chat not found")
		}
		return nil, apperr.Upstream("chat lookup failed", err)
	}
	return chat, nil
}

func (s *ChatService) requireActiveParticipant(ctx context.Context, chatID, userID string) error {
	p, err := s.chats.GetParticipant(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Forbidden("not a participant of this chat")
		}
		return apperr.Upstream("participant lookup failed", err)
	}
	if !p.IsActive {
		return apperr.Forbidden("not a participant of this chat")
	}
	return nil
}

// requireRole checks the caller's current participant record; roles are never
// cached across calls.
func (s *ChatService) requireRole(ctx context.Context, chatID, userID string, roles ...model.ParticipantRole) error {
	p, err := s.chats.GetParticipant(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Forbidden("not a participant of this chat")
		}
		return apperr.Upstream("participant lookup failed", err)
	}
	if !p.IsActive {
		return apperr.Forbidden("not a participant of this chat")
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return apperr.Forbidden("insufficient role for this operation")
}
