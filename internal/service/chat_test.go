package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportdesk/internal/apperr"
	"github.com/reportdesk/internal/model"
	"github.com/reportdesk/internal/repository/memstore"
)

func newTestService(userIDs ...string) (*ChatService, *memstore.Store) {
	store := memstore.New()
	for _, id := range userIDs {
		store.AddUser(model.User{ID: id, FirstName: id})
	}
	return NewChatService(store.Chats(), store.Messages(), store), store
}

func sendText(t *testing.T, svc *ChatService, chatID, senderID, content string) *model.Message {
	t.Helper()
	msg, err := svc.CreateMessage(context.Background(), CreateMessageInput{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
	})
	require.NoError(t, err)
	return msg
}

func TestGetOrCreateDirectChatIdempotent(t *testing.T) {
	svc, _ := newTestService("alice", "bob")
	ctx := context.Background()

	first, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, model.ChatTypeIndividual, first.ChatType)
	require.Len(t, first.Participants, 2)

	second, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Order of the pair must not matter either.
	third, err := svc.GetOrCreateDirectChat(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
}

func TestGetOrCreateDirectChatValidation(t *testing.T) {
	svc, _ := newTestService("alice", "bob")
	ctx := context.Background()

	_, err := svc.GetOrCreateDirectChat(ctx, "alice", "alice")
	assert.True(t, apperr.Is(err, "VALIDATION_ERROR"))

	_, err = svc.GetOrCreateDirectChat(ctx, "alice", "")
	assert.True(t, apperr.Is(err, "VALIDATION_ERROR"))

	_, err = svc.GetOrCreateDirectChat(ctx, "alice", "ghost")
	assert.True(t, apperr.Is(err, "NOT_FOUND"))
}

func TestCreateGroupChatDefaultsAndDedup(t *testing.T) {
	svc, _ := newTestService("alice", "bob", "carol")
	ctx := context.Background()

	chat, err := svc.CreateGroupChat(ctx, "alice", GroupChatInput{
		Name:           "   ",
		ParticipantIDs: []string{"bob", "bob", "alice", "carol"},
	})
	require.NoError(t, err)
	assert.Equal(t, "New Group", chat.Name)
	require.Len(t, chat.Participants, 3)

	roles := map[string]model.ParticipantRole{}
	for _, p := range chat.Participants {
		roles[p.UserID] = p.Role
	}
	assert.Equal(t, model.RoleOwner, roles["alice"])
	assert.Equal(t, model.RoleMember, roles["bob"])
	assert.Equal(t, model.RoleMember, roles["carol"])
}

func TestCreateMessageValidation(t *testing.T) {
	svc, _ := newTestService("alice", "bob")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   CreateMessageInput
	}{
		{"empty content", CreateMessageInput{ChatID: chat.ID, SenderID: "alice", Content: "   "}},
		{"unknown type", CreateMessageInput{ChatID: chat.ID, SenderID: "alice", Content: "x", MessageType: "carrier-pigeon"}},
		{"media without file", CreateMessageInput{ChatID: chat.ID, SenderID: "alice", Content: "pic", MessageType: model.MessageTypePhoto}},
		{"text with file", CreateMessageInput{
			ChatID: chat.ID, SenderID: "alice", Content: "x",
			File: &model.FileData{FileName: "a.png", URL: "/api/files/a.png", MimeType: "image/png", Size: 10},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateMessage(ctx, tc.in)
			assert.True(t, apperr.Is(err, "VALIDATION_ERROR"), "got %v", err)
		})
	}
}

func TestCreateMessageNonParticipant(t *testing.T) {
	svc, _ := newTestService("alice", "bob", "mallory")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.CreateMessage(ctx, CreateMessageInput{ChatID: chat.ID, SenderID: "mallory", Content: "hi"})
	assert.True(t, apperr.Is(err, "NOT_FOUND"))

	_, err = svc.CreateMessage(ctx, CreateMessageInput{ChatID: "no-such-chat", SenderID: "alice", Content: "hi"})
	assert.True(t, apperr.Is(err, "NOT_FOUND"))
}

func TestOnlyAdminsCanSend(t *testing.T) {
	svc, _ := newTestService("alice", "bob")
	ctx := context.Background()

	chat, err := svc.CreateGroupChat(ctx, "alice", GroupChatInput{
		Name:           "Announcements",
		ParticipantIDs: []string{"bob"},
		Settings:       model.ChatSettings{OnlyAdminsCanSend: true},
	})
	require.NoError(t, err)

	_, err = svc.CreateMessage(ctx, CreateMessageInput{ChatID: chat.ID, SenderID: "bob", Content: "hi"})
	assert.True(t, apperr.Is(err, "FORBIDDEN"))

	// The owner still can.
	msg := sendText(t, svc, chat.ID, "alice", "release at noon")
	assert.Equal(t, "release at noon", msg.Content)
}

func TestUnreadCountAuthoritative(t *testing.T) {
	svc, store := newTestService("alice", "bob")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)

	sendText(t, svc, chat.ID, "alice", "one")
	sendText(t, svc, chat.ID, "alice", "two")
	deleted := sendText(t, svc, chat.ID, "alice", "oops")
	_, err = svc.DeleteMessage(ctx, deleted.ID, "alice")
	require.NoError(t, err)

	// Deleted messages and own messages never count.
	n, err := svc.UnreadCount(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.UnreadCount(ctx, chat.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The count derives from lastSeen, not from the cached counter: corrupt
	// the cache and the answer must not change.
	require.NoError(t, store.Chats().ResetUnread(ctx, chat.ID, "bob"))
	n, err = svc.UnreadCount(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Reading the chat moves lastSeen and zeroes the count.
	_, err = svc.GetChatMessages(ctx, chat.ID, "bob", 1, 50)
	require.NoError(t, err)
	n, err = svc.UnreadCount(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetChatMessagesOrderAndAccess(t *testing.T) {
	svc, _ := newTestService("alice", "bob", "mallory")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)

	sendText(t, svc, chat.ID, "alice", "first")
	sendText(t, svc, chat.ID, "bob", "second")
	deleted := sendText(t, svc, chat.ID, "alice", "third")
	_, err = svc.DeleteMessage(ctx, deleted.ID, "alice")
	require.NoError(t, err)

	messages, err := svc.GetChatMessages(ctx, chat.ID, "bob", 1, 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)

	_, err = svc.GetChatMessages(ctx, chat.ID, "mallory", 1, 50)
	assert.True(t, apperr.Is(err, "FORBIDDEN"))
}

func TestEditMessageSenderOnly(t *testing.T) {
	svc, _ := newTestService("alice", "bob")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)
	msg := sendText(t, svc, chat.ID, "alice", "typo")

	_, err = svc.EditMessage(ctx, msg.ID, "bob", "hijacked")
	assert.True(t, apperr.Is(err, "FORBIDDEN"))

	edited, err := svc.EditMessage(ctx, msg.ID, "alice", "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	assert.True(t, edited.IsEdited)

	_, err = svc.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	_, err = svc.EditMessage(ctx, msg.ID, "alice", "too late")
	assert.True(t, apperr.Is(err, "NOT_FOUND"))
}

func TestDeleteMessageIdempotent(t *testing.T) {
	svc, _ := newTestService("alice", "bob")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)
	msg := sendText(t, svc, chat.ID, "alice", "gone soon")

	_, err = svc.DeleteMessage(ctx, msg.ID, "bob")
	assert.True(t, apperr.Is(err, "FORBIDDEN"))

	first, err := svc.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.True(t, first.IsDeleted)
	require.NotNil(t, first.DeletedAt)

	second, err := svc.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.DeletedAt, second.DeletedAt)
}

func TestReactionReplacement(t *testing.T) {
	svc, _ := newTestService("alice", "bob")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)
	msg := sendText(t, svc, chat.ID, "alice", "ship it")

	withThumb, err := svc.AddReaction(ctx, msg.ID, "bob", "👍")
	require.NoError(t, err)
	require.Len(t, withThumb.Reactions, 1)
	assert.Equal(t, "👍", withThumb.Reactions[0].Emoji)

	withFire, err := svc.AddReaction(ctx, msg.ID, "bob", "🔥")
	require.NoError(t, err)
	require.Len(t, withFire.Reactions, 1)
	assert.Equal(t, "🔥", withFire.Reactions[0].Emoji)

	cleared, err := svc.RemoveReaction(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, cleared.Reactions)
}

func TestMarkMessageReadIdempotent(t *testing.T) {
	svc, _ := newTestService("alice", "bob")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)
	msg := sendText(t, svc, chat.ID, "alice", "read me")

	first, err := svc.MarkMessageRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	require.Len(t, first.ReadBy, 1)

	second, err := svc.MarkMessageRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	require.Len(t, second.ReadBy, 1)
	assert.Equal(t, first.ReadBy[0].ReadAt, second.ReadBy[0].ReadAt)
}

func TestParticipantLifecycle(t *testing.T) {
	svc, _ := newTestService("alice", "bob", "carol")
	ctx := context.Background()

	chat, err := svc.CreateGroupChat(ctx, "alice", GroupChatInput{Name: "team", ParticipantIDs: []string{"bob"}})
	require.NoError(t, err)

	// Members cannot manage membership.
	_, err = svc.AddParticipant(ctx, chat.ID, "carol", "bob")
	assert.True(t, apperr.Is(err, "FORBIDDEN"))

	updated, err := svc.AddParticipant(ctx, chat.ID, "carol", "alice")
	require.NoError(t, err)
	require.Len(t, updated.Participants, 3)

	_, err = svc.AddParticipant(ctx, chat.ID, "carol", "alice")
	assert.True(t, apperr.Is(err, "CONFLICT"))

	// Pile up unread for carol, then remove and re-add: the retained record is
	// reused with a clean slate.
	sendText(t, svc, chat.ID, "alice", "while carol is here")
	require.NoError(t, svc.RemoveParticipant(ctx, chat.ID, "carol", "alice"))

	_, err = svc.CreateMessage(ctx, CreateMessageInput{ChatID: chat.ID, SenderID: "carol", Content: "hello?"})
	assert.True(t, apperr.Is(err, "NOT_FOUND"))

	readded, err := svc.AddParticipant(ctx, chat.ID, "carol", "alice")
	require.NoError(t, err)
	require.Len(t, readded.Participants, 3, "reactivation reuses the row, no duplicate record")

	var carol *model.Participant
	for i := range readded.Participants {
		if readded.Participants[i].UserID == "carol" {
			carol = &readded.Participants[i]
		}
	}
	require.NotNil(t, carol)
	assert.True(t, carol.IsActive)
	assert.Equal(t, 0, carol.UnreadCount)
	assert.Equal(t, model.RoleMember, carol.Role)

	n, err := svc.UnreadCount(ctx, chat.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "messages from before re-adding are behind lastSeen")
}

func TestRemoveParticipantNotFound(t *testing.T) {
	svc, _ := newTestService("alice", "bob")
	ctx := context.Background()
	chat, err := svc.CreateGroupChat(ctx, "alice", GroupChatInput{Name: "team", ParticipantIDs: []string{"bob"}})
	require.NoError(t, err)

	err = svc.RemoveParticipant(ctx, chat.ID, "ghost", "alice")
	assert.True(t, apperr.Is(err, "NOT_FOUND"))
}

func TestGetUserChatsSummaries(t *testing.T) {
	svc, _ := newTestService("alice", "bob", "carol")
	ctx := context.Background()

	direct, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)
	group, err := svc.CreateGroupChat(ctx, "carol", GroupChatInput{Name: "team", ParticipantIDs: []string{"alice"}})
	require.NoError(t, err)

	sendText(t, svc, direct.ID, "bob", "ping")
	last := sendText(t, svc, group.ID, "carol", "standup in 5")

	summaries, err := svc.GetUserChats(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Most recently updated chat comes first.
	assert.Equal(t, group.ID, summaries[0].Chat.ID)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, last.ID, summaries[0].LastMessage.ID)
	assert.Equal(t, 1, summaries[0].UnreadCount)
	assert.Equal(t, 1, summaries[1].UnreadCount)
}

func TestUpdateNotificationSettings(t *testing.T) {
	svc, store := newTestService("alice", "bob")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, svc.UpdateNotificationSettings(ctx, chat.ID, "bob", true))
	p, err := store.Chats().GetParticipant(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.True(t, p.Muted)

	err = svc.UpdateNotificationSettings(ctx, chat.ID, "ghost", true)
	assert.True(t, apperr.Is(err, "FORBIDDEN"))
}

func TestGetChatMembershipRequired(t *testing.T) {
	svc, _ := newTestService("alice", "bob", "mallory")
	ctx := context.Background()
	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)

	got, err := svc.GetChat(ctx, chat.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)

	_, err = svc.GetChat(ctx, chat.ID, "mallory")
	assert.True(t, apperr.Is(err, "FORBIDDEN"))
}
