// Package memstore is an in-memory implementation of the chat persistence
// interfaces. It backs the service tests and carries the same semantics as
// the SQL repositories: soft deletes, participant rows keyed by (chat, user),
// upserted reactions, idempotent read receipts.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reportdesk/internal/model"
	"github.com/reportdesk/internal/repository"
)

type participantKey struct{ chatID, userID string }

type Store struct {
	mu           sync.RWMutex
	chats        map[string]*model.Chat
	participants map[participantKey]*model.Participant
	messages     map[string]*model.Message
	users        map[string]*model.User
}

func New() *Store {
	return &Store{
		chats:        make(map[string]*model.Chat),
		participants: make(map[participantKey]*model.Participant),
		messages:     make(map[string]*model.Message),
		users:        make(map[string]*model.User),
	}
}

// AddUser seeds a directory record.
func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *Store) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Chats implements service.ChatStore over the shared state.
func (s *Store) Chats() *ChatStore { return &ChatStore{s: s} }

// Messages implements service.MessageStore over the shared state.
func (s *Store) Messages() *MessageStore { return &MessageStore{s: s} }

type ChatStore struct{ s *Store }

func (c *ChatStore) Create(ctx context.Context, chat *model.Chat, participants []model.Participant) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cp := *chat
	cp.Participants = nil
	c.s.chats[chat.ID] = &cp
	for i := range participants {
		p := participants[i]
		c.s.participants[participantKey{p.ChatID, p.UserID}] = &p
	}
	return nil
}

func (c *ChatStore) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	chat, ok := c.s.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *chat
	out.Participants = c.participantsLocked(id)
	return &out, nil
}

func (c *ChatStore) participantsLocked(chatID string) []model.Participant {
	var out []model.Participant
	for k, p := range c.s.participants {
		if k.chatID == chatID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func (c *ChatStore) FindDirectChat(ctx context.Context, userID1, userID2 string) (*model.Chat, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	for id, chat := range c.s.chats {
		if chat.ChatType != model.ChatTypeIndividual || chat.Status != model.ChatStatusActive {
			continue
		}
		_, has1 := c.s.participants[participantKey{id, userID1}]
		_, has2 := c.s.participants[participantKey{id, userID2}]
		if has1 && has2 {
			out := *chat
			out.Participants = c.participantsLocked(id)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (c *ChatStore) ListUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	var out []model.Chat
	for id, chat := range c.s.chats {
		if chat.Status != model.ChatStatusActive {
			continue
		}
		p, ok := c.s.participants[participantKey{id, userID}]
		if !ok || !p.IsActive {
			continue
		}
		out = append(out, *chat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (c *ChatStore) GetParticipant(ctx context.Context, chatID, userID string) (*model.Participant, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	p, ok := c.s.participants[participantKey{chatID, userID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *ChatStore) AddParticipant(ctx context.Context, p *model.Participant) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cp := *p
	c.s.participants[participantKey{p.ChatID, p.UserID}] = &cp
	return nil
}

func (c *ChatStore) ReactivateParticipant(ctx context.Context, chatID, userID string, at time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p, ok := c.s.participants[participantKey{chatID, userID}]
	if !ok {
		return repository.ErrNotFound
	}
	p.IsActive = true
	p.UnreadCount = 0
	p.LastSeen = at
	return nil
}

func (c *ChatStore) DeactivateParticipant(ctx context.Context, chatID, userID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p, ok := c.s.participants[participantKey{chatID, userID}]
	if !ok {
		return repository.ErrNotFound
	}
	p.IsActive = false
	return nil
}

func (c *ChatStore) TouchLastSeen(ctx context.Context, chatID, userID string, at time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if p, ok := c.s.participants[participantKey{chatID, userID}]; ok {
		p.LastSeen = at
	}
	return nil
}

func (c *ChatStore) ResetUnread(ctx context.Context, chatID, userID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if p, ok := c.s.participants[participantKey{chatID, userID}]; ok {
		p.UnreadCount = 0
	}
	return nil
}

// IncrementUnread bumps every participant except the sender, active or not,
// matching the SQL repository.
func (c *ChatStore) IncrementUnread(ctx context.Context, chatID, exceptUserID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for k, p := range c.s.participants {
		if k.chatID == chatID && k.userID != exceptUserID {
			p.UnreadCount++
		}
	}
	return nil
}

func (c *ChatStore) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	chat, ok := c.s.chats[chatID]
	if !ok {
		return repository.ErrNotFound
	}
	id := messageID
	chat.LastMessageID = &id
	chat.UpdatedAt = at
	return nil
}

func (c *ChatStore) SetMuted(ctx context.Context, chatID, userID string, muted bool) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if p, ok := c.s.participants[participantKey{chatID, userID}]; ok {
		p.Muted = muted
	}
	return nil
}

func (c *ChatStore) UnreadCount(ctx context.Context, chatID, userID string) (int, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	p, ok := c.s.participants[participantKey{chatID, userID}]
	if !ok {
		return 0, repository.ErrNotFound
	}
	count := 0
	for _, m := range c.s.messages {
		if m.ChatID == chatID && !m.IsDeleted && m.SenderID != userID && m.CreatedAt.After(p.LastSeen) {
			count++
		}
	}
	return count, nil
}

type MessageStore struct{ s *Store }

func (ms *MessageStore) Create(ctx context.Context, m *model.Message) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	cp := *m
	ms.s.messages[m.ID] = &cp
	return nil
}

func (ms *MessageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	ms.s.mu.RLock()
	defer ms.s.mu.RUnlock()
	m, ok := ms.s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ms.materializeLocked(m), nil
}

func (ms *MessageStore) materializeLocked(m *model.Message) *model.Message {
	cp := *m
	cp.Reactions = append([]model.Reaction(nil), m.Reactions...)
	cp.ReadBy = append([]model.ReadReceipt(nil), m.ReadBy...)
	cp.Mentions = append([]model.Mention(nil), m.Mentions...)
	if u, ok := ms.s.users[m.SenderID]; ok {
		pub := u.ToPublic()
		cp.Sender = &pub
	}
	return &cp
}

func (ms *MessageStore) ListChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	ms.s.mu.RLock()
	defer ms.s.mu.RUnlock()
	var all []*model.Message
	for _, m := range ms.s.messages {
		if m.ChatID == chatID && !m.IsDeleted {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]model.Message, 0, len(all))
	for _, m := range all {
		out = append(out, *ms.materializeLocked(m))
	}
	return out, nil
}

func (ms *MessageStore) UpdateContent(ctx context.Context, id, content string) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	m, ok := ms.s.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Content = content
	m.IsEdited = true
	return nil
}

func (ms *MessageStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	m, ok := ms.s.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.IsDeleted = true
	t := at
	m.DeletedAt = &t
	return nil
}

func (ms *MessageStore) UpsertReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	m, ok := ms.s.messages[messageID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID {
			m.Reactions[i].Emoji = emoji
			m.Reactions[i].ReactedAt = at
			return nil
		}
	}
	m.Reactions = append(m.Reactions, model.Reaction{UserID: userID, Emoji: emoji, ReactedAt: at})
	return nil
}

func (ms *MessageStore) RemoveReaction(ctx context.Context, messageID, userID string) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	m, ok := ms.s.messages[messageID]
	if !ok {
		return repository.ErrNotFound
	}
	out := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.UserID != userID {
			out = append(out, r)
		}
	}
	m.Reactions = out
	return nil
}

func (ms *MessageStore) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	m, ok := ms.s.messages[messageID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return nil
		}
	}
	m.ReadBy = append(m.ReadBy, model.ReadReceipt{UserID: userID, ReadAt: at})
	return nil
}
