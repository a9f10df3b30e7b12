package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reportdesk/internal/logger"
	"github.com/reportdesk/internal/model"
)

const chatCols = `id, chat_type, status, name, COALESCE(avatar_url,''), created_by, is_public,
	approval_required, only_admins_can_send, last_message_id, created_at, updated_at`

const participantCols = `chat_id, user_id, role, is_active, unread_count, last_seen, muted, joined_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	return s.Scan(&c.ID, &c.ChatType, &c.Status, &c.Name, &c.AvatarURL, &c.CreatedBy, &c.IsPublic,
		&c.Settings.ApprovalRequired, &c.Settings.OnlyAdminsCanSend, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt)
}

func scanParticipant(s interface{ Scan(dest ...any) error }, p *model.Participant) error {
	return s.Scan(&p.ChatID, &p.UserID, &p.Role, &p.IsActive, &p.UnreadCount, &p.LastSeen, &p.Muted, &p.JoinedAt)
}

// Create inserts the chat and its initial participants in one transaction.
func (r *ChatRepository) Create(ctx context.Context, c *model.Chat, participants []model.Participant) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO chats (id, chat_type, status, name, avatar_url, created_by, is_public,
		                    approval_required, only_admins_can_send, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ChatType, c.Status, c.Name, c.AvatarURL, c.CreatedBy, c.IsPublic,
		c.Settings.ApprovalRequired, c.Settings.OnlyAdminsCanSend, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.Create chat: %w", err)
	}
	for i := range participants {
		p := &participants[i]
		_, err = tx.Exec(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, role, is_active, unread_count, last_seen, muted, joined_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ChatID, p.UserID, p.Role, p.IsActive, p.UnreadCount, p.LastSeen, p.Muted, p.JoinedAt,
		)
		if err != nil {
			return fmt.Errorf("chatRepo.Create participant: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatRepo.Create commit: %w", err)
	}
	return nil
}

// GetByID returns the chat with its participants loaded.
func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	participants, err := r.participants(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Participants = participants
	return c, nil
}

func (r *ChatRepository) participants(ctx context.Context, chatID string) ([]model.Participant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+participantCols+` FROM chat_participants WHERE chat_id = $1 ORDER BY joined_at`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.participants query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Participant, 0, 8)
	for rows.Next() {
		var p model.Participant
		if err := scanParticipant(rows, &p); err != nil {
			return nil, fmt.Errorf("chatRepo.participants scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.participants rows: %w", err)
	}
	return out, nil
}

// FindDirectChat returns the active individual chat containing exactly the
// two given users, or ErrNotFound.
func (r *ChatRepository) FindDirectChat(ctx context.Context, userID1, userID2 string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindDirectChat", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+chatCols+` FROM chats c
		 WHERE c.chat_type = 'individual' AND c.status = 'active'
		   AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $1)
		   AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $2)`,
		userID1, userID2,
	)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.FindDirectChat: %w", err)
	}
	participants, err := r.participants(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Participants = participants
	return c, nil
}

// ListUserChats returns active chats where the user is an active participant,
// most recently updated first.
func (r *ChatRepository) ListUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListUserChats", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+chatCols+` FROM chats c
		 JOIN chat_participants cp ON cp.chat_id = c.id
		 WHERE cp.user_id = $1 AND cp.is_active AND c.status = 'active'
		 ORDER BY c.updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListUserChats query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.ListUserChats scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListUserChats rows: %w", err)
	}
	return chats, nil
}

func (r *ChatRepository) GetParticipant(ctx context.Context, chatID, userID string) (*model.Participant, error) {
	defer logger.DeferLogDuration("chat.GetParticipant", time.Now())()
	p := &model.Participant{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+participantCols+` FROM chat_participants WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	)
	if err := scanParticipant(row, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetParticipant: %w", err)
	}
	return p, nil
}

func (r *ChatRepository) AddParticipant(ctx context.Context, p *model.Participant) error {
	defer logger.DeferLogDuration("chat.AddParticipant", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id, role, is_active, unread_count, last_seen, muted, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ChatID, p.UserID, p.Role, p.IsActive, p.UnreadCount, p.LastSeen, p.Muted, p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.AddParticipant: %w", err)
	}
	return nil
}

// ReactivateParticipant reuses the retained row of a previously removed
// participant: active again, unread reset, fresh last_seen.
func (r *ChatRepository) ReactivateParticipant(ctx context.Context, chatID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("chat.ReactivateParticipant", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_participants SET is_active = true, unread_count = 0, last_seen = $3
		 WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.ReactivateParticipant: %w", err)
	}
	return nil
}

// DeactivateParticipant soft-removes a participant, preserving history.
func (r *ChatRepository) DeactivateParticipant(ctx context.Context, chatID, userID string) error {
	defer logger.DeferLogDuration("chat.DeactivateParticipant", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_participants SET is_active = false WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.DeactivateParticipant: %w", err)
	}
	return nil
}

func (r *ChatRepository) TouchLastSeen(ctx context.Context, chatID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("chat.TouchLastSeen", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_participants SET last_seen = $3 WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.TouchLastSeen: %w", err)
	}
	return nil
}

func (r *ChatRepository) ResetUnread(ctx context.Context, chatID, userID string) error {
	defer logger.DeferLogDuration("chat.ResetUnread", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_participants SET unread_count = 0 WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.ResetUnread: %w", err)
	}
	return nil
}

// IncrementUnread bumps the cached unread counter for every participant other
// than the sender in a single statement (no per-participant round trips).
// Inactive participants are included on purpose; see DESIGN.md.
func (r *ChatRepository) IncrementUnread(ctx context.Context, chatID, exceptUserID string) error {
	defer logger.DeferLogDuration("chat.IncrementUnread", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_participants SET unread_count = unread_count + 1
		 WHERE chat_id = $1 AND user_id != $2`,
		chatID, exceptUserID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.IncrementUnread: %w", err)
	}
	return nil
}

// SetLastMessage updates the chat summary fields after a send. This write is
// independent of IncrementUnread; readers must not assume atomicity across
// the two.
func (r *ChatRepository) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	defer logger.DeferLogDuration("chat.SetLastMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET last_message_id = $2, updated_at = $3 WHERE id = $1`,
		chatID, messageID, at,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetLastMessage: %w", err)
	}
	return nil
}

func (r *ChatRepository) SetMuted(ctx context.Context, chatID, userID string, muted bool) error {
	defer logger.DeferLogDuration("chat.SetMuted", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_participants SET muted = $3 WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID, muted,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetMuted: %w", err)
	}
	return nil
}

// UnreadCount is the authoritative unread computation: non-deleted messages
// from other senders created after the participant's last_seen. The cached
// unread_count column is never consulted here.
func (r *ChatRepository) UnreadCount(ctx context.Context, chatID, userID string) (int, error) {
	defer logger.DeferLogDuration("chat.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 JOIN chat_participants cp ON cp.chat_id = m.chat_id AND cp.user_id = $2
		 WHERE m.chat_id = $1 AND m.sender_id != $2 AND m.created_at > cp.last_seen AND m.is_deleted = false`,
		chatID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("chatRepo.UnreadCount: %w", err)
	}
	return count, nil
}
