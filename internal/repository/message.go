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

const messageCols = `m.id, m.chat_id, m.sender_id, m.content, m.message_type, m.reply_to_id,
	m.file_name, m.file_original_name, m.file_size, m.file_mime_type, m.file_url, m.file_duration, m.file_uploaded_at,
	m.is_edited, m.is_deleted, m.deleted_at, m.created_at,
	u.id, u.first_name, u.last_name, COALESCE(u.occupation,''), COALESCE(u.avatar_url,'')`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var (
		fileName, fileOriginal, fileMime, fileURL *string
		fileSize                                  *int64
		fileDuration                              *float64
		fileUploadedAt                            *time.Time
	)
	sender := &model.UserPublic{}
	err := s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.MessageType, &m.ReplyToID,
		&fileName, &fileOriginal, &fileSize, &fileMime, &fileURL, &fileDuration, &fileUploadedAt,
		&m.IsEdited, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt,
		&sender.ID, &sender.FirstName, &sender.LastName, &sender.Occupation, &sender.AvatarURL)
	if err != nil {
		return err
	}
	if fileName != nil {
		m.File = &model.FileData{
			FileName:     *fileName,
			OriginalName: deref(fileOriginal),
			MimeType:     deref(fileMime),
			URL:          deref(fileURL),
		}
		if fileSize != nil {
			m.File.Size = *fileSize
		}
		if fileDuration != nil {
			m.File.Duration = *fileDuration
		}
		if fileUploadedAt != nil {
			m.File.UploadedAt = *fileUploadedAt
		}
	}
	m.Sender = sender
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Create inserts the message and its mentions in one transaction.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		fileName, fileOriginal, fileMime, fileURL *string
		fileSize                                  *int64
		fileDuration                              *float64
		fileUploadedAt                            *time.Time
	)
	if m.File != nil {
		fileName, fileOriginal = &m.File.FileName, &m.File.OriginalName
		fileMime, fileURL = &m.File.MimeType, &m.File.URL
		fileSize, fileDuration = &m.File.Size, &m.File.Duration
		fileUploadedAt = &m.File.UploadedAt
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, message_type, reply_to_id,
		                       file_name, file_original_name, file_size, file_mime_type, file_url, file_duration, file_uploaded_at,
		                       is_edited, is_deleted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.MessageType, m.ReplyToID,
		fileName, fileOriginal, fileSize, fileMime, fileURL, fileDuration, fileUploadedAt,
		m.IsEdited, m.IsDeleted, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create message: %w", err)
	}
	for _, mention := range m.Mentions {
		_, err = tx.Exec(ctx,
			`INSERT INTO message_mentions (message_id, user_id, position) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			m.ID, mention.UserID, mention.Position,
		)
		if err != nil {
			return fmt.Errorf("msgRepo.Create mention: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

// GetByID returns the fully materialized message: sender, mentions,
// reactions and read receipts loaded.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id = $1`, id,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	if err := r.hydrate(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) hydrate(ctx context.Context, m *model.Message) error {
	reactions, err := r.Reactions(ctx, m.ID)
	if err != nil {
		return err
	}
	m.Reactions = reactions

	reads, err := r.Reads(ctx, m.ID)
	if err != nil {
		return err
	}
	m.ReadBy = reads

	mentions, err := r.mentions(ctx, m.ID)
	if err != nil {
		return err
	}
	m.Mentions = mentions
	return nil
}

func (r *MessageRepository) mentions(ctx context.Context, messageID string) ([]model.Mention, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, position FROM message_mentions WHERE message_id = $1 ORDER BY position`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.mentions query: %w", err)
	}
	defer rows.Close()
	var out []model.Mention
	for rows.Next() {
		var mn model.Mention
		if err := rows.Scan(&mn.UserID, &mn.Position); err != nil {
			return nil, fmt.Errorf("msgRepo.mentions scan: %w", err)
		}
		out = append(out, mn)
	}
	return out, rows.Err()
}

// ListChat returns up to limit non-deleted messages for the chat, newest
// first. Callers reverse the page into chronological order for clients.
func (r *MessageRepository) ListChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1 AND m.is_deleted = false
		 ORDER BY m.created_at DESC
		 LIMIT $2 OFFSET $3`, chatID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListChat query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListChat scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListChat rows: %w", err)
	}
	for i := range messages {
		if err := r.hydrate(ctx, &messages[i]); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// UpdateContent edits a message's content and flags it as edited.
func (r *MessageRepository) UpdateContent(ctx context.Context, id, content string) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $2, is_edited = true WHERE id = $1`, id, content,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	return nil
}

// SoftDelete flags a message deleted without removing the row, so replyTo and
// last_message_id references stay resolvable.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_deleted = true, deleted_at = $2 WHERE id = $1`, id, at,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}

// UpsertReaction stores the user's reaction; the (message_id, user_id) key
// makes a new emoji replace the prior one.
func (r *MessageRepository) UpsertReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) error {
	defer logger.DeferLogDuration("msg.UpsertReaction", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, reacted_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji, reacted_at = EXCLUDED.reacted_at`,
		messageID, userID, emoji, at,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpsertReaction: %w", err)
	}
	return nil
}

func (r *MessageRepository) RemoveReaction(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("msg.RemoveReaction", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.RemoveReaction: %w", err)
	}
	return nil
}

// MarkRead appends a read receipt; repeated calls are no-ops.
func (r *MessageRepository) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		messageID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}

func (r *MessageRepository) Reactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, emoji, reacted_at FROM message_reactions WHERE message_id = $1 ORDER BY reacted_at`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Reactions query: %w", err)
	}
	defer rows.Close()
	var out []model.Reaction
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.UserID, &rc.Emoji, &rc.ReactedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.Reactions scan: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *MessageRepository) Reads(ctx context.Context, messageID string) ([]model.ReadReceipt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, read_at FROM message_reads WHERE message_id = $1 ORDER BY read_at`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Reads query: %w", err)
	}
	defer rows.Close()
	var out []model.ReadReceipt
	for rows.Next() {
		var rr model.ReadReceipt
		if err := rows.Scan(&rr.UserID, &rr.ReadAt); err != nil {
			return nil, fmt.Errorf("msgRepo.Reads scan: %w", err)
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}
