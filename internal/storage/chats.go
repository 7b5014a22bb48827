package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrChatNotFound is returned when a chat id is not on the roster.
var ErrChatNotFound = errors.New("chat not found")

// Chat is a monitored source on the listening roster.
type Chat struct {
	ID            int64
	Title         string
	Username      string
	Kind          string
	AccessHash    int64
	IsActive      bool
	LastMessageID int64
	AddedAt       time.Time
	UpdatedAt     time.Time
}

const chatColumns = `id, title, username, kind, access_hash, is_active, last_message_id, added_at, updated_at`

// UpsertChat adds a chat to the roster or refreshes its title and kind.
// Re-adding a deactivated chat reactivates it.
func (db *DB) UpsertChat(ctx context.Context, chat *Chat) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO chats (id, title, username, kind, access_hash, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			username = EXCLUDED.username,
			kind = EXCLUDED.kind,
			access_hash = CASE WHEN EXCLUDED.access_hash <> 0 THEN EXCLUDED.access_hash ELSE chats.access_hash END,
			is_active = true,
			updated_at = now()
	`, chat.ID, SanitizeUTF8(chat.Title), chat.Username, chat.Kind, chat.AccessHash)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	return nil
}

// GetChat returns a roster entry by chat id.
func (db *DB) GetChat(ctx context.Context, id int64) (*Chat, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE id = $1
	`, id)

	chat, err := scanChat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChatNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}

	return chat, nil
}

// ListActiveChats returns the chats the listener polls.
func (db *DB) ListActiveChats(ctx context.Context) ([]*Chat, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE is_active = true
		ORDER BY added_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat

	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}

		chats = append(chats, chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}

	return chats, nil
}

// SetChatActive toggles a chat on or off the listening roster.
func (db *DB) SetChatActive(ctx context.Context, id int64, active bool) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE chats
		SET is_active = $2, updated_at = now()
		WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("set chat active: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}

	return nil
}

// UpdateChatPeer caches the access hash and title learned from a username
// resolution, so later polls skip the resolve call.
func (db *DB) UpdateChatPeer(ctx context.Context, id, accessHash int64, title string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE chats
		SET access_hash = $2, title = $3, updated_at = now()
		WHERE id = $1
	`, id, accessHash, SanitizeUTF8(title))
	if err != nil {
		return fmt.Errorf("update chat peer: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}

	return nil
}

// UpdateLastMessageID advances the polling cursor. The cursor only moves
// forward so replayed batches never rewind it.
func (db *DB) UpdateLastMessageID(ctx context.Context, id, messageID int64) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE chats
		SET last_message_id = GREATEST(last_message_id, $2), updated_at = now()
		WHERE id = $1
	`, id, messageID)
	if err != nil {
		return fmt.Errorf("update last message id: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}

	return nil
}

func scanChat(row pgx.Row) (*Chat, error) {
	var (
		chat    Chat
		added   pgtype.Timestamptz
		updated pgtype.Timestamptz
	)

	err := row.Scan(&chat.ID, &chat.Title, &chat.Username, &chat.Kind, &chat.AccessHash, &chat.IsActive, &chat.LastMessageID, &added, &updated)
	if err != nil {
		return nil, err
	}

	chat.AddedAt = fromTimestamptz(added)
	chat.UpdatedAt = fromTimestamptz(updated)

	return &chat, nil
}
