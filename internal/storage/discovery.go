package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrDiscoveryNotFound is returned when no discovered chat matches the lookup.
var ErrDiscoveryNotFound = errors.New("discovered chat not found")

// ErrIllegalTransition is returned when a status update would leave a
// terminal state. Only rows in "new" accept a review decision.
var ErrIllegalTransition = errors.New("discovered chat is not pending review")

// ErrDiscoveryConflict is returned when a concurrent writer claimed one of
// the row's unique identifiers first. Callers retry the lookup.
var ErrDiscoveryConflict = errors.New("discovered chat identifier conflict")

const uniqueViolationCode = "23505"

// Discovered is a chat sighted in forwards, links or mentions, queued for
// review before joining the monitored roster.
type Discovered struct {
	ID                string
	ChatID            *int64
	Username          string
	InviteLink        string
	Title             string
	Kind              string
	SourceType        string
	FoundInChatID     int64
	ParticipantsCount int
	Status            string
	Resolved          bool
	TimesSeen         int
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
}

const discoveredColumns = `id, chat_id, username, invite_link, title, kind, source_type,
	found_in_chat_id, participants_count, status, resolved, times_seen, first_seen_at, last_seen_at`

// FindDiscoveredByIdentifiers returns every existing row touching any of the
// three identifier spaces, ordered chat id first, then username, then invite
// link. A sighting can match up to three distinct rows that must be merged.
func (db *DB) FindDiscoveredByIdentifiers(ctx context.Context, chatID *int64, username, inviteLink string) ([]*Discovered, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+discoveredColumns+`
		FROM discovered_chats
		WHERE ($1::bigint IS NOT NULL AND chat_id = $1)
		   OR ($2 <> '' AND lower(username) = lower($2))
		   OR ($3 <> '' AND invite_link = $3)
		ORDER BY
			(chat_id IS NOT NULL AND chat_id = $1) DESC,
			($2 <> '' AND lower(username) = lower($2)) DESC,
			first_seen_at ASC
	`, chatIDArg(chatID), username, inviteLink)
	if err != nil {
		return nil, fmt.Errorf("find discovered by identifiers: %w", err)
	}
	defer rows.Close()

	var found []*Discovered

	for rows.Next() {
		d, err := scanDiscovered(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discovered: %w", err)
		}

		found = append(found, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discovered: %w", err)
	}

	return found, nil
}

// InsertDiscovered creates a new pending row. A unique violation means a
// concurrent sighting won the insert race; the caller re-runs its lookup.
func (db *DB) InsertDiscovered(ctx context.Context, d *Discovered) (string, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	if d.Status == "" {
		d.Status = DiscoveryStatusNew
	}

	timesSeen := d.TimesSeen
	if timesSeen < 1 {
		timesSeen = 1
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO discovered_chats (
			id, chat_id, username, invite_link, title, kind, source_type,
			found_in_chat_id, participants_count, status, resolved, times_seen
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		toUUID(d.ID),
		chatIDArg(d.ChatID),
		toText(d.Username),
		toText(d.InviteLink),
		SanitizeUTF8(d.Title),
		d.Kind,
		d.SourceType,
		toInt8(d.FoundInChatID),
		toInt4(d.ParticipantsCount),
		d.Status,
		d.ChatID != nil,
		toInt4(timesSeen),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return "", ErrDiscoveryConflict
		}

		return "", fmt.Errorf("insert discovered: %w", err)
	}

	return d.ID, nil
}

// TouchDiscovered registers a repeat sighting on an existing row: bumps the
// counter, advances last_seen monotonically, and fills identifiers and
// metadata the row was missing. Resolved flips once chat_id becomes known.
// Status is never changed here.
func (db *DB) TouchDiscovered(ctx context.Context, id string, d *Discovered, seenAt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE discovered_chats SET
			times_seen = times_seen + 1,
			last_seen_at = GREATEST(last_seen_at, $2),
			chat_id = COALESCE(chat_id, $3),
			username = COALESCE(username, NULLIF($4, '')),
			invite_link = COALESCE(invite_link, NULLIF($5, '')),
			title = CASE WHEN title = '' THEN $6 ELSE title END,
			kind = CASE WHEN kind = '' THEN $7 ELSE kind END,
			participants_count = GREATEST(COALESCE(participants_count, 0), $8),
			resolved = resolved OR $3::bigint IS NOT NULL
		WHERE id = $1
	`,
		toUUID(id),
		toTimestamptz(seenAt),
		chatIDArg(d.ChatID),
		SanitizeUTF8(d.Username),
		d.InviteLink,
		SanitizeUTF8(d.Title),
		d.Kind,
		toInt4(d.ParticipantsCount),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDiscoveryConflict
		}

		return fmt.Errorf("touch discovered: %w", err)
	}

	return nil
}

// MergeDiscoveredInto folds the duplicate row into the survivor and deletes
// it: counters add up, first_seen keeps the earliest, last_seen the latest,
// and identifiers the survivor lacks move over. A terminal status on either
// row wins over "new".
func (db *DB) MergeDiscoveredInto(ctx context.Context, survivorID, duplicateID string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Free the duplicate's unique identifiers before the survivor adopts them.
	dup := tx.QueryRow(ctx, `
		DELETE FROM discovered_chats
		WHERE id = $1
		RETURNING `+discoveredColumns+`
	`, toUUID(duplicateID))

	d, err := scanDiscovered(dup)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDiscoveryNotFound
	}

	if err != nil {
		return fmt.Errorf("delete duplicate: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE discovered_chats SET
			chat_id = COALESCE(chat_id, $2),
			username = COALESCE(username, NULLIF($3, '')),
			invite_link = COALESCE(invite_link, NULLIF($4, '')),
			title = CASE WHEN title = '' THEN $5 ELSE title END,
			kind = CASE WHEN kind = '' THEN $6 ELSE kind END,
			participants_count = GREATEST(COALESCE(participants_count, 0), $7),
			status = CASE WHEN status = 'new' AND $8 <> 'new' THEN $8 ELSE status END,
			resolved = resolved OR $9,
			times_seen = times_seen + $10,
			first_seen_at = LEAST(first_seen_at, $11),
			last_seen_at = GREATEST(last_seen_at, $12)
		WHERE id = $1
	`,
		toUUID(survivorID),
		chatIDArg(d.ChatID),
		SanitizeUTF8(d.Username),
		d.InviteLink,
		SanitizeUTF8(d.Title),
		d.Kind,
		toInt4(d.ParticipantsCount),
		d.Status,
		d.Resolved,
		toInt4(d.TimesSeen),
		toTimestamptz(d.FirstSeenAt),
		toTimestamptz(d.LastSeenAt),
	)
	if err != nil {
		return fmt.Errorf("fold into survivor: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrDiscoveryNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// UpdateDiscoveredStatus moves a pending row to a terminal review state.
// Terminal states never transition again.
func (db *DB) UpdateDiscoveredStatus(ctx context.Context, id, status string) error {
	switch status {
	case DiscoveryStatusApproved, DiscoveryStatusRejected, DiscoveryStatusSelf:
	default:
		return fmt.Errorf("invalid discovery status %q", status)
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE discovered_chats
		SET status = $2
		WHERE id = $1 AND status = 'new'
	`, toUUID(id), status)
	if err != nil {
		return fmt.Errorf("update discovered status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM discovered_chats WHERE id = $1)`, toUUID(id)).Scan(&exists); err != nil {
			return fmt.Errorf("check discovered exists: %w", err)
		}

		if !exists {
			return ErrDiscoveryNotFound
		}

		return ErrIllegalTransition
	}

	return nil
}

// GetDiscovered returns a discovered chat by id.
func (db *DB) GetDiscovered(ctx context.Context, id string) (*Discovered, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+discoveredColumns+`
		FROM discovered_chats
		WHERE id = $1
	`, toUUID(id))

	d, err := scanDiscovered(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDiscoveryNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get discovered: %w", err)
	}

	return d, nil
}

// ListDiscoveredByStatus returns rows in the given status, most seen first.
func (db *DB) ListDiscoveredByStatus(ctx context.Context, status string, limit int) ([]*Discovered, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+discoveredColumns+`
		FROM discovered_chats
		WHERE status = $1
		ORDER BY times_seen DESC, last_seen_at DESC
		LIMIT $2
	`, status, toInt4(limit))
	if err != nil {
		return nil, fmt.Errorf("list discovered: %w", err)
	}
	defer rows.Close()

	var found []*Discovered

	for rows.Next() {
		d, err := scanDiscovered(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discovered: %w", err)
		}

		found = append(found, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discovered: %w", err)
	}

	return found, nil
}

// ListUnresolvedDiscovered returns rows whose chat id is still unknown, for
// the resolver worker to look up via the Telegram API.
func (db *DB) ListUnresolvedDiscovered(ctx context.Context, limit int) ([]*Discovered, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+discoveredColumns+`
		FROM discovered_chats
		WHERE resolved = false AND status = 'new'
		ORDER BY times_seen DESC
		LIMIT $1
	`, toInt4(limit))
	if err != nil {
		return nil, fmt.Errorf("list unresolved discovered: %w", err)
	}
	defer rows.Close()

	var found []*Discovered

	for rows.Next() {
		d, err := scanDiscovered(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discovered: %w", err)
		}

		found = append(found, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discovered: %w", err)
	}

	return found, nil
}

// DiscoveryStats summarizes the discovery queue for run reports.
type DiscoveryStats struct {
	Total    int64
	New      int64
	Approved int64
	Rejected int64
	Resolved int64
}

// CountDiscovered returns discovery queue counters.
func (db *DB) CountDiscovered(ctx context.Context) (*DiscoveryStats, error) {
	var stats DiscoveryStats

	err := db.Pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'new'),
			count(*) FILTER (WHERE status = 'approved'),
			count(*) FILTER (WHERE status = 'rejected'),
			count(*) FILTER (WHERE resolved)
		FROM discovered_chats
	`).Scan(&stats.Total, &stats.New, &stats.Approved, &stats.Rejected, &stats.Resolved)
	if err != nil {
		return nil, fmt.Errorf("count discovered: %w", err)
	}

	return &stats, nil
}

func scanDiscovered(row pgx.Row) (*Discovered, error) {
	var (
		d            Discovered
		id           pgtype.UUID
		chatID       pgtype.Int8
		username     pgtype.Text
		inviteLink   pgtype.Text
		foundIn      pgtype.Int8
		participants pgtype.Int4
		firstSeen    pgtype.Timestamptz
		lastSeen     pgtype.Timestamptz
	)

	err := row.Scan(
		&id, &chatID, &username, &inviteLink, &d.Title, &d.Kind, &d.SourceType,
		&foundIn, &participants, &d.Status, &d.Resolved, &d.TimesSeen, &firstSeen, &lastSeen,
	)
	if err != nil {
		return nil, err
	}

	d.ID = fromUUID(id)
	d.Username = fromText(username)
	d.InviteLink = fromText(inviteLink)
	d.FirstSeenAt = fromTimestamptz(firstSeen)
	d.LastSeenAt = fromTimestamptz(lastSeen)

	if chatID.Valid {
		v := chatID.Int64
		d.ChatID = &v
	}

	if foundIn.Valid {
		d.FoundInChatID = foundIn.Int64
	}

	if participants.Valid {
		d.ParticipantsCount = int(participants.Int32)
	}

	return &d, nil
}

func chatIDArg(id *int64) pgtype.Int8 {
	if id == nil {
		return pgtype.Int8{Valid: false}
	}

	return pgtype.Int8{Int64: *id, Valid: true}
}
