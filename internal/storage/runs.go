package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// RunReport is a telemetry snapshot written at the end of a run.
type RunReport struct {
	ID              string
	Mode            string
	ElapsedSec      float64
	MessagesSeen    int
	Filtered        int
	Duplicates      int
	EventsStored    int
	NoEvent         int
	ChatsDiscovered int
	ChatsResolved   int
	Raw             map[string]any
	CreatedAt       time.Time
}

// SaveRunReport persists a run summary.
func (db *DB) SaveRunReport(ctx context.Context, report *RunReport) (string, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}

	var raw []byte

	if report.Raw != nil {
		var err error

		raw, err = json.Marshal(report.Raw)
		if err != nil {
			return "", fmt.Errorf("marshal raw report: %w", err)
		}
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO run_reports (
			id, mode, elapsed_sec, messages_seen, filtered, duplicates,
			events_stored, no_event, chats_discovered, chats_resolved, raw_report
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		toUUID(report.ID),
		report.Mode,
		report.ElapsedSec,
		toInt4(report.MessagesSeen),
		toInt4(report.Filtered),
		toInt4(report.Duplicates),
		toInt4(report.EventsStored),
		toInt4(report.NoEvent),
		toInt4(report.ChatsDiscovered),
		toInt4(report.ChatsResolved),
		raw,
	)
	if err != nil {
		return "", fmt.Errorf("save run report: %w", err)
	}

	return report.ID, nil
}

// ListRunReports returns the most recent run summaries.
func (db *DB) ListRunReports(ctx context.Context, mode string, limit int) ([]*RunReport, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, mode, elapsed_sec, messages_seen, filtered, duplicates,
			events_stored, no_event, chats_discovered, chats_resolved, raw_report, created_at
		FROM run_reports
		WHERE $1 = '' OR mode = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, mode, toInt4(limit))
	if err != nil {
		return nil, fmt.Errorf("list run reports: %w", err)
	}
	defer rows.Close()

	var reports []*RunReport

	for rows.Next() {
		var (
			report  RunReport
			id      pgtype.UUID
			raw     []byte
			created pgtype.Timestamptz
		)

		err := rows.Scan(
			&id, &report.Mode, &report.ElapsedSec, &report.MessagesSeen, &report.Filtered,
			&report.Duplicates, &report.EventsStored, &report.NoEvent,
			&report.ChatsDiscovered, &report.ChatsResolved, &raw, &created,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run report: %w", err)
		}

		report.ID = fromUUID(id)
		report.CreatedAt = fromTimestamptz(created)

		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &report.Raw); err != nil {
				return nil, fmt.Errorf("unmarshal raw report: %w", err)
			}
		}

		reports = append(reports, &report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run reports: %w", err)
	}

	return reports, nil
}
