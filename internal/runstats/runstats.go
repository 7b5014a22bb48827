// Package runstats keeps lightweight in-process counters for a run and
// flushes them as a run report when the run ends.
package runstats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	db "github.com/event-radar/event-radar/internal/storage"
)

// Stats accumulates run counters. All methods are safe for concurrent use.
type Stats struct {
	mode      string
	startedAt time.Time

	messagesSeen    atomic.Int64
	filtered        atomic.Int64
	duplicates      atomic.Int64
	eventsStored    atomic.Int64
	noEvent         atomic.Int64
	chatsDiscovered atomic.Int64
	chatsResolved   atomic.Int64
}

// New starts a stats accumulator for the given run mode.
func New(mode string) *Stats {
	return &Stats{mode: mode, startedAt: time.Now()}
}

func (s *Stats) MessageSeen()    { s.messagesSeen.Add(1) }
func (s *Stats) Filtered()       { s.filtered.Add(1) }
func (s *Stats) Duplicate()      { s.duplicates.Add(1) }
func (s *Stats) EventStored()    { s.eventsStored.Add(1) }
func (s *Stats) NoEvent()        { s.noEvent.Add(1) }
func (s *Stats) ChatDiscovered() { s.chatsDiscovered.Add(1) }
func (s *Stats) ChatResolved()   { s.chatsResolved.Add(1) }

// Snapshot returns the current counter values as a run report.
func (s *Stats) Snapshot() *db.RunReport {
	return &db.RunReport{
		Mode:            s.mode,
		ElapsedSec:      time.Since(s.startedAt).Seconds(),
		MessagesSeen:    int(s.messagesSeen.Load()),
		Filtered:        int(s.filtered.Load()),
		Duplicates:      int(s.duplicates.Load()),
		EventsStored:    int(s.eventsStored.Load()),
		NoEvent:         int(s.noEvent.Load()),
		ChatsDiscovered: int(s.chatsDiscovered.Load()),
		ChatsResolved:   int(s.chatsResolved.Load()),
	}
}

// Store persists run reports.
type Store interface {
	SaveRunReport(ctx context.Context, report *db.RunReport) (string, error)
}

// Flush writes the final report to the database.
func (s *Stats) Flush(ctx context.Context, store Store, logger *zerolog.Logger) error {
	report := s.Snapshot()

	id, err := store.SaveRunReport(ctx, report)
	if err != nil {
		return err
	}

	logger.Info().
		Str("report_id", id).
		Str("mode", report.Mode).
		Float64("elapsed_sec", report.ElapsedSec).
		Int("messages_seen", report.MessagesSeen).
		Int("events_stored", report.EventsStored).
		Int("duplicates", report.Duplicates).
		Msg("run report saved")

	return nil
}

// Heartbeat logs a progress line every interval until the context ends.
func (s *Stats) Heartbeat(ctx context.Context, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info().
				Int64("messages_seen", s.messagesSeen.Load()).
				Int64("events_stored", s.eventsStored.Load()).
				Int64("duplicates", s.duplicates.Load()).
				Int64("filtered", s.filtered.Load()).
				Msg("run progress")
		}
	}
}
