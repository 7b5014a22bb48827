// Package app wires the services together per run mode.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/event-radar/event-radar/internal/bot"
	"github.com/event-radar/event-radar/internal/config"
	"github.com/event-radar/event-radar/internal/dedup"
	"github.com/event-radar/event-radar/internal/discovery"
	"github.com/event-radar/event-radar/internal/ingest"
	"github.com/event-radar/event-radar/internal/llm"
	"github.com/event-radar/event-radar/internal/observability"
	"github.com/event-radar/event-radar/internal/reader"
	"github.com/event-radar/event-radar/internal/runstats"
	db "github.com/event-radar/event-radar/internal/storage"
	"github.com/event-radar/event-radar/internal/venues"
)

const (
	heartbeatInterval = time.Minute
	recentReportLimit = 10
)

type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger
}

func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
	}
}

// StartHealthServer serves /healthz, /readyz and /metrics.
func (a *App) StartHealthServer(ctx context.Context) error {
	return observability.NewServer(a.database, a.cfg.HealthPort, a.logger).Start(ctx)
}

// RunListener polls the roster, extracts events and records discoveries.
func (a *App) RunListener(ctx context.Context) error {
	stats := runstats.New("listener")

	go stats.Heartbeat(ctx, heartbeatInterval, a.logger)

	defer a.flushStats(stats)

	var sink ingest.EventSink

	if a.cfg.BotToken != "" {
		adminBot, err := bot.New(a.cfg, a.database, a.logger)
		if err != nil {
			return err
		}

		sink = adminBot
	}

	merger := discovery.NewMerger(a.database, a.logger)

	pipeline := ingest.New(ingest.Options{
		Store:          a.database,
		Extractor:      llm.New(a.cfg, a.logger),
		Deduplicator:   dedup.New(a.database, a.logger),
		Resolver:       a.venueResolver(),
		Merger:         merger,
		Sink:           sink,
		Stats:          stats,
		Threshold:      a.cfg.FilterThreshold,
		Workers:        a.cfg.PipelineWorkers,
		ExtractTimeout: a.cfg.LLMTimeout,
		Logger:         a.logger,
	})

	return reader.New(a.cfg, a.database, pipeline, merger, a.logger).Run(ctx)
}

// RunBot serves the admin review interface.
func (a *App) RunBot(ctx context.Context) error {
	adminBot, err := bot.New(a.cfg, a.database, a.logger)
	if err != nil {
		return err
	}

	return adminBot.Run(ctx)
}

// RunResolver runs only the discovery resolution loop.
func (a *App) RunResolver(ctx context.Context) error {
	stats := runstats.New("resolver")

	defer a.flushStats(stats)

	merger := discovery.NewMerger(a.database, a.logger)

	return reader.New(a.cfg, a.database, nil, merger, a.logger).RunResolver(ctx, func(resolved int) {
		for i := 0; i < resolved; i++ {
			stats.ChatResolved()
		}
	})
}

// RunReport logs the current queue and cache counters and saves a report.
func (a *App) RunReport(ctx context.Context) error {
	stats := runstats.New("report")

	eventCount, err := a.database.CountEvents(ctx)
	if err != nil {
		return err
	}

	discStats, err := a.database.CountDiscovered(ctx)
	if err != nil {
		return err
	}

	aliasStats, err := a.database.CountAliases(ctx)
	if err != nil {
		return err
	}

	observability.DiscoveryQueueSize.Set(float64(discStats.New))

	report := stats.Snapshot()
	report.Raw = map[string]any{
		"events_total":     eventCount,
		"discovered_total": discStats.Total,
		"discovered_new":   discStats.New,
		"discovered_ok":    discStats.Approved,
		"discovered_no":    discStats.Rejected,
		"aliases_total":    aliasStats.Total,
		"aliases_negative": aliasStats.Negative,
		"venues_total":     aliasStats.Venues,
	}

	id, err := a.database.SaveRunReport(ctx, report)
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("report_id", id).
		Int64("events", eventCount).
		Int64("discovered_pending", discStats.New).
		Int64("aliases", aliasStats.Total).
		Msg("state report saved")

	recent, err := a.database.ListRunReports(ctx, "", recentReportLimit)
	if err != nil {
		return err
	}

	for _, r := range recent {
		a.logger.Info().
			Str("mode", r.Mode).
			Time("at", r.CreatedAt).
			Int("messages_seen", r.MessagesSeen).
			Int("filtered", r.Filtered).
			Int("duplicates", r.Duplicates).
			Int("events_stored", r.EventsStored).
			Int("chats_discovered", r.ChatsDiscovered).
			Int("chats_resolved", r.ChatsResolved).
			Msg("past run")
	}

	return nil
}

func (a *App) venueResolver() *venues.Resolver {
	if a.cfg.PlacesAPIKey == "" {
		a.logger.Warn().Msg("no places api key, venue resolution disabled")
		return nil
	}

	enricher := venues.NewPlacesEnricher(a.cfg.PlacesAPIKey, a.cfg.VenueLookupTimeout, a.logger)

	return venues.NewResolver(a.database, enricher, a.cfg.PlacesRegion, a.logger)
}

func (a *App) flushStats(stats *runstats.Stats) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := stats.Flush(flushCtx, a.database, a.logger); err != nil {
		a.logger.Error().Err(err).Msg("failed to save run report")
	}
}
