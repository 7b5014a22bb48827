// Package ingest runs chat messages through the extraction pipeline:
// pre-filter, raw-text guard, LLM extraction, fingerprint dedup, venue
// resolution and chat discovery.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/event-radar/event-radar/internal/dedup"
	"github.com/event-radar/event-radar/internal/discovery"
	"github.com/event-radar/event-radar/internal/filters"
	"github.com/event-radar/event-radar/internal/llm"
	"github.com/event-radar/event-radar/internal/observability"
	"github.com/event-radar/event-radar/internal/runstats"
	db "github.com/event-radar/event-radar/internal/storage"
	"github.com/event-radar/event-radar/internal/venues"
)

// Message is one chat message entering the pipeline.
type Message struct {
	ChatID    int64
	ChatTitle string
	MessageID int64
	Sender    string
	Text      string
	HasMedia  bool
	SentAt    time.Time

	// Forward is set when the message was forwarded from another chat.
	Forward *ForwardInfo
}

// ForwardInfo describes the origin chat of a forwarded message.
type ForwardInfo struct {
	ChatID            int64
	Username          string
	Title             string
	Kind              string
	ParticipantsCount int
}

// Outcome classifies what the pipeline did with a message.
type Outcome int

const (
	// OutcomeNone means a stage failed before any decision was made.
	OutcomeNone Outcome = iota
	// OutcomeStored means a new event was extracted and persisted.
	OutcomeStored
	// OutcomeDuplicate means the message or its event was already known.
	OutcomeDuplicate
	// OutcomeFiltered means the pre-filter rejected the message.
	OutcomeFiltered
	// OutcomeNoEvent means the extractor found no event announcement.
	OutcomeNoEvent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFiltered:
		return "filtered"
	case OutcomeNoEvent:
		return "no_event"
	case OutcomeNone:
		return "none"
	default:
		return "unknown"
	}
}

// EventSink receives events the moment they are stored, e.g. to notify
// admins. Sink failures never fail the pipeline.
type EventSink interface {
	EventStored(ctx context.Context, ev *db.Event) error
}

// Store is the database slice the pipeline itself needs.
type Store interface {
	TextSeen(ctx context.Context, text string) (bool, error)
	AttachVenue(ctx context.Context, eventID, venueID string) error
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	store          Store
	extractor      llm.Client
	deduplicator   *dedup.Deduplicator
	resolver       *venues.Resolver
	merger         *discovery.Merger
	sink           EventSink
	stats          *runstats.Stats
	threshold      int
	workers        int
	extractTimeout time.Duration
	logger         *zerolog.Logger
}

// Options configures a pipeline.
type Options struct {
	Store        Store
	Extractor    llm.Client
	Deduplicator *dedup.Deduplicator
	Resolver     *venues.Resolver
	Merger       *discovery.Merger
	Sink         EventSink
	Stats        *runstats.Stats
	// Threshold is the minimum pre-filter score; zero means the default.
	Threshold int
	// Workers caps concurrent message processing in Run; zero means 1.
	Workers int
	// ExtractTimeout bounds one extraction call; zero means no bound.
	ExtractTimeout time.Duration
	Logger         *zerolog.Logger
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = filters.DefaultThreshold
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pipeline{
		store:          opts.Store,
		extractor:      opts.Extractor,
		deduplicator:   opts.Deduplicator,
		resolver:       opts.Resolver,
		merger:         opts.Merger,
		sink:           opts.Sink,
		stats:          opts.Stats,
		threshold:      threshold,
		workers:        workers,
		extractTimeout: opts.ExtractTimeout,
		logger:         opts.Logger,
	}
}

// Run processes a stream of messages with bounded concurrency until the
// channel closes or the context ends.
func (p *Pipeline) Run(ctx context.Context, messages <-chan Message) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return g.Wait()
			}

			g.Go(func() error {
				if _, err := p.Handle(ctx, msg); err != nil {
					// One bad message must not stop the run.
					p.logger.Error().Err(err).
						Int64("chat_id", msg.ChatID).
						Int64("message_id", msg.MessageID).
						Msg("pipeline error")
				}

				return nil
			})
		}
	}
}

// Handle runs one message through every stage and reports the outcome.
func (p *Pipeline) Handle(ctx context.Context, msg Message) (Outcome, error) {
	p.stats.MessageSeen()
	observability.MessagesSeen.WithLabelValues(strconv.FormatInt(msg.ChatID, 10)).Inc()

	// Discovery looks at every message, including ones the filter drops:
	// a rejected sales post can still link to an events channel.
	p.observeDiscoveries(ctx, msg)

	result := filters.CheckWithThreshold(msg.Text, msg.HasMedia, p.threshold)
	if !result.Passed {
		p.stats.Filtered()
		observability.PipelineOutcomes.WithLabelValues(OutcomeFiltered.String()).Inc()

		return OutcomeFiltered, nil
	}

	seen, err := p.store.TextSeen(ctx, msg.Text)
	if err != nil {
		return OutcomeNone, fmt.Errorf("text seen check: %w", err)
	}

	if seen {
		p.stats.Duplicate()
		observability.PipelineOutcomes.WithLabelValues(OutcomeDuplicate.String()).Inc()
		observability.DuplicateEvents.Inc()

		return OutcomeDuplicate, nil
	}

	cand, err := p.extract(ctx, msg)
	if err != nil {
		return OutcomeNone, fmt.Errorf("extract event: %w", err)
	}

	if cand == nil {
		p.stats.NoEvent()
		observability.PipelineOutcomes.WithLabelValues(OutcomeNoEvent.String()).Inc()

		return OutcomeNoEvent, nil
	}

	ev := &db.Event{
		Title:           cand.Title,
		Category:        cand.Category,
		EventDate:       cand.Date,
		EventTime:       cand.Time,
		LocationName:    cand.LocationName,
		PriceTHB:        cand.PriceTHB,
		Summary:         cand.Summary,
		Description:     cand.Description,
		SourceChatID:    msg.ChatID,
		SourceChatTitle: msg.ChatTitle,
		SourceMessageID: msg.MessageID,
		Sender:          msg.Sender,
		FilterScore:     result.Score,
		OriginalText:    msg.Text,
		Origin:          db.EventOriginListener,
	}

	res, err := p.deduplicator.Register(ctx, ev)
	if err != nil {
		return OutcomeNone, fmt.Errorf("register event: %w", err)
	}

	if !res.Inserted {
		p.stats.Duplicate()
		observability.PipelineOutcomes.WithLabelValues(OutcomeDuplicate.String()).Inc()
		observability.DuplicateEvents.Inc()

		return OutcomeDuplicate, nil
	}

	p.stats.EventStored()
	observability.PipelineOutcomes.WithLabelValues(OutcomeStored.String()).Inc()
	observability.EventsStored.WithLabelValues(ev.Category).Inc()

	p.resolveVenue(ctx, res.Event)

	p.logger.Info().
		Str("event_id", res.Event.ID).
		Str("title", res.Event.Title).
		Str("chat", msg.ChatTitle).
		Msg("event stored")

	if p.sink != nil {
		if err := p.sink.EventStored(ctx, res.Event); err != nil {
			p.logger.Warn().Err(err).Str("event_id", res.Event.ID).Msg("event sink failed")
		}
	}

	return OutcomeStored, nil
}

// extract runs the LLM extraction under the configured timeout.
func (p *Pipeline) extract(ctx context.Context, msg Message) (*llm.Candidate, error) {
	if p.extractTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.extractTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		observability.LLMRequestDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	}()

	return p.extractor.ExtractEvent(ctx, msg.Text, msg.ChatTitle)
}

// resolveVenue attaches a canonical venue when the event named a location.
// Pending outcomes leave the event without a venue for a later pass.
func (p *Pipeline) resolveVenue(ctx context.Context, ev *db.Event) {
	if p.resolver == nil || ev.LocationName == "" {
		return
	}

	outcome, err := p.resolver.Resolve(ctx, ev.LocationName)
	if err != nil {
		p.logger.Warn().Err(err).Str("location", ev.LocationName).Msg("venue resolution failed")
		return
	}

	observability.VenueLookups.WithLabelValues(outcome.Status.String(), strconv.FormatBool(outcome.FromCache)).Inc()

	if outcome.Status != venues.StatusResolved {
		return
	}

	if err := p.store.AttachVenue(ctx, ev.ID, outcome.Venue.ID); err != nil {
		p.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("attach venue failed")
		return
	}

	ev.VenueID = outcome.Venue.ID
}

// observeDiscoveries records chats referenced by the message text and its
// forward header.
func (p *Pipeline) observeDiscoveries(ctx context.Context, msg Message) {
	if p.merger == nil {
		return
	}

	sightings := discovery.Extract(msg.Text, msg.ChatID, msg.SentAt)

	if fwd := msg.Forward; fwd != nil && fwd.ChatID != 0 {
		sightings = append(sightings, discovery.FromForward(
			fwd.ChatID, fwd.Username, fwd.Title, fwd.Kind, msg.ChatID, msg.SentAt,
		))
	}

	for _, s := range sightings {
		if _, err := p.merger.Observe(ctx, s); err != nil {
			p.logger.Warn().Err(err).Int64("chat_id", msg.ChatID).Msg("discovery observe failed")
			continue
		}

		p.stats.ChatDiscovered()
		observability.ChatsDiscovered.WithLabelValues(s.SourceType).Inc()
	}
}
