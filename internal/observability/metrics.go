package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSeen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_messages_seen_total",
		Help: "The total number of chat messages inspected",
	}, []string{"chat"})

	PipelineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_pipeline_outcomes_total",
		Help: "The total number of messages by pipeline outcome",
	}, []string{"outcome"})

	EventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_events_stored_total",
		Help: "The total number of events stored",
	}, []string{"category"})

	DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radar_duplicate_events_total",
		Help: "The total number of events dropped as fingerprint duplicates",
	})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radar_llm_request_duration_seconds",
		Help:    "Duration of LLM extraction requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	VenueLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_venue_lookups_total",
		Help: "The total number of venue resolutions by status and cache source",
	}, []string{"status", "cache"})

	ChatsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_chats_discovered_total",
		Help: "The total number of discovery sightings by source type",
	}, []string{"source_type"})

	DiscoveryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radar_discovery_queue_size",
		Help: "Number of discovered chats pending review",
	})

	ReaderBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "radar_reader_batch_duration_seconds",
		Help:    "Duration in seconds to poll one chat's history batch",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)
