package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string  `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string  `env:"POSTGRES_DSN,required"`
	BotToken    string  `env:"BOT_TOKEN"`
	AdminIDs    []int64 `env:"ADMIN_IDS" envSeparator:","`
	// TargetChatID receives new-event notifications; zero falls back to
	// messaging the admins directly.
	TargetChatID int64 `env:"TARGET_CHAT_ID"`

	// MTProto listener account
	TGAPIID       int    `env:"TG_API_ID"`
	TGAPIHash     string `env:"TG_API_HASH"`
	TGPhone       string `env:"TG_PHONE"`
	TG2FAPassword string `env:"TG_2FA_PASSWORD"`
	TGSessionPath string `env:"TG_SESSION_PATH" envDefault:"./tg.session"`

	// Extraction
	LLMAPIKey         string        `env:"LLM_API_KEY" envDefault:"mock"`
	LLMModel          string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMPrescreenModel string        `env:"LLM_PRESCREEN_MODEL" envDefault:"gpt-4o-mini"`
	LLMTimeout        time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	RateLimitRPS      int           `env:"RATE_LIMIT_RPS" envDefault:"1"`

	// Pre-filter
	FilterThreshold int `env:"FILTER_THRESHOLD" envDefault:"2"`

	// Listener
	ReaderFetchLimit   int           `env:"READER_FETCH_LIMIT" envDefault:"50"`
	ReaderPollInterval time.Duration `env:"READER_POLL_INTERVAL" envDefault:"30s"`
	PipelineWorkers    int           `env:"PIPELINE_WORKERS" envDefault:"4"`

	// Venue resolution
	PlacesAPIKey       string        `env:"PLACES_API_KEY"`
	PlacesRegion       string        `env:"PLACES_REGION" envDefault:"Koh Phangan"`
	VenueLookupTimeout time.Duration `env:"VENUE_LOOKUP_TIMEOUT" envDefault:"10s"`
	NegativeAliasTTL   time.Duration `env:"NEGATIVE_ALIAS_TTL" envDefault:"720h"`

	// Discovery resolver
	ResolverBatchSize    int           `env:"RESOLVER_BATCH_SIZE" envDefault:"20"`
	ResolverPollInterval time.Duration `env:"RESOLVER_POLL_INTERVAL" envDefault:"5m"`

	HealthPort int `env:"HEALTH_PORT" envDefault:"8080"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
