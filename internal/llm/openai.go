package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/event-radar/event-radar/internal/config"
)

type openaiClient struct {
	cfg         *config.Config
	client      *openai.Client
	logger      *zerolog.Logger
	rateLimiter *rate.Limiter

	// Circuit breaker state
	consecutiveFailures int
	circuitOpenUntil    time.Time
	mu                  sync.Mutex
}

const (
	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 1 * time.Minute

	maxMessageRunes = 4000
)

// NewOpenAI creates the production extractor backed by the OpenAI API.
func NewOpenAI(cfg *config.Config, logger *zerolog.Logger) Client {
	return &openaiClient{
		cfg:         cfg,
		client:      openai.NewClient(cfg.LLMAPIKey),
		logger:      logger,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPS)), 5), // User-defined RPS, burst 5
	}
}

func (c *openaiClient) checkCircuit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.circuitOpenUntil) {
		return fmt.Errorf("circuit breaker is open until %v", c.circuitOpenUntil)
	}

	return nil
}

func (c *openaiClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures = 0
}

func (c *openaiClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	if c.consecutiveFailures >= circuitBreakerThreshold {
		c.circuitOpenUntil = time.Now().Add(circuitBreakerTimeout)
		c.logger.Warn().
			Int("consecutive_failures", c.consecutiveFailures).
			Time("open_until", c.circuitOpenUntil).
			Msg("Circuit breaker opened")
	}
}

// ExtractEvent runs the two-stage extraction: a cheap yes/no prescreen on
// the small model, then the structured extraction only for messages the
// prescreen accepts.
func (c *openaiClient) ExtractEvent(ctx context.Context, text, chatTitle string) (*Candidate, error) {
	text = truncate(text, maxMessageRunes)

	isEvent, err := c.prescreen(ctx, text)
	if err != nil {
		return nil, err
	}

	if !isEvent {
		return nil, nil
	}

	return c.extract(ctx, text, chatTitle)
}

func (c *openaiClient) prescreen(ctx context.Context, text string) (bool, error) {
	model := c.cfg.LLMPrescreenModel
	if model == "" {
		model = openai.GPT4oMini
	}

	content, err := c.complete(ctx, model, prescreenPrompt+"\n\nMessage:\n"+text, false)
	if err != nil {
		return false, fmt.Errorf("prescreen: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(content))

	return strings.HasPrefix(answer, "yes"), nil
}

func (c *openaiClient) extract(ctx context.Context, text, chatTitle string) (*Candidate, error) {
	model := c.cfg.LLMModel
	if model == "" {
		model = openai.GPT4oMini
	}

	prompt := extractPrompt
	if chatTitle != "" {
		prompt += "\n\nSource chat: " + chatTitle
	}

	prompt += "\n\nMessage:\n" + text

	content, err := c.complete(ctx, model, prompt, true)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	var cand Candidate

	if err := json.Unmarshal([]byte(content), &cand); err != nil {
		// One re-ask for malformed JSON; a second failure drops the message.
		c.logger.Warn().Err(err).Msg("malformed extraction response, retrying once")

		content, err = c.complete(ctx, model, prompt, true)
		if err != nil {
			return nil, fmt.Errorf("extract retry: %w", err)
		}

		if err := json.Unmarshal([]byte(content), &cand); err != nil {
			c.logger.Warn().Err(err).Str("content", content).Msg("extraction response unparseable, dropping")
			return nil, nil
		}
	}

	cand.Date = parseCandidateDate(cand.DateRaw, time.Now())

	if err := validateCandidate(&cand); err != nil {
		c.logger.Debug().Err(err).Str("content", content).Msg("extraction rejected")
		return nil, nil
	}

	return &cand, nil
}

func (c *openaiClient) complete(ctx context.Context, model, prompt string, jsonMode bool) (string, error) {
	if err := c.checkCircuit(); err != nil {
		return "", err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}

	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.recordFailure()
		return "", fmt.Errorf("openai chat completion error: %w", err)
	}

	c.recordSuccess()

	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

const (
	maxTitleRunes   = 30
	maxSummaryRunes = 80
)

var validCategories = map[string]bool{
	"party":     true,
	"sport":     true,
	"business":  true,
	"education": true,
	"chill":     true,
}

// validateCandidate rejects extractions that cannot become a stored event
// and clamps the rest to the event field limits.
func validateCandidate(cand *Candidate) error {
	cand.Title = strings.TrimSpace(cand.Title)
	if cand.Title == "" {
		return errors.New("empty title")
	}

	cand.Title = clampRunes(cand.Title, maxTitleRunes)
	cand.Summary = clampRunes(strings.TrimSpace(cand.Summary), maxSummaryRunes)

	if cand.PriceTHB < 0 {
		cand.PriceTHB = 0
	}

	cand.Category = strings.ToLower(strings.TrimSpace(cand.Category))
	if !validCategories[cand.Category] {
		cand.Category = "chill"
	}

	return nil
}

func clampRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	return strings.TrimSpace(string([]rune(s)[:max]))
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	runes := []rune(s)

	return string(runes[:max]) + "..."
}
