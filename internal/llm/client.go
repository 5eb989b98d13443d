package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/util"
)

// Common errors.
var (
	ErrNoAPIKey           = errors.New("no API key configured")
	ErrRateLimited        = errors.New("rate limited")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrContextTooLong     = errors.New("context too long")
	ErrInvalidResponse    = errors.New("invalid response from LLM")
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// Client is the text generation capability used by the analyzer.
type Client interface {
	// ExtractStructure proposes actor/action/object/outcome and condition
	// lists for a requirement.
	ExtractStructure(
		ctx context.Context,
		input ExtractStructureInput,
	) (*StructureHint, *InvocationResult, error)

	// GetUsage returns cumulative usage statistics.
	GetUsage() Usage
}

// ProviderClient is the interface for a single LLM provider.
type ProviderClient interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Provider returns the provider identifier.
	Provider() Provider

	// IsAvailable returns true if the provider is configured.
	IsAvailable() bool
}

// CompletionRequest is a request to the LLM.
type CompletionRequest struct {
	Model          Model
	SystemPrompt   string
	UserPrompt     string
	MaxTokens      int
	Temperature    float64
	ResponseFormat string // "json" or "text"
	Function       Function
	Purpose        Purpose

	// SchemaName and Schema request structured output where supported.
	SchemaName string
	Schema     any
}

// CompletionResponse is a response from the LLM.
type CompletionResponse struct {
	Content    string
	Usage      Usage
	StopReason string
	RequestID  string
	LatencyMS  int64
	CacheHit   bool
	Provider   Provider
}

// MultiProviderClient implements Client with fallback support.
type MultiProviderClient struct {
	providers     []ProviderClient
	promptBuilder *PromptBuilder
	config        ClientConfig

	mu         sync.Mutex
	totalUsage Usage
}

// NewMultiProviderClient creates a new multi-provider client.
func NewMultiProviderClient(cfg ClientConfig) (*MultiProviderClient, error) {
	const numProviders = 3
	providers := make([]ProviderClient, 0, numProviders)

	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, NewAnthropicClient(cfg.AnthropicAPIKey, cfg))
	}

	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, NewOpenAIClient(cfg.OpenAIAPIKey, cfg))
	}

	if cfg.GoogleAPIKey != "" {
		providers = append(providers, NewGoogleClient(cfg.GoogleAPIKey, cfg))
	}

	if len(providers) == 0 {
		return nil, ErrNoAPIKey
	}

	return NewMultiProviderClientWith(cfg, providers...)
}

// NewMultiProviderClientWith creates a client over explicit providers.
func NewMultiProviderClientWith(cfg ClientConfig, providers ...ProviderClient) (*MultiProviderClient, error) {
	if len(providers) == 0 {
		return nil, ErrNoAPIKey
	}

	pb, err := NewPromptBuilder()
	if err != nil {
		return nil, fmt.Errorf("create prompt builder: %w", err)
	}

	return &MultiProviderClient{
		providers:     providers,
		promptBuilder: pb,
		config:        cfg,
	}, nil
}

// ExtractStructure implements Client.
func (c *MultiProviderClient) ExtractStructure(
	ctx context.Context,
	input ExtractStructureInput,
) (*StructureHint, *InvocationResult, error) {
	log := util.Log(ctx)

	prompt, err := c.promptBuilder.Build(FunctionExtractStructure, input)
	if err != nil {
		return nil, nil, fmt.Errorf("build prompt: %w", err)
	}

	req := &CompletionRequest{
		Model:          c.config.DefaultModel,
		SystemPrompt:   "You are a requirements analyst. Answer with JSON only.",
		UserPrompt:     prompt,
		MaxTokens:      c.config.MaxOutputTokens,
		Temperature:    c.config.Temperature,
		ResponseFormat: "json",
		Function:       FunctionExtractStructure,
		Purpose:        PurposeStructureExtraction,
		SchemaName:     "structure_hint",
		Schema:         structureHintSchema,
	}

	resp, err := c.completeWithFallback(ctx, req, input.PreferredProvider)
	if err != nil {
		log.WithError(err).Warn("extract structure failed")
		return nil, nil, err
	}

	var result StructureHint
	if parseErr := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); parseErr != nil {
		log.WithError(parseErr).Warn("failed to parse structure hint")
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidResponse, parseErr)
	}

	return &result, c.buildInvocationResult(resp, req), nil
}

// GetUsage implements Client.
func (c *MultiProviderClient) GetUsage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalUsage
}

// orderedProviders returns providers with preferred first.
func (c *MultiProviderClient) orderedProviders(preferred Provider) []ProviderClient {
	if preferred == "" {
		preferred = c.config.DefaultProvider
	}
	ordered := make([]ProviderClient, 0, len(c.providers))
	for _, p := range c.providers {
		if p.Provider() == preferred {
			ordered = append(ordered, p)
		}
	}
	for _, p := range c.providers {
		if p.Provider() != preferred {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

// completeWithFallback tries each provider in order until one succeeds.
func (c *MultiProviderClient) completeWithFallback(
	ctx context.Context,
	req *CompletionRequest,
	preferred Provider,
) (*CompletionResponse, error) {
	log := util.Log(ctx)
	var lastErr error

	for _, provider := range c.orderedProviders(preferred) {
		if !provider.IsAvailable() {
			continue
		}

		log.Debug("trying provider",
			"provider", provider.Provider(),
			"function", req.Function,
		)

		resp, err := c.completeWithRetry(ctx, provider, req)
		if err == nil {
			resp.Provider = provider.Provider()

			c.mu.Lock()
			c.totalUsage.add(resp.Usage)
			c.mu.Unlock()

			return resp, nil
		}

		log.WithError(err).Warn("provider failed, trying next",
			"provider", provider.Provider(),
		)
		lastErr = err

		if errors.Is(err, ErrContextTooLong) || ctx.Err() != nil {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

// completeWithRetry retries a single provider request.
func (c *MultiProviderClient) completeWithRetry(
	ctx context.Context,
	provider ProviderClient,
	req *CompletionRequest,
) (*CompletionResponse, error) {
	log := util.Log(ctx)
	var lastErr error

	attempts := max(c.config.MaxRetries, 1)
	for attempt := range attempts {
		resp, err := provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if errors.Is(err, ErrContextTooLong) ||
			errors.Is(err, ErrQuotaExceeded) ||
			attempt == attempts-1 {
			return nil, err
		}

		backoff := time.Duration(c.config.RetryBackoffMS<<attempt) * time.Millisecond
		log.Debug("retrying after error",
			"provider", provider.Provider(),
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

// buildInvocationResult creates an InvocationResult from a response.
func (c *MultiProviderClient) buildInvocationResult(
	resp *CompletionResponse,
	req *CompletionRequest,
) *InvocationResult {
	return &InvocationResult{
		Provider:    resp.Provider,
		Model:       req.Model,
		Function:    req.Function,
		Usage:       resp.Usage,
		LatencyMS:   resp.LatencyMS,
		StopReason:  resp.StopReason,
		RequestID:   resp.RequestID,
		CacheHit:    resp.CacheHit,
		CompletedAt: time.Now(),
	}
}

// extractJSON strips markdown code fences some models wrap JSON in.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// estimateCost estimates the cost of a request in USD.
func estimateCost(provider Provider, model Model, usage Usage) float64 {
	// Pricing per 1M tokens
	var inputPrice, outputPrice float64

	switch provider {
	case ProviderAnthropic:
		switch model {
		case ModelClaudeHaiku:
			inputPrice, outputPrice = 0.8, 4.0
		default:
			inputPrice, outputPrice = 3.0, 15.0
		}
	case ProviderOpenAI:
		switch model {
		case ModelGPT4oMini:
			inputPrice, outputPrice = 0.15, 0.6
		default:
			inputPrice, outputPrice = 2.5, 10.0
		}
	case ProviderGoogle:
		inputPrice, outputPrice = 0.075, 0.30
	case ProviderStub:
		return 0
	}

	const tokensPerMillion = 1_000_000.0
	inputCost := float64(usage.InputTokens) / tokensPerMillion * inputPrice
	outputCost := float64(usage.OutputTokens) / tokensPerMillion * outputPrice

	return inputCost + outputCost
}

// containsContextLengthError checks if an error message indicates context length issues.
func containsContextLengthError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range []string{
		"context_length",
		"too many tokens",
		"maximum context length",
		"token limit",
	} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
