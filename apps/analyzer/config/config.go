package config

import (
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/antinvestor/requirements/internal/events"
	"github.com/antinvestor/requirements/internal/llm"
)

// AnalyzerConfig defines configuration for the analyzer service.
// The analyzer scores requirements, detects gaps, generates clarifying
// questions and acceptance criteria, and gates forwarding to test generation.
type AnalyzerConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Queue Configuration
	// ==========================================================================

	// Analysis request queue (incoming)
	QueueAnalysisRequestName string `envDefault:"requirements.analysis.requests" env:"QUEUE_ANALYSIS_REQUEST_NAME"`
	QueueAnalysisRequestURI  string `envDefault:"mem://requirements.analysis.requests" env:"QUEUE_ANALYSIS_REQUEST_URI"`

	// Analysis result queue (outgoing)
	QueueAnalysisResultName string `envDefault:"requirements.analysis.results" env:"QUEUE_ANALYSIS_RESULT_NAME"`
	QueueAnalysisResultURI  string `envDefault:"mem://requirements.analysis.results" env:"QUEUE_ANALYSIS_RESULT_URI"`

	// ==========================================================================
	// LLM Provider Configuration
	// ==========================================================================

	// AnthropicAPIKey is the API key for Anthropic Claude.
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	// OpenAIAPIKey is the API key for OpenAI.
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`

	// OpenAIBaseURL points the OpenAI provider at a compatible endpoint.
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	// GoogleAPIKey is the API key for Google AI.
	GoogleAPIKey string `env:"GOOGLE_API_KEY"`

	// DefaultLLMProvider is the default LLM provider. "stub" disables calls.
	DefaultLLMProvider string `envDefault:"anthropic" env:"DEFAULT_LLM_PROVIDER"`

	// LLMModel overrides the default model.
	LLMModel string `env:"LLM_MODEL"`

	// LLMTimeoutSeconds is the timeout for a single LLM request.
	LLMTimeoutSeconds int `envDefault:"20" env:"LLM_TIMEOUT_SECONDS"`

	// LLMMaxRetries is the maximum retries for LLM requests.
	LLMMaxRetries int `envDefault:"2" env:"LLM_MAX_RETRIES"`

	// ==========================================================================
	// Engine Thresholds
	// ==========================================================================

	// QuestionMinSeverity is the lowest gap severity that yields a question.
	QuestionMinSeverity string `envDefault:"low" env:"QUESTION_MIN_SEVERITY"`

	// StructureCapabilityTimeoutMS bounds the structure extraction capability call.
	StructureCapabilityTimeoutMS int `envDefault:"8000" env:"STRUCTURE_CAPABILITY_TIMEOUT_MS"`

	// DomainValidationTimeoutMS bounds the domain validator call.
	DomainValidationTimeoutMS int `envDefault:"3000" env:"DOMAIN_VALIDATION_TIMEOUT_MS"`

	// EscalationRulesPath is an optional YAML file replacing the built-in escalation table.
	EscalationRulesPath string `env:"ESCALATION_RULES_PATH"`

	// ==========================================================================
	// Collaborators
	// ==========================================================================

	// DomainValidatorURL is the base URL of the domain knowledge service.
	DomainValidatorURL string `env:"DOMAIN_VALIDATOR_URL"`

	// DomainCatalogPath is a YAML catalog used when no validator URL is set.
	DomainCatalogPath string `env:"DOMAIN_CATALOG_PATH"`

	// DomainValidatorMaxFailures opens the circuit breaker after this many failures.
	DomainValidatorMaxFailures int `envDefault:"5" env:"DOMAIN_VALIDATOR_MAX_FAILURES"`

	// DomainValidatorResetSeconds is how long the breaker stays open.
	DomainValidatorResetSeconds int `envDefault:"30" env:"DOMAIN_VALIDATOR_RESET_SECONDS"`

	// TestGenerationURL is the base URL of the test generation service.
	TestGenerationURL string `env:"TEST_GENERATION_URL"`

	// TestGenerationTimeoutSeconds bounds a forward call.
	TestGenerationTimeoutSeconds int `envDefault:"30" env:"TEST_GENERATION_TIMEOUT_SECONDS"`

	// ==========================================================================
	// History & Deduplication
	// ==========================================================================

	// HistoryBackend selects the history store: postgres, sqlite or memory.
	HistoryBackend string `envDefault:"memory" env:"HISTORY_BACKEND"`

	// HistorySQLitePath is the database file for the sqlite backend.
	HistorySQLitePath string `envDefault:"/var/lib/requirements/history.db" env:"HISTORY_SQLITE_PATH"`

	// DeduplicationBackend selects memory or redis.
	DeduplicationBackend string `envDefault:"memory" env:"DEDUPLICATION_BACKEND"`

	// RedisURL is the Redis connection URL.
	RedisURL string `env:"REDIS_URL"`

	// DeduplicationTTLHours is how long processed request ids are remembered.
	DeduplicationTTLHours int `envDefault:"24" env:"DEDUPLICATION_TTL_HOURS"`

	// ==========================================================================
	// HTTP API
	// ==========================================================================

	// RateLimitRequestsPerMinute limits requests per minute per client.
	RateLimitRequestsPerMinute int `envDefault:"60" env:"RATE_LIMIT_REQUESTS_PER_MINUTE"`

	// RateLimitBurstSize is the burst size for rate limiting.
	RateLimitBurstSize int `envDefault:"10" env:"RATE_LIMIT_BURST_SIZE"`

	// MaxRequestSize is the maximum request body size in bytes.
	MaxRequestSize int `envDefault:"1048576" env:"MAX_REQUEST_SIZE"` // 1MB

	// RequireAuthentication enforces bearer tokens on the API.
	RequireAuthentication bool `envDefault:"false" env:"REQUIRE_AUTHENTICATION"`
}

// LLMClientConfig returns the llm client configuration.
func (c *AnalyzerConfig) LLMClientConfig() llm.ClientConfig {
	cfg := llm.DefaultClientConfig()
	cfg.AnthropicAPIKey = c.AnthropicAPIKey
	cfg.OpenAIAPIKey = c.OpenAIAPIKey
	cfg.OpenAIBaseURL = c.OpenAIBaseURL
	cfg.GoogleAPIKey = c.GoogleAPIKey
	if c.DefaultLLMProvider != "" {
		cfg.DefaultProvider = llm.Provider(c.DefaultLLMProvider)
	}
	if c.LLMModel != "" {
		cfg.DefaultModel = llm.Model(c.LLMModel)
	}
	if c.LLMTimeoutSeconds > 0 {
		cfg.TimeoutSeconds = c.LLMTimeoutSeconds
	}
	cfg.MaxRetries = c.LLMMaxRetries
	return cfg
}

// BackendConfig returns the deduplication backend configuration.
func (c *AnalyzerConfig) BackendConfig() events.BackendConfig {
	cfg := events.DefaultBackendConfig()
	if c.DeduplicationBackend != "" {
		cfg.DeduplicationBackend = events.BackendType(c.DeduplicationBackend)
	}
	cfg.RedisURL = c.RedisURL
	if c.DeduplicationTTLHours > 0 {
		cfg.DeduplicationTTL = time.Duration(c.DeduplicationTTLHours) * time.Hour
	}
	return cfg
}

// StructureCapabilityTimeout returns the capability call timeout.
func (c *AnalyzerConfig) StructureCapabilityTimeout() time.Duration {
	return time.Duration(c.StructureCapabilityTimeoutMS) * time.Millisecond
}

// DomainValidationTimeout returns the domain validator call timeout.
func (c *AnalyzerConfig) DomainValidationTimeout() time.Duration {
	return time.Duration(c.DomainValidationTimeoutMS) * time.Millisecond
}
