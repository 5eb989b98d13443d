// Package llm provides the text generation capability used to augment
// rule-based requirement structure extraction.
package llm

import "time"

// Provider identifies an LLM provider.
type Provider string

// LLM provider constants.
const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderStub      Provider = "stub"
)

// Model identifies an LLM model.
type Model string

// Model constants.
const (
	ModelClaudeSonnet Model = "claude-sonnet-4-20250514"
	ModelClaudeHaiku  Model = "claude-3-5-haiku-20241022"
	ModelGPT4o        Model = "gpt-4o"
	ModelGPT4oMini    Model = "gpt-4o-mini"
	ModelGeminiFlash  Model = "gemini-2.0-flash"
)

// Function identifies a prompt template.
type Function string

// Function constants.
const (
	FunctionExtractStructure Function = "ExtractStructure"
)

// Purpose categorizes invocation purposes.
type Purpose string

// Purpose constants.
const (
	PurposeStructureExtraction Purpose = "structure_extraction"
)

// ExtractStructureInput is the input for ExtractStructure.
type ExtractStructureInput struct {
	Title              string
	Description        string
	AcceptanceCriteria []string
	SourceKind         string

	// PreferredProvider is tried first when set.
	PreferredProvider Provider
}

// StructureHint is the capability's view of a requirement's structure.
// Every field is optional; callers only use it to fill what rules missed.
type StructureHint struct {
	Actor          string   `json:"actor" jsonschema:"description=Who performs the action such as customer"`
	Action         string   `json:"action" jsonschema:"description=Main verb of the requirement"`
	Object         string   `json:"object" jsonschema:"description=What the action is performed on"`
	Outcome        string   `json:"outcome" jsonschema:"description=Business outcome the actor expects"`
	Preconditions  []string `json:"preconditions" jsonschema:"description=States that must hold before the action"`
	Postconditions []string `json:"postconditions" jsonschema:"description=States that hold after the action"`
	Triggers       []string `json:"triggers" jsonschema:"description=Events that start the behaviour"`
	Constraints    []string `json:"constraints" jsonschema:"description=Limits and rules on the behaviour"`
}

// Usage contains token usage statistics.
type Usage struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int     `json:"cache_write_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// add accumulates other into u.
func (u *Usage) add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.CostUSD += other.CostUSD
}

// InvocationResult is the result of an LLM invocation.
type InvocationResult struct {
	Provider    Provider  `json:"provider"`
	Model       Model     `json:"model"`
	Function    Function  `json:"function"`
	Usage       Usage     `json:"usage"`
	LatencyMS   int64     `json:"latency_ms"`
	StopReason  string    `json:"stop_reason"`
	RequestID   string    `json:"request_id,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	CompletedAt time.Time `json:"completed_at"`
}

// Default configuration constants.
const (
	defaultTimeoutSeconds  = 30
	defaultMaxRetries      = 2
	defaultMaxOutputTokens = 1024
	defaultRetryBackoffMS  = 500
)

// ClientConfig contains LLM client configuration.
type ClientConfig struct {
	// Provider settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string

	// Base URL overrides, used for proxies and tests.
	AnthropicBaseURL string
	OpenAIBaseURL    string
	GoogleBaseURL    string

	// Defaults
	DefaultProvider Provider
	DefaultModel    Model

	// Timeouts and retries
	TimeoutSeconds int
	MaxRetries     int
	RetryBackoffMS int

	// Token limits
	MaxOutputTokens int
	Temperature     float64
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DefaultProvider: ProviderAnthropic,
		DefaultModel:    ModelClaudeHaiku,
		TimeoutSeconds:  defaultTimeoutSeconds,
		MaxRetries:      defaultMaxRetries,
		RetryBackoffMS:  defaultRetryBackoffMS,
		MaxOutputTokens: defaultMaxOutputTokens,
		Temperature:     0.0,
	}
}
