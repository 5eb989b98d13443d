package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// structureHintSchema is the strict JSON schema requested for ExtractStructure.
//
//nolint:gochecknoglobals // schema is reflected once
var structureHintSchema = GenerateSchema[StructureHint]()

// GenerateSchema reflects a JSON schema for T suitable for strict structured output.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// OpenAIClient implements ProviderClient for OpenAI and compatible endpoints.
type OpenAIClient struct {
	apiKey string
	client openai.Client
	config ClientConfig
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string, cfg ClientConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}),
		// Retries are owned by MultiProviderClient.
		option.WithMaxRetries(0),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}

	return &OpenAIClient{
		apiKey: apiKey,
		client: openai.NewClient(opts...),
		config: cfg,
	}
}

// Provider implements ProviderClient.
func (c *OpenAIClient) Provider() Provider {
	return ProviderOpenAI
}

// IsAvailable implements ProviderClient.
func (c *OpenAIClient) IsAvailable() bool {
	return c.apiKey != ""
}

// Complete implements ProviderClient.
func (c *OpenAIClient) Complete(
	ctx context.Context,
	req *CompletionRequest,
) (*CompletionResponse, error) {
	start := time.Now()

	model := mapModelToOpenAI(req.Model)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxOutputTokens
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(req.Temperature),
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.SchemaName,
					Description: openai.String("Structured response schema"),
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrInvalidResponse)
	}

	usage := Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	usage.CostUSD = estimateCost(ProviderOpenAI, Model(model), usage)

	return &CompletionResponse{
		Content:    resp.Choices[0].Message.Content,
		Usage:      usage,
		StopReason: string(resp.Choices[0].FinishReason),
		RequestID:  resp.ID,
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}

// mapOpenAIError maps SDK errors onto package errors.
func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai chat: %w", err)
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests && apiErr.Code == "insufficient_quota":
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	case apiErr.StatusCode == http.StatusBadRequest && containsContextLengthError(apiErr.Code+" "+apiErr.Message):
		return fmt.Errorf("%w: %s", ErrContextTooLong, apiErr.Message)
	case apiErr.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("authentication failed: %s", apiErr.Message)
	case apiErr.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("server error: %s", apiErr.Message)
	default:
		return fmt.Errorf("API error (status %d): %s", apiErr.StatusCode, apiErr.Message)
	}
}

// mapModelToOpenAI maps configured models to OpenAI model names.
func mapModelToOpenAI(model Model) string {
	switch {
	case model == ModelGPT4o, model == ModelGPT4oMini:
		return string(model)
	case model == ModelClaudeSonnet:
		return string(ModelGPT4o)
	case strings.HasPrefix(string(model), "gpt-"):
		return string(model)
	default:
		return string(ModelGPT4oMini)
	}
}
