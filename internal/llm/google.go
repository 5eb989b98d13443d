package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const googleAPIBaseURL = "https://generativelanguage.googleapis.com"

// GoogleClient implements ProviderClient for Google AI.
type GoogleClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	config     ClientConfig
}

// NewGoogleClient creates a new Google AI client.
func NewGoogleClient(apiKey string, cfg ClientConfig) *GoogleClient {
	baseURL := googleAPIBaseURL
	if cfg.GoogleBaseURL != "" {
		baseURL = strings.TrimSuffix(cfg.GoogleBaseURL, "/")
	}
	return &GoogleClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		config: cfg,
	}
}

// Provider implements ProviderClient.
func (c *GoogleClient) Provider() Provider {
	return ProviderGoogle
}

// IsAvailable implements ProviderClient.
func (c *GoogleClient) IsAvailable() bool {
	return c.apiKey != ""
}

type googleRequest struct {
	Contents          []googleContent        `json:"contents"`
	GenerationConfig  googleGenerationConfig `json:"generationConfig,omitzero"`
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenerationConfig struct {
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type googleResponse struct {
	Candidates    []googleCandidate   `json:"candidates"`
	UsageMetadata googleUsageMetadata `json:"usageMetadata"`
}

type googleCandidate struct {
	Content      googleContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type googleUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type googleError struct {
	Error googleErrorDetail `json:"error"`
}

type googleErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Complete implements ProviderClient.
func (c *GoogleClient) Complete(
	ctx context.Context,
	req *CompletionRequest,
) (*CompletionResponse, error) {
	start := time.Now()

	model := mapModelToGoogle(req.Model)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxOutputTokens
	}

	googleReq := googleRequest{
		Contents: []googleContent{
			{Role: "user", Parts: []googlePart{{Text: req.UserPrompt}}},
		},
		GenerationConfig: googleGenerationConfig{
			MaxOutputTokens: maxTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.ResponseFormat == "json" {
		googleReq.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if req.SystemPrompt != "" {
		googleReq.SystemInstruction = &googleContent{
			Parts: []googlePart{{Text: req.SystemPrompt}},
		}
	}

	body, err := json.Marshal(googleReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, model, url.QueryEscape(c.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var googleResp googleResponse
	if unmarshalErr := json.Unmarshal(respBody, &googleResp); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal response: %w", unmarshalErr)
	}

	var content, finishReason string
	if len(googleResp.Candidates) > 0 {
		candidate := googleResp.Candidates[0]
		if len(candidate.Content.Parts) > 0 {
			content = candidate.Content.Parts[0].Text
		}
		finishReason = candidate.FinishReason
	}

	usage := Usage{
		InputTokens:  googleResp.UsageMetadata.PromptTokenCount,
		OutputTokens: googleResp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  googleResp.UsageMetadata.TotalTokenCount,
	}
	usage.CostUSD = estimateCost(ProviderGoogle, Model(model), usage)

	return &CompletionResponse{
		Content:    content,
		Usage:      usage,
		StopReason: finishReason,
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}

// handleErrorResponse maps Google AI API errors onto package errors.
func (c *GoogleClient) handleErrorResponse(statusCode int, body []byte) error {
	var errResp googleError
	if err := json.Unmarshal(body, &errResp); err != nil {
		return fmt.Errorf("API error (status %d): %s", statusCode, string(body))
	}

	errMsg := errResp.Error.Message

	switch statusCode {
	case http.StatusTooManyRequests:
		if errResp.Error.Status == "RESOURCE_EXHAUSTED" && strings.Contains(strings.ToLower(errMsg), "quota") {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, errMsg)
		}
		return fmt.Errorf("%w: %s", ErrRateLimited, errMsg)
	case http.StatusBadRequest:
		if errResp.Error.Status == "INVALID_ARGUMENT" && containsContextLengthError(errMsg) {
			return fmt.Errorf("%w: %s", ErrContextTooLong, errMsg)
		}
		return fmt.Errorf("bad request: %s", errMsg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("authentication failed: %s", errMsg)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("server error: %s", errMsg)
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, errMsg)
	}
}

// mapModelToGoogle maps configured models to Google model names.
func mapModelToGoogle(model Model) string {
	if strings.HasPrefix(string(model), "gemini-") {
		return string(model)
	}
	return string(ModelGeminiFlash)
}
