//nolint:testpackage // Testing internal functions requires same package
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestNewMultiProviderClient_NoAPIKey(t *testing.T) {
	_, err := NewMultiProviderClient(ClientConfig{})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestNewMultiProviderClient_MultipleProviders(t *testing.T) {
	client, err := NewMultiProviderClient(ClientConfig{
		AnthropicAPIKey: "test-key",
		OpenAIAPIKey:    "test-key",
		GoogleAPIKey:    "test-key",
		TimeoutSeconds:  60,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.providers) != 3 {
		t.Errorf("expected 3 providers, got %d", len(client.providers))
	}
}

func TestProviders_IsAvailable(t *testing.T) {
	providers := []ProviderClient{
		NewAnthropicClient("", ClientConfig{}),
		NewOpenAIClient("", ClientConfig{}),
		NewGoogleClient("", ClientConfig{}),
	}
	for _, p := range providers {
		if p.IsAvailable() {
			t.Errorf("expected %s to be unavailable with empty key", p.Provider())
		}
	}
}

func TestMultiProviderClient_PreferredProviderFirst(t *testing.T) {
	cfg := ClientConfig{DefaultProvider: ProviderAnthropic}
	client, err := NewMultiProviderClientWith(cfg,
		&fakeProvider{name: ProviderAnthropic},
		&fakeProvider{name: ProviderOpenAI},
		&fakeProvider{name: ProviderGoogle},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ordered := client.orderedProviders(ProviderGoogle)
	if ordered[0].Provider() != ProviderGoogle {
		t.Errorf("expected google first, got %s", ordered[0].Provider())
	}

	ordered = client.orderedProviders("")
	if ordered[0].Provider() != ProviderAnthropic {
		t.Errorf("expected default provider first, got %s", ordered[0].Provider())
	}
}

func TestMultiProviderClient_ExtractStructureFallback(t *testing.T) {
	failing := &fakeProvider{name: ProviderAnthropic, err: errors.New("server error: boom")}
	working := &fakeProvider{
		name:    ProviderOpenAI,
		content: "```json\n{\"actor\":\"customer\",\"action\":\"pay\",\"object\":\"invoice\",\"outcome\":\"\",\"preconditions\":[],\"postconditions\":[],\"triggers\":[],\"constraints\":[]}\n```",
		usage:   Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}

	client, err := NewMultiProviderClientWith(ClientConfig{MaxRetries: 1}, failing, working)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hint, invocation, err := client.ExtractStructure(context.Background(), ExtractStructureInput{
		Title:       "Pay invoice",
		Description: "As a customer I want to pay an invoice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hint.Actor != "customer" || hint.Action != "pay" || hint.Object != "invoice" {
		t.Errorf("unexpected hint: %+v", hint)
	}
	if invocation.Provider != ProviderOpenAI {
		t.Errorf("expected openai invocation, got %s", invocation.Provider)
	}
	if client.GetUsage().TotalTokens != 15 {
		t.Errorf("expected usage to be recorded, got %+v", client.GetUsage())
	}
	if failing.calls.Load() != 1 {
		t.Errorf("expected one call to failing provider, got %d", failing.calls.Load())
	}
}

func TestMultiProviderClient_AllProvidersFail(t *testing.T) {
	client, err := NewMultiProviderClientWith(ClientConfig{MaxRetries: 1},
		&fakeProvider{name: ProviderAnthropic, err: ErrRateLimited},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err = client.ExtractStructure(context.Background(), ExtractStructureInput{Title: "x"})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestMultiProviderClient_InvalidJSON(t *testing.T) {
	client, err := NewMultiProviderClientWith(ClientConfig{MaxRetries: 1},
		&fakeProvider{name: ProviderAnthropic, content: "not json"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err = client.ExtractStructure(context.Background(), ExtractStructureInput{Title: "x"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestAnthropicClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") == "" {
			t.Error("expected X-Api-Key header")
		}
		if r.Header.Get("Anthropic-Version") == "" {
			t.Error("expected Anthropic-Version header")
		}

		resp := anthropicResponse{
			ID:         "msg_test123",
			Type:       "message",
			Role:       "assistant",
			Content:    []anthropicContent{{Type: "text", Text: `{"actor":"user"}`}},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 100, OutputTokens: 50},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClient("test-key", ClientConfig{
		AnthropicBaseURL: server.URL,
		MaxOutputTokens:  512,
		TimeoutSeconds:   10,
	})

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Model:      ModelClaudeHaiku,
		UserPrompt: "Test prompt",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"actor":"user"}` {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if resp.RequestID != "msg_test123" {
		t.Errorf("unexpected request ID: %s", resp.RequestID)
	}
	if resp.Usage.TotalTokens != 150 {
		t.Errorf("unexpected total tokens: %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicClient_Complete_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(anthropicError{
			Type:  "error",
			Error: anthropicErrorDetail{Type: "rate_limit_error", Message: "Rate limit exceeded"},
		})
	}))
	defer server.Close()

	client := NewAnthropicClient("test-key", ClientConfig{AnthropicBaseURL: server.URL, TimeoutSeconds: 10})
	_, err := client.Complete(context.Background(), &CompletionRequest{UserPrompt: "x"})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestOpenAIClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["response_format"]; !ok {
			t.Error("expected response_format for schema requests")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"actor\":\"admin\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key", ClientConfig{OpenAIBaseURL: server.URL + "/", TimeoutSeconds: 10})
	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Model:      ModelGPT4oMini,
		UserPrompt: "x",
		SchemaName: "structure_hint",
		Schema:     structureHintSchema,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"actor":"admin"}` {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected total tokens: %d", resp.Usage.TotalTokens)
	}
}

func TestGoogleClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.0-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(googleResponse{
			Candidates: []googleCandidate{{
				Content:      googleContent{Parts: []googlePart{{Text: `{"actor":"operator"}`}}},
				FinishReason: "STOP",
			}},
			UsageMetadata: googleUsageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 2, TotalTokenCount: 5},
		})
	}))
	defer server.Close()

	client := NewGoogleClient("test-key", ClientConfig{GoogleBaseURL: server.URL, TimeoutSeconds: 10})
	resp, err := client.Complete(context.Background(), &CompletionRequest{Model: ModelGeminiFlash, UserPrompt: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"actor":"operator"}` {
		t.Errorf("unexpected content: %s", resp.Content)
	}
}

func TestMapModels(t *testing.T) {
	if got := mapModelToOpenAI(ModelClaudeHaiku); got != string(ModelGPT4oMini) {
		t.Errorf("mapModelToOpenAI(haiku) = %s", got)
	}
	if got := mapModelToGoogle(ModelClaudeSonnet); got != string(ModelGeminiFlash) {
		t.Errorf("mapModelToGoogle(sonnet) = %s", got)
	}
	if got := mapModelToAnthropic(ModelGPT4o); got != string(ModelClaudeSonnet) {
		t.Errorf("mapModelToAnthropic(gpt-4o) = %s", got)
	}
}

func TestContainsContextLengthError(t *testing.T) {
	tests := []struct {
		msg      string
		expected bool
	}{
		{"context_length exceeded", true},
		{"Too many tokens in request", true},
		{"Maximum context length exceeded", true},
		{"something else happened", false},
		{"", false},
	}

	for _, tt := range tests {
		if result := containsContextLengthError(tt.msg); result != tt.expected {
			t.Errorf("containsContextLengthError(%q) = %v, expected %v", tt.msg, result, tt.expected)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
	}
	for in, want := range tests {
		if got := extractJSON(in); got != want {
			t.Errorf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPromptBuilder_Build(t *testing.T) {
	pb, err := NewPromptBuilder()
	if err != nil {
		t.Fatalf("failed to create prompt builder: %v", err)
	}

	prompt, err := pb.Build(FunctionExtractStructure, ExtractStructureInput{
		Title:              "Reset password",
		Description:        "Users reset their password by email",
		AcceptanceCriteria: []string{"A reset link is sent"},
		SourceKind:         "JIRA",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Reset password", "A reset link is sent", "Source: JIRA"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}

	if _, err := pb.Build("Unknown", nil); err == nil {
		t.Error("expected error for unknown function")
	}
}

func TestStubClient(t *testing.T) {
	stub := NewStubClient(&StructureHint{Actor: "customer"})
	hint, invocation, err := stub.ExtractStructure(context.Background(), ExtractStructureInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hint.Actor != "customer" || invocation.Provider != ProviderStub {
		t.Errorf("unexpected stub output: %+v %+v", hint, invocation)
	}
	if stub.Calls() != 1 {
		t.Errorf("expected 1 call, got %d", stub.Calls())
	}
}

type fakeProvider struct {
	name    Provider
	content string
	usage   Usage
	err     error
	calls   atomic.Int32
}

func (f *fakeProvider) Complete(_ context.Context, _ *CompletionRequest) (*CompletionResponse, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &CompletionResponse{Content: f.content, Usage: f.usage}, nil
}

func (f *fakeProvider) Provider() Provider { return f.name }

func (f *fakeProvider) IsAvailable() bool { return true }
