package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/requirements/internal/llm"
)

func TestObjectAfter(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{" invoices produces a CSV file", "invoices"},
		{" the monthly invoice as PDF", "monthly invoice"},
		{" order items from the basket", "order items"},
		{" reports the totals", "reports"},
		{" password recovery link", "password recovery link"},
		{" in with my email", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, objectAfter(tt.text))
		})
	}
}

func TestExtractByRules_ImperativeSentence(t *testing.T) {
	doc := testDoc("CSV export", "Exporting invoices produces a CSV file.")

	s := extractByRules(doc)
	assert.Equal(t, "export", s.Action)
	assert.Equal(t, "invoices", s.Object)
	assert.Equal(t, structureSourceRules, s.Source)
}

func TestExtractByRules_UserStory(t *testing.T) {
	doc := testDoc("Invoice download",
		"As an accountant, I want to download invoices as PDF so that I can archive them.")

	s := extractByRules(doc)
	assert.Equal(t, "accountant", s.Actor)
	assert.Equal(t, "download", s.Action)
	assert.Equal(t, "invoices", s.Object)
	assert.Equal(t, "I can archive them", s.Outcome)
}

type slowCapability struct {
	*llm.StubClient
	delay time.Duration
}

func (c slowCapability) ExtractStructure(
	ctx context.Context,
	in llm.ExtractStructureInput,
) (*llm.StructureHint, *llm.InvocationResult, error) {
	time.Sleep(c.delay)
	return c.StubClient.ExtractStructure(context.WithoutCancel(ctx), in)
}

func TestStructureExtractor_CapabilityTimeout(t *testing.T) {
	capability := slowCapability{StubClient: llm.NewStubClient(&llm.StructureHint{Actor: "clerk"}), delay: 2 * time.Second}
	extractor := NewStructureExtractor(capability, 50*time.Millisecond)
	doc := testDoc("CSV export", "Exporting invoices produces a CSV file.")

	start := time.Now()
	s, degraded, err := extractor.Extract(context.Background(), doc, "")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, degraded)
	assert.Equal(t, structureSourceRules, s.Source)
	assert.Empty(t, s.Actor)
}
