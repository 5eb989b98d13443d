package analysis_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/apps/analyzer/service/repository"
	"github.com/antinvestor/requirements/internal/events"
	"github.com/antinvestor/requirements/internal/llm"
)

const paymentTranscript = `[00:01] Alice: We need customers to pay invoices by card from the billing page.
[00:02] Bob: What happens if the payment gateway times out?
[00:03] Alice: The system must show the payment confirmation after the card is charged.
[00:04] Carol: I'll check with the gateway vendor.`

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts analysis.Options) *analysis.Engine {
	t.Helper()
	if opts.History == nil {
		opts.History = repository.NewMemoryHistoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	engine, err := analysis.NewEngine(opts)
	require.NoError(t, err)
	return engine
}

func jiraLoginRequest() *events.AnalyzeRequest {
	return &events.AnalyzeRequest{Input: events.RequirementInput{
		Kind: events.SourceJira,
		Jira: &events.JiraInput{
			Key:         "AUTH-7",
			Summary:     "User login",
			Description: "As a registered user, I want to log in with my email and password so that I can access my dashboard.",
			AcceptanceCriteria: []string{
				"Given valid credentials, when the user submits the login form, then the user is redirected to the dashboard",
				"Given an invalid password, when the user submits the login form, then an error message is shown",
				"Given a password longer than 128 characters, when the user submits the login form, then a validation message is shown",
			},
		},
	}}
}

func transcriptRequest() *events.AnalyzeRequest {
	return &events.AnalyzeRequest{Input: events.RequirementInput{
		Kind:       events.SourceTranscript,
		Transcript: &events.TranscriptInput{Title: "Card payments", Transcript: paymentTranscript},
	}}
}

func highQuestions(r *events.AnalysisResult) []events.ClarifyingQuestion {
	var out []events.ClarifyingQuestion
	for _, q := range r.Questions {
		if q.Priority == events.SeverityHigh {
			out = append(out, q)
		}
	}
	return out
}

func gapsIn(r *events.AnalysisResult, category events.GapCategory) []events.Gap {
	var out []events.Gap
	for _, g := range r.Gaps {
		if g.Category == category {
			out = append(out, g)
		}
	}
	return out
}

// =============================================================================
// Analyze
// =============================================================================

func TestAnalyzeRequirement_JiraFullCoverage(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	result, err := engine.AnalyzeRequirement(ctx, jiraLoginRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Version)
	assert.False(t, result.RequestID.IsZero())
	assert.Equal(t, result.RequestID, result.LineageRootID)
	assert.Equal(t, fixedNow, result.CreatedAt)

	assert.Empty(t, gapsIn(result, events.GapMissingAC))
	assert.GreaterOrEqual(t, result.QualityScore.Completeness.Score, 85)
	assert.Zero(t, result.GapSummary.High)
	assert.Equal(t, 100, result.QualityScore.Consistency.Score)

	assert.True(t, result.ReadyForTestGeneration)
	assert.Equal(t, events.StateReady, result.ReadinessState)
	assert.Empty(t, result.Blockers)

	require.NotNil(t, result.DomainValidation)
	assert.Equal(t, events.DomainSkipped, result.DomainValidation.Status)
	assert.Nil(t, result.Metadata)

	stored, err := engine.Result(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, result.Gaps, stored.Gaps)
	assert.Equal(t, result.QualityScore, stored.QualityScore)
}

func TestAnalyzeRequirement_TranscriptPaymentTimeout(t *testing.T) {
	engine := newEngine(t, analysis.Options{})

	result, err := engine.AnalyzeRequirement(context.Background(), transcriptRequest())
	require.NoError(t, err)

	assert.Equal(t, events.SourceTranscript, result.Document.SourceKind)
	assert.Equal(t, "Card payments", result.Document.Title)

	errGaps := gapsIn(result, events.GapMissingErrorHandling)
	require.Len(t, errGaps, 2)
	for _, g := range errGaps {
		assert.Equal(t, events.SeverityHigh, g.Severity)
		assert.True(t, g.Escalated)
	}
	assert.Equal(t, events.SeverityHigh, result.Gaps[0].Severity)

	high := highQuestions(result)
	require.Len(t, high, 2)
	var gatewayQuestion bool
	for _, q := range high {
		if strings.Contains(q.Question, "payment gateway times out") {
			gatewayQuestion = true
		}
	}
	assert.True(t, gatewayQuestion, "open transcript question becomes a high-priority question")

	assert.False(t, result.ReadyForTestGeneration)
	assert.Equal(t, events.StateQuestionsPending, result.ReadinessState)
	assert.Equal(t, []string{events.BlockerHighSeverityGaps}, result.Blockers)

	assert.NotEmpty(t, result.GeneratedACs)
	for i := 1; i < len(result.GeneratedACs); i++ {
		assert.GreaterOrEqual(t, result.GeneratedACs[i-1].Confidence, result.GeneratedACs[i].Confidence)
	}
}

func TestAnalyzeRequirement_InvalidInput(t *testing.T) {
	store := repository.NewMemoryHistoryStore()
	engine := newEngine(t, analysis.Options{History: store})

	_, err := engine.AnalyzeRequirement(context.Background(), &events.AnalyzeRequest{
		Input: events.RequirementInput{Kind: events.SourceFreeForm, FreeForm: &events.FreeFormInput{Text: " "}},
	})
	require.Error(t, err)

	resp := analysis.Respond(nil, err)
	assert.False(t, resp.Success)
	assert.Equal(t, analysis.CodeInvalidInput, resp.Error.Code)
	assert.Equal(t, "input.free_form.text", resp.Error.Field)
}

func TestAnalyzeRequirement_RequestIDWriteOnce(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	req := jiraLoginRequest()
	req.RequestID = events.NewRequestID()

	first, err := engine.AnalyzeRequirement(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, first.RequestID)

	_, err = engine.AnalyzeRequirement(ctx, req)
	require.ErrorIs(t, err, analysis.ErrResultExists)
	assert.Equal(t, analysis.CodeAlreadyExists, analysis.ErrorInfoFor(err).Code)
}

func TestAnalyzeRequirement_DeterministicWithStub(t *testing.T) {
	ctx := context.Background()
	stub := llm.NewStubClient(nil)
	engine := newEngine(t, analysis.Options{Capability: stub})

	a, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)
	b, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)

	assert.NotEqual(t, a.RequestID, b.RequestID)
	assertSameAnalysis(t, a, b)
	assert.Equal(t, "rules+capability", a.Structure.Source)
	assert.Equal(t, 2, stub.Calls())
}

func assertSameAnalysis(t *testing.T, a, b *events.AnalysisResult) {
	t.Helper()
	assert.Equal(t, a.Document.NormalizedText, b.Document.NormalizedText)
	assert.Equal(t, a.Structure, b.Structure)
	assert.Equal(t, a.QualityScore, b.QualityScore)
	assert.Equal(t, a.Gaps, b.Gaps)
	assert.Equal(t, a.Questions, b.Questions)
	assert.Equal(t, a.AnsweredQuestions, b.AnsweredQuestions)
	assert.Equal(t, a.GeneratedACs, b.GeneratedACs)
	assert.Equal(t, a.ReadinessState, b.ReadinessState)
	assert.Equal(t, a.Blockers, b.Blockers)
	assert.Equal(t, a.Metadata, b.Metadata)
}

// =============================================================================
// Degraded stages
// =============================================================================

type failingValidator struct{}

func (failingValidator) Validate(context.Context, *analysis.DomainValidationRequest) (*events.DomainValidation, error) {
	return nil, errors.New("domain service down")
}

func TestAnalyzeRequirement_DegradedStages(t *testing.T) {
	stub := llm.NewStubClient(nil)
	stub.Err = errors.New("provider overloaded")
	engine := newEngine(t, analysis.Options{Capability: stub, DomainValidator: failingValidator{}})

	result, err := engine.AnalyzeRequirement(context.Background(), transcriptRequest())
	require.NoError(t, err, "optional stages never fail the analysis")

	assert.Equal(t, analysis.StageDegraded, result.Metadata[analysis.MetaStructureCapability])
	assert.Equal(t, analysis.StageDegraded, result.Metadata[analysis.MetaDomainValidation])
	assert.Equal(t, "rules", result.Structure.Source)
	assert.Equal(t, events.DomainUnavailable, result.DomainValidation.Status)
	assert.NotEmpty(t, result.Questions)
	assert.NotEmpty(t, result.GeneratedACs)
}

type stubbornValidator struct{}

func (stubbornValidator) Validate(context.Context, *analysis.DomainValidationRequest) (*events.DomainValidation, error) {
	time.Sleep(2 * time.Second)
	return &events.DomainValidation{Valid: true}, nil
}

type stubbornCapability struct {
	*llm.StubClient
}

func (c stubbornCapability) ExtractStructure(
	ctx context.Context,
	in llm.ExtractStructureInput,
) (*llm.StructureHint, *llm.InvocationResult, error) {
	time.Sleep(2 * time.Second)
	return c.StubClient.ExtractStructure(context.WithoutCancel(ctx), in)
}

func TestAnalyzeRequirement_SlowCollaboratorsDoNotDelay(t *testing.T) {
	engine := newEngine(t, analysis.Options{
		Capability:        stubbornCapability{StubClient: llm.NewStubClient(nil)},
		CapabilityTimeout: 50 * time.Millisecond,
		DomainValidator:   stubbornValidator{},
		DomainTimeout:     50 * time.Millisecond,
	})

	start := time.Now()
	result, err := engine.AnalyzeRequirement(context.Background(), jiraLoginRequest())
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, events.DomainUnavailable, result.DomainValidation.Status)
	assert.Equal(t, analysis.StageDegraded, result.Metadata[analysis.MetaDomainValidation])
	assert.Equal(t, analysis.StageDegraded, result.Metadata[analysis.MetaStructureCapability])
}

func TestAnalyzeRequirement_DisabledStages(t *testing.T) {
	off := false
	req := transcriptRequest()
	req.Config = events.AnalysisConfig{
		IncludeDomainValidation:    &off,
		GenerateQuestions:          &off,
		GenerateAcceptanceCriteria: &off,
	}
	engine := newEngine(t, analysis.Options{DomainValidator: failingValidator{}})

	result, err := engine.AnalyzeRequirement(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		analysis.MetaDomainValidation:  analysis.StageDisabled,
		analysis.MetaQuestions:         analysis.StageDisabled,
		analysis.MetaAcceptanceCriteria: analysis.StageDisabled,
	}, result.Metadata)
	assert.Empty(t, result.Questions)
	assert.Empty(t, result.GeneratedACs)
	assert.Equal(t, events.DomainSkipped, result.DomainValidation.Status)

	assert.NotEmpty(t, result.Gaps, "gap detection is essential")
	assert.Equal(t, []string{events.BlockerHighSeverityGaps}, result.Blockers)
}

func TestAnalyzeRequirement_QuestionThreshold(t *testing.T) {
	req := transcriptRequest()
	req.Config.QuestionMinSeverity = events.SeverityHigh
	engine := newEngine(t, analysis.Options{})

	result, err := engine.AnalyzeRequirement(context.Background(), req)
	require.NoError(t, err)

	require.NotEmpty(t, result.Questions)
	for _, q := range result.Questions {
		assert.Equal(t, events.SeverityHigh, q.Priority)
	}
	assert.Greater(t, len(result.Gaps), len(result.Questions))
}

// =============================================================================
// Reanalyze
// =============================================================================

func answerAll(questions []events.ClarifyingQuestion) []events.AnsweredQuestion {
	answers := make([]events.AnsweredQuestion, 0, len(questions))
	for _, q := range questions {
		answers = append(answers, events.AnsweredQuestion{
			QuestionID: q.ID,
			Answer:     "Retry 3 times, then show an error message",
		})
	}
	return answers
}

func TestReanalyzeRequirement_AnswersUnblock(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{Capability: llm.NewStubClient(nil)})

	v1, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)
	require.False(t, v1.ReadyForTestGeneration)

	v2, err := engine.ReanalyzeRequirement(ctx, &events.ReanalyzeRequest{
		OriginalRequestID: v1.RequestID,
		AnsweredQuestions: answerAll(highQuestions(v1)),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.RequestID, v2.OriginalRequestID)
	assert.Equal(t, v1.RequestID, v2.LineageRootID)
	assert.NotEqual(t, v1.Document.ID, v2.Document.ID)
	assert.Contains(t, v2.Document.Description, "Clarifications:")
	assert.Contains(t, v2.Document.Description, "A: Retry 3 times, then show an error message")

	require.Len(t, v2.AnsweredQuestions, 1)
	assert.Contains(t, v2.AnsweredQuestions[0].Question, "payment gateway times out")
	for _, g := range gapsIn(v2, events.GapMissingErrorHandling) {
		assert.True(t, g.Resolved, "gap %s", g.Location)
		assert.Equal(t, v2.AnsweredQuestions[0].ID, g.ResolvedBy)
	}
	assert.Empty(t, highQuestions(v2))
	assert.True(t, v2.ReadyForTestGeneration)
	assert.Equal(t, events.StateReady, v2.ReadinessState)

	stored, err := engine.Result(ctx, v1.RequestID)
	require.NoError(t, err)
	assert.Equal(t, events.StateQuestionsPending, stored.ReadinessState, "original is immutable")
	assert.Equal(t, v1.Document.Description, stored.Document.Description)
	assert.Equal(t, v1.Questions, stored.Questions)

	history, err := engine.History(ctx, v2.RequestID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, v1.RequestID, history[0].RequestID)
	assert.Equal(t, v2.RequestID, history[1].RequestID)
}

func TestReanalyzeRequirement_Deterministic(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{Capability: llm.NewStubClient(nil)})

	v1, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)

	req := &events.ReanalyzeRequest{
		OriginalRequestID: v1.RequestID,
		AnsweredQuestions: answerAll(highQuestions(v1)),
	}
	a, err := engine.ReanalyzeRequirement(ctx, req)
	require.NoError(t, err)
	b, err := engine.ReanalyzeRequirement(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, a.RequestID, b.RequestID)
	assert.Equal(t, a.Version, b.Version)
	assertSameAnalysis(t, a, b)
}

func TestReanalyzeRequirement_AnswersCarryForward(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	v1, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)
	v2, err := engine.ReanalyzeRequirement(ctx, &events.ReanalyzeRequest{
		OriginalRequestID: v1.RequestID,
		AnsweredQuestions: answerAll(highQuestions(v1)),
	})
	require.NoError(t, err)

	v3, err := engine.ReanalyzeRequirement(ctx, &events.ReanalyzeRequest{OriginalRequestID: v2.RequestID})
	require.NoError(t, err)

	assert.Equal(t, 3, v3.Version)
	assert.Equal(t, v1.RequestID, v3.LineageRootID)
	assert.Equal(t, v2.AnsweredQuestions, v3.AnsweredQuestions)
	assert.True(t, v3.ReadyForTestGeneration)

	history, err := engine.History(ctx, v1.RequestID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, r := range history {
		assert.Equal(t, i+1, r.Version)
	}
}

func TestReanalyzeRequirement_ACDecisions(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	v1, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(v1.GeneratedACs), 2)

	accepted, rejected := v1.GeneratedACs[0], v1.GeneratedACs[1]
	v2, err := engine.ReanalyzeRequirement(ctx, &events.ReanalyzeRequest{
		OriginalRequestID: v1.RequestID,
		ACDecisions: []events.ACDecision{
			{ACID: accepted.ID, Accepted: true, EditedText: "If the gateway times out, the payment is retried once"},
			{ACID: rejected.ID, Accepted: false},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, v2.Document.AcceptanceCriteria, "If the gateway times out, the payment is retried once")
	assert.NotContains(t, v2.Document.AcceptanceCriteria, rejected.Text)
	assert.Len(t, v2.Document.AcceptanceCriteria, len(v1.Document.AcceptanceCriteria)+1)

	decided, ok := v2.FindGeneratedAC(accepted.ID)
	require.True(t, ok, "accepted criterion is kept on the new result")
	assert.True(t, decided.Accepted)
	assert.Equal(t, "If the gateway times out, the payment is retried once", decided.Text)
	if again, found := v2.FindGeneratedAC(rejected.ID); found {
		assert.False(t, again.Accepted)
	}
	for _, ac := range v2.GeneratedACs {
		if ac.ID != accepted.ID {
			assert.False(t, ac.Accepted, "%s was not accepted", ac.ID)
		}
	}

	v3, err := engine.ReanalyzeRequirement(ctx, &events.ReanalyzeRequest{OriginalRequestID: v2.RequestID})
	require.NoError(t, err)
	carried, ok := v3.FindGeneratedAC(accepted.ID)
	require.True(t, ok)
	assert.True(t, carried.Accepted, "acceptance carries into later versions")

	v4, err := engine.ReanalyzeRequirement(ctx, &events.ReanalyzeRequest{
		OriginalRequestID: v3.RequestID,
		ACDecisions:       []events.ACDecision{{ACID: accepted.ID, Accepted: false}},
	})
	require.NoError(t, err)
	if withdrawn, found := v4.FindGeneratedAC(accepted.ID); found {
		assert.False(t, withdrawn.Accepted)
	}
}

func TestReanalyzeRequirement_CallerRequestID(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	v1, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)

	req := &events.ReanalyzeRequest{RequestID: events.NewRequestID(), OriginalRequestID: v1.RequestID}
	v2, err := engine.ReanalyzeRequirement(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, v2.RequestID)
	assert.Equal(t, req.RequestID, v2.Document.RequestID)

	stored, err := engine.Result(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)

	_, err = engine.ReanalyzeRequirement(ctx, req)
	require.ErrorIs(t, err, analysis.ErrResultExists)
	assert.Equal(t, analysis.CodeAlreadyExists, analysis.ErrorInfoFor(err).Code)

	history, err := engine.History(ctx, v1.RequestID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestReanalyzeRequirement_UpdatedContent(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	v1, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)

	description := "Customers pay invoices by card. If the gateway times out, an error message is shown."
	v2, err := engine.ReanalyzeRequirement(ctx, &events.ReanalyzeRequest{
		OriginalRequestID:  v1.RequestID,
		UpdatedDescription: &description,
		UpdatedACs:         []string{"- The receipt is shown after payment", ""},
	})
	require.NoError(t, err)

	assert.Equal(t, description, v2.Document.Description)
	assert.Equal(t, []string{"The receipt is shown after payment"}, v2.Document.AcceptanceCriteria)
	assert.Contains(t, v2.Document.NormalizedText, "If the gateway times out")
}

func TestReanalyzeRequirement_Errors(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	v1, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)
	blank := "  "

	tests := []struct {
		name  string
		req   *events.ReanalyzeRequest
		code  string
		field string
	}{
		{"missing id", &events.ReanalyzeRequest{}, analysis.CodeInvalidInput, "original_request_id"},
		{"unknown id", &events.ReanalyzeRequest{OriginalRequestID: events.NewRequestID()}, analysis.CodeNotFound, ""},
		{
			"blank description",
			&events.ReanalyzeRequest{OriginalRequestID: v1.RequestID, UpdatedDescription: &blank},
			analysis.CodeInvalidInput, "updated_description",
		},
		{
			"unknown question",
			&events.ReanalyzeRequest{
				OriginalRequestID: v1.RequestID,
				AnsweredQuestions: []events.AnsweredQuestion{{QuestionID: "Q-missing", Answer: "x"}},
			},
			analysis.CodeInvalidInput, "answered_questions[0].question_id",
		},
		{
			"empty answer",
			&events.ReanalyzeRequest{
				OriginalRequestID: v1.RequestID,
				AnsweredQuestions: []events.AnsweredQuestion{{QuestionID: v1.Questions[0].ID, Answer: " "}},
			},
			analysis.CodeInvalidInput, "answered_questions[0].answer",
		},
		{
			"unknown criterion",
			&events.ReanalyzeRequest{
				OriginalRequestID: v1.RequestID,
				ACDecisions:       []events.ACDecision{{ACID: "AC-missing", Accepted: true}},
			},
			analysis.CodeInvalidInput, "ac_decisions[0].ac_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.ReanalyzeRequirement(ctx, tt.req)
			require.Error(t, err)
			info := analysis.ErrorInfoFor(err)
			assert.Equal(t, tt.code, info.Code)
			if tt.field != "" {
				assert.Equal(t, tt.field, info.Field)
			}
		})
	}

	history, err := engine.History(ctx, v1.RequestID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "failed reanalysis stores nothing")
}

// =============================================================================
// Export
// =============================================================================

func TestExportAnalysis_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	result, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)
	stored, err := engine.Result(ctx, result.RequestID)
	require.NoError(t, err)

	data, err := engine.ExportAnalysis(ctx, result.RequestID, events.ExportJSON)
	require.NoError(t, err)

	var decoded events.AnalysisResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, stored.Gaps, decoded.Gaps)
	assert.Equal(t, stored.Questions, decoded.Questions)
	assert.Equal(t, stored.GeneratedACs, decoded.GeneratedACs)
	assert.Equal(t, stored.QualityScore, decoded.QualityScore)
}

func TestExportAnalysis_TextSections(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	result, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
	require.NoError(t, err)

	data, err := engine.ExportAnalysis(ctx, result.RequestID, "")
	require.NoError(t, err)
	text := string(data)

	sections := []string{
		"# Requirement Analysis: Card payments",
		"## Quality Assessment",
		"## Extracted Requirement",
		"## Acceptance Criteria",
		"### Original",
		"### Generated",
		"## Gaps",
		"## Clarifying Questions",
		"### High priority",
		"## Domain Validation",
		"## Readiness",
		"### Next Steps",
	}
	last := -1
	for _, section := range sections {
		idx := strings.Index(text, section)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", section)
		assert.Greater(t, idx, last, "section %q out of order", section)
		last = idx
	}

	assert.Contains(t, text, "Verdict: NOT READY (QUESTIONS_PENDING)")
	assert.Contains(t, text, "- Blocker: "+events.BlockerHighSeverityGaps)
	assert.Contains(t, text, "```gherkin")
	assert.Contains(t, text,
		fmt.Sprintf("| **Overall** | **%d** | **%s** |", result.QualityScore.Overall, result.QualityScore.Grade))
}

func TestExportAnalysis_Errors(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, analysis.Options{})

	_, err := engine.ExportAnalysis(ctx, events.NewRequestID(), events.ExportText)
	require.ErrorIs(t, err, analysis.ErrResultNotFound)

	result, err := engine.AnalyzeRequirement(ctx, jiraLoginRequest())
	require.NoError(t, err)
	_, err = engine.ExportAnalysis(ctx, result.RequestID, "pdf")
	require.True(t, analysis.IsInputError(err))
}

// =============================================================================
// Forward
// =============================================================================

type fakeTestGen struct {
	mu        sync.Mutex
	failFirst int
	err       error
	calls     int
	last      *events.TestGenerationRequest
}

func (f *fakeTestGen) GenerateTestCases(
	_ context.Context,
	req *events.TestGenerationRequest,
) (*events.TestGenerationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failFirst {
		return nil, errors.New("connection reset")
	}
	return &events.TestGenerationResponse{ID: "suite-1", TestCasesCreated: 5}, nil
}

var fastRetry = events.RetryPolicy{MaxRetries: 2, InitialDelayMS: 1, MaxDelayMS: 1, BackoffMultiplier: 1}

type failingForwardStore struct {
	analysis.HistoryStore
}

func (failingForwardStore) RecordForward(context.Context, *events.ForwardRecord) error {
	return errors.New("disk full")
}

func TestForwardToTestCases_Success(t *testing.T) {
	ctx := context.Background()
	gen := &fakeTestGen{}
	store := repository.NewMemoryHistoryStore()
	engine := newEngine(t, analysis.Options{TestGeneration: gen, ForwardRetry: fastRetry, History: store})

	result, err := engine.AnalyzeRequirement(ctx, jiraLoginRequest())
	require.NoError(t, err)
	require.True(t, result.ReadyForTestGeneration)

	resp := engine.ForwardToTestCases(ctx, &events.ForwardRequest{
		RequestID:       result.RequestID,
		TestCasesConfig: events.TestCasesConfig{Framework: "go", IncludeNegative: true},
	})
	require.True(t, resp.Success, "%+v", resp.Error)
	assert.Equal(t, "suite-1", resp.DownstreamID)
	assert.Equal(t, 5, resp.TestCasesCreated)
	assert.Equal(t, 3, resp.ForwardedCriteria)

	require.NotNil(t, gen.last)
	assert.Equal(t, "User login", gen.last.Title)
	assert.Len(t, gen.last.AcceptanceCriteria, 3)
	assert.Equal(t, "go", gen.last.Config.Framework)

	record, err := store.GetForward(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "suite-1", record.DownstreamID)
	assert.Equal(t, fixedNow, record.ForwardedAt)

	again := engine.ForwardToTestCases(ctx, &events.ForwardRequest{RequestID: result.RequestID})
	assert.False(t, again.Success)
	assert.Equal(t, analysis.CodeAlreadyForwarded, again.Error.Code)
	assert.Equal(t, 1, gen.calls)

	stored, err := engine.Result(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, events.StateReady, stored.ReadinessState, "stored result is never mutated")
}

func TestForwardToTestCases_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	gen := &fakeTestGen{failFirst: 1}
	engine := newEngine(t, analysis.Options{TestGeneration: gen, ForwardRetry: fastRetry})

	result, err := engine.AnalyzeRequirement(ctx, jiraLoginRequest())
	require.NoError(t, err)

	resp := engine.ForwardToTestCases(ctx, &events.ForwardRequest{RequestID: result.RequestID})
	require.True(t, resp.Success)
	assert.Equal(t, 2, gen.calls)
}

func TestForwardToTestCases_NonRetryableFailure(t *testing.T) {
	ctx := context.Background()
	gen := &fakeTestGen{err: errors.Join(events.ErrNonRetryable, errors.New("invalid suite"))}
	engine := newEngine(t, analysis.Options{TestGeneration: gen, ForwardRetry: fastRetry})

	result, err := engine.AnalyzeRequirement(ctx, jiraLoginRequest())
	require.NoError(t, err)

	resp := engine.ForwardToTestCases(ctx, &events.ForwardRequest{RequestID: result.RequestID})
	assert.False(t, resp.Success)
	assert.Equal(t, analysis.CodeUnavailable, resp.Error.Code)
	assert.Equal(t, 1, gen.calls)

	gen.mu.Lock()
	gen.err = nil
	gen.mu.Unlock()
	resp = engine.ForwardToTestCases(ctx, &events.ForwardRequest{RequestID: result.RequestID})
	assert.True(t, resp.Success, "a failed forward can be retried")
}

func TestForwardToTestCases_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("not ready", func(t *testing.T) {
		gen := &fakeTestGen{}
		engine := newEngine(t, analysis.Options{TestGeneration: gen})
		result, err := engine.AnalyzeRequirement(ctx, transcriptRequest())
		require.NoError(t, err)

		resp := engine.ForwardToTestCases(ctx, &events.ForwardRequest{RequestID: result.RequestID})
		assert.Equal(t, analysis.CodeNotReady, resp.Error.Code)
		assert.Zero(t, gen.calls)
	})

	t.Run("no test generation service", func(t *testing.T) {
		engine := newEngine(t, analysis.Options{})
		result, err := engine.AnalyzeRequirement(ctx, jiraLoginRequest())
		require.NoError(t, err)

		resp := engine.ForwardToTestCases(ctx, &events.ForwardRequest{RequestID: result.RequestID})
		assert.Equal(t, analysis.CodeUnavailable, resp.Error.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		engine := newEngine(t, analysis.Options{TestGeneration: &fakeTestGen{}})
		resp := engine.ForwardToTestCases(ctx, &events.ForwardRequest{RequestID: events.NewRequestID()})
		assert.Equal(t, analysis.CodeNotFound, resp.Error.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		engine := newEngine(t, analysis.Options{TestGeneration: &fakeTestGen{}})
		resp := engine.ForwardToTestCases(ctx, &events.ForwardRequest{})
		assert.Equal(t, analysis.CodeInvalidInput, resp.Error.Code)
		assert.Equal(t, "request_id", resp.Error.Field)
	})

	t.Run("record not persisted", func(t *testing.T) {
		gen := &fakeTestGen{}
		store := failingForwardStore{HistoryStore: repository.NewMemoryHistoryStore()}
		engine := newEngine(t, analysis.Options{TestGeneration: gen, History: store})
		result, err := engine.AnalyzeRequirement(ctx, jiraLoginRequest())
		require.NoError(t, err)

		resp := engine.ForwardToTestCases(ctx, &events.ForwardRequest{RequestID: result.RequestID})
		assert.False(t, resp.Success)
		assert.Equal(t, analysis.CodePersistFailed, resp.Error.Code)
		assert.Equal(t, "suite-1", resp.DownstreamID)
	})
}

func TestNewEngine_RequiresHistory(t *testing.T) {
	_, err := analysis.NewEngine(analysis.Options{})
	require.Error(t, err)
}
