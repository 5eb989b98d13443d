package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/requirements/internal/events"
	"github.com/antinvestor/requirements/internal/llm"
)

// Metadata keys recorded on results when an optional stage is degraded or
// disabled.
const (
	MetaStructureCapability = "structure_capability"
	MetaDomainValidation    = "domain_validation"
	MetaQuestions           = "questions"
	MetaAcceptanceCriteria  = "acceptance_criteria"

	StageDegraded = "degraded"
	StageDisabled = "disabled"
)

// Error codes reported in events.ErrorInfo.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeAnalysisFailed   = "ANALYSIS_FAILED"
	CodeNotReady         = "NOT_READY"
	CodeAlreadyForwarded = "ALREADY_FORWARDED"
	CodeUnavailable      = "UNAVAILABLE"
	CodePersistFailed    = "PERSIST_FAILED"
)

// Options configures an Engine.
type Options struct {
	// Capability augments rule-based structure extraction. Optional.
	Capability        llm.Client
	CapabilityTimeout time.Duration

	// DomainValidator is the domain collaborator. Optional.
	DomainValidator DomainValidator
	DomainTimeout   time.Duration
	DomainBreaker   *events.CircuitBreaker

	// TestGeneration receives forwarded requirements. Optional.
	TestGeneration TestGenerationService
	ForwardRetry   events.RetryPolicy

	// History stores every result. Required.
	History HistoryStore

	// Rules is the escalation table. Nil uses the built-in table.
	Rules *EscalationRules

	// QuestionMinSeverity is the default question threshold.
	QuestionMinSeverity events.Severity

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine runs the analysis pipeline and owns the operations exposed by the
// analyzer: analyze, reanalyze, export and forward.
type Engine struct {
	history      HistoryStore
	extractor    *StructureExtractor
	gaps         *GapDetector
	questions    *QuestionGenerator
	acs          *ACGenerator
	domain       *DomainAdapter
	testGen      TestGenerationService
	forwardRetry events.RetryPolicy
	now          func() time.Time
}

// NewEngine assembles the pipeline.
func NewEngine(opts Options) (*Engine, error) {
	if opts.History == nil {
		return nil, errors.New("history store is required")
	}

	acs, err := NewACGenerator()
	if err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	retry := opts.ForwardRetry
	if retry.InitialDelayMS == 0 && retry.MaxRetries == 0 {
		retry = events.DefaultRetryPolicy()
	}

	return &Engine{
		history:      opts.History,
		extractor:    NewStructureExtractor(opts.Capability, opts.CapabilityTimeout),
		gaps:         NewGapDetector(opts.Rules),
		questions:    NewQuestionGenerator(opts.QuestionMinSeverity),
		acs:          acs,
		domain:       NewDomainAdapter(opts.DomainValidator, opts.DomainBreaker, opts.DomainTimeout),
		testGen:      opts.TestGeneration,
		forwardRetry: retry,
		now:          clock,
	}, nil
}

// AnalyzeRequirement normalizes the input, runs the pipeline and stores the
// result as version 1 of a new lineage.
func (e *Engine) AnalyzeRequirement(ctx context.Context, req *events.AnalyzeRequest) (*events.AnalysisResult, error) {
	if req == nil {
		return nil, newInputError("", "request is required")
	}

	doc, err := Normalize(&req.Input)
	if err != nil {
		return nil, err
	}

	requestID := req.RequestID
	if requestID.IsZero() {
		requestID = events.NewRequestID()
	}
	doc.ID = events.NewDocumentID()
	doc.RequestID = requestID
	doc.Version = 1
	doc.CreatedAt = e.now().UTC()

	result, err := e.run(ctx, doc, req.Config, nil)
	if err != nil {
		return nil, err
	}
	result.LineageRootID = requestID

	if err = e.history.Append(ctx, result); err != nil {
		return nil, fmt.Errorf("store analysis: %w", err)
	}

	util.Log(ctx).Info("requirement analysed",
		"request_id", requestID.String(),
		"source_kind", doc.SourceKind.String(),
		"overall", result.QualityScore.Overall,
		"gaps", result.GapSummary.Total,
		"readiness", string(result.ReadinessState),
	)
	return result, nil
}

// Result returns a stored result.
func (e *Engine) Result(ctx context.Context, id events.RequestID) (*events.AnalysisResult, error) {
	return e.history.Get(ctx, id)
}

// History returns every version in the lineage of id, oldest first.
func (e *Engine) History(ctx context.Context, id events.RequestID) ([]*events.AnalysisResult, error) {
	result, err := e.history.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	root := result.LineageRootID
	if root.IsZero() {
		root = result.RequestID
	}
	return e.history.Lineage(ctx, root)
}

type domainOutcome struct {
	validation *events.DomainValidation
	err        error
}

// run executes the pipeline on a fully identified document. Extraction,
// scoring, gap detection and the readiness gate are essential; domain
// validation, questions and generated ACs degrade to empty output.
func (e *Engine) run(
	ctx context.Context,
	doc *events.RequirementDocument,
	cfg events.AnalysisConfig,
	answers map[string]string,
) (*events.AnalysisResult, error) {
	log := util.Log(ctx).With("request_id", doc.RequestID.String(), "version", doc.Version)
	metadata := map[string]string{}

	structure, capDegraded, err := e.extractor.Extract(ctx, doc, llm.Provider(cfg.LLMProvider))
	if err != nil {
		return nil, fmt.Errorf("%w: structure extraction: %w", ErrEssentialStage, err)
	}
	if capDegraded {
		metadata[MetaStructureCapability] = StageDegraded
	}

	domainCh := make(chan domainOutcome, 1)
	if events.Enabled(cfg.IncludeDomainValidation) {
		go func() {
			v, vErr := e.domain.Validate(ctx, doc.RequestID, doc, structure)
			domainCh <- domainOutcome{validation: v, err: vErr}
		}()
	} else {
		domainCh <- domainOutcome{validation: Skipped("Domain validation disabled for this request")}
		metadata[MetaDomainValidation] = StageDisabled
	}

	quality, err := ScoreQuality(doc, structure)
	if err != nil {
		return nil, err
	}
	gaps := e.gaps.Detect(doc, structure)

	domain := <-domainCh
	if domain.err != nil {
		metadata[MetaDomainValidation] = StageDegraded
	}

	questionSet := QuestionSet{Questions: []events.ClarifyingQuestion{}}
	if events.Enabled(cfg.GenerateQuestions) {
		set, qErr := e.questions.Generate(gaps, structure, domain.validation, answers, cfg.QuestionMinSeverity)
		if qErr != nil {
			log.WithError(qErr).Warn("question generation failed")
			metadata[MetaQuestions] = StageDegraded
		} else {
			questionSet = set
		}
	} else {
		metadata[MetaQuestions] = StageDisabled
	}

	for i := range gaps {
		if qID, ok := questionSet.Resolved[gaps[i].ID]; ok {
			gaps[i].Resolved = true
			gaps[i].ResolvedBy = qID
		}
	}

	generated := []events.GeneratedAC{}
	if events.Enabled(cfg.GenerateAcceptanceCriteria) {
		acs, aErr := e.acs.Generate(gaps, structure, domain.validation)
		if aErr != nil {
			log.WithError(aErr).Warn("acceptance criteria generation failed")
			metadata[MetaAcceptanceCriteria] = StageDegraded
		} else {
			generated = acs
		}
	} else {
		metadata[MetaAcceptanceCriteria] = StageDisabled
	}

	verdict, err := EvaluateReadiness(gaps, questionSet.Questions)
	if err != nil {
		return nil, fmt.Errorf("%w: readiness gate: %w", ErrEssentialStage, err)
	}

	if len(metadata) == 0 {
		metadata = nil
	}

	log.Debug("analysis pipeline finished",
		"gaps", len(gaps),
		"questions", len(questionSet.Questions),
		"answered", len(questionSet.Answered),
		"generated_acs", len(generated),
	)

	return &events.AnalysisResult{
		RequestID:              doc.RequestID,
		OriginalRequestID:      doc.OriginalRequestID,
		Version:                doc.Version,
		Document:               doc,
		Structure:              structure,
		QualityScore:           quality,
		Gaps:                   gaps,
		GapSummary:             events.SummarizeGaps(gaps),
		Questions:              questionSet.Questions,
		AnsweredQuestions:      questionSet.Answered,
		GeneratedACs:           generated,
		DomainValidation:       domain.validation,
		ReadinessState:         verdict.State,
		ReadyForTestGeneration: verdict.Ready,
		Blockers:               verdict.Blockers,
		Metadata:               metadata,
		CreatedAt:              doc.CreatedAt,
	}, nil
}

// Respond wraps an operation outcome in an AnalyzeResponse.
func Respond(result *events.AnalysisResult, err error) *events.AnalyzeResponse {
	if err != nil {
		return &events.AnalyzeResponse{Success: false, Error: ErrorInfoFor(err)}
	}
	return &events.AnalyzeResponse{Success: true, Result: result}
}

// ErrorInfoFor maps an engine error to its wire form.
func ErrorInfoFor(err error) *events.ErrorInfo {
	var inputErr *InputError
	switch {
	case errors.As(err, &inputErr):
		return &events.ErrorInfo{Code: CodeInvalidInput, Message: inputErr.Message, Field: inputErr.Field}
	case errors.Is(err, ErrResultNotFound):
		return &events.ErrorInfo{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrResultExists):
		return &events.ErrorInfo{Code: CodeAlreadyExists, Message: err.Error()}
	case errors.Is(err, ErrAlreadyForwarded):
		return &events.ErrorInfo{Code: CodeAlreadyForwarded, Message: err.Error()}
	case errors.Is(err, ErrNotReady):
		return &events.ErrorInfo{Code: CodeNotReady, Message: err.Error()}
	case errors.Is(err, ErrTestGenerationUnavailable):
		return &events.ErrorInfo{Code: CodeUnavailable, Message: err.Error()}
	default:
		return &events.ErrorInfo{Code: CodeAnalysisFailed, Message: err.Error()}
	}
}
