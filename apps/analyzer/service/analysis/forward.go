package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/antinvestor/requirements/internal/events"
)

// ForwardToTestCases hands a READY result to the test generation service.
// The outcome is reported in the response only; the stored result is never
// modified and a successful forward is kept as a separate record.
func (e *Engine) ForwardToTestCases(ctx context.Context, req *events.ForwardRequest) *events.ForwardResponse {
	if req == nil || req.RequestID.IsZero() {
		return forwardFailure(events.RequestID{}, newInputError("request_id", "is required"))
	}
	log := util.Log(ctx).With("request_id", req.RequestID.String())

	result, err := e.history.Get(ctx, req.RequestID)
	if err != nil {
		return forwardFailure(req.RequestID, err)
	}

	if _, err = e.history.GetForward(ctx, req.RequestID); err == nil {
		return forwardFailure(req.RequestID, fmt.Errorf("%w: %s", ErrAlreadyForwarded, req.RequestID))
	} else if !errors.Is(err, ErrResultNotFound) {
		return forwardFailure(req.RequestID, err)
	}

	if _, err = Transition(result.ReadinessState, EventForwarded); err != nil || !result.ReadyForTestGeneration {
		return forwardFailure(req.RequestID,
			fmt.Errorf("%w: state %s, blockers %v", ErrNotReady, result.ReadinessState, result.Blockers))
	}

	if e.testGen == nil {
		return forwardFailure(req.RequestID, ErrTestGenerationUnavailable)
	}

	payload := buildTestGenerationRequest(result, req)

	var resp *events.TestGenerationResponse
	err = e.forwardRetry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.testGen.GenerateTestCases(ctx, payload)
		return callErr
	})
	if err != nil {
		log.WithError(err).Warn("test generation call failed")
		return &events.ForwardResponse{
			Success:   false,
			RequestID: req.RequestID,
			Error:     &events.ErrorInfo{Code: CodeUnavailable, Message: err.Error()},
		}
	}
	if resp == nil {
		resp = &events.TestGenerationResponse{}
	}

	record := &events.ForwardRecord{
		RequestID:        req.RequestID,
		DownstreamID:     resp.ID,
		TestCasesCreated: resp.TestCasesCreated,
		ForwardedAt:      e.now().UTC(),
	}
	if err = e.history.RecordForward(ctx, record); err != nil {
		log.WithError(err).Error("failed to record forward")
		return &events.ForwardResponse{
			Success:          false,
			RequestID:        req.RequestID,
			DownstreamID:     resp.ID,
			TestCasesCreated: resp.TestCasesCreated,
			Error:            &events.ErrorInfo{Code: CodePersistFailed, Message: err.Error()},
		}
	}

	log.Info("requirement forwarded to test generation",
		"downstream_id", resp.ID,
		"test_cases", resp.TestCasesCreated,
		"criteria", len(payload.AcceptanceCriteria),
	)
	return &events.ForwardResponse{
		Success:           true,
		RequestID:         req.RequestID,
		DownstreamID:      resp.ID,
		TestCasesCreated:  resp.TestCasesCreated,
		ForwardedCriteria: len(payload.AcceptanceCriteria),
	}
}

// buildTestGenerationRequest collects the criteria to forward. Generated
// criteria are appended only when requested.
func buildTestGenerationRequest(result *events.AnalysisResult, req *events.ForwardRequest) *events.TestGenerationRequest {
	doc := result.Document
	payload := &events.TestGenerationRequest{
		RequestID:          result.RequestID,
		Title:              doc.Title,
		Description:        doc.Description,
		AcceptanceCriteria: append([]string{}, doc.AcceptanceCriteria...),
		Structure:          result.Structure,
		QualityGrade:       result.QualityScore.Grade,
		Config:             req.TestCasesConfig,
	}
	if req.IncludeGeneratedACs {
		for _, ac := range result.GeneratedACs {
			payload.AcceptanceCriteria = append(payload.AcceptanceCriteria, ac.Text)
			payload.GherkinScenarios = append(payload.GherkinScenarios, ac.Gherkin)
		}
	}
	return payload
}

func forwardFailure(id events.RequestID, err error) *events.ForwardResponse {
	return &events.ForwardResponse{Success: false, RequestID: id, Error: ErrorInfoFor(err)}
}
