// Package queue consumes asynchronous analysis requests.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/internal/events"
)

// Analyzer is the part of the engine the handler drives.
type Analyzer interface {
	AnalyzeRequirement(ctx context.Context, req *events.AnalyzeRequest) (*events.AnalysisResult, error)
	Result(ctx context.Context, id events.RequestID) (*events.AnalysisResult, error)
}

// AnalysisRequestHandler runs queued analysis requests and publishes the
// outcome. Redelivered requests are acknowledged without a second run.
type AnalysisRequestHandler struct {
	analyzer     Analyzer
	dedup        events.DeduplicationStore
	publisher    events.QueuePublisher
	resultsQueue string
}

// NewAnalysisRequestHandler creates a handler.
func NewAnalysisRequestHandler(
	analyzer Analyzer,
	dedup events.DeduplicationStore,
	publisher events.QueuePublisher,
	resultsQueue string,
) *AnalysisRequestHandler {
	if resultsQueue == "" {
		resultsQueue = events.QueueAnalysisResults
	}
	return &AnalysisRequestHandler{
		analyzer:     analyzer,
		dedup:        dedup,
		publisher:    publisher,
		resultsQueue: resultsQueue,
	}
}

// Handle processes one queue message. Input errors are published as failures
// and acknowledged; other failures are returned so the message is redelivered.
func (h *AnalysisRequestHandler) Handle(ctx context.Context, headers map[string]string, payload []byte) error {
	log := util.Log(ctx)

	req, err := decodeRequest(headers, payload)
	if err != nil {
		log.WithError(err).Error("failed to decode analysis request")
		return nil
	}
	if req.RequestID.IsZero() {
		req.RequestID = events.NewRequestID()
		log.Warn("analysis request without request id, assigned one", "request_id", req.RequestID.String())
	}
	log = log.With("request_id", req.RequestID.String())

	processed, err := h.dedup.IsProcessed(ctx, req.RequestID)
	if err != nil {
		return fmt.Errorf("check processed: %w", err)
	}
	if processed {
		log.Debug("analysis request already processed, skipping")
		return nil
	}

	start := time.Now()
	result, err := h.analyzer.AnalyzeRequirement(ctx, req)
	switch {
	case err == nil:
		if pubErr := h.publish(ctx, req.RequestID, events.RequirementAnalysisCompleted, analysis.Respond(result, nil)); pubErr != nil {
			return pubErr
		}
		h.markProcessed(ctx, &events.ProcessingResult{
			RequestID:      req.RequestID,
			Success:        true,
			ReadinessState: result.ReadinessState,
			DurationMS:     time.Since(start).Milliseconds(),
		})
		return nil

	case errors.Is(err, analysis.ErrResultExists):
		// stored by an earlier delivery whose publish failed
		stored, getErr := h.analyzer.Result(ctx, req.RequestID)
		if getErr != nil {
			return fmt.Errorf("load stored result: %w", getErr)
		}
		if pubErr := h.publish(ctx, req.RequestID, events.RequirementAnalysisCompleted, analysis.Respond(stored, nil)); pubErr != nil {
			return pubErr
		}
		log.Info("analysis result already stored, republished")
		h.markProcessed(ctx, &events.ProcessingResult{
			RequestID:      req.RequestID,
			Success:        true,
			ReadinessState: stored.ReadinessState,
			DurationMS:     time.Since(start).Milliseconds(),
		})
		return nil

	case analysis.IsInputError(err):
		info := analysis.ErrorInfoFor(err)
		if pubErr := h.publish(ctx, req.RequestID, events.RequirementAnalysisFailed, analysis.Respond(nil, err)); pubErr != nil {
			return pubErr
		}
		h.markProcessed(ctx, &events.ProcessingResult{
			RequestID:    req.RequestID,
			Success:      false,
			ErrorCode:    info.Code,
			ErrorMessage: info.Message,
			DurationMS:   time.Since(start).Milliseconds(),
		})
		log.Info("analysis request rejected", "code", info.Code, "field", info.Field)
		return nil

	default:
		log.WithError(err).Error("failed to analyse requirement")
		return fmt.Errorf("analyse requirement: %w", err)
	}
}

func decodeRequest(headers map[string]string, payload []byte) (*events.AnalyzeRequest, error) {
	var req events.AnalyzeRequest

	// requests may arrive bare or wrapped in an event envelope
	var envelope events.Event
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.EventType == events.RequirementAnalysisRequested {
		if err = envelope.UnmarshalPayload(&req); err != nil {
			return nil, err
		}
		if req.RequestID.IsZero() {
			req.RequestID = envelope.RequestID
		}
		return &req, nil
	}

	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("unmarshal analysis request: %w", err)
	}
	if req.RequestID.IsZero() && headers["request_id"] != "" {
		id, err := events.ParseRequestID(headers["request_id"])
		if err != nil {
			return nil, fmt.Errorf("request_id header: %w", err)
		}
		req.RequestID = id
	}
	return &req, nil
}

func (h *AnalysisRequestHandler) publish(
	ctx context.Context,
	requestID events.RequestID,
	eventType events.EventType,
	payload *events.AnalyzeResponse,
) error {
	evt, err := events.NewEvent(requestID, eventType, payload)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if err = h.publisher.Publish(ctx, h.resultsQueue, evt, evt.Headers()); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (h *AnalysisRequestHandler) markProcessed(ctx context.Context, result *events.ProcessingResult) {
	result.ProcessedAt = time.Now()
	if err := h.dedup.MarkProcessedWithResult(ctx, result.RequestID, result); err != nil {
		// the next delivery falls through to ErrResultExists
		util.Log(ctx).WithError(err).Warn("failed to record processed request",
			"request_id", result.RequestID.String())
	}
}
