// Package handlers exposes the analysis engine over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/requirements/apps/analyzer/config"
	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/internal/events"
)

// AnalysisService is the engine surface served over HTTP.
type AnalysisService interface {
	AnalyzeRequirement(ctx context.Context, req *events.AnalyzeRequest) (*events.AnalysisResult, error)
	ReanalyzeRequirement(ctx context.Context, req *events.ReanalyzeRequest) (*events.AnalysisResult, error)
	ExportAnalysis(ctx context.Context, id events.RequestID, format events.ExportFormat) ([]byte, error)
	ForwardToTestCases(ctx context.Context, req *events.ForwardRequest) *events.ForwardResponse
	History(ctx context.Context, id events.RequestID) ([]*events.AnalysisResult, error)
}

// HistoryResponse lists every version of a lineage, oldest first.
type HistoryResponse struct {
	RequestID events.RequestID         `json:"request_id"`
	Versions  []*events.AnalysisResult `json:"versions"`
}

// AnalysisHandler serves the analysis API.
type AnalysisHandler struct {
	cfg     *appconfig.AnalyzerConfig
	service AnalysisService
}

// NewAnalysisHandler creates a handler.
func NewAnalysisHandler(cfg *appconfig.AnalyzerConfig, service AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{cfg: cfg, service: service}
}

// Register mounts the API routes on mux.
func (h *AnalysisHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/analyses", h.HandleAnalyze)
	mux.HandleFunc("POST /api/v1/analyses/{id}/reanalyze", h.HandleReanalyze)
	mux.HandleFunc("GET /api/v1/analyses/{id}/export", h.HandleExport)
	mux.HandleFunc("POST /api/v1/analyses/{id}/forward", h.HandleForward)
	mux.HandleFunc("GET /api/v1/analyses/{id}/history", h.HandleHistory)
}

// HandleAnalyze handles POST /api/v1/analyses.
func (h *AnalysisHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req events.AnalyzeRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.AnalyzeRequirement(r.Context(), &req)
	h.writeAnalysis(w, r, result, err)
}

// HandleReanalyze handles POST /api/v1/analyses/{id}/reanalyze.
func (h *AnalysisHandler) HandleReanalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req events.ReanalyzeRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.OriginalRequestID = id

	result, err := h.service.ReanalyzeRequirement(r.Context(), &req)
	h.writeAnalysis(w, r, result, err)
}

// HandleExport handles GET /api/v1/analyses/{id}/export?format=text|json.
func (h *AnalysisHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	format := events.ExportFormat(strings.ToLower(r.URL.Query().Get("format")))
	data, err := h.service.ExportAnalysis(r.Context(), id, format)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	contentType := "text/markdown; charset=utf-8"
	if format == events.ExportJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleForward handles POST /api/v1/analyses/{id}/forward.
func (h *AnalysisHandler) HandleForward(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req events.ForwardRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.RequestID = id

	resp := h.service.ForwardToTestCases(r.Context(), &req)
	status := http.StatusOK
	if !resp.Success {
		status = statusForCode(resp.Error.Code)
	}
	writeJSON(w, status, resp)
}

// HandleHistory handles GET /api/v1/analyses/{id}/history.
func (h *AnalysisHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	versions, err := h.service.History(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{RequestID: id, Versions: versions})
}

// decode reads a size-limited JSON body. An empty body decodes to the zero
// value.
func (h *AnalysisHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	maxSize := int64(h.cfg.MaxRequestSize)
	if maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	}
	defer util.CloseAndLogOnError(ctx, r.Body, "failed to close request body")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, analysis.CodeInvalidInput,
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxSize), "")
			return false
		}
		util.Log(ctx).WithError(err).Error("failed to read request body")
		h.writeError(w, http.StatusBadRequest, analysis.CodeInvalidInput, "Failed to read request body", "")
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err = json.Unmarshal(body, v); err != nil {
		util.Log(ctx).WithError(err).Debug("invalid JSON in request body")
		h.writeError(w, http.StatusBadRequest, analysis.CodeInvalidInput, "Invalid JSON in request body: "+err.Error(), "")
		return false
	}
	return true
}

func (h *AnalysisHandler) pathID(w http.ResponseWriter, r *http.Request) (events.RequestID, bool) {
	id, err := events.ParseRequestID(r.PathValue("id"))
	if err != nil || id.IsZero() {
		h.writeError(w, http.StatusBadRequest, analysis.CodeInvalidInput, "Invalid analysis id", "id")
		return events.RequestID{}, false
	}
	return id, true
}

func (h *AnalysisHandler) writeAnalysis(w http.ResponseWriter, r *http.Request, result *events.AnalysisResult, err error) {
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, analysis.Respond(result, nil))
}

func (h *AnalysisHandler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	info := analysis.ErrorInfoFor(err)
	status := statusForCode(info.Code)
	if status >= http.StatusInternalServerError {
		util.Log(r.Context()).WithError(err).Error("analysis request failed", "path", r.URL.Path)
	}
	writeJSON(w, status, &events.AnalyzeResponse{Success: false, Error: info})
}

func (h *AnalysisHandler) writeError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, &events.AnalyzeResponse{
		Success: false,
		Error:   &events.ErrorInfo{Code: code, Message: message, Field: field},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusForCode(code string) int {
	switch code {
	case analysis.CodeInvalidInput:
		return http.StatusBadRequest
	case analysis.CodeNotFound:
		return http.StatusNotFound
	case analysis.CodeAlreadyExists, analysis.CodeNotReady, analysis.CodeAlreadyForwarded:
		return http.StatusConflict
	case analysis.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
