package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/crmlake/crmlake/internal/connector"
	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/pipeline"
)

// StageHandler exposes the replication stages over HTTP. Each stage endpoint
// is idempotent so a scheduler can safely retry after a failure.
type StageHandler struct {
	pipeline *pipeline.Pipeline
}

// NewStageHandler creates a stage handler backed by the given pipeline.
func NewStageHandler(p *pipeline.Pipeline) *StageHandler {
	return &StageHandler{pipeline: p}
}

// StageRequest is the common request body for the per-object stages.
type StageRequest struct {
	RunID  string `json:"run_id"`
	Object string `json:"object"`
}

// CleanupRequest extends StageRequest with extraction measurements captured
// during the import stage.
type CleanupRequest struct {
	StageRequest
	Stats *connector.ExtractionStats `json:"stats,omitempty"`
}

// Register mounts all stage endpoints on the mux.
func (h *StageHandler) Register(mux *http.ServeMux) {
	wrap := DefaultMiddleware()
	mux.Handle("POST /v1/stages/prepare", wrap(http.HandlerFunc(h.Prepare)))
	mux.Handle("POST /v1/stages/import", wrap(http.HandlerFunc(h.Import)))
	mux.Handle("POST /v1/stages/publish", wrap(http.HandlerFunc(h.Publish)))
	mux.Handle("POST /v1/stages/cleanup", wrap(http.HandlerFunc(h.Cleanup)))
	mux.Handle("POST /v1/stages/discover", wrap(http.HandlerFunc(h.Discover)))
	mux.Handle("GET /v1/runs/{runID}/objects/{object}/status", wrap(http.HandlerFunc(h.Status)))
	mux.HandleFunc("GET /healthz", h.Health)
}

// Prepare handles POST /v1/stages/prepare.
func (h *StageHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStageRequest(w, r)
	if !ok {
		return
	}
	result, err := h.pipeline.Prepare(r.Context(), req.RunID, req.Object)
	if err != nil {
		writeStageError(w, r, "prepare", req.Object, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Import handles POST /v1/stages/import.
func (h *StageHandler) Import(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStageRequest(w, r)
	if !ok {
		return
	}
	result, err := h.pipeline.Import(r.Context(), req.RunID, req.Object)
	if err != nil {
		writeStageError(w, r, "import", req.Object, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Publish handles POST /v1/stages/publish.
func (h *StageHandler) Publish(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStageRequest(w, r)
	if !ok {
		return
	}
	result, err := h.pipeline.Publish(r.Context(), req.Object)
	if err != nil {
		writeStageError(w, r, "publish", req.Object, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Cleanup handles POST /v1/stages/cleanup.
func (h *StageHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", GetRequestID(r.Context()))
		return
	}
	if req.RunID == "" || req.Object == "" {
		writeError(w, http.StatusBadRequest, "run_id and object are required", GetRequestID(r.Context()))
		return
	}
	result, err := h.pipeline.Cleanup(r.Context(), req.RunID, req.Object, req.Stats)
	if err != nil {
		writeStageError(w, r, "cleanup", req.Object, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Discover handles POST /v1/stages/discover.
func (h *StageHandler) Discover(w http.ResponseWriter, r *http.Request) {
	result, err := h.pipeline.Discover(r.Context())
	if err != nil {
		writeStageError(w, r, "discover", "", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Status handles GET /v1/runs/{runID}/objects/{object}/status.
func (h *StageHandler) Status(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	object := r.PathValue("object")
	if runID == "" || object == "" {
		writeError(w, http.StatusBadRequest, "run_id and object are required", GetRequestID(r.Context()))
		return
	}
	status, err := h.pipeline.Status(r.Context(), runID, object)
	if err != nil {
		writeStageError(w, r, "status", object, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Health handles GET /healthz.
func (h *StageHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeStageRequest(w http.ResponseWriter, r *http.Request) (*StageRequest, bool) {
	var req StageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", GetRequestID(r.Context()))
		return nil, false
	}
	if req.RunID == "" || req.Object == "" {
		writeError(w, http.StatusBadRequest, "run_id and object are required", GetRequestID(r.Context()))
		return nil, false
	}
	return &req, true
}

// writeStageError maps a pipeline error onto an HTTP status and response
// body. Validation failures map to 4xx so a scheduler does not retry them.
func writeStageError(w http.ResponseWriter, r *http.Request, stage, object string, err error) {
	requestID := GetRequestID(r.Context())
	log.Printf("[WARN] stage %s failed for %q (request %s): %v", stage, object, requestID, err)

	var perr *apperrors.PipelineError
	if !errors.As(err, &perr) {
		writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case perr.Code == apperrors.CodeNotFound:
		status = http.StatusNotFound
	case perr.Category == apperrors.ErrCategorySchema,
		perr.Category == apperrors.ErrCategoryMapping,
		perr.Category == apperrors.ErrCategoryLoad:
		status = http.StatusUnprocessableEntity
	case perr.Category == apperrors.ErrCategoryPublish,
		perr.Category == apperrors.ErrCategoryCleanup:
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     perr.Message,
		Category:  string(perr.Category),
		Code:      perr.Code,
		RequestID: requestID,
	})
}
