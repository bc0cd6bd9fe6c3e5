// Package api provides the HTTP API for triggering and inspecting runs.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/health"
	"releasepipe/internal/runs"
	"releasepipe/internal/version"
)

// maxRequestBodySize limits request bodies; a trigger is three short strings.
const maxRequestBodySize = 64 << 10

// Handler contains the HTTP handlers.
type Handler struct {
	svc    *runs.Service
	health *health.Checker
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *runs.Service, healthChecker *health.Checker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:    svc,
		health: healthChecker,
		logger: logger.With("component", "api"),
	}
}

// VersionResponse is returned by GET /v1/versions.
type VersionResponse struct {
	Ref      string `json:"ref"`
	Version  string `json:"version"`
	Artifact string `json:"artifact"`
}

// CreateRun handles POST /v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req runs.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Create(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/runs/"+resp.ID)
	h.writeJSON(w, http.StatusAccepted, resp)
}

// ListRuns handles GET /v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.List(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetRun handles GET /v1/runs/{runId}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		h.writeError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.svc.Get(r.Context(), runID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// CancelRun handles DELETE /v1/runs/{runId}
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		h.writeError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	if err := h.svc.Cancel(r.Context(), runID); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ResolveVersion handles GET /v1/versions?ref=
func (h *Handler) ResolveVersion(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		h.handleError(w, r, apperrors.Validation("ref", "ref query parameter is required"))
		return
	}

	ver := version.Resolve(ref)
	h.writeJSON(w, http.StatusOK, VersionResponse{
		Ref:      ref,
		Version:  ver,
		Artifact: version.ArtifactName(ver),
	})
}

// Livez handles GET /livez. It does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz. Returns 503 while a dependency is down or the
// service is shutting down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps service errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		h.logger.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		h.logger.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
