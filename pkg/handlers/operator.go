package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/services"
)

// OperatorHandler is the batch-control surface: scan, repair, validate,
// dashboard. Guarded by a bearer token; an empty configured token disables
// the check for local development.
type OperatorHandler struct {
	driver *services.RepairDriver
	engine *services.ConsistencyEngine
	token  string
	logger *zap.Logger
}

// NewOperatorHandler creates a new OperatorHandler.
func NewOperatorHandler(driver *services.RepairDriver, engine *services.ConsistencyEngine, token string, logger *zap.Logger) *OperatorHandler {
	return &OperatorHandler{driver: driver, engine: engine, token: token, logger: logger}
}

// RegisterRoutes registers the operator routes on the given mux.
func (h *OperatorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/operator/scan", h.auth(h.Scan))
	mux.HandleFunc("GET /api/operator/checks", h.auth(h.Checks))
	mux.HandleFunc("POST /api/operator/repair", h.auth(h.Repair))
	mux.HandleFunc("POST /api/operator/validate/{handle}", h.auth(h.Validate))
	mux.HandleFunc("GET /api/operator/dashboard", h.auth(h.Dashboard))
	mux.HandleFunc("GET /api/operator/repairs", h.auth(h.Repairs))
}

func (h *OperatorHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "invalid operator token")
				return
			}
		}
		next(w, r)
	}
}

// Scan handles GET /api/operator/scan?limit=&min_posts=&include_complete=.
func (h *OperatorHandler) Scan(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	minPosts, _ := strconv.Atoi(r.URL.Query().Get("min_posts"))
	includeComplete := r.URL.Query().Get("include_complete") == "true"

	analyses, err := h.driver.Scan(r.Context(), minPosts, limit, includeComplete)
	if err != nil {
		h.logger.Error("Scan failed", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, analyses)
}

// Checks handles GET /api/operator/checks: the raw consistency findings.
func (h *OperatorHandler) Checks(w http.ResponseWriter, r *http.Request) {
	findings, err := h.engine.RunChecks(r.Context())
	if err != nil {
		h.logger.Error("Consistency checks failed", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, findings)
}

// RepairRequest is the POST /api/operator/repair body.
type RepairRequest struct {
	Targets        []uuid.UUID `json:"targets"`
	MaxConcurrency int         `json:"max_concurrency"`
	DryRun         bool        `json:"dry_run"`
	StartedBy      string      `json:"started_by"`
}

// Repair handles POST /api/operator/repair.
func (h *OperatorHandler) Repair(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if len(req.Targets) == 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "targets must not be empty")
		return
	}
	if req.StartedBy == "" {
		req.StartedBy = "operator"
	}

	summary, err := h.driver.Repair(r.Context(), req.Targets, req.MaxConcurrency, req.DryRun, req.StartedBy)
	if err != nil {
		h.logger.Error("Batch repair failed", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, summary)
}

// Validate handles POST /api/operator/validate/{handle}.
func (h *OperatorHandler) Validate(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.driver.ValidateOne(r.Context(), r.PathValue("handle"))
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, analysis)
}

// Dashboard handles GET /api/operator/dashboard.
func (h *OperatorHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.driver.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("Dashboard failed", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, stats)
}

// Repairs handles GET /api/operator/repairs?limit=.
func (h *OperatorHandler) Repairs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ops, err := h.driver.ListOperations(r.Context(), limit)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, ops)
}
