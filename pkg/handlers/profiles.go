package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/models"
	"github.com/pulseboard/creator-engine/pkg/repositories"
	"github.com/pulseboard/creator-engine/pkg/services"
)

// ProfileHandler exposes the gated analyze endpoint and profile reads.
type ProfileHandler struct {
	gate     *services.AccessGate
	orch     *services.Orchestrator
	profiles repositories.ProfileRepository
	posts    repositories.PostRepository
	logger   *zap.Logger
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(
	gate *services.AccessGate,
	orch *services.Orchestrator,
	profiles repositories.ProfileRepository,
	posts repositories.PostRepository,
	logger *zap.Logger,
) *ProfileHandler {
	return &ProfileHandler{
		gate:     gate,
		orch:     orch,
		profiles: profiles,
		posts:    posts,
		logger:   logger,
	}
}

// RegisterRoutes registers the profile routes on the given mux.
func (h *ProfileHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/profiles/{handle}/analyze", h.Analyze)
	mux.HandleFunc("GET /api/profiles/{handle}", h.Get)
	mux.HandleFunc("GET /api/profiles/{handle}/posts", h.Posts)
}

// Analyze handles POST /api/profiles/{handle}/analyze. The consumer pays
// through the access gate; population runs as the gate's protected
// operation, so a failed run charges nothing.
func (h *ProfileHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	consumerID, err := uuid.Parse(r.Header.Get("X-Consumer-ID"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "X-Consumer-ID header must be a UUID")
		return
	}

	result, err := h.gate.Execute(r.Context(), consumerID, handle, func(ctx context.Context) (*models.PopulationResult, error) {
		return h.orch.Populate(ctx, handle)
	})
	if err != nil {
		h.logger.Warn("Gated analyze failed",
			zap.String("handle", handle),
			zap.String("consumer_id", consumerID.String()),
			zap.Error(err))
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, result)
}

// Get handles GET /api/profiles/{handle}.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.GetByHandle(r.Context(), r.PathValue("handle"))
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	if profile == nil {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "profile not found")
		return
	}
	_ = WriteJSON(w, http.StatusOK, profile)
}

// Posts handles GET /api/profiles/{handle}/posts.
func (h *ProfileHandler) Posts(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.GetByHandle(r.Context(), r.PathValue("handle"))
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	if profile == nil {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "profile not found")
		return
	}

	posts, err := h.posts.ListByProfile(r.Context(), profile.ID)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, posts)
}
