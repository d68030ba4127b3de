package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/bobarin/reelcut/internal/models"
	"github.com/bobarin/reelcut/internal/storage"
)

// Store is the persistence the handlers need; *db.DB satisfies it.
type Store interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetProjectScenes(ctx context.Context, projectID uuid.UUID) ([]models.Scene, error)
	CreateExport(ctx context.Context, export *models.Export) error
	GetExport(ctx context.Context, id uuid.UUID) (*models.Export, error)
	ListProjectExports(ctx context.Context, projectID uuid.UUID) ([]models.Export, error)
	SetExportError(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// Jobs is the queue side; *queue.Queue satisfies it.
type Jobs interface {
	EnqueueExport(ctx context.Context, projectID, exportID uuid.UUID) error
	RequestCancel(ctx context.Context, exportID uuid.UUID) error
	Events(ctx context.Context, exportID uuid.UUID, from int) ([]models.ProgressEvent, error)
}

// Signer issues temporary download URLs; *storage.Storage satisfies it.
type Signer interface {
	GetSignedURL(ctx context.Context, storagePath string, expiresIn int, download string) (string, error)
}

type Handler struct {
	db      Store
	queue   Jobs
	storage Signer
	log     zerolog.Logger
}

func NewHandler(store Store, q Jobs, signer Signer, logger zerolog.Logger) *Handler {
	return &Handler{
		db:      store,
		queue:   q,
		storage: signer,
		log:     logger.With().Str("component", "api").Logger(),
	}
}

// CreateExport handles POST /v1/projects/{id}/exports
func (h *Handler) CreateExport(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	// An empty body means all defaults
	var req models.CreateExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	export, msg := exportFromRequest(projectID, req)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	if _, err := h.db.GetProject(r.Context(), projectID); err != nil {
		respondError(w, http.StatusNotFound, "Project not found")
		return
	}

	scenes, err := h.db.GetProjectScenes(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get scenes")
		return
	}
	if !lo.SomeBy(scenes, func(s models.Scene) bool { return s.HasVisual() }) {
		respondError(w, http.StatusUnprocessableEntity, "Project has no scene with an image or clip")
		return
	}

	if err := h.db.CreateExport(r.Context(), export); err != nil {
		h.log.Error().Err(err).Str("project_id", projectID.String()).Msg("Failed to create export")
		respondError(w, http.StatusInternalServerError, "Failed to create export")
		return
	}

	if err := h.queue.EnqueueExport(r.Context(), projectID, export.ID); err != nil {
		h.log.Error().Err(err).Str("export_id", export.ID.String()).Msg("Failed to enqueue export")
		_ = h.db.SetExportError(r.Context(), export.ID, "failed to enqueue export")
		respondError(w, http.StatusInternalServerError, "Failed to enqueue export")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateExportResponse{
		ExportID: export.ID,
		Phase:    export.Phase,
	})
}

// exportFromRequest applies defaults and validates. A non-empty message
// describes the first invalid field.
func exportFromRequest(projectID uuid.UUID, req models.CreateExportRequest) (*models.Export, string) {
	export := &models.Export{
		ID:                    uuid.New(),
		ProjectID:             projectID,
		Format:                models.ExportFormatMP4,
		FPS:                   30,
		Resolution:            "1080p",
		Subtitles:             true,
		AllowRealtimeFallback: req.AllowRealtimeFallback,
		Phase:                 models.ExportPhaseIdle,
		Message:               "Queued",
	}

	if req.Format != nil {
		switch f := models.ExportFormat(*req.Format); f {
		case models.ExportFormatMP4, models.ExportFormatWebM:
			export.Format = f
		default:
			return nil, "Invalid format. Allowed: mp4, webm"
		}
	}
	if req.FPS != nil {
		if *req.FPS != 30 && *req.FPS != 60 {
			return nil, "Invalid fps. Allowed: 30, 60"
		}
		export.FPS = *req.FPS
	}
	if req.Resolution != nil {
		switch *req.Resolution {
		case "1080p", "720p":
			export.Resolution = *req.Resolution
		default:
			return nil, "Invalid resolution. Allowed: 1080p, 720p"
		}
	}
	if req.Subtitles != nil {
		export.Subtitles = *req.Subtitles
	}
	// The clip is a key in the project's storage folder, signed by the worker
	if req.TrailingClipPath != nil {
		key, err := storage.AssetKey(projectID, *req.TrailingClipPath)
		if err != nil {
			return nil, "Invalid trailing_clip_path. Expected a storage key in the project folder"
		}
		export.TrailingClipPath = &key
	}

	return export, ""
}

// ListProjectExports handles GET /v1/projects/{id}/exports
func (h *Handler) ListProjectExports(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	exports, err := h.db.ListProjectExports(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list exports")
		return
	}
	if exports == nil {
		exports = []models.Export{}
	}

	respondJSON(w, http.StatusOK, exports)
}

// GetExport handles GET /v1/exports/{id}
func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	export, ok := h.loadExport(w, r)
	if !ok {
		return
	}

	response := models.ExportResponse{Export: *export}
	if export.StoragePath != nil {
		filename := ""
		if export.Filename != nil {
			filename = *export.Filename
		}
		if url, err := h.storage.GetSignedURL(r.Context(), *export.StoragePath, 3600, filename); err == nil {
			response.DownloadURL = &url
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// CancelExport handles POST /v1/exports/{id}/cancel
func (h *Handler) CancelExport(w http.ResponseWriter, r *http.Request) {
	export, ok := h.loadExport(w, r)
	if !ok {
		return
	}

	if export.Phase.Terminal() {
		respondError(w, http.StatusConflict, "Export already finished")
		return
	}

	if err := h.queue.RequestCancel(r.Context(), export.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to request cancel")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// GetExportEvents handles GET /v1/exports/{id}/events?from=N
func (h *Handler) GetExportEvents(w http.ResponseWriter, r *http.Request) {
	exportID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid export ID")
		return
	}

	from := 0
	if f := r.URL.Query().Get("from"); f != "" {
		parsed, err := strconv.Atoi(f)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "Invalid from")
			return
		}
		from = parsed
	}

	events, err := h.queue.Events(r.Context(), exportID, from)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

// GetExportDownload handles GET /v1/exports/{id}/download
func (h *Handler) GetExportDownload(w http.ResponseWriter, r *http.Request) {
	export, ok := h.loadExport(w, r)
	if !ok {
		return
	}

	if export.StoragePath == nil {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	filename := ""
	if export.Filename != nil {
		filename = *export.Filename
	}

	// Signed URL valid for 1 hour
	signedURL, err := h.storage.GetSignedURL(r.Context(), *export.StoragePath, 3600, filename)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

func (h *Handler) loadExport(w http.ResponseWriter, r *http.Request) (*models.Export, bool) {
	exportID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid export ID")
		return nil, false
	}

	export, err := h.db.GetExport(r.Context(), exportID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Export not found")
		return nil, false
	}
	return export, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
