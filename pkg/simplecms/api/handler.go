package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/simple-cms/pkg/simplecms"
)

// maxMultipartMemory is the part of an upload kept in memory; the rest spills to disk.
const maxMultipartMemory = 32 << 20

// Handler exposes a Repository over HTTP.
type Handler struct {
	repo   *simplecms.Repository
	jwt    *jwtauth.JWTAuth
	logger *slog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithJWTAuth requires a valid bearer token on every route except /health.
func WithJWTAuth(ja *jwtauth.JWTAuth) Option {
	return func(h *Handler) {
		h.jwt = ja
	}
}

// NewHandler creates a new handler
func NewHandler(repo *simplecms.Repository, opts ...Option) *Handler {
	h := &Handler{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "api")
	return h
}

// Routes returns the routes of the CMS backend
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if h.jwt != nil {
			r.Use(jwtauth.Verifier(h.jwt))
			r.Use(jwtauth.Authenticator)
		}

		r.Get("/collections/{collection}/entries", h.ListEntries)
		r.Get("/collections/{collection}/entries/{slug}", h.GetEntry)
		r.Put("/collections/{collection}/entries/{slug}", h.PersistEntry)
		r.Get("/collections/{collection}/entries/{slug}/state", h.GetEntryState)

		r.Get("/unpublished", h.ListUnpublished)
		r.Get("/unpublished/{collection}/{slug}", h.GetUnpublished)
		r.Put("/unpublished/{collection}/{slug}/status", h.UpdateStatus)
		r.Post("/unpublished/{collection}/{slug}/publish", h.Publish)
		r.Delete("/unpublished/{collection}/{slug}", h.DeleteUnpublished)

		r.Get("/media", h.ListMedia)
		r.Post("/media", h.UploadMedia)
		r.Delete("/media/*", h.DeleteMedia)
	})

	return r
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, simplecms.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, simplecms.ErrInvalidIdentifier):
		return http.StatusBadRequest, "invalid_identifier"
	case errors.Is(err, simplecms.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, simplecms.ErrMediaTooLarge):
		return http.StatusRequestEntityTooLarge, "media_too_large"
	case errors.Is(err, simplecms.ErrMetadataTooLarge):
		return http.StatusUnprocessableEntity, "metadata_too_large"
	case errors.Is(err, simplecms.ErrInvalidRequest):
		return http.StatusUnprocessableEntity, "rejected_by_store"
	case errors.Is(err, simplecms.ErrWorkflowDisabled):
		return http.StatusConflict, "workflow_disabled"
	case errors.Is(err, simplecms.ErrAuth):
		return http.StatusUnauthorized, "auth"
	case errors.Is(err, simplecms.ErrMalformedKey), errors.Is(err, simplecms.ErrMissingMetadata):
		return http.StatusInternalServerError, "corrupt_object"
	case errors.Is(err, simplecms.ErrListingLimit):
		return http.StatusInsufficientStorage, "listing_limit"
	case errors.Is(err, simplecms.ErrTransientStore):
		return http.StatusBadGateway, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: msg, Code: "bad_request"})
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":   "healthy",
		"workflow": h.repo.Workflow().Enabled(),
	})
}

// ListEntries lists published entries of a collection. Repeated "file" query
// parameters select explicit files; otherwise the collection folder is listed,
// filtered by the optional "extension" parameter.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	query := r.URL.Query()

	var (
		entries []simplecms.Entry
		err     error
	)
	if files := query["file"]; len(files) > 0 {
		entries, err = h.repo.ListByExplicitFiles(r.Context(), collection, files)
	} else {
		entries, err = h.repo.ListByFolder(r.Context(), collection, query.Get("extension"))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []simplecms.Entry{}
	}
	render.JSON(w, r, entries)
}

// GetEntry returns one published entry
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.repo.GetEntry(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, entry)
}

// PersistEntryRequest is the request body for saving an entry
type PersistEntryRequest struct {
	Path          string `json:"path,omitempty"`
	Raw           string `json:"raw"`
	NewEntry      bool   `json:"new_entry"`
	CommitMessage string `json:"commit_message,omitempty"`
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
}

// PersistEntry saves an entry, as a draft when the workflow is enabled
func (h *Handler) PersistEntry(w http.ResponseWriter, r *http.Request) {
	var req PersistEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	entry := simplecms.Entry{
		Collection: chi.URLParam(r, "collection"),
		Slug:       chi.URLParam(r, "slug"),
		Path:       req.Path,
		Raw:        req.Raw,
	}
	err := h.repo.PersistEntry(r.Context(), entry, simplecms.PersistOptions{
		NewEntry:      req.NewEntry,
		CommitMessage: req.CommitMessage,
		Title:         req.Title,
		Description:   req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.NewEntry {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, entry)
}

// StateResponse is the workflow position of an entry
type StateResponse struct {
	State    string `json:"state"`
	HasDraft bool   `json:"has_draft"`
	Status   string `json:"status,omitempty"`
}

// GetEntryState reports whether an entry is a draft, published, or both
func (h *Handler) GetEntryState(w http.ResponseWriter, r *http.Request) {
	state, err := h.repo.EntryState(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, StateResponse{
		State:    state.Kind.String(),
		HasDraft: state.HasDraft,
		Status:   state.Status.String(),
	})
}

// ListUnpublished lists every draft
func (h *Handler) ListUnpublished(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.ListUnpublishedEntries(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []simplecms.UnpublishedEntry{}
	}
	render.JSON(w, r, entries)
}

// GetUnpublished returns one draft
func (h *Handler) GetUnpublished(w http.ResponseWriter, r *http.Request) {
	entry, err := h.repo.GetUnpublishedEntry(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, entry)
}

// UpdateStatusRequest is the request body for a status change
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus moves a draft to another workflow status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.Status == "" {
		badRequest(w, r, "status is required")
		return
	}

	collection, slug := chi.URLParam(r, "collection"), chi.URLParam(r, "slug")
	if err := h.repo.UpdateUnpublishedEntryStatus(r.Context(), collection, slug, req.Status); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"collection": collection, "slug": slug, "status": req.Status})
}

// Publish moves a draft to the published namespace
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	collection, slug := chi.URLParam(r, "collection"), chi.URLParam(r, "slug")
	if err := h.repo.PublishUnpublishedEntry(r.Context(), collection, slug); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("entry published", "collection", collection, "slug", slug)
	render.JSON(w, r, map[string]string{"status": "published"})
}

// DeleteUnpublished discards a draft
func (h *Handler) DeleteUnpublished(w http.ResponseWriter, r *http.Request) {
	err := h.repo.DeleteUnpublishedEntry(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMedia lists media assets, optionally below the "folder" query parameter
func (h *Handler) ListMedia(w http.ResponseWriter, r *http.Request) {
	assets, err := h.repo.ListMedia(r.Context(), r.URL.Query().Get("folder"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if assets == nil {
		assets = []simplecms.MediaAsset{}
	}
	render.JSON(w, r, assets)
}

// UploadMedia stores the multipart "file" field under the "folder" field
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		badRequest(w, r, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, "file field is required")
		return
	}
	defer file.Close()

	folder := strings.Trim(r.FormValue("folder"), "/")
	if folder == "" {
		badRequest(w, r, "folder field is required")
		return
	}

	asset, err := h.repo.PersistMedia(r.Context(), simplecms.MediaFile{
		Path:        folder + "/" + header.Filename,
		Body:        file,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
	}, simplecms.MediaOptions{CommitMessage: r.FormValue("commit_message")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, asset)
}

// DeleteMedia deletes every object stored for a media path
func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	mediaPath := chi.URLParam(r, "*")
	if mediaPath == "" {
		badRequest(w, r, "media path is required")
		return
	}
	if err := h.repo.DeleteMediaPath(r.Context(), mediaPath); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
