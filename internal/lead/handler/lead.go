package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/internal/lead/service"
	"github.com/leadflow/leadflow-backend/pkg/errors"
	"github.com/leadflow/leadflow-backend/pkg/httputil"
	"github.com/leadflow/leadflow-backend/pkg/logger"
)

// maxRequestSize caps a whole multipart request; the per-file ceiling is
// enforced by the queue.
const maxRequestSize = 32 << 20

// LeadHandler handles lead session endpoints
type LeadHandler struct {
	service     *service.LeadService
	maxFileSize int64
	logger      *logger.Logger
}

// NewLeadHandler creates a new lead handler
func NewLeadHandler(svc *service.LeadService, maxFileSize int64, log *logger.Logger) *LeadHandler {
	return &LeadHandler{
		service:     svc,
		maxFileSize: maxFileSize,
		logger:      log,
	}
}

// Routes mounts the session endpoints.
func (h *LeadHandler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Start)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Abandon)
		r.Patch("/{id}/form", h.UpdateForm)
		r.Post("/{id}/validate", h.Validate)
		r.Post("/{id}/lead", h.CreateLead)
		r.Get("/{id}/documents/requirements", h.Requirements)
		r.Post("/{id}/documents", h.AddDocuments)
		r.Delete("/{id}/documents/{documentKey}/{fileName}", h.RemoveDocument)
		r.Post("/{id}/submit", h.Submit)
		r.Get("/{id}/uploads", h.Uploads)
	})
}

// UpdateFormRequest is the request structure for setting form fields
type UpdateFormRequest struct {
	Fields map[string]string `json:"fields" validate:"required,min=1"`
}

// ValidateResponse reports form validity
type ValidateResponse struct {
	Valid  bool                    `json:"valid"`
	Errors domain.ValidationErrors `json:"errors"`
}

// List lists the caller's sessions
func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sessions, err := h.service.List(r.Context(), httputil.GetUserID(r.Context()), limit)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.LeadSession{}
	}

	httputil.JSON(w, http.StatusOK, sessions)
}

// Start opens a new session
func (h *LeadHandler) Start(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Start(r.Context(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, session)
}

// Get returns a session snapshot
func (h *LeadHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// UpdateForm sets form fields
func (h *LeadHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	var req UpdateFormRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	session, err := h.service.UpdateForm(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Fields)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// Validate checks the form without creating anything
func (h *LeadHandler) Validate(w http.ResponseWriter, r *http.Request) {
	errs, err := h.service.Validate(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	if errs == nil {
		errs = domain.ValidationErrors{}
	}

	httputil.JSON(w, http.StatusOK, ValidateResponse{Valid: errs.Valid(), Errors: errs})
}

// CreateLead runs phase 1
func (h *LeadHandler) CreateLead(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.CreateLead(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// Requirements lists the documents to collect
func (h *LeadHandler) Requirements(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.Requirements(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, reqs)
}

// AddDocuments queues the files of a multipart request.
// Form fields:
// - document_key: catalog key the files belong to
// - files: one or more file parts
func (h *LeadHandler) AddDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
	if err := r.ParseMultipartForm(maxRequestSize); err != nil {
		httputil.Error(w, r, errors.BadRequest("file too large or invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	documentKey := r.FormValue("document_key")
	if documentKey == "" {
		httputil.Error(w, r, errors.Validation(map[string]string{"document_key": "this field is required"}))
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		httputil.Error(w, r, errors.Validation(map[string]string{"files": "at least one file is required"}))
		return
	}

	picked := make([]domain.PickedFile, 0, len(headers))
	for _, fh := range headers {
		p, err := h.readPart(fh)
		if err != nil {
			h.logger.Error().Err(err).Str("file", fh.Filename).Msg("failed to read uploaded part")
			httputil.Error(w, r, errors.BadRequest("could not read "+fh.Filename))
			return
		}
		picked = append(picked, p)
	}

	result, err := h.service.AddDocuments(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"), documentKey, picked)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// readPart loads at most one byte past the file ceiling, enough for the
// queue to see an oversized file without holding all of it.
func (h *LeadHandler) readPart(fh *multipart.FileHeader) (domain.PickedFile, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.PickedFile{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxFileSize+1))
	if err != nil {
		return domain.PickedFile{}, err
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	return domain.PickedFile{
		URI:      "upload://" + fh.Filename,
		Name:     fh.Filename,
		Size:     fh.Size,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

// RemoveDocument drops a queued file
func (h *LeadHandler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	fileName, err := url.PathUnescape(chi.URLParam(r, "fileName"))
	if err != nil {
		httputil.Error(w, r, errors.BadRequest("invalid file name"))
		return
	}

	session, err := h.service.RemoveDocument(r.Context(), httputil.GetUserID(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "documentKey"), fileName)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// Submit runs phase 2. A halted run answers with the error and the partial
// result so the client can show which document failed.
func (h *LeadHandler) Submit(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Submit(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		if result.Failed != nil {
			httputil.ErrorWithData(w, r, err, result)
			return
		}
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Uploads returns the upload audit trail
func (h *LeadHandler) Uploads(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Uploads(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	if records == nil {
		records = []domain.UploadRecord{}
	}

	httputil.JSON(w, http.StatusOK, records)
}

// Abandon discards a session
func (h *LeadHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Abandon(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.NoContent(w)
}
