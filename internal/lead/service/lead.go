package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow-backend/internal/lead/catalog"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/internal/lead/store"
	"github.com/leadflow/leadflow-backend/internal/lead/validation"
	"github.com/leadflow/leadflow-backend/internal/lead/workflow"
	"github.com/leadflow/leadflow-backend/pkg/errors"
	"github.com/leadflow/leadflow-backend/pkg/i18n"
	"github.com/leadflow/leadflow-backend/pkg/logger"
)

// SessionRepository persists session state.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.LeadSession) error
	Update(ctx context.Context, s *domain.LeadSession) error
	Get(ctx context.Context, id, userID string) (*domain.LeadSession, error)
	Delete(ctx context.Context, id, userID string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.LeadSession, error)
}

// UploadHistory reads the upload audit trail.
type UploadHistory interface {
	ListBySession(ctx context.Context, sessionID string) ([]domain.UploadRecord, error)
}

// SessionView is what clients see of a session.
type SessionView struct {
	ID           string                       `json:"id"`
	LeadID       string                       `json:"lead_id,omitempty"`
	Step         domain.Step                  `json:"step"`
	Form         domain.FormState             `json:"form"`
	Requirements []domain.DocumentRequirement `json:"requirements"`
	Documents    []domain.QueuedFile          `json:"documents"`
	Submitting   bool                         `json:"submitting"`
	CreatedAt    time.Time                    `json:"created_at"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// FileRejection is one picked file that did not enter the queue.
type FileRejection struct {
	File    string `json:"file,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AddDocumentsResult reports a batch of picked files.
type AddDocumentsResult struct {
	Session  *SessionView    `json:"session"`
	Rejected []FileRejection `json:"rejected"`
}

// LeadService runs the lead workflow for authenticated users.
type LeadService struct {
	store        *store.Store
	sessions     SessionRepository
	uploads      UploadHistory
	orchestrator *workflow.Orchestrator
	catalog      *catalog.Catalog
	validator    *validation.Engine
	logger       *logger.Logger
	now          func() time.Time
}

// NewLeadService creates a new lead service
func NewLeadService(
	st *store.Store,
	sessions SessionRepository,
	uploads UploadHistory,
	orchestrator *workflow.Orchestrator,
	cat *catalog.Catalog,
	validator *validation.Engine,
	log *logger.Logger,
) *LeadService {
	return &LeadService{
		store:        st,
		sessions:     sessions,
		uploads:      uploads,
		orchestrator: orchestrator,
		catalog:      cat,
		validator:    validator,
		logger:       log.WithComponent("lead-service"),
		now:          time.Now,
	}
}

// Start opens a new session in the details step.
func (s *LeadService) Start(ctx context.Context, userID string) (*SessionView, error) {
	session := domain.NewLeadSession(uuid.NewString(), userID, s.now().UTC())
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	e := s.store.Put(session)
	s.logger.Info().Str("session_id", session.ID).Str("user_id", userID).Msg("lead session started")
	return s.view(e), nil
}

// List returns the caller's most recent sessions as stored. Queues are not
// included; they only exist for sessions active in this process.
func (s *LeadService) List(ctx context.Context, userID string, limit int) ([]*domain.LeadSession, error) {
	return s.sessions.ListByUser(ctx, userID, limit)
}

// Get returns the current state of a session.
func (s *LeadService) Get(ctx context.Context, userID, id string) (*SessionView, error) {
	e, err := s.entry(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.view(e), nil
}

// UpdateForm applies field values to the form. The form is frozen once the
// lead exists.
func (s *LeadService) UpdateForm(ctx context.Context, userID, id string, fields map[string]string) (*SessionView, error) {
	unknown := map[string]string{}
	for k := range fields {
		if !domain.IsField(k) {
			unknown[k] = "unknown field"
		}
	}
	if len(unknown) > 0 {
		return nil, errors.Validation(unknown)
	}

	e, err := s.entry(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	e.Lock()
	if e.Session.HasLead() {
		e.Unlock()
		return nil, errors.Conflict("lead already created, the form can no longer change")
	}
	e.Session.Form = e.Session.Form.Merge(fields)
	e.Session.UpdatedAt = s.now().UTC()
	snapshot := *e.Session
	e.Unlock()

	if err := s.sessions.Update(ctx, &snapshot); err != nil {
		return nil, err
	}
	return s.view(e), nil
}

// Validate checks the session's form in the caller's locale.
func (s *LeadService) Validate(ctx context.Context, userID, id string) (domain.ValidationErrors, error) {
	e, err := s.entry(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	e.Lock()
	form := e.Session.Form.Clone()
	e.Unlock()

	return s.validator.ValidateLocalized(i18n.GetLocaleFromContext(ctx), form), nil
}

// CreateLead runs phase 1. The entry stays locked across the gateway call so
// a repeated request waits and then sees the lead already created.
func (s *LeadService) CreateLead(ctx context.Context, userID, id string) (*SessionView, error) {
	e, err := s.entry(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	e.Lock()
	hadLead := e.Session.HasLead()
	_, err = s.orchestrator.CreateLead(ctx, e.Session)
	snapshot := *e.Session
	e.Unlock()
	if err != nil {
		return nil, err
	}

	if !hadLead {
		// The lead exists upstream now; losing it locally would invite a duplicate.
		if err := s.sessions.Update(ctx, &snapshot); err != nil {
			s.logger.Error().Err(err).Str("session_id", id).Str("lead_id", snapshot.LeadID).Msg("failed to persist lead id")
		}
	}
	return s.view(e), nil
}

// Requirements lists the documents the session's form calls for.
func (s *LeadService) Requirements(ctx context.Context, userID, id string) ([]domain.DocumentRequirement, error) {
	e, err := s.entry(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	e.Lock()
	defer e.Unlock()
	return s.catalog.Required(e.Session.Form), nil
}

// AddDocuments queues picked files for one document type. Files that are
// refused are listed individually; the rest are queued.
func (s *LeadService) AddDocuments(ctx context.Context, userID, id, documentKey string, files []domain.PickedFile) (*AddDocumentsResult, error) {
	e, err := s.entry(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	e.Lock()
	req, ok := s.requirement(e.Session.Form, documentKey)
	e.Unlock()
	if !ok {
		return nil, errors.UnknownDocument(documentKey)
	}

	result := &AddDocumentsResult{Rejected: []FileRejection{}}
	for _, err := range e.Queue.AddFiles(req.Key, req.Label, req.AllowsMultiple, files) {
		result.Rejected = append(result.Rejected, rejection(ctx, err))
	}

	s.logger.Debug().
		Str("session_id", id).
		Str("document_key", documentKey).
		Int("picked", len(files)).
		Int("rejected", len(result.Rejected)).
		Msg("documents added")

	result.Session = s.view(e)
	return result, nil
}

// RemoveDocument drops a queued file that has not been uploaded.
func (s *LeadService) RemoveDocument(ctx context.Context, userID, id, documentKey, fileName string) (*SessionView, error) {
	e, err := s.entry(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	found := false
	for _, f := range e.Queue.Snapshot() {
		if f.DocumentKey == documentKey && f.File.Name == fileName {
			found = true
			if !f.Status.Removable() {
				return nil, errors.Conflict(fileName + " is " + string(f.Status) + " and cannot be removed")
			}
			break
		}
	}
	if !found {
		return nil, errors.NotFound("document")
	}

	e.Queue.RemoveFile(documentKey, fileName)
	return s.view(e), nil
}

// Submit runs phase 2. The upload loop is detached from ctx cancellation:
// a started upload always runs to its own completion or failure.
func (s *LeadService) Submit(ctx context.Context, userID, id string) (domain.SubmissionResult, error) {
	e, err := s.entry(ctx, userID, id)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	e.Lock()
	snapshot := *e.Session
	e.Unlock()

	return s.orchestrator.SubmitDocuments(context.WithoutCancel(ctx), &snapshot, e.Queue)
}

// Uploads returns the upload audit trail of a session.
func (s *LeadService) Uploads(ctx context.Context, userID, id string) ([]domain.UploadRecord, error) {
	if _, err := s.entry(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.uploads.ListBySession(ctx, id)
}

// Abandon discards a session and its queued files.
func (s *LeadService) Abandon(ctx context.Context, userID, id string) error {
	if _, err := s.entry(ctx, userID, id); err != nil {
		return err
	}
	if err := s.orchestrator.Exclusive(id, func() { s.store.Delete(id) }); err != nil {
		return err
	}

	if err := s.sessions.Delete(ctx, id, userID); err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}
	s.logger.Info().Str("session_id", id).Msg("lead session abandoned")
	return nil
}

// entry finds the active session, reloading it from the database when it
// was swept from memory. A reloaded session comes back with an empty queue.
func (s *LeadService) entry(ctx context.Context, userID, id string) (*store.Entry, error) {
	if e, ok := s.store.Get(id); ok {
		if e.Session.UserID != userID {
			return nil, errors.NotFound("session")
		}
		return e, nil
	}

	session, err := s.sessions.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	// Concurrent misses load the same row; the first registered entry wins
	// so files queued on it are not dropped.
	e, loaded := s.store.LoadOrStore(session)
	if e.Session.UserID != userID {
		return nil, errors.NotFound("session")
	}
	if !loaded {
		s.logger.Debug().Str("session_id", id).Msg("session restored from database")
	}
	return e, nil
}

func (s *LeadService) requirement(form domain.FormState, key string) (domain.DocumentRequirement, bool) {
	for _, r := range s.catalog.Required(form) {
		if r.Key == key {
			return r, true
		}
	}
	return domain.DocumentRequirement{}, false
}

func rejection(ctx context.Context, err error) FileRejection {
	r := FileRejection{Code: "REJECTED", Message: err.Error()}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		r.Code = appErr.Code
		r.Message = appErr.Localize(ctx)
		r.File = appErr.Details["file"]
	}
	return r
}

func (s *LeadService) view(e *store.Entry) *SessionView {
	e.Lock()
	v := &SessionView{
		ID:        e.Session.ID,
		LeadID:    e.Session.LeadID,
		Step:      e.Session.Step,
		Form:      e.Session.Form.Clone(),
		CreatedAt: e.Session.CreatedAt,
		UpdatedAt: e.Session.UpdatedAt,
	}
	v.Requirements = s.catalog.Required(e.Session.Form)
	e.Unlock()

	v.Documents = e.Queue.Snapshot()
	v.Submitting = s.orchestrator.InFlight(v.ID)
	return v
}
