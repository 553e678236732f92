// Package workflow drives a lead through creation and document upload.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/internal/lead/queue"
	"github.com/leadflow/leadflow-backend/internal/lead/validation"
	"github.com/leadflow/leadflow-backend/pkg/errors"
	"github.com/leadflow/leadflow-backend/pkg/i18n"
	"github.com/leadflow/leadflow-backend/pkg/logger"
)

// Gateway is the upstream lead API.
type Gateway interface {
	CreateLead(ctx context.Context, form domain.FormState) (string, error)
	UploadDocument(ctx context.Context, leadID string, file domain.QueuedFile) error
}

// Listener observes workflow progress. Implementations must not block for
// long and cannot fail the workflow.
type Listener interface {
	LeadCreated(ctx context.Context, session *domain.LeadSession)
	DocumentUploaded(ctx context.Context, session *domain.LeadSession, file domain.QueuedFile, uploadErr error)
	SubmissionCompleted(ctx context.Context, session *domain.LeadSession, result domain.SubmissionResult)
}

// Options tune the orchestrator.
type Options struct {
	// RequireDocuments makes an empty queue a DOCUMENTS_REQUIRED error
	// instead of an immediate success.
	RequireDocuments bool
	Validator        *validation.Engine
	Listeners        []Listener
	Now              func() time.Time
}

// Orchestrator runs phase 1 (create the lead) and phase 2 (upload queued
// documents one at a time).
type Orchestrator struct {
	gateway          Gateway
	validator        *validation.Engine
	listeners        []Listener
	requireDocuments bool
	now              func() time.Time
	logger           *logger.Logger

	inflight sync.Map // session id -> struct{}
}

// New creates an orchestrator.
func New(gw Gateway, opts Options, log *logger.Logger) *Orchestrator {
	o := &Orchestrator{
		gateway:          gw,
		validator:        opts.Validator,
		listeners:        opts.Listeners,
		requireDocuments: opts.RequireDocuments,
		now:              opts.Now,
		logger:           log.WithComponent("workflow"),
	}
	if o.validator == nil {
		o.validator = validation.New()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// CreateLead validates the session's form and creates the lead upstream.
// On success the session holds the lead id and sits in the documents step.
// A session that already has a lead returns it without calling the gateway.
func (o *Orchestrator) CreateLead(ctx context.Context, session *domain.LeadSession) (string, error) {
	if session.HasLead() {
		return session.LeadID, nil
	}

	locale := i18n.GetLocaleFromContext(ctx)
	if errs := o.validator.ValidateLocalized(locale, session.Form); !errs.Valid() {
		return "", errors.Validation(errs)
	}

	log := o.logger.WithSessionID(session.ID)

	leadID, err := o.gateway.CreateLead(ctx, session.Form)
	if err != nil {
		log.Warn().Err(err).Msg("lead creation failed")
		return "", errors.LeadCreationFailed(err)
	}

	if err := session.AttachLead(leadID, o.now()); err != nil {
		return "", errors.LeadCreationFailed(err)
	}

	log.Info().Str("lead_id", leadID).Msg("lead attached to session")
	for _, l := range o.listeners {
		l.LeadCreated(ctx, session)
	}
	return leadID, nil
}

// SubmitDocuments uploads the queue in insertion order. Entries that already
// succeeded are skipped, so calling it again after a failure resumes where
// the last run stopped. The first failed upload halts the run and later
// entries stay untouched.
func (o *Orchestrator) SubmitDocuments(ctx context.Context, session *domain.LeadSession, q *queue.Queue) (domain.SubmissionResult, error) {
	if !session.HasLead() {
		return domain.SubmissionResult{}, errors.LeadMissing()
	}

	if _, busy := o.inflight.LoadOrStore(session.ID, struct{}{}); busy {
		return domain.SubmissionResult{}, errors.SubmissionInProgress()
	}
	defer o.inflight.Delete(session.ID)

	result := domain.SubmissionResult{LeadID: session.LeadID}
	log := o.logger.WithSessionID(session.ID)

	ids := q.IDs()
	if len(ids) == 0 && o.requireDocuments {
		return result, errors.DocumentsRequired()
	}

	for _, id := range ids {
		current, ok := q.Get(id)
		if !ok {
			log.Debug().Str("entry_id", id).Msg("queue entry gone before upload, not counted")
			continue
		}
		if current.Status == domain.StatusSucceeded {
			result.Skipped++
			continue
		}

		entry, ok := q.MarkUploading(id)
		if !ok {
			log.Debug().Str("entry_id", id).Msg("queue entry changed before upload, not counted")
			continue
		}

		err := o.gateway.UploadDocument(ctx, session.LeadID, entry)
		if err != nil {
			q.MarkFailed(id, err.Error())
			failed, _ := q.Get(id)
			o.notifyUpload(ctx, session, failed, err)

			result.Failed = &failed
			result.Files = q.Snapshot()
			log.Warn().Err(err).
				Str("document_key", entry.DocumentKey).
				Str("file_name", entry.File.Name).
				Int("uploaded", result.Uploaded).
				Msg("submission halted")
			return result, errors.UploadFailed(entry.Label, entry.File.Name, err)
		}

		q.MarkSucceeded(id)
		done, _ := q.Get(id)
		o.notifyUpload(ctx, session, done, nil)
		result.Uploaded++
	}

	result.Complete = true
	result.Files = q.Snapshot()
	log.Info().
		Int("uploaded", result.Uploaded).
		Int("skipped", result.Skipped).
		Msg("submission complete")

	for _, l := range o.listeners {
		l.SubmissionCompleted(ctx, session, result)
	}
	return result, nil
}

// Exclusive runs fn while holding the session's submission slot. It fails
// with SUBMISSION_IN_PROGRESS when a submission is running, and no
// submission can start until fn returns.
func (o *Orchestrator) Exclusive(sessionID string, fn func()) error {
	if _, busy := o.inflight.LoadOrStore(sessionID, struct{}{}); busy {
		return errors.SubmissionInProgress()
	}
	defer o.inflight.Delete(sessionID)

	fn()
	return nil
}

// InFlight reports whether a submission is running for sessionID.
func (o *Orchestrator) InFlight(sessionID string) bool {
	_, ok := o.inflight.Load(sessionID)
	return ok
}

func (o *Orchestrator) notifyUpload(ctx context.Context, session *domain.LeadSession, file domain.QueuedFile, err error) {
	for _, l := range o.listeners {
		l.DocumentUploaded(ctx, session, file, err)
	}
}
