package service

import (
	"context"
	"time"

	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/pkg/logger"
)

// UploadRecorder stores one upload attempt.
type UploadRecorder interface {
	Record(ctx context.Context, rec *domain.UploadRecord) error
}

// AuditListener writes every upload attempt to the audit trail. Write
// failures are logged and never interrupt a submission.
type AuditListener struct {
	uploads UploadRecorder
	logger  *logger.Logger
	now     func() time.Time
}

// NewAuditListener creates an audit listener
func NewAuditListener(uploads UploadRecorder, log *logger.Logger) *AuditListener {
	return &AuditListener{
		uploads: uploads,
		logger:  log.WithComponent("upload-audit"),
		now:     time.Now,
	}
}

func (a *AuditListener) LeadCreated(ctx context.Context, s *domain.LeadSession) {}

func (a *AuditListener) DocumentUploaded(ctx context.Context, s *domain.LeadSession, f domain.QueuedFile, uploadErr error) {
	rec := &domain.UploadRecord{
		SessionID:   s.ID,
		LeadID:      s.LeadID,
		DocumentKey: f.DocumentKey,
		FileName:    f.File.Name,
		SizeBytes:   f.File.EffectiveSize(),
		Status:      domain.StatusSucceeded,
		AttemptedAt: a.now().UTC(),
	}
	if uploadErr != nil {
		rec.Status = domain.StatusFailed
		rec.Error = uploadErr.Error()
	}

	if err := a.uploads.Record(ctx, rec); err != nil {
		a.logger.Error().Err(err).
			Str("session_id", s.ID).
			Str("file", f.File.Name).
			Msg("failed to record upload attempt")
	}
}

func (a *AuditListener) SubmissionCompleted(ctx context.Context, s *domain.LeadSession, r domain.SubmissionResult) {
}
