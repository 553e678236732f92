// Package events announces lead workflow progress on the message bus.
package events

import (
	"context"

	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/pkg/logger"
	"github.com/leadflow/leadflow-backend/pkg/messaging"
)

// LeadEventPublisher turns workflow callbacks into lead.* events. Publish
// failures are logged and never reach the workflow.
type LeadEventPublisher struct {
	publisher   messaging.EventPublisher
	productType string
	logger      *logger.Logger
}

// NewLeadEventPublisher declares the lead exchange and returns a publisher.
func NewLeadEventPublisher(rmq *messaging.RabbitMQ, source, productType string, log *logger.Logger) (*LeadEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeLeadEvents, source, log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, productType, log), nil
}

// NewWithPublisher wraps an existing publisher.
func NewWithPublisher(p messaging.EventPublisher, productType string, log *logger.Logger) *LeadEventPublisher {
	return &LeadEventPublisher{
		publisher:   p,
		productType: productType,
		logger:      log.WithComponent("lead-events"),
	}
}

// LeadCreated publishes lead.created.
func (p *LeadEventPublisher) LeadCreated(ctx context.Context, s *domain.LeadSession) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventLeadCreated, messaging.LeadCreatedEvent{
		SessionID: s.ID,
		LeadID:    s.LeadID,
		UserID:    s.UserID,
		Product:   p.productType,
	})
}

// DocumentUploaded publishes lead.document.failed for failed attempts.
// Successful uploads are summarised by SubmissionCompleted.
func (p *LeadEventPublisher) DocumentUploaded(ctx context.Context, s *domain.LeadSession, f domain.QueuedFile, uploadErr error) {
	if p == nil || uploadErr == nil {
		return
	}
	p.publish(ctx, messaging.EventDocumentFailed, messaging.DocumentFailedEvent{
		SessionID:   s.ID,
		LeadID:      s.LeadID,
		DocumentKey: f.DocumentKey,
		FileName:    f.File.Name,
		Error:       uploadErr.Error(),
	})
}

// SubmissionCompleted publishes lead.documents.submitted.
func (p *LeadEventPublisher) SubmissionCompleted(ctx context.Context, s *domain.LeadSession, r domain.SubmissionResult) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventDocumentsSubmitted, messaging.DocumentsSubmittedEvent{
		SessionID: s.ID,
		LeadID:    s.LeadID,
		Uploaded:  r.Uploaded,
		Skipped:   r.Skipped,
	})
}

func (p *LeadEventPublisher) publish(ctx context.Context, eventType string, data interface{}) {
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to publish lead event")
	}
}
