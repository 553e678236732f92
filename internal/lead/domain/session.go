package domain

import (
	"errors"
	"time"
)

// Step is the position of a session in the two-step workflow.
type Step string

const (
	StepDetails   Step = "details"
	StepDocuments Step = "documents"
)

// ErrLeadAlreadySet is returned when a second, different lead id is attached.
var ErrLeadAlreadySet = errors.New("lead id already set")

// LeadSession is one in-progress application.
type LeadSession struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	LeadID    string    `json:"lead_id,omitempty" db:"lead_id"`
	Step      Step      `json:"step" db:"step"`
	Form      FormState `json:"form" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewLeadSession starts a session in the details step.
func NewLeadSession(id, userID string, now time.Time) *LeadSession {
	return &LeadSession{
		ID:        id,
		UserID:    userID,
		Step:      StepDetails,
		Form:      NewFormState(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasLead reports whether phase 1 has completed.
func (s *LeadSession) HasLead() bool {
	return s.LeadID != ""
}

// AttachLead records the server lead id and moves to the documents step.
// The id can be set once; attaching the same id again is a no-op.
func (s *LeadSession) AttachLead(leadID string, now time.Time) error {
	if leadID == "" {
		return errors.New("empty lead id")
	}
	if s.LeadID != "" {
		if s.LeadID == leadID {
			return nil
		}
		return ErrLeadAlreadySet
	}
	s.LeadID = leadID
	s.Step = StepDocuments
	s.UpdatedAt = now
	return nil
}
