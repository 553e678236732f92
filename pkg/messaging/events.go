package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Exchange names
const (
	ExchangeLeadEvents = "lead.events"
)

// Event types
const (
	EventLeadCreated        = "lead.created"
	EventDocumentsSubmitted = "lead.documents.submitted"
	EventDocumentFailed     = "lead.document.failed"
)

// Event is the envelope every message on the bus carries.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// LeadCreatedEvent is published once phase 1 succeeds.
type LeadCreatedEvent struct {
	SessionID string `json:"session_id"`
	LeadID    string `json:"lead_id"`
	UserID    string `json:"user_id"`
	Product   string `json:"product_type"`
}

// DocumentsSubmittedEvent is published when every queued file is uploaded.
type DocumentsSubmittedEvent struct {
	SessionID string `json:"session_id"`
	LeadID    string `json:"lead_id"`
	Uploaded  int    `json:"uploaded"`
	Skipped   int    `json:"skipped"`
}

// DocumentFailedEvent is published when an upload halts phase 2.
type DocumentFailedEvent struct {
	SessionID   string `json:"session_id"`
	LeadID      string `json:"lead_id"`
	DocumentKey string `json:"document_key"`
	FileName    string `json:"file_name"`
	Error       string `json:"error"`
}
