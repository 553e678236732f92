package domain

import "time"

// DocumentRequirement is one supporting document the workflow asks for.
type DocumentRequirement struct {
	Key            string `json:"key" yaml:"key"`
	Label          string `json:"label" yaml:"label"`
	AllowsMultiple bool   `json:"allows_multiple" yaml:"allows_multiple"`
}

// PickedFile is a file chosen by the user, with its content held in memory.
type PickedFile struct {
	URI      string `json:"uri,omitempty"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"-"`
}

// EffectiveSize is the larger of the declared size and the held content,
// so a wrong declared size cannot sneak a large file past the ceiling.
func (p PickedFile) EffectiveSize() int64 {
	if n := int64(len(p.Data)); n > p.Size {
		return n
	}
	return p.Size
}

// FileStatus is the upload state of a queued file.
type FileStatus string

const (
	StatusPending   FileStatus = "pending"
	StatusUploading FileStatus = "uploading"
	StatusSucceeded FileStatus = "succeeded"
	StatusFailed    FileStatus = "failed"
)

// Removable reports whether a user may still drop a file in this state.
func (s FileStatus) Removable() bool {
	return s == StatusPending || s == StatusFailed
}

// QueuedFile is one entry of the document queue.
type QueuedFile struct {
	ID          string     `json:"id"`
	File        PickedFile `json:"file"`
	DocumentKey string     `json:"document_key"`
	Label       string     `json:"label"`
	Status      FileStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// SubmissionResult summarises one phase-2 run.
type SubmissionResult struct {
	LeadID   string       `json:"lead_id"`
	Complete bool         `json:"complete"`
	Uploaded int          `json:"uploaded"`
	Skipped  int          `json:"skipped"`
	Failed   *QueuedFile  `json:"failed,omitempty"`
	Files    []QueuedFile `json:"files"`
}

// UploadRecord is the audit row written for every upload attempt.
type UploadRecord struct {
	ID          string     `json:"id" db:"id"`
	SessionID   string     `json:"session_id" db:"session_id"`
	LeadID      string     `json:"lead_id" db:"lead_id"`
	DocumentKey string     `json:"document_key" db:"document_key"`
	FileName    string     `json:"file_name" db:"file_name"`
	SizeBytes   int64      `json:"size_bytes" db:"size_bytes"`
	Status      FileStatus `json:"status" db:"status"`
	Error       string     `json:"error,omitempty" db:"error"`
	AttemptedAt time.Time  `json:"attempted_at" db:"attempted_at"`
}
