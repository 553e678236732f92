// Package queue holds the files picked for a lead until they are uploaded.
package queue

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/pkg/errors"
)

// Queue is an insertion-ordered list of files. Every mutation happens under
// one mutex, so user edits and upload progress never overwrite each other.
type Queue struct {
	mu      sync.Mutex
	entries []*domain.QueuedFile
	maxSize int64
}

// New creates an empty queue that rejects files larger than maxSize bytes.
func New(maxSize int64) *Queue {
	return &Queue{maxSize: maxSize}
}

// MaxSize is the per-file ceiling in bytes.
func (q *Queue) MaxSize() int64 {
	return q.maxSize
}

// AddFiles queues picked files for one document. Each oversized file is
// rejected with its own FILE_TOO_LARGE error. For a single-valued document
// the last accepted file replaces every existing entry; for a multi-valued
// one accepted files are appended.
func (q *Queue) AddFiles(documentKey, label string, allowsMultiple bool, picked []domain.PickedFile) []error {
	var rejected []error
	accepted := make([]domain.PickedFile, 0, len(picked))
	for _, p := range picked {
		if p.EffectiveSize() > q.maxSize {
			rejected = append(rejected, errors.FileTooLarge(p.Name, FormatSize(q.maxSize)))
			continue
		}
		accepted = append(accepted, p)
	}

	if len(accepted) == 0 {
		return rejected
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !allowsMultiple {
		for _, e := range q.entries {
			if e.DocumentKey == documentKey && e.Status == domain.StatusUploading {
				return append(rejected, errors.Conflict(fmt.Sprintf("%s is uploading and cannot be replaced", e.File.Name)))
			}
		}
		q.removeWhere(func(e *domain.QueuedFile) bool { return e.DocumentKey == documentKey })
		accepted = accepted[len(accepted)-1:]
	}

	for _, p := range accepted {
		q.entries = append(q.entries, &domain.QueuedFile{
			ID:          uuid.NewString(),
			File:        p,
			DocumentKey: documentKey,
			Label:       label,
			Status:      domain.StatusPending,
		})
	}

	return rejected
}

// RemoveFile drops the first entry for documentKey named fileName. Entries
// that are uploading or already uploaded stay; the return value reports
// whether anything was removed.
func (q *Queue) RemoveFile(documentKey, fileName string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.DocumentKey != documentKey || e.File.Name != fileName {
			continue
		}
		if !e.Status.Removable() {
			return false
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return true
	}
	return false
}

// Reset empties the queue.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		// an in-flight upload still reads its content
		if e.Status != domain.StatusUploading {
			zeroBytes(e.File.Data)
		}
	}
	q.entries = nil
}

// Snapshot returns copies of every entry in insertion order.
func (q *Queue) Snapshot() []domain.QueuedFile {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.QueuedFile, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// IDs returns entry ids in insertion order.
func (q *Queue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, len(q.entries))
	for i, e := range q.entries {
		ids[i] = e.ID
	}
	return ids
}

// Get returns a copy of the entry with id.
func (q *Queue) Get(id string) (domain.QueuedFile, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e := q.find(id); e != nil {
		return *e, true
	}
	return domain.QueuedFile{}, false
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// CountByKey returns how many entries belong to documentKey.
func (q *Queue) CountByKey(documentKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.DocumentKey == documentKey {
			n++
		}
	}
	return n
}

// MarkUploading moves a pending or failed entry to uploading and returns a
// copy of it. ok is false when the entry is gone or in any other state.
func (q *Queue) MarkUploading(id string) (entry domain.QueuedFile, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.find(id)
	if e == nil || !(e.Status == domain.StatusPending || e.Status == domain.StatusFailed) {
		return domain.QueuedFile{}, false
	}
	e.Status = domain.StatusUploading
	e.Error = ""
	return *e, true
}

// MarkSucceeded records a finished upload and releases the file content.
func (q *Queue) MarkSucceeded(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e := q.find(id); e != nil && e.Status == domain.StatusUploading {
		e.Status = domain.StatusSucceeded
		zeroBytes(e.File.Data)
		e.File.Data = nil
	}
}

// MarkFailed records a failed upload. The entry is retried on the next
// submission.
func (q *Queue) MarkFailed(id string, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e := q.find(id); e != nil && e.Status == domain.StatusUploading {
		e.Status = domain.StatusFailed
		e.Error = reason
	}
}

func (q *Queue) find(id string) *domain.QueuedFile {
	for _, e := range q.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (q *Queue) removeWhere(match func(*domain.QueuedFile) bool) {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if match(e) {
			zeroBytes(e.File.Data)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
}

// zeroBytes overwrites document content so identity documents do not linger
// in memory after they leave the queue.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// FormatSize renders a byte count the way limits are shown to users.
func FormatSize(n int64) string {
	switch {
	case n >= 1024*1024 && n%(1024*1024) == 0:
		return fmt.Sprintf("%d MiB", n/(1024*1024))
	case n >= 1024 && n%1024 == 0:
		return fmt.Sprintf("%d KiB", n/1024)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
