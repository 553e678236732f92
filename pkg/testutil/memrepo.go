package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	apperrors "github.com/leadflow/leadflow-backend/pkg/errors"
)

// MemoryRepository keeps sessions and upload records in maps. It satisfies
// the session and upload repository interfaces the lead service accepts.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.LeadSession
	records  []domain.UploadRecord
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: map[string]domain.LeadSession{}}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.LeadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return apperrors.Conflict("session already exists")
	}
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, s *domain.LeadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.sessions[s.ID]
	if !ok || old.UserID != s.UserID {
		return apperrors.NotFound("session")
	}
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id, userID string) (*domain.LeadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return nil, apperrors.NotFound("session")
	}
	out := copySession(&s)
	return &out, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return apperrors.NotFound("session")
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.LeadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.LeadSession
	for _, s := range r.sessions {
		if s.UserID == userID {
			c := copySession(&s)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Record(ctx context.Context, rec *domain.UploadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *MemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.UploadRecord
	for _, rec := range r.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func copySession(s *domain.LeadSession) domain.LeadSession {
	c := *s
	c.Form = s.Form.Clone()
	return c
}
