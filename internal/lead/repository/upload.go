package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/pkg/database"
)

// UploadRepository writes the per-attempt upload audit trail.
type UploadRepository struct {
	db *database.DB
}

// NewUploadRepository creates a new upload repository
func NewUploadRepository(db *database.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Record inserts one upload attempt.
func (r *UploadRepository) Record(ctx context.Context, rec *domain.UploadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := `
		INSERT INTO lead_document_uploads
			(id, session_id, lead_id, document_key, file_name, size_bytes, status, error, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.LeadID,
		rec.DocumentKey,
		rec.FileName,
		rec.SizeBytes,
		string(rec.Status),
		nullable(rec.Error),
		rec.AttemptedAt,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return fmt.Errorf("insert upload record: %w", err)
	}
	return nil
}

// ListBySession returns every attempt for a session in the order made.
func (r *UploadRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.UploadRecord, error) {
	query := `
		SELECT id, session_id, lead_id, document_key, file_name, size_bytes, status,
		       COALESCE(error, '') AS error, attempted_at
		FROM lead_document_uploads
		WHERE session_id = $1
		ORDER BY attempted_at, id
	`
	records := []domain.UploadRecord{}
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list upload records: %w", err)
	}
	return records, nil
}
