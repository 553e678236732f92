// Package repository persists lead sessions and the upload audit trail.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/pkg/database"
	"github.com/leadflow/leadflow-backend/pkg/errors"
)

// SessionRepository handles lead session persistence
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type sessionRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	LeadID    sql.NullString `db:"lead_id"`
	Step      string         `db:"step"`
	FormData  types.JSONText `db:"form_data"`
	CreatedAt sql.NullTime   `db:"created_at"`
	UpdatedAt sql.NullTime   `db:"updated_at"`
}

func (r sessionRow) toDomain() (*domain.LeadSession, error) {
	form := domain.NewFormState()
	if len(r.FormData) > 0 {
		if err := r.FormData.Unmarshal(&form); err != nil {
			return nil, fmt.Errorf("decode form_data: %w", err)
		}
	}
	return &domain.LeadSession{
		ID:        r.ID,
		UserID:    r.UserID,
		LeadID:    r.LeadID.String,
		Step:      domain.Step(r.Step),
		Form:      form,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}, nil
}

func encodeForm(form domain.FormState) (types.JSONText, error) {
	if form == nil {
		form = domain.NewFormState()
	}
	b, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("encode form_data: %w", err)
	}
	return types.JSONText(b), nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *domain.LeadSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	form, err := encodeForm(s.Form)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO lead_sessions (id, user_id, lead_id, step, form_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.UserID, nullable(s.LeadID), string(s.Step), form, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return fmt.Errorf("insert lead session: %w", err)
	}
	return nil
}

// Update stores the session's lead id, step and form.
func (r *SessionRepository) Update(ctx context.Context, s *domain.LeadSession) error {
	form, err := encodeForm(s.Form)
	if err != nil {
		return err
	}

	query := `
		UPDATE lead_sessions
		SET lead_id = $3, step = $4, form_data = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		s.ID, s.UserID, nullable(s.LeadID), string(s.Step), form, s.UpdatedAt,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return fmt.Errorf("update lead session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lead session: %w", err)
	}
	if n == 0 {
		return errors.NotFound("session")
	}
	return nil
}

// Get loads one session owned by userID.
func (r *SessionRepository) Get(ctx context.Context, id, userID string) (*domain.LeadSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NotFound("session")
	}

	query := `
		SELECT id, user_id, lead_id, step, form_data, created_at, updated_at
		FROM lead_sessions
		WHERE id = $1 AND user_id = $2
	`
	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("session")
		}
		return nil, fmt.Errorf("get lead session: %w", err)
	}
	return row.toDomain()
}

// ListByUser returns a user's sessions, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.LeadSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, user_id, lead_id, step, form_data, created_at, updated_at
		FROM lead_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list lead sessions: %w", err)
	}

	out := make([]*domain.LeadSession, 0, len(rows))
	for _, row := range rows {
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Delete removes a session and, through the foreign key, its upload audit.
func (r *SessionRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM lead_sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete lead session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lead session: %w", err)
	}
	if n == 0 {
		return errors.NotFound("session")
	}
	return nil
}
