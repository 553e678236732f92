package database

import (
	"strings"

	"github.com/leadflow/leadflow-backend/pkg/errors"
	"github.com/lib/pq"
)

// MapPQError converts a PostgreSQL error to an AppError.
// Returns nil if the error is not a pq.Error or has no mapping.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23514": // check_violation
		return mapCheckConstraint(pqErr)

	case "23505": // unique_violation
		if strings.Contains(pqErr.Constraint, "lead_id") {
			return errors.Conflict("lead is already attached to another session")
		}
		return errors.Conflict("a record with these values already exists")

	case "23503": // foreign_key_violation
		return errors.NotFound("session")

	case "23502": // not_null_violation
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{col: "must not be empty"})

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	switch {
	case strings.Contains(pqErr.Constraint, "step_valid"):
		return errors.Validation(map[string]string{"step": "must be one of: details, documents"})
	case strings.Contains(pqErr.Constraint, "status_valid"):
		return errors.Validation(map[string]string{"status": "must be one of: succeeded, failed"})
	default:
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)
	}
}
