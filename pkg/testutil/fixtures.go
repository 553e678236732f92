package testutil

import (
	"bytes"

	"github.com/leadflow/leadflow-backend/internal/lead/domain"
)

// ValidForm returns a form that passes every validation rule.
func ValidForm() domain.FormState {
	return domain.FormState{
		domain.FieldClientName:   "A",
		domain.FieldLocation:     "B",
		domain.FieldDOB:          "2000-01-01",
		domain.FieldLoanAmount:   "500000",
		domain.FieldPhone:        "9876543210",
		domain.FieldEmail:        "a@b.com",
		domain.FieldHasOtherLoan: domain.No,
	}
}

// PickedFile returns an in-memory file of exactly size bytes.
func PickedFile(name string, size int) domain.PickedFile {
	return domain.PickedFile{
		URI:      "file:///tmp/" + name,
		Name:     name,
		Size:     int64(size),
		MimeType: "application/pdf",
		Data:     bytes.Repeat([]byte{'x'}, size),
	}
}
