// Package validation checks a lead form against its field rules.
package validation

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/pkg/i18n"
)

type rule struct {
	field string
	tag   string
	key   string
	// when limits the rule to forms where it returns true.
	when func(domain.FormState) bool
}

var rules = []rule{
	{field: domain.FieldClientName, tag: "notblank", key: "validation.client_name_required"},
	{field: domain.FieldPhone, tag: "len=10,number", key: "validation.phone_invalid"},
	{field: domain.FieldEmail, tag: "simpleemail", key: "validation.email_invalid"},
	{field: domain.FieldDOB, tag: "notblank", key: "validation.dob_required"},
	{field: domain.FieldLocation, tag: "notblank", key: "validation.location_required"},
	{field: domain.FieldLoanAmount, tag: "notblank", key: "validation.loan_amount_required"},
	{field: domain.FieldHasOtherLoan, tag: "oneof=Yes No", key: "validation.has_other_loan_invalid"},
	{
		field: domain.FieldOtherLoanAmount,
		tag:   "notblank",
		key:   "validation.other_loan_amount_required",
		when:  domain.FormState.HasOtherLoan,
	},
}

// Engine evaluates the form rules. It is safe for concurrent use.
type Engine struct {
	validate *validator.Validate
}

// New builds an Engine with the custom tags registered.
func New() *Engine {
	v := validator.New()
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("simpleemail", func(fl validator.FieldLevel) bool {
		return IsSimpleEmail(fl.Field().String())
	})
	return &Engine{validate: v}
}

var defaultEngine = New()

// Validate checks form with English messages.
func Validate(form domain.FormState) domain.ValidationErrors {
	return defaultEngine.Validate(form)
}

// Validate checks form with English messages.
func (e *Engine) Validate(form domain.FormState) domain.ValidationErrors {
	return e.ValidateLocalized(i18n.DefaultLocale, form)
}

// ValidateLocalized checks form and renders messages in locale. The result
// only depends on form and locale.
func (e *Engine) ValidateLocalized(locale string, form domain.FormState) domain.ValidationErrors {
	loc := i18n.NewLocalizer(locale)
	errs := domain.ValidationErrors{}

	for _, r := range rules {
		if r.when != nil && !r.when(form) {
			continue
		}
		if err := e.validate.Var(form.Get(r.field), r.tag); err != nil {
			errs[r.field] = loc.T(r.key)
		}
	}

	return errs
}

// IsSimpleEmail accepts local@domain.tld: one '@', a non-empty local part,
// and a domain of at least two non-empty dot-separated labels. Whitespace
// anywhere is rejected.
func IsSimpleEmail(s string) bool {
	if strings.ContainsAny(s, " \t\r\n") {
		return false
	}

	local, domainPart, ok := strings.Cut(s, "@")
	if !ok || local == "" || strings.Contains(domainPart, "@") {
		return false
	}

	labels := strings.Split(domainPart, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" {
			return false
		}
	}
	return true
}
