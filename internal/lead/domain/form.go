package domain

import "sort"

// Form field keys
const (
	FieldClientName      = "clientName"
	FieldPhone           = "phone"
	FieldEmail           = "email"
	FieldDOB             = "dob"
	FieldLocation        = "location"
	FieldLoanAmount      = "loanAmount"
	FieldHasOtherLoan    = "hasOtherLoan"
	FieldOtherLoanAmount = "otherLoanAmount"
)

// Values accepted for hasOtherLoan.
const (
	Yes = "Yes"
	No  = "No"
)

// Fields lists every form field in display order.
var Fields = []string{
	FieldClientName,
	FieldPhone,
	FieldEmail,
	FieldDOB,
	FieldLocation,
	FieldLoanAmount,
	FieldHasOtherLoan,
	FieldOtherLoanAmount,
}

// IsField reports whether name is a known form field.
func IsField(name string) bool {
	for _, f := range Fields {
		if f == name {
			return true
		}
	}
	return false
}

// FormState is the flat field -> value map of one lead application.
// Treat it as a value: With and Merge return new maps and never touch the
// receiver.
type FormState map[string]string

// NewFormState returns an empty form.
func NewFormState() FormState {
	return FormState{}
}

// Get returns the value of field, or "" when unset.
func (f FormState) Get(field string) string {
	return f[field]
}

// With returns a copy of f with field set to value.
func (f FormState) With(field, value string) FormState {
	next := f.Clone()
	next[field] = value
	return next
}

// Merge returns a copy of f with every entry of fields applied.
func (f FormState) Merge(fields map[string]string) FormState {
	next := f.Clone()
	for k, v := range fields {
		next[k] = v
	}
	return next
}

// Clone returns an independent copy.
func (f FormState) Clone() FormState {
	next := make(FormState, len(f))
	for k, v := range f {
		next[k] = v
	}
	return next
}

// HasOtherLoan reports whether the applicant declared an existing loan.
func (f FormState) HasOtherLoan() bool {
	return f[FieldHasOtherLoan] == Yes
}

// ValidationErrors maps a field to its error message. A field missing from
// the map is valid.
type ValidationErrors map[string]string

// Valid reports whether no field failed.
func (v ValidationErrors) Valid() bool {
	return len(v) == 0
}

// Fields returns the failing field names, sorted.
func (v ValidationErrors) Fields() []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
