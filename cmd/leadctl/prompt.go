package main

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
)

var errDeclined = errors.New("declined")

// prompter asks the operator for missing input.
type prompter interface {
	// Field asks for one form field. check returns a message for an
	// unacceptable answer, "" otherwise.
	Field(field, current, problem string, check func(string) string) (string, error)
	Confirm(message string) (bool, error)
}

var fieldLabels = map[string]string{
	domain.FieldClientName:      "Client name",
	domain.FieldLocation:        "Location",
	domain.FieldDOB:             "Date of birth",
	domain.FieldLoanAmount:      "Loan amount",
	domain.FieldPhone:           "Phone number",
	domain.FieldEmail:           "Email",
	domain.FieldHasOtherLoan:    "Any existing loan?",
	domain.FieldOtherLoanAmount: "Existing loan amount",
}

type surveyPrompter struct{}

func (surveyPrompter) Field(field, current, problem string, check func(string) string) (string, error) {
	validator := survey.WithValidator(func(ans interface{}) error {
		var s string
		switch v := ans.(type) {
		case string:
			s = v
		case survey.OptionAnswer:
			s = v.Value
		}
		if msg := check(s); msg != "" {
			return errors.New(msg)
		}
		return nil
	})

	var out string
	var prompt survey.Prompt
	if field == domain.FieldHasOtherLoan {
		prompt = &survey.Select{
			Message: fieldLabels[field],
			Options: []string{domain.No, domain.Yes},
		}
	} else {
		prompt = &survey.Input{
			Message: fieldLabels[field],
			Default: current,
			Help:    problem,
		}
	}

	if err := survey.AskOne(prompt, &out, validator); err != nil {
		return "", err
	}
	return out, nil
}

func (surveyPrompter) Confirm(message string) (bool, error) {
	var out bool
	if err := survey.AskOne(&survey.Confirm{Message: message, Default: true}, &out); err != nil {
		return false, err
	}
	return out, nil
}

// autoPrompter answers yes to every confirmation and cannot fill fields.
type autoPrompter struct{}

func (autoPrompter) Field(field, current, problem string, check func(string) string) (string, error) {
	return "", fmt.Errorf("%s: %s", field, problem)
}

func (autoPrompter) Confirm(string) (bool, error) {
	return true, nil
}
