// Package validation provides declarative field constraint sets for workflow
// steps. Each rule yields at most one field error; a field's rules are applied
// in order and evaluation stops at the first failure for that field.
package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/pitabwire/onboard/model"
)

// Rule error codes.
const (
	CodeRequired  = "REQUIRED"
	CodeEmail     = "EMAIL"
	CodeMaxLen    = "MAX_LENGTH"
	CodeMinLen    = "MIN_LENGTH"
	CodeConfirmed = "CONFIRMED"
)

// Rule checks a single constraint on a field value. The full field map is
// available for cross-field rules such as Confirmed.
type Rule interface {
	Apply(field, value string, fields map[string]string) *model.FieldError
}

// FieldRules binds an ordered rule list to one field name.
type FieldRules struct {
	Field string
	Rules []Rule
}

// RuleSet is the constraint set for one workflow step.
type RuleSet []FieldRules

// Validate applies the rule set to the submitted fields and returns all
// field-level failures. An empty result means the step input is valid.
func (rs RuleSet) Validate(fields map[string]string) []model.FieldError {
	var errs []model.FieldError
	for _, fr := range rs {
		value := strings.TrimSpace(fields[fr.Field])
		for _, rule := range fr.Rules {
			if fe := rule.Apply(fr.Field, value, fields); fe != nil {
				errs = append(errs, *fe)
				break
			}
		}
	}
	return errs
}

// Fields returns the field names the rule set covers, in declaration order.
func (rs RuleSet) Fields() []string {
	names := make([]string, 0, len(rs))
	for _, fr := range rs {
		names = append(names, fr.Field)
	}
	return names
}

// --- Rules ---

// Required rejects empty values.
type Required struct{}

func (Required) Apply(field, value string, _ map[string]string) *model.FieldError {
	if value == "" {
		return &model.FieldError{
			Field:   field,
			Code:    CodeRequired,
			Message: fmt.Sprintf("The %s field is required.", humanize(field)),
		}
	}
	return nil
}

// Email rejects values that are not a plain RFC 5322 address.
type Email struct{}

func (Email) Apply(field, value string, _ map[string]string) *model.FieldError {
	if value == "" {
		return nil
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return &model.FieldError{
			Field:   field,
			Code:    CodeEmail,
			Message: fmt.Sprintf("The %s must be a valid email address.", humanize(field)),
		}
	}
	return nil
}

// MaxLen rejects values longer than N characters.
type MaxLen struct{ N int }

func (r MaxLen) Apply(field, value string, _ map[string]string) *model.FieldError {
	if value == "" || utf8.RuneCountInString(value) <= r.N {
		return nil
	}
	return &model.FieldError{
		Field:   field,
		Code:    CodeMaxLen,
		Message: fmt.Sprintf("The %s may not be greater than %d characters.", humanize(field), r.N),
	}
}

// MinLen rejects values shorter than N characters.
type MinLen struct{ N int }

func (r MinLen) Apply(field, value string, _ map[string]string) *model.FieldError {
	if value == "" || utf8.RuneCountInString(value) >= r.N {
		return nil
	}
	return &model.FieldError{
		Field:   field,
		Code:    CodeMinLen,
		Message: fmt.Sprintf("The %s must be at least %d characters.", humanize(field), r.N),
	}
}

// Confirmed rejects values whose "<field>_confirmation" counterpart differs.
type Confirmed struct{}

func (Confirmed) Apply(field, value string, fields map[string]string) *model.FieldError {
	if value == "" {
		return nil
	}
	if fields[field+"_confirmation"] != value {
		return &model.FieldError{
			Field:   field,
			Code:    CodeConfirmed,
			Message: fmt.Sprintf("The %s confirmation does not match.", humanize(field)),
		}
	}
	return nil
}

// humanize turns a snake_case field name into the form used in messages.
func humanize(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}
