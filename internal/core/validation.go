package core

// validation.go converts a MappedRow into a typed Record.
//
// Validation never short-circuits: every field is checked and every problem
// is reported, so a user fixing a row sees all of its issues at once.

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RowPolicy carries caller choices that change validation outcomes.
type RowPolicy struct {
	// AutoCreateCategories turns unresolved required category references into
	// pending references instead of errors.
	AutoCreateCategories bool
}

// RowValidator validates rows of one schema against one reference index.
type RowValidator struct {
	schema *Schema
	refs   *ReferenceIndex
	policy RowPolicy
}

// NewRowValidator creates a validator. A nil index behaves as an empty one.
func NewRowValidator(schema *Schema, refs *ReferenceIndex, policy RowPolicy) *RowValidator {
	if refs == nil {
		refs = NewReferenceIndex(nil, nil)
	}
	return &RowValidator{schema: schema, refs: refs, policy: policy}
}

// ValidateRow validates one mapped row. See RowValidator.ValidateRow.
func ValidateRow(row MappedRow, schema *Schema, refs *ReferenceIndex, policy RowPolicy) (Record, FieldErrors) {
	return NewRowValidator(schema, refs, policy).ValidateRow(row)
}

// ValidateRow returns the typed record, or every field error found.
// A record is only meaningful when the error list is empty.
func (v *RowValidator) ValidateRow(row MappedRow) (Record, FieldErrors) {
	rec := Record{Entity: v.schema.Entity, Values: make(map[string]any, len(v.schema.Fields))}
	perField := make([]FieldErrors, len(v.schema.Fields))

	// References may depend on enum fields (a category's type), so they run last.
	for i, f := range v.schema.Fields {
		if f.Kind == KindReference {
			continue
		}
		perField[i] = v.validateField(f, row[f.Name], rec)
	}
	for i, f := range v.schema.Fields {
		if f.Kind != KindReference {
			continue
		}
		perField[i] = v.validateReference(f, row[f.Name], rec)
	}

	var errs FieldErrors
	for _, fe := range perField {
		errs = append(errs, fe...)
	}
	errs = append(errs, v.checkRules(rec)...)

	if len(errs) > 0 {
		return Record{}, errs
	}

	rec.NaturalKey = naturalKey(v.schema, rec)
	return rec, nil
}

func (v *RowValidator) validateField(f FieldSpec, raw string, rec Record) FieldErrors {
	value := strings.TrimSpace(raw)

	if value == "" {
		if f.Required {
			return fieldErr(f, "%s is required", f.DisplayName())
		}
		if f.Kind == KindEnum && f.Default != "" {
			rec.Values[f.Name] = f.Default
		}
		return nil
	}

	switch f.Kind {
	case KindNumber:
		d, err := ParseAmount(value)
		if err != nil {
			return fieldErr(f, "%s must be a valid number", f.DisplayName())
		}
		if msg := checkMin(f, d); msg != "" {
			return FieldErrors{{Field: f.Name, Message: msg}}
		}
		rec.Values[f.Name] = d

	case KindDate:
		t, err := ParseDate(value)
		if err != nil {
			return fieldErr(f, "%s must be a date in %s format", f.DisplayName(), DateFormatsHint)
		}
		rec.Values[f.Name] = t

	case KindEnum:
		canonical, ok := MatchEnum(value, f.Enum)
		if !ok {
			return fieldErr(f, "%s must be one of: %s", f.DisplayName(), strings.Join(f.EnumValues(), ", "))
		}
		rec.Values[f.Name] = canonical

	default:
		rec.Values[f.Name] = value
	}
	return nil
}

func checkMin(f FieldSpec, d decimal.Decimal) string {
	if f.Min == nil {
		return ""
	}
	min := *f.Min
	switch {
	case f.MinExclusive && d.LessThanOrEqual(min):
		if min.IsZero() {
			return fmt.Sprintf("%s must be a positive number", f.DisplayName())
		}
		return fmt.Sprintf("%s must be greater than %s", f.DisplayName(), min.String())
	case !f.MinExclusive && d.LessThan(min):
		if min.IsZero() {
			return fmt.Sprintf("%s must be zero or greater", f.DisplayName())
		}
		return fmt.Sprintf("%s must be at least %s", f.DisplayName(), min.String())
	}
	return ""
}

func (v *RowValidator) validateReference(f FieldSpec, raw string, rec Record) FieldErrors {
	value := strings.TrimSpace(raw)
	if value == "" {
		if f.Required {
			return fieldErr(f, "%s is required", f.DisplayName())
		}
		return nil
	}

	switch f.Ref {
	case RefAccount:
		if a, ok := v.refs.ResolveAccount(value); ok {
			rec.Values[f.Name] = &RefValue{Kind: RefAccount, ID: a.ID, Name: a.DisplayName()}
			return nil
		}
		if f.Required {
			return fieldErr(f, "%s %q does not match any account", f.DisplayName(), value)
		}
		return nil

	case RefCategory:
		typ := f.RefType
		if f.RefTypeField != "" {
			t, ok := rec.Values[f.RefTypeField].(string)
			if !ok {
				// The type field already reported its own error.
				return nil
			}
			typ = t
		}
		if c, ok := v.refs.ResolveCategory(value, typ); ok {
			rec.Values[f.Name] = &RefValue{Kind: RefCategory, ID: c.ID, Name: c.Name, Type: c.Type}
			return nil
		}
		if !f.Required {
			return nil
		}
		if f.AutoCreate || v.policy.AutoCreateCategories {
			rec.Values[f.Name] = &RefValue{Kind: RefCategory, Name: value, Type: typ, Pending: true}
			return nil
		}
		return fieldErr(f, "%s %q does not match any %s category", f.DisplayName(), value, strings.ToLower(typ))
	}

	return fieldErr(f, "%s has an unsupported reference kind %q", f.DisplayName(), f.Ref)
}

func (v *RowValidator) checkRules(rec Record) FieldErrors {
	var errs FieldErrors
	for _, rule := range v.schema.Rules {
		start, okStart := rec.Values[rule.Start].(time.Time)
		end, okEnd := rec.Values[rule.End].(time.Time)
		if !okStart || !okEnd {
			continue
		}
		if !end.After(start) {
			errs = append(errs, FieldError{Field: rule.End, Message: rule.Message})
		}
	}
	return errs
}

func fieldErr(f FieldSpec, format string, args ...any) FieldErrors {
	return FieldErrors{{Field: f.Name, Message: fmt.Sprintf(format, args...)}}
}

// naturalKey joins the folded natural key values, or returns "" for
// insert-only schemas.
func naturalKey(s *Schema, rec Record) string {
	if len(s.NaturalKey) == 0 {
		return ""
	}
	parts := make([]string, len(s.NaturalKey))
	for i, name := range s.NaturalKey {
		switch val := rec.Values[name].(type) {
		case *RefValue:
			parts[i] = strings.ToLower(val.Name)
		case string:
			parts[i] = strings.ToLower(val)
		case decimal.Decimal:
			parts[i] = val.String()
		case time.Time:
			parts[i] = val.Format(isoDate)
		}
	}
	return strings.Join(parts, "|")
}
