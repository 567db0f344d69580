package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityKind names an importable record type.
type EntityKind string

const (
	EntityBudget     EntityKind = "budget"
	EntityExpense    EntityKind = "expense"
	EntityDebt       EntityKind = "debt"
	EntityInvestment EntityKind = "investment"
	EntityPassword   EntityKind = "password"
)

// FieldKind determines how a mapped value is converted and validated.
type FieldKind string

const (
	KindString    FieldKind = "string"
	KindNumber    FieldKind = "number"
	KindDate      FieldKind = "date"
	KindEnum      FieldKind = "enum"
	KindReference FieldKind = "reference"
)

// RefKind is the entity a reference field points at.
type RefKind string

const (
	RefCategory RefKind = "category"
	RefAccount  RefKind = "account"
)

// EnumValue is one canonical enum value and the spellings accepted for it.
type EnumValue struct {
	Value   string
	Aliases []string
}

// FieldSpec describes one canonical field of a schema.
type FieldSpec struct {
	Name     string
	Label    string
	Required bool
	Kind     FieldKind

	// Aliases are alternative header spellings, in priority order.
	Aliases []string

	// Min bounds numeric fields. MinExclusive makes the bound strict.
	Min          *decimal.Decimal
	MinExclusive bool

	Enum    []EnumValue
	Default string

	// Ref is set for reference fields. Category references take their type
	// either from RefType or from the value of RefTypeField.
	Ref          RefKind
	RefType      string
	RefTypeField string

	// AutoCreate lets a missing category be created at persist time.
	AutoCreate bool

	// Sensitive values are masked in results and never logged.
	Sensitive bool
}

// DisplayName returns the label used in messages.
func (f FieldSpec) DisplayName() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// EnumValues returns the canonical enum values in declaration order.
func (f FieldSpec) EnumValues() []string {
	out := make([]string, len(f.Enum))
	for i, e := range f.Enum {
		out[i] = e.Value
	}
	return out
}

// DateOrderRule requires End to be strictly after Start when both are present.
type DateOrderRule struct {
	Start   string
	End     string
	Message string
}

// Schema is the declarative description of one importable entity.
type Schema struct {
	Entity      EntityKind
	Label       string
	Description string
	Fields      []FieldSpec
	Rules       []DateOrderRule

	// NaturalKey fields identify a record for upserts. Empty means insert-only.
	NaturalKey []string

	// ReconcileCategories hides categories absent from a successful import.
	ReconcileCategories bool

	// Sample rows are served as the downloadable template.
	Sample [][]string
}

// Field returns the spec for a canonical field name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// RequiredFields returns the required field specs in schema order.
func (s *Schema) RequiredFields() []FieldSpec {
	var out []FieldSpec
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// TemplateHeader returns the header row used for templates.
func (s *Schema) TemplateHeader() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.DisplayName()
	}
	return out
}

// RawTable is the tokenized input. Row 0 is the header.
type RawTable [][]string

// Header returns the header row, or nil for an empty table.
func (t RawTable) Header() []string {
	if len(t) == 0 {
		return nil
	}
	return t[0]
}

// DataRows returns every row after the header.
func (t RawTable) DataRows() [][]string {
	if len(t) < 2 {
		return nil
	}
	return t[1:]
}

// MappedRow holds the string value of each canonical field for one row.
type MappedRow map[string]string

// Clone returns an independent copy.
func (m MappedRow) Clone() MappedRow {
	out := make(MappedRow, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Category is a user category. Its natural key is name plus type.
type Category struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Hidden bool   `json:"hidden"`
}

// Account is a bank account a record may reference.
type Account struct {
	ID     string `json:"id"`
	Holder string `json:"holder"`
	Bank   string `json:"bank"`
	Number string `json:"number"`
}

// DisplayName returns the "<holder> - <bank>" form users see and export.
func (a Account) DisplayName() string {
	return a.Holder + " - " + a.Bank
}

// RefValue is a resolved reference. Pending categories are created when the
// record is persisted.
type RefValue struct {
	Kind    RefKind `json:"kind"`
	ID      string  `json:"id,omitempty"`
	Name    string  `json:"name"`
	Type    string  `json:"type,omitempty"`
	Pending bool    `json:"pending,omitempty"`
}

// Record is a fully validated row ready to persist.
// Values hold string, decimal.Decimal, time.Time or *RefValue.
type Record struct {
	Entity     EntityKind
	NaturalKey string
	Values     map[string]any
}

// String returns a string value, or "" when absent.
func (r Record) String(name string) string {
	s, _ := r.Values[name].(string)
	return s
}

// Decimal returns a numeric value.
func (r Record) Decimal(name string) (decimal.Decimal, bool) {
	d, ok := r.Values[name].(decimal.Decimal)
	return d, ok
}

// Date returns a date value.
func (r Record) Date(name string) (time.Time, bool) {
	t, ok := r.Values[name].(time.Time)
	return t, ok
}

// Ref returns a reference value, or nil when absent.
func (r Record) Ref(name string) *RefValue {
	ref, _ := r.Values[name].(*RefValue)
	return ref
}

// Clone copies the values map and every reference so persistence can fill in
// ids without touching the original.
func (r Record) Clone() Record {
	out := Record{Entity: r.Entity, NaturalKey: r.NaturalKey, Values: make(map[string]any, len(r.Values))}
	for k, v := range r.Values {
		if ref, ok := v.(*RefValue); ok {
			cp := *ref
			v = &cp
		}
		out.Values[k] = v
	}
	return out
}

// Plain returns the values as JSON-friendly primitives: decimals as strings,
// dates as YYYY-MM-DD and references as their id.
func (r Record) Plain() map[string]any {
	out := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		switch val := v.(type) {
		case decimal.Decimal:
			out[k] = val.String()
		case time.Time:
			out[k] = val.Format(isoDate)
		case *RefValue:
			out[k] = val.ID
		default:
			out[k] = val
		}
	}
	return out
}

// FieldError is one problem with one field of one row.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors collects every problem found in a row.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

// For returns the errors reported for one field.
func (e FieldErrors) For(field string) []string {
	var out []string
	for _, fe := range e {
		if fe.Field == field {
			out = append(out, fe.Message)
		}
	}
	return out
}

// RowError is one entry of ImportResult.Errors.
type RowError struct {
	Row   int               `json:"row"`
	Error string            `json:"error"`
	Data  map[string]string `json:"data,omitempty"`
}

// ImportResult summarizes a run. Row numbers are 1-based with the header as row 1.
type ImportResult struct {
	RunID         string     `json:"runId,omitempty"`
	Success       bool       `json:"success"`
	ImportedCount int        `json:"importedCount"`
	SkippedCount  int        `json:"skippedCount"`
	Errors        []RowError `json:"errors"`
}
