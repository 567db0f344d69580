// Package schema declares the importable entities.
//
// Schemas are configuration data, not code: the built-in set lives in
// defaults.yaml and a deployment may replace or add entities with its own
// YAML file. Every document is validated before it reaches the engine.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/finimport/internal/core"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type document struct {
	Entities []entityDoc `yaml:"entities" validate:"required,min=1,dive"`
}

type entityDoc struct {
	Entity              string     `yaml:"entity" validate:"required,lowercase"`
	Label               string     `yaml:"label" validate:"required"`
	Description         string     `yaml:"description"`
	NaturalKey          []string   `yaml:"naturalKey"`
	ReconcileCategories bool       `yaml:"reconcileCategories"`
	Fields              []fieldDoc `yaml:"fields" validate:"required,min=1,dive"`
	Rules               []ruleDoc  `yaml:"rules" validate:"dive"`
	Sample              [][]string `yaml:"sample"`
}

type fieldDoc struct {
	Name         string    `yaml:"name" validate:"required,alphanum"`
	Label        string    `yaml:"label" validate:"required"`
	Kind         string    `yaml:"kind" validate:"required,oneof=string number date enum reference"`
	Required     bool      `yaml:"required"`
	Aliases      []string  `yaml:"aliases"`
	Min          *string   `yaml:"min" validate:"omitempty,numeric"`
	MinExclusive bool      `yaml:"minExclusive"`
	Enum         []enumDoc `yaml:"enum" validate:"dive"`
	Default      string    `yaml:"default"`
	Ref          string    `yaml:"ref" validate:"omitempty,oneof=category account"`
	RefType      string    `yaml:"refType"`
	RefTypeField string    `yaml:"refTypeField"`
	AutoCreate   bool      `yaml:"autoCreate"`
	Sensitive    bool      `yaml:"sensitive"`
}

type enumDoc struct {
	Value   string   `yaml:"value" validate:"required"`
	Aliases []string `yaml:"aliases"`
}

type ruleDoc struct {
	Start   string `yaml:"start" validate:"required"`
	End     string `yaml:"end" validate:"required"`
	Message string `yaml:"message" validate:"required"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Parse decodes and validates a schema document.
func Parse(data []byte) ([]*core.Schema, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode schema yaml: %w", err)
	}
	if err := structValidator().Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}

	seen := make(map[string]bool, len(doc.Entities))
	out := make([]*core.Schema, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		if seen[e.Entity] {
			return nil, fmt.Errorf("entity %q declared twice", e.Entity)
		}
		seen[e.Entity] = true

		s, err := e.build()
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", e.Entity, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// build converts a validated document entry and checks cross-field references.
func (e entityDoc) build() (*core.Schema, error) {
	s := &core.Schema{
		Entity:              core.EntityKind(e.Entity),
		Label:               e.Label,
		Description:         e.Description,
		NaturalKey:          e.NaturalKey,
		ReconcileCategories: e.ReconcileCategories,
		Sample:              e.Sample,
	}

	kinds := make(map[string]string, len(e.Fields))
	var errs []error
	for _, f := range e.Fields {
		if _, dup := kinds[f.Name]; dup {
			errs = append(errs, fmt.Errorf("field %q declared twice", f.Name))
			continue
		}
		kinds[f.Name] = f.Kind

		spec, err := f.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", f.Name, err))
			continue
		}
		s.Fields = append(s.Fields, spec)
	}

	byName := make(map[string]core.FieldSpec, len(s.Fields))
	for _, f := range s.Fields {
		byName[f.Name] = f
	}
	for _, f := range s.Fields {
		if f.RefTypeField == "" {
			continue
		}
		if kinds[f.RefTypeField] != string(core.KindEnum) {
			errs = append(errs, fmt.Errorf("field %q: refTypeField %q must name an enum field", f.Name, f.RefTypeField))
			continue
		}
		// A required reference needs a type on every row.
		if target, ok := byName[f.RefTypeField]; ok && f.Required && !target.Required && target.Default == "" {
			errs = append(errs, fmt.Errorf("field %q: refTypeField %q must be required or have a default", f.Name, f.RefTypeField))
		}
	}
	for _, name := range e.NaturalKey {
		if _, ok := kinds[name]; !ok {
			errs = append(errs, fmt.Errorf("naturalKey names unknown field %q", name))
		}
	}
	for _, r := range e.Rules {
		if kinds[r.Start] != string(core.KindDate) || kinds[r.End] != string(core.KindDate) {
			errs = append(errs, fmt.Errorf("rule %s < %s must compare two date fields", r.Start, r.End))
			continue
		}
		s.Rules = append(s.Rules, core.DateOrderRule{Start: r.Start, End: r.End, Message: r.Message})
	}
	for i, row := range e.Sample {
		if len(row) != len(e.Fields) {
			errs = append(errs, fmt.Errorf("sample row %d has %d cells, want %d", i+1, len(row), len(e.Fields)))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

func (f fieldDoc) build() (core.FieldSpec, error) {
	spec := core.FieldSpec{
		Name:         f.Name,
		Label:        f.Label,
		Required:     f.Required,
		Kind:         core.FieldKind(f.Kind),
		Aliases:      f.Aliases,
		MinExclusive: f.MinExclusive,
		Default:      f.Default,
		Ref:          core.RefKind(f.Ref),
		RefType:      strings.ToUpper(f.RefType),
		RefTypeField: f.RefTypeField,
		AutoCreate:   f.AutoCreate,
		Sensitive:    f.Sensitive,
	}

	if f.Min != nil {
		if spec.Kind != core.KindNumber {
			return spec, errors.New("min is only valid on number fields")
		}
		d, err := decimal.NewFromString(*f.Min)
		if err != nil {
			return spec, fmt.Errorf("min: %w", err)
		}
		spec.Min = &d
	}

	if spec.Kind == core.KindEnum && len(f.Enum) == 0 {
		return spec, errors.New("enum fields need at least one value")
	}
	if spec.Kind == core.KindReference && spec.Ref == "" {
		return spec, errors.New("reference fields need ref")
	}
	for _, ev := range f.Enum {
		spec.Enum = append(spec.Enum, core.EnumValue{Value: ev.Value, Aliases: ev.Aliases})
	}
	if f.Default != "" {
		canonical, ok := core.MatchEnum(f.Default, spec.Enum)
		if spec.Kind != core.KindEnum || !ok {
			return spec, fmt.Errorf("default %q is not one of the enum values", f.Default)
		}
		if f.Required {
			return spec, errors.New("default is only used by optional fields")
		}
		spec.Default = canonical
	}

	if spec.Ref == core.RefCategory && spec.RefType == "" && spec.RefTypeField == "" {
		return spec, errors.New("category references need refType or refTypeField")
	}
	if f.AutoCreate && spec.Ref != core.RefCategory {
		return spec, errors.New("autoCreate is only supported for category references")
	}
	return spec, nil
}

// Registry holds the schemas known to a process.
type Registry struct {
	mu      sync.RWMutex
	schemas map[core.EntityKind]*core.Schema
	order   []core.EntityKind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[core.EntityKind]*core.Schema)}
}

// Load returns a registry with the built-in schemas, overridden by the
// entities in overridePath when it is not empty.
func Load(overridePath string) (*Registry, error) {
	r := NewRegistry()

	defaults, err := Parse(defaultsYAML)
	if err != nil {
		return nil, fmt.Errorf("built-in schemas: %w", err)
	}
	for _, s := range defaults {
		r.Register(s)
	}

	if overridePath == "" {
		return r, nil
	}
	data, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	overrides, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", overridePath, err)
	}
	for _, s := range overrides {
		r.Register(s)
	}
	return r, nil
}

// Register adds or replaces a schema.
func (r *Registry) Register(s *core.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Entity]; !exists {
		r.order = append(r.order, s.Entity)
	}
	r.schemas[s.Entity] = s
}

// Schema returns the schema for entity.
func (r *Registry) Schema(entity core.EntityKind) (*core.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[core.EntityKind(strings.ToLower(string(entity)))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownEntity, entity)
	}
	return s, nil
}

// Schemas returns every schema in registration order.
func (r *Registry) Schemas() []*core.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.Schema, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, r.schemas[e])
	}
	return out
}

// Entities returns the registered entity names, sorted.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, string(e))
	}
	sort.Strings(out)
	return out
}

// TemplateCSV renders the schema's header and sample rows as CSV.
func TemplateCSV(s *core.Schema) string {
	rows := make([][]string, 0, len(s.Sample)+1)
	rows = append(rows, s.TemplateHeader())
	rows = append(rows, s.Sample...)
	return core.Serialize(rows) + "\n"
}
